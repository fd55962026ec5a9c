// Package userctx carries the authenticated caller through request context.
package userctx

import (
	"context"

	"github.com/nkiryanov/depositledger/internal/models"
)

type ctxKey string

const userKey ctxKey = "user"

func New(ctx context.Context, u models.User) context.Context {
	return context.WithValue(ctx, userKey, u)
}

// User set by the auth middleware. False on routes without auth
func FromContext(ctx context.Context) (models.User, bool) {
	u, ok := ctx.Value(userKey).(models.User)
	return u, ok && u.ID != ""
}
