package middleware

import (
	"context"
	"net/http"

	"github.com/nkiryanov/depositledger/internal/handlers/render"
	"github.com/nkiryanov/depositledger/internal/handlers/userctx"
	"github.com/nkiryanov/depositledger/internal/models"
)

type authService interface {
	Auth(ctx context.Context, r *http.Request) (models.User, error)
}

func AuthMiddleware(as authService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := as.Auth(r.Context(), r)
			if err != nil {
				render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			Annotate(r.Context(), "uid", user.ID)
			ctx := userctx.New(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
