package handlers

import (
	"context"
	"net/http"

	"github.com/nkiryanov/depositledger/internal/handlers/middleware"
	"github.com/nkiryanov/depositledger/internal/logger"
	"github.com/nkiryanov/depositledger/internal/models"
	"github.com/nkiryanov/depositledger/internal/service/deposit"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(
	authService authService,
	depositService depositService,
	reconciler reconciler,
	logger logger.Logger,
) http.Handler {
	withAuth := middleware.AuthMiddleware(authService)

	api := http.NewServeMux()

	api.Handle("POST /deposits", withAuth(handleCreateDeposit(depositService, logger)))
	api.Handle("GET /deposits", withAuth(handleListDeposits(depositService, logger)))
	api.Handle("GET /deposits/{id}", withAuth(handleGetDeposit(depositService, logger)))
	api.Handle("POST /deposits/verify", withAuth(handleVerifyDeposit(reconciler, logger)))
	api.Handle("GET /user", withAuth(handleUser(depositService, logger)))

	// Gateway authenticates itself by signing the body
	api.Handle("POST /webhooks/paystack", handlePaystackWebhook(reconciler, logger))

	root := http.NewServeMux()
	root.Handle("/api/", http.StripPrefix("/api", withRoute(api)))

	handler := chain(root,
		middleware.LoggerMiddleware(logger),
	)

	return handler
}

// Put matched route pattern into the access log
func withRoute(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, pattern := mux.Handler(r); pattern != "" {
			middleware.Annotate(r.Context(), "route", pattern)
		}
		mux.ServeHTTP(w, r)
	})
}

type authService interface {
	// Get request and return user if it authenticated or error
	Auth(ctx context.Context, r *http.Request) (models.User, error)
}

type depositService interface {
	// Create deposit and start gateway payment
	// Has to return apperrors.ErrGatewayUnavailable if deposit created but gateway failed
	Create(ctx context.Context, uid string, email string, amount int64) (deposit.Created, error)

	// Has to return apperrors.ErrDepositNotFound if user has no such deposit
	Get(ctx context.Context, uid string, depositID string) (models.Deposit, error)

	List(ctx context.Context, uid string) ([]models.Deposit, error)
	Summary(ctx context.Context, uid string) (deposit.Summary, error)
}

type reconciler interface {
	HandleWebhook(ctx context.Context, body []byte, signature string) (models.ReconcileResult, error)
	VerifyReference(ctx context.Context, reference string) (models.ReconcileResult, error)
}
