package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nkiryanov/depositledger/internal/apperrors"
	"github.com/nkiryanov/depositledger/internal/handlers/render"
	"github.com/nkiryanov/depositledger/internal/handlers/userctx"
	"github.com/nkiryanov/depositledger/internal/logger"
	"github.com/nkiryanov/depositledger/internal/models"
)

type depositResponse struct {
	ID          string               `json:"depositId"`
	Reference   string               `json:"reference"`
	Amount      string               `json:"amount"`
	AmountMinor int64                `json:"amountMinor"`
	Status      models.DepositStatus `json:"status"`
	CreatedAt   time.Time            `json:"createdAt"`
	UpdatedAt   time.Time            `json:"updatedAt"`
}

func newDepositResponse(d models.Deposit) depositResponse {
	return depositResponse{
		ID:          d.ID,
		Reference:   d.Reference,
		Amount:      toMajorUnits(d.Amount),
		AmountMinor: d.Amount,
		Status:      d.Status,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

func handleCreateDeposit(depositService depositService, l logger.Logger) http.Handler {
	type request struct {
		Amount decimal.Decimal `json:"amount" validate:"money"`
		Email  string          `json:"email" validate:"omitempty,email"`
	}

	type response struct {
		depositResponse
		AuthorizationURL string `json:"authorizationUrl"`
		AccessCode       string `json:"accessCode"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		amount, err := toMinorUnits(req.Amount)
		if err != nil {
			render.ServiceError(w, "Invalid amount", http.StatusUnprocessableEntity)
			return
		}

		email := req.Email
		if email == "" {
			email = user.Email
		}

		created, err := depositService.Create(r.Context(), user.ID, email, amount)

		switch {
		case err == nil:
			w.Header().Set("Location", "/api/deposits/"+created.Deposit.ID)
			render.JSONWithStatus(w, response{
				depositResponse:  newDepositResponse(created.Deposit),
				AuthorizationURL: created.AuthorizationURL,
				AccessCode:       created.AccessCode,
			}, http.StatusCreated)
		case errors.Is(err, apperrors.ErrInvalidAmount):
			render.ServiceError(w, "Invalid amount", http.StatusUnprocessableEntity)
		case errors.Is(err, apperrors.ErrGatewayUnavailable):
			render.ServiceError(w, "Failed to initialize payment", http.StatusBadGateway)
		default:
			l.Error("Failed to create deposit", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleListDeposits(depositService depositService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		deposits, err := depositService.List(r.Context(), user.ID)
		if err != nil {
			l.Error("Failed to list deposits", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]depositResponse, 0, len(deposits))
		for _, d := range deposits {
			resp = append(resp, newDepositResponse(d))
		}
		render.JSON(w, resp)
	})
}

func handleGetDeposit(depositService depositService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		d, err := depositService.Get(r.Context(), user.ID, r.PathValue("id"))

		switch {
		case err == nil:
			render.JSON(w, newDepositResponse(d))
		case errors.Is(err, apperrors.ErrDepositNotFound):
			render.ServiceError(w, "Deposit not found", http.StatusNotFound)
		default:
			l.Error("Failed to get deposit", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
