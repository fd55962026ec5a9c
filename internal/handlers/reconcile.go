package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/nkiryanov/depositledger/internal/apperrors"
	"github.com/nkiryanov/depositledger/internal/handlers/render"
	"github.com/nkiryanov/depositledger/internal/logger"
	"github.com/nkiryanov/depositledger/internal/models"
	"github.com/nkiryanov/depositledger/internal/service/signature"
)

const maxWebhookBody = 1 << 20

// Webhook is acknowledged with 2xx unless the gateway should deliver it again
func handlePaystackWebhook(reconciler reconciler, l logger.Logger) http.Handler {
	type response struct {
		Received bool `json:"received"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			render.ServiceError(w, "Failed to read body", http.StatusBadRequest)
			return
		}

		_, err = reconciler.HandleWebhook(r.Context(), body, r.Header.Get(signature.HeaderName))

		switch {
		case err == nil:
			render.JSON(w, response{Received: true})
		case errors.Is(err, apperrors.ErrUnknownReference):
			// Redelivery can't make it known
			render.JSON(w, response{Received: true})
		case errors.Is(err, apperrors.ErrInvalidSignature):
			render.ServiceError(w, "Invalid signature", http.StatusBadRequest)
		case errors.Is(err, apperrors.ErrInvalidPayload):
			render.ServiceError(w, "Invalid payload", http.StatusBadRequest)
		default:
			l.Error("Failed to process webhook", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}

func handleVerifyDeposit(reconciler reconciler, l logger.Logger) http.Handler {
	type request struct {
		Reference string `json:"reference" validate:"required,max=128"`
	}

	type response struct {
		Reference string               `json:"reference"`
		Status    models.DepositStatus `json:"status"`
		Credited  bool                 `json:"credited"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		res, err := reconciler.VerifyReference(r.Context(), req.Reference)

		switch {
		case err == nil:
			render.JSON(w, response{Reference: req.Reference, Status: res.Status, Credited: res.Credited})
		case errors.Is(err, apperrors.ErrUnknownReference):
			render.ServiceError(w, "Unknown reference", http.StatusNotFound)
		case errors.Is(err, apperrors.ErrUpstreamVerification):
			render.ServiceError(w, "Payment gateway unavailable, try again later", http.StatusBadGateway)
		case errors.Is(err, apperrors.ErrStaleWrite):
			render.ServiceError(w, "Deposit is being updated, try again", http.StatusConflict)
		default:
			l.Error("Failed to verify deposit", "error", err, "reference", req.Reference)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
	})
}
