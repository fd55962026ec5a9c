package handlers

import (
	"net/http"
	"time"

	"github.com/nkiryanov/depositledger/internal/handlers/render"
	"github.com/nkiryanov/depositledger/internal/handlers/userctx"
	"github.com/nkiryanov/depositledger/internal/logger"
)

func handleUser(depositService depositService, l logger.Logger) http.Handler {
	type transaction struct {
		ID          string    `json:"txId"`
		DepositID   string    `json:"depositId"`
		Kind        string    `json:"kind"`
		Amount      string    `json:"amount"`
		AmountMinor int64     `json:"amountMinor"`
		RecordedAt  time.Time `json:"recordedAt"`
	}

	type response struct {
		ID           string            `json:"uid"`
		Balance      string            `json:"balance"`
		BalanceMinor int64             `json:"balanceMinor"`
		Transactions []transaction     `json:"transactions"`
		Deposits     []depositResponse `json:"deposits"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		summary, err := depositService.Summary(r.Context(), user.ID)
		if err != nil {
			l.Error("Failed to get user summary", "error", err)
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		resp := response{
			ID:           user.ID,
			Balance:      toMajorUnits(summary.Balance),
			BalanceMinor: summary.Balance,
			Transactions: make([]transaction, 0, len(summary.Transactions)),
			Deposits:     make([]depositResponse, 0, len(summary.Deposits)),
		}
		for _, t := range summary.Transactions {
			resp.Transactions = append(resp.Transactions, transaction{
				ID:          t.ID,
				DepositID:   t.DepositID,
				Kind:        t.Kind,
				Amount:      toMajorUnits(t.Amount),
				AmountMinor: t.Amount,
				RecordedAt:  t.RecordedAt,
			})
		}
		for _, d := range summary.Deposits {
			resp.Deposits = append(resp.Deposits, newDepositResponse(d))
		}

		render.JSON(w, resp)
	})
}
