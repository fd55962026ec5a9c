package reconcile

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nkiryanov/depositledger/internal/apperrors"
	"github.com/nkiryanov/depositledger/internal/models"
)

// Gateway webhook body. Only fields the ledger acts on
type webhookPayload struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type webhookData struct {
	Reference string          `json:"reference"`
	Status    string          `json:"status"`
	Amount    int64           `json:"amount"`
	Metadata  json.RawMessage `json:"metadata"`
}

// Authenticate raw webhook body and reconcile the deposit it reports.
//
// Signature is checked on the exact bytes before anything is parsed:
// apperrors.ErrInvalidSignature means nothing was read or written.
// Malformed JSON or missing reference is apperrors.ErrInvalidPayload.
func (c *Coordinator) HandleWebhook(ctx context.Context, body []byte, sig string) (models.ReconcileResult, error) {
	if !c.signature.Verify(body, sig) {
		c.logger.Warn("Rejected webhook with invalid signature", "body_size", len(body))
		return models.ReconcileResult{}, apperrors.ErrInvalidSignature
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return models.ReconcileResult{}, fmt.Errorf("%w: %w", apperrors.ErrInvalidPayload, err)
	}

	var data webhookData
	if len(payload.Data) > 0 {
		if err := json.Unmarshal(payload.Data, &data); err != nil {
			return models.ReconcileResult{}, fmt.Errorf("%w: data: %w", apperrors.ErrInvalidPayload, err)
		}
	}
	if data.Reference == "" {
		return models.ReconcileResult{}, fmt.Errorf("%w: missing reference", apperrors.ErrInvalidPayload)
	}

	c.logger.Debug("Webhook received", "event", payload.Event, "reference", data.Reference, "status", data.Status)

	return c.Reconcile(ctx, models.ReconcileRequest{
		Reference:      data.Reference,
		ReportedStatus: data.Status,
		Evidence:       payload.Data,
		Source:         models.SourceWebhook,
	})
}
