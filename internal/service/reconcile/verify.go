package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/nkiryanov/depositledger/internal/apperrors"
	"github.com/nkiryanov/depositledger/internal/models"
	"github.com/nkiryanov/depositledger/internal/service/gateway"
)

// Ask the gateway for the current state of reference and reconcile with its answer.
//
// Reference is resolved and the deposit read before the outbound call, so unknown
// references and terminal deposits never reach the gateway. The call itself holds
// no lock; its failure is apperrors.ErrUpstreamVerification and changes nothing.
// Gateway not knowing the reference yet is not an error.
// The caller's own claim about the payment is never trusted.
func (c *Coordinator) VerifyReference(ctx context.Context, reference string) (models.ReconcileResult, error) {
	req := models.ReconcileRequest{Reference: reference, Source: models.SourceVerify}

	entry, err := c.resolve(ctx, req)
	if err != nil {
		return models.ReconcileResult{}, err
	}

	snap, err := c.deposits.Get(ctx, entry.UserID, entry.DepositID)
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrDepositNotFound):
		return models.ReconcileResult{}, fmt.Errorf("reference %q: %w", reference, err)
	default:
		return models.ReconcileResult{}, storeError(err)
	}

	if snap.Status.IsTerminal() {
		return models.ReconcileResult{Status: snap.Status}, nil
	}

	verifyCtx, cancel := context.WithTimeout(ctx, c.cfg.VerifyTimeout)
	defer cancel()

	tx, err := c.gateway.Verify(verifyCtx, reference)
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) && gwErr.Code == gateway.CodeNotFound {
		// Payer never reached the gateway: deposit is just still pending
		c.logger.Debug("Gateway has no transaction yet", "reference", reference, "status", snap.Status)
		return models.ReconcileResult{Status: snap.Status}, nil
	}
	if err != nil {
		c.logger.Warn("Gateway verification failed", "reference", reference, "error", err)
		return models.ReconcileResult{Status: snap.Status}, fmt.Errorf("%w: %w", apperrors.ErrUpstreamVerification, err)
	}
	if tx.Reference != "" && tx.Reference != reference {
		c.logger.Error("Gateway answered for another reference", "reference", reference, "gateway_reference", tx.Reference)
		return models.ReconcileResult{Status: snap.Status}, fmt.Errorf("%w: got reference %q", apperrors.ErrUpstreamVerification, tx.Reference)
	}

	req.ReportedStatus = tx.Status
	req.Evidence = tx.Raw

	return c.reconcile(ctx, entry, req)
}
