package depositprocessor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nkiryanov/depositledger/internal/apperrors"
	"github.com/nkiryanov/depositledger/internal/logger"
	"github.com/nkiryanov/depositledger/internal/models"
	"github.com/nkiryanov/depositledger/internal/service/gateway"
)

type Consumer struct {
	countWorkers int

	// Gateway may rate-limit verification calls
	// If so, workers wait until the time is up
	waitUntil atomic.Int64

	verifier verifier
	logger   logger.Logger
}

func (c *Consumer) Consume(ctx context.Context, in <-chan models.Deposit) <-chan struct{} {
	idleStopped := make(chan struct{})

	var wg sync.WaitGroup
	for range c.countWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.worker(ctx, in)
		}()
	}

	go func() {
		defer close(idleStopped)
		wg.Wait()
		c.logger.Debug("Consumer stopped")
	}()

	return idleStopped
}

func (c *Consumer) worker(ctx context.Context, in <-chan models.Deposit) {
	for {
		// Wait until rate limit is passed or context is done
		waitUntil := time.UnixMilli(c.waitUntil.Load())
		if waitUntil.After(time.Now()) {
			c.logger.Debug("Worker is waiting for rate limit to reset", "wait_until", waitUntil)

			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Until(waitUntil)):
				continue
			}
		}

		select {
		case <-ctx.Done():
			return

		case d, ok := <-in:
			if !ok {
				c.logger.Debug("Consumer worker stopped, input channel closed")
				return
			}
			c.verify(ctx, d)
		}
	}
}

func (c *Consumer) verify(ctx context.Context, d models.Deposit) {
	res, err := c.verifier.VerifyReference(ctx, d.Reference)

	var gwErr *gateway.Error
	switch {
	case err == nil:
		if res.Applied {
			c.logger.Info("Pending deposit reconciled", "deposit_id", d.ID, "status", res.Status, "credited", res.Credited)
		}

	case errors.As(err, &gwErr) && gwErr.Code == gateway.CodeRetryAfter:
		c.logger.Info("Rate limit exceeded, waiting", "retry_after", gwErr.RetryAfter)
		c.waitUntil.Store(time.Now().Add(gwErr.RetryAfter).UnixMilli())

	case errors.As(err, &gwErr) && gwErr.Code == gateway.CodeNotFound:
		// Payer never reached the gateway; the sweep cancels it when stale
		c.logger.Debug("Gateway does not know the deposit yet", "deposit_id", d.ID, "reference", d.Reference)

	case errors.Is(err, apperrors.ErrStaleWrite):
		c.logger.Info("Deposit busy, will retry on next round", "deposit_id", d.ID)

	default:
		c.logger.Error("Failed to verify pending deposit", "error", err, "deposit_id", d.ID, "reference", d.Reference)
	}
}
