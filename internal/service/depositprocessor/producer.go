package depositprocessor

import (
	"context"
	"time"

	"github.com/nkiryanov/depositledger/internal/logger"
	"github.com/nkiryanov/depositledger/internal/models"
)

type Producer struct {
	interval time.Duration
	minAge   time.Duration
	deposits depositLister
	now      func() time.Time
	logger   logger.Logger
}

func (p *Producer) Produce(ctx context.Context, out chan<- models.Deposit) <-chan struct{} {
	idleStopped := make(chan struct{})
	p.logger.Debug("Starting producer", "interval", p.interval, "min_age", p.minAge)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				p.logger.Debug("Producer stopped by context")
				return

			case <-ticker.C:
				if !p.produce(ctx, out) {
					return
				}
			}
		}
	}()

	return idleStopped
}

// Send one batch of pending deposits. False if ctx is done
func (p *Producer) produce(ctx context.Context, out chan<- models.Deposit) bool {
	deposits, err := p.deposits.ListPending(ctx)
	if err != nil {
		p.logger.Error("Failed to list pending deposits", "error", err)
		return true
	}

	now := p.now()
	for _, d := range deposits {
		if d.Age(now) < p.minAge {
			continue
		}

		select {
		case <-ctx.Done():
			p.logger.Debug("Producer stopped by context while sending deposits")
			return false
		case out <- d:
			p.logger.Debug("Deposit sent to channel", "deposit_id", d.ID)
		}
	}
	return true
}
