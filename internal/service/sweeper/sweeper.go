// Package sweeper cancels deposits nobody settled in time.
package sweeper

import (
	"context"
	"time"

	"github.com/nkiryanov/depositledger/internal/logger"
	"github.com/nkiryanov/depositledger/internal/models"
)

const (
	defaultInterval  = time.Minute
	defaultThreshold = 30 * time.Minute
)

type depositLister interface {
	ListPending(ctx context.Context) ([]models.Deposit, error)
}

type reconciler interface {
	Reconcile(ctx context.Context, req models.ReconcileRequest) (models.ReconcileResult, error)
}

type Config struct {
	// How often Run sweeps
	Interval time.Duration

	// Age after which Run cancels a deposit
	Threshold time.Duration

	// Clock, time.Now if nil
	Now func() time.Time
}

type Sweeper struct {
	cfg Config

	deposits   depositLister
	reconciler reconciler
	logger     logger.Logger
}

func New(cfg Config, deposits depositLister, reconciler reconciler, logger logger.Logger) *Sweeper {
	if cfg.Interval == 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = defaultThreshold
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Sweeper{
		cfg:        cfg,
		deposits:   deposits,
		reconciler: reconciler,
		logger:     logger,
	}
}

// Cancel every non-terminal deposit created more than threshold ago.
// Returns how many deposits were actually cancelled by this call.
// A failure on one deposit is logged and the sweep goes on
func (s *Sweeper) Sweep(ctx context.Context, threshold time.Duration) (int, error) {
	pending, err := s.deposits.ListPending(ctx)
	if err != nil {
		return 0, err
	}

	now := s.cfg.Now()
	cancelled := 0

	for _, d := range pending {
		if err := ctx.Err(); err != nil {
			return cancelled, err
		}

		if d.Age(now) <= threshold {
			continue
		}

		res, err := s.reconciler.Reconcile(ctx, models.ReconcileRequest{
			Reference:  d.Reference,
			Source:     models.SourceSweep,
			StaleAfter: threshold,
		})
		if err != nil {
			s.logger.Error("Failed to sweep deposit", "error", err, "deposit_id", d.ID, "reference", d.Reference)
			continue
		}

		if res.Applied && res.Status == models.DepositCancelled {
			cancelled++
		}
	}

	if cancelled > 0 {
		s.logger.Info("Stale deposits cancelled", "count", cancelled, "threshold", threshold)
	}
	return cancelled, nil
}

// Sweep every interval until ctx is done
func (s *Sweeper) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})
	s.logger.Debug("Starting sweeper", "interval", s.cfg.Interval, "threshold", s.cfg.Threshold)

	go func() {
		defer close(idleStopped)

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Debug("Sweeper stopped by context")
				return

			case <-ticker.C:
				if _, err := s.Sweep(ctx, s.cfg.Threshold); err != nil {
					s.logger.Error("Sweep failed", "error", err)
				}
			}
		}
	}()

	return idleStopped
}
