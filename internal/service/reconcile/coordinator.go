// Package reconcile is the single place deposits change status.
//
// Webhooks, client verification and the staleness sweep all end up in
// Coordinator.Reconcile. Every call reads the deposit, computes the next status
// from the ledger transition table and writes the result with one conditional
// multi-key update. The first transition into approved credits the owner balance
// in the same update, so a deposit is credited at most once whatever the order
// or number of triggers.
package reconcile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nkiryanov/depositledger/internal/apperrors"
	"github.com/nkiryanov/depositledger/internal/events"
	"github.com/nkiryanov/depositledger/internal/ledger"
	"github.com/nkiryanov/depositledger/internal/logger"
	"github.com/nkiryanov/depositledger/internal/models"
	"github.com/nkiryanov/depositledger/internal/service/gateway"
	"github.com/nkiryanov/depositledger/internal/service/signature"
	"github.com/nkiryanov/depositledger/internal/store"
)

const (
	defaultSweepThreshold = 30 * time.Minute
	defaultVerifyTimeout  = 5 * time.Second
	defaultBalanceRetries = 5
	defaultPublishTimeout = 2 * time.Second
)

type gatewayClient interface {
	Verify(ctx context.Context, reference string) (gateway.Transaction, error)
}

type Config struct {
	// Non-terminal deposit older than threshold may be cancelled by the sweep
	SweepThreshold time.Duration

	// Bound of the outbound verification call
	VerifyTimeout time.Duration

	// How many times to retry when only the owner balance changed concurrently
	BalanceRetries int

	// Bound of publishing one event. Broker outage must not stall reconciliation
	PublishTimeout time.Duration

	// Clock, time.Now if nil
	Now func() time.Time
}

type Deps struct {
	Store     store.Store
	Gateway   gatewayClient
	Signature *signature.Verifier

	// Optional, events are dropped if nil
	Publisher events.Publisher
	Logger    logger.Logger
}

type Coordinator struct {
	cfg Config

	store     store.Store
	refs      *ledger.ReferenceIndex
	deposits  *ledger.DepositLedger
	balances  *ledger.BalanceAccount
	gateway   gatewayClient
	signature *signature.Verifier
	publisher events.Publisher
	logger    logger.Logger
}

func New(cfg Config, deps Deps) (*Coordinator, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("store is required: %w", apperrors.ErrConfiguration)
	case deps.Gateway == nil:
		return nil, fmt.Errorf("gateway client is required: %w", apperrors.ErrConfiguration)
	case deps.Signature == nil:
		return nil, fmt.Errorf("signature verifier is required: %w", apperrors.ErrConfiguration)
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required: %w", apperrors.ErrConfiguration)
	}

	if cfg.SweepThreshold == 0 {
		cfg.SweepThreshold = defaultSweepThreshold
	}
	if cfg.VerifyTimeout == 0 {
		cfg.VerifyTimeout = defaultVerifyTimeout
	}
	if cfg.BalanceRetries == 0 {
		cfg.BalanceRetries = defaultBalanceRetries
	}
	if cfg.PublishTimeout == 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Noop{}
	}

	return &Coordinator{
		cfg:       cfg,
		store:     deps.Store,
		refs:      ledger.NewReferenceIndex(deps.Store),
		deposits:  ledger.NewDepositLedger(deps.Store),
		balances:  ledger.NewBalanceAccount(deps.Store),
		gateway:   deps.Gateway,
		signature: deps.Signature,
		publisher: deps.Publisher,
		logger:    deps.Logger,
	}, nil
}

// Reconcile the deposit behind req.Reference with what the source reports.
// Returns apperrors.ErrUnknownReference if the reference was never issued; nothing is written then
func (c *Coordinator) Reconcile(ctx context.Context, req models.ReconcileRequest) (models.ReconcileResult, error) {
	entry, err := c.resolve(ctx, req)
	if err != nil {
		return models.ReconcileResult{}, err
	}

	return c.reconcile(ctx, entry, req)
}

func (c *Coordinator) resolve(ctx context.Context, req models.ReconcileRequest) (models.ReferenceEntry, error) {
	entry, err := c.refs.Resolve(ctx, req.Reference)
	switch {
	case err == nil:
		return entry, nil
	case errors.Is(err, apperrors.ErrUnknownReference):
		// Only the gateway's own reports are worth an audit trail; client typos are not
		if req.Source == models.SourceWebhook {
			c.unmatched(ctx, req)
		} else {
			c.logger.Info("Unknown payment reference", "reference", req.Reference, "source", req.Source)
		}
		return entry, err
	default:
		return entry, storeError(err)
	}
}

func (c *Coordinator) reconcile(ctx context.Context, entry models.ReferenceEntry, req models.ReconcileRequest) (models.ReconcileResult, error) {
	log := c.logger.With("reference", req.Reference, "source", req.Source, "deposit_id", entry.DepositID)

	event, err := c.event(req)
	if err != nil {
		return models.ReconcileResult{}, err
	}

	var (
		previous         []byte
		depositConflicts int
		balanceConflicts int
	)

	for {
		snap, err := c.deposits.Get(ctx, entry.UserID, entry.DepositID)
		switch {
		case err == nil:
		case errors.Is(err, apperrors.ErrDepositNotFound):
			log.Error("Reference points to missing deposit", "uid", entry.UserID)
			return models.ReconcileResult{}, fmt.Errorf("reference %q: %w", req.Reference, err)
		default:
			return models.ReconcileResult{}, storeError(err)
		}

		// Previous attempt conflicted. If the deposit itself did not change only the balance did
		if previous != nil {
			if bytes.Equal(previous, snap.Raw) {
				balanceConflicts++
			} else {
				depositConflicts++
			}
		}
		previous = snap.Raw

		result := models.ReconcileResult{Status: snap.Status}
		now := c.cfg.Now()

		switch {
		case snap.Status.IsTerminal():
			log.Debug("Deposit is terminal, nothing to do", "status", snap.Status)
			return result, nil

		case event == ledger.EventUnrecognized:
			log.Warn("Unrecognized gateway status, manual review required", "reported_status", req.ReportedStatus, "status", snap.Status)
			return result, nil

		case req.Source == models.SourceSweep && snap.Age(now) <= c.staleAfter(req):
			log.Debug("Deposit is not stale yet", "age", snap.Age(now))
			return result, nil

		case depositConflicts > 1:
			log.Info("Deposit keeps changing concurrently, yielding to the other writer", "status", snap.Status)
			return result, nil

		case balanceConflicts > c.cfg.BalanceRetries:
			log.Warn("Balance keeps changing concurrently, giving up", "retries", c.cfg.BalanceRetries)
			return result, fmt.Errorf("crediting deposit %s: %w", entry.DepositID, apperrors.ErrStaleWrite)
		}

		next, ok := ledger.Next(snap.Status, event)
		if !ok {
			log.Debug("No transition", "status", snap.Status, "event", event)
			return result, nil
		}

		mutation, deposit, err := c.deposits.Transition(snap, next, req.Evidence, now)
		if err != nil {
			return result, err
		}
		mutations := []ledger.Mutation{mutation}

		credited := next == models.DepositApproved
		if credited {
			credit, _, err := c.balances.Credit(ctx, deposit, now)
			switch {
			case err == nil:
			case errors.Is(err, apperrors.ErrBalanceOverflow):
				log.Error("Deposit can't be credited, manual review required", "error", err, "amount", deposit.Amount)
				return result, err
			default:
				return result, storeError(err)
			}
			mutations = append(mutations, credit)
		}

		err = ledger.Apply(ctx, c.store, mutations...)
		var conflict *store.ConflictError
		switch {
		case err == nil:
			log.Info("Deposit status changed", "from", snap.Status, "to", next, "credited", credited, "amount", deposit.Amount)
			c.settled(ctx, deposit, credited, req.Source, now)
			return models.ReconcileResult{Status: next, Credited: credited, Applied: true}, nil

		case errors.As(err, &conflict):
			log.Debug("Concurrent write, retrying", "key", conflict.Key)
			continue

		default:
			return result, storeError(err)
		}
	}
}

// Event requested by req. Only the sweep may time a deposit out
func (c *Coordinator) event(req models.ReconcileRequest) (ledger.Event, error) {
	switch req.Source {
	case models.SourceSweep:
		return ledger.EventTimedOut, nil
	case models.SourceWebhook, models.SourceVerify:
		return ledger.EventFromGateway(req.ReportedStatus), nil
	default:
		return ledger.EventUnrecognized, fmt.Errorf("unknown reconcile source %q", req.Source)
	}
}

func (c *Coordinator) staleAfter(req models.ReconcileRequest) time.Duration {
	if req.StaleAfter > 0 {
		return req.StaleAfter
	}
	return c.cfg.SweepThreshold
}

func (c *Coordinator) settled(ctx context.Context, d models.Deposit, credited bool, source models.Source, now time.Time) {
	err := c.publish(ctx, events.TopicDepositSettled, d.ID, events.DepositSettled{
		DepositID: d.ID,
		UserID:    d.UserID,
		Reference: d.Reference,
		Amount:    d.Amount,
		Status:    d.Status,
		Credited:  credited,
		Source:    source,
		At:        now,
	})
	if err != nil {
		c.logger.Error("Failed to publish settled event", "error", err, "deposit_id", d.ID)
	}
}

func (c *Coordinator) unmatched(ctx context.Context, req models.ReconcileRequest) {
	c.logger.Warn("Unknown payment reference", "reference", req.Reference, "source", req.Source, "reported_status", req.ReportedStatus)

	err := c.publish(ctx, events.TopicDepositUnmatched, req.Reference, events.DepositUnmatched{
		Reference:      req.Reference,
		ReportedStatus: req.ReportedStatus,
		Source:         req.Source,
		Payload:        req.Evidence,
		At:             c.cfg.Now(),
	})
	if err != nil {
		c.logger.Error("Failed to publish unmatched event", "error", err, "reference", req.Reference)
	}
}

// Events are best effort: the ledger write is already done when they are sent
func (c *Coordinator) publish(ctx context.Context, topic string, key string, payload any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.PublishTimeout)
	defer cancel()
	return c.publisher.Publish(ctx, topic, key, payload)
}

// Store failures are not the caller's fault: fail closed
func storeError(err error) error {
	return fmt.Errorf("%w: %w", apperrors.ErrConfiguration, err)
}
