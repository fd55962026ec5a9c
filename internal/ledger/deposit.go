package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/nkiryanov/depositledger/internal/apperrors"
	"github.com/nkiryanov/depositledger/internal/models"
	"github.com/nkiryanov/depositledger/internal/store"
)

// Deposit as read from the store.
// Raw keeps the exact stored bytes; they are the compare-and-swap token for the next write
type DepositSnapshot struct {
	models.Deposit
	Raw []byte
}

// DepositLedger owns deposit records and their status transitions
type DepositLedger struct {
	store store.Store
}

func NewDepositLedger(s store.Store) *DepositLedger {
	return &DepositLedger{store: s}
}

// Must return apperrors.ErrDepositNotFound if deposit doesn't exist
func (l *DepositLedger) Get(ctx context.Context, uid string, depositID string) (DepositSnapshot, error) {
	var snap DepositSnapshot

	if validKeyParts(uid, depositID) != nil {
		return snap, apperrors.ErrDepositNotFound
	}

	raw, err := l.store.Get(ctx, DepositKey(uid, depositID))
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		return snap, apperrors.ErrDepositNotFound
	default:
		return snap, fmt.Errorf("can't read deposit. Err: %w", err)
	}

	if err := json.Unmarshal(raw, &snap.Deposit); err != nil {
		return snap, fmt.Errorf("corrupted deposit %s/%s. Err: %w", uid, depositID, err)
	}
	snap.Raw = raw

	return snap, nil
}

// List user deposits, newest first
func (l *DepositLedger) ListByUser(ctx context.Context, uid string) ([]models.Deposit, error) {
	if err := validKeyParts(uid); err != nil {
		return nil, err
	}

	deposits, err := l.scan(ctx, depositPrefix+uid+"/")
	if err != nil {
		return nil, err
	}

	slices.SortFunc(deposits, func(a, b models.Deposit) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return deposits, nil
}

// List non-terminal deposits of all users, oldest first
func (l *DepositLedger) ListPending(ctx context.Context) ([]models.Deposit, error) {
	deposits, err := l.scan(ctx, depositPrefix)
	if err != nil {
		return nil, err
	}

	pending := slices.DeleteFunc(deposits, func(d models.Deposit) bool {
		return d.Status.IsTerminal()
	})
	slices.SortFunc(pending, func(a, b models.Deposit) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return pending, nil
}

func (l *DepositLedger) scan(ctx context.Context, prefix string) ([]models.Deposit, error) {
	records, err := l.store.Scan(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("can't scan deposits. Err: %w", err)
	}

	deposits := make([]models.Deposit, 0, len(records))
	for _, r := range records {
		var d models.Deposit
		if err := json.Unmarshal(r.Value, &d); err != nil {
			return nil, fmt.Errorf("corrupted deposit %q. Err: %w", r.Key, err)
		}
		deposits = append(deposits, d)
	}

	return deposits, nil
}

// Mutation that creates deposit in initiated status
func (l *DepositLedger) Create(d models.Deposit) (Mutation, error) {
	m := newMutation()

	switch {
	case validKeyParts(d.UserID, d.ID, d.Reference) != nil:
		return m, fmt.Errorf("invalid deposit identifiers: %w", errInvalidKeyPart)
	case d.Amount <= 0 || d.Amount > models.MaxDepositAmount:
		return m, apperrors.ErrInvalidAmount
	case d.Status != models.DepositInitiated:
		return m, fmt.Errorf("deposit must be created as %q, got %q", models.DepositInitiated, d.Status)
	case d.UpdatedAt.Before(d.CreatedAt):
		return m, errors.New("deposit updatedAt must not be before createdAt")
	}

	raw, err := json.Marshal(d)
	if err != nil {
		return m, err
	}

	key := DepositKey(d.UserID, d.ID)
	m.Writes[key] = raw
	m.Preconditions[key] = store.ExpectAbsent()

	return m, nil
}

// Mutation that moves the snapshot to next status.
// Applies only if the stored record is still exactly the snapshot
func (l *DepositLedger) Transition(snap DepositSnapshot, next models.DepositStatus, payload json.RawMessage, now time.Time) (Mutation, models.Deposit, error) {
	m := newMutation()
	d := snap.Deposit

	if Rank(next) <= Rank(d.Status) {
		return m, d, fmt.Errorf("transition %s -> %s goes backwards", d.Status, next)
	}

	d.Status = next
	if now.After(d.UpdatedAt) {
		d.UpdatedAt = now
	}
	if len(payload) > 0 {
		d.GatewayPayload = payload
	}

	raw, err := json.Marshal(d)
	if err != nil {
		return m, d, err
	}

	key := DepositKey(d.UserID, d.ID)
	m.Writes[key] = raw
	m.Preconditions[key] = store.Expect(snap.Raw)

	return m, d, nil
}
