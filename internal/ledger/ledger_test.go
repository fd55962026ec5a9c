package ledger

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/depositledger/internal/apperrors"
	"github.com/nkiryanov/depositledger/internal/models"
	"github.com/nkiryanov/depositledger/internal/store/memory"
)

func newDeposit(uid, id, reference string, amount int64, createdAt time.Time) models.Deposit {
	return models.Deposit{
		ID:        id,
		UserID:    uid,
		Reference: reference,
		Amount:    amount,
		Status:    models.DepositInitiated,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestLedger(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	// Store with one deposit d1 of user u1 indexed by reference R1
	setup := func(t *testing.T) (*memory.Store, *DepositLedger, *ReferenceIndex, *BalanceAccount) {
		s := memory.New()
		deposits, refs, balances := NewDepositLedger(s), NewReferenceIndex(s), NewBalanceAccount(s)

		d := newDeposit("u1", "d1", "R1", 5000, now)
		createDeposit, err := deposits.Create(d)
		require.NoError(t, err)
		createRef, err := refs.Create("R1", models.ReferenceEntry{UserID: "u1", DepositID: "d1"})
		require.NoError(t, err)
		require.NoError(t, Apply(t.Context(), s, createDeposit, createRef))

		return s, deposits, refs, balances
	}

	t.Run("resolve reference", func(t *testing.T) {
		_, _, refs, _ := setup(t)

		entry, err := refs.Resolve(t.Context(), "R1")
		require.NoError(t, err)
		require.Equal(t, models.ReferenceEntry{UserID: "u1", DepositID: "d1"}, entry)

		_, err = refs.Resolve(t.Context(), "R-unknown")
		require.ErrorIs(t, err, apperrors.ErrUnknownReference)

		_, err = refs.Resolve(t.Context(), "")
		require.ErrorIs(t, err, apperrors.ErrUnknownReference)
	})

	t.Run("reference is unique", func(t *testing.T) {
		s, deposits, refs, _ := setup(t)

		createDeposit, err := deposits.Create(newDeposit("u2", "d9", "R1", 100, now))
		require.NoError(t, err)
		createRef, err := refs.Create("R1", models.ReferenceEntry{UserID: "u2", DepositID: "d9"})
		require.NoError(t, err)

		err = Apply(t.Context(), s, createDeposit, createRef)
		require.ErrorIs(t, err, apperrors.ErrStaleWrite, "reused reference must not be indexed twice")

		_, err = deposits.Get(t.Context(), "u2", "d9")
		require.ErrorIs(t, err, apperrors.ErrDepositNotFound, "deposit and index are written together or not at all")
	})

	t.Run("create validates deposit", func(t *testing.T) {
		deposits := NewDepositLedger(memory.New())

		_, err := deposits.Create(newDeposit("u1", "d1", "R1", 0, now))
		require.ErrorIs(t, err, apperrors.ErrInvalidAmount)

		_, err = deposits.Create(newDeposit("u1", "d1", "R1", models.MaxDepositAmount+1, now))
		require.ErrorIs(t, err, apperrors.ErrInvalidAmount, "deposit above the limit")

		_, err = deposits.Create(newDeposit("u1", "d1", "R1", models.MaxDepositAmount, now))
		require.NoError(t, err, "deposit at the limit is fine")

		_, err = deposits.Create(newDeposit("u/1", "d1", "R1", 10, now))
		require.Error(t, err, "slash in uid breaks key layout")

		d := newDeposit("u1", "d1", "R1", 10, now)
		d.Status = models.DepositApproved
		_, err = deposits.Create(d)
		require.Error(t, err, "deposit may be created as initiated only")
	})

	t.Run("transition", func(t *testing.T) {
		s, deposits, _, _ := setup(t)
		snap, err := deposits.Get(t.Context(), "u1", "d1")
		require.NoError(t, err)

		payload := json.RawMessage(`{"status":"success"}`)
		m, d, err := deposits.Transition(snap, models.DepositApproved, payload, now.Add(time.Minute))
		require.NoError(t, err)
		require.NoError(t, Apply(t.Context(), s, m))

		stored, err := deposits.Get(t.Context(), "u1", "d1")
		require.NoError(t, err)
		require.Equal(t, d.Status, stored.Status)
		require.Equal(t, models.DepositApproved, stored.Status)
		require.Equal(t, now.Add(time.Minute), stored.UpdatedAt.UTC())
		require.JSONEq(t, string(payload), string(stored.GatewayPayload))
		require.Equal(t, int64(5000), stored.Amount, "amount never changes")

		// Same snapshot is outdated now
		m, _, err = deposits.Transition(snap, models.DepositDeclined, nil, now.Add(2*time.Minute))
		require.NoError(t, err)
		err = Apply(t.Context(), s, m)
		require.ErrorIs(t, err, apperrors.ErrStaleWrite, "write from outdated snapshot must fail")
	})

	t.Run("transition keeps updatedAt non decreasing", func(t *testing.T) {
		_, deposits, _, _ := setup(t)
		snap, err := deposits.Get(t.Context(), "u1", "d1")
		require.NoError(t, err)

		_, d, err := deposits.Transition(snap, models.DepositProcessing, nil, now.Add(-time.Hour))

		require.NoError(t, err)
		require.Equal(t, snap.UpdatedAt, d.UpdatedAt, "clock going backwards must not move updatedAt back")
	})

	t.Run("transition backwards rejected", func(t *testing.T) {
		_, deposits, _, _ := setup(t)
		snap, err := deposits.Get(t.Context(), "u1", "d1")
		require.NoError(t, err)
		snap.Status = models.DepositApproved

		_, _, err = deposits.Transition(snap, models.DepositCancelled, nil, now)
		require.Error(t, err)
	})

	t.Run("list pending", func(t *testing.T) {
		s, deposits, _, _ := setup(t)

		older, err := deposits.Create(newDeposit("u2", "d2", "R2", 100, now.Add(-time.Hour)))
		require.NoError(t, err)
		done := newDeposit("u2", "d3", "R3", 100, now)
		doneMutation, err := deposits.Create(done)
		require.NoError(t, err)
		require.NoError(t, Apply(t.Context(), s, older, doneMutation))

		snap, err := deposits.Get(t.Context(), "u2", "d3")
		require.NoError(t, err)
		m, _, err := deposits.Transition(snap, models.DepositDeclined, nil, now)
		require.NoError(t, err)
		require.NoError(t, Apply(t.Context(), s, m))

		pending, err := deposits.ListPending(t.Context())
		require.NoError(t, err)
		require.Len(t, pending, 2, "terminal deposit must be skipped")
		require.Equal(t, "d2", pending[0].ID, "oldest first")
		require.Equal(t, "d1", pending[1].ID)

		byUser, err := deposits.ListByUser(t.Context(), "u2")
		require.NoError(t, err)
		require.Len(t, byUser, 2)
		require.Equal(t, "d3", byUser[0].ID, "newest first")
	})

	t.Run("credit", func(t *testing.T) {
		s, deposits, _, balances := setup(t)
		snap, err := deposits.Get(t.Context(), "u1", "d1")
		require.NoError(t, err)

		balance, err := balances.Get(t.Context(), "u1")
		require.NoError(t, err)
		require.Equal(t, int64(0), balance.Balance, "no credits yet means zero balance")

		credit, tx, err := balances.Credit(t.Context(), snap.Deposit, now)
		require.NoError(t, err)
		require.Equal(t, TransactionID(snap.Deposit), tx.ID)
		require.NoError(t, Apply(t.Context(), s, credit))

		balance, err = balances.Get(t.Context(), "u1")
		require.NoError(t, err)
		require.Equal(t, int64(5000), balance.Balance)

		transactions, err := balances.Transactions(t.Context(), "u1")
		require.NoError(t, err)
		require.Len(t, transactions, 1)
		require.Equal(t, models.Transaction{
			ID:         tx.ID,
			UserID:     "u1",
			DepositID:  "d1",
			Amount:     5000,
			Kind:       models.TransactionKindCredit,
			RecordedAt: transactions[0].RecordedAt,
		}, transactions[0])

		// Fresh read of balance, but transaction of the deposit exists already
		again, _, err := balances.Credit(t.Context(), snap.Deposit, now)
		require.NoError(t, err)
		err = Apply(t.Context(), s, again)
		require.ErrorIs(t, err, apperrors.ErrStaleWrite, "deposit can't be credited twice")

		balance, err = balances.Get(t.Context(), "u1")
		require.NoError(t, err)
		require.Equal(t, int64(5000), balance.Balance)
	})
}

func TestCredit_Overflow(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := memory.New()
	balances := NewBalanceAccount(s)

	// Balance close to the int64 limit, as if accumulated over many deposits
	raw, err := json.Marshal(models.Balance{UserID: "u1", Balance: math.MaxInt64 - 10})
	require.NoError(t, err)
	require.NoError(t, s.AtomicUpdate(t.Context(), map[string][]byte{BalanceKey("u1"): raw}, nil))

	d := newDeposit("u1", "d1", "R1", 100, now)
	_, _, err = balances.Credit(t.Context(), d, now)
	require.ErrorIs(t, err, apperrors.ErrBalanceOverflow)

	balance, err := balances.Get(t.Context(), "u1")
	require.NoError(t, err)
	require.Equal(t, int64(math.MaxInt64-10), balance.Balance, "balance must stay untouched")
	transactions, err := balances.Transactions(t.Context(), "u1")
	require.NoError(t, err)
	require.Empty(t, transactions)

	// Exactly fits
	d = newDeposit("u1", "d2", "R2", 10, now)
	credit, _, err := balances.Credit(t.Context(), d, now)
	require.NoError(t, err)
	require.NoError(t, Apply(t.Context(), s, credit))

	balance, err = balances.Get(t.Context(), "u1")
	require.NoError(t, err)
	require.Equal(t, int64(math.MaxInt64), balance.Balance)
}

func TestMerge(t *testing.T) {
	a := newMutation()
	a.Writes["k"] = []byte("1")
	b := newMutation()
	b.Writes["k"] = []byte("2")

	require.Panics(t, func() { Merge(a, b) }, "same key twice is a programming error")
}
