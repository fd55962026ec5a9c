package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/depositledger/internal/apperrors"
	"github.com/nkiryanov/depositledger/internal/models"
	"github.com/nkiryanov/depositledger/internal/store"
)

// Namespace for transaction ids derived from deposits
var transactionNamespace = uuid.MustParse("6f1c2a4e-8d3b-4c5e-9a7f-2b1d0e3c4a5b")

// BalanceAccount owns user balances and the credit history
type BalanceAccount struct {
	store store.Store
}

func NewBalanceAccount(s store.Store) *BalanceAccount {
	return &BalanceAccount{store: s}
}

// Balance of user; user without credits has zero balance
func (b *BalanceAccount) Get(ctx context.Context, uid string) (models.Balance, error) {
	balance, _, err := b.get(ctx, uid)
	return balance, err
}

func (b *BalanceAccount) get(ctx context.Context, uid string) (models.Balance, []byte, error) {
	balance := models.Balance{UserID: uid}

	if err := validKeyParts(uid); err != nil {
		return balance, nil, err
	}

	raw, err := b.store.Get(ctx, BalanceKey(uid))
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		return balance, nil, nil
	default:
		return balance, nil, fmt.Errorf("can't read balance. Err: %w", err)
	}

	if err := json.Unmarshal(raw, &balance); err != nil {
		return balance, nil, fmt.Errorf("corrupted balance of %s. Err: %w", uid, err)
	}

	return balance, raw, nil
}

// User transactions, newest first
func (b *BalanceAccount) Transactions(ctx context.Context, uid string) ([]models.Transaction, error) {
	if err := validKeyParts(uid); err != nil {
		return nil, err
	}

	records, err := b.store.Scan(ctx, transactionPrefix+uid+"/")
	if err != nil {
		return nil, fmt.Errorf("can't scan transactions. Err: %w", err)
	}

	transactions := make([]models.Transaction, 0, len(records))
	for _, r := range records {
		var t models.Transaction
		if err := json.Unmarshal(r.Value, &t); err != nil {
			return nil, fmt.Errorf("corrupted transaction %q. Err: %w", r.Key, err)
		}
		transactions = append(transactions, t)
	}

	slices.SortFunc(transactions, func(a, b models.Transaction) int {
		return b.RecordedAt.Compare(a.RecordedAt)
	})
	return transactions, nil
}

// Transaction id is derived from the deposit, so a deposit can't produce two of them
func TransactionID(d models.Deposit) string {
	return uuid.NewSHA1(transactionNamespace, []byte(d.UserID+"/"+d.ID)).String()
}

// Mutation that credits deposit amount to the owner balance and records the transaction.
// Conditioned on the balance being unchanged since it was read here
func (b *BalanceAccount) Credit(ctx context.Context, d models.Deposit, now time.Time) (Mutation, models.Transaction, error) {
	m := newMutation()
	var t models.Transaction

	balance, raw, err := b.get(ctx, d.UserID)
	if err != nil {
		return m, t, err
	}

	balanceKey := BalanceKey(d.UserID)
	if raw == nil {
		m.Preconditions[balanceKey] = store.ExpectAbsent()
	} else {
		m.Preconditions[balanceKey] = store.Expect(raw)
	}

	if d.Amount > math.MaxInt64-balance.Balance {
		return m, t, fmt.Errorf("crediting %d to balance %d of %s: %w", d.Amount, balance.Balance, d.UserID, apperrors.ErrBalanceOverflow)
	}
	balance.Balance += d.Amount
	newBalance, err := json.Marshal(balance)
	if err != nil {
		return m, t, err
	}
	m.Writes[balanceKey] = newBalance

	t = models.Transaction{
		ID:         TransactionID(d),
		UserID:     d.UserID,
		DepositID:  d.ID,
		Amount:     d.Amount,
		Kind:       models.TransactionKindCredit,
		RecordedAt: now,
	}
	rawTx, err := json.Marshal(t)
	if err != nil {
		return m, t, err
	}

	txKey := TransactionKey(d.UserID, t.ID)
	m.Writes[txKey] = rawTx
	m.Preconditions[txKey] = store.ExpectAbsent()

	return m, t, nil
}
