package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nkiryanov/depositledger/internal/apperrors"
	"github.com/nkiryanov/depositledger/internal/models"
	"github.com/nkiryanov/depositledger/internal/store"
)

// ReferenceIndex resolves a gateway reference to the deposit it was issued for.
// Entries are written once together with the deposit and never change
type ReferenceIndex struct {
	store store.Store
}

func NewReferenceIndex(s store.Store) *ReferenceIndex {
	return &ReferenceIndex{store: s}
}

// Must return apperrors.ErrUnknownReference if reference was never indexed
func (r *ReferenceIndex) Resolve(ctx context.Context, reference string) (models.ReferenceEntry, error) {
	var entry models.ReferenceEntry

	if validKeyParts(reference) != nil {
		return entry, apperrors.ErrUnknownReference
	}

	raw, err := r.store.Get(ctx, ReferenceKey(reference))
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		return entry, apperrors.ErrUnknownReference
	default:
		return entry, fmt.Errorf("can't read reference index. Err: %w", err)
	}

	if err := json.Unmarshal(raw, &entry); err != nil {
		return entry, fmt.Errorf("corrupted reference index entry %q. Err: %w", reference, err)
	}

	return entry, nil
}

// Mutation that creates the index entry; fails on apply if the reference is taken
func (r *ReferenceIndex) Create(reference string, entry models.ReferenceEntry) (Mutation, error) {
	m := newMutation()

	if err := validKeyParts(reference, entry.UserID, entry.DepositID); err != nil {
		return m, fmt.Errorf("invalid reference entry: %w", err)
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return m, err
	}

	key := ReferenceKey(reference)
	m.Writes[key] = raw
	m.Preconditions[key] = store.ExpectAbsent()

	return m, nil
}
