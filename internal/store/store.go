// Package store defines the keyed transactional record store the ledger is built on.
//
// Values are opaque bytes. Writers compare-and-swap through AtomicUpdate: every
// precondition is checked against the current value and, only when all of them
// hold, every write is applied. Nothing is applied otherwise.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/nkiryanov/depositledger/internal/apperrors"
)

var ErrNotFound = errors.New("record not found")

type Record struct {
	Key   string
	Value []byte
}

type Store interface {
	// Get value by key. Must return ErrNotFound if key is absent
	Get(ctx context.Context, key string) ([]byte, error)

	// Apply all writes together or none of them.
	// If any precondition does not hold must return *ConflictError
	AtomicUpdate(ctx context.Context, writes map[string][]byte, preconditions map[string]Precondition) error

	// Return all records whose key starts with prefix, ordered by key
	Scan(ctx context.Context, prefix string) ([]Record, error)
}

// Expected current value of a key
type Precondition struct {
	value  []byte
	absent bool
}

// Key must hold exactly this value
func Expect(value []byte) Precondition {
	return Precondition{value: bytes.Clone(value)}
}

// Key must not exist
func ExpectAbsent() Precondition {
	return Precondition{absent: true}
}

func (p Precondition) Absent() bool {
	return p.absent
}

func (p Precondition) Matches(current []byte, exists bool) bool {
	if p.absent {
		return !exists
	}
	return exists && bytes.Equal(p.value, current)
}

// Precondition failed: someone else wrote the key after the caller read it.
// Key may be empty if the backend can't tell which key changed
type ConflictError struct {
	Key string
}

func (e *ConflictError) Error() string {
	if e.Key == "" {
		return apperrors.ErrStaleWrite.Error()
	}
	return fmt.Sprintf("%s (key %q)", apperrors.ErrStaleWrite, e.Key)
}

func (e *ConflictError) Unwrap() error {
	return apperrors.ErrStaleWrite
}
