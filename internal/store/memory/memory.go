package memory

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/nkiryanov/depositledger/internal/store"
)

// In-process store. Used for local runs and as the default test double
type Store struct {
	mu      sync.RWMutex
	records map[string][]byte
}

func New() *Store {
	return &Store{records: make(map[string][]byte)}
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.records[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return slices.Clone(value), nil
}

func (s *Store) AtomicUpdate(_ context.Context, writes map[string][]byte, preconditions map[string]store.Precondition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range slices.Sorted(maps.Keys(preconditions)) {
		current, exists := s.records[key]
		if !preconditions[key].Matches(current, exists) {
			return &store.ConflictError{Key: key}
		}
	}

	for key, value := range writes {
		s.records[key] = slices.Clone(value)
	}

	return nil
}

func (s *Store) Scan(_ context.Context, prefix string) ([]store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]store.Record, 0)
	for key, value := range s.records {
		if strings.HasPrefix(key, prefix) {
			records = append(records, store.Record{Key: key, Value: slices.Clone(value)})
		}
	}

	slices.SortFunc(records, func(a, b store.Record) int {
		return strings.Compare(a.Key, b.Key)
	})

	return records, nil
}
