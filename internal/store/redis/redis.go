package redis

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/depositledger/internal/store"
)

const scanBatch = 200

// Store uses optimistic redis transactions: WATCH the precondition keys,
// compare, then MULTI/EXEC the writes. EXEC aborts if a watched key changed
type Store struct {
	client redis.UniversalClient
}

func New(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, key).Bytes()

	switch {
	case err == nil:
		return value, nil
	case errors.Is(err, redis.Nil):
		return nil, store.ErrNotFound
	default:
		return nil, fmt.Errorf("redis error: %w", err)
	}
}

func (s *Store) AtomicUpdate(ctx context.Context, writes map[string][]byte, preconditions map[string]store.Precondition) error {
	keys := slices.Sorted(maps.Keys(preconditions))

	txf := func(tx *redis.Tx) error {
		if len(keys) > 0 {
			values, err := tx.MGet(ctx, keys...).Result()
			if err != nil {
				return fmt.Errorf("redis error: %w", err)
			}

			for i, key := range keys {
				current, exists := values[i].(string)
				if !preconditions[key].Matches([]byte(current), exists) {
					return &store.ConflictError{Key: key}
				}
			}
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for key, value := range writes {
				pipe.Set(ctx, key, value, 0)
			}
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, keys...)

	var conflict *store.ConflictError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &conflict):
		return err
	case errors.Is(err, redis.TxFailedErr):
		// Some watched key changed between MGET and EXEC, redis doesn't say which one
		return &store.ConflictError{}
	default:
		return fmt.Errorf("redis error: %w", err)
	}
}

func (s *Store) Scan(ctx context.Context, prefix string) ([]store.Record, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, escapeGlob(prefix)+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis error: %w", err)
	}

	// SCAN may return a key more than once
	slices.Sort(keys)
	keys = slices.Compact(keys)

	records := make([]store.Record, 0, len(keys))
	for batch := range slices.Chunk(keys, scanBatch) {
		values, err := s.client.MGet(ctx, batch...).Result()
		if err != nil {
			return nil, fmt.Errorf("redis error: %w", err)
		}

		for i, key := range batch {
			value, ok := values[i].(string)
			if !ok {
				continue // deleted after SCAN
			}
			records = append(records, store.Record{Key: key, Value: []byte(value)})
		}
	}

	return records, nil
}

// Escape glob special characters so prefix is matched literally
func escapeGlob(s string) string {
	return strings.NewReplacer(
		`\`, `\\`,
		`*`, `\*`,
		`?`, `\?`,
		`[`, `\[`,
		`]`, `\]`,
	).Replace(s)
}
