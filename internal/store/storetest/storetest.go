// Package storetest holds behaviour every store.Store backend must share.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/depositledger/internal/apperrors"
	"github.com/nkiryanov/depositledger/internal/store"
)

// Run the shared suite against s.
// Every subtest works under its own random key prefix, so s may be shared and not empty
func Run(t *testing.T, s store.Store) {
	t.Helper()

	ns := func() string {
		return uuid.NewString() + "/"
	}

	t.Run("get absent", func(t *testing.T) {
		_, err := s.Get(t.Context(), ns()+"nope")

		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("write and get", func(t *testing.T) {
		key := ns() + "a"

		err := s.AtomicUpdate(t.Context(), map[string][]byte{key: []byte(`{"v":1}`)}, nil)
		require.NoError(t, err, "unconditional write should not fail")

		got, err := s.Get(t.Context(), key)
		require.NoError(t, err)
		require.Equal(t, `{"v":1}`, string(got), "value must be stored byte for byte")
	})

	t.Run("expect absent", func(t *testing.T) {
		key := ns() + "a"
		writes := map[string][]byte{key: []byte("first")}
		pre := map[string]store.Precondition{key: store.ExpectAbsent()}

		err := s.AtomicUpdate(t.Context(), writes, pre)
		require.NoError(t, err, "first create should succeed")

		err = s.AtomicUpdate(t.Context(), map[string][]byte{key: []byte("second")}, pre)
		require.Error(t, err, "second create must fail")
		require.ErrorIs(t, err, apperrors.ErrStaleWrite)

		got, err := s.Get(t.Context(), key)
		require.NoError(t, err)
		require.Equal(t, "first", string(got), "failed update must not overwrite")
	})

	t.Run("expect value", func(t *testing.T) {
		key := ns() + "a"
		require.NoError(t, s.AtomicUpdate(t.Context(), map[string][]byte{key: []byte("v1")}, nil))

		err := s.AtomicUpdate(t.Context(),
			map[string][]byte{key: []byte("v2")},
			map[string]store.Precondition{key: store.Expect([]byte("v1"))},
		)
		require.NoError(t, err, "matching precondition should apply")

		err = s.AtomicUpdate(t.Context(),
			map[string][]byte{key: []byte("v3")},
			map[string]store.Precondition{key: store.Expect([]byte("v1"))},
		)
		var conflict *store.ConflictError
		require.ErrorAs(t, err, &conflict, "outdated precondition must conflict")

		got, err := s.Get(t.Context(), key)
		require.NoError(t, err)
		require.Equal(t, "v2", string(got))
	})

	t.Run("all or nothing", func(t *testing.T) {
		prefix := ns()
		a, b, c := prefix+"a", prefix+"b", prefix+"c"
		require.NoError(t, s.AtomicUpdate(t.Context(), map[string][]byte{b: []byte("taken")}, nil))

		err := s.AtomicUpdate(t.Context(),
			map[string][]byte{a: []byte("1"), b: []byte("2"), c: []byte("3")},
			map[string]store.Precondition{a: store.ExpectAbsent(), b: store.ExpectAbsent()},
		)
		require.ErrorIs(t, err, apperrors.ErrStaleWrite)

		_, err = s.Get(t.Context(), a)
		require.ErrorIs(t, err, store.ErrNotFound, "no write may be applied when a precondition fails")
		_, err = s.Get(t.Context(), c)
		require.ErrorIs(t, err, store.ErrNotFound, "no write may be applied when a precondition fails")
		got, err := s.Get(t.Context(), b)
		require.NoError(t, err)
		require.Equal(t, "taken", string(got))
	})

	t.Run("scan prefix", func(t *testing.T) {
		prefix := ns()
		require.NoError(t, s.AtomicUpdate(t.Context(), map[string][]byte{
			prefix + "deposit/u1/b": []byte("b"),
			prefix + "deposit/u1/a": []byte("a"),
			prefix + "deposit/u2/c": []byte("c"),
			prefix + "balance/u1":   []byte("0"),
		}, nil))

		records, err := s.Scan(t.Context(), prefix+"deposit/u1/")
		require.NoError(t, err)
		require.Equal(t, []store.Record{
			{Key: prefix + "deposit/u1/a", Value: []byte("a")},
			{Key: prefix + "deposit/u1/b", Value: []byte("b")},
		}, records, "scan must return matching keys ordered")

		records, err = s.Scan(t.Context(), prefix+"nothing/")
		require.NoError(t, err)
		require.Empty(t, records)
	})

	t.Run("concurrent compare and swap", func(t *testing.T) {
		key := ns() + "counter"
		require.NoError(t, s.AtomicUpdate(t.Context(), map[string][]byte{key: []byte("initial")}, nil))

		const writers = 8
		var wg sync.WaitGroup
		errs := make([]error, writers)
		for i := range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = s.AtomicUpdate(context.Background(),
					map[string][]byte{key: []byte(uuid.NewString())},
					map[string]store.Precondition{key: store.Expect([]byte("initial"))},
				)
			}()
		}
		wg.Wait()

		won := 0
		for _, err := range errs {
			switch {
			case err == nil:
				won++
			case errors.Is(err, apperrors.ErrStaleWrite):
			default:
				require.NoError(t, err, "only conflicts are expected")
			}
		}
		require.Equal(t, 1, won, "exactly one writer must win the swap")
	})
}
