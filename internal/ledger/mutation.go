package ledger

import (
	"context"
	"fmt"

	"github.com/nkiryanov/depositledger/internal/store"
)

// Writes and preconditions that have to be applied as one unit
type Mutation struct {
	Writes        map[string][]byte
	Preconditions map[string]store.Precondition
}

func newMutation() Mutation {
	return Mutation{
		Writes:        make(map[string][]byte),
		Preconditions: make(map[string]store.Precondition),
	}
}

// Merge mutations, panics on overlapping keys: it is a programming error
func Merge(mutations ...Mutation) Mutation {
	m := newMutation()
	for _, other := range mutations {
		for k, v := range other.Writes {
			if _, ok := m.Writes[k]; ok {
				panic(fmt.Sprintf("ledger: key %q written twice in one mutation", k))
			}
			m.Writes[k] = v
		}
		for k, p := range other.Preconditions {
			if _, ok := m.Preconditions[k]; ok {
				panic(fmt.Sprintf("ledger: key %q conditioned twice in one mutation", k))
			}
			m.Preconditions[k] = p
		}
	}
	return m
}

// Apply mutations atomically
func Apply(ctx context.Context, s store.Store, mutations ...Mutation) error {
	m := Merge(mutations...)
	return s.AtomicUpdate(ctx, m.Writes, m.Preconditions)
}
