package relation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/jacentio/lattice/internal/shard"
	"github.com/jacentio/lattice/store"
)

// versioned is the part of a Store used for optimistic read-modify-write.
type versioned[T store.Entity] interface {
	Get(ctx context.Context, id string) (T, error)
	Put(ctx context.Context, v T) (T, error)
}

// update applies fn to the current value of id and writes the result,
// retrying when another writer got there first. fn may run more than once.
// When fn reports no change nothing is written.
func update[T store.Entity](ctx context.Context, s versioned[T], id string, attempts int, fn func(cur T) (T, bool)) (T, error) {
	var zero T
	for attempt := 1; attempt <= attempts; attempt++ {
		cur, err := s.Get(ctx, id)
		if err != nil {
			return zero, err
		}
		next, changed := fn(cur)
		if !changed {
			return cur, nil
		}
		out, err := s.Put(ctx, next)
		if errors.Is(err, store.ErrConcurrentModification) {
			continue
		}
		return out, err
	}
	return zero, fmt.Errorf("%w: %s after %d attempts", store.ErrConcurrentModification, id, attempts)
}

// appendID adds id to ids unless present.
func appendID(ids []string, id string) ([]string, bool) {
	if slices.Contains(ids, id) {
		return ids, false
	}
	return append(slices.Clone(ids), id), true
}

// removeID drops every occurrence of id from ids.
func removeID(ids []string, id string) ([]string, bool) {
	if !slices.Contains(ids, id) {
		return ids, false
	}
	return slices.DeleteFunc(slices.Clone(ids), func(s string) bool { return s == id }), true
}

// keyLocks serializes work on the same entity id.
type keyLocks [64]sync.Mutex

// lock locks the stripe owning id and returns its unlock.
func (l *keyLocks) lock(id string) func() {
	mu := &l[shard.Index(id, len(l))]
	mu.Lock()
	return mu.Unlock
}
