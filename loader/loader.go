// Package loader batches and caches entity lookups for the length of one
// logical request.
//
// A Loaders value is a scope. Every key requested through it within one batch
// window is resolved by a single FindMany scan of its entity kind, and each
// resolved key is cached until the scope is dropped. A new request gets a new
// scope, so values may be stale relative to writes made during the request.
//
// Loaders only read. Writes still go through the relation.Coordinator.
package loader

import (
	"context"
	"time"

	"github.com/graph-gophers/dataloader/v7"

	"github.com/jacentio/lattice/model"
	"github.com/jacentio/lattice/store"
)

// Source provides the readers the loaders scan. *relation.Coordinator satisfies it.
type Source interface {
	Users() store.Reader[model.User]
	Profiles() store.Reader[model.Profile]
	Posts() store.Reader[model.Post]
	MemberTypes() store.Reader[model.MemberType]
}

// Config holds configuration for a loader scope.
type Config struct {
	// Wait is how long a batch collects keys before it is dispatched.
	// Default: 16ms
	Wait time.Duration `yaml:"wait"`

	// BatchCapacity caps the keys per batch. 0 means unbounded.
	BatchCapacity int `yaml:"batch_capacity"`
}

// DefaultConfig returns the default loader configuration.
func DefaultConfig() Config {
	return Config{
		Wait: 16 * time.Millisecond,
	}
}

func (c *Config) validate() {
	if c.Wait < 0 {
		c.Wait = DefaultConfig().Wait
	}
	if c.BatchCapacity < 0 {
		c.BatchCapacity = 0
	}
}

// Loaders is one request scope of batched lookups.
type Loaders struct {
	// Users loads users by id.
	Users *dataloader.Loader[string, *model.User]

	// Profiles loads profiles by id.
	Profiles *dataloader.Loader[string, *model.Profile]

	// ProfilesByUser loads profiles by owning user id.
	ProfilesByUser *dataloader.Loader[string, *model.Profile]

	// Posts loads the posts authored by a user id.
	Posts *dataloader.Loader[string, []model.Post]

	// MemberTypes loads member types by id.
	MemberTypes *dataloader.Loader[string, *model.MemberType]
}

// New creates a fresh scope reading from src.
func New(src Source, cfg Config) *Loaders {
	cfg.validate()
	return &Loaders{
		Users:          dataloader.NewBatchedLoader(one(src.Users(), model.AttrID, model.User.GetID), options[*model.User](cfg)...),
		Profiles:       dataloader.NewBatchedLoader(one(src.Profiles(), model.AttrID, model.Profile.GetID), options[*model.Profile](cfg)...),
		ProfilesByUser: dataloader.NewBatchedLoader(one(src.Profiles(), model.AttrUserID, profileOwner), options[*model.Profile](cfg)...),
		Posts:          dataloader.NewBatchedLoader(many(src.Posts(), model.AttrUserID, postAuthor), options[[]model.Post](cfg)...),
		MemberTypes:    dataloader.NewBatchedLoader(one(src.MemberTypes(), model.AttrID, model.MemberType.GetID), options[*model.MemberType](cfg)...),
	}
}

func options[V any](cfg Config) []dataloader.Option[string, V] {
	opts := []dataloader.Option[string, V]{dataloader.WithWait[string, V](cfg.Wait)}
	if cfg.BatchCapacity > 0 {
		opts = append(opts, dataloader.WithBatchCapacity[string, V](cfg.BatchCapacity))
	}
	return opts
}

func profileOwner(p model.Profile) string { return p.UserID }
func postAuthor(p model.Post) string      { return p.UserID }

// one builds a batch function resolving each key to the first entity whose
// attr equals it, or nil.
func one[T store.Entity](r store.Reader[T], attr string, keyOf func(T) string) dataloader.BatchFunc[string, *T] {
	return func(ctx context.Context, keys []string) []*dataloader.Result[*T] {
		found, err := r.FindMany(ctx, store.EqualsAnyOf(attr, keys...))
		if err != nil {
			return failAll[*T](len(keys), err)
		}

		byKey := make(map[string]*T, len(found))
		for i := range found {
			k := keyOf(found[i])
			if _, ok := byKey[k]; !ok {
				byKey[k] = &found[i]
			}
		}

		results := make([]*dataloader.Result[*T], len(keys))
		for i, k := range keys {
			results[i] = &dataloader.Result[*T]{Data: byKey[k]}
		}
		return results
	}
}

// many builds a batch function resolving each key to every entity whose attr
// equals it, in insertion order.
func many[T store.Entity](r store.Reader[T], attr string, keyOf func(T) string) dataloader.BatchFunc[string, []T] {
	return func(ctx context.Context, keys []string) []*dataloader.Result[[]T] {
		found, err := r.FindMany(ctx, store.EqualsAnyOf(attr, keys...))
		if err != nil {
			return failAll[[]T](len(keys), err)
		}

		byKey := make(map[string][]T, len(keys))
		for _, v := range found {
			k := keyOf(v)
			byKey[k] = append(byKey[k], v)
		}

		results := make([]*dataloader.Result[[]T], len(keys))
		for i, k := range keys {
			vs := byKey[k]
			if vs == nil {
				vs = []T{}
			}
			results[i] = &dataloader.Result[[]T]{Data: vs}
		}
		return results
	}
}

func failAll[V any](n int, err error) []*dataloader.Result[V] {
	results := make([]*dataloader.Result[V], n)
	for i := range results {
		results[i] = &dataloader.Result[V]{Error: err}
	}
	return results
}

// Clear drops every cached value in the scope.
func (l *Loaders) Clear() {
	l.Users.ClearAll()
	l.Profiles.ClearAll()
	l.ProfilesByUser.ClearAll()
	l.Posts.ClearAll()
	l.MemberTypes.ClearAll()
}
