package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/lattice/internal/shard"
)

// record is a stored item. Items are replaced on write, never mutated in place,
// so a record pointer taken under lock stays readable after unlocking.
type record struct {
	item map[string]types.AttributeValue
	seq  uint64
}

// partition is one lock domain of a Store.
type partition struct {
	mu    sync.RWMutex
	items map[string]*record
}

// Store provides in-memory CRUD for one entity kind.
type Store[T Entity, C any, P any] struct {
	schema  Schema[T, C, P]
	config  Config
	parts   []*partition
	inserts atomic.Uint64
	changes atomic.Uint64
	seeded  atomic.Bool
	now     func() time.Time
}

// New creates a new Store for the kind described by schema.
func New[T Entity, C any, P any](schema Schema[T, C, P], config Config) *Store[T, C, P] {
	config.validate()
	if schema.NewID == nil {
		schema.NewID = uuid.NewString
	}
	parts := make([]*partition, config.NumShards)
	for i := range parts {
		parts[i] = &partition{items: make(map[string]*record)}
	}
	return &Store[T, C, P]{
		schema: schema,
		config: config,
		parts:  parts,
		now:    time.Now,
	}
}

// Table returns the table name.
func (s *Store[T, C, P]) Table() string {
	return s.schema.Table
}

// Type returns the entity type name.
func (s *Store[T, C, P]) Type() string {
	return s.schema.Type
}

// Seed inserts fixed entities, keeping their IDs. It may be called once,
// and is the only way entities of a sealed kind come to exist.
func (s *Store[T, C, P]) Seed(ctx context.Context, entities ...T) error {
	if !s.seeded.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %s already seeded", ErrForbiddenOperation, s.schema.Type)
	}
	for _, e := range entities {
		id := e.GetID()
		if id == "" {
			return fmt.Errorf("%w: seed %s without id", ErrContractViolation, s.schema.Type)
		}
		item, err := s.encode(e)
		if err != nil {
			return err
		}
		now := s.now()
		stamp(item, 1, now)
		if err := s.insert(id, item); err != nil {
			return err
		}
		s.emit(ctx, EventInsert, id, nil, item, now)
	}
	return nil
}

// Create creates a new entity with a generated ID.
func (s *Store[T, C, P]) Create(ctx context.Context, in C) (T, error) {
	var zero T
	if s.schema.Sealed || s.schema.New == nil {
		return zero, fmt.Errorf("%w: cannot create a %s", ErrForbiddenOperation, s.schema.Type)
	}
	if s.schema.Validate != nil {
		if err := s.schema.Validate(in); err != nil {
			return zero, fmt.Errorf("%w: create %s: %w", ErrContractViolation, s.schema.Type, err)
		}
	}

	id := s.schema.NewID()
	item, err := s.encode(s.schema.New(id, in))
	if err != nil {
		return zero, err
	}
	item[AttrID] = &types.AttributeValueMemberS{Value: id}
	now := s.now()
	stamp(item, 1, now)

	if err := s.insert(id, item); err != nil {
		return zero, err
	}
	s.emit(ctx, EventInsert, id, nil, item, now)
	return s.decode(item)
}

// Get retrieves an entity by ID, returning ErrNotFound if missing.
func (s *Store[T, C, P]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	p := s.partitionFor(id)
	p.mu.RLock()
	rec, ok := p.items[id]
	p.mu.RUnlock()
	if !ok {
		return zero, s.notFound(id)
	}
	return s.decode(rec.item)
}

// FindMany returns all entities matching every filter, in insertion order.
// With no filters it returns every entity.
func (s *Store[T, C, P]) FindMany(ctx context.Context, filters ...Filter) ([]T, error) {
	compiled, err := compileAll(filters)
	if err != nil {
		return nil, err
	}

	out := make([]T, 0)
	for _, rec := range s.snapshot() {
		ok, err := matchAll(compiled, rec.item)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		v, err := s.decode(rec.item)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// FindOne returns the first entity matching f in insertion order.
// The boolean is false when nothing matches; that is not an error.
func (s *Store[T, C, P]) FindOne(ctx context.Context, f Filter) (T, bool, error) {
	var zero T
	compiled, err := f.compile()
	if err != nil {
		return zero, false, err
	}

	for _, rec := range s.snapshot() {
		ok, err := compiled.match(rec.item)
		if err != nil {
			return zero, false, err
		}
		if ok {
			v, err := s.decode(rec.item)
			return v, err == nil, err
		}
	}
	return zero, false, nil
}

// Count returns the number of entities matching every filter.
func (s *Store[T, C, P]) Count(ctx context.Context, filters ...Filter) (int, error) {
	compiled, err := compileAll(filters)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range s.snapshot() {
		ok, err := matchAll(compiled, rec.item)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

// Change merges patch over the stored entity. Immutable attributes keep
// their stored values. Returns ErrNotFound if the entity doesn't exist.
func (s *Store[T, C, P]) Change(ctx context.Context, id string, patch P) (T, error) {
	var zero T
	p := s.partitionFor(id)
	now := s.now()

	p.mu.Lock()
	rec, ok := p.items[id]
	if !ok {
		p.mu.Unlock()
		return zero, s.notFound(id)
	}
	cur, err := s.decode(rec.item)
	if err != nil {
		p.mu.Unlock()
		return zero, err
	}
	next, err := s.encode(s.schema.Merge(cur, patch))
	if err != nil {
		p.mu.Unlock()
		return zero, err
	}
	item := s.carry(rec.item, next)
	stamp(item, versionOf(rec.item)+1, now)
	p.items[id] = &record{item: item, seq: rec.seq}
	p.mu.Unlock()

	s.emit(ctx, EventModify, id, rec.item, item, now)
	return s.decode(item)
}

// Put replaces the stored entity with v using optimistic locking.
// v must carry the version it was read at; a mismatch returns
// ErrConcurrentModification and leaves the stored entity untouched.
func (s *Store[T, C, P]) Put(ctx context.Context, v T) (T, error) {
	out, err := s.Transact(ctx, v)
	if err != nil {
		var zero T
		return zero, err
	}
	return out[0], nil
}

// Transact replaces several entities of this kind atomically.
// Every entity must exist at the version it carries, otherwise nothing is written.
func (s *Store[T, C, P]) Transact(ctx context.Context, entities ...T) ([]T, error) {
	if len(entities) == 0 {
		return nil, nil
	}

	ids := make([]string, len(entities))
	nexts := make([]map[string]types.AttributeValue, len(entities))
	for i, e := range entities {
		ids[i] = e.GetID()
		if slices.Contains(ids[:i], ids[i]) {
			return nil, fmt.Errorf("%w: %s %s appears twice in one transaction",
				ErrContractViolation, s.schema.Type, ids[i])
		}
		item, err := s.encode(e)
		if err != nil {
			return nil, err
		}
		nexts[i] = item
	}

	now := s.now()
	olds := make([]map[string]types.AttributeValue, len(entities))
	unlock := s.lockPartitions(shard.Indexes(ids, len(s.parts)))

	// 1. Condition checks
	for i, id := range ids {
		p := s.partitionFor(id)
		rec, ok := p.items[id]
		if !ok {
			unlock()
			return nil, s.notFound(id)
		}
		if stored := versionOf(rec.item); stored != entities[i].GetVersion() {
			unlock()
			return nil, fmt.Errorf("%w: %s %s at version %d, expected %d",
				ErrConcurrentModification, s.schema.Type, id, stored, entities[i].GetVersion())
		}
		olds[i] = rec.item
	}

	// 2. Writes
	for i, id := range ids {
		p := s.partitionFor(id)
		item := s.carry(olds[i], nexts[i])
		stamp(item, versionOf(olds[i])+1, now)
		p.items[id] = &record{item: item, seq: p.items[id].seq}
		nexts[i] = item
	}
	unlock()

	out := make([]T, len(entities))
	for i, id := range ids {
		s.emit(ctx, EventModify, id, olds[i], nexts[i], now)
		v, err := s.decode(nexts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Delete removes an entity and returns its last value.
// Returns ErrNotFound if the entity doesn't exist.
func (s *Store[T, C, P]) Delete(ctx context.Context, id string) (T, error) {
	var zero T
	if s.schema.Sealed {
		return zero, fmt.Errorf("%w: cannot delete a %s", ErrForbiddenOperation, s.schema.Type)
	}

	p := s.partitionFor(id)
	now := s.now()
	p.mu.Lock()
	rec, ok := p.items[id]
	if !ok {
		p.mu.Unlock()
		return zero, s.notFound(id)
	}
	delete(p.items, id)
	p.mu.Unlock()

	s.emit(ctx, EventRemove, id, rec.item, nil, now)
	return s.decode(rec.item)
}

// DeleteWhere removes every entity matching f and returns how many were removed.
// Each removal is reported as its own change.
func (s *Store[T, C, P]) DeleteWhere(ctx context.Context, f Filter) (int, error) {
	if s.schema.Sealed {
		return 0, fmt.Errorf("%w: cannot delete a %s", ErrForbiddenOperation, s.schema.Type)
	}
	compiled, err := f.compile()
	if err != nil {
		return 0, err
	}

	all := make([]int, len(s.parts))
	for i := range all {
		all[i] = i
	}
	now := s.now()
	unlock := s.lockPartitions(all)

	type removed struct {
		id  string
		rec *record
	}
	var victims []removed
	for _, p := range s.parts {
		for id, rec := range p.items {
			ok, err := compiled.match(rec.item)
			if err != nil {
				unlock()
				return 0, err
			}
			if ok {
				victims = append(victims, removed{id: id, rec: rec})
			}
		}
	}
	for _, v := range victims {
		delete(s.partitionFor(v.id).items, v.id)
	}
	unlock()

	slices.SortFunc(victims, func(a, b removed) int { return cmp.Compare(a.rec.seq, b.rec.seq) })
	for _, v := range victims {
		s.emit(ctx, EventRemove, v.id, v.rec.item, nil, now)
	}
	return len(victims), nil
}

// insert adds a new item, failing if the ID is taken.
func (s *Store[T, C, P]) insert(id string, item map[string]types.AttributeValue) error {
	p := s.partitionFor(id)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.items[id]; exists {
		return fmt.Errorf("%w: %s %s", ErrAlreadyExists, s.schema.Type, id)
	}
	p.items[id] = &record{item: item, seq: s.inserts.Add(1)}
	return nil
}

// snapshot returns every record in insertion order.
func (s *Store[T, C, P]) snapshot() []*record {
	for _, p := range s.parts {
		p.mu.RLock()
	}
	var out []*record
	for _, p := range s.parts {
		for _, rec := range p.items {
			out = append(out, rec)
		}
	}
	for _, p := range s.parts {
		p.mu.RUnlock()
	}
	slices.SortFunc(out, func(a, b *record) int { return cmp.Compare(a.seq, b.seq) })
	return out
}

// partitionFor returns the partition owning id.
func (s *Store[T, C, P]) partitionFor(id string) *partition {
	return s.parts[shard.Index(id, len(s.parts))]
}

// lockPartitions write-locks the given partitions in order and returns the unlock func.
func (s *Store[T, C, P]) lockPartitions(idxs []int) func() {
	for _, i := range idxs {
		s.parts[i].mu.Lock()
	}
	return func() {
		for j := len(idxs) - 1; j >= 0; j-- {
			s.parts[idxs[j]].mu.Unlock()
		}
	}
}

// carry copies the identity, creation time and immutable attributes of old into next.
func (s *Store[T, C, P]) carry(old, next map[string]types.AttributeValue) map[string]types.AttributeValue {
	keep := append([]string{AttrID, AttrCreatedAt}, s.schema.Immutable...)
	for _, attr := range keep {
		if v, ok := old[attr]; ok {
			next[attr] = v
		} else {
			delete(next, attr)
		}
	}
	return next
}

// emit reports a committed write to the context's recorder, if any.
func (s *Store[T, C, P]) emit(ctx context.Context, event, id string, oldItem, newItem map[string]types.AttributeValue, at time.Time) {
	r := RecorderFrom(ctx)
	if r == nil {
		return
	}
	r.Record(Change{
		EventName: event,
		Table:     s.schema.Table,
		Partition: shard.Label(s.schema.Table, shard.Index(id, len(s.parts))),
		Key:       id,
		OldImage:  oldItem,
		NewImage:  newItem,
		Sequence:  s.changes.Add(1),
		At:        at,
	})
}

// encode marshals an entity into a fresh item.
func (s *Store[T, C, P]) encode(v T) (map[string]types.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal %s: %w", ErrContractViolation, s.schema.Type, err)
	}
	return item, nil
}

// decode unmarshals an item into a fresh entity.
func (s *Store[T, C, P]) decode(item map[string]types.AttributeValue) (T, error) {
	var v T
	if err := attributevalue.UnmarshalMap(item, &v); err != nil {
		return v, fmt.Errorf("unmarshal %s: %w", s.schema.Type, err)
	}
	return v, nil
}

func (s *Store[T, C, P]) notFound(id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, s.schema.Type, id)
}

// compileAll compiles a filter list.
func compileAll(filters []Filter) ([]compiledFilter, error) {
	out := make([]compiledFilter, 0, len(filters))
	for _, f := range filters {
		cf, err := f.compile()
		if err != nil {
			return nil, err
		}
		out = append(out, cf)
	}
	return out, nil
}

// stamp sets the managed version and timestamp attributes.
func stamp(item map[string]types.AttributeValue, version int64, now time.Time) {
	ts := &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339Nano)}
	item[AttrVersion] = &types.AttributeValueMemberN{Value: strconv.FormatInt(version, 10)}
	item[AttrUpdatedAt] = ts
	if _, ok := item[AttrCreatedAt]; !ok {
		item[AttrCreatedAt] = ts
	}
}

// versionOf reads the version attribute of an item (0 if absent).
func versionOf(item map[string]types.AttributeValue) int64 {
	n, ok := item[AttrVersion].(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	v, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
