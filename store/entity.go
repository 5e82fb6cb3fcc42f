package store

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Managed item attributes.
const (
	AttrID        = "id"
	AttrVersion   = "version"
	AttrCreatedAt = "created_at"
	AttrUpdatedAt = "updated_at"
)

// Change event names, matching DynamoDB stream event names.
const (
	EventInsert = "INSERT"
	EventModify = "MODIFY"
	EventRemove = "REMOVE"
)

// Entity is the base interface for all storable types.
type Entity interface {
	// GetID returns the entity's unique identifier.
	GetID() string

	// GetVersion returns the optimistic lock version the value was read at.
	GetVersion() int64
}

// Schema describes one entity kind.
// T is the entity, C its create input and P its patch input.
type Schema[T Entity, C any, P any] struct {
	// Table is the table name (e.g., "users").
	Table string

	// Type is the entity type name (e.g., "user").
	Type string

	// New builds a fresh entity from a create input and a generated ID.
	// Nil for kinds that can only be seeded.
	New func(id string, in C) T

	// Merge applies a patch over the current value.
	Merge func(cur T, patch P) T

	// Validate optionally rejects malformed create inputs.
	Validate func(in C) error

	// Immutable lists attribute names that keep their stored value on
	// Change and Put (e.g., "user_id"). "id" is always immutable.
	Immutable []string

	// Sealed forbids Create and Delete once the kind is seeded.
	Sealed bool

	// NewID generates identifiers. Default: uuid.NewString.
	NewID func() string
}

// Reader is the read-only view of a Store.
type Reader[T Entity] interface {
	FindMany(ctx context.Context, filters ...Filter) ([]T, error)
	FindOne(ctx context.Context, f Filter) (T, bool, error)
	Get(ctx context.Context, id string) (T, error)
	Count(ctx context.Context, filters ...Filter) (int, error)
}

// Change describes one committed write.
type Change struct {
	// EventName is EventInsert, EventModify or EventRemove.
	EventName string

	// Table is the table the write happened in.
	Table string

	// Partition labels the partition that holds the item (e.g., "users#00").
	Partition string

	// Key is the entity ID.
	Key string

	// OldImage is the item before the write (nil for inserts).
	OldImage map[string]types.AttributeValue

	// NewImage is the item after the write (nil for removes).
	NewImage map[string]types.AttributeValue

	// Sequence orders changes within a store.
	Sequence uint64

	// At is the commit time.
	At time.Time
}

// Recorder receives committed changes.
type Recorder interface {
	Record(c Change)
}

type recorderKey struct{}

// WithRecorder returns a context whose writes are reported to r.
func WithRecorder(ctx context.Context, r Recorder) context.Context {
	return context.WithValue(ctx, recorderKey{}, r)
}

// RecorderFrom returns the recorder carried by ctx, or nil.
func RecorderFrom(ctx context.Context) Recorder {
	r, _ := ctx.Value(recorderKey{}).(Recorder)
	return r
}
