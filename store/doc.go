// Package store provides an in-memory, DynamoDB-shaped data layer for entity kinds
// that reference each other without a foreign-key engine.
//
// A [Store] holds one entity kind. Entities are kept as DynamoDB items
// (map[string]types.AttributeValue) and cross the store boundary only through
// attributevalue marshalling, so every value handed out is an independent copy
// and no caller-owned value is ever retained.
//
// # Key Features
//
//   - Generic CRUD over any struct implementing [Entity]
//   - Filter lookups: [Equals], [EqualsAnyOf], [InArray]
//   - Optimistic locking with a version attribute ([Store.Put], [Store.Transact])
//   - Change records for every committed write ([Change], [Recorder])
//   - Sealed kinds whose membership is fixed after seeding
//   - Configurable partitioning to reduce lock contention
//
// # Entity Interface
//
// All entities must implement the [Entity] interface:
//
//	type Entity interface {
//	    GetID() string
//	    GetVersion() int64
//	}
//
// The mapping between struct fields and item attributes is defined with
// `dynamodbav` struct tags. The attributes "id" and "version" are required.
//
// # Schemas
//
// A [Schema] describes how a kind is created and patched:
//
//	users := store.New(store.Schema[User, CreateUser, UserPatch]{
//	    Table: "users",
//	    Type:  "user",
//	    New:   newUser,
//	    Merge: mergeUser,
//	}, store.DefaultConfig())
//
// # Change Records
//
// Writes report a [Change] to the [Recorder] carried by the context, if any.
// Package stream turns those changes into DynamoDB stream records and routes
// them to cascade hooks.
//
// # Errors
//
// The package defines domain-specific errors:
//
//   - [ErrNotFound] - entity doesn't exist
//   - [ErrParentNotFound] - a referenced parent doesn't exist
//   - [ErrAlreadyExists] - entity with ID already exists
//   - [ErrForbiddenOperation] - create or delete on a sealed kind
//   - [ErrContractViolation] - malformed filter or input
//   - [ErrConcurrentModification] - optimistic lock failed
//
// [Conflict] is not a failure: it reports a cascade that was skipped so that
// existing state would not be overwritten.
package store
