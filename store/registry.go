package store

import "context"

// Relationship defines a parent-child ownership relationship for cascade operations.
type Relationship struct {
	// ParentType is the parent entity type (e.g., "user").
	ParentType string

	// ParentTable is the table holding the parent (e.g., "users").
	ParentTable string

	// ChildType is the child entity type (e.g., "post").
	ChildType string

	// ChildTableName is the table name for the child (e.g., "posts").
	ChildTableName string

	// ParentKeyAttr is the attribute name in child that references parent (e.g., "user_id").
	ParentKeyAttr string

	// Owned marks children that are deleted together with their parent.
	Owned bool
}

// Table is the untyped view of a Store used by registry-driven cascades.
type Table interface {
	Table() string
	Type() string
	Count(ctx context.Context, filters ...Filter) (int, error)
	DeleteWhere(ctx context.Context, f Filter) (int, error)
}

// Registry holds all known entity relationships for cascade operations.
type Registry struct {
	relationships []Relationship
	byParent      map[string][]Relationship
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		relationships: []Relationship{},
		byParent:      make(map[string][]Relationship),
	}
}

// Register adds a relationship to the registry.
// This should be called once per parent-child relationship while wiring stores.
func (r *Registry) Register(rel Relationship) {
	r.relationships = append(r.relationships, rel)
	r.byParent[rel.ParentType] = append(r.byParent[rel.ParentType], rel)
}

// ChildrenOf returns all child relationships for a given parent type.
func (r *Registry) ChildrenOf(parentType string) []Relationship {
	return r.byParent[parentType]
}

// OwnedChildrenOf returns the child relationships deleted along with the parent.
func (r *Registry) OwnedChildrenOf(parentType string) []Relationship {
	var out []Relationship
	for _, rel := range r.byParent[parentType] {
		if rel.Owned {
			out = append(out, rel)
		}
	}
	return out
}

// AllRelationships returns all registered relationships.
func (r *Registry) AllRelationships() []Relationship {
	return r.relationships
}

// HasChildren returns true if the parent type has any registered child relationships.
func (r *Registry) HasChildren(parentType string) bool {
	return len(r.byParent[parentType]) > 0
}
