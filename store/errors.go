package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an entity doesn't exist.
	ErrNotFound = errors.New("lattice: entity not found")

	// ErrParentNotFound is returned when a referenced parent entity doesn't exist.
	ErrParentNotFound = errors.New("lattice: parent entity not found")

	// ErrAlreadyExists is returned when attempting to insert an entity with an existing ID.
	ErrAlreadyExists = errors.New("lattice: entity already exists")

	// ErrForbiddenOperation is returned when creating or deleting an entity of a sealed kind.
	ErrForbiddenOperation = errors.New("lattice: forbidden operation")

	// ErrContractViolation is returned for malformed filters or inputs.
	// It indicates a caller bug and is never retried.
	ErrContractViolation = errors.New("lattice: contract violation")

	// ErrConcurrentModification is returned when optimistic lock fails (version mismatch).
	ErrConcurrentModification = errors.New("lattice: entity was modified concurrently")
)

// Conflict reports a cascade that was not applied because it would have
// overwritten existing state. The write that triggered it stays committed.
type Conflict struct {
	// EntityType is the kind whose state was left untouched (e.g., "user").
	EntityType string

	// ID is the entity left untouched.
	ID string

	// Reason is a human-readable description (e.g., "user already has a profile").
	Reason string
}

// Error implements the error interface so conflicts can travel through hook returns.
func (c *Conflict) Error() string {
	return fmt.Sprintf("lattice: conflict on %s %s: %s", c.EntityType, c.ID, c.Reason)
}
