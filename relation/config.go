package relation

import (
	"fmt"
	"sort"

	"github.com/jacentio/lattice/model"
	"github.com/jacentio/lattice/store"
)

// MemberTypeSeed overrides the scalar fields of a seeded member type.
// Nil fields keep the built-in default.
type MemberTypeSeed struct {
	Discount        *int `yaml:"discount"`
	MonthPostsLimit *int `yaml:"month_posts_limit"`
}

// Config holds configuration for a Coordinator.
type Config struct {
	// Store configures every entity store.
	Store store.Config `yaml:"store"`

	// MaxRetries is the number of attempts a cascade makes when a
	// read-modify-write loses an optimistic lock race.
	// Default: 8
	// Max: 1000
	MaxRetries int `yaml:"max_retries"`

	// MemberTypes overrides seeded member types by id ("basic", "business").
	MemberTypes map[string]MemberTypeSeed `yaml:"member_types"`
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		Store:      store.DefaultConfig(),
		MaxRetries: 8,
	}
}

// validate clamps numeric settings and rejects unknown member types.
func (c *Config) validate() error {
	if c.MaxRetries < 1 {
		c.MaxRetries = 1
	}
	if c.MaxRetries > 1000 {
		c.MaxRetries = 1000
	}

	var unknown []string
	for id := range c.MemberTypes {
		if !model.IsMemberType(id) {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: unknown member types %v", store.ErrContractViolation, unknown)
	}
	return nil
}

// seeds returns the member types to seed, with overrides applied.
func (c *Config) seeds() []model.MemberType {
	mts := model.DefaultMemberTypes()
	for i, mt := range mts {
		seed, ok := c.MemberTypes[mt.ID]
		if !ok {
			continue
		}
		if seed.Discount != nil {
			mts[i].Discount = *seed.Discount
		}
		if seed.MonthPostsLimit != nil {
			mts[i].MonthPostsLimit = *seed.MonthPostsLimit
		}
	}
	return mts
}
