// Package relation keeps the four entity stores consistent with each other.
//
// A Coordinator owns one store per entity kind. Every mutation goes through it:
// the primary write is recorded as a stream record, and the records are drained
// through cascade hooks before the call returns. Hooks may write in turn; their
// records are drained in the same pass.
//
// Cascades use optimistic versions. A read-modify-write that loses a race is
// retried up to Config.MaxRetries times, so concurrent callers never overwrite
// each other's updates.
package relation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jacentio/lattice/model"
	"github.com/jacentio/lattice/store"
	"github.com/jacentio/lattice/stream"
)

type (
	userStore       = store.Store[model.User, model.CreateUserInput, model.UserPatch]
	profileStore    = store.Store[model.Profile, model.CreateProfileInput, model.ProfilePatch]
	postStore       = store.Store[model.Post, model.CreatePostInput, model.PostPatch]
	memberTypeStore = store.Store[model.MemberType, struct{}, model.MemberTypePatch]
)

// Coordinator owns the entity stores and runs cross-entity cascades.
type Coordinator struct {
	users       *userStore
	profiles    *profileStore
	posts       *postStore
	memberTypes *memberTypeStore

	registry *store.Registry
	tables   map[string]store.Table
	handler  *stream.Handler
	config   Config
	logger   *slog.Logger

	// Held while an index is synced to one post's or profile's stored state.
	syncing keyLocks
}

// New creates a Coordinator with empty user, profile and post stores and
// seeded member types.
func New(cfg Config, logger *slog.Logger) (*Coordinator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Coordinator{
		users:       store.New(model.UserSchema(), cfg.Store),
		profiles:    store.New(model.ProfileSchema(), cfg.Store),
		posts:       store.New(model.PostSchema(), cfg.Store),
		memberTypes: store.New(model.MemberTypeSchema(), cfg.Store),
		registry:    store.NewRegistry(),
		handler:     stream.NewHandler(logger),
		config:      cfg,
		logger:      logger,
	}
	c.tables = map[string]store.Table{
		model.TableUsers:       c.users,
		model.TableProfiles:    c.profiles,
		model.TablePosts:       c.posts,
		model.TableMemberTypes: c.memberTypes,
	}

	if err := c.memberTypes.Seed(context.Background(), cfg.seeds()...); err != nil {
		return nil, fmt.Errorf("seed member types: %w", err)
	}

	c.registerRelationships()
	c.registerHooks()
	return c, nil
}

func (c *Coordinator) registerRelationships() {
	c.registry.Register(store.Relationship{
		ParentType:     model.TypeUser,
		ParentTable:    model.TableUsers,
		ChildType:      model.TypePost,
		ChildTableName: model.TablePosts,
		ParentKeyAttr:  model.AttrUserID,
		Owned:          true,
	})
	c.registry.Register(store.Relationship{
		ParentType:     model.TypeUser,
		ParentTable:    model.TableUsers,
		ChildType:      model.TypeProfile,
		ChildTableName: model.TableProfiles,
		ParentKeyAttr:  model.AttrUserID,
		Owned:          true,
	})
	c.registry.Register(store.Relationship{
		ParentType:     model.TypeMemberType,
		ParentTable:    model.TableMemberTypes,
		ChildType:      model.TypeProfile,
		ChildTableName: model.TableProfiles,
		ParentKeyAttr:  model.AttrMemberTypeID,
	})
}

// Users returns a read-only view of the user store.
func (c *Coordinator) Users() store.Reader[model.User] { return c.users }

// Profiles returns a read-only view of the profile store.
func (c *Coordinator) Profiles() store.Reader[model.Profile] { return c.profiles }

// Posts returns a read-only view of the post store.
func (c *Coordinator) Posts() store.Reader[model.Post] { return c.posts }

// MemberTypes returns a read-only view of the member type store.
func (c *Coordinator) MemberTypes() store.Reader[model.MemberType] { return c.memberTypes }

// Registry returns the relationships between entity kinds.
func (c *Coordinator) Registry() *store.Registry { return c.registry }

// Counts returns the number of entities per table.
func (c *Coordinator) Counts(ctx context.Context) (map[string]int, error) {
	out := make(map[string]int, len(c.tables))
	for name, t := range c.tables {
		n, err := t.Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", name, err)
		}
		out[name] = n
	}
	return out, nil
}

type cascadeKey struct{}

// run executes fn and then drains the cascades of every write it made.
// Inside a cascade, fn runs directly and its writes join the outer drain.
func (c *Coordinator) run(ctx context.Context, fn func(ctx context.Context) error) ([]*store.Conflict, error) {
	if ctx.Value(cascadeKey{}) != nil {
		return nil, fn(ctx)
	}

	ctx, q := stream.Capture(context.WithValue(ctx, cascadeKey{}, true))
	if err := fn(ctx); err != nil {
		return nil, err
	}
	conflicts, err := c.handler.Drain(ctx, q)
	if err != nil {
		return conflicts, fmt.Errorf("cascade: %w", err)
	}
	c.logger.Debug("cascades drained", "records", q.Total(), "conflicts", len(conflicts))
	return conflicts, nil
}

// --- Users ---

// CreateUser creates a user with no profile, posts or subscriptions.
func (c *Coordinator) CreateUser(ctx context.Context, in model.CreateUserInput) (model.User, error) {
	var u model.User
	_, err := c.run(ctx, func(ctx context.Context) error {
		var err error
		u, err = c.users.Create(ctx, in)
		return err
	})
	return u, err
}

// ChangeUser merges patch over a user.
func (c *Coordinator) ChangeUser(ctx context.Context, id string, patch model.UserPatch) (model.User, error) {
	var u model.User
	_, err := c.run(ctx, func(ctx context.Context) error {
		var err error
		u, err = c.users.Change(ctx, id, patch)
		return err
	})
	return u, err
}

// DeleteUser deletes a user together with their posts and profile, and removes
// them from every subscription list.
func (c *Coordinator) DeleteUser(ctx context.Context, id string) (model.User, error) {
	var u model.User
	_, err := c.run(ctx, func(ctx context.Context) error {
		var err error
		u, err = c.users.Delete(ctx, id)
		return err
	})
	return u, err
}

// --- Profiles ---

// CreateProfile creates a profile and links it to its user and member type.
// If the user already has a profile the new one is still created and the
// returned conflict says the user link was left untouched.
func (c *Coordinator) CreateProfile(ctx context.Context, in model.CreateProfileInput) (model.Profile, *store.Conflict, error) {
	var p model.Profile
	conflicts, err := c.run(ctx, func(ctx context.Context) error {
		if err := c.requireUser(ctx, in.UserID); err != nil {
			return err
		}
		if err := c.requireMemberType(ctx, in.MemberTypeID); err != nil {
			return err
		}
		var err error
		p, err = c.profiles.Create(ctx, in)
		return err
	})
	return p, firstConflict(conflicts), err
}

// ChangeProfile merges patch over a profile, moving it between member types
// when MemberTypeID changes.
func (c *Coordinator) ChangeProfile(ctx context.Context, id string, patch model.ProfilePatch) (model.Profile, error) {
	var p model.Profile
	_, err := c.run(ctx, func(ctx context.Context) error {
		if patch.MemberTypeID != nil {
			if err := c.requireMemberType(ctx, *patch.MemberTypeID); err != nil {
				return err
			}
		}
		var err error
		p, err = c.profiles.Change(ctx, id, patch)
		return err
	})
	return p, err
}

// DeleteProfile deletes a profile and unlinks it from its user and member type.
func (c *Coordinator) DeleteProfile(ctx context.Context, id string) (model.Profile, error) {
	var p model.Profile
	_, err := c.run(ctx, func(ctx context.Context) error {
		var err error
		p, err = c.profiles.Delete(ctx, id)
		return err
	})
	return p, err
}

// --- Posts ---

// CreatePost creates a post and adds it to its author's posts.
func (c *Coordinator) CreatePost(ctx context.Context, in model.CreatePostInput) (model.Post, error) {
	var p model.Post
	_, err := c.run(ctx, func(ctx context.Context) error {
		if err := c.requireUser(ctx, in.UserID); err != nil {
			return err
		}
		var err error
		p, err = c.posts.Create(ctx, in)
		return err
	})
	return p, err
}

// ChangePost merges patch over a post.
func (c *Coordinator) ChangePost(ctx context.Context, id string, patch model.PostPatch) (model.Post, error) {
	var p model.Post
	_, err := c.run(ctx, func(ctx context.Context) error {
		var err error
		p, err = c.posts.Change(ctx, id, patch)
		return err
	})
	return p, err
}

// DeletePost deletes a post and removes it from its author's posts.
func (c *Coordinator) DeletePost(ctx context.Context, id string) (model.Post, error) {
	var p model.Post
	_, err := c.run(ctx, func(ctx context.Context) error {
		var err error
		p, err = c.posts.Delete(ctx, id)
		return err
	})
	return p, err
}

// --- Member types ---

// ChangeMemberType changes a member type's discount or monthly post limit.
func (c *Coordinator) ChangeMemberType(ctx context.Context, id string, patch model.MemberTypePatch) (model.MemberType, error) {
	var mt model.MemberType
	_, err := c.run(ctx, func(ctx context.Context) error {
		var err error
		mt, err = c.memberTypes.Change(ctx, id, patch)
		return err
	})
	return mt, err
}

// CreateMemberType always fails with store.ErrForbiddenOperation.
func (c *Coordinator) CreateMemberType(ctx context.Context, _ model.MemberType) (model.MemberType, error) {
	return c.memberTypes.Create(ctx, struct{}{})
}

// DeleteMemberType always fails with store.ErrForbiddenOperation.
func (c *Coordinator) DeleteMemberType(ctx context.Context, id string) (model.MemberType, error) {
	return c.memberTypes.Delete(ctx, id)
}

// requireUser fails with store.ErrParentNotFound unless the user exists.
func (c *Coordinator) requireUser(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: missing %s id", store.ErrContractViolation, model.TypeUser)
	}
	if _, err := c.users.Get(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s %s", store.ErrParentNotFound, model.TypeUser, id)
		}
		return err
	}
	return nil
}

// requireMemberType fails with store.ErrParentNotFound unless the member type exists.
func (c *Coordinator) requireMemberType(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: missing %s id", store.ErrContractViolation, model.TypeMemberType)
	}
	if _, err := c.memberTypes.Get(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s %s", store.ErrParentNotFound, model.TypeMemberType, id)
		}
		return err
	}
	return nil
}

func firstConflict(conflicts []*store.Conflict) *store.Conflict {
	if len(conflicts) == 0 {
		return nil
	}
	return conflicts[0]
}
