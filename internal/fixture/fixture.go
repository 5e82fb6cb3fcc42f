// Package fixture describes entity graphs in YAML and applies them through a
// coordinator, so every write runs its cascades.
//
// Entities are referenced by fixture keys rather than ids, since ids are
// assigned on create:
//
//	users:
//	  - key: ada
//	    first_name: Ada
//	profiles:
//	  - user: ada
//	    member_type_id: business
//	posts:
//	  - author: ada
//	    title: Notes
//	subscriptions:
//	  - subscriber: bob
//	    target: ada
//	delete:
//	  users: [bob]
package fixture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/jacentio/lattice/model"
	"github.com/jacentio/lattice/store"
)

// ErrUnknownKey is returned when a fixture references a key it never defined.
var ErrUnknownKey = errors.New("lattice: unknown fixture key")

// ErrDuplicateKey is returned when two entities of one kind share a key.
var ErrDuplicateKey = errors.New("lattice: duplicate fixture key")

// Graph is a fixture document.
type Graph struct {
	MemberTypes   map[string]model.MemberTypePatch `yaml:"member_types"`
	Users         []User                           `yaml:"users"`
	Profiles      []Profile                        `yaml:"profiles"`
	Posts         []Post                           `yaml:"posts"`
	Subscriptions []Subscription                   `yaml:"subscriptions"`
	Delete        Deletions                        `yaml:"delete"`
}

// User creates a user. Key is optional.
type User struct {
	Key                   string `yaml:"key"`
	model.CreateUserInput `yaml:",inline"`
}

// Profile creates a profile. User names the owner by key; when empty the
// inline user_id is used as is.
type Profile struct {
	Key                      string `yaml:"key"`
	User                     string `yaml:"user"`
	model.CreateProfileInput `yaml:",inline"`
}

// Post creates a post. Author names the owner by key; when empty the inline
// user_id is used as is.
type Post struct {
	Key                   string `yaml:"key"`
	Author                string `yaml:"author"`
	model.CreatePostInput `yaml:",inline"`
}

// Subscription makes Subscriber follow Target. Both are user keys.
type Subscription struct {
	Subscriber string `yaml:"subscriber"`
	Target     string `yaml:"target"`
}

// Deletions lists keys to delete after everything else is applied.
// Posts go first, then profiles, then users.
type Deletions struct {
	Users    []string `yaml:"users"`
	Profiles []string `yaml:"profiles"`
	Posts    []string `yaml:"posts"`
}

// Coordinator is the write surface a fixture needs. *relation.Coordinator
// satisfies it.
type Coordinator interface {
	ChangeMemberType(ctx context.Context, id string, patch model.MemberTypePatch) (model.MemberType, error)
	CreateUser(ctx context.Context, in model.CreateUserInput) (model.User, error)
	CreateProfile(ctx context.Context, in model.CreateProfileInput) (model.Profile, *store.Conflict, error)
	CreatePost(ctx context.Context, in model.CreatePostInput) (model.Post, error)
	Subscribe(ctx context.Context, subscriberID, targetID string) (model.User, error)
	DeleteUser(ctx context.Context, id string) (model.User, error)
	DeleteProfile(ctx context.Context, id string) (model.Profile, error)
	DeletePost(ctx context.Context, id string) (model.Post, error)
}

// Result maps fixture keys to the ids assigned on create.
type Result struct {
	Users    map[string]string
	Profiles map[string]string
	Posts    map[string]string

	// Conflicts holds cascades that were reported rather than applied.
	Conflicts []*store.Conflict
}

// Load reads a fixture file.
func Load(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	g, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return g, nil
}

// Parse decodes a fixture document. Unknown fields are rejected.
func Parse(data []byte) (*Graph, error) {
	var g Graph
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&g); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &g, nil
}

// Apply writes g through c in dependency order: member type changes, users,
// profiles, posts, subscriptions, then deletions. It stops at the first error;
// entities written before it stay written.
func Apply(ctx context.Context, c Coordinator, g *Graph) (*Result, error) {
	res := &Result{
		Users:    make(map[string]string),
		Profiles: make(map[string]string),
		Posts:    make(map[string]string),
	}

	for id, patch := range g.MemberTypes {
		if _, err := c.ChangeMemberType(ctx, id, patch); err != nil {
			return res, fmt.Errorf("member type %s: %w", id, err)
		}
	}

	for i, u := range g.Users {
		created, err := c.CreateUser(ctx, u.CreateUserInput)
		if err != nil {
			return res, fmt.Errorf("user %d: %w", i, err)
		}
		if err := remember(res.Users, "user", u.Key, created.ID); err != nil {
			return res, err
		}
	}

	for i, p := range g.Profiles {
		in := p.CreateProfileInput
		if p.User != "" {
			id, err := lookup(res.Users, "user", p.User)
			if err != nil {
				return res, fmt.Errorf("profile %d: %w", i, err)
			}
			in.UserID = id
		}
		created, conflict, err := c.CreateProfile(ctx, in)
		if err != nil {
			return res, fmt.Errorf("profile %d: %w", i, err)
		}
		if conflict != nil {
			res.Conflicts = append(res.Conflicts, conflict)
		}
		if err := remember(res.Profiles, "profile", p.Key, created.ID); err != nil {
			return res, err
		}
	}

	for i, p := range g.Posts {
		in := p.CreatePostInput
		if p.Author != "" {
			id, err := lookup(res.Users, "user", p.Author)
			if err != nil {
				return res, fmt.Errorf("post %d: %w", i, err)
			}
			in.UserID = id
		}
		created, err := c.CreatePost(ctx, in)
		if err != nil {
			return res, fmt.Errorf("post %d: %w", i, err)
		}
		if err := remember(res.Posts, "post", p.Key, created.ID); err != nil {
			return res, err
		}
	}

	for i, s := range g.Subscriptions {
		subscriber, err := lookup(res.Users, "user", s.Subscriber)
		if err != nil {
			return res, fmt.Errorf("subscription %d: %w", i, err)
		}
		target, err := lookup(res.Users, "user", s.Target)
		if err != nil {
			return res, fmt.Errorf("subscription %d: %w", i, err)
		}
		if _, err := c.Subscribe(ctx, subscriber, target); err != nil {
			return res, fmt.Errorf("subscription %d: %w", i, err)
		}
	}

	if err := deleteAll(ctx, res.Posts, "post", g.Delete.Posts, c.DeletePost); err != nil {
		return res, err
	}
	if err := deleteAll(ctx, res.Profiles, "profile", g.Delete.Profiles, c.DeleteProfile); err != nil {
		return res, err
	}
	if err := deleteAll(ctx, res.Users, "user", g.Delete.Users, c.DeleteUser); err != nil {
		return res, err
	}
	return res, nil
}

func deleteAll[T any](ctx context.Context, ids map[string]string, kind string, keys []string, del func(context.Context, string) (T, error)) error {
	for _, key := range keys {
		id, err := lookup(ids, kind, key)
		if err != nil {
			return fmt.Errorf("delete: %w", err)
		}
		if _, err := del(ctx, id); err != nil {
			return fmt.Errorf("delete %s %s: %w", kind, key, err)
		}
	}
	return nil
}

func remember(ids map[string]string, kind, key, id string) error {
	if key == "" {
		return nil
	}
	if _, ok := ids[key]; ok {
		return fmt.Errorf("%w: %s %q", ErrDuplicateKey, kind, key)
	}
	ids[key] = id
	return nil
}

func lookup(ids map[string]string, kind, key string) (string, error) {
	id, ok := ids[key]
	if !ok {
		return "", fmt.Errorf("%w: %s %q", ErrUnknownKey, kind, key)
	}
	return id, nil
}
