package relation

import (
	"context"
	"fmt"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/lattice/model"
	"github.com/jacentio/lattice/store"
)

// Invariant names reported by Verify.
const (
	InvariantProfileLink     = "profile-link"
	InvariantPostOwnership   = "post-ownership"
	InvariantMemberTypeIndex = "member-type-index"
	InvariantSubscription    = "mirrored-subscription"
	InvariantClosedSet       = "member-type-closure"
	InvariantOrphan          = "orphan"
)

// Violation is one broken invariant.
type Violation struct {
	Invariant  string `json:"invariant"`
	EntityType string `json:"entityType"`
	ID         string `json:"id"`
	Detail     string `json:"detail"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s %s: %s", v.Invariant, v.EntityType, v.ID, v.Detail)
}

// snapshot is a consistent-enough read of every store for verification.
type snapshot struct {
	users       []model.User
	profiles    []model.Profile
	posts       []model.Post
	memberTypes []model.MemberType

	userByID    map[string]model.User
	profileByID map[string]model.Profile
	postByID    map[string]model.Post
}

// Verify checks the cross-entity invariants and returns every violation found.
// It should run at a quiescent point; writes racing with it can show up as
// transient violations.
func (c *Coordinator) Verify(ctx context.Context) ([]Violation, error) {
	s, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var out []Violation
	out = append(out, s.profileLinks()...)
	out = append(out, s.postOwnership()...)
	out = append(out, s.memberTypeIndex()...)
	out = append(out, s.subscriptions()...)
	out = append(out, s.closedSet()...)

	orphans, err := c.orphans(ctx, s)
	if err != nil {
		return nil, err
	}
	return append(out, orphans...), nil
}

func (c *Coordinator) snapshot(ctx context.Context) (*snapshot, error) {
	s := &snapshot{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { s.users, err = c.users.FindMany(gctx); return err })
	g.Go(func() (err error) { s.profiles, err = c.profiles.FindMany(gctx); return err })
	g.Go(func() (err error) { s.posts, err = c.posts.FindMany(gctx); return err })
	g.Go(func() (err error) { s.memberTypes, err = c.memberTypes.FindMany(gctx); return err })
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	s.userByID = index(s.users)
	s.profileByID = index(s.profiles)
	s.postByID = index(s.posts)
	return s, nil
}

func index[T store.Entity](vs []T) map[string]T {
	m := make(map[string]T, len(vs))
	for _, v := range vs {
		m[v.GetID()] = v
	}
	return m
}

func (s *snapshot) profileLinks() []Violation {
	var out []Violation
	for _, u := range s.users {
		if !u.HasProfile() {
			continue
		}
		pid := aws.ToString(u.ProfileID)
		p, ok := s.profileByID[pid]
		switch {
		case !ok:
			out = append(out, Violation{InvariantProfileLink, model.TypeUser, u.ID, "links missing profile " + pid})
		case p.UserID != u.ID:
			out = append(out, Violation{InvariantProfileLink, model.TypeUser, u.ID, "links profile " + pid + " owned by " + p.UserID})
		}
	}
	for _, p := range s.profiles {
		u, ok := s.userByID[p.UserID]
		if ok && aws.ToString(u.ProfileID) != p.ID {
			out = append(out, Violation{InvariantProfileLink, model.TypeProfile, p.ID, "not linked by user " + p.UserID})
		}
	}
	return out
}

func (s *snapshot) postOwnership() []Violation {
	var out []Violation
	for _, p := range s.posts {
		u, ok := s.userByID[p.UserID]
		if ok && !slices.Contains(u.PostIDs, p.ID) {
			out = append(out, Violation{InvariantPostOwnership, model.TypePost, p.ID, "missing from posts of user " + p.UserID})
		}
	}
	for _, u := range s.users {
		for _, pid := range u.PostIDs {
			p, ok := s.postByID[pid]
			if !ok || p.UserID != u.ID {
				out = append(out, Violation{InvariantPostOwnership, model.TypeUser, u.ID, "lists post " + pid + " it doesn't own"})
			}
		}
	}
	return out
}

func (s *snapshot) memberTypeIndex() []Violation {
	var out []Violation
	for _, mt := range s.memberTypes {
		var want []string
		for _, p := range s.profiles {
			if p.MemberTypeID == mt.ID {
				want = append(want, p.ID)
			}
		}
		got := slices.Clone(mt.ProfileIDs)
		slices.Sort(got)
		slices.Sort(want)
		if !slices.Equal(got, want) {
			out = append(out, Violation{InvariantMemberTypeIndex, model.TypeMemberType, mt.ID,
				fmt.Sprintf("profile ids %v, referenced by %v", mt.ProfileIDs, want)})
		}
	}
	return out
}

func (s *snapshot) subscriptions() []Violation {
	var out []Violation
	for _, a := range s.users {
		for _, bID := range a.UserSubscribedToIDs {
			b, ok := s.userByID[bID]
			if !ok || !slices.Contains(b.SubscribedToUserIDs, a.ID) {
				out = append(out, Violation{InvariantSubscription, model.TypeUser, a.ID, "follows " + bID + " without a mirrored edge"})
			}
		}
		for _, bID := range a.SubscribedToUserIDs {
			b, ok := s.userByID[bID]
			if !ok || !slices.Contains(b.UserSubscribedToIDs, a.ID) {
				out = append(out, Violation{InvariantSubscription, model.TypeUser, a.ID, "followed by " + bID + " without a mirrored edge"})
			}
		}
	}
	return out
}

func (s *snapshot) closedSet() []Violation {
	var out []Violation
	seen := make(map[string]bool)
	for _, mt := range s.memberTypes {
		seen[mt.ID] = true
		if !model.IsMemberType(mt.ID) {
			out = append(out, Violation{InvariantClosedSet, model.TypeMemberType, mt.ID, "not a seeded member type"})
		}
	}
	for _, id := range []string{model.MemberTypeBasic, model.MemberTypeBusiness} {
		if !seen[id] {
			out = append(out, Violation{InvariantClosedSet, model.TypeMemberType, id, "seeded member type missing"})
		}
	}
	return out
}

// orphans counts, per registered relationship, children whose parent is gone.
func (c *Coordinator) orphans(ctx context.Context, s *snapshot) ([]Violation, error) {
	parents := map[string][]string{
		model.TableUsers:       ids(s.users),
		model.TableProfiles:    ids(s.profiles),
		model.TablePosts:       ids(s.posts),
		model.TableMemberTypes: ids(s.memberTypes),
	}

	var out []Violation
	for _, rel := range c.registry.AllRelationships() {
		table, ok := c.tables[rel.ChildTableName]
		if !ok {
			continue
		}
		total, err := table.Count(ctx)
		if err != nil {
			return nil, err
		}
		linked, err := table.Count(ctx, store.EqualsAnyOf(rel.ParentKeyAttr, parents[rel.ParentTable]...))
		if err != nil {
			return nil, err
		}
		if n := total - linked; n > 0 {
			out = append(out, Violation{InvariantOrphan, rel.ChildType, "",
				fmt.Sprintf("%d %s without a %s", n, rel.ChildTableName, rel.ParentType)})
		}
	}
	return out, nil
}

func ids[T store.Entity](vs []T) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.GetID()
	}
	return out
}
