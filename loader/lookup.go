package loader

import (
	"context"

	"github.com/jacentio/lattice/model"
)

// User returns the user with the given id. The boolean is false if it doesn't exist.
func (l *Loaders) User(ctx context.Context, id string) (model.User, bool, error) {
	u, err := l.Users.Load(ctx, id)()
	if err != nil || u == nil {
		return model.User{}, false, err
	}
	return u.Clone(), true, nil
}

// UsersByID returns the existing users among ids, in the order of ids.
func (l *Loaders) UsersByID(ctx context.Context, ids []string) ([]model.User, error) {
	found, errs := l.Users.LoadMany(ctx, ids)()
	out := make([]model.User, 0, len(found))
	for i, u := range found {
		if len(errs) > i && errs[i] != nil {
			return nil, errs[i]
		}
		if u != nil {
			out = append(out, u.Clone())
		}
	}
	return out, nil
}

// Profile returns the profile with the given id.
func (l *Loaders) Profile(ctx context.Context, id string) (model.Profile, bool, error) {
	p, err := l.Profiles.Load(ctx, id)()
	if err != nil || p == nil {
		return model.Profile{}, false, err
	}
	return p.Clone(), true, nil
}

// ProfileOfUser returns the profile owned by userID.
func (l *Loaders) ProfileOfUser(ctx context.Context, userID string) (model.Profile, bool, error) {
	p, err := l.ProfilesByUser.Load(ctx, userID)()
	if err != nil || p == nil {
		return model.Profile{}, false, err
	}
	return p.Clone(), true, nil
}

// PostsOfUser returns the posts authored by userID.
func (l *Loaders) PostsOfUser(ctx context.Context, userID string) ([]model.Post, error) {
	posts, err := l.Posts.Load(ctx, userID)()
	if err != nil {
		return nil, err
	}
	out := make([]model.Post, len(posts))
	for i, p := range posts {
		out[i] = p.Clone()
	}
	return out, nil
}

// MemberType returns the member type with the given id.
func (l *Loaders) MemberType(ctx context.Context, id string) (model.MemberType, bool, error) {
	mt, err := l.MemberTypes.Load(ctx, id)()
	if err != nil || mt == nil {
		return model.MemberType{}, false, err
	}
	return mt.Clone(), true, nil
}
