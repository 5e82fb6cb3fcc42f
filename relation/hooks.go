package relation

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/lattice/model"
	"github.com/jacentio/lattice/store"
	"github.com/jacentio/lattice/stream"
)

// registerHooks routes store changes to cascades.
// Changes made through the Coordinator's own stores are settled against the
// current stored state rather than the change images, because two callers
// may drain changes to the same entity in either order.
func (c *Coordinator) registerHooks() {
	c.handler.On(model.TablePosts, store.EventInsert, func(ctx context.Context, r events.DynamoDBEventRecord) error {
		post, err := stream.DecodeImage[model.Post](r.Change.NewImage)
		if err != nil {
			return err
		}
		return c.syncPost(ctx, post)
	})
	c.handler.On(model.TablePosts, store.EventRemove, func(ctx context.Context, r events.DynamoDBEventRecord) error {
		post, err := stream.DecodeImage[model.Post](r.Change.OldImage)
		if err != nil {
			return err
		}
		return c.syncPost(ctx, post)
	})
	c.handler.On(model.TableProfiles, store.EventInsert, func(ctx context.Context, r events.DynamoDBEventRecord) error {
		profile, err := stream.DecodeImage[model.Profile](r.Change.NewImage)
		if err != nil {
			return err
		}
		conflict, err := c.syncProfile(ctx, profile, true)
		if err != nil {
			return err
		}
		if conflict != nil {
			return conflict
		}
		return nil
	})
	c.handler.On(model.TableProfiles, store.EventModify, func(ctx context.Context, r events.DynamoDBEventRecord) error {
		prev, err := stream.DecodeImage[model.Profile](r.Change.OldImage)
		if err != nil {
			return err
		}
		curr, err := stream.DecodeImage[model.Profile](r.Change.NewImage)
		if err != nil {
			return err
		}
		if prev.MemberTypeID == curr.MemberTypeID {
			return nil
		}
		_, err = c.syncProfile(ctx, curr, false)
		return err
	})
	c.handler.On(model.TableProfiles, store.EventRemove, func(ctx context.Context, r events.DynamoDBEventRecord) error {
		profile, err := stream.DecodeImage[model.Profile](r.Change.OldImage)
		if err != nil {
			return err
		}
		_, err = c.syncProfile(ctx, profile, false)
		return err
	})
	c.handler.On(model.TableUsers, store.EventRemove, func(ctx context.Context, r events.DynamoDBEventRecord) error {
		return c.userDeleted(ctx, stream.RecordKey(r))
	})
}

// The exported hooks run a cascade for a write the caller already made
// through a store it doesn't share with the Coordinator, e.g. when replaying
// an external change feed. They apply the given images as they are, so the
// caller delivers changes to one entity in order. Writes the cascade makes
// are cascaded in turn.

// OnPostCreate adds the post to its author's posts.
func (c *Coordinator) OnPostCreate(ctx context.Context, post model.Post) error {
	_, err := c.run(ctx, func(ctx context.Context) error { return c.postCreated(ctx, post) })
	return err
}

// OnPostDelete removes the post from its author's posts.
func (c *Coordinator) OnPostDelete(ctx context.Context, post model.Post) error {
	_, err := c.run(ctx, func(ctx context.Context) error { return c.postDeleted(ctx, post) })
	return err
}

// OnProfileCreate links the profile to its user and member type.
// A user that already has a profile is left untouched and reported as a conflict.
func (c *Coordinator) OnProfileCreate(ctx context.Context, profile model.Profile) (*store.Conflict, error) {
	var conflict *store.Conflict
	nested, err := c.run(ctx, func(ctx context.Context) error {
		var err error
		conflict, err = c.profileCreated(ctx, profile)
		return err
	})
	if conflict == nil {
		conflict = firstConflict(nested)
	}
	return conflict, err
}

// OnProfileChange moves the profile between member types when its member type changed.
func (c *Coordinator) OnProfileChange(ctx context.Context, prev, curr model.Profile) error {
	_, err := c.run(ctx, func(ctx context.Context) error { return c.profileChanged(ctx, prev, curr) })
	return err
}

// OnProfileDelete unlinks the profile from its user and member type.
func (c *Coordinator) OnProfileDelete(ctx context.Context, profile model.Profile) error {
	_, err := c.run(ctx, func(ctx context.Context) error { return c.profileDeleted(ctx, profile) })
	return err
}

// OnUserDelete removes everything that still refers to a deleted user.
func (c *Coordinator) OnUserDelete(ctx context.Context, userID string) error {
	_, err := c.run(ctx, func(ctx context.Context) error { return c.userDeleted(ctx, userID) })
	return err
}

func (c *Coordinator) postCreated(ctx context.Context, post model.Post) error {
	_, err := update(ctx, c.users, post.UserID, c.config.MaxRetries, func(u model.User) (model.User, bool) {
		var changed bool
		u.PostIDs, changed = appendID(u.PostIDs, post.ID)
		return u, changed
	})
	return c.skipMissing(err, "add post to author", "post", post.ID, "user", post.UserID)
}

func (c *Coordinator) postDeleted(ctx context.Context, post model.Post) error {
	_, err := update(ctx, c.users, post.UserID, c.config.MaxRetries, func(u model.User) (model.User, bool) {
		var changed bool
		u.PostIDs, changed = removeID(u.PostIDs, post.ID)
		return u, changed
	})
	return c.skipMissing(err, "remove post from author", "post", post.ID, "user", post.UserID)
}

func (c *Coordinator) profileCreated(ctx context.Context, profile model.Profile) (*store.Conflict, error) {
	var conflict *store.Conflict
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		conflict, err = c.linkProfile(gctx, profile)
		return err
	})

	g.Go(func() error {
		_, err := update(gctx, c.memberTypes, profile.MemberTypeID, c.config.MaxRetries, func(mt model.MemberType) (model.MemberType, bool) {
			var changed bool
			mt.ProfileIDs, changed = appendID(mt.ProfileIDs, profile.ID)
			return mt, changed
		})
		return c.skipMissing(err, "add profile to member type", "profile", profile.ID, "memberType", profile.MemberTypeID)
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return conflict, nil
}

// linkProfile points the profile's user at it. A user already holding
// another profile is left untouched and returned as a conflict.
func (c *Coordinator) linkProfile(ctx context.Context, profile model.Profile) (*store.Conflict, error) {
	var conflict *store.Conflict
	_, err := update(ctx, c.users, profile.UserID, c.config.MaxRetries, func(u model.User) (model.User, bool) {
		conflict = nil
		switch {
		case aws.ToString(u.ProfileID) == profile.ID:
			return u, false
		case u.HasProfile():
			conflict = &store.Conflict{
				EntityType: model.TypeUser,
				ID:         u.ID,
				Reason:     "user already has a profile",
			}
			return u, false
		}
		u.ProfileID = aws.String(profile.ID)
		return u, true
	})
	return conflict, c.skipMissing(err, "link profile to user", "profile", profile.ID, "user", profile.UserID)
}

func (c *Coordinator) unlinkProfile(ctx context.Context, profile model.Profile) error {
	_, err := update(ctx, c.users, profile.UserID, c.config.MaxRetries, func(u model.User) (model.User, bool) {
		// Another profile may hold the link if this one was created in conflict
		if aws.ToString(u.ProfileID) != profile.ID {
			return u, false
		}
		u.ProfileID = nil
		return u, true
	})
	return c.skipMissing(err, "unlink profile from user", "profile", profile.ID, "user", profile.UserID)
}

func (c *Coordinator) profileChanged(ctx context.Context, prev, curr model.Profile) error {
	if prev.MemberTypeID == curr.MemberTypeID {
		return nil
	}

	c.logger.Debug("moving profile between member types",
		"profile", curr.ID,
		"from", prev.MemberTypeID,
		"to", curr.MemberTypeID,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := update(gctx, c.memberTypes, prev.MemberTypeID, c.config.MaxRetries, func(mt model.MemberType) (model.MemberType, bool) {
			var changed bool
			mt.ProfileIDs, changed = removeID(mt.ProfileIDs, curr.ID)
			return mt, changed
		})
		return c.skipMissing(err, "remove profile from member type", "profile", curr.ID, "memberType", prev.MemberTypeID)
	})
	g.Go(func() error {
		_, err := update(gctx, c.memberTypes, curr.MemberTypeID, c.config.MaxRetries, func(mt model.MemberType) (model.MemberType, bool) {
			var changed bool
			mt.ProfileIDs, changed = appendID(mt.ProfileIDs, curr.ID)
			return mt, changed
		})
		return c.skipMissing(err, "add profile to member type", "profile", curr.ID, "memberType", curr.MemberTypeID)
	})
	return g.Wait()
}

func (c *Coordinator) profileDeleted(ctx context.Context, profile model.Profile) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.unlinkProfile(gctx, profile) })

	g.Go(func() error {
		_, err := update(gctx, c.memberTypes, profile.MemberTypeID, c.config.MaxRetries, func(mt model.MemberType) (model.MemberType, bool) {
			var changed bool
			mt.ProfileIDs, changed = removeID(mt.ProfileIDs, profile.ID)
			return mt, changed
		})
		return c.skipMissing(err, "remove profile from member type", "profile", profile.ID, "memberType", profile.MemberTypeID)
	})

	return g.Wait()
}

// syncPost makes the author's post list agree with whether the post is
// still stored. post only supplies the id and author.
func (c *Coordinator) syncPost(ctx context.Context, post model.Post) error {
	defer c.syncing.lock(post.ID)()

	_, err := c.posts.Get(ctx, post.ID)
	switch {
	case err == nil:
		return c.postCreated(ctx, post)
	case errors.Is(err, store.ErrNotFound):
		return c.postDeleted(ctx, post)
	default:
		return err
	}
}

// syncProfile makes the member-type index and the user link agree with the
// profile's stored state. The profile is listed under its stored member type
// and no other, or under none once deleted. A missing profile is unlinked
// from its user; a stored one is linked only when link is set, which reports
// a user already holding another profile as a conflict. profile only
// supplies the id and user.
func (c *Coordinator) syncProfile(ctx context.Context, profile model.Profile, link bool) (*store.Conflict, error) {
	defer c.syncing.lock(profile.ID)()

	var target string
	curr, err := c.profiles.Get(ctx, profile.ID)
	stored := err == nil
	switch {
	case stored:
		target = curr.MemberTypeID
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	memberTypes, err := c.memberTypes.FindMany(ctx)
	if err != nil {
		return nil, err
	}

	var conflict *store.Conflict
	g, gctx := errgroup.WithContext(ctx)

	switch {
	case stored && link:
		g.Go(func() error {
			var err error
			conflict, err = c.linkProfile(gctx, curr)
			return err
		})
	case !stored:
		g.Go(func() error { return c.unlinkProfile(gctx, profile) })
	}

	for _, each := range memberTypes {
		g.Go(func() error {
			_, err := update(gctx, c.memberTypes, each.ID, c.config.MaxRetries, func(mt model.MemberType) (model.MemberType, bool) {
				var changed bool
				if mt.ID == target {
					mt.ProfileIDs, changed = appendID(mt.ProfileIDs, profile.ID)
				} else {
					mt.ProfileIDs, changed = removeID(mt.ProfileIDs, profile.ID)
				}
				return mt, changed
			})
			return c.skipMissing(err, "sync profile in member type", "profile", profile.ID, "memberType", each.ID)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return conflict, nil
}

// userDeleted deletes the user's owned children and clears both directions
// of their subscription edges, concurrently.
func (c *Coordinator) userDeleted(ctx context.Context, userID string) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, rel := range c.registry.OwnedChildrenOf(model.TypeUser) {
		table, ok := c.tables[rel.ChildTableName]
		if !ok {
			return fmt.Errorf("no table %q for %s children", rel.ChildTableName, rel.ChildType)
		}
		g.Go(func() error {
			n, err := table.DeleteWhere(gctx, store.Equals(rel.ParentKeyAttr, userID))
			if err != nil {
				return fmt.Errorf("delete %s of user %s: %w", rel.ChildTableName, userID, err)
			}
			c.logger.Debug("deleted owned children",
				"user", userID,
				"table", rel.ChildTableName,
				"count", n,
			)
			return nil
		})
	}

	// Users following the deleted user
	g.Go(func() error {
		return c.dropSubscriptionRefs(gctx, model.AttrUserSubscribedToIDs, userID, func(u *model.User) *[]string {
			return &u.UserSubscribedToIDs
		})
	})
	// Users followed by the deleted user
	g.Go(func() error {
		return c.dropSubscriptionRefs(gctx, model.AttrSubscribedToUserIDs, userID, func(u *model.User) *[]string {
			return &u.SubscribedToUserIDs
		})
	})

	return g.Wait()
}

// dropSubscriptionRefs removes userID from the list field of every user whose
// attr contains it.
func (c *Coordinator) dropSubscriptionRefs(ctx context.Context, attr, userID string, field func(*model.User) *[]string) error {
	refs, err := c.users.FindMany(ctx, store.InArray(attr, userID))
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, ref := range refs {
		g.Go(func() error {
			_, err := update(gctx, c.users, ref.ID, c.config.MaxRetries, func(u model.User) (model.User, bool) {
				list := field(&u)
				var changed bool
				*list, changed = removeID(*list, userID)
				return u, changed
			})
			return c.skipMissing(err, "drop subscription", "user", ref.ID, "deleted", userID)
		})
	}
	return g.Wait()
}

// skipMissing turns a cascade target that no longer exists into a logged no-op.
func (c *Coordinator) skipMissing(err error, action string, args ...any) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrNotFound) {
		c.logger.Debug("cascade target missing, skipped", append([]any{"action", action}, args...)...)
		return nil
	}
	return fmt.Errorf("%s: %w", action, err)
}
