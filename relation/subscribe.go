package relation

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/jacentio/lattice/model"
	"github.com/jacentio/lattice/store"
)

// Subscribe makes subscriberID follow targetID. Both users are written in one
// transaction, so the edge is mirrored on both sides or not at all.
// Returns the updated subscriber.
func (c *Coordinator) Subscribe(ctx context.Context, subscriberID, targetID string) (model.User, error) {
	return c.setSubscription(ctx, subscriberID, targetID, true)
}

// Unsubscribe removes the edge created by Subscribe. Returns the updated subscriber.
func (c *Coordinator) Unsubscribe(ctx context.Context, subscriberID, targetID string) (model.User, error) {
	return c.setSubscription(ctx, subscriberID, targetID, false)
}

func (c *Coordinator) setSubscription(ctx context.Context, subscriberID, targetID string, follow bool) (model.User, error) {
	if subscriberID == targetID {
		return model.User{}, fmt.Errorf("%w: %s", ErrSelfSubscription, subscriberID)
	}

	var out model.User
	_, err := c.run(ctx, func(ctx context.Context) error {
		for attempt := 1; attempt <= c.config.MaxRetries; attempt++ {
			sub, tgt, err := c.userPair(ctx, subscriberID, targetID)
			if err != nil {
				return err
			}

			following := slices.Contains(sub.UserSubscribedToIDs, targetID)
			switch {
			case follow && following:
				return fmt.Errorf("%w: %s to %s", ErrAlreadySubscribed, subscriberID, targetID)
			case !follow && !following:
				return fmt.Errorf("%w: %s to %s", ErrNotSubscribed, subscriberID, targetID)
			case follow:
				sub.UserSubscribedToIDs, _ = appendID(sub.UserSubscribedToIDs, targetID)
				tgt.SubscribedToUserIDs, _ = appendID(tgt.SubscribedToUserIDs, subscriberID)
			default:
				sub.UserSubscribedToIDs, _ = removeID(sub.UserSubscribedToIDs, targetID)
				tgt.SubscribedToUserIDs, _ = removeID(tgt.SubscribedToUserIDs, subscriberID)
			}

			written, err := c.users.Transact(ctx, sub, tgt)
			if errors.Is(err, store.ErrConcurrentModification) {
				c.logger.Debug("subscription raced, retrying",
					"subscriber", subscriberID,
					"target", targetID,
					"attempt", attempt,
				)
				continue
			}
			if err != nil {
				return err
			}
			out = written[0]
			return nil
		}
		return fmt.Errorf("%w: subscription %s to %s after %d attempts",
			store.ErrConcurrentModification, subscriberID, targetID, c.config.MaxRetries)
	})
	return out, err
}

// userPair reads two users concurrently.
func (c *Coordinator) userPair(ctx context.Context, aID, bID string) (model.User, model.User, error) {
	var a, b model.User
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		a, err = c.users.Get(gctx, aID)
		return err
	})
	g.Go(func() error {
		var err error
		b, err = c.users.Get(gctx, bID)
		return err
	})
	if err := g.Wait(); err != nil {
		return model.User{}, model.User{}, err
	}
	return a, b, nil
}
