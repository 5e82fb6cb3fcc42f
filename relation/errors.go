package relation

import "errors"

var (
	// ErrSelfSubscription is returned when a user subscribes to themselves.
	ErrSelfSubscription = errors.New("lattice: user cannot subscribe to themselves")

	// ErrAlreadySubscribed is returned when subscribing to a user twice.
	ErrAlreadySubscribed = errors.New("lattice: already subscribed")

	// ErrNotSubscribed is returned when unsubscribing from a user that isn't followed.
	ErrNotSubscribed = errors.New("lattice: not subscribed")
)
