// Package model defines the four entity kinds held by lattice (users, profiles,
// posts and member types) together with their create inputs, patch inputs and
// store schemas.
//
// Relationship fields (User.ProfileID, User.PostIDs, the subscription lists and
// MemberType.ProfileIDs) have no patch field. They are maintained by the
// relation package's cascades and are never written by callers directly.
package model
