package model

import (
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// Clone returns a copy of u that shares no memory with it.
func (u User) Clone() User {
	if u.ProfileID != nil {
		u.ProfileID = aws.String(*u.ProfileID)
	}
	u.UserSubscribedToIDs = slices.Clone(u.UserSubscribedToIDs)
	u.SubscribedToUserIDs = slices.Clone(u.SubscribedToUserIDs)
	u.PostIDs = slices.Clone(u.PostIDs)
	return u
}

// Clone returns a copy of p. Profiles hold no references.
func (p Profile) Clone() Profile { return p }

// Clone returns a copy of p. Posts hold no references.
func (p Post) Clone() Post { return p }

// Clone returns a copy of m that shares no memory with it.
func (m MemberType) Clone() MemberType {
	m.ProfileIDs = slices.Clone(m.ProfileIDs)
	return m
}
