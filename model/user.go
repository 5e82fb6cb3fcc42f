package model

import (
	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/jacentio/lattice/store"
)

// User is a person who may own a profile, author posts and subscribe to other users.
type User struct {
	ID        string  `dynamodbav:"id" json:"id" yaml:"id"`
	FirstName string  `dynamodbav:"first_name" json:"firstName" yaml:"first_name"`
	LastName  string  `dynamodbav:"last_name" json:"lastName" yaml:"last_name"`
	Email     string  `dynamodbav:"email" json:"email" yaml:"email"`
	ProfileID *string `dynamodbav:"profile_id" json:"profileId" yaml:"profile_id"`

	// UserSubscribedToIDs holds the users this user follows.
	UserSubscribedToIDs []string `dynamodbav:"user_subscribed_to_ids" json:"userSubscribedToIds" yaml:"user_subscribed_to_ids"`

	// SubscribedToUserIDs holds the users following this user.
	SubscribedToUserIDs []string `dynamodbav:"subscribed_to_user_ids" json:"subscribedToUserIds" yaml:"subscribed_to_user_ids"`

	PostIDs []string `dynamodbav:"post_ids" json:"postIds" yaml:"post_ids"`
	Version int64    `dynamodbav:"version" json:"version" yaml:"-"`
}

func (u User) GetID() string     { return u.ID }
func (u User) GetVersion() int64 { return u.Version }

// HasProfile reports whether the user currently links a profile.
func (u User) HasProfile() bool {
	return aws.ToString(u.ProfileID) != ""
}

// CreateUserInput is the payload for creating a user.
type CreateUserInput struct {
	FirstName string `json:"firstName" yaml:"first_name"`
	LastName  string `json:"lastName" yaml:"last_name"`
	Email     string `json:"email" yaml:"email"`
}

// UserPatch changes a user's scalar fields. Nil fields keep their value.
type UserPatch struct {
	FirstName *string `json:"firstName,omitempty" yaml:"first_name"`
	LastName  *string `json:"lastName,omitempty" yaml:"last_name"`
	Email     *string `json:"email,omitempty" yaml:"email"`
}

// UserSchema describes the user kind.
func UserSchema() store.Schema[User, CreateUserInput, UserPatch] {
	return store.Schema[User, CreateUserInput, UserPatch]{
		Table: TableUsers,
		Type:  TypeUser,
		New: func(id string, in CreateUserInput) User {
			return User{
				ID:                  id,
				FirstName:           in.FirstName,
				LastName:            in.LastName,
				Email:               in.Email,
				UserSubscribedToIDs: []string{},
				SubscribedToUserIDs: []string{},
				PostIDs:             []string{},
			}
		},
		Merge: mergeUser,
	}
}

func mergeUser(cur User, p UserPatch) User {
	if p.FirstName != nil {
		cur.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		cur.LastName = *p.LastName
	}
	if p.Email != nil {
		cur.Email = *p.Email
	}
	return cur
}
