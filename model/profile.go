package model

import (
	"errors"

	"github.com/jacentio/lattice/store"
)

// Profile holds a user's personal details. A user has at most one.
type Profile struct {
	ID           string `dynamodbav:"id" json:"id" yaml:"id"`
	Avatar       string `dynamodbav:"avatar" json:"avatar" yaml:"avatar"`
	Sex          string `dynamodbav:"sex" json:"sex" yaml:"sex"`
	Birthday     int64  `dynamodbav:"birthday" json:"birthday" yaml:"birthday"`
	Country      string `dynamodbav:"country" json:"country" yaml:"country"`
	Street       string `dynamodbav:"street" json:"street" yaml:"street"`
	City         string `dynamodbav:"city" json:"city" yaml:"city"`
	MemberTypeID string `dynamodbav:"member_type_id" json:"memberTypeId" yaml:"member_type_id"`
	UserID       string `dynamodbav:"user_id" json:"userId" yaml:"user_id"`
	Version      int64  `dynamodbav:"version" json:"version" yaml:"-"`
}

func (p Profile) GetID() string     { return p.ID }
func (p Profile) GetVersion() int64 { return p.Version }

// CreateProfileInput is the payload for creating a profile.
type CreateProfileInput struct {
	Avatar       string `json:"avatar" yaml:"avatar"`
	Sex          string `json:"sex" yaml:"sex"`
	Birthday     int64  `json:"birthday" yaml:"birthday"`
	Country      string `json:"country" yaml:"country"`
	Street       string `json:"street" yaml:"street"`
	City         string `json:"city" yaml:"city"`
	MemberTypeID string `json:"memberTypeId" yaml:"member_type_id"`
	UserID       string `json:"userId" yaml:"user_id"`
}

// ProfilePatch changes a profile. The owning user can't be changed.
type ProfilePatch struct {
	Avatar       *string `json:"avatar,omitempty" yaml:"avatar"`
	Sex          *string `json:"sex,omitempty" yaml:"sex"`
	Birthday     *int64  `json:"birthday,omitempty" yaml:"birthday"`
	Country      *string `json:"country,omitempty" yaml:"country"`
	Street       *string `json:"street,omitempty" yaml:"street"`
	City         *string `json:"city,omitempty" yaml:"city"`
	MemberTypeID *string `json:"memberTypeId,omitempty" yaml:"member_type_id"`
}

// ProfileSchema describes the profile kind.
func ProfileSchema() store.Schema[Profile, CreateProfileInput, ProfilePatch] {
	return store.Schema[Profile, CreateProfileInput, ProfilePatch]{
		Table: TableProfiles,
		Type:  TypeProfile,
		New: func(id string, in CreateProfileInput) Profile {
			return Profile{
				ID:           id,
				Avatar:       in.Avatar,
				Sex:          in.Sex,
				Birthday:     in.Birthday,
				Country:      in.Country,
				Street:       in.Street,
				City:         in.City,
				MemberTypeID: in.MemberTypeID,
				UserID:       in.UserID,
			}
		},
		Merge:     mergeProfile,
		Validate:  validateProfile,
		Immutable: []string{AttrUserID},
	}
}

func mergeProfile(cur Profile, p ProfilePatch) Profile {
	if p.Avatar != nil {
		cur.Avatar = *p.Avatar
	}
	if p.Sex != nil {
		cur.Sex = *p.Sex
	}
	if p.Birthday != nil {
		cur.Birthday = *p.Birthday
	}
	if p.Country != nil {
		cur.Country = *p.Country
	}
	if p.Street != nil {
		cur.Street = *p.Street
	}
	if p.City != nil {
		cur.City = *p.City
	}
	if p.MemberTypeID != nil {
		cur.MemberTypeID = *p.MemberTypeID
	}
	return cur
}

func validateProfile(in CreateProfileInput) error {
	if in.UserID == "" {
		return errors.New("profile requires a user id")
	}
	if in.MemberTypeID == "" {
		return errors.New("profile requires a member type id")
	}
	return nil
}
