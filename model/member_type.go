package model

import "github.com/jacentio/lattice/store"

// Member type ids. The set is closed.
const (
	MemberTypeBasic    = "basic"
	MemberTypeBusiness = "business"
)

// MemberType is a membership tier. ProfileIDs is derived from the profiles
// referencing the tier.
type MemberType struct {
	ID              string   `dynamodbav:"id" json:"id" yaml:"id"`
	Discount        int      `dynamodbav:"discount" json:"discount" yaml:"discount"`
	MonthPostsLimit int      `dynamodbav:"month_posts_limit" json:"monthPostsLimit" yaml:"month_posts_limit"`
	ProfileIDs      []string `dynamodbav:"profile_ids" json:"profileIds" yaml:"-"`
	Version         int64    `dynamodbav:"version" json:"version" yaml:"-"`
}

func (m MemberType) GetID() string     { return m.ID }
func (m MemberType) GetVersion() int64 { return m.Version }

// MemberTypePatch changes a member type's scalar fields.
type MemberTypePatch struct {
	Discount        *int `json:"discount,omitempty" yaml:"discount"`
	MonthPostsLimit *int `json:"monthPostsLimit,omitempty" yaml:"month_posts_limit"`
}

// MemberTypeSchema describes the member type kind. The kind is sealed:
// its entities come from Seed and can't be created or deleted.
func MemberTypeSchema() store.Schema[MemberType, struct{}, MemberTypePatch] {
	return store.Schema[MemberType, struct{}, MemberTypePatch]{
		Table: TableMemberTypes,
		Type:  TypeMemberType,
		Merge: func(cur MemberType, p MemberTypePatch) MemberType {
			if p.Discount != nil {
				cur.Discount = *p.Discount
			}
			if p.MonthPostsLimit != nil {
				cur.MonthPostsLimit = *p.MonthPostsLimit
			}
			return cur
		},
		Sealed: true,
	}
}

// DefaultMemberTypes returns the seeded tiers.
func DefaultMemberTypes() []MemberType {
	return []MemberType{
		{ID: MemberTypeBasic, Discount: 0, MonthPostsLimit: 20, ProfileIDs: []string{}},
		{ID: MemberTypeBusiness, Discount: 5, MonthPostsLimit: 100, ProfileIDs: []string{}},
	}
}

// IsMemberType reports whether id names one of the seeded tiers.
func IsMemberType(id string) bool {
	return id == MemberTypeBasic || id == MemberTypeBusiness
}
