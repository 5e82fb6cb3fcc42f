package model

// Table names.
const (
	TableUsers       = "users"
	TableProfiles    = "profiles"
	TablePosts       = "posts"
	TableMemberTypes = "member_types"
)

// Entity type names.
const (
	TypeUser       = "user"
	TypeProfile    = "profile"
	TypePost       = "post"
	TypeMemberType = "member_type"
)

// Item attribute names used in filters and relationships.
const (
	AttrID                  = "id"
	AttrUserID              = "user_id"
	AttrMemberTypeID        = "member_type_id"
	AttrProfileID           = "profile_id"
	AttrPostIDs             = "post_ids"
	AttrProfileIDs          = "profile_ids"
	AttrUserSubscribedToIDs = "user_subscribed_to_ids"
	AttrSubscribedToUserIDs = "subscribed_to_user_ids"
)
