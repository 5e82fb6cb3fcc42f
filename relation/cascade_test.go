package relation_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/lattice/model"
	"github.com/jacentio/lattice/relation"
	"github.com/jacentio/lattice/store"
)

func createProfile(t *testing.T, c *relation.Coordinator, userID, memberTypeID string) model.Profile {
	t.Helper()
	p, conflict, err := c.CreateProfile(context.Background(), model.CreateProfileInput{
		Avatar:       "avatar.png",
		Sex:          "f",
		Birthday:     631152000,
		Country:      "FR",
		Street:       "Rue de Rivoli",
		City:         "Paris",
		MemberTypeID: memberTypeID,
		UserID:       userID,
	})
	require.NoError(t, err)
	require.Nil(t, conflict)
	return p
}

// --- Posts ---

func TestCreatePost_AddsToAuthor(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t)
	u := createUser(t, c, "ada")

	p1, err := c.CreatePost(ctx, model.CreatePostInput{Title: "one", Content: "c", UserID: u.ID})
	require.NoError(t, err)
	p2, err := c.CreatePost(ctx, model.CreatePostInput{Title: "two", Content: "c", UserID: u.ID})
	require.NoError(t, err)

	assert.Equal(t, []string{p1.ID, p2.ID}, getUser(t, c, u.ID).PostIDs)
	requireConsistent(t, c)
}

func TestCreatePost_MissingAuthor(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t)

	_, err := c.CreatePost(ctx, model.CreatePostInput{Title: "orphan", UserID: "missing"})
	require.ErrorIs(t, err, store.ErrParentNotFound)

	_, err = c.CreatePost(ctx, model.CreatePostInput{Title: "orphan"})
	require.ErrorIs(t, err, store.ErrContractViolation)

	n, err := c.Posts().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestChangePost(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t)
	u := createUser(t, c, "ada")
	p, err := c.CreatePost(ctx, model.CreatePostInput{Title: "before", Content: "body", UserID: u.ID})
	require.NoError(t, err)

	changed, err := c.ChangePost(ctx, p.ID, model.PostPatch{Title: aws.String("after")})
	require.NoError(t, err)
	assert.Equal(t, "after", changed.Title)
	assert.Equal(t, "body", changed.Content)
	assert.Equal(t, u.ID, changed.UserID)
}

func TestDeletePost_RemovesFromAuthor(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t)
	u := createUser(t, c, "ada")
	p1, err := c.CreatePost(ctx, model.CreatePostInput{Title: "one", UserID: u.ID})
	require.NoError(t, err)
	p2, err := c.CreatePost(ctx, model.CreatePostInput{Title: "two", UserID: u.ID})
	require.NoError(t, err)

	deleted, err := c.DeletePost(ctx, p1.ID)
	require.NoError(t, err)
	assert.Equal(t, "one", deleted.Title)

	assert.Equal(t, []string{p2.ID}, getUser(t, c, u.ID).PostIDs)

	_, err = c.DeletePost(ctx, p1.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	requireConsistent(t, c)
}

// --- Profiles ---

func TestCreateProfile_LinksUserAndMemberType(t *testing.T) {
	c := newCoordinator(t)
	u := createUser(t, c, "ada")

	p := createProfile(t, c, u.ID, "basic")

	assert.Equal(t, p.ID, aws.ToString(getUser(t, c, u.ID).ProfileID))
	assert.Contains(t, getMemberType(t, c, "basic").ProfileIDs, p.ID)
	assert.NotContains(t, getMemberType(t, c, "business").ProfileIDs, p.ID)
	requireConsistent(t, c)
}

func TestCreateProfile_UserAlreadyHasProfile(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t)
	u := createUser(t, c, "ada")
	first := createProfile(t, c, u.ID, "basic")

	second, conflict, err := c.CreateProfile(ctx, model.CreateProfileInput{UserID: u.ID, MemberTypeID: "business"})
	require.NoError(t, err)
	require.NotNil(t, conflict)
	assert.Equal(t, model.TypeUser, conflict.EntityType)
	assert.Equal(t, u.ID, conflict.ID)
	assert.Equal(t, "user already has a profile", conflict.Reason)

	// The second profile is committed and indexed, the user link is untouched
	_, err = c.Profiles().Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, aws.ToString(getUser(t, c, u.ID).ProfileID))
	assert.Contains(t, getMemberType(t, c, "business").ProfileIDs, second.ID)

	violations, err := c.Verify(ctx)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, relation.InvariantProfileLink, violations[0].Invariant)
	assert.Equal(t, second.ID, violations[0].ID)

	// Deleting the unlinked profile leaves the user's link alone
	_, err = c.DeleteProfile(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, aws.ToString(getUser(t, c, u.ID).ProfileID))
	requireConsistent(t, c)
}

func TestCreateProfile_MissingParents(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t)
	u := createUser(t, c, "ada")

	tests := []struct {
		name  string
		input model.CreateProfileInput
		err   error
	}{
		{"missing user", model.CreateProfileInput{UserID: "missing", MemberTypeID: "basic"}, store.ErrParentNotFound},
		{"missing member type", model.CreateProfileInput{UserID: u.ID, MemberTypeID: "premium"}, store.ErrParentNotFound},
		{"no user id", model.CreateProfileInput{MemberTypeID: "basic"}, store.ErrContractViolation},
		{"no member type id", model.CreateProfileInput{UserID: u.ID}, store.ErrContractViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, conflict, err := c.CreateProfile(ctx, tt.input)
			require.ErrorIs(t, err, tt.err)
			assert.Nil(t, conflict)
		})
	}

	n, err := c.Profiles().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.False(t, getUser(t, c, u.ID).HasProfile())
}

func TestChangeProfile_MovesMemberType(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t)
	u := createUser(t, c, "ada")
	p := createProfile(t, c, u.ID, "basic")

	changed, err := c.ChangeProfile(ctx, p.ID, model.ProfilePatch{MemberTypeID: aws.String("business")})
	require.NoError(t, err)
	assert.Equal(t, "business", changed.MemberTypeID)
	assert.Equal(t, u.ID, changed.UserID)

	assert.NotContains(t, getMemberType(t, c, "basic").ProfileIDs, p.ID)
	assert.Contains(t, getMemberType(t, c, "business").ProfileIDs, p.ID)
	requireConsistent(t, c)
}

func TestChangeProfile_OtherFieldsLeaveIndexAlone(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t)
	u := createUser(t, c, "ada")
	p := createProfile(t, c, u.ID, "basic")
	basic := getMemberType(t, c, "basic")

	changed, err := c.ChangeProfile(ctx, p.ID, model.ProfilePatch{City: aws.String("Lyon")})
	require.NoError(t, err)
	assert.Equal(t, "Lyon", changed.City)
	assert.Equal(t, "Rue de Rivoli", changed.Street)

	after := getMemberType(t, c, "basic")
	assert.Equal(t, basic.Version, after.Version)
	assert.Equal(t, basic.ProfileIDs, after.ProfileIDs)
}

func TestChangeProfile_UnknownMemberType(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t)
	u := createUser(t, c, "ada")
	p := createProfile(t, c, u.ID, "basic")

	_, err := c.ChangeProfile(ctx, p.ID, model.ProfilePatch{MemberTypeID: aws.String("premium")})
	require.ErrorIs(t, err, store.ErrParentNotFound)

	got, err := c.Profiles().Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "basic", got.MemberTypeID)
}

func TestDeleteProfile_Unlinks(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t)
	u := createUser(t, c, "ada")
	p := createProfile(t, c, u.ID, "business")

	_, err := c.DeleteProfile(ctx, p.ID)
	require.NoError(t, err)

	assert.False(t, getUser(t, c, u.ID).HasProfile())
	assert.NotContains(t, getMemberType(t, c, "business").ProfileIDs, p.ID)
	requireConsistent(t, c)

	// A fresh profile can be linked again
	again := createProfile(t, c, u.ID, "basic")
	assert.Equal(t, again.ID, aws.ToString(getUser(t, c, u.ID).ProfileID))
}

// --- Users ---

func TestDeleteUser_Cascades(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t)
	doomed := createUser(t, c, "doomed")
	fan := createUser(t, c, "fan")
	idol := createUser(t, c, "idol")
	bystander := createUser(t, c, "bystander")

	p := createProfile(t, c, doomed.ID, "basic")
	for i := 0; i < 3; i++ {
		_, err := c.CreatePost(ctx, model.CreatePostInput{Title: fmt.Sprintf("post %d", i), UserID: doomed.ID})
		require.NoError(t, err)
	}
	kept, err := c.CreatePost(ctx, model.CreatePostInput{Title: "kept", UserID: bystander.ID})
	require.NoError(t, err)

	_, err = c.Subscribe(ctx, fan.ID, doomed.ID)
	require.NoError(t, err)
	_, err = c.Subscribe(ctx, doomed.ID, idol.ID)
	require.NoError(t, err)
	_, err = c.Subscribe(ctx, fan.ID, idol.ID)
	require.NoError(t, err)

	deleted, err := c.DeleteUser(ctx, doomed.ID)
	require.NoError(t, err)
	assert.Equal(t, doomed.ID, deleted.ID)

	_, err = c.Users().Get(ctx, doomed.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	posts, err := c.Posts().FindMany(ctx, store.Equals(model.AttrUserID, doomed.ID))
	require.NoError(t, err)
	assert.Empty(t, posts)
	_, err = c.Posts().Get(ctx, kept.ID)
	require.NoError(t, err)

	_, ok, err := c.Profiles().FindOne(ctx, store.Equals(model.AttrUserID, doomed.ID))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NotContains(t, getMemberType(t, c, "basic").ProfileIDs, p.ID)

	assert.Equal(t, []string{idol.ID}, getUser(t, c, fan.ID).UserSubscribedToIDs)
	assert.Equal(t, []string{fan.ID}, getUser(t, c, idol.ID).SubscribedToUserIDs)

	for _, attr := range []string{model.AttrUserSubscribedToIDs, model.AttrSubscribedToUserIDs} {
		refs, err := c.Users().FindMany(ctx, store.InArray(attr, doomed.ID))
		require.NoError(t, err)
		assert.Empty(t, refs, attr)
	}
	requireConsistent(t, c)
}

// --- Exported hooks ---

func TestOnPostCreate_ExternalWrite(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t)
	u := createUser(t, c, "ada")

	// A post written elsewhere is linked, but isn't in the post store
	require.NoError(t, c.OnPostCreate(ctx, model.Post{ID: "external", UserID: u.ID}))
	require.NoError(t, c.OnPostCreate(ctx, model.Post{ID: "external", UserID: u.ID}))
	assert.Equal(t, []string{"external"}, getUser(t, c, u.ID).PostIDs)

	violations, err := c.Verify(ctx)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, relation.InvariantPostOwnership, violations[0].Invariant)

	require.NoError(t, c.OnPostDelete(ctx, model.Post{ID: "external", UserID: u.ID}))
	assert.Empty(t, getUser(t, c, u.ID).PostIDs)
	requireConsistent(t, c)
}

func TestOnPostCreate_MissingAuthorIsSkipped(t *testing.T) {
	c := newCoordinator(t)
	require.NoError(t, c.OnPostCreate(context.Background(), model.Post{ID: "p", UserID: "missing"}))
}

func TestOnProfileCreate_ReturnsConflict(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t)
	u := createUser(t, c, "ada")
	createProfile(t, c, u.ID, "basic")

	conflict, err := c.OnProfileCreate(ctx, model.Profile{ID: "external", UserID: u.ID, MemberTypeID: "basic"})
	require.NoError(t, err)
	require.NotNil(t, conflict)
	assert.Equal(t, u.ID, conflict.ID)
	assert.Contains(t, getMemberType(t, c, "basic").ProfileIDs, "external")

	require.NoError(t, c.OnProfileDelete(ctx, model.Profile{ID: "external", UserID: u.ID, MemberTypeID: "basic"}))
	assert.NotContains(t, getMemberType(t, c, "basic").ProfileIDs, "external")
	assert.True(t, getUser(t, c, u.ID).HasProfile())
}

func TestOnProfileChange(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t)
	u := createUser(t, c, "ada")
	p := createProfile(t, c, u.ID, "basic")

	moved := p
	moved.MemberTypeID = "business"
	require.NoError(t, c.OnProfileChange(ctx, p, moved))

	assert.NotContains(t, getMemberType(t, c, "basic").ProfileIDs, p.ID)
	assert.Contains(t, getMemberType(t, c, "business").ProfileIDs, p.ID)

	// Unchanged member type is a no-op
	before := getMemberType(t, c, "business")
	require.NoError(t, c.OnProfileChange(ctx, moved, moved))
	assert.Equal(t, before, getMemberType(t, c, "business"))
}

func TestOnUserDelete_Idempotent(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(t)
	a := createUser(t, c, "a")
	b := createUser(t, c, "b")
	_, err := c.Subscribe(ctx, a.ID, b.ID)
	require.NoError(t, err)

	require.NoError(t, c.OnUserDelete(ctx, b.ID))
	require.NoError(t, c.OnUserDelete(ctx, b.ID))

	assert.Empty(t, getUser(t, c, a.ID).UserSubscribedToIDs)
	// b itself still exists; only references to it were cleared
	_, err = c.Users().Get(ctx, b.ID)
	require.NoError(t, err)
}

// --- Concurrency ---

func TestConcurrentPostCreate_NoLostUpdates(t *testing.T) {
	ctx := context.Background()
	cfg := relation.DefaultConfig()
	cfg.MaxRetries = 1000
	cfg.Store.NumShards = 8
	c, err := relation.New(cfg, quietLogger())
	require.NoError(t, err)
	u := createUser(t, c, "busy")

	const workers = 25
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.CreatePost(ctx, model.CreatePostInput{Title: fmt.Sprintf("post %d", i), UserID: u.ID})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Len(t, getUser(t, c, u.ID).PostIDs, workers)
	requireConsistent(t, c)
}
