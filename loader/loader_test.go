package loader_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/lattice/loader"
	"github.com/jacentio/lattice/model"
	"github.com/jacentio/lattice/relation"
	"github.com/jacentio/lattice/store"
)

// countingReader counts FindMany scans.
type countingReader[T store.Entity] struct {
	store.Reader[T]
	scans atomic.Int32
	err   error
}

func (r *countingReader[T]) FindMany(ctx context.Context, filters ...store.Filter) ([]T, error) {
	r.scans.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	return r.Reader.FindMany(ctx, filters...)
}

type countingSource struct {
	users       *countingReader[model.User]
	profiles    *countingReader[model.Profile]
	posts       *countingReader[model.Post]
	memberTypes *countingReader[model.MemberType]
}

func (s *countingSource) Users() store.Reader[model.User]             { return s.users }
func (s *countingSource) Profiles() store.Reader[model.Profile]       { return s.profiles }
func (s *countingSource) Posts() store.Reader[model.Post]             { return s.posts }
func (s *countingSource) MemberTypes() store.Reader[model.MemberType] { return s.memberTypes }

func newSource(c *relation.Coordinator) *countingSource {
	return &countingSource{
		users:       &countingReader[model.User]{Reader: c.Users()},
		profiles:    &countingReader[model.Profile]{Reader: c.Profiles()},
		posts:       &countingReader[model.Post]{Reader: c.Posts()},
		memberTypes: &countingReader[model.MemberType]{Reader: c.MemberTypes()},
	}
}

type fixture struct {
	c     *relation.Coordinator
	users []model.User
	posts map[string][]model.Post
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	c, err := relation.New(relation.DefaultConfig(), nil)
	require.NoError(t, err)

	f := &fixture{c: c, posts: make(map[string][]model.Post)}
	for _, name := range []string{"ada", "bob", "cyd"} {
		u, err := c.CreateUser(ctx, model.CreateUserInput{FirstName: name})
		require.NoError(t, err)
		f.users = append(f.users, u)
	}
	for i, u := range f.users[:2] {
		for j := 0; j <= i; j++ {
			p, err := c.CreatePost(ctx, model.CreatePostInput{Title: u.FirstName, UserID: u.ID})
			require.NoError(t, err)
			f.posts[u.ID] = append(f.posts[u.ID], p)
		}
	}
	_, _, err = c.CreateProfile(ctx, model.CreateProfileInput{UserID: f.users[0].ID, MemberTypeID: "business"})
	require.NoError(t, err)
	return f
}

func testConfig() loader.Config {
	return loader.Config{Wait: 20 * time.Millisecond}
}

func TestDefaultConfig(t *testing.T) {
	cfg := loader.DefaultConfig()
	assert.Equal(t, 16*time.Millisecond, cfg.Wait)
	assert.Zero(t, cfg.BatchCapacity)
}

func TestUsers_OneScanPerBatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	src := newSource(f.c)
	l := loader.New(src, testConfig())

	// Enqueue every key before resolving any of them
	t1 := l.Users.Load(ctx, f.users[0].ID)
	t2 := l.Users.Load(ctx, f.users[1].ID)
	t3 := l.Users.Load(ctx, "missing")
	t4 := l.Users.Load(ctx, f.users[0].ID)

	u1, err := t1()
	require.NoError(t, err)
	require.NotNil(t, u1)
	assert.Equal(t, "ada", u1.FirstName)

	u2, err := t2()
	require.NoError(t, err)
	assert.Equal(t, "bob", u2.FirstName)

	missing, err := t3()
	require.NoError(t, err)
	assert.Nil(t, missing)

	again, err := t4()
	require.NoError(t, err)
	assert.Equal(t, u1.ID, again.ID)

	assert.Equal(t, int32(1), src.users.scans.Load())
}

func TestUsers_CachedWithinScope(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	src := newSource(f.c)
	l := loader.New(src, testConfig())

	_, ok, err := l.User(ctx, f.users[0].ID)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.User(ctx, f.users[0].ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int32(1), src.users.scans.Load())

	// A new scope scans again
	fresh := loader.New(src, testConfig())
	_, _, err = fresh.User(ctx, f.users[0].ID)
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.users.scans.Load())
}

func TestUser_ReturnsIndependentCopies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	l := loader.New(newSource(f.c), testConfig())

	u, ok, err := l.User(ctx, f.users[0].ID)
	require.NoError(t, err)
	require.True(t, ok)
	u.PostIDs[0] = "mutated"

	again, _, err := l.User(ctx, f.users[0].ID)
	require.NoError(t, err)
	assert.Equal(t, f.posts[f.users[0].ID][0].ID, again.PostIDs[0])
}

func TestUsersByID(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	src := newSource(f.c)
	l := loader.New(src, testConfig())

	users, err := l.UsersByID(ctx, []string{f.users[2].ID, "missing", f.users[0].ID})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "cyd", users[0].FirstName)
	assert.Equal(t, "ada", users[1].FirstName)
	assert.Equal(t, int32(1), src.users.scans.Load())
}

func TestPostsOfUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	src := newSource(f.c)
	l := loader.New(src, testConfig())

	thunks := make([]func() ([]model.Post, error), len(f.users))
	for i, u := range f.users {
		thunks[i] = l.Posts.Load(ctx, u.ID)
	}

	for i, u := range f.users {
		posts, err := thunks[i]()
		require.NoError(t, err)
		assert.Len(t, posts, len(f.posts[u.ID]))
		for _, p := range posts {
			assert.Equal(t, u.ID, p.UserID)
		}
	}
	assert.Equal(t, int32(1), src.posts.scans.Load())

	none, err := l.PostsOfUser(ctx, f.users[2].ID)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
	assert.Equal(t, int32(1), src.posts.scans.Load())
}

func TestProfileOfUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	l := loader.New(newSource(f.c), testConfig())

	p, ok, err := l.ProfileOfUser(ctx, f.users[0].ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "business", p.MemberTypeID)

	byID, ok, err := l.Profile(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, p, byID)

	_, ok, err = l.ProfileOfUser(ctx, f.users[1].ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemberType(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	l := loader.New(newSource(f.c), testConfig())

	mt, ok, err := l.MemberType(ctx, "business")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5, mt.Discount)
	assert.Len(t, mt.ProfileIDs, 1)

	_, ok, err = l.MemberType(ctx, "premium")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScanError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	src := newSource(f.c)
	boom := errors.New("boom")
	src.users.err = boom
	l := loader.New(src, testConfig())

	_, ok, err := l.User(ctx, f.users[0].ID)
	require.ErrorIs(t, err, boom)
	assert.False(t, ok)
}

func TestBatchCapacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	src := newSource(f.c)
	l := loader.New(src, loader.Config{Wait: 20 * time.Millisecond, BatchCapacity: 1})

	t1 := l.Users.Load(ctx, f.users[0].ID)
	t2 := l.Users.Load(ctx, f.users[1].ID)
	_, err := t1()
	require.NoError(t, err)
	_, err = t2()
	require.NoError(t, err)

	assert.Equal(t, int32(2), src.users.scans.Load())
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	src := newSource(f.c)
	l := loader.New(src, testConfig())

	_, _, err := l.User(ctx, f.users[0].ID)
	require.NoError(t, err)

	_, err = f.c.ChangeUser(ctx, f.users[0].ID, model.UserPatch{FirstName: strPtr("Augusta")})
	require.NoError(t, err)

	stale, _, err := l.User(ctx, f.users[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "ada", stale.FirstName)

	l.Clear()
	fresh, _, err := l.User(ctx, f.users[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "Augusta", fresh.FirstName)
}

func TestScope(t *testing.T) {
	f := newFixture(t)
	assert.Nil(t, loader.FromContext(context.Background()))

	ctx, l := loader.Scope(context.Background(), f.c, testConfig())
	assert.Same(t, l, loader.FromContext(ctx))

	u, ok, err := loader.FromContext(ctx).User(ctx, f.users[1].ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bob", u.FirstName)
}

func strPtr(s string) *string { return &s }
