package feedsearch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func matchIDs(matches []*Match) []string {
	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = m.Post.ID
	}
	return ids
}

// storeWriter is the write side shared by every backend under test.
type storeWriter interface {
	PutPost(ctx context.Context, post *Post) error
	PutUser(ctx context.Context, user *User) error
	Follow(ctx context.Context, follower, followed string) error
	Like(ctx context.Context, userID, postID string) error
	Bookmark(ctx context.Context, userID, postID string) error
}

// seedStore writes a small fixed dataset: three users, a follow edge,
// and posts covering every type, audience and media representation.
func seedStore(t *testing.T, s storeWriter) {
	t.Helper()
	ctx := context.Background()

	users := []*User{
		{ID: "alice", Name: "Alice Liddell", Username: "alice", Circle: []string{"bob"}},
		{ID: "bob", Name: "Bob Builder", Username: "bobby"},
		{ID: "carol", Name: "Carol Singer", Username: "carol"},
	}
	for _, u := range users {
		require.NoError(t, s.PutUser(ctx, u))
	}
	require.NoError(t, s.Follow(ctx, "bob", "alice"))

	posts := []*Post{
		{ID: "p1", AuthorID: "alice", Content: "Hello Golang world", CreatedAt: time.Unix(1000, 0)},
		{ID: "p2", AuthorID: "bob", Content: "golang tips", CreatedAt: time.Unix(1001, 0), Medias: []Media{{Type: MediaImage, URL: "a.png"}}},
		{ID: "p3", AuthorID: "carol", Content: "cooking video", CreatedAt: time.Unix(1002, 0), Medias: []Media{{Type: MediaHLS, URL: "b.m3u8"}}},
		{ID: "p4", AuthorID: "alice", Content: "circle only golang", Audience: AudienceCircle, CreatedAt: time.Unix(1003, 0)},
		{ID: "p5", AuthorID: "bob", Type: PostTypeComment, ParentID: "p1", Content: "nice", CreatedAt: time.Unix(1004, 0)},
		{ID: "p6", AuthorID: "carol", Type: PostTypeRetweet, ParentID: "p1", CreatedAt: time.Unix(1005, 0)},
		{ID: "p7", AuthorID: "carol", Type: PostTypeQuote, ParentID: "p2", Content: "quoting golang", CreatedAt: time.Unix(1006, 0), Medias: []Media{{Type: MediaVideo, URL: "c.mp4"}}},
	}
	for _, p := range posts {
		require.NoError(t, s.PutPost(ctx, p))
	}

	require.NoError(t, s.Like(ctx, "bob", "p1"))
	require.NoError(t, s.Like(ctx, "carol", "p1"))
	require.NoError(t, s.Like(ctx, "carol", "p1"))
	require.NoError(t, s.Bookmark(ctx, "bob", "p1"))
}

// testContentStore runs the behavior every ContentStore must share.
func testContentStore(t *testing.T, s interface {
	ContentStore
	FollowStore
}) {
	ctx := context.Background()

	t.Run("match regex", func(t *testing.T) {
		matches, err := s.MatchPosts(ctx, &Plan{Strategy: StrategyRegexFallback, Terms: []string{"golang"}})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"p1", "p2", "p4", "p7"}, matchIDs(matches))
	})

	t.Run("match all terms", func(t *testing.T) {
		matches, err := s.MatchPosts(ctx, &Plan{Strategy: StrategyRegexFallback, Terms: []string{"golang", "hello"}})
		require.NoError(t, err)
		assert.Equal(t, []string{"p1"}, matchIDs(matches))
	})

	t.Run("match media", func(t *testing.T) {
		matches, err := s.MatchPosts(ctx, &Plan{MediaTypes: MediaFilterVideo.Types(), Hint: HintMediaType})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"p3", "p7"}, matchIDs(matches))
	})

	t.Run("match authors", func(t *testing.T) {
		plan := &Plan{Authors: []string{"bob"}, Hint: HintAuthorSet}
		matches, err := s.MatchPosts(ctx, plan)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"p2", "p5"}, matchIDs(matches))
	})

	t.Run("match everything", func(t *testing.T) {
		matches, err := s.MatchPosts(ctx, &Plan{})
		require.NoError(t, err)
		assert.Len(t, matches, 7)
	})

	t.Run("users", func(t *testing.T) {
		users, err := s.Users(ctx, []string{"alice", "nobody"})
		require.NoError(t, err)
		require.Len(t, users, 1)
		assert.Equal(t, "Alice Liddell", users["alice"].Name)
		assert.Equal(t, []string{"bob"}, users["alice"].Circle)
	})

	t.Run("match users", func(t *testing.T) {
		users, err := s.MatchUsers(ctx, []string{"BOB"})
		require.NoError(t, err)
		require.Len(t, users, 1)
		assert.Equal(t, "bob", users[0].ID)

		users, err = s.MatchUsers(ctx, nil)
		require.NoError(t, err)
		require.Len(t, users, 3)
		assert.Equal(t, "alice", users[0].Username)
		assert.Equal(t, "bobby", users[1].Username)
		assert.Equal(t, "carol", users[2].Username)
	})

	t.Run("engagement", func(t *testing.T) {
		eng, err := s.Engagement(ctx, []string{"p1", "p2", "p3"})
		require.NoError(t, err)
		assert.Equal(t, Engagement{Likes: 2, Bookmarks: 1, Replies: 1, Retweets: 1}, eng["p1"])
		assert.Equal(t, Engagement{Quotes: 1}, eng["p2"])
		assert.Equal(t, Engagement{}, eng["p3"])
	})

	t.Run("following", func(t *testing.T) {
		ids, err := s.Following(ctx, "bob")
		require.NoError(t, err)
		assert.Equal(t, []string{"alice"}, ids)

		ids, err = s.Following(ctx, "carol")
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("increment views", func(t *testing.T) {
		at := time.Unix(5000, 0)
		require.NoError(t, s.IncrementViews(ctx, "p3", ViewGuest, at))
		require.NoError(t, s.IncrementViews(ctx, "p3", ViewUser, at))
		require.NoError(t, s.IncrementViews(ctx, "p3", ViewUser, at))
		require.NoError(t, s.IncrementViews(ctx, "missing", ViewUser, at))

		matches, err := s.MatchPosts(ctx, &Plan{Strategy: StrategyRegexFallback, Terms: []string{"cooking"}})
		require.NoError(t, err)
		require.Len(t, matches, 1)
		p := matches[0].Post
		assert.EqualValues(t, 1, p.GuestViews)
		assert.EqualValues(t, 2, p.UserViews)
		assert.True(t, p.UpdatedAt.Equal(at))
	})
}

func TestInMemoryStore(t *testing.T) {
	s := NewInMemoryStore()
	seedStore(t, s)
	testContentStore(t, s)
}

func TestInMemoryStore_TextPlanUnavailable(t *testing.T) {
	s := NewInMemoryStore()
	_, err := s.MatchPosts(context.Background(), &Plan{Strategy: StrategyTextIndexed, Text: "x"})
	assert.ErrorIs(t, err, ErrTextIndexUnavailable)

	infos, err := s.Indexes(context.Background())
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestInMemoryStore_CopiesOnWrite(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	p := &Post{ID: "p1", Content: "original"}
	require.NoError(t, s.PutPost(ctx, p))
	p.Content = "mutated"

	got, err := s.Post(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "original", got.Content)
}

func TestInMemoryStore_DeleteAndUnfollow(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	seedStore(t, s)

	require.NoError(t, s.DeletePost(ctx, "p1"))
	assert.Equal(t, 6, s.Len())

	eng, err := s.Engagement(ctx, []string{"p1"})
	require.NoError(t, err)
	assert.Zero(t, eng["p1"].Likes)

	require.NoError(t, s.Unfollow(ctx, "bob", "alice"))
	ids, err := s.Following(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, ids)
}
