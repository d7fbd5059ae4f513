package feedsearch

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupPebbleStore(t *testing.T) *PebbleStore {
	t.Helper()
	s, err := NewPebbleStoreWithFS("test", vfs.NewMem())
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func TestPebbleStore(t *testing.T) {
	s := setupPebbleStore(t)
	seedStore(t, s)
	testContentStore(t, s)
}

func TestPebbleStore_Persistent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewPebbleStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.PutPost(ctx, &Post{ID: "p1", AuthorID: "u1", Content: "kept", CreatedAt: time.Unix(100, 0)}))
	require.NoError(t, s.Close())

	s, err = NewPebbleStore(dir)
	require.NoError(t, err)
	defer s.Close()

	posts, err := s.Posts(ctx, []string{"p1"})
	require.NoError(t, err)
	require.Contains(t, posts, "p1")
	assert.Equal(t, "kept", posts["p1"].Content)
}

func TestPebbleStore_ReplaceUpdatesIndexes(t *testing.T) {
	ctx := context.Background()
	s := setupPebbleStore(t)

	require.NoError(t, s.PutPost(ctx, &Post{
		ID: "p1", AuthorID: "u1", CreatedAt: time.Unix(100, 0),
		Medias: []Media{{Type: MediaImage}},
	}))
	require.NoError(t, s.PutPost(ctx, &Post{
		ID: "p1", AuthorID: "u2", CreatedAt: time.Unix(200, 0),
		Medias: []Media{{Type: MediaVideo}},
	}))
	assert.Equal(t, 1, s.Len())

	matches, err := s.MatchPosts(ctx, &Plan{Authors: []string{"u1"}, Hint: HintAuthorSet})
	require.NoError(t, err)
	assert.Empty(t, matches)

	matches, err = s.MatchPosts(ctx, &Plan{MediaTypes: []MediaType{MediaImage}, Hint: HintMediaType})
	require.NoError(t, err)
	assert.Empty(t, matches)

	matches, err = s.MatchPosts(ctx, &Plan{Authors: []string{"u2"}, Hint: HintAuthorSet})
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, matchIDs(matches))
}

func TestPebbleStore_DeletePost(t *testing.T) {
	ctx := context.Background()
	s := setupPebbleStore(t)
	seedStore(t, s)

	require.NoError(t, s.DeletePost(ctx, "p1"))
	require.NoError(t, s.DeletePost(ctx, "missing"))
	assert.Equal(t, 6, s.Len())

	matches, err := s.MatchPosts(ctx, &Plan{})
	require.NoError(t, err)
	assert.NotContains(t, matchIDs(matches), "p1")

	eng, err := s.Engagement(ctx, []string{"p1"})
	require.NoError(t, err)
	assert.Zero(t, eng["p1"].Likes)
	assert.Zero(t, eng["p1"].Bookmarks)
	assert.EqualValues(t, 1, eng["p1"].Replies, "children are kept")
}

func TestPebbleStore_MatchPostsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := setupPebbleStore(t)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.PutPost(ctx, &Post{ID: id, AuthorID: "u" + id, CreatedAt: time.Unix(int64(100+i), 0)}))
	}

	matches, err := s.MatchPosts(ctx, &Plan{})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, matchIDs(matches))

	// Multi-cursor merge over several authors keeps the order.
	matches, err = s.MatchPosts(ctx, &Plan{Authors: []string{"ua", "uc"}, Hint: HintAuthorSet})
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a"}, matchIDs(matches))
}

func TestPebbleStore_MediaDedup(t *testing.T) {
	ctx := context.Background()
	s := setupPebbleStore(t)

	require.NoError(t, s.PutPost(ctx, &Post{
		ID: "p1", CreatedAt: time.Unix(100, 0),
		Medias: []Media{{Type: MediaVideo}, {Type: MediaHLS}, {Type: MediaVideo}},
	}))

	matches, err := s.MatchPosts(ctx, &Plan{MediaTypes: MediaFilterVideo.Types(), Hint: HintMediaType})
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, matchIDs(matches))
}

func TestPebbleStore_TextPlanUnavailable(t *testing.T) {
	s := setupPebbleStore(t)
	_, err := s.MatchPosts(context.Background(), &Plan{Strategy: StrategyTextIndexed, Text: "x"})
	assert.ErrorIs(t, err, ErrTextIndexUnavailable)

	infos, err := s.Indexes(context.Background())
	require.NoError(t, err)
	for _, info := range infos {
		assert.Equal(t, IndexKindRegular, info.Kind)
	}
}

func TestSelectIndexes(t *testing.T) {
	tests := []struct {
		name   string
		plan   *Plan
		want   byte
		cursor int
	}{
		{name: "no predicate", plan: &Plan{}, want: prefixCreatedAt, cursor: 1},
		{name: "authors", plan: &Plan{Authors: []string{"a", "b"}, Hint: HintAuthorSet}, want: prefixAuthor, cursor: 2},
		{name: "media", plan: &Plan{MediaTypes: MediaFilterVideo.Types(), Hint: HintMediaType}, want: prefixMedia, cursor: 2},
		{
			name:   "media hint wins over authors",
			plan:   &Plan{MediaTypes: []MediaType{MediaImage}, Authors: []string{"a", "b"}, Hint: HintMediaType},
			want:   prefixMedia,
			cursor: 1,
		},
		{
			name:   "authors without hint",
			plan:   &Plan{MediaTypes: []MediaType{MediaImage}, Authors: []string{"a"}},
			want:   prefixAuthor,
			cursor: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sels := selectIndexes(tt.plan)
			require.Len(t, sels, tt.cursor)
			for _, sel := range sels {
				assert.Equal(t, tt.want, sel.lowerBound[0])
			}
		})
	}
}
