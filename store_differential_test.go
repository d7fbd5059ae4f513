package feedsearch

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"testing"
	"time"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStoreDifferential verifies that InMemoryStore and PebbleStore
// behave identically for the same sequence of operations.
func TestStoreDifferential(t *testing.T) {
	seeds := []uint64{0, 1, 42, 12345, 98765}
	for _, seed := range seeds {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			testStoreDifferentialWithSeed(t, seed)
		})
	}
}

var diffAuthors = []string{"alice", "bob", "carol", "dave"}

var diffWords = []string{"golang", "search", "feed", "pebble", "cache", "video", "photo"}

func testStoreDifferentialWithSeed(t *testing.T, seed uint64) {
	ctx := context.Background()

	inMemory := NewInMemoryStore()
	pebbleStore, err := NewPebbleStoreWithFS("test", vfs.NewMem())
	require.NoError(t, err)
	defer pebbleStore.Close()

	rng := rand.New(rand.NewPCG(seed, seed))

	posts := generateRandomPosts(rng, 100)
	for _, p := range posts {
		require.NoError(t, inMemory.PutPost(ctx, p))
		require.NoError(t, pebbleStore.PutPost(ctx, p))
	}

	// Random likes, deletes and follows on both sides.
	for range 50 {
		user := diffAuthors[rng.IntN(len(diffAuthors))]
		post := posts[rng.IntN(len(posts))].ID
		require.NoError(t, inMemory.Like(ctx, user, post))
		require.NoError(t, pebbleStore.Like(ctx, user, post))
	}
	for range 10 {
		id := posts[rng.IntN(len(posts))].ID
		require.NoError(t, inMemory.DeletePost(ctx, id))
		require.NoError(t, pebbleStore.DeletePost(ctx, id))
	}
	assert.Equal(t, inMemory.Len(), pebbleStore.Len())

	for i := range 50 {
		plan := generateRandomPlan(rng)

		memMatches, err := inMemory.MatchPosts(ctx, plan)
		require.NoError(t, err)
		pebbleMatches, err := pebbleStore.MatchPosts(ctx, plan)
		require.NoError(t, err)

		memIDs := matchIDs(memMatches)
		pebbleIDs := matchIDs(pebbleMatches)
		slices.Sort(memIDs)
		slices.Sort(pebbleIDs)

		assert.Equal(t, memIDs, pebbleIDs,
			"plan %d: results mismatch\nplan: %+v", i, plan)
	}

	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	memEng, err := inMemory.Engagement(ctx, ids)
	require.NoError(t, err)
	pebbleEng, err := pebbleStore.Engagement(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, memEng, pebbleEng)
}

func generateRandomPosts(rng *rand.Rand, n int) []*Post {
	posts := make([]*Post, n)
	mediaTypes := []MediaType{MediaImage, MediaVideo, MediaHLS}

	for i := range n {
		p := &Post{
			ID:        fmt.Sprintf("post-%03d", i),
			AuthorID:  diffAuthors[rng.IntN(len(diffAuthors))],
			Type:      PostTypeTweet,
			CreatedAt: time.Unix(int64(1000+rng.IntN(100)), 0),
		}

		var words []string
		for range rng.IntN(4) {
			words = append(words, diffWords[rng.IntN(len(diffWords))])
		}
		p.Content = fmt.Sprint(words)

		for range rng.IntN(3) {
			p.Medias = append(p.Medias, Media{Type: mediaTypes[rng.IntN(len(mediaTypes))]})
		}

		if i > 0 && rng.IntN(3) == 0 {
			p.ParentID = posts[rng.IntN(i)].ID
			p.Type = PostType(1 + rng.IntN(3))
		}

		posts[i] = p
	}
	return posts
}

func generateRandomPlan(rng *rand.Rand) *Plan {
	plan := &Plan{}

	if rng.IntN(2) == 0 {
		plan.Strategy = StrategyRegexFallback
		for range 1 + rng.IntN(2) {
			plan.Terms = append(plan.Terms, diffWords[rng.IntN(len(diffWords))])
		}
	}
	if rng.IntN(2) == 0 {
		plan.MediaTypes = MediaFilter(1 + rng.IntN(2)).Types()
		plan.Hint = HintMediaType
	}
	if rng.IntN(2) == 0 {
		plan.Authors = []string{diffAuthors[rng.IntN(len(diffAuthors))], diffAuthors[rng.IntN(len(diffAuthors))]}
		if plan.Hint == HintNone {
			plan.Hint = HintAuthorSet
		}
	}
	return plan
}
