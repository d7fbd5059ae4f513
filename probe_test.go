package feedsearch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// stubStore wraps a ContentStore and lets tests replace single methods
// and count calls.
type stubStore struct {
	ContentStore

	indexes    func(ctx context.Context) ([]IndexInfo, error)
	matchPosts func(ctx context.Context, plan *Plan) ([]*Match, error)
	increment  func(ctx context.Context, postID string, kind ViewKind, at time.Time) error

	indexCalls atomic.Int32
	matchCalls atomic.Int32
}

func (s *stubStore) Indexes(ctx context.Context) ([]IndexInfo, error) {
	s.indexCalls.Add(1)
	if s.indexes != nil {
		return s.indexes(ctx)
	}
	return s.ContentStore.Indexes(ctx)
}

func (s *stubStore) MatchPosts(ctx context.Context, plan *Plan) ([]*Match, error) {
	s.matchCalls.Add(1)
	if s.matchPosts != nil {
		return s.matchPosts(ctx, plan)
	}
	return s.ContentStore.MatchPosts(ctx, plan)
}

func (s *stubStore) IncrementViews(ctx context.Context, postID string, kind ViewKind, at time.Time) error {
	if s.increment != nil {
		return s.increment(ctx, postID, kind, at)
	}
	return s.ContentStore.IncrementViews(ctx, postID, kind, at)
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	now atomic.Int64
}

func newFakeClock() *fakeClock {
	c := &fakeClock{}
	c.now.Store(time.Unix(1_000_000, 0).UnixNano())
	return c
}

func (c *fakeClock) Now() time.Time {
	return time.Unix(0, c.now.Load())
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now.Add(int64(d))
}

func textIndexes() ([]IndexInfo, error) {
	return []IndexInfo{
		{Name: "posts_created_at", Kind: IndexKindRegular, Fields: []string{"created_at"}},
		{Name: TextIndexName, Kind: IndexKindText, Fields: []string{"content"}},
	}, nil
}

func TestIndexCapabilityProbe(t *testing.T) {
	ctx := context.Background()

	t.Run("detects text index", func(t *testing.T) {
		store := &stubStore{ContentStore: NewInMemoryStore(), indexes: func(context.Context) ([]IndexInfo, error) {
			return textIndexes()
		}}
		probe := NewIndexCapabilityProbe(store, nil)
		assert.True(t, probe.HasTextIndex(ctx))
	})

	t.Run("regular indexes only", func(t *testing.T) {
		store := &stubStore{ContentStore: NewInMemoryStore(), indexes: func(context.Context) ([]IndexInfo, error) {
			return []IndexInfo{{Name: "by_content", Kind: IndexKindRegular, Fields: []string{"content"}}}, nil
		}}
		probe := NewIndexCapabilityProbe(store, nil)
		assert.False(t, probe.HasTextIndex(ctx))
	})

	t.Run("text index on another field", func(t *testing.T) {
		store := &stubStore{ContentStore: NewInMemoryStore(), indexes: func(context.Context) ([]IndexInfo, error) {
			return []IndexInfo{{Name: "bio", Kind: IndexKindText, Fields: []string{"bio"}}}, nil
		}}
		probe := NewIndexCapabilityProbe(store, nil)
		assert.False(t, probe.HasTextIndex(ctx))
	})

	t.Run("cached until ttl", func(t *testing.T) {
		clock := newFakeClock()
		store := &stubStore{ContentStore: NewInMemoryStore(), indexes: func(context.Context) ([]IndexInfo, error) {
			return textIndexes()
		}}
		probe := NewIndexCapabilityProbe(store, &IndexCapabilityProbeOptions{TTL: time.Hour, Now: clock.Now})

		assert.True(t, probe.HasTextIndex(ctx))
		assert.True(t, probe.HasTextIndex(ctx))
		assert.EqualValues(t, 1, store.indexCalls.Load())

		clock.Advance(time.Hour)
		assert.True(t, probe.HasTextIndex(ctx))
		assert.EqualValues(t, 2, store.indexCalls.Load())
	})

	t.Run("invalidate", func(t *testing.T) {
		var has atomic.Bool
		store := &stubStore{ContentStore: NewInMemoryStore(), indexes: func(context.Context) ([]IndexInfo, error) {
			if has.Load() {
				return textIndexes()
			}
			return nil, nil
		}}
		probe := NewIndexCapabilityProbe(store, nil)

		assert.False(t, probe.HasTextIndex(ctx))
		has.Store(true)
		assert.False(t, probe.HasTextIndex(ctx))

		probe.Invalidate()
		assert.True(t, probe.HasTextIndex(ctx))
	})

	t.Run("failure is not cached", func(t *testing.T) {
		var fail atomic.Bool
		fail.Store(true)
		store := &stubStore{ContentStore: NewInMemoryStore(), indexes: func(context.Context) ([]IndexInfo, error) {
			if fail.Load() {
				return nil, errors.New("connection refused")
			}
			return textIndexes()
		}}
		probe := NewIndexCapabilityProbe(store, nil)

		assert.False(t, probe.HasTextIndex(ctx))
		fail.Store(false)
		assert.True(t, probe.HasTextIndex(ctx))
		assert.EqualValues(t, 2, store.indexCalls.Load())
	})
}
