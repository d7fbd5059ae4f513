package feedsearch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewCounter(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	seedStore(t, s)

	clock := newFakeClock()
	v := NewViewCounter(s, &ViewCounterOptions{Workers: 2, Now: clock.Now})

	v.Record(ctx, []string{"p1", "p2"}, "")
	v.Record(ctx, []string{"p1"}, "bob")
	v.Record(ctx, nil, "bob")
	v.Close()

	p1, err := s.Post(ctx, "p1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, p1.GuestViews)
	assert.EqualValues(t, 1, p1.UserViews)
	assert.True(t, p1.UpdatedAt.Equal(clock.Now()))

	p2, err := s.Post(ctx, "p2")
	require.NoError(t, err)
	assert.EqualValues(t, 1, p2.GuestViews)
	assert.Zero(t, p2.UserViews)

	// closed counters drop silently
	v.Record(ctx, []string{"p1"}, "")
	v.Close()
	p1, err = s.Post(ctx, "p1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, p1.GuestViews)
}

func TestViewCounter_DetachedFromRequest(t *testing.T) {
	var cancelled atomic.Bool
	store := &stubStore{ContentStore: NewInMemoryStore(), increment: func(ctx context.Context, _ string, _ ViewKind, _ time.Time) error {
		cancelled.Store(ctx.Err() != nil)
		return nil
	}}
	v := NewViewCounter(store, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	v.Record(ctx, []string{"p1"}, "")
	v.Close()

	assert.False(t, cancelled.Load())
}

func TestViewCounter_QueueFull(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var calls atomic.Int32

	store := &stubStore{ContentStore: NewInMemoryStore(), increment: func(context.Context, string, ViewKind, time.Time) error {
		calls.Add(1)
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}}
	metrics := NewSearchMetrics(nil)
	v := NewViewCounter(store, &ViewCounterOptions{QueueSize: 1, Workers: 1, Timeout: time.Minute, Metrics: metrics})

	ctx := context.Background()
	v.Record(ctx, []string{"a"}, "")
	<-started
	v.Record(ctx, []string{"b"}, "")
	v.Record(ctx, []string{"c"}, "")

	close(release)
	v.Close()

	assert.EqualValues(t, 2, calls.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ViewUpdates.WithLabelValues("dropped")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.ViewUpdates.WithLabelValues("ok")))
}

func TestViewCounter_FailuresAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	store := &stubStore{ContentStore: NewInMemoryStore(), increment: func(context.Context, string, ViewKind, time.Time) error {
		calls.Add(1)
		return errors.New("write failed")
	}}
	metrics := NewSearchMetrics(nil)
	v := NewViewCounter(store, &ViewCounterOptions{Metrics: metrics})

	v.Record(context.Background(), []string{"a", "b", "c"}, "alice")
	v.Close()

	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.ViewUpdates.WithLabelValues("error")))
}
