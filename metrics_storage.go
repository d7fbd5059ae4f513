package feedsearch

import (
	"context"
	"time"
)

var _ ContentStore = (*MetricsStore)(nil)

// MetricsStore wraps a ContentStore and observes call durations.
type MetricsStore struct {
	store   ContentStore
	metrics *SearchMetrics
}

// NewMetricsStore creates a MetricsStore that wraps the given store.
func NewMetricsStore(store ContentStore, metrics *SearchMetrics) *MetricsStore {
	return &MetricsStore{
		store:   store,
		metrics: metrics,
	}
}

func (s *MetricsStore) observe(op string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.StoreDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// MatchPosts implements ContentStore.MatchPosts with metrics collection.
func (s *MetricsStore) MatchPosts(ctx context.Context, plan *Plan) ([]*Match, error) {
	defer s.observe("match_posts", time.Now())
	return s.store.MatchPosts(ctx, plan)
}

// Users implements ContentStore.Users with metrics collection.
func (s *MetricsStore) Users(ctx context.Context, ids []string) (map[string]*User, error) {
	defer s.observe("users", time.Now())
	return s.store.Users(ctx, ids)
}

// MatchUsers implements ContentStore.MatchUsers with metrics collection.
func (s *MetricsStore) MatchUsers(ctx context.Context, terms []string) ([]*User, error) {
	defer s.observe("match_users", time.Now())
	return s.store.MatchUsers(ctx, terms)
}

// Engagement implements ContentStore.Engagement with metrics collection.
func (s *MetricsStore) Engagement(ctx context.Context, postIDs []string) (map[string]Engagement, error) {
	defer s.observe("engagement", time.Now())
	return s.store.Engagement(ctx, postIDs)
}

// IncrementViews implements ContentStore.IncrementViews with metrics collection.
func (s *MetricsStore) IncrementViews(ctx context.Context, postID string, kind ViewKind, at time.Time) error {
	defer s.observe("increment_views", time.Now())
	return s.store.IncrementViews(ctx, postID, kind, at)
}

// Indexes implements ContentStore.Indexes with metrics collection.
func (s *MetricsStore) Indexes(ctx context.Context) ([]IndexInfo, error) {
	defer s.observe("indexes", time.Now())
	return s.store.Indexes(ctx)
}
