package feedsearch

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/samber/lo"
)

const (
	MaxPageSize     = 100
	DefaultPageSize = 20
)

// normalizePage clamps page to at least 1 and limit to 1..MaxPageSize.
// A non-positive limit falls back to DefaultPageSize.
func normalizePage(page, limit int) (int, int) {
	page = max(page, 1)
	if limit < 1 {
		limit = DefaultPageSize
	}
	return page, min(limit, MaxPageSize)
}

// totalPages is ceil(total / limit).
func totalPages(total int64, limit int) int64 {
	if limit <= 0 {
		return 0
	}
	l := int64(limit)
	return (total + l - 1) / l
}

// visibleMatches runs plan against store, joins each match to its author
// and keeps only the matches requester may see.  Matches whose author no
// longer exists are dropped.  Both ResultAggregator and CountEstimator go
// through here so that a page and its total never disagree.
func visibleMatches(ctx context.Context, store ContentStore, plan *Plan, requester string) ([]*Match, map[string]*User, error) {
	matches, err := store.MatchPosts(ctx, plan)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to match posts: %w", ErrStoreUnavailable, err)
	}
	if len(matches) == 0 {
		return nil, nil, nil
	}

	authorIDs := lo.Uniq(lo.Map(matches, func(m *Match, _ int) string { return m.Post.AuthorID }))
	authors, err := store.Users(ctx, authorIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to load authors: %w", ErrStoreUnavailable, err)
	}

	visible := lo.Filter(matches, func(m *Match, _ int) bool {
		author, ok := authors[m.Post.AuthorID]
		return ok && visibleTo(m.Post, author, requester)
	})
	return visible, authors, nil
}

// compareRecency orders newest first, then by id.
func compareRecency(a, b *Match) int {
	if !a.Post.CreatedAt.Equal(b.Post.CreatedAt) {
		return b.Post.CreatedAt.Compare(a.Post.CreatedAt)
	}
	return cmp.Compare(a.Post.ID, b.Post.ID)
}

// compareRelevance orders by score, then by recency.
func compareRelevance(a, b *Match) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	return compareRecency(a, b)
}

func sortMatches(matches []*Match, order Ordering) {
	switch order {
	case OrderRelevance:
		slices.SortFunc(matches, compareRelevance)
	default:
		slices.SortFunc(matches, compareRecency)
	}
}

// paginate returns the page-th window of size limit (page is 1-based).
func paginate[T any](s []T, page, limit int) []T {
	skip := (page - 1) * limit
	if skip >= len(s) {
		return nil
	}
	return s[skip:min(skip+limit, len(s))]
}

// AggregateResult is one page of enriched posts.
type AggregateResult struct {
	Items   []*SearchItem
	Elapsed time.Duration
}

// ResultAggregator builds a page of enriched, visible posts for a plan.
type ResultAggregator struct {
	store ContentStore
}

func NewResultAggregator(store ContentStore) *ResultAggregator {
	return &ResultAggregator{store: store}
}

// Aggregate executes plan and returns the requested page.  Visibility is
// applied before pagination, so the window is taken over visible posts.
func (a *ResultAggregator) Aggregate(ctx context.Context, plan *Plan, requester string, page, limit int) (*AggregateResult, error) {
	start := time.Now()
	page, limit = normalizePage(page, limit)

	visible, authors, err := visibleMatches(ctx, a.store, plan, requester)
	if err != nil {
		return nil, err
	}

	sortMatches(visible, plan.Order)
	window := paginate(visible, page, limit)
	if len(window) == 0 {
		return &AggregateResult{Items: []*SearchItem{}, Elapsed: time.Since(start)}, nil
	}

	postIDs := lo.Map(window, func(m *Match, _ int) string { return m.Post.ID })
	engagement, err := a.store.Engagement(ctx, postIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to count engagement: %w", ErrStoreUnavailable, err)
	}

	mentioned, err := a.mentionedUsers(ctx, window)
	if err != nil {
		return nil, err
	}

	items := make([]*SearchItem, 0, len(window))
	for _, m := range window {
		item := &SearchItem{
			Post:       *m.Post,
			Author:     authors[m.Post.AuthorID].Summary(),
			Engagement: engagement[m.Post.ID],
			Score:      m.Score,
		}
		for _, id := range m.Post.Mentions {
			if u, ok := mentioned[id]; ok {
				item.Mentions = append(item.Mentions, u.Summary())
			}
		}
		items = append(items, item)
	}

	return &AggregateResult{Items: items, Elapsed: time.Since(start)}, nil
}

func (a *ResultAggregator) mentionedUsers(ctx context.Context, window []*Match) (map[string]*User, error) {
	ids := lo.Uniq(lo.FlatMap(window, func(m *Match, _ int) []string { return m.Post.Mentions }))
	if len(ids) == 0 {
		return nil, nil
	}
	users, err := a.store.Users(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load mentioned users: %w", ErrStoreUnavailable, err)
	}
	return users, nil
}

// CountEstimator counts the visible matches of a plan, independent of
// pagination.
type CountEstimator struct {
	store ContentStore
}

func NewCountEstimator(store ContentStore) *CountEstimator {
	return &CountEstimator{store: store}
}

// Count returns the number of posts matching plan that requester may see.
func (e *CountEstimator) Count(ctx context.Context, plan *Plan, requester string) (int64, error) {
	visible, _, err := visibleMatches(ctx, e.store, plan, requester)
	if err != nil {
		return 0, err
	}
	return int64(len(visible)), nil
}
