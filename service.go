package feedsearch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

// SearchQuery is a post search request.
type SearchQuery struct {
	Content     string
	Media       MediaFilter
	FollowScope bool
	// Requester is the authenticated user id, empty for guests.
	Requester string
	Page      int
	Limit     int
}

// UserQuery is a user search request.
type UserQuery struct {
	Content   string
	Requester string
	Page      int
	Limit     int
}

// SearchResult is a page of posts.  Cached results are shared between
// callers and must not be modified.
type SearchResult struct {
	Tweets          []*SearchItem `json:"tweets"`
	TotalPages      int64         `json:"total_pages"`
	TotalTweets     int64         `json:"total_tweets"`
	Limit           int           `json:"limit"`
	Page            int           `json:"page"`
	ExecutionTimeMS int64         `json:"execution_time_ms"`
}

func (r *SearchResult) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Tweets)
}

// UserSearchResult is a page of users.
type UserSearchResult struct {
	Users           []UserSummary `json:"users"`
	TotalPages      int64         `json:"total_pages"`
	TotalUsers      int64         `json:"total_users"`
	Limit           int           `json:"limit"`
	Page            int           `json:"page"`
	ExecutionTimeMS int64         `json:"execution_time_ms"`
}

func (r *UserSearchResult) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Users)
}

type SearchServiceOptions struct {
	Results *ResultCacheOptions
	Follows *FollowSetResolverOptions
	Probe   *IndexCapabilityProbeOptions
	Views   *ViewCounterOptions

	Logger  *slog.Logger
	Metrics *SearchMetrics
}

// SearchService resolves post and user searches through the result cache,
// the query planner, the aggregator and the count estimator, and records
// views of every page it serves.
type SearchService struct {
	store ContentStore

	probe      *IndexCapabilityProbe
	follows    *FollowSetResolver
	planner    *QueryPlanner
	aggregator *ResultAggregator
	counter    *CountEstimator
	tweets     *ResultCache[*SearchResult]
	users      *ResultCache[*UserSearchResult]
	views      *ViewCounter

	logger  *slog.Logger
	metrics *SearchMetrics
}

func NewSearchService(store ContentStore, follows FollowStore, opt *SearchServiceOptions) *SearchService {
	if opt == nil {
		opt = &SearchServiceOptions{}
	}

	probeOpt := withDefault(opt.Probe)
	probeOpt.Logger = lo.CoalesceOrEmpty(probeOpt.Logger, opt.Logger)
	probeOpt.Metrics = lo.CoalesceOrEmpty(probeOpt.Metrics, opt.Metrics)

	followOpt := withDefault(opt.Follows)
	followOpt.Logger = lo.CoalesceOrEmpty(followOpt.Logger, opt.Logger)
	followOpt.Metrics = lo.CoalesceOrEmpty(followOpt.Metrics, opt.Metrics)

	viewOpt := withDefault(opt.Views)
	viewOpt.Logger = lo.CoalesceOrEmpty(viewOpt.Logger, opt.Logger)
	viewOpt.Metrics = lo.CoalesceOrEmpty(viewOpt.Metrics, opt.Metrics)

	tweetOpt := withDefault(opt.Results)
	tweetOpt.Name = fingerprintTweets
	tweetOpt.Metrics = lo.CoalesceOrEmpty(tweetOpt.Metrics, opt.Metrics)

	userOpt := *tweetOpt
	userOpt.Name = fingerprintUsers

	probe := NewIndexCapabilityProbe(store, probeOpt)
	resolver := NewFollowSetResolver(follows, followOpt)

	return &SearchService{
		store:      store,
		probe:      probe,
		follows:    resolver,
		planner:    NewQueryPlanner(probe, resolver),
		aggregator: NewResultAggregator(store),
		counter:    NewCountEstimator(store),
		tweets:     NewResultCache[*SearchResult](tweetOpt),
		users:      NewResultCache[*UserSearchResult](&userOpt),
		views:      NewViewCounter(store, viewOpt),
		logger:     opt.Logger,
		metrics:    opt.Metrics,
	}
}

// withDefault returns a copy of *opt, or a zero value when opt is nil.
func withDefault[T any](opt *T) *T {
	var v T
	if opt != nil {
		v = *opt
	}
	return &v
}

// Search returns one page of posts matching q.
//
// The page size is clamped to MaxPageSize and the page to at least 1.
// Store failures are returned wrapped in ErrStoreUnavailable and are never
// cached.
func (s *SearchService) Search(ctx context.Context, q SearchQuery) (*SearchResult, error) {
	q.Content = strings.TrimSpace(q.Content)
	q.Page, q.Limit = normalizePage(q.Page, q.Limit)

	fp := Fingerprint(fingerprintTweets, q.Content, q.Requester, q.Media, q.FollowScope, q.Page, q.Limit)
	if res, _, ok := s.tweets.Get(fp); ok {
		debugLog(ctx, s.logger, "search cache hit", "fingerprint", fp)
		s.recordViews(ctx, res, q.Requester)
		return res, nil
	}

	start := time.Now()

	plan, err := s.planner.Plan(ctx, &q)
	if err != nil {
		errorLog(ctx, s.logger, "failed to plan search", "err", err)
		return nil, err
	}

	page, total, err := s.execute(ctx, plan, &q)
	if errors.Is(err, ErrTextIndexUnavailable) && plan.Strategy == StrategyTextIndexed {
		// The text index went away since it was probed.
		warnLog(ctx, s.logger, "text index unavailable, retrying with substring match", "err", err)
		s.probe.Invalidate()
		plan = plan.WithoutTextIndex()
		page, total, err = s.execute(ctx, plan, &q)
	}
	if err != nil {
		errorLog(ctx, s.logger, "search failed", "strategy", plan.Strategy, "err", err)
		return nil, err
	}

	elapsed := time.Since(start)
	res := &SearchResult{
		Tweets:          page.Items,
		TotalPages:      totalPages(total, q.Limit),
		TotalTweets:     total,
		Limit:           q.Limit,
		Page:            q.Page,
		ExecutionTimeMS: elapsed.Milliseconds(),
	}

	s.tweets.Put(fp, q.Page, res, total)
	s.recordViews(ctx, res, q.Requester)
	s.metrics.searchDone(fingerprintTweets, plan.Strategy, elapsed.Seconds())

	debugLog(ctx, s.logger, "search done",
		"strategy", plan.Strategy,
		"hint", plan.Hint,
		"items", len(res.Tweets),
		"total", total,
		"elapsed", elapsed,
	)

	return res, nil
}

// execute runs the aggregation and the count of plan concurrently.
func (s *SearchService) execute(ctx context.Context, plan *Plan, q *SearchQuery) (*AggregateResult, int64, error) {
	var (
		page  *AggregateResult
		total int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		page, err = s.aggregator.Aggregate(gctx, plan, q.Requester, q.Page, q.Limit)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = s.counter.Count(gctx, plan, q.Requester)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return page, total, nil
}

func (s *SearchService) recordViews(ctx context.Context, res *SearchResult, requester string) {
	ids := lo.Map(res.Tweets, func(item *SearchItem, _ int) string { return item.ID })
	s.views.Record(ctx, ids, requester)
}

// SearchUsers returns one page of users whose name or username contains
// every term of q.Content.
func (s *SearchService) SearchUsers(ctx context.Context, q UserQuery) (*UserSearchResult, error) {
	q.Content = strings.TrimSpace(q.Content)
	q.Page, q.Limit = normalizePage(q.Page, q.Limit)

	fp := Fingerprint(fingerprintUsers, q.Content, q.Requester, MediaFilterNone, false, q.Page, q.Limit)
	if res, _, ok := s.users.Get(fp); ok {
		return res, nil
	}

	start := time.Now()

	matched, err := s.store.MatchUsers(ctx, splitTerms(q.Content))
	if err != nil {
		err = fmt.Errorf("%w: failed to match users: %w", ErrStoreUnavailable, err)
		errorLog(ctx, s.logger, "user search failed", "err", err)
		return nil, err
	}

	total := int64(len(matched))
	window := paginate(matched, q.Page, q.Limit)

	elapsed := time.Since(start)
	res := &UserSearchResult{
		Users:           lo.Map(window, func(u *User, _ int) UserSummary { return u.Summary() }),
		TotalPages:      totalPages(total, q.Limit),
		TotalUsers:      total,
		Limit:           q.Limit,
		Page:            q.Page,
		ExecutionTimeMS: elapsed.Milliseconds(),
	}

	s.users.Put(fp, q.Page, res, total)
	s.metrics.searchDone(fingerprintUsers, StrategyRegexFallback, elapsed.Seconds())

	return res, nil
}

// InvalidateRequester drops every cached page of one requester.  An empty
// id drops all guest pages.
func (s *SearchService) InvalidateRequester(requester string) int {
	frag := RequesterFragment(requester)
	return s.tweets.Invalidate(frag) + s.users.Invalidate(frag)
}

// InvalidateResults clears both result caches.  The follow and index
// caches are not touched.
func (s *SearchService) InvalidateResults() {
	s.tweets.InvalidateAll()
	s.users.InvalidateAll()
}

// FollowsChanged drops the cached follow set and result pages of userID.
func (s *SearchService) FollowsChanged(userID string) {
	s.follows.Invalidate(userID)
	s.InvalidateRequester(userID)
}

// TextIndexChanged forces the next search to re-probe the text index.
// Call it whenever the store's text index is built, rebuilt or dropped.
func (s *SearchService) TextIndexChanged() {
	s.probe.Invalidate()
}

// Close waits for pending view updates.
func (s *SearchService) Close() {
	s.views.Close()
}
