package feedsearch

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/samber/lo"
)

const DefaultFollowCacheTTL = 1 * time.Hour

type FollowSetResolverOptions struct {
	// TTL of a resolved follow set.  Default 1h.
	TTL time.Duration
	// Size bounds the number of cached users.  0 is unbounded.
	Size int

	Logger  *slog.Logger
	Metrics *SearchMetrics
	Now     func() time.Time
}

// FollowSetResolver resolves the ids a user follows, plus the user itself.
type FollowSetResolver struct {
	store   FollowStore
	cache   *ttlCache[[]string]
	logger  *slog.Logger
	metrics *SearchMetrics
}

func NewFollowSetResolver(store FollowStore, opt *FollowSetResolverOptions) *FollowSetResolver {
	if opt == nil {
		opt = &FollowSetResolverOptions{}
	}
	ttl := opt.TTL
	if ttl <= 0 {
		ttl = DefaultFollowCacheTTL
	}
	return &FollowSetResolver{
		store:   store,
		cache:   newTTLCache[[]string](opt.Size, ttl, opt.Now),
		logger:  opt.Logger,
		metrics: opt.Metrics,
	}
}

// Resolve returns the sorted follow set of userID, always including userID.
// The returned slice must not be modified.
func (r *FollowSetResolver) Resolve(ctx context.Context, userID string) ([]string, error) {
	if set, ok := r.cache.Get(userID); ok {
		r.metrics.cacheLookup("follows", true)
		return set, nil
	}
	r.metrics.cacheLookup("follows", false)

	following, err := r.store.Following(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to resolve follows of %s: %w", ErrStoreUnavailable, userID, err)
	}

	set := lo.Uniq(append(slices.Clone(following), userID))
	slices.Sort(set)

	r.cache.Put(userID, set)
	debugLog(ctx, r.logger, "resolved follow set", "user", userID, "size", len(set))

	return set, nil
}

// Invalidate drops the cached follow set of userID, e.g. after a follow or
// unfollow.
func (r *FollowSetResolver) Invalidate(userID string) {
	r.cache.Delete(userID)
}
