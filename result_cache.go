package feedsearch

import (
	"fmt"
	"strconv"
	"time"
)

const (
	DefaultResultCacheTTL  = 5 * time.Minute
	DefaultResultCacheSize = 10000
	// DefaultMaxCachedPage is the deepest page number that gets cached.
	DefaultMaxCachedPage = 10

	// GuestIdentity stands for an unauthenticated requester in fingerprints.
	GuestIdentity = "guest"
)

const (
	fingerprintTweets = "tweets"
	fingerprintUsers  = "users"
)

// Fingerprint is the canonical cache key of a search.  Queries differing in
// any parameter, including the requester, get different fingerprints.
func Fingerprint(kind, content, requester string, media MediaFilter, followScope bool, page, limit int) string {
	return fmt.Sprintf("%s:%s%s%s:%t:%d:%d",
		kind,
		strconv.Quote(content),
		RequesterFragment(requester),
		media,
		followScope,
		page,
		limit,
	)
}

// requesterSep delimits the requester in a fingerprint.  strconv.Quote
// always escapes it, so query content can never contain a fragment.
const requesterSep = "\x1e"

// RequesterFragment is the part of every fingerprint that identifies the
// requester.  Pass it to ResultCache.Invalidate to drop one requester's
// pages, or RequesterFragment("") for all guest pages.
func RequesterFragment(requester string) string {
	if requester == "" {
		requester = GuestIdentity
	}
	return requesterSep + requester + requesterSep
}

// Page is a cacheable result payload.
type Page interface {
	Len() int
}

type ResultCacheOptions struct {
	// TTL measured from insertion.  Default 5m.
	TTL time.Duration
	// Size bounds the entry count.  Default 10000.
	Size int
	// MaxCachedPage is the deepest cached page.  Default 10.
	MaxCachedPage int

	// Name labels cache metrics.
	Name    string
	Metrics *SearchMetrics
	Now     func() time.Time
}

type cachedPage[T Page] struct {
	payload T
	total   int64
}

// ResultCache holds materialized result pages and their total counts.
// It is safe for concurrent use.  Concurrent fills of one fingerprint race
// but converge, since the value for a fingerprint is deterministic.
type ResultCache[T Page] struct {
	cache   *ttlCache[cachedPage[T]]
	maxPage int
	name    string
	metrics *SearchMetrics
}

func NewResultCache[T Page](opt *ResultCacheOptions) *ResultCache[T] {
	if opt == nil {
		opt = &ResultCacheOptions{}
	}
	ttl := opt.TTL
	if ttl <= 0 {
		ttl = DefaultResultCacheTTL
	}
	size := opt.Size
	if size <= 0 {
		size = DefaultResultCacheSize
	}
	maxPage := opt.MaxCachedPage
	if maxPage <= 0 {
		maxPage = DefaultMaxCachedPage
	}
	name := opt.Name
	if name == "" {
		name = "results"
	}
	return &ResultCache[T]{
		cache:   newTTLCache[cachedPage[T]](size, ttl, opt.Now),
		maxPage: maxPage,
		name:    name,
		metrics: opt.Metrics,
	}
}

// Get returns the cached page and total count for fingerprint if present
// and younger than the TTL.
func (c *ResultCache[T]) Get(fingerprint string) (payload T, total int64, found bool) {
	e, ok := c.cache.Get(fingerprint)
	c.metrics.cacheLookup(c.name, ok)
	if !ok {
		return
	}
	return e.payload, e.total, true
}

// Put stores a page unless it is empty or deeper than the cached page
// limit.  It reports whether the page was stored.
func (c *ResultCache[T]) Put(fingerprint string, page int, payload T, total int64) bool {
	if payload.Len() == 0 || page > c.maxPage {
		return false
	}
	c.cache.Put(fingerprint, cachedPage[T]{payload: payload, total: total})
	return true
}

// Invalidate removes every entry whose fingerprint contains sub and
// returns how many were removed.
func (c *ResultCache[T]) Invalidate(sub string) int {
	return c.cache.DeleteContaining(sub)
}

// InvalidateAll clears the cache.
func (c *ResultCache[T]) InvalidateAll() {
	c.cache.Purge()
}

func (c *ResultCache[T]) Len() int {
	return c.cache.Len()
}
