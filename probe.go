package feedsearch

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

const DefaultIndexFlagTTL = 24 * time.Hour

type IndexCapabilityProbeOptions struct {
	// TTL is how long a successful probe is trusted.  Default 24h.
	TTL time.Duration
	// Field is the field the text index must cover.  Default "content".
	Field string

	Logger  *slog.Logger
	Metrics *SearchMetrics
	Now     func() time.Time
}

// IndexCapabilityProbe tells whether the content store currently has a
// text index over post content.  The answer is cached for a long TTL and
// dropped by Invalidate whenever the index is (re)built.
//
// A failed probe counts as "no text index" and is not cached.
type IndexCapabilityProbe struct {
	store ContentStore

	ttl     time.Duration
	field   string
	logger  *slog.Logger
	metrics *SearchMetrics
	now     func() time.Time

	mu        sync.Mutex
	known     bool
	has       bool
	checkedAt time.Time
}

func NewIndexCapabilityProbe(store ContentStore, opt *IndexCapabilityProbeOptions) *IndexCapabilityProbe {
	if opt == nil {
		opt = &IndexCapabilityProbeOptions{}
	}
	p := &IndexCapabilityProbe{
		store:   store,
		ttl:     opt.TTL,
		field:   opt.Field,
		logger:  opt.Logger,
		metrics: opt.Metrics,
		now:     opt.Now,
	}
	if p.ttl <= 0 {
		p.ttl = DefaultIndexFlagTTL
	}
	if p.field == "" {
		p.field = "content"
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// HasTextIndex returns the cached flag, probing the store when it is
// unknown or older than the TTL.
func (p *IndexCapabilityProbe) HasTextIndex(ctx context.Context) bool {
	p.mu.Lock()
	if p.known && p.now().Sub(p.checkedAt) < p.ttl {
		has := p.has
		p.mu.Unlock()
		p.metrics.cacheLookup("index", true)
		return has
	}
	p.mu.Unlock()
	p.metrics.cacheLookup("index", false)

	indexes, err := p.store.Indexes(ctx)
	if err != nil {
		warnLog(ctx, p.logger, "index probe failed, using regex fallback", "err", err)
		return false
	}

	has := slices.ContainsFunc(indexes, func(idx IndexInfo) bool {
		return idx.Kind == IndexKindText && slices.Contains(idx.Fields, p.field)
	})

	p.mu.Lock()
	p.known = true
	p.has = has
	p.checkedAt = p.now()
	p.mu.Unlock()

	debugLog(ctx, p.logger, "probed text index", "available", has)

	return has
}

// Invalidate forgets the cached flag.
func (p *IndexCapabilityProbe) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.known = false
}
