package feedsearch

import (
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type ttlEntry[V any] struct {
	value      V
	insertedAt time.Time
}

// ttlCache is a capacity-bounded string-keyed cache whose entries expire a
// fixed duration after insertion, regardless of reads.
//
// The LRU sweeps expired entries in the background on wall-clock time.  Get
// additionally checks the age against now, so an injected clock controls
// expiry in tests.
type ttlCache[V any] struct {
	ttl time.Duration
	now func() time.Time
	lru *expirable.LRU[string, ttlEntry[V]]
}

// newTTLCache creates a cache holding at most size entries (0 = unbounded).
func newTTLCache[V any](size int, ttl time.Duration, now func() time.Time) *ttlCache[V] {
	if now == nil {
		now = time.Now
	}
	return &ttlCache[V]{
		ttl: ttl,
		now: now,
		lru: expirable.NewLRU[string, ttlEntry[V]](size, nil, ttl),
	}
}

func (c *ttlCache[V]) Get(key string) (v V, found bool) {
	e, ok := c.lru.Get(key)
	if !ok {
		return
	}
	if c.now().Sub(e.insertedAt) >= c.ttl {
		c.lru.Remove(key)
		return
	}
	return e.value, true
}

func (c *ttlCache[V]) Put(key string, v V) {
	c.lru.Add(key, ttlEntry[V]{value: v, insertedAt: c.now()})
}

func (c *ttlCache[V]) Delete(key string) bool {
	return c.lru.Remove(key)
}

// DeleteContaining removes every key containing sub and returns how many
// were removed.
func (c *ttlCache[V]) DeleteContaining(sub string) int {
	n := 0
	for _, k := range c.lru.Keys() {
		if strings.Contains(k, sub) && c.lru.Remove(k) {
			n++
		}
	}
	return n
}

func (c *ttlCache[V]) Purge() {
	c.lru.Purge()
}

func (c *ttlCache[V]) Len() int {
	return c.lru.Len()
}
