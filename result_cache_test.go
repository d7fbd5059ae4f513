package feedsearch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint(t *testing.T) {
	base := Fingerprint(fingerprintTweets, "golang", "alice", MediaFilterNone, false, 1, 20)

	variants := []string{
		Fingerprint(fingerprintUsers, "golang", "alice", MediaFilterNone, false, 1, 20),
		Fingerprint(fingerprintTweets, "golang tips", "alice", MediaFilterNone, false, 1, 20),
		Fingerprint(fingerprintTweets, "golang", "bob", MediaFilterNone, false, 1, 20),
		Fingerprint(fingerprintTweets, "golang", "", MediaFilterNone, false, 1, 20),
		Fingerprint(fingerprintTweets, "golang", "alice", MediaFilterImage, false, 1, 20),
		Fingerprint(fingerprintTweets, "golang", "alice", MediaFilterNone, true, 1, 20),
		Fingerprint(fingerprintTweets, "golang", "alice", MediaFilterNone, false, 2, 20),
		Fingerprint(fingerprintTweets, "golang", "alice", MediaFilterNone, false, 1, 10),
	}
	seen := map[string]bool{base: true}
	for _, v := range variants {
		assert.False(t, seen[v], v)
		seen[v] = true
	}

	assert.Equal(t, base, Fingerprint(fingerprintTweets, "golang", "alice", MediaFilterNone, false, 1, 20))
	assert.Contains(t, base, RequesterFragment("alice"))
	assert.Contains(t, Fingerprint(fingerprintTweets, "x", "", MediaFilterNone, false, 1, 20), RequesterFragment(""))

	// content cannot forge another requester's fragment
	forged := Fingerprint(fingerprintTweets, "a"+RequesterFragment("bob"), "alice", MediaFilterNone, false, 1, 20)
	assert.NotContains(t, forged, RequesterFragment("bob"))
}

type testPage []int

func (p testPage) Len() int { return len(p) }

func TestResultCache(t *testing.T) {
	clock := newFakeClock()
	c := NewResultCache[testPage](&ResultCacheOptions{TTL: time.Minute, MaxCachedPage: 2, Now: clock.Now})

	fp := Fingerprint(fingerprintTweets, "go", "alice", MediaFilterNone, false, 1, 20)

	_, _, ok := c.Get(fp)
	assert.False(t, ok)

	assert.True(t, c.Put(fp, 1, testPage{1, 2}, 42))
	page, total, ok := c.Get(fp)
	assert.True(t, ok)
	assert.Equal(t, testPage{1, 2}, page)
	assert.EqualValues(t, 42, total)

	clock.Advance(time.Minute)
	_, _, ok = c.Get(fp)
	assert.False(t, ok)
}

func TestResultCache_PutSkips(t *testing.T) {
	c := NewResultCache[testPage](&ResultCacheOptions{MaxCachedPage: 2})

	assert.False(t, c.Put("empty", 1, testPage{}, 0))
	assert.False(t, c.Put("nil", 1, nil, 0))
	assert.False(t, c.Put("deep", 3, testPage{1}, 1))
	assert.True(t, c.Put("shallow", 2, testPage{1}, 1))
	assert.Equal(t, 1, c.Len())
}

func TestResultCache_Invalidate(t *testing.T) {
	c := NewResultCache[testPage](nil)

	for _, requester := range []string{"alice", "bob", ""} {
		for page := 1; page <= 2; page++ {
			c.Put(Fingerprint(fingerprintTweets, "go", requester, MediaFilterNone, false, page, 20), page, testPage{1}, 1)
		}
	}
	assert.Equal(t, 6, c.Len())

	assert.Equal(t, 2, c.Invalidate(RequesterFragment("alice")))
	assert.Equal(t, 2, c.Invalidate(RequesterFragment("")))
	assert.Equal(t, 0, c.Invalidate(RequesterFragment("nobody")))
	assert.Equal(t, 2, c.Len())

	c.InvalidateAll()
	assert.Equal(t, 0, c.Len())
}
