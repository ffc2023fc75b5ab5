// Package attestcache caches attestation chain results per app_id with a
// TTL and coalesces concurrent verifications of the same app_id into one
// in-flight call, per spec.md §4.5. It is the Go translation of
// attestation_cache.py's AttestationCache, trading that module's manual
// asyncio.Lock + per-key asyncio.Event bookkeeping for
// hashicorp/golang-lru/v2's expirable.LRU and golang.org/x/sync/singleflight.
package attestcache

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/posix4e/tdx-trust-gateway/internal/chain"
)

// Entry is a cached verification result plus the time it was produced,
// matching CachedAttestation.
type Entry struct {
	Result   chain.Result
	CachedAt time.Time
}

// IsExpired reports whether the entry is older than ttl. The cache itself
// already evicts on TTL (expirable.LRU), so this is mostly useful to
// callers inspecting Stats/Get results directly.
func (e Entry) IsExpired(ttl time.Duration) bool {
	return time.Since(e.CachedAt) > ttl
}

// Verify runs one full chain verification for an app_id. Negative results
// (outcome != success) are cached exactly like positive ones — the source
// never special-cases them, and the invariant in spec.md §8 requires
// repeated denials hit the cache too, not re-verify every request.
type Verify func(ctx context.Context, appID string) chain.Result

// Cache is a TTL-bounded, single-flight-coalesced attestation cache.
type Cache struct {
	ttl    time.Duration
	lru    *lru.LRU[string, Entry]
	flight singleflight.Group
	verify Verify

	hits   int64
	misses int64
}

// New builds a Cache. size bounds the number of distinct app_ids held at
// once; ttl matches attestation_cache_ttl_seconds from spec.md §6.
func New(size int, ttl time.Duration, verify Verify) *Cache {
	return &Cache{
		ttl:    ttl,
		lru:    lru.NewLRU[string, Entry](size, nil, ttl),
		verify: verify,
	}
}

// Get returns the cached entry for appID, if present and unexpired.
func (c *Cache) Get(appID string) (Entry, bool) {
	e, ok := c.lru.Get(appID)
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return e, ok
}

// Put inserts or replaces the cached entry for appID.
func (c *Cache) Put(appID string, result chain.Result) {
	c.lru.Add(appID, Entry{Result: result, CachedAt: now()})
}

// TTL returns the cache's configured time-to-live.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Invalidate removes appID from the cache.
func (c *Cache) Invalidate(appID string) {
	c.lru.Remove(appID)
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.lru.Purge()
}

// GetOrVerify returns the cached entry for appID if present; otherwise it
// runs Verify exactly once even under concurrent callers for the same
// appID (singleflight.Group.Do), then caches and returns the result. This
// is the Go equivalent of get_or_verify's pending-event coalescing.
//
// The verification itself runs with context.Background(), independent of
// the caller's ctx, per spec.md §5: a client disconnecting must not cancel
// an in-flight verification that other callers (or a later retry of the
// same client) are waiting on.
func (c *Cache) GetOrVerify(ctx context.Context, appID string) (Entry, error) {
	if e, ok := c.Get(appID); ok {
		return e, nil
	}

	result, err, _ := c.flight.Do(appID, func() (interface{}, error) {
		r := c.verify(context.Background(), appID)
		entry := Entry{Result: r, CachedAt: now()}
		c.lru.Add(appID, entry)
		return entry, nil
	})
	if err != nil {
		return Entry{}, err
	}

	select {
	case <-ctx.Done():
		return Entry{}, ctx.Err()
	default:
	}
	return result.(Entry), nil
}

// Stats reports cache occupancy and hit/miss counters, matching the shape
// of AttestationCache.stats(): total entries held, how many are still
// within ttl_seconds versus stale-but-not-yet-evicted, and the
// configured TTL itself.
type Stats struct {
	Size       int     `json:"size"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	Total      int     `json:"total"`
	Valid      int     `json:"valid"`
	Expired    int     `json:"expired"`
	TTLSeconds float64 `json:"ttl_seconds"`
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	keys := c.lru.Keys()
	valid, expired := 0, 0
	for _, k := range keys {
		e, ok := c.lru.Peek(k)
		if !ok {
			continue
		}
		if e.IsExpired(c.ttl) {
			expired++
		} else {
			valid++
		}
	}
	return Stats{
		Size:       c.lru.Len(),
		Hits:       c.hits,
		Misses:     c.misses,
		Total:      len(keys),
		Valid:      valid,
		Expired:    expired,
		TTLSeconds: c.ttl.Seconds(),
	}
}

var now = time.Now
