// Package reportcache maps (normalized query, language, mode) to a previously
// computed trust report stored in the blob store. It enforces a TTL and never
// blocks on the identity of the requester.
//
// The backing store offers no replace-in-place guarantee, so several objects
// may exist under one key prefix; the first listed (most recent) is treated
// as authoritative and the duplicates as benign. Store failures and malformed
// payloads degrade to a miss: the cache is an optimization, never a
// correctness dependency.
package reportcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kolscope/kolscope/internal/blobstore"
	"github.com/kolscope/kolscope/internal/cache"
	"github.com/kolscope/kolscope/internal/logging"
	"github.com/kolscope/kolscope/internal/metrics"
	"github.com/kolscope/kolscope/internal/report"
)

const (
	// DefaultTTL is how long a cached report stays fresh.
	DefaultTTL = 24 * time.Hour
	// MaxTTL caps per-deployment TTL configuration.
	MaxTTL = 72 * time.Hour
)

// Config holds report cache settings.
type Config struct {
	TTL   time.Duration `json:"ttl" yaml:"ttl"`
	L1TTL time.Duration `json:"l1_ttl" yaml:"l1_ttl"`
}

// DefaultConfig returns the default cache policy.
func DefaultConfig() Config {
	return Config{TTL: DefaultTTL, L1TTL: 5 * time.Minute}
}

// Entry is a cache hit: the decoded report, its raw stored bytes, and the
// wall-clock time the store recorded at write time. StoredAt is assigned by
// the store, never by the client, so freshness cannot be forged.
type Entry struct {
	Report   *report.TrustReport
	Raw      []byte
	StoredAt time.Time
}

// Cache is the content cache over the blob store, with an optional local
// first-level cache. The L1 is a latency optimization only; the blob store
// remains the source of truth.
type Cache struct {
	store blobstore.Store
	l1    cache.Cache // may be nil
	ttl   time.Duration
	l1TTL time.Duration
	now   func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithL1 layers a local cache in front of the blob store.
func WithL1(l1 cache.Cache) Option {
	return func(c *Cache) { c.l1 = l1 }
}

// WithClock overrides the cache's notion of now (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a report cache. TTL is clamped to [1s, MaxTTL].
func New(store blobstore.Store, cfg Config, opts ...Option) *Cache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if ttl > MaxTTL {
		ttl = MaxTTL
	}
	l1TTL := cfg.L1TTL
	if l1TTL <= 0 {
		l1TTL = 5 * time.Minute
	}
	c := &Cache{
		store: store,
		ttl:   ttl,
		l1TTL: l1TTL,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key derives the deterministic blob key for a query. Layout:
// {mode}/{normalizedQuery}-{language}.json
func Key(query, language, mode string) string {
	return fmt.Sprintf("%s/%s-%s.json", mode, query, language)
}

// l1Envelope carries the stored timestamp alongside the payload so an L1 hit
// can still report freshness.
type l1Envelope struct {
	StoredAt time.Time       `json:"stored_at"`
	Payload  json.RawMessage `json:"payload"`
}

// Get looks up a fresh cached report. A nil return is a miss: not found,
// expired, or any store/decode failure (logged, not surfaced).
func (c *Cache) Get(ctx context.Context, query, language, mode string) *Entry {
	key := Key(query, language, mode)

	if entry := c.getL1(ctx, key); entry != nil {
		metrics.RecordCacheLookup("hit")
		return entry
	}

	start := c.now()
	infos, err := c.store.List(ctx, key)
	metrics.RecordStoreOperation("list", c.now().Sub(start))
	if err != nil {
		logging.Op().Warn("report cache list failed, treating as miss", "key", key, "error", err)
		metrics.RecordCacheLookup("error")
		return nil
	}
	// List matches by prefix, and another entry's key may extend this one
	// (display-mode queries allow '.' and '-', so "a-en.json" is a valid
	// query whose key starts with the key for "a"). Only an exact key match
	// belongs to this lookup; among true duplicates of the same key the
	// first listed (most recent) is authoritative.
	obj, found := firstExact(infos, key)
	if !found {
		metrics.RecordCacheLookup("miss")
		return nil
	}

	age := c.now().Sub(obj.UploadedAt)
	if age > c.ttl {
		metrics.RecordCacheLookup("expired")
		return nil
	}

	start = c.now()
	raw, err := c.store.Fetch(ctx, obj.URL)
	metrics.RecordStoreOperation("fetch", c.now().Sub(start))
	if err != nil {
		logging.Op().Warn("report cache fetch failed, treating as miss", "key", key, "error", err)
		metrics.RecordCacheLookup("error")
		return nil
	}

	r, err := report.Decode(raw)
	if err != nil {
		logging.Op().Warn("report cache payload malformed, treating as miss", "key", key, "error", err)
		metrics.RecordCacheLookup("error")
		return nil
	}

	entry := &Entry{Report: r, Raw: raw, StoredAt: obj.UploadedAt}
	c.setL1(ctx, key, entry)
	metrics.RecordCacheLookup("hit")
	return entry
}

// Set serializes the report and overwrites the object under the
// deterministic key. Failures are the caller's to log; the computed report
// can still be returned to the client even when caching it fails.
func (c *Cache) Set(ctx context.Context, query, language, mode string, r *report.TrustReport) error {
	key := Key(query, language, mode)

	data, err := json.Marshal(r)
	if err != nil {
		metrics.RecordCacheWrite("error")
		return fmt.Errorf("encode report for %q: %w", key, err)
	}

	start := c.now()
	err = c.store.Put(ctx, key, data, "application/json")
	metrics.RecordStoreOperation("put", c.now().Sub(start))
	if err != nil {
		metrics.RecordCacheWrite("error")
		return fmt.Errorf("store report %q: %w", key, err)
	}
	metrics.RecordCacheWrite("ok")

	c.setL1(ctx, key, &Entry{Report: r, Raw: data, StoredAt: c.now()})
	return nil
}

// firstExact returns the first listed object whose key matches exactly.
func firstExact(infos []blobstore.ObjectInfo, key string) (blobstore.ObjectInfo, bool) {
	for _, info := range infos {
		if info.Key == key {
			return info, true
		}
	}
	return blobstore.ObjectInfo{}, false
}

// TTL returns the configured time-to-live.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

func (c *Cache) getL1(ctx context.Context, key string) *Entry {
	if c.l1 == nil {
		return nil
	}
	data, err := c.l1.Get(ctx, key)
	if err != nil {
		return nil
	}
	var env l1Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil
	}
	if c.now().Sub(env.StoredAt) > c.ttl {
		return nil
	}
	r, err := report.Decode(env.Payload)
	if err != nil {
		return nil
	}
	return &Entry{Report: r, Raw: env.Payload, StoredAt: env.StoredAt}
}

func (c *Cache) setL1(ctx context.Context, key string, entry *Entry) {
	if c.l1 == nil {
		return
	}
	env := l1Envelope{StoredAt: entry.StoredAt, Payload: entry.Raw}
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	ttl := c.l1TTL
	if remaining := c.ttl - c.now().Sub(entry.StoredAt); remaining > 0 && remaining < ttl {
		ttl = remaining
	}
	_ = c.l1.Set(ctx, key, data, ttl)
}
