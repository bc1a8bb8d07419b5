// Package ratelimit bounds how often any one client may trigger a fresh
// upstream AI call. It keeps a fixed-window counter per pseudonymous client
// identity in the blob store.
//
// The store has no compare-and-swap, so concurrent checks from the same
// identity may both read the same prior count and both write an increment,
// losing one. The limit is therefore soft: an abuse deterrent, not a hard
// quota guarantee. A fixed window additionally admits up to 2x the limit
// across a window boundary. Both are accepted trade-offs.
//
// If the store is unreachable the check fails open: availability of the
// product is prioritized over strict quota enforcement.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/kolscope/kolscope/internal/blobstore"
	"github.com/kolscope/kolscope/internal/logging"
	"github.com/kolscope/kolscope/internal/metrics"
)

const (
	// DefaultMaxRequests is the number of fresh analyses permitted per
	// window per identity.
	DefaultMaxRequests = 10
	// DefaultWindow is the fixed counting window duration.
	DefaultWindow = time.Hour
	// DefaultKeyPrefix namespaces counter objects in the store.
	DefaultKeyPrefix = "ratelimit/"
)

// Config holds rate limiter policy.
type Config struct {
	MaxRequests int           `json:"max_requests" yaml:"max_requests"`
	Window      time.Duration `json:"window" yaml:"window"`
	KeyPrefix   string        `json:"key_prefix" yaml:"key_prefix"`
}

// DefaultConfig returns the default limiter policy.
func DefaultConfig() Config {
	return Config{
		MaxRequests: DefaultMaxRequests,
		Window:      DefaultWindow,
		KeyPrefix:   DefaultKeyPrefix,
	}
}

// Result is the outcome of a rate limit check. Deny is an ordinary value,
// not an error.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // set when denied
}

// counter is the persisted window state: {windowStart: epoch-ms, count: int}.
type counter struct {
	WindowStart int64 `json:"windowStart"`
	Count       int   `json:"count"`
}

// Limiter implements fixed-window rate limiting over the blob store.
type Limiter struct {
	store blobstore.Store
	cfg   Config
	now   func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the limiter's notion of now (tests).
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter with the given policy.
func New(store blobstore.Store, cfg Config, opts ...Option) *Limiter {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultMaxRequests
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	l := &Limiter{store: store, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// HashIdentity pseudonymizes a client identity with a fast non-cryptographic
// hash. The raw identity (typically a network address) is never persisted;
// the hash only needs even key distribution, not collision resistance.
func HashIdentity(identity string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(identity))
}

// Check reads the identity's window counter, increments it if the request is
// admitted, and reports the decision. A denied request is not counted.
func (l *Limiter) Check(ctx context.Context, identity string) Result {
	key := l.cfg.KeyPrefix + HashIdentity(identity) + ".json"
	now := l.now()

	cur, found, err := l.read(ctx, key)
	if err != nil {
		logging.Op().Warn("rate limit store unreachable, failing open", "error", err)
		metrics.RecordRateLimit("fail_open")
		return Result{Allowed: true, Remaining: l.cfg.MaxRequests - 1}
	}

	windowStart := time.UnixMilli(cur.WindowStart)
	switch {
	case !found, now.Sub(windowStart) > l.cfg.Window:
		// First request from this identity, or the window elapsed:
		// start a new window.
		cur = counter{WindowStart: now.UnixMilli(), Count: 1}
	case cur.Count < l.cfg.MaxRequests:
		cur.Count++
	default:
		retryAfter := windowStart.Add(l.cfg.Window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		metrics.RecordRateLimit("denied")
		return Result{Allowed: false, Remaining: 0, RetryAfter: retryAfter}
	}

	if err := l.write(ctx, key, cur); err != nil {
		logging.Op().Warn("rate limit counter write failed, failing open", "error", err)
		metrics.RecordRateLimit("fail_open")
		return Result{Allowed: true, Remaining: l.cfg.MaxRequests - cur.Count}
	}

	metrics.RecordRateLimit("allowed")
	return Result{Allowed: true, Remaining: l.cfg.MaxRequests - cur.Count}
}

func (l *Limiter) read(ctx context.Context, key string) (counter, bool, error) {
	infos, err := l.store.List(ctx, key)
	if err != nil {
		return counter{}, false, fmt.Errorf("list counter %q: %w", key, err)
	}
	if len(infos) == 0 {
		return counter{}, false, nil
	}

	data, err := l.store.Fetch(ctx, infos[0].URL)
	if err != nil {
		return counter{}, false, fmt.Errorf("fetch counter %q: %w", key, err)
	}

	var cur counter
	if err := json.Unmarshal(data, &cur); err != nil {
		// A corrupt counter resets the window rather than blocking the
		// client forever.
		logging.Op().Warn("rate limit counter malformed, resetting window", "key", key, "error", err)
		return counter{}, false, nil
	}
	return cur, true, nil
}

func (l *Limiter) write(ctx context.Context, key string, cur counter) error {
	data, err := json.Marshal(cur)
	if err != nil {
		return fmt.Errorf("encode counter %q: %w", key, err)
	}
	if err := l.store.Put(ctx, key, data, "application/json"); err != nil {
		return fmt.Errorf("store counter %q: %w", key, err)
	}
	return nil
}
