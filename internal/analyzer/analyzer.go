// Package analyzer sequences an analysis request: validate, cache lookup,
// rate check, upstream AI call, cache write. It is the only place where
// internal failures are translated into caller-visible error kinds; the
// cache and limiter report miss and deny as ordinary values.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kolscope/kolscope/internal/ai"
	"github.com/kolscope/kolscope/internal/logging"
	"github.com/kolscope/kolscope/internal/metrics"
	"github.com/kolscope/kolscope/internal/normalize"
	"github.com/kolscope/kolscope/internal/observability"
	"github.com/kolscope/kolscope/internal/ratelimit"
	"github.com/kolscope/kolscope/internal/report"
	"github.com/kolscope/kolscope/internal/reportcache"
)

// ErrorKind is a stable, machine-readable failure classification.
type ErrorKind string

const (
	KindInvalidInput        ErrorKind = "INVALID_INPUT"
	KindRateLimited         ErrorKind = "RATE_LIMITED"
	KindUpstreamUnavailable ErrorKind = "UPSTREAM_UNAVAILABLE"
	KindInternal            ErrorKind = "INTERNAL"
)

// Error is the caller-visible failure shape. Message never contains stack
// traces or store URLs.
type Error struct {
	Kind       ErrorKind     `json:"kind"`
	Message    string        `json:"message"`
	RetryAfter time.Duration `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Languages and modes accepted by Analyze.
const (
	LanguageEN = "en"
	LanguageZH = "zh"

	ModeQuick = "quick"
	ModeDeep  = "deep"
)

// Request is the single inbound operation of the analysis core.
type Request struct {
	Query          string
	Language       string // "en" (default) or "zh"
	Mode           string // "quick" (default) or "deep"
	ForceRefresh   bool
	ClientIdentity string // raw network identity; hashed before any storage
}

// Response carries the report and its provenance.
type Response struct {
	Report   *report.TrustReport `json:"report"`
	Source   string              `json:"source"` // "api" or "cache"
	CachedAt time.Time           `json:"cachedAt,omitempty"`
	Retries  int                 `json:"-"`
}

// Researcher is the upstream AI collaborator.
type Researcher interface {
	Research(ctx context.Context, req ai.ResearchRequest) (*ai.Outcome, error)
	Enabled() bool
	Model() string
}

// Config holds orchestrator retry policy. Retries against a paid external
// API are a cost/latency trade-off, so the loop is explicit and bounded.
type Config struct {
	MaxAttempts    int           `json:"max_attempts" yaml:"max_attempts"`
	BackoffBase    time.Duration `json:"backoff_base" yaml:"backoff_base"`
	AttemptTimeout time.Duration `json:"attempt_timeout" yaml:"attempt_timeout"`
}

// DefaultConfig returns the default retry policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		BackoffBase:    500 * time.Millisecond,
		AttemptTimeout: 60 * time.Second,
	}
}

// Service is the analysis orchestrator.
type Service struct {
	normalizer *normalize.Normalizer
	cache      *reportcache.Cache
	limiter    *ratelimit.Limiter
	researcher Researcher
	cfg        Config
	sleep      func(context.Context, time.Duration) // injectable for tests
}

// New creates the orchestrator.
func New(n *normalize.Normalizer, c *reportcache.Cache, l *ratelimit.Limiter, r Researcher, cfg Config) *Service {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 60 * time.Second
	}
	return &Service{
		normalizer: n,
		cache:      c,
		limiter:    l,
		researcher: r,
		cfg:        cfg,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Analyze runs the full state machine and produces exactly one response.
func (s *Service) Analyze(ctx context.Context, req Request) (resp *Response, aerr *Error) {
	metrics.RequestStarted()
	defer metrics.RequestFinished()

	start := time.Now()
	defer func() {
		// The orchestrator boundary is the only place unexpected
		// panics are converted to a caller-visible error.
		if r := recover(); r != nil {
			logging.Op().Error("analyze panicked", "panic", r)
			resp = nil
			aerr = &Error{Kind: KindInternal, Message: "internal error"}
		}
		status := "ok"
		source := ""
		if aerr != nil {
			status = string(aerr.Kind)
		} else if resp != nil {
			source = resp.Source
		}
		metrics.RecordAnalysis(req.Language, req.Mode, status, source, time.Since(start))
	}()

	ctx, span := observability.StartSpan(ctx, "analyze",
		observability.AttrLanguage.String(req.Language),
		observability.AttrMode.String(req.Mode),
	)
	defer span.End()

	// VALIDATING
	lang, mode, vErr := validateEnums(req.Language, req.Mode)
	if vErr != nil {
		return nil, vErr
	}
	req.Language, req.Mode = lang, mode

	norm, err := s.normalizer.Normalize(req.Query)
	if err != nil {
		return nil, &Error{Kind: KindInvalidInput, Message: inputMessage(err)}
	}

	// CACHE_LOOKUP — skipped entirely on a forced refresh, which still
	// goes through the rate check below so cache bypass cannot be abused.
	if !req.ForceRefresh {
		if entry := s.cache.Get(ctx, norm.Key, req.Language, req.Mode); entry != nil {
			return &Response{
				Report:   entry.Report,
				Source:   "cache",
				CachedAt: entry.StoredAt,
			}, nil
		}
	} else {
		metrics.RecordCacheLookup("bypass")
	}

	// RATE_CHECK — cache hits never reach this point, so they never
	// consume quota.
	limit := s.limiter.Check(ctx, req.ClientIdentity)
	if !limit.Allowed {
		return nil, &Error{
			Kind:       KindRateLimited,
			Message:    "too many analysis requests, try again later",
			RetryAfter: limit.RetryAfter,
		}
	}

	// UPSTREAM_CALL
	outcome, retries, err := s.callUpstream(ctx, ai.ResearchRequest{
		Handle:   norm.Key,
		Display:  norm.Display,
		Language: req.Language,
		Mode:     req.Mode,
	})
	if err != nil {
		observability.SetSpanError(span, err)
		return nil, mapUpstreamError(err)
	}

	// NORMALIZE — a malformed model response is a terminal upstream
	// failure for this attempt, never coerced into a fabricated report.
	if !outcome.Recognized {
		logging.Op().Warn("upstream output unparseable", "handle", norm.Key)
		return nil, &Error{Kind: KindUpstreamUnavailable, Message: "analysis service returned an unusable response"}
	}

	result := outcome.Report
	if result.Sparse() {
		// Uniform "insufficient information" payload instead of a
		// sparse one keeps client-side handling identical.
		result = report.Insufficient(norm.Display)
	}
	result.Handle = norm.Key
	if result.DisplayName == "" {
		result.DisplayName = norm.Display
	}

	// CACHE_WRITE — best effort: the report is already computed, so a
	// failed write is logged and the response still succeeds.
	if err := s.cache.Set(ctx, norm.Key, req.Language, req.Mode, result); err != nil {
		logging.Op().Warn("report cache write failed", "error", err)
	}

	return &Response{Report: result, Source: "api", Retries: retries}, nil
}

// callUpstream runs the bounded retry loop around the AI call. Exponential
// backoff between attempts; terminal error kinds short-circuit.
func (s *Service) callUpstream(ctx context.Context, req ai.ResearchRequest) (*ai.Outcome, int, error) {
	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := s.cfg.BackoffBase << (attempt - 1)
			s.sleep(ctx, backoff)
			if ctx.Err() != nil {
				return nil, attempt, ctx.Err()
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
		outcome, err := s.researcher.Research(attemptCtx, req)
		cancel()

		if err == nil {
			return outcome, attempt, nil
		}
		lastErr = err
		if !ai.Retryable(err) {
			return nil, attempt, err
		}
		logging.Op().Warn("upstream attempt failed, will retry",
			"attempt", attempt+1, "max", s.cfg.MaxAttempts, "error", err)
	}
	return nil, s.cfg.MaxAttempts - 1, lastErr
}

func validateEnums(language, mode string) (string, string, *Error) {
	switch language {
	case "":
		language = LanguageEN
	case LanguageEN, LanguageZH:
	default:
		return "", "", &Error{Kind: KindInvalidInput, Message: fmt.Sprintf("unsupported language %q", language)}
	}
	switch mode {
	case "":
		mode = ModeQuick
	case ModeQuick, ModeDeep:
	default:
		return "", "", &Error{Kind: KindInvalidInput, Message: fmt.Sprintf("unsupported mode %q", mode)}
	}
	return language, mode, nil
}

func inputMessage(err error) string {
	switch {
	case errors.Is(err, normalize.ErrEmpty):
		return "query must not be empty"
	case errors.Is(err, normalize.ErrTooLong):
		return "query is too long"
	case errors.Is(err, normalize.ErrDisallowedChar):
		return "query contains unsupported characters"
	default:
		return "invalid query"
	}
}

func mapUpstreamError(err error) *Error {
	switch {
	case errors.Is(err, ai.ErrQuotaExceeded), errors.Is(err, ai.ErrDisabled):
		return &Error{Kind: KindUpstreamUnavailable, Message: "analysis service is temporarily unavailable"}
	case errors.Is(err, ai.ErrBadRequest), errors.Is(err, ai.ErrNotFound):
		// Our request construction is at fault, not the caller's input.
		return &Error{Kind: KindInternal, Message: "internal error"}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &Error{Kind: KindUpstreamUnavailable, Message: "analysis timed out"}
	case ai.Retryable(err):
		return &Error{Kind: KindUpstreamUnavailable, Message: "analysis service is temporarily unavailable"}
	default:
		return &Error{Kind: KindInternal, Message: "internal error"}
	}
}
