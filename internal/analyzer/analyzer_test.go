package analyzer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kolscope/kolscope/internal/ai"
	"github.com/kolscope/kolscope/internal/blobstore"
	"github.com/kolscope/kolscope/internal/normalize"
	"github.com/kolscope/kolscope/internal/ratelimit"
	"github.com/kolscope/kolscope/internal/report"
	"github.com/kolscope/kolscope/internal/reportcache"
)

// fakeResearcher returns scripted outcomes in order, repeating the last one.
type fakeResearcher struct {
	script []func() (*ai.Outcome, error)
	calls  int
}

func (f *fakeResearcher) Research(_ context.Context, _ ai.ResearchRequest) (*ai.Outcome, error) {
	i := f.calls
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	f.calls++
	return f.script[i]()
}

func (f *fakeResearcher) Enabled() bool { return true }
func (f *fakeResearcher) Model() string { return "sonar" }

func recognized(handle string) func() (*ai.Outcome, error) {
	return func() (*ai.Outcome, error) {
		r := &report.TrustReport{
			Handle:     handle,
			TrustScore: 72,
			Verdict:    report.VerdictTrusted,
			Summary:    "Long-standing account with consistent public history.",
			Citations:  []report.Citation{{Title: "profile", URL: "https://example.com/p"}},
		}
		return &ai.Outcome{Recognized: true, Report: r, Citations: r.Citations}, nil
	}
}

func failing(err error) func() (*ai.Outcome, error) {
	return func() (*ai.Outcome, error) { return nil, err }
}

type fixture struct {
	svc        *Service
	cacheStore *blobstore.MemoryStore
	limitStore *blobstore.MemoryStore
	researcher *fakeResearcher
}

func newFixture(t *testing.T, script ...func() (*ai.Outcome, error)) *fixture {
	t.Helper()
	if len(script) == 0 {
		script = []func() (*ai.Outcome, error){recognized("pentosh1")}
	}

	cacheStore := blobstore.NewMemoryStore()
	limitStore := blobstore.NewMemoryStore()
	researcher := &fakeResearcher{script: script}

	svc := New(
		normalize.New(normalize.DefaultConfig()),
		reportcache.New(cacheStore, reportcache.DefaultConfig()),
		ratelimit.New(limitStore, ratelimit.Config{MaxRequests: 10, Window: time.Hour}),
		researcher,
		Config{MaxAttempts: 3, BackoffBase: time.Millisecond, AttemptTimeout: time.Second},
	)
	svc.sleep = func(context.Context, time.Duration) {} // no real backoff in tests

	return &fixture{svc: svc, cacheStore: cacheStore, limitStore: limitStore, researcher: researcher}
}

func TestAnalyzeEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// First call: cache miss, rate check allowed, upstream call, api source.
	resp, aerr := f.svc.Analyze(ctx, Request{
		Query: "pentosh1", Language: "en", Mode: "quick", ClientIdentity: "1.2.3.4",
	})
	if aerr != nil {
		t.Fatalf("unexpected error: %v", aerr)
	}
	if resp.Source != "api" {
		t.Errorf("expected source api, got %q", resp.Source)
	}
	if resp.Report.Handle != "pentosh1" {
		t.Errorf("unexpected handle %q", resp.Report.Handle)
	}
	if f.researcher.calls != 1 {
		t.Errorf("expected 1 upstream call, got %d", f.researcher.calls)
	}

	// Immediate repeat: cache hit with cachedAt, no new upstream call,
	// no quota consumed.
	resp2, aerr := f.svc.Analyze(ctx, Request{
		Query: "Pentosh1", Language: "en", Mode: "quick", ClientIdentity: "1.2.3.4",
	})
	if aerr != nil {
		t.Fatalf("unexpected error on repeat: %v", aerr)
	}
	if resp2.Source != "cache" {
		t.Errorf("expected source cache, got %q", resp2.Source)
	}
	if resp2.CachedAt.IsZero() {
		t.Error("expected cachedAt on cache hit")
	}
	if f.researcher.calls != 1 {
		t.Errorf("cache hit must not call upstream, calls=%d", f.researcher.calls)
	}
}

func TestInvalidInputIsTerminal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	cases := []Request{
		{Query: "", ClientIdentity: "1.2.3.4"},
		{Query: "has space", ClientIdentity: "1.2.3.4"},
		{Query: "ok", Language: "fr", ClientIdentity: "1.2.3.4"},
		{Query: "ok", Mode: "forensic", ClientIdentity: "1.2.3.4"},
	}
	for _, req := range cases {
		_, aerr := f.svc.Analyze(ctx, req)
		if aerr == nil || aerr.Kind != KindInvalidInput {
			t.Errorf("Analyze(%+v): expected INVALID_INPUT, got %v", req, aerr)
		}
	}
	if f.researcher.calls != 0 {
		t.Errorf("invalid input must never reach upstream, calls=%d", f.researcher.calls)
	}
}

func TestForcedRefreshStillRateLimited(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for i := 0; i < 10; i++ {
		resp, aerr := f.svc.Analyze(ctx, Request{
			Query: "pentosh1", ForceRefresh: true, ClientIdentity: "1.2.3.4",
		})
		if aerr != nil {
			t.Fatalf("forced call %d failed: %v", i+1, aerr)
		}
		if resp.Source != "api" {
			t.Errorf("forced call %d: expected api source, got %q", i+1, resp.Source)
		}
	}

	_, aerr := f.svc.Analyze(ctx, Request{
		Query: "pentosh1", ForceRefresh: true, ClientIdentity: "1.2.3.4",
	})
	if aerr == nil || aerr.Kind != KindRateLimited {
		t.Fatalf("11th forced call: expected RATE_LIMITED, got %v", aerr)
	}
	if aerr.RetryAfter <= 0 {
		t.Error("expected retry-after hint on throttle")
	}
	if f.researcher.calls != 10 {
		t.Errorf("expected exactly 10 upstream calls, got %d", f.researcher.calls)
	}
}

func TestRetryThenSuccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t,
		failing(&ai.APIError{Status: 502, Body: "bad gateway"}),
		recognized("pentosh1"),
	)

	resp, aerr := f.svc.Analyze(ctx, Request{Query: "pentosh1", ClientIdentity: "1.2.3.4"})
	if aerr != nil {
		t.Fatalf("unexpected error: %v", aerr)
	}
	if resp.Retries != 1 {
		t.Errorf("expected 1 retry, got %d", resp.Retries)
	}
	if f.researcher.calls != 2 {
		t.Errorf("expected 2 upstream attempts, got %d", f.researcher.calls)
	}
}

func TestRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, failing(&ai.APIError{Status: 503, Body: "down"}))

	_, aerr := f.svc.Analyze(ctx, Request{Query: "pentosh1", ClientIdentity: "1.2.3.4"})
	if aerr == nil || aerr.Kind != KindUpstreamUnavailable {
		t.Fatalf("expected UPSTREAM_UNAVAILABLE, got %v", aerr)
	}
	if f.researcher.calls != 3 {
		t.Errorf("expected MaxAttempts=3 upstream attempts, got %d", f.researcher.calls)
	}
}

func TestTerminalErrorShortCircuits(t *testing.T) {
	ctx := context.Background()

	t.Run("quota", func(t *testing.T) {
		f := newFixture(t, failing(fmt.Errorf("%w: credits exhausted", ai.ErrQuotaExceeded)))
		_, aerr := f.svc.Analyze(ctx, Request{Query: "pentosh1", ClientIdentity: "1.2.3.4"})
		if aerr == nil || aerr.Kind != KindUpstreamUnavailable {
			t.Fatalf("expected UPSTREAM_UNAVAILABLE, got %v", aerr)
		}
		if f.researcher.calls != 1 {
			t.Errorf("terminal error must not be retried, calls=%d", f.researcher.calls)
		}
	})

	t.Run("bad request maps to internal", func(t *testing.T) {
		f := newFixture(t, failing(fmt.Errorf("%w: bad prompt", ai.ErrBadRequest)))
		_, aerr := f.svc.Analyze(ctx, Request{Query: "pentosh1", ClientIdentity: "1.2.3.4"})
		if aerr == nil || aerr.Kind != KindInternal {
			t.Fatalf("expected INTERNAL, got %v", aerr)
		}
		if f.researcher.calls != 1 {
			t.Errorf("terminal error must not be retried, calls=%d", f.researcher.calls)
		}
	})
}

func TestMalformedUpstreamOutputNotCached(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func() (*ai.Outcome, error) {
		return &ai.Outcome{Recognized: false, RawText: "free-form refusal"}, nil
	})

	_, aerr := f.svc.Analyze(ctx, Request{Query: "pentosh1", ClientIdentity: "1.2.3.4"})
	if aerr == nil || aerr.Kind != KindUpstreamUnavailable {
		t.Fatalf("expected UPSTREAM_UNAVAILABLE for malformed output, got %v", aerr)
	}

	infos, err := f.cacheStore.List(ctx, "quick/")
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 0 {
		t.Error("malformed output must not be written to the cache")
	}
}

func TestSparseReportSubstituted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func() (*ai.Outcome, error) {
		return &ai.Outcome{
			Recognized: true,
			Report:     &report.TrustReport{Handle: "ghostacct", Summary: ""},
		}, nil
	})

	resp, aerr := f.svc.Analyze(ctx, Request{Query: "ghostacct", ClientIdentity: "1.2.3.4"})
	if aerr != nil {
		t.Fatalf("unexpected error: %v", aerr)
	}
	if resp.Report.Verdict != report.VerdictInsufficient {
		t.Errorf("expected insufficient_information substitution, got %q", resp.Report.Verdict)
	}
	if resp.Report.Summary == "" {
		t.Error("canonical fallback must carry a summary")
	}
}

func TestCacheWriteFailureDoesNotFailRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.cacheStore.Fail = errors.New("store write refused")
	resp, aerr := f.svc.Analyze(ctx, Request{Query: "pentosh1", ClientIdentity: "1.2.3.4"})
	if aerr != nil {
		t.Fatalf("cache write failure must not surface: %v", aerr)
	}
	if resp.Source != "api" {
		t.Errorf("expected api source, got %q", resp.Source)
	}
}

func TestLimiterOutageFailsOpen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.limitStore.Fail = errors.New("limit store unreachable")
	resp, aerr := f.svc.Analyze(ctx, Request{Query: "pentosh1", ClientIdentity: "1.2.3.4"})
	if aerr != nil {
		t.Fatalf("limiter outage must fail open: %v", aerr)
	}
	if resp.Source != "api" {
		t.Errorf("expected api source, got %q", resp.Source)
	}
}
