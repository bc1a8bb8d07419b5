package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func stubResponse(content string) string {
	resp := map[string]any{
		"id":    "resp-1",
		"model": "sonar",
		"choices": []map[string]any{
			{"index": 0, "message": map[string]any{"role": "assistant", "content": content}, "finish_reason": "stop"},
		},
		"search_results": []map[string]any{
			{"title": "Profile coverage", "url": "https://example.com/a"},
			{"title": "Forum thread", "url": "https://example.com/b"},
		},
		"search_queries": []string{"pentosh1 twitter reputation"},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		Enabled: true,
		APIKey:  "test-key",
		Model:   "sonar",
		BaseURL: srv.URL,
	})
}

func TestResearchRecognized(t *testing.T) {
	body := `{"handle":"pentosh1","trustScore":72,"verdict":"trusted","summary":"Long track record."}`
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", auth)
		}
		w.Write([]byte(stubResponse(body)))
	})

	outcome, err := c.Research(context.Background(), ResearchRequest{
		Handle: "pentosh1", Language: "en", Mode: "quick",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Recognized {
		t.Fatalf("expected recognized outcome, raw: %q", outcome.RawText)
	}
	if outcome.Report.Handle != "pentosh1" {
		t.Errorf("unexpected handle %q", outcome.Report.Handle)
	}
	if len(outcome.Report.Citations) != 2 {
		t.Errorf("expected grounding citations attached, got %d", len(outcome.Report.Citations))
	}
	if len(outcome.Report.SearchQueries) != 1 {
		t.Errorf("expected search queries attached, got %d", len(outcome.Report.SearchQueries))
	}
}

func TestResearchFencedOutput(t *testing.T) {
	content := "Here you go:\n```json\n{\"handle\":\"pentosh1\",\"summary\":\"ok\"}\n```"
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(stubResponse(content)))
	})

	outcome, err := c.Research(context.Background(), ResearchRequest{Handle: "pentosh1"})
	if err != nil {
		t.Fatal(err)
	}
	if !outcome.Recognized {
		t.Fatal("expected fenced output to be recognized")
	}
}

func TestResearchMalformed(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(stubResponse("I could not produce structured output, sorry.")))
	})

	outcome, err := c.Research(context.Background(), ResearchRequest{Handle: "pentosh1"})
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Recognized {
		t.Fatal("expected malformed outcome")
	}
	if outcome.RawText == "" {
		t.Error("expected raw text preserved for diagnostics")
	}
	if len(outcome.Citations) != 2 {
		t.Error("grounding metadata should survive a parse failure")
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		sentinel  error
		retryable bool
	}{
		{"quota 429", http.StatusTooManyRequests, ErrQuotaExceeded, false},
		{"payment 402", http.StatusPaymentRequired, ErrQuotaExceeded, false},
		{"bad request", http.StatusBadRequest, ErrBadRequest, false},
		{"not found", http.StatusNotFound, ErrNotFound, false},
		{"server error", http.StatusInternalServerError, nil, true},
		{"bad gateway", http.StatusBadGateway, nil, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(`{"error":"nope"}`))
			})

			_, err := c.Research(context.Background(), ResearchRequest{Handle: "x"})
			if err == nil {
				t.Fatal("expected error")
			}
			if tc.sentinel != nil && !errors.Is(err, tc.sentinel) {
				t.Errorf("expected %v, got %v", tc.sentinel, err)
			}
			if got := Retryable(err); got != tc.retryable {
				t.Errorf("Retryable = %v, want %v", got, tc.retryable)
			}
		})
	}
}

func TestDisabledClient(t *testing.T) {
	c := NewClient(Config{Enabled: false})
	if _, err := c.Research(context.Background(), ResearchRequest{Handle: "x"}); !errors.Is(err, ErrDisabled) {
		t.Errorf("expected ErrDisabled, got %v", err)
	}
	if Retryable(ErrDisabled) {
		t.Error("disabled service must not be retried")
	}
}
