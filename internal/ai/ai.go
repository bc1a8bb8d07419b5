// Package ai calls the external generative AI service that researches a
// social-media handle and returns a structured trust report with web
// citations. The service is non-deterministic, rate-limited, and
// occasionally malformed; callers receive a tagged outcome (recognized
// report or raw text) and must pattern-match before use.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kolscope/kolscope/internal/metrics"
	"github.com/kolscope/kolscope/internal/report"
)

// Config holds AI service configuration.
type Config struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	APIKey  string `json:"api_key" yaml:"api_key"`
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"`
	// Timeout bounds a single upstream attempt. Retry policy lives in the
	// orchestrator, not here.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultConfig returns sensible defaults for the AI service.
func DefaultConfig() Config {
	return Config{
		Enabled: false,
		Model:   "sonar",
		BaseURL: "https://api.perplexity.ai",
		Timeout: 60 * time.Second,
	}
}

// ResearchRequest describes one handle to research.
type ResearchRequest struct {
	Handle   string
	Display  string
	Language string // "en" or "zh"
	Mode     string // "quick" or "deep"
}

// Outcome is the tagged result of a research call. When Recognized is true
// Report is set; otherwise RawText carries the unparseable model output.
type Outcome struct {
	Recognized    bool
	Report        *report.TrustReport
	RawText       string
	Citations     []report.Citation
	SearchQueries []string
}

// Terminal upstream error kinds. These short-circuit any retry loop.
var (
	ErrQuotaExceeded = errors.New("ai: quota exceeded")
	ErrBadRequest    = errors.New("ai: bad request")
	ErrNotFound      = errors.New("ai: not found")
	ErrDisabled      = errors.New("ai: service not enabled")
)

// APIError is an upstream HTTP failure that is not one of the known
// terminal kinds.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ai: upstream returned status %d: %s", e.Status, e.Body)
}

// Retryable reports whether an upstream error is transient by policy:
// network failures, timeouts, and 5xx responses. Terminal kinds (quota, bad
// request, not found) and parse failures are not retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrQuotaExceeded) || errors.Is(err, ErrBadRequest) ||
		errors.Is(err, ErrNotFound) || errors.Is(err, ErrDisabled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500
	}
	// Network errors, timeouts, context deadline.
	return true
}

// maxQuickTokens and maxDeepTokens bound the response size per analysis mode.
const (
	maxQuickTokens = 1024
	maxDeepTokens  = 4096
)

// defaultTemperature is set low for consistent, evidence-driven reports.
const defaultTemperature = 0.2

// Client calls the grounded chat-completions API.
type Client struct {
	cfg    Config
	client *http.Client
}

// NewClient creates an AI research client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// Enabled returns whether the AI service is configured and enabled.
func (c *Client) Enabled() bool {
	return c.cfg.Enabled && c.cfg.APIKey != ""
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Research performs a single research attempt for the given handle. It
// returns a tagged Outcome on any 200 response, even when the model output
// is not parseable; transport and API failures are returned as errors.
func (c *Client) Research(ctx context.Context, req ResearchRequest) (*Outcome, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}

	systemPrompt, userPrompt, err := composeResearchPrompts(req)
	if err != nil {
		return nil, fmt.Errorf("build prompts: %w", err)
	}

	maxTokens := maxQuickTokens
	if req.Mode == "deep" {
		maxTokens = maxDeepTokens
	}

	start := time.Now()
	resp, err := c.chatCompletion(ctx, systemPrompt, userPrompt, maxTokens)
	if err != nil {
		metrics.RecordUpstreamAttempt(attemptOutcome(err), c.cfg.Model, time.Since(start))
		return nil, err
	}

	outcome := c.shapeOutcome(resp)
	if outcome.Recognized {
		metrics.RecordUpstreamAttempt("ok", c.cfg.Model, time.Since(start))
	} else {
		metrics.RecordUpstreamAttempt("malformed", c.cfg.Model, time.Since(start))
	}
	return outcome, nil
}

func attemptOutcome(err error) string {
	if Retryable(err) {
		return "retryable"
	}
	return "terminal"
}

// shapeOutcome turns a raw API response into the tagged union the
// orchestrator consumes. Grounding metadata (citations, search queries) is
// attached regardless of whether the report body parsed.
func (c *Client) shapeOutcome(resp *chatCompletionResponse) *Outcome {
	outcome := &Outcome{
		Citations:     resp.citationList(),
		SearchQueries: resp.SearchQueries,
	}

	var content string
	if len(resp.Choices) > 0 && resp.Choices[0].Message.Content != nil {
		content = *resp.Choices[0].Message.Content
	}
	outcome.RawText = content

	body, ok := ExtractJSON(content)
	if !ok {
		return outcome
	}

	r, err := report.Decode(body)
	if err != nil {
		return outcome
	}

	r.Citations = outcome.Citations
	r.SearchQueries = outcome.SearchQueries
	r.GeneratedAt = time.Now().UTC()
	outcome.Recognized = true
	outcome.Report = r
	return outcome
}

// --- wire types (OpenAI-compatible chat completions with web grounding) ---

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`

	// Grounding metadata: plain citation URLs, richer search results, and
	// the web searches the model issued while answering.
	Citations     []string       `json:"citations,omitempty"`
	SearchResults []searchResult `json:"search_results,omitempty"`
	SearchQueries []string       `json:"search_queries,omitempty"`

	Usage *chatCompletionUsage `json:"usage,omitempty"`
}

type chatChoice struct {
	Index        int               `json:"index"`
	Message      chatChoiceMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

type chatChoiceMessage struct {
	Role    string  `json:"role"`
	Content *string `json:"content"`
}

type searchResult struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Date  string `json:"date,omitempty"`
}

type chatCompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (r *chatCompletionResponse) citationList() []report.Citation {
	if len(r.SearchResults) > 0 {
		out := make([]report.Citation, 0, len(r.SearchResults))
		for _, sr := range r.SearchResults {
			out = append(out, report.Citation{Title: sr.Title, URL: sr.URL})
		}
		return out
	}
	out := make([]report.Citation, 0, len(r.Citations))
	for _, url := range r.Citations {
		out = append(out, report.Citation{URL: url})
	}
	return out
}

func (c *Client) chatCompletion(ctx context.Context, systemPrompt, userPrompt string, maxTokens int) (*chatCompletionResponse, error) {
	reqBody := chatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: defaultTemperature,
		MaxTokens:   maxTokens,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := c.cfg.BaseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, respBody)
	}

	var chatResp chatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in AI response")
	}
	return &chatResp, nil
}

func classifyStatus(status int, body []byte) error {
	apiErr := &APIError{Status: status, Body: truncate(string(body), 512)}
	switch status {
	case http.StatusPaymentRequired, http.StatusForbidden, http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrQuotaExceeded, apiErr.Body)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrBadRequest, apiErr.Body)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, apiErr.Body)
	default:
		return apiErr
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
