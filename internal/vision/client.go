// Package vision wraps the third-party vision/reasoning API behind the
// resilience layer: circuit breaker, sliding-window admission, outbound
// pacing, bounded retries with jittered backoff, and usage accounting. It is
// the only package that issues network requests, and it never interprets
// response content beyond transport-level success.
package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/elitetradingcoach/chart-analysis/internal/breaker"
	"github.com/elitetradingcoach/chart-analysis/internal/observ"
	"github.com/elitetradingcoach/chart-analysis/internal/ratelimit"
	"github.com/elitetradingcoach/chart-analysis/internal/usage"
)

// Config holds the client tunables. Credentials arrive already validated.
type Config struct {
	APIKey            string
	BaseURL           string
	Model             string
	MaxTokens         int
	TimeoutMs         int
	MaxRetries        int
	BackoffBaseMs     int
	BackoffMaxMs      int
	RequestsPerMinute int
	TierDiscount      float64

	RateLimitRequests        int
	RateLimitWindowMs        int
	CircuitFailureThreshold  int
	CircuitRecoveryTimeoutMs int
}

// Prompt is the structured outbound payload. The image travels as an inline
// data URL; the prompt asks for a JSON object with exactly verdict,
// confidence and reasoning.
type Prompt struct {
	System          string
	UserText        string
	ImageDataURL    string
	ReasoningEffort string
}

// RawResult is the transport-level response handed to the orchestrator for
// content parsing.
type RawResult struct {
	Content      string
	Model        string
	InputTokens  int64
	OutputTokens int64
	Cost         usage.CostEstimate
	Latency      time.Duration
	Attempts     int
}

// Client composes limiter, breaker, pacing and tracker around the raw
// outbound call. One instance per logical downstream endpoint, shared by all
// concurrent requests.
type Client struct {
	cfg        Config
	httpClient *http.Client
	pace       *rate.Limiter
	window     *ratelimit.SlidingWindow
	breaker    *breaker.Breaker
	tracker    *usage.Tracker
}

// NewClient wires the resilience components around one downstream endpoint.
func NewClient(cfg Config, tracker *usage.Tracker) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond,
		},
		pace:    rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60), 1),
		window:  ratelimit.NewSlidingWindow(cfg.RateLimitRequests, time.Duration(cfg.RateLimitWindowMs)*time.Millisecond),
		breaker: breaker.New("vision-api", cfg.CircuitFailureThreshold, time.Duration(cfg.CircuitRecoveryTimeoutMs)*time.Millisecond),
		tracker: tracker,
	}
}

// Call runs one analysis request through the full resilience sequence:
// breaker gate, window admission, paced outbound call, classified retries for
// retryable kinds only. Every terminal outcome, including denials, is
// recorded on the tracker exactly once.
func (c *Client) Call(ctx context.Context, p Prompt) (*RawResult, error) {
	start := time.Now()

	if !c.breaker.CanExecute() {
		err := NewCircuitOpenError(c.breaker.RetryAfter())
		c.recordDenial(start)
		observ.IncCounter("vision_api_denials_total", map[string]string{"reason": "circuit_open"})
		return nil, err
	}

	if !c.window.Allow() {
		err := NewRateLimitedError("local rate limit exceeded", c.window.RetryAfter())
		c.recordDenial(start)
		observ.IncCounter("vision_api_denials_total", map[string]string{"reason": "rate_limited"})
		return nil, err
	}

	var lastErr *APIError
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt); err != nil {
				lastErr = Classify(err, 0)
				break
			}
		}

		if err := c.pace.Wait(ctx); err != nil {
			lastErr = Classify(err, 0)
			break
		}

		result, apiErr := c.doRequest(ctx, p)
		if apiErr == nil {
			result.Latency = time.Since(start)
			result.Attempts = attempt + 1
			c.breaker.RecordSuccess()
			c.tracker.Record(usage.Outcome{
				Success:      true,
				Model:        result.Model,
				InputTokens:  result.InputTokens,
				OutputTokens: result.OutputTokens,
				CostUSD:      result.Cost.FinalCostUSD,
				Latency:      result.Latency,
			})
			observ.IncCounter("vision_api_calls_total", map[string]string{"result": "success"})
			return result, nil
		}

		// Caller-side cancellation says nothing about provider health;
		// charging the breaker for it would let disconnect bursts open the
		// circuit against a healthy endpoint.
		if ctx.Err() == nil {
			c.breaker.RecordFailure()
		}
		lastErr = apiErr
		observ.Log("vision_api_attempt_failed", map[string]any{
			"attempt":   attempt + 1,
			"kind":      string(apiErr.Kind),
			"retryable": apiErr.Retryable,
			"status":    apiErr.HTTPStatus,
		})
		if !apiErr.Retryable {
			break
		}
		if !c.breaker.CanExecute() {
			// The breaker tripped mid-retry; stop burning attempts.
			break
		}
	}

	c.tracker.Record(usage.Outcome{
		Success: false,
		Model:   c.cfg.Model,
		Latency: time.Since(start),
	})
	observ.IncCounter("vision_api_calls_total", map[string]string{"result": "failure"})
	return nil, lastErr
}

// recordDenial accounts a fast-denied call (no network attempt).
func (c *Client) recordDenial(start time.Time) {
	c.tracker.Record(usage.Outcome{
		Success: false,
		Model:   c.cfg.Model,
		Latency: time.Since(start),
	})
}

// backoff sleeps for an exponentially growing, jittered interval, cancellable
// by the caller's context.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	base := time.Duration(c.cfg.BackoffBaseMs*(1<<(attempt-1))) * time.Millisecond
	max := time.Duration(c.cfg.BackoffMaxMs) * time.Millisecond
	if base > max {
		base = max
	}
	jitter := time.Duration(rand.Int63n(int64(base)/2 + 1))
	select {
	case <-time.After(base + jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// chatRequest / chatResponse mirror the provider's completion wire format.

type chatRequest struct {
	Model           string        `json:"model"`
	MaxTokens       int           `json:"max_completion_tokens,omitempty"`
	ReasoningEffort string        `json:"reasoning_effort,omitempty"`
	ResponseFormat  *respFormat   `json:"response_format,omitempty"`
	Messages        []chatMessage `json:"messages"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// doRequest issues one outbound HTTP attempt and classifies any failure.
func (c *Client) doRequest(ctx context.Context, p Prompt) (*RawResult, *APIError) {
	body := chatRequest{
		Model:           c.cfg.Model,
		MaxTokens:       c.cfg.MaxTokens,
		ReasoningEffort: p.ReasoningEffort,
		ResponseFormat:  &respFormat{Type: "json_object"},
		Messages: []chatMessage{
			{Role: "system", Content: []contentPart{{Type: "text", Text: p.System}}},
			{Role: "user", Content: []contentPart{
				{Type: "text", Text: p.UserText},
				{Type: "image_url", ImageURL: &imageURL{URL: p.ImageDataURL}},
			}},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, NewUnknownError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, NewUnknownError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, Classify(err, 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, Classify(nil, resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, NewInvalidResponseError("provider response is not valid JSON", err)
	}
	if parsed.Error != nil {
		return nil, NewTransportError(fmt.Sprintf("provider error: %s", parsed.Error.Type), resp.StatusCode, nil)
	}
	if len(parsed.Choices) == 0 {
		return nil, NewInvalidResponseError("provider response has no choices", nil)
	}

	model := parsed.Model
	if model == "" {
		model = c.cfg.Model
	}
	return &RawResult{
		Content:      parsed.Choices[0].Message.Content,
		Model:        model,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
		Cost:         usage.Estimate(model, parsed.Usage.PromptTokens, parsed.Usage.CompletionTokens, c.cfg.TierDiscount),
	}, nil
}

// BreakerState exposes the breaker state for health reporting.
func (c *Client) BreakerState() breaker.State { return c.breaker.State() }

// RateLimitRemaining exposes current window headroom for health reporting.
func (c *Client) RateLimitRemaining() int { return c.window.Remaining() }

// Breaker exposes the underlying breaker (tests and health probes).
func (c *Client) Breaker() *breaker.Breaker { return c.breaker }

// Window exposes the underlying admission window (tests and health probes).
func (c *Client) Window() *ratelimit.SlidingWindow { return c.window }
