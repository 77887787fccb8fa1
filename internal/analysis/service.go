// Package analysis orchestrates chart analysis requests: it resolves the
// speed mode, routes to the mock generator or the live client, parses and
// validates the structured result, and attaches cost and timing metadata.
package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/elitetradingcoach/chart-analysis/internal/breaker"
	"github.com/elitetradingcoach/chart-analysis/internal/config"
	"github.com/elitetradingcoach/chart-analysis/internal/observ"
	"github.com/elitetradingcoach/chart-analysis/internal/speedmode"
	"github.com/elitetradingcoach/chart-analysis/internal/usage"
	"github.com/elitetradingcoach/chart-analysis/internal/vision"
)

// Request is the inbound analysis contract. Immutable once constructed.
type Request struct {
	Image       []byte
	ImageBase64 string
	Description string
	SpeedMode   string
	RequestID   string
	UserID      string
}

// HealthStatus is the read-only snapshot returned by health probes.
type HealthStatus struct {
	Status             string        `json:"status"` // healthy | degraded | unhealthy
	Mode               string        `json:"mode"`   // mock | production
	ResponseTimeMs     int64         `json:"response_time_ms"`
	BreakerState       breaker.State `json:"breaker_state"`
	RateLimitRemaining int           `json:"rate_limit_remaining"`
}

// Service is the analysis orchestrator. Mock-vs-live is decided once at
// construction, never inferred per call from credential contents.
type Service struct {
	cfg      config.Root
	client   *vision.Client
	tracker  *usage.Tracker
	mock     *MockGenerator
	mockMode bool
}

// NewService wires the orchestrator. mockMode is forced on when the config
// requests it or when the credential fails validation outside production
// (production fails fast at config load instead).
func NewService(cfg config.Root, client *vision.Client, tracker *usage.Tracker) *Service {
	s := &Service{
		cfg:      cfg,
		client:   client,
		tracker:  tracker,
		mock:     NewMockGenerator(),
		mockMode: cfg.MockMode,
	}
	observ.Log("analysis_service_created", map[string]any{
		"mock_mode":  s.mockMode,
		"model":      cfg.Vision.Model,
		"masked_key": config.MaskSecret(cfg.Vision.APIKey),
	})
	return s
}

// Mock exposes the mock generator for configuration (tests shorten delays).
func (s *Service) Mock() *MockGenerator { return s.mock }

// MockMode reports which path the service was wired to at startup.
func (s *Service) MockMode() bool { return s.mockMode }

// Analyze runs one request through the per-request state machine:
// RECEIVED -> (MOCK_PATH | LIVE_PATH) -> PARSING -> VALIDATED | FAILED.
// The speed mode is resolved before any path is taken; an unrecognized mode
// fails without a network attempt.
func (s *Service) Analyze(ctx context.Context, req Request) Response {
	start := time.Now()
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	mode, err := speedmode.Resolve(req.SpeedMode, speedmode.Mode(s.cfg.DefaultSpeedMode))
	if err != nil {
		return s.fail(requestID, start, err)
	}

	var (
		result *Result
		cost   usage.CostEstimate
		model  = s.cfg.Vision.Model
	)
	if s.mockMode {
		result, err = s.mockPath(ctx, req, start)
		cost = usage.ZeroCost(model)
	} else {
		var raw *vision.RawResult
		raw, result, err = s.livePath(ctx, req, mode)
		if raw != nil {
			cost = raw.Cost
			model = raw.Model
		}
	}
	if err != nil {
		return s.fail(requestID, start, err)
	}

	elapsed := time.Since(start)
	meta := &Metadata{
		RequestID:           requestID,
		UserID:              req.UserID,
		SpeedMode:           string(mode.Mode),
		ReasoningEffort:     string(mode.Effort),
		MockMode:            s.mockMode,
		Model:               model,
		ProcessingTimeMs:    elapsed.Milliseconds(),
		WithinTargetLatency: mode.WithinTarget(elapsed),
		Cost:                cost,
	}

	observ.Log("analysis_completed", map[string]any{
		"request_id":    requestID,
		"verdict":       string(result.Verdict),
		"confidence":    result.Confidence,
		"speed_mode":    meta.SpeedMode,
		"mock_mode":     s.mockMode,
		"latency_ms":    meta.ProcessingTimeMs,
		"within_target": meta.WithinTargetLatency,
		"cost_usd":      cost.FinalCostUSD,
	})
	observ.IncCounter("analysis_requests_total", map[string]string{
		"path":    pathLabel(s.mockMode),
		"verdict": string(result.Verdict),
	})

	return Response{Success: true, Data: result, Metadata: meta}
}

// AnalyzeFast is a convenience entry for the fastest tier.
func (s *Service) AnalyzeFast(ctx context.Context, req Request) Response {
	req.SpeedMode = string(speedmode.SuperFast)
	return s.Analyze(ctx, req)
}

// AnalyzeThorough is a convenience entry for the most thorough tier.
func (s *Service) AnalyzeThorough(ctx context.Context, req Request) Response {
	req.SpeedMode = string(speedmode.HighAccuracy)
	return s.Analyze(ctx, req)
}

// mockPath synthesizes a result and records the zero-cost attempt. The mock
// generator validates nothing less than the live path does: its verdict and
// confidence pass through the same bounds.
func (s *Service) mockPath(ctx context.Context, req Request, start time.Time) (*Result, error) {
	result, err := s.mock.Generate(ctx, req.Description)
	if err != nil {
		// Abandoned mid-delay; record the dispatched attempt as failed.
		s.tracker.Record(usage.Outcome{Success: false, Mock: true, Model: s.cfg.Vision.Model, Latency: time.Since(start)})
		return nil, err
	}
	result.Confidence = ClampConfidence(result.Confidence)
	s.tracker.Record(usage.Outcome{
		Success: true,
		Mock:    true,
		Model:   s.cfg.Vision.Model,
		Latency: time.Since(start),
	})
	return result, nil
}

// livePath delegates to the client wrapper and parses the structured payload.
// The wrapper owns transport concerns; content validation happens here.
func (s *Service) livePath(ctx context.Context, req Request, mode speedmode.Config) (*vision.RawResult, *Result, error) {
	dataURL, err := normalizeImage(req.Image, req.ImageBase64)
	if err != nil {
		return nil, nil, err
	}

	raw, err := s.client.Call(ctx, vision.Prompt{
		System:          systemPrompt,
		UserText:        userPrompt(req.Description),
		ImageDataURL:    dataURL,
		ReasoningEffort: string(mode.Effort),
	})
	if err != nil {
		return nil, nil, err
	}

	result, err := ParseResult(raw.Content)
	if err != nil {
		return raw, nil, err
	}
	return raw, result, nil
}

func (s *Service) fail(requestID string, start time.Time, err error) Response {
	apiErr := vision.AsAPIError(err).WithRequestID(requestID)
	observ.Log("analysis_failed", map[string]any{
		"request_id": requestID,
		"kind":       string(apiErr.Kind),
		"retryable":  apiErr.Retryable,
		"latency_ms": time.Since(start).Milliseconds(),
	})
	observ.IncCounter("analysis_errors_total", map[string]string{"kind": string(apiErr.Kind)})
	return Response{Success: false, Error: apiErr}
}

// Health returns the read-only telemetry snapshot. Degraded while the
// breaker is probing or the limiter is saturated; unhealthy while the
// breaker is open.
func (s *Service) Health(ctx context.Context) HealthStatus {
	start := time.Now()

	h := HealthStatus{
		Mode:         "production",
		Status:       "healthy",
		BreakerState: breaker.StateClosed,
	}
	if s.mockMode {
		h.Mode = "mock"
	}
	if s.client != nil {
		h.BreakerState = s.client.BreakerState()
		h.RateLimitRemaining = s.client.RateLimitRemaining()
	}

	switch {
	case h.BreakerState == breaker.StateOpen:
		h.Status = "unhealthy"
	case h.BreakerState == breaker.StateHalfOpen, !s.mockMode && h.RateLimitRemaining == 0:
		h.Status = "degraded"
	}

	h.ResponseTimeMs = time.Since(start).Milliseconds()
	return h
}

// Metrics returns the tracker's raw counters.
func (s *Service) Metrics() usage.Metrics { return s.tracker.GetMetrics() }

// PerformanceSummary returns the tracker's derived rates.
func (s *Service) PerformanceSummary() usage.PerformanceSummary {
	return s.tracker.GetPerformanceSummary()
}

func pathLabel(mock bool) string {
	if mock {
		return "mock"
	}
	return "live"
}

const systemPrompt = "You are an expert trading-chart analyst. Respond with a single JSON object " +
	`containing exactly these fields: "verdict" (one of "Diamond", "Fire", "Skull"), ` +
	`"confidence" (integer 0-100), and "reasoning" (a concise explanation). ` +
	"Diamond means a high-quality setup, Fire means a mixed or risky setup, Skull means a setup to avoid."

func userPrompt(description string) string {
	if description == "" {
		return "Analyze this trading chart."
	}
	return fmt.Sprintf("Analyze this trading chart. Trader's context: %s", description)
}
