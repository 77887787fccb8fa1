package analysis

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elitetradingcoach/chart-analysis/internal/breaker"
	"github.com/elitetradingcoach/chart-analysis/internal/config"
	"github.com/elitetradingcoach/chart-analysis/internal/stubs"
	"github.com/elitetradingcoach/chart-analysis/internal/usage"
	"github.com/elitetradingcoach/chart-analysis/internal/vision"
)

func stubEndpoint(t *testing.T, params map[string]string) (*stubs.VisionServer, string) {
	t.Helper()
	stub := stubs.NewVisionServer()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		r.URL.RawQuery = q.Encode()
		stub.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return stub, srv.URL
}

func liveService(t *testing.T, baseURL string, mutate func(*vision.Config)) (*Service, *usage.Tracker) {
	t.Helper()
	cfg := config.Root{
		DefaultSpeedMode: "balanced",
		Vision: config.Vision{
			APIKey:  "sk-test-abcdefghijklmnopqrstuvwxyz",
			BaseURL: baseURL,
			Model:   "gpt-5",
		},
	}
	vcfg := vision.Config{
		APIKey:            cfg.Vision.APIKey,
		BaseURL:           baseURL,
		Model:             "gpt-5",
		MaxTokens:         1500,
		TimeoutMs:         5000,
		MaxRetries:        0,
		BackoffBaseMs:     1,
		BackoffMaxMs:      5,
		RequestsPerMinute: 60000,
		TierDiscount:      1.0,

		RateLimitRequests:        100,
		RateLimitWindowMs:        60000,
		CircuitFailureThreshold:  50,
		CircuitRecoveryTimeoutMs: 30000,
	}
	if mutate != nil {
		mutate(&vcfg)
	}
	tracker := usage.NewTracker(usage.Targets{})
	return NewService(cfg, vision.NewClient(vcfg, tracker), tracker), tracker
}

func mockService(t *testing.T) (*Service, *usage.Tracker) {
	t.Helper()
	cfg := config.Root{
		MockMode:         true,
		DefaultSpeedMode: "balanced",
		Vision:           config.Vision{Model: "gpt-5"},
	}
	tracker := usage.NewTracker(usage.Targets{})
	s := NewService(cfg, nil, tracker)
	s.Mock().WithDelay(0, 0)
	return s, tracker
}

func TestService_LiveAnalysisSucceeds(t *testing.T) {
	stub, url := stubEndpoint(t, nil)
	s, tracker := liveService(t, url, nil)

	resp := s.Analyze(context.Background(), Request{
		Image:       pngBytes,
		Description: "strong bullish breakout",
		SpeedMode:   "fast",
		UserID:      "trader-7",
	})

	require.True(t, resp.Success, "error: %v", resp.Error)
	assert.Equal(t, VerdictDiamond, resp.Data.Verdict)
	assert.Equal(t, 82, resp.Data.Confidence)

	require.NotNil(t, resp.Metadata)
	assert.NotEmpty(t, resp.Metadata.RequestID, "a request id is generated when absent")
	assert.Equal(t, "trader-7", resp.Metadata.UserID)
	assert.Equal(t, "fast", resp.Metadata.SpeedMode)
	assert.Equal(t, "low", resp.Metadata.ReasoningEffort)
	assert.False(t, resp.Metadata.MockMode)
	assert.True(t, resp.Metadata.WithinTargetLatency)
	assert.Greater(t, resp.Metadata.Cost.FinalCostUSD, 0.0)

	assert.Equal(t, int64(1), stub.Requests())
	assert.Equal(t, int64(1), tracker.GetMetrics().SuccessfulRequests)
}

func TestService_InvalidSpeedModeFailsBeforeNetwork(t *testing.T) {
	stub, url := stubEndpoint(t, nil)
	s, _ := liveService(t, url, nil)

	resp := s.Analyze(context.Background(), Request{
		Image:     pngBytes,
		SpeedMode: "turbo",
		RequestID: "req-42",
	})

	require.False(t, resp.Success)
	assert.Equal(t, vision.KindInvalidSpeedMode, resp.Error.Kind)
	assert.Equal(t, "req-42", resp.Error.RequestID)
	assert.Equal(t, int64(0), stub.Requests(), "mode resolution happens before any network attempt")
}

func TestService_EmptySpeedModeUsesDefault(t *testing.T) {
	_, url := stubEndpoint(t, nil)
	s, _ := liveService(t, url, nil)

	resp := s.Analyze(context.Background(), Request{Image: pngBytes})
	require.True(t, resp.Success)
	assert.Equal(t, "balanced", resp.Metadata.SpeedMode)
	assert.Equal(t, "medium", resp.Metadata.ReasoningEffort)
}

func TestService_BadImageFailsWithoutNetwork(t *testing.T) {
	stub, url := stubEndpoint(t, nil)
	s, _ := liveService(t, url, nil)

	resp := s.Analyze(context.Background(), Request{ImageBase64: "not*base64!"})
	require.False(t, resp.Success)
	assert.Equal(t, vision.KindInvalidResponse, resp.Error.Kind)
	assert.Equal(t, int64(0), stub.Requests())
}

func TestService_TransportFailureSurfacesClassified(t *testing.T) {
	_, url := stubEndpoint(t, map[string]string{"fail": "429"})
	s, tracker := liveService(t, url, nil)

	resp := s.Analyze(context.Background(), Request{Image: pngBytes})
	require.False(t, resp.Success)
	assert.Equal(t, vision.KindRateLimited, resp.Error.Kind)
	assert.NotEmpty(t, resp.Error.RequestID)
	assert.Equal(t, int64(1), tracker.GetMetrics().FailedRequests)
}

func TestService_MockPathNeverTouchesNetwork(t *testing.T) {
	s, tracker := mockService(t)

	resp := s.Analyze(context.Background(), Request{
		Description: "strong bullish breakout with volume",
		SpeedMode:   "super_fast",
	})

	require.True(t, resp.Success)
	assert.Equal(t, VerdictDiamond, resp.Data.Verdict)
	assert.Greater(t, resp.Data.Confidence, 50)
	assert.LessOrEqual(t, resp.Data.Confidence, 100)
	assert.True(t, resp.Metadata.MockMode)
	assert.Zero(t, resp.Metadata.Cost.FinalCostUSD)

	m := tracker.GetMetrics()
	assert.Equal(t, int64(1), m.MockRequests)
	assert.Equal(t, int64(1), m.SuccessfulRequests)
	assert.Zero(t, m.TotalCostUSD)
}

func TestService_MockPathTieBreak(t *testing.T) {
	s, _ := mockService(t)

	resp := s.Analyze(context.Background(), Request{Description: "no signal words here"})
	require.True(t, resp.Success)
	assert.Equal(t, VerdictFire, resp.Data.Verdict)
	assert.Equal(t, 50, resp.Data.Confidence)
}

func TestService_MockPathCancellation(t *testing.T) {
	s, tracker := mockService(t)
	s.Mock().WithDelay(10*time.Second, 10*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	resp := s.Analyze(ctx, Request{Description: "bullish"})
	require.False(t, resp.Success)
	assert.Equal(t, int64(1), tracker.GetMetrics().FailedRequests, "abandoned work is still accounted")
}

func TestService_ConvenienceTiers(t *testing.T) {
	s, _ := mockService(t)

	fast := s.AnalyzeFast(context.Background(), Request{Description: "bullish"})
	require.True(t, fast.Success)
	assert.Equal(t, "super_fast", fast.Metadata.SpeedMode)

	thorough := s.AnalyzeThorough(context.Background(), Request{Description: "bullish"})
	require.True(t, thorough.Success)
	assert.Equal(t, "high_accuracy", thorough.Metadata.SpeedMode)
}

func TestService_HealthMockMode(t *testing.T) {
	s, _ := mockService(t)

	h := s.Health(context.Background())
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, "mock", h.Mode)
	assert.Equal(t, breaker.StateClosed, h.BreakerState)
}

func TestService_HealthReflectsBreaker(t *testing.T) {
	_, url := stubEndpoint(t, map[string]string{"fail": "500"})
	s, _ := liveService(t, url, func(c *vision.Config) {
		c.CircuitFailureThreshold = 1
	})

	require.False(t, s.Analyze(context.Background(), Request{Image: pngBytes}).Success)

	h := s.Health(context.Background())
	assert.Equal(t, "unhealthy", h.Status)
	assert.Equal(t, breaker.StateOpen, h.BreakerState)
	assert.Equal(t, "production", h.Mode)
}

func TestService_HealthDegradedWhenLimiterSaturated(t *testing.T) {
	_, url := stubEndpoint(t, nil)
	s, _ := liveService(t, url, func(c *vision.Config) {
		c.RateLimitRequests = 1
	})

	require.True(t, s.Analyze(context.Background(), Request{Image: pngBytes}).Success)

	h := s.Health(context.Background())
	assert.Equal(t, "degraded", h.Status)
	assert.Zero(t, h.RateLimitRemaining)
}
