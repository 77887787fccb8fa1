// Command server exposes the telemetry surface (health, metrics) and a thin
// inbound analysis endpoint for manual testing.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/elitetradingcoach/chart-analysis/internal/alerts"
	"github.com/elitetradingcoach/chart-analysis/internal/analysis"
	"github.com/elitetradingcoach/chart-analysis/internal/config"
	"github.com/elitetradingcoach/chart-analysis/internal/observ"
	"github.com/elitetradingcoach/chart-analysis/internal/usage"
	"github.com/elitetradingcoach/chart-analysis/internal/vision"
)

type analyzeBody struct {
	ImageBase64 string `json:"image_data"`
	Description string `json:"description"`
	SpeedMode   string `json:"speed_mode,omitempty"`
	RequestID   string `json:"request_id,omitempty"`
	UserID      string `json:"user_id,omitempty"`
}

func main() {
	var (
		addr       = flag.String("addr", ":8090", "listen address")
		configPath = flag.String("config", "", "optional YAML config path")
	)
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	tracker := usage.NewTracker(usage.Targets{
		MinSuccessRate:   cfg.Cost.MinSuccessRate,
		MaxAvgLatencyMs:  float64(cfg.Cost.MaxAvgLatencyMs),
		MaxCostPerReqUSD: cfg.Cost.MaxCostPerReqUSD,
		DailyCostCapUSD:  cfg.Cost.DailyLimitUSD,
		WarningPct:       cfg.Cost.WarningPct,
	})
	client := vision.NewClient(vision.Config{
		APIKey:                   cfg.Vision.APIKey,
		BaseURL:                  cfg.Vision.BaseURL,
		Model:                    cfg.Vision.Model,
		MaxTokens:                cfg.Vision.MaxTokens,
		TimeoutMs:                cfg.Vision.TimeoutMs,
		MaxRetries:               cfg.Vision.MaxRetries,
		BackoffBaseMs:            cfg.Vision.BackoffBaseMs,
		BackoffMaxMs:             cfg.Vision.BackoffMaxMs,
		RequestsPerMinute:        cfg.Vision.RequestsPerMinute,
		TierDiscount:             cfg.Cost.TierDiscount,
		RateLimitRequests:        cfg.Resilience.RateLimitRequests,
		RateLimitWindowMs:        cfg.Resilience.RateLimitWindowMs,
		CircuitFailureThreshold:  cfg.Resilience.CircuitFailureThreshold,
		CircuitRecoveryTimeoutMs: cfg.Resilience.CircuitRecoveryTimeoutMs,
	}, tracker)
	svc := analysis.NewService(cfg, client, tracker)

	notifier := alerts.NewNotifier(cfg.Alerts)
	defer notifier.Close()
	go notifier.Watch(context.Background(), tracker)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(90 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		h := svc.Health(req.Context())
		status := http.StatusOK
		switch h.Status {
		case "degraded":
			status = http.StatusPartialContent
		case "unhealthy":
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, h)
	})

	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		observ.Handler().ServeHTTP(w, req)
	})

	r.Get("/metrics/summary", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"metrics": svc.Metrics(),
			"summary": svc.PerformanceSummary(),
			"alerts":  tracker.CheckPerformanceTargets(),
		})
	})

	r.Post("/analyze", func(w http.ResponseWriter, req *http.Request) {
		var body analyzeBody
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, analysis.Response{
				Success: false,
				Error:   vision.NewBadInputError("request body is not valid JSON", err),
			})
			return
		}
		resp := svc.Analyze(req.Context(), analysis.Request{
			ImageBase64: body.ImageBase64,
			Description: body.Description,
			SpeedMode:   body.SpeedMode,
			RequestID:   body.RequestID,
			UserID:      body.UserID,
		})
		status := http.StatusOK
		if !resp.Success {
			status = errorStatus(resp.Error)
		}
		writeJSON(w, status, resp)
	})

	observ.Log("server_started", map[string]any{
		"addr":      *addr,
		"mock_mode": svc.MockMode(),
	})
	log.Fatal(http.ListenAndServe(*addr, r))
}

func errorStatus(e *vision.APIError) int {
	if e == nil {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case vision.KindInvalidSpeedMode, vision.KindInvalidResponse:
		return http.StatusBadRequest
	case vision.KindRateLimited:
		return http.StatusTooManyRequests
	case vision.KindCircuitOpen:
		return http.StatusServiceUnavailable
	case vision.KindAuthFailed:
		return http.StatusUnauthorized
	case vision.KindQuotaExceeded:
		return http.StatusPaymentRequired
	case vision.KindNetworkTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
