// Package usage accumulates request, token, latency and cost accounting for
// the analysis core and checks rolling metrics against performance targets.
package usage

import (
	"sync"
	"time"

	"github.com/elitetradingcoach/chart-analysis/internal/observ"
)

// Outcome describes one completed attempt, success or terminal failure.
type Outcome struct {
	Success      bool
	Mock         bool
	Model        string
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
	Latency      time.Duration
}

// Metrics is the raw counter snapshot exposed to callers. Read-only.
type Metrics struct {
	TotalRequests      int64     `json:"total_requests"`
	SuccessfulRequests int64     `json:"successful_requests"`
	FailedRequests     int64     `json:"failed_requests"`
	MockRequests       int64     `json:"mock_requests"`
	TotalTokens        int64     `json:"total_tokens"`
	TotalCostUSD       float64   `json:"total_cost_usd"`
	LastRequestTime    time.Time `json:"last_request_time"`
}

// PerformanceSummary holds rates derived from the raw counters.
type PerformanceSummary struct {
	SuccessRate       float64 `json:"success_rate"`
	AvgLatencyMs      float64 `json:"avg_latency_ms"`
	CostPerRequestUSD float64 `json:"cost_per_request_usd"`
	ProjectedDailyUSD float64 `json:"projected_daily_usd"`
	UptimeHours       float64 `json:"uptime_hours"`
}

// Targets are the advisory thresholds checked by CheckPerformanceTargets.
type Targets struct {
	MinSuccessRate   float64
	MaxAvgLatencyMs  float64
	MaxCostPerReqUSD float64
	DailyCostCapUSD  float64
	WarningPct       float64
}

// Alert is an advisory threshold breach. Alerts never block calls.
type Alert struct {
	Name      string    `json:"name"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// Tracker owns the cumulative usage state. Counters only grow; Reset exists
// for test harnesses.
type Tracker struct {
	mu sync.Mutex

	totalRequests int64
	successful    int64
	failed        int64
	mock          int64
	totalTokens   int64
	totalCostUSD  float64
	totalLatency  time.Duration
	lastRequest   time.Time
	startedAt     time.Time

	targets Targets
	now     func() time.Time
}

// NewTracker creates a tracker with the given performance targets.
func NewTracker(targets Targets) *Tracker {
	t := &Tracker{targets: targets, now: time.Now}
	t.startedAt = t.now()
	return t
}

// Record ingests one completed attempt. Called exactly once per attempt,
// including denials and abandoned-but-dispatched work (recorded as failures).
func (t *Tracker) Record(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalRequests++
	if o.Success {
		t.successful++
	} else {
		t.failed++
	}
	if o.Mock {
		t.mock++
	}
	t.totalTokens += o.InputTokens + o.OutputTokens
	t.totalCostUSD += o.CostUSD
	t.totalLatency += o.Latency
	t.lastRequest = t.now()

	result := "failure"
	if o.Success {
		result = "success"
	}
	path := "live"
	if o.Mock {
		path = "mock"
	}
	observ.IncCounter("analysis_attempts_total", map[string]string{"result": result, "path": path})
	observ.IncCounterBy("analysis_tokens_total", map[string]string{"model": o.Model}, float64(o.InputTokens+o.OutputTokens))
	observ.IncCounterBy("analysis_cost_usd_cents_total", map[string]string{"model": o.Model}, o.CostUSD*100)
	observ.RecordDuration("analysis_latency", o.Latency, map[string]string{"path": path})
}

// GetMetrics returns the raw counter snapshot.
func (t *Tracker) GetMetrics() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Metrics{
		TotalRequests:      t.totalRequests,
		SuccessfulRequests: t.successful,
		FailedRequests:     t.failed,
		MockRequests:       t.mock,
		TotalTokens:        t.totalTokens,
		TotalCostUSD:       t.totalCostUSD,
		LastRequestTime:    t.lastRequest,
	}
}

// GetPerformanceSummary derives rolling rates from the counters.
func (t *Tracker) GetPerformanceSummary() PerformanceSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := PerformanceSummary{}
	uptime := t.now().Sub(t.startedAt)
	s.UptimeHours = uptime.Hours()
	if t.totalRequests > 0 {
		s.SuccessRate = float64(t.successful) / float64(t.totalRequests)
		s.AvgLatencyMs = float64(t.totalLatency.Milliseconds()) / float64(t.totalRequests)
		s.CostPerRequestUSD = t.totalCostUSD / float64(t.totalRequests)
	}
	if uptime > 0 {
		s.ProjectedDailyUSD = t.totalCostUSD / uptime.Hours() * 24
	}
	return s
}

// CheckPerformanceTargets compares the rolling summary against the configured
// thresholds and returns alert records for every breach. Advisory only.
func (t *Tracker) CheckPerformanceTargets() []Alert {
	s := t.GetPerformanceSummary()
	m := t.GetMetrics()
	now := t.timestamp()

	var alerts []Alert
	if m.TotalRequests >= 10 && s.SuccessRate < t.targets.MinSuccessRate {
		alerts = append(alerts, Alert{
			Name:      "success_rate_below_target",
			Message:   "rolling success rate below configured minimum",
			Value:     s.SuccessRate,
			Threshold: t.targets.MinSuccessRate,
			Timestamp: now,
		})
	}
	if m.TotalRequests >= 10 && t.targets.MaxAvgLatencyMs > 0 && s.AvgLatencyMs > t.targets.MaxAvgLatencyMs {
		alerts = append(alerts, Alert{
			Name:      "avg_latency_above_target",
			Message:   "average analysis latency above configured maximum",
			Value:     s.AvgLatencyMs,
			Threshold: t.targets.MaxAvgLatencyMs,
			Timestamp: now,
		})
	}
	if t.targets.MaxCostPerReqUSD > 0 && s.CostPerRequestUSD > t.targets.MaxCostPerReqUSD {
		alerts = append(alerts, Alert{
			Name:      "cost_per_request_above_target",
			Message:   "per-request cost above configured maximum",
			Value:     s.CostPerRequestUSD,
			Threshold: t.targets.MaxCostPerReqUSD,
			Timestamp: now,
		})
	}
	if t.targets.DailyCostCapUSD > 0 && s.ProjectedDailyUSD > t.targets.DailyCostCapUSD*t.targets.WarningPct {
		alerts = append(alerts, Alert{
			Name:      "projected_daily_cost_warning",
			Message:   "projected daily spend approaching the daily cap",
			Value:     s.ProjectedDailyUSD,
			Threshold: t.targets.DailyCostCapUSD * t.targets.WarningPct,
			Timestamp: now,
		})
	}

	for _, a := range alerts {
		observ.Log("performance_target_breached", map[string]any{
			"alert":     a.Name,
			"value":     a.Value,
			"threshold": a.Threshold,
		})
		observ.IncCounter("performance_alerts_total", map[string]string{"alert": a.Name})
	}
	return alerts
}

// Reset clears all counters (test harness only).
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalRequests, t.successful, t.failed, t.mock, t.totalTokens = 0, 0, 0, 0, 0
	t.totalCostUSD = 0
	t.totalLatency = 0
	t.lastRequest = time.Time{}
	t.startedAt = t.now()
}

// SetClock overrides the time source (for tests).
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

func (t *Tracker) timestamp() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now()
}
