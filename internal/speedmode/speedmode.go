// Package speedmode maps the caller-facing latency/accuracy trade-off to the
// reasoning effort passed to the vision model.
package speedmode

import (
	"time"

	"github.com/elitetradingcoach/chart-analysis/internal/vision"
)

// Mode is the caller-facing speed selection.
type Mode string

const (
	SuperFast    Mode = "super_fast"
	Fast         Mode = "fast"
	Balanced     Mode = "balanced"
	HighAccuracy Mode = "high_accuracy"
)

// Effort is the reasoning depth requested from the model.
type Effort string

const (
	EffortLow    Effort = "low"
	EffortMedium Effort = "medium"
	EffortHigh   Effort = "high"
)

// Config describes one speed tier. The table is static and read-only.
type Config struct {
	Mode       Mode
	Effort     Effort
	MinLatency time.Duration
	MaxLatency time.Duration
	Label      string
}

var table = map[Mode]Config{
	SuperFast: {
		Mode:       SuperFast,
		Effort:     EffortLow,
		MinLatency: 1 * time.Second,
		MaxLatency: 3 * time.Second,
		Label:      "Super Fast (1-3s)",
	},
	Fast: {
		Mode:       Fast,
		Effort:     EffortLow,
		MinLatency: 3 * time.Second,
		MaxLatency: 8 * time.Second,
		Label:      "Fast (3-8s)",
	},
	Balanced: {
		Mode:       Balanced,
		Effort:     EffortMedium,
		MinLatency: 8 * time.Second,
		MaxLatency: 18 * time.Second,
		Label:      "Balanced (8-18s)",
	},
	HighAccuracy: {
		Mode:       HighAccuracy,
		Effort:     EffortHigh,
		MinLatency: 15 * time.Second,
		MaxLatency: 45 * time.Second,
		Label:      "High Accuracy (15-45s)",
	},
}

// Resolve maps a requested mode to its tier config. An empty mode falls back
// to defaultMode; an unrecognized mode is a caller contract violation and
// fails with INVALID_SPEED_MODE rather than defaulting silently.
func Resolve(mode string, defaultMode Mode) (Config, error) {
	if mode == "" {
		mode = string(defaultMode)
	}
	cfg, ok := table[Mode(mode)]
	if !ok {
		return Config{}, vision.NewInvalidSpeedModeError(mode)
	}
	return cfg, nil
}

// WithinTarget reports whether an observed processing time met the tier's
// upper latency bound.
func (c Config) WithinTarget(elapsed time.Duration) bool {
	return elapsed <= c.MaxLatency
}

// Modes lists all valid modes, for validation messages.
func Modes() []Mode {
	return []Mode{SuperFast, Fast, Balanced, HighAccuracy}
}
