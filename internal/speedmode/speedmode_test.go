package speedmode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elitetradingcoach/chart-analysis/internal/vision"
)

func TestResolve_ModeToEffort(t *testing.T) {
	cases := []struct {
		mode       string
		wantEffort Effort
		wantMax    time.Duration
	}{
		{"super_fast", EffortLow, 3 * time.Second},
		{"fast", EffortLow, 8 * time.Second},
		{"balanced", EffortMedium, 18 * time.Second},
		{"high_accuracy", EffortHigh, 45 * time.Second},
	}
	for _, tc := range cases {
		t.Run(tc.mode, func(t *testing.T) {
			cfg, err := Resolve(tc.mode, Balanced)
			require.NoError(t, err)
			assert.Equal(t, Mode(tc.mode), cfg.Mode)
			assert.Equal(t, tc.wantEffort, cfg.Effort)
			assert.Equal(t, tc.wantMax, cfg.MaxLatency)
		})
	}
}

func TestResolve_EmptyFallsBackToDefault(t *testing.T) {
	cfg, err := Resolve("", HighAccuracy)
	require.NoError(t, err)
	assert.Equal(t, HighAccuracy, cfg.Mode)
	assert.Equal(t, EffortHigh, cfg.Effort)
}

func TestResolve_UnknownModeFails(t *testing.T) {
	for _, mode := range []string{"turbo", "SUPER_FAST", "fastest", " balanced"} {
		_, err := Resolve(mode, Balanced)
		require.Error(t, err, "mode %q must not resolve", mode)
		apiErr := vision.AsAPIError(err)
		assert.Equal(t, vision.KindInvalidSpeedMode, apiErr.Kind)
		assert.False(t, apiErr.Retryable)
	}
}

func TestWithinTarget(t *testing.T) {
	cfg, err := Resolve("fast", Balanced)
	require.NoError(t, err)

	assert.True(t, cfg.WithinTarget(8*time.Second))
	assert.False(t, cfg.WithinTarget(8*time.Second+time.Millisecond))
}

func TestModes_CoversTable(t *testing.T) {
	for _, m := range Modes() {
		_, err := Resolve(string(m), Balanced)
		assert.NoError(t, err)
	}
	assert.Len(t, Modes(), 4)
}
