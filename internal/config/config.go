package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/elitetradingcoach/chart-analysis/internal/vision"
)

// Vision holds outbound API settings for the analysis provider.
type Vision struct {
	APIKey            string `yaml:"-"` // env only, never in config files
	BaseURL           string `yaml:"base_url"`
	Model             string `yaml:"model"`
	MaxTokens         int    `yaml:"max_tokens"`
	TimeoutMs         int    `yaml:"timeout_ms"`
	MaxRetries        int    `yaml:"max_retries"`
	BackoffBaseMs     int    `yaml:"backoff_base_ms"`
	BackoffMaxMs      int    `yaml:"backoff_max_ms"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
}

// Resilience holds limiter and breaker tunables.
type Resilience struct {
	RateLimitRequests        int `yaml:"rate_limit_requests"`
	RateLimitWindowMs        int `yaml:"rate_limit_window_ms"`
	CircuitFailureThreshold  int `yaml:"circuit_failure_threshold"`
	CircuitRecoveryTimeoutMs int `yaml:"circuit_recovery_timeout_ms"`
}

// Cost holds budget tunables for usage tracking.
type Cost struct {
	DailyLimitUSD    float64 `yaml:"daily_limit_usd"`
	WarningPct       float64 `yaml:"warning_pct"`
	TierDiscount     float64 `yaml:"tier_discount"`
	MinSuccessRate   float64 `yaml:"min_success_rate"`
	MaxAvgLatencyMs  int     `yaml:"max_avg_latency_ms"`
	MaxCostPerReqUSD float64 `yaml:"max_cost_per_request_usd"`
}

// Alerts holds the outbound webhook notifier tunables. Disabled unless a
// webhook URL is configured.
type Alerts struct {
	Enabled         bool   `yaml:"enabled"`
	WebhookURL      string `yaml:"-"` // env only, treated as a secret
	Channel         string `yaml:"channel"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	DedupeWindowMs  int    `yaml:"dedupe_window_ms"`
	CheckIntervalMs int    `yaml:"check_interval_ms"`
}

// Root is the process-wide configuration, loaded once at startup and
// read-only thereafter.
type Root struct {
	MockMode         bool       `yaml:"mock_mode"`
	Production       bool       `yaml:"production"`
	DefaultSpeedMode string     `yaml:"default_speed_mode"`
	Vision           Vision     `yaml:"vision"`
	Resilience       Resilience `yaml:"resilience"`
	Cost             Cost       `yaml:"cost"`
	Alerts           Alerts     `yaml:"alerts"`
}

// Placeholder credentials that must never reach a live call.
var placeholderKeys = map[string]bool{
	"":                    true,
	"your-api-key-here":   true,
	"sk-your-api-key":     true,
	"sk-placeholder":      true,
	"sk-xxxxxxxxxxxxxxxx": true,
	"changeme":            true,
	"test-key":            true,
}

const (
	keyPrefix    = "sk-"
	keyMinLength = 20
)

// Load reads configuration from an optional YAML file, applies environment
// overrides, fills defaults, and validates. A missing path loads pure
// env+defaults. The process must not issue API calls if Load returns an error.
func Load(path string) (Root, error) {
	var c Root
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return c, vision.NewConfigError(fmt.Sprintf("read config file: %v", err))
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return c, vision.NewConfigError(fmt.Sprintf("parse config file: %v", err))
		}
	}
	c.applyEnv()
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

func (c *Root) applyEnv() {
	if v, ok := os.LookupEnv("VISION_API_KEY"); ok {
		c.Vision.APIKey = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv("VISION_MODEL"); ok {
		c.Vision.Model = v
	}
	if v, ok := os.LookupEnv("VISION_BASE_URL"); ok {
		c.Vision.BaseURL = v
	}
	if v, ok := os.LookupEnv("MOCK_MODE"); ok {
		c.MockMode = parseBool(v)
	}
	if v, ok := os.LookupEnv("PRODUCTION"); ok {
		c.Production = parseBool(v)
	}
	if v, ok := os.LookupEnv("ALERT_WEBHOOK_URL"); ok {
		c.Alerts.WebhookURL = strings.TrimSpace(v)
		c.Alerts.Enabled = c.Alerts.WebhookURL != ""
	}

	envInt("VISION_MAX_TOKENS", &c.Vision.MaxTokens)
	envInt("VISION_TIMEOUT_MS", &c.Vision.TimeoutMs)
	envInt("VISION_MAX_RETRIES", &c.Vision.MaxRetries)
	envInt("VISION_BACKOFF_BASE_MS", &c.Vision.BackoffBaseMs)
	envInt("VISION_BACKOFF_MAX_MS", &c.Vision.BackoffMaxMs)
	envInt("VISION_REQUESTS_PER_MINUTE", &c.Vision.RequestsPerMinute)
	envInt("RATE_LIMIT_REQUESTS", &c.Resilience.RateLimitRequests)
	envInt("RATE_LIMIT_WINDOW_MS", &c.Resilience.RateLimitWindowMs)
	envInt("CIRCUIT_FAILURE_THRESHOLD", &c.Resilience.CircuitFailureThreshold)
	envInt("CIRCUIT_RECOVERY_TIMEOUT_MS", &c.Resilience.CircuitRecoveryTimeoutMs)
	envFloat("DAILY_COST_LIMIT_USD", &c.Cost.DailyLimitUSD)
	envFloat("COST_WARNING_PCT", &c.Cost.WarningPct)
	envFloat("TIER_DISCOUNT", &c.Cost.TierDiscount)
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	return err == nil && b
}

// envInt applies an integer env override. Unparseable values are ignored so a
// bad override degrades to the file/default value, which validation then sees.
func envInt(name string, dst *int) {
	if v, ok := os.LookupEnv(name); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func envFloat(name string, dst *float64) {
	if v, ok := os.LookupEnv(name); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			*dst = f
		}
	}
}

func (c *Root) applyDefaults() {
	if c.DefaultSpeedMode == "" {
		c.DefaultSpeedMode = "balanced"
	}
	if c.Vision.BaseURL == "" {
		c.Vision.BaseURL = "https://api.openai.com"
	}
	if c.Vision.Model == "" {
		c.Vision.Model = "gpt-5"
	}
	if c.Vision.MaxTokens == 0 {
		c.Vision.MaxTokens = 1500
	}
	if c.Vision.TimeoutMs == 0 {
		c.Vision.TimeoutMs = 30000
	}
	if c.Vision.MaxRetries == 0 {
		c.Vision.MaxRetries = 3
	}
	if c.Vision.BackoffBaseMs == 0 {
		c.Vision.BackoffBaseMs = 500
	}
	if c.Vision.BackoffMaxMs == 0 {
		c.Vision.BackoffMaxMs = 8000
	}
	if c.Vision.RequestsPerMinute == 0 {
		c.Vision.RequestsPerMinute = 60
	}
	if c.Resilience.RateLimitRequests == 0 {
		c.Resilience.RateLimitRequests = 30
	}
	if c.Resilience.RateLimitWindowMs == 0 {
		c.Resilience.RateLimitWindowMs = 60000
	}
	if c.Resilience.CircuitFailureThreshold == 0 {
		c.Resilience.CircuitFailureThreshold = 5
	}
	if c.Resilience.CircuitRecoveryTimeoutMs == 0 {
		c.Resilience.CircuitRecoveryTimeoutMs = 30000
	}
	if c.Cost.DailyLimitUSD == 0 {
		c.Cost.DailyLimitUSD = 50
	}
	if c.Cost.WarningPct == 0 {
		c.Cost.WarningPct = 0.8
	}
	if c.Cost.TierDiscount == 0 {
		c.Cost.TierDiscount = 1.0
	}
	if c.Cost.MinSuccessRate == 0 {
		c.Cost.MinSuccessRate = 0.95
	}
	if c.Cost.MaxAvgLatencyMs == 0 {
		c.Cost.MaxAvgLatencyMs = 15000
	}
	if c.Cost.MaxCostPerReqUSD == 0 {
		c.Cost.MaxCostPerReqUSD = 0.25
	}
	if c.Alerts.RateLimitPerMin == 0 {
		c.Alerts.RateLimitPerMin = 10
	}
	if c.Alerts.DedupeWindowMs == 0 {
		c.Alerts.DedupeWindowMs = 300000
	}
	if c.Alerts.CheckIntervalMs == 0 {
		c.Alerts.CheckIntervalMs = 60000
	}
}

// Validate enforces the startup contract: numeric tunables in bounds,
// credential shape, and unambiguous mode flags. Production mode requires
// mock mode explicitly off and a real credential.
func (c *Root) Validate() error {
	type bound struct {
		name string
		val  int
	}
	for _, b := range []bound{
		{"vision.max_tokens", c.Vision.MaxTokens},
		{"vision.timeout_ms", c.Vision.TimeoutMs},
		{"vision.max_retries", c.Vision.MaxRetries},
		{"vision.backoff_base_ms", c.Vision.BackoffBaseMs},
		{"vision.backoff_max_ms", c.Vision.BackoffMaxMs},
		{"vision.requests_per_minute", c.Vision.RequestsPerMinute},
		{"resilience.rate_limit_requests", c.Resilience.RateLimitRequests},
		{"resilience.rate_limit_window_ms", c.Resilience.RateLimitWindowMs},
		{"resilience.circuit_failure_threshold", c.Resilience.CircuitFailureThreshold},
		{"resilience.circuit_recovery_timeout_ms", c.Resilience.CircuitRecoveryTimeoutMs},
	} {
		if b.val <= 0 {
			return vision.NewConfigError(fmt.Sprintf("%s must be a positive integer, got %d", b.name, b.val))
		}
	}
	if c.Cost.DailyLimitUSD <= 0 {
		return vision.NewConfigError("cost.daily_limit_usd must be positive")
	}
	if c.Cost.WarningPct <= 0 || c.Cost.WarningPct > 1 {
		return vision.NewConfigError("cost.warning_pct must be in (0,1]")
	}
	if c.Cost.TierDiscount <= 0 || c.Cost.TierDiscount > 1 {
		return vision.NewConfigError("cost.tier_discount must be in (0,1]")
	}
	if c.Alerts.Enabled && c.Alerts.WebhookURL == "" {
		return vision.NewConfigError("alerts enabled but ALERT_WEBHOOK_URL is not set")
	}

	if c.Production {
		if c.MockMode {
			return vision.NewConfigError("production mode with mock_mode enabled is ambiguous; set MOCK_MODE=false explicitly")
		}
		if err := c.validateCredential(); err != nil {
			return err
		}
	}
	// Outside production a bad credential is tolerated only because the
	// service resolves to mock mode once at startup, never per call.
	if !c.MockMode && !c.Production {
		if err := c.validateCredential(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Root) validateCredential() error {
	key := c.Vision.APIKey
	if placeholderKeys[strings.ToLower(key)] {
		return vision.NewConfigError(fmt.Sprintf("credential %s is a known placeholder", MaskSecret(key)))
	}
	if !strings.HasPrefix(key, keyPrefix) {
		return vision.NewConfigError(fmt.Sprintf("credential %s does not start with %q", MaskSecret(key), keyPrefix))
	}
	if len(key) < keyMinLength {
		return vision.NewConfigError(fmt.Sprintf("credential %s is shorter than %d characters", MaskSecret(key), keyMinLength))
	}
	return nil
}

// MaskSecret renders a secret safe for logs: first 4 and last 3 characters
// joined by an ellipsis. Short values are fully masked.
func MaskSecret(value string) string {
	const head, tail = 4, 3
	if len(value) <= head+tail {
		return "***"
	}
	return value[:head] + "…" + value[len(value)-tail:]
}
