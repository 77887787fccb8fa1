package analysis

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/elitetradingcoach/chart-analysis/internal/usage"
	"github.com/elitetradingcoach/chart-analysis/internal/vision"
)

// Verdict is the categorical trade-chart outcome.
type Verdict string

const (
	VerdictDiamond Verdict = "Diamond"
	VerdictFire    Verdict = "Fire"
	VerdictSkull   Verdict = "Skull"
)

func validVerdict(v Verdict) bool {
	return v == VerdictDiamond || v == VerdictFire || v == VerdictSkull
}

// Result is the validated analysis outcome. Confidence is always in [0,100]
// after validation, on every path including mock.
type Result struct {
	Verdict    Verdict `json:"verdict"`
	Confidence int     `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Metadata is attached to every successful response.
type Metadata struct {
	RequestID           string             `json:"request_id"`
	UserID              string             `json:"user_id,omitempty"`
	SpeedMode           string             `json:"speed_mode"`
	ReasoningEffort     string             `json:"reasoning_effort"`
	MockMode            bool               `json:"mock_mode"`
	Model               string             `json:"model"`
	ProcessingTimeMs    int64              `json:"processing_time_ms"`
	WithinTargetLatency bool               `json:"within_target_latency"`
	Cost                usage.CostEstimate `json:"cost"`
}

// Response is the inbound-contract envelope returned to the HTTP layer.
type Response struct {
	Success  bool             `json:"success"`
	Data     *Result          `json:"data,omitempty"`
	Metadata *Metadata        `json:"metadata,omitempty"`
	Error    *vision.APIError `json:"error,omitempty"`
}

const reasoningFallback = "no reasoning provided"

// rawResult tolerates the numeric slop models produce for confidence.
type rawResult struct {
	Verdict    string          `json:"verdict"`
	Confidence json.RawMessage `json:"confidence"`
	Reasoning  string          `json:"reasoning"`
}

// ParseResult validates the structured payload returned by the live path.
// The verdict must be one of the three literals; confidence outside [0,100]
// is clamped, never passed through; a missing reasoning falls back to a
// documented default. Anything else is INVALID_RESPONSE.
func ParseResult(content string) (*Result, error) {
	content = stripFences(content)

	var raw rawResult
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, vision.NewInvalidResponseError("analysis payload is not a JSON object", err)
	}

	verdict := Verdict(strings.TrimSpace(raw.Verdict))
	if !validVerdict(verdict) {
		return nil, vision.NewInvalidResponseError(
			fmt.Sprintf("verdict %q is not one of Diamond, Fire, Skull", raw.Verdict), nil)
	}

	confidence, err := parseConfidence(raw.Confidence)
	if err != nil {
		return nil, err
	}

	reasoning := strings.TrimSpace(raw.Reasoning)
	if reasoning == "" {
		reasoning = reasoningFallback
	}

	return &Result{Verdict: verdict, Confidence: confidence, Reasoning: reasoning}, nil
}

func parseConfidence(raw json.RawMessage) (int, error) {
	if len(raw) == 0 {
		return 0, vision.NewInvalidResponseError("confidence field is missing", nil)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		// Some models quote the number.
		var s string
		if err2 := json.Unmarshal(raw, &s); err2 != nil {
			return 0, vision.NewInvalidResponseError("confidence is not numeric", err)
		}
		if _, err2 := fmt.Sscanf(strings.TrimSpace(s), "%f", &f); err2 != nil {
			return 0, vision.NewInvalidResponseError("confidence is not numeric", err2)
		}
	}
	return ClampConfidence(int(f + 0.5)), nil
}

// ClampConfidence bounds a confidence value to [0,100].
func ClampConfidence(c int) int {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

// stripFences removes a markdown code fence if the model wrapped its JSON.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// normalizeImage converts an image payload (raw bytes or base64 string) to an
// inline data URL with a sniffed media type.
func normalizeImage(data []byte, b64 string) (string, error) {
	if len(data) == 0 && b64 == "" {
		return "", vision.NewBadInputError("image payload is empty", nil)
	}
	if len(data) == 0 {
		// Callers may hand us a complete data URL already.
		if strings.HasPrefix(b64, "data:") {
			return b64, nil
		}
		decoded, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return "", vision.NewBadInputError("image payload is not valid base64", err)
		}
		data = decoded
	}
	mediaType := http.DetectContentType(data)
	if !strings.HasPrefix(mediaType, "image/") {
		return "", vision.NewBadInputError(fmt.Sprintf("payload type %s is not an image", mediaType), nil)
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
