package analysis

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elitetradingcoach/chart-analysis/internal/vision"
)

func TestParseResult_ValidPayload(t *testing.T) {
	r, err := ParseResult(`{"verdict":"Diamond","confidence":87,"reasoning":"clean breakout"}`)
	require.NoError(t, err)
	assert.Equal(t, VerdictDiamond, r.Verdict)
	assert.Equal(t, 87, r.Confidence)
	assert.Equal(t, "clean breakout", r.Reasoning)
}

func TestParseResult_StripsMarkdownFences(t *testing.T) {
	fenced := "```json\n{\"verdict\":\"Skull\",\"confidence\":70,\"reasoning\":\"lower lows\"}\n```"
	r, err := ParseResult(fenced)
	require.NoError(t, err)
	assert.Equal(t, VerdictSkull, r.Verdict)

	bare := "```\n{\"verdict\":\"Fire\",\"confidence\":50,\"reasoning\":\"mixed\"}\n```"
	r, err = ParseResult(bare)
	require.NoError(t, err)
	assert.Equal(t, VerdictFire, r.Verdict)
}

func TestParseResult_ConfidenceClamped(t *testing.T) {
	cases := []struct {
		raw  string
		want int
	}{
		{`{"verdict":"Fire","confidence":150,"reasoning":"x"}`, 100},
		{`{"verdict":"Fire","confidence":-10,"reasoning":"x"}`, 0},
		{`{"verdict":"Fire","confidence":72.6,"reasoning":"x"}`, 73},
		{`{"verdict":"Fire","confidence":"88","reasoning":"x"}`, 88},
		{`{"verdict":"Fire","confidence":0,"reasoning":"x"}`, 0},
		{`{"verdict":"Fire","confidence":100,"reasoning":"x"}`, 100},
	}
	for _, tc := range cases {
		r, err := ParseResult(tc.raw)
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.want, r.Confidence, tc.raw)
	}
}

func TestParseResult_RejectsUnknownVerdict(t *testing.T) {
	for _, raw := range []string{
		`{"verdict":"Rocket","confidence":80,"reasoning":"x"}`,
		`{"verdict":"diamond","confidence":80,"reasoning":"x"}`,
		`{"verdict":"","confidence":80,"reasoning":"x"}`,
		`{"confidence":80,"reasoning":"x"}`,
	} {
		_, err := ParseResult(raw)
		require.Error(t, err, raw)
		assert.Equal(t, vision.KindInvalidResponse, vision.AsAPIError(err).Kind)
	}
}

func TestParseResult_RejectsNonJSON(t *testing.T) {
	_, err := ParseResult("The chart looks bullish to me!")
	require.Error(t, err)
	assert.Equal(t, vision.KindInvalidResponse, vision.AsAPIError(err).Kind)
}

func TestParseResult_MissingConfidence(t *testing.T) {
	_, err := ParseResult(`{"verdict":"Fire","reasoning":"x"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "confidence")
}

func TestParseResult_ReasoningFallback(t *testing.T) {
	for _, raw := range []string{
		`{"verdict":"Fire","confidence":50}`,
		`{"verdict":"Fire","confidence":50,"reasoning":"   "}`,
	} {
		r, err := ParseResult(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, "no reasoning provided", r.Reasoning)
	}
}

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, 0, ClampConfidence(-5))
	assert.Equal(t, 0, ClampConfidence(0))
	assert.Equal(t, 42, ClampConfidence(42))
	assert.Equal(t, 100, ClampConfidence(100))
	assert.Equal(t, 100, ClampConfidence(750))
}

// Minimal valid PNG header bytes, enough for content sniffing.
var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 13, 'I', 'H', 'D', 'R'}

func TestNormalizeImage_RawBytes(t *testing.T) {
	url, err := normalizeImage(pngBytes, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))
}

func TestNormalizeImage_Base64String(t *testing.T) {
	url, err := normalizeImage(nil, base64.StdEncoding.EncodeToString(pngBytes))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))
}

func TestNormalizeImage_PassesThroughDataURL(t *testing.T) {
	in := "data:image/jpeg;base64,abcd"
	url, err := normalizeImage(nil, in)
	require.NoError(t, err)
	assert.Equal(t, in, url)
}

func TestNormalizeImage_Rejections(t *testing.T) {
	_, err := normalizeImage(nil, "")
	require.Error(t, err)

	_, err = normalizeImage(nil, "not*base64!")
	require.Error(t, err)

	_, err = normalizeImage([]byte("plain text, not an image"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not an image")
}

func TestNormalizeImage_RejectionGuidanceBlamesCaller(t *testing.T) {
	// Input problems share INVALID_RESPONSE's kind but must not read like a
	// provider failure.
	for _, b64 := range []string{"", "not*base64!"} {
		_, err := normalizeImage(nil, b64)
		require.Error(t, err)
		apiErr := vision.AsAPIError(err)
		assert.Equal(t, vision.KindInvalidResponse, apiErr.Kind)
		assert.Contains(t, apiErr.Guidance, "request payload")
		assert.NotContains(t, apiErr.Guidance, "provider")
	}
}
