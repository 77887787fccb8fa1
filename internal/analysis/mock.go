package analysis

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// SentimentStrategy scores a chart description for directional bias. The
// keyword implementation below is a deliberate heuristic stand-in; swapping
// it never touches the orchestrator's state machine.
type SentimentStrategy interface {
	Score(description string) (bullish, bearish int)
}

// KeywordSentiment tallies bullish and bearish vocabulary in the description.
// Scoring is deterministic: the same text always yields the same counts.
type KeywordSentiment struct{}

var bullishKeywords = []string{
	"bullish", "breakout", "uptrend", "higher high", "higher low", "support held",
	"golden cross", "accumulation", "strong volume", "momentum", "rally",
	"cup and handle", "ascending", "bounce", "reversal up", "buy",
}

var bearishKeywords = []string{
	"bearish", "breakdown", "downtrend", "lower low", "lower high", "resistance held",
	"death cross", "distribution", "weak volume", "selloff", "sell-off",
	"head and shoulders", "descending", "rejection", "reversal down", "sell",
}

// Score counts keyword occurrences, case-insensitive.
func (KeywordSentiment) Score(description string) (int, int) {
	text := strings.ToLower(description)
	var bullish, bearish int
	for _, kw := range bullishKeywords {
		bullish += strings.Count(text, kw)
	}
	for _, kw := range bearishKeywords {
		bearish += strings.Count(text, kw)
	}
	return bullish, bearish
}

// MockGenerator synthesizes plausible analysis results without network calls.
// The verdict derives deterministically from sentiment scoring; reasoning
// text and the simulated delay may vary between calls. One generator is
// shared by all concurrent requests, so delay jitter uses the locked
// package-level rand source.
type MockGenerator struct {
	strategy SentimentStrategy
	minDelay time.Duration
	maxDelay time.Duration
}

// NewMockGenerator builds a generator with the keyword strategy and the
// 1-2 second delay band that preserves caller-observable latency.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{
		strategy: KeywordSentiment{},
		minDelay: 1 * time.Second,
		maxDelay: 2 * time.Second,
	}
}

// WithStrategy swaps the sentiment strategy.
func (m *MockGenerator) WithStrategy(s SentimentStrategy) *MockGenerator {
	m.strategy = s
	return m
}

// WithDelay overrides the simulated latency band (tests use zero).
func (m *MockGenerator) WithDelay(min, max time.Duration) *MockGenerator {
	m.minDelay, m.maxDelay = min, max
	return m
}

// Generate produces a deterministic-verdict result for the description after
// a cancellable simulated delay.
//
// Tie-break policy: equal bullish and bearish tallies (including zero/zero)
// yield Fire with confidence 50, the lowest-confidence neutral outcome.
func (m *MockGenerator) Generate(ctx context.Context, description string) (*Result, error) {
	if delay := m.simulatedDelay(); delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	bullish, bearish := m.strategy.Score(description)
	verdict, confidence := verdictFromScores(bullish, bearish)

	return &Result{
		Verdict:    verdict,
		Confidence: confidence,
		Reasoning:  m.reasoning(verdict, bullish, bearish),
	}, nil
}

func (m *MockGenerator) simulatedDelay() time.Duration {
	if m.maxDelay <= m.minDelay {
		return m.minDelay
	}
	return m.minDelay + time.Duration(rand.Int63n(int64(m.maxDelay-m.minDelay)))
}

// verdictFromScores maps sentiment tallies to a verdict and confidence.
// Confidence grows with the margin between the tallies, clamped to [0,100].
func verdictFromScores(bullish, bearish int) (Verdict, int) {
	switch {
	case bullish > bearish:
		return VerdictDiamond, ClampConfidence(55 + 10*(bullish-bearish))
	case bearish > bullish:
		return VerdictSkull, ClampConfidence(55 + 10*(bearish-bullish))
	default:
		return VerdictFire, 50
	}
}

func (m *MockGenerator) reasoning(verdict Verdict, bullish, bearish int) string {
	switch verdict {
	case VerdictDiamond:
		return fmt.Sprintf(
			"The described setup leans bullish (%d bullish vs %d bearish signals). "+
				"Structure and volume favor continuation; a long entry with a stop below recent support is defensible.",
			bullish, bearish)
	case VerdictSkull:
		return fmt.Sprintf(
			"The described setup leans bearish (%d bearish vs %d bullish signals). "+
				"Momentum and structure point lower; avoid new longs until the chart stabilizes.",
			bearish, bullish)
	default:
		return "The description shows no clear directional edge. " +
			"Signals are mixed; waiting for confirmation before committing capital is the higher-probability play."
	}
}
