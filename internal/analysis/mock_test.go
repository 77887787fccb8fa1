package analysis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeywordSentiment_Score(t *testing.T) {
	s := KeywordSentiment{}

	bull, bear := s.Score("Strong bullish breakout with momentum")
	assert.Equal(t, 3, bull)
	assert.Equal(t, 0, bear)

	// "lower lows" also matches the "lower low" keyword.
	bull, bear = s.Score("BEARISH breakdown, lower lows on a downtrend")
	assert.Equal(t, 0, bull)
	assert.Equal(t, 4, bear)

	bull, bear = s.Score("sideways chop, nothing to see")
	assert.Zero(t, bull)
	assert.Zero(t, bear)
}

func TestMockGenerator_VerdictIsDeterministic(t *testing.T) {
	g := NewMockGenerator().WithDelay(0, 0)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		r, err := g.Generate(ctx, "strong bullish breakout with volume")
		require.NoError(t, err)
		assert.Equal(t, VerdictDiamond, r.Verdict)
		assert.Greater(t, r.Confidence, 50)
		assert.NotEmpty(t, r.Reasoning)
	}
}

func TestMockGenerator_BearishYieldsSkull(t *testing.T) {
	g := NewMockGenerator().WithDelay(0, 0)

	r, err := g.Generate(context.Background(), "bearish rejection at resistance, a clear downtrend")
	require.NoError(t, err)
	assert.Equal(t, VerdictSkull, r.Verdict)
	assert.Greater(t, r.Confidence, 50)
}

func TestMockGenerator_TieYieldsNeutralFire(t *testing.T) {
	g := NewMockGenerator().WithDelay(0, 0)

	// Equal tallies, including zero/zero, resolve to Fire at confidence 50.
	for _, desc := range []string{"", "bullish but also bearish", "nothing recognizable"} {
		r, err := g.Generate(context.Background(), desc)
		require.NoError(t, err)
		assert.Equal(t, VerdictFire, r.Verdict, desc)
		assert.Equal(t, 50, r.Confidence, desc)
	}
}

func TestMockGenerator_ConfidenceStaysInBounds(t *testing.T) {
	g := NewMockGenerator().WithDelay(0, 0)

	// Pile on bullish vocabulary so the raw margin score exceeds 100.
	desc := "bullish breakout uptrend rally momentum accumulation bounce buy golden cross ascending"
	r, err := g.Generate(context.Background(), desc)
	require.NoError(t, err)
	assert.Equal(t, VerdictDiamond, r.Verdict)
	assert.LessOrEqual(t, r.Confidence, 100)
	assert.GreaterOrEqual(t, r.Confidence, 0)
}

func TestMockGenerator_CancellableDelay(t *testing.T) {
	g := NewMockGenerator().WithDelay(10*time.Second, 10*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := g.Generate(ctx, "bullish")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestMockGenerator_ConcurrentGenerate(t *testing.T) {
	// A nonzero delay band exercises the jittered-delay path from many
	// goroutines sharing one generator.
	g := NewMockGenerator().WithDelay(time.Microsecond, 2*time.Microsecond)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				r, err := g.Generate(context.Background(), "strong bullish breakout")
				require.NoError(t, err)
				require.Equal(t, VerdictDiamond, r.Verdict)
			}
		}()
	}
	wg.Wait()
}

type fixedStrategy struct{ bull, bear int }

func (f fixedStrategy) Score(string) (int, int) { return f.bull, f.bear }

func TestMockGenerator_StrategyIsSwappable(t *testing.T) {
	g := NewMockGenerator().WithDelay(0, 0).WithStrategy(fixedStrategy{bull: 0, bear: 4})

	r, err := g.Generate(context.Background(), "whatever the text says")
	require.NoError(t, err)
	assert.Equal(t, VerdictSkull, r.Verdict)
	assert.Equal(t, 95, r.Confidence)
}

func TestVerdictFromScores(t *testing.T) {
	cases := []struct {
		bull, bear int
		verdict    Verdict
		confidence int
	}{
		{1, 0, VerdictDiamond, 65},
		{3, 1, VerdictDiamond, 75},
		{0, 2, VerdictSkull, 75},
		{2, 2, VerdictFire, 50},
		{0, 0, VerdictFire, 50},
		{10, 0, VerdictDiamond, 100},
	}
	for _, tc := range cases {
		v, c := verdictFromScores(tc.bull, tc.bear)
		assert.Equal(t, tc.verdict, v)
		assert.Equal(t, tc.confidence, c)
	}
}
