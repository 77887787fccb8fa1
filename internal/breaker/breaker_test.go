package breaker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b := New("test", 3, 30*time.Second)

	require.True(t, b.CanExecute())
	b.RecordFailure()
	b.RecordFailure()
	require.True(t, b.CanExecute(), "still closed below threshold")

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.CanExecute())
}

func TestBreaker_SuccessResetsFailureStreak(t *testing.T) {
	b := New("test", 3, 30*time.Second)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	assert.Equal(t, StateClosed, b.State(), "non-consecutive failures must not trip the breaker")
	assert.Equal(t, 2, b.ConsecutiveFailures())
}

func TestBreaker_LazyHalfOpenTransition(t *testing.T) {
	now := time.Now()
	clock := &fakeClock{t: now}
	b := New("test", 1, 10*time.Second)
	b.SetClock(clock.Now)

	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())
	require.False(t, b.CanExecute())

	// The transition happens on the gate call after the timeout, not before.
	clock.Advance(9 * time.Second)
	require.False(t, b.CanExecute())
	require.Equal(t, StateOpen, b.State())

	clock.Advance(1 * time.Second)
	assert.True(t, b.CanExecute())
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	b := New("test", 1, 10*time.Second)
	b.SetClock(clock.Now)

	b.RecordFailure()
	clock.Advance(10 * time.Second)
	require.True(t, b.CanExecute())
	require.Equal(t, StateHalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.ConsecutiveFailures())
}

func TestBreaker_HalfOpenFailureReopensAndRestartsTimer(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	b := New("test", 1, 10*time.Second)
	b.SetClock(clock.Now)

	b.RecordFailure()
	clock.Advance(10 * time.Second)
	require.True(t, b.CanExecute())

	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	// Timer restarted at the probe failure: 9s later still open.
	clock.Advance(9 * time.Second)
	assert.False(t, b.CanExecute())
	clock.Advance(1 * time.Second)
	assert.True(t, b.CanExecute())
}

func TestBreaker_RetryAfter(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	b := New("test", 1, 10*time.Second)
	b.SetClock(clock.Now)

	assert.Equal(t, time.Duration(0), b.RetryAfter())

	b.RecordFailure()
	clock.Advance(4 * time.Second)
	assert.Equal(t, 6*time.Second, b.RetryAfter())
}

func TestBreaker_ConcurrentRecording(t *testing.T) {
	b := New("test", 100, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.RecordFailure()
		}()
	}
	wg.Wait()

	// Exactly 100 recorded failures must trip a threshold of 100.
	assert.Equal(t, StateOpen, b.State())
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
