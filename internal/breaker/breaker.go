// Package breaker isolates a failing downstream endpoint behind a
// CLOSED -> OPEN -> HALF_OPEN state machine driven by consecutive failures.
package breaker

import (
	"sync"
	"time"

	"github.com/elitetradingcoach/chart-analysis/internal/observ"
)

// State is the circuit breaker state.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Breaker tracks consecutive failures for one logical endpoint. CanExecute is
// the sole gate; RecordSuccess and RecordFailure are the sole mutators. The
// OPEN -> HALF_OPEN transition is evaluated lazily on the next CanExecute,
// not by a background timer.
type Breaker struct {
	mu sync.Mutex

	name             string
	state            State
	consecutiveFails int
	openedAt         time.Time
	failureThreshold int
	recoveryTimeout  time.Duration

	now func() time.Time // overridable for tests
}

// New creates a breaker for the named endpoint.
func New(name string, failureThreshold int, recoveryTimeout time.Duration) *Breaker {
	return &Breaker{
		name:             name,
		state:            StateClosed,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		now:              time.Now,
	}
}

// CanExecute reports whether a call may be attempted. While OPEN it returns
// false until the recovery timeout has elapsed, at which point the breaker
// moves to HALF_OPEN and admits a single probe.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.recoveryTimeout {
			b.transition(StateHalfOpen, "recovery_timeout_elapsed")
			return true
		}
		return false
	}
	return false
}

// RecordSuccess resets the failure count. From HALF_OPEN one success closes
// the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFails = 0
	if b.state != StateClosed {
		b.transition(StateClosed, "probe_succeeded")
	}
}

// RecordFailure increments the consecutive failure count. Reaching the
// threshold while CLOSED opens the breaker; any failure while HALF_OPEN
// reopens it and restarts the recovery timer.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFails++
	switch b.state {
	case StateClosed:
		if b.consecutiveFails >= b.failureThreshold {
			b.openedAt = b.now()
			b.transition(StateOpen, "failure_threshold_reached")
		}
	case StateHalfOpen:
		b.openedAt = b.now()
		b.transition(StateOpen, "probe_failed")
	}
}

// State returns the current state without side effects.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// RetryAfter returns how long until an OPEN breaker would admit a probe.
// Zero when the breaker is not OPEN.
func (b *Breaker) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return 0
	}
	remaining := b.recoveryTimeout - b.now().Sub(b.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ConsecutiveFailures returns the current failure streak.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutiveFails
}

// transition changes state and emits the log/metric trail. Caller holds the lock.
func (b *Breaker) transition(to State, reason string) {
	from := b.state
	b.state = to

	observ.Log("circuit_breaker_transition", map[string]any{
		"endpoint":             b.name,
		"from":                 string(from),
		"to":                   string(to),
		"reason":               reason,
		"consecutive_failures": b.consecutiveFails,
	})
	observ.IncCounter("circuit_breaker_transitions_total", map[string]string{
		"endpoint": b.name,
		"from":     string(from),
		"to":       string(to),
	})
	observ.SetGauge("circuit_breaker_state", stateToFloat(to), map[string]string{"endpoint": b.name})
}

func stateToFloat(s State) float64 {
	switch s {
	case StateClosed:
		return 0
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return -1
	}
}

// SetClock overrides the time source (for tests).
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}
