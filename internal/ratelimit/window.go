// Package ratelimit bounds outbound request rate with a sliding window of
// request timestamps. It is independent of circuit state: the breaker can be
// closed while the limiter denies, and vice versa.
package ratelimit

import (
	"sync"
	"time"
)

// SlidingWindow admits at most capacity requests within any trailing window.
// Denied calls leave the window untouched. Safe for concurrent use.
type SlidingWindow struct {
	mu       sync.Mutex
	capacity int
	window   time.Duration
	stamps   []time.Time
	denials  int64

	now func() time.Time // overridable for tests
}

// NewSlidingWindow creates a limiter admitting maxRequests per window.
func NewSlidingWindow(maxRequests int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		capacity: maxRequests,
		window:   window,
		stamps:   make([]time.Time, 0, maxRequests),
		now:      time.Now,
	}
}

// Allow reports whether a request may proceed now. On admission the current
// timestamp is retained; on denial the window is left unchanged.
func (s *SlidingWindow) Allow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.prune(now)
	if len(s.stamps) >= s.capacity {
		s.denials++
		return false
	}
	s.stamps = append(s.stamps, now)
	return true
}

// Remaining returns how many requests the current window still admits.
func (s *SlidingWindow) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune(s.now())
	return s.capacity - len(s.stamps)
}

// RetryAfter returns how long until the oldest retained timestamp slides out
// of the window, i.e. when the next request could be admitted. Zero when the
// window has room now.
func (s *SlidingWindow) RetryAfter() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.prune(now)
	if len(s.stamps) < s.capacity {
		return 0
	}
	return s.stamps[0].Add(s.window).Sub(now)
}

// Denials returns the cumulative denied-call count.
func (s *SlidingWindow) Denials() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.denials
}

// prune drops timestamps older than the trailing window. Caller holds the lock.
func (s *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-s.window)
	i := 0
	for i < len(s.stamps) && !s.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		s.stamps = append(s.stamps[:0], s.stamps[i:]...)
	}
}

// SetClock overrides the time source (for tests).
func (s *SlidingWindow) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}
