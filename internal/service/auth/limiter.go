package auth

import (
	"sync"
	"time"
)

const blockDuration = 5 * time.Minute

// Limit caps attempts within a sliding window.
type Limit struct {
	Max    int
	Window time.Duration
}

var (
	loginLimit  = Limit{Max: 5, Window: time.Minute}
	signupLimit = Limit{Max: 3, Window: 5 * time.Minute}
)

// AttemptLimiter tracks attempts per key. A key that exceeds its limit is blocked for
// five minutes; a successful attempt resets it.
type AttemptLimiter struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
	blocked  map[string]time.Time
	now      func() time.Time
}

// NewAttemptLimiter constructs an empty limiter.
func NewAttemptLimiter() *AttemptLimiter {
	return &AttemptLimiter{
		attempts: make(map[string][]time.Time),
		blocked:  make(map[string]time.Time),
		now:      time.Now,
	}
}

// Allow reports whether another attempt is allowed, and otherwise how long to wait.
func (l *AttemptLimiter) Allow(key string, limit Limit) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if until, ok := l.blocked[key]; ok {
		if now.Before(until) {
			return false, until.Sub(now)
		}
		delete(l.blocked, key)
	}
	recent := l.recentLocked(key, limit.Window, now)
	if len(recent) >= limit.Max {
		l.blocked[key] = now.Add(blockDuration)
		return false, blockDuration
	}
	return true, 0
}

// Record counts an attempt.
func (l *AttemptLimiter) Record(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts[key] = append(l.attempts[key], l.now())
}

// Reset forgets a key.
func (l *AttemptLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, key)
	delete(l.blocked, key)
}

// Cleanup drops attempts older than maxAge and expired blocks.
func (l *AttemptLimiter) Cleanup(maxAge time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for key := range l.attempts {
		if len(l.recentLocked(key, maxAge, now)) == 0 {
			delete(l.attempts, key)
		}
	}
	for key, until := range l.blocked {
		if !now.Before(until) {
			delete(l.blocked, key)
		}
	}
}

func (l *AttemptLimiter) recentLocked(key string, window time.Duration, now time.Time) []time.Time {
	history := l.attempts[key]
	recent := history[:0]
	for _, at := range history {
		if now.Sub(at) < window {
			recent = append(recent, at)
		}
	}
	l.attempts[key] = recent
	return recent
}
