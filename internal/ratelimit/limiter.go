// Package ratelimit enforces a minimum interval between accepted sends.
package ratelimit

import "time"

// DefaultMinInterval is the widget's default spacing between sends.
const DefaultMinInterval = time.Second

// Limiter accepts a send only when at least minInterval has passed since the
// previously accepted one. Rejected attempts leave the window untouched.
//
// Limiter is not safe for concurrent use; callers serialize access.
type Limiter struct {
	minInterval time.Duration
	lastSentAt  time.Time
}

// New creates a Limiter. A negative interval is treated as zero.
func New(minInterval time.Duration) *Limiter {
	if minInterval < 0 {
		minInterval = 0
	}
	return &Limiter{minInterval: minInterval}
}

// TryAcquire reports whether a send at now is allowed and, if so, records it.
// The first call always succeeds.
func (l *Limiter) TryAcquire(now time.Time) bool {
	if !l.lastSentAt.IsZero() && now.Sub(l.lastSentAt) < l.minInterval {
		return false
	}
	l.lastSentAt = now
	return true
}

// LastSent returns the time of the last accepted send, or the zero time.
func (l *Limiter) LastSent() time.Time { return l.lastSentAt }

// MinInterval returns the configured spacing.
func (l *Limiter) MinInterval() time.Duration { return l.minInterval }
