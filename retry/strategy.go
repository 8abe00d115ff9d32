// Package retry provides the exponential backoff schedule shared by the
// transport's reconnect loop and the offline command queue's dead-letter
// threshold.
package retry

import (
	"fmt"
	"math"
	"time"
)

// Strategy describes an exponential backoff schedule with an optional
// exponent cap and a dead-letter threshold.
//
// The delay for attempt n (0-based) is:
//
//	delay = min(MaxDelay, BaseDelay * ExponentialBase^min(n, ExponentCap))
//
// With the reconnect defaults (500ms base, 2.0, cap 6, 30s max):
//
//	Attempt 0: 500ms
//	Attempt 1: 1s
//	Attempt 2: 2s
//	...
//	Attempt 6+: 30s
type Strategy struct {
	MaxAttempts     int           // Attempts allowed before giving up (0 = unlimited)
	BaseDelay       time.Duration // Delay for attempt 0
	MaxDelay        time.Duration // Upper bound for any delay (0 = no bound)
	ExponentialBase float64       // Backoff multiplier (2.0 doubles each attempt)
	ExponentCap     int           // Exponent stops growing past this attempt (0 = no cap)
	DLQThreshold    int           // Dead-letter after this many failed attempts (0 = never)
}

// ReconnectStrategy returns the transport reconnect schedule:
// 500ms doubling up to 30s, retrying forever.
func ReconnectStrategy() Strategy {
	return Strategy{
		BaseDelay:       500 * time.Millisecond,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2.0,
		ExponentCap:     6,
	}
}

// QueueStrategy returns the offline queue policy: a command that failed
// five times for reasons other than connectivity is dead-lettered.
func QueueStrategy() Strategy {
	return Strategy{
		MaxAttempts:     10,
		BaseDelay:       30 * time.Second,
		MaxDelay:        30 * time.Minute,
		ExponentialBase: 2.0,
		DLQThreshold:    5,
	}
}

// CalculateRetryDelay returns the delay to wait before attempt n.
func (s Strategy) CalculateRetryDelay(attempt int) time.Duration {
	if attempt <= 0 || s.BaseDelay <= 0 {
		return s.capped(s.BaseDelay)
	}

	exponent := attempt
	if s.ExponentCap > 0 && exponent > s.ExponentCap {
		exponent = s.ExponentCap
	}
	base := s.ExponentialBase
	if base < 1.0 {
		base = 1.0
	}

	delay := float64(s.BaseDelay) * math.Pow(base, float64(exponent))
	if s.MaxDelay > 0 && delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}

func (s Strategy) capped(d time.Duration) time.Duration {
	if s.MaxDelay > 0 && d > s.MaxDelay {
		return s.MaxDelay
	}
	return d
}

// ShouldDeadLetter reports whether a command with attemptCount failures
// has reached the dead-letter threshold.
func (s Strategy) ShouldDeadLetter(attemptCount int) bool {
	return s.DLQThreshold > 0 && attemptCount >= s.DLQThreshold
}

// IsRetryable reports whether another attempt is allowed.
func (s Strategy) IsRetryable(attemptCount int) bool {
	return s.MaxAttempts <= 0 || attemptCount < s.MaxAttempts
}

// Schedule returns a human-readable description of the first n delays.
//
// Example output:
//
//	Retry Schedule:
//	  Attempt 0: after 500ms
//	  Attempt 1: after 1s
//	  ...
func (s Strategy) Schedule(n int) string {
	schedule := "Retry Schedule:\n"
	for i := 0; i < n; i++ {
		schedule += fmt.Sprintf("  Attempt %d: after %v\n", i, s.CalculateRetryDelay(i))
		if s.DLQThreshold > 0 && i+1 == s.DLQThreshold {
			schedule += "  → Dead-letter\n"
		}
	}
	return schedule
}
