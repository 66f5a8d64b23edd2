// Package freshness decides whether a cached fund price is recent enough to
// be treated as current.
//
// The refresh interval is always passed in explicitly. It is the same value
// the refresh scheduler runs on, so a price older than one interval means at
// least one refresh cycle failed to update it.
package freshness

import (
	"errors"
	"fmt"
	"time"
)

const (
	// MinInterval is the shortest allowed refresh interval in seconds.
	MinInterval = 10

	// MaxInterval is the longest allowed refresh interval in seconds.
	MaxInterval = 3600

	// DefaultInterval is used when no interval has been configured.
	DefaultInterval = 60
)

// ErrConfigOutOfRange is returned when a refresh interval lies outside
// [MinInterval, MaxInterval].
var ErrConfigOutOfRange = errors.New("freshness: refresh interval out of range")

// ValidateInterval checks a refresh interval in seconds.
func ValidateInterval(seconds int) error {
	if seconds < MinInterval || seconds > MaxInterval {
		return fmt.Errorf("%w: %ds (allowed %d..%d)", ErrConfigOutOfRange, seconds, MinInterval, MaxInterval)
	}
	return nil
}

// IsFresh reports whether now - lastUpdated <= intervalSeconds. It does not
// validate the interval; use ValidateInterval or NewPolicy for that.
// A zero lastUpdated (never priced) is never fresh.
func IsFresh(lastUpdated, now time.Time, intervalSeconds int) bool {
	if lastUpdated.IsZero() {
		return false
	}
	return now.Sub(lastUpdated) <= time.Duration(intervalSeconds)*time.Second
}

// Policy is a validated refresh interval.
type Policy struct {
	interval int
}

// NewPolicy creates a policy for the given refresh interval in seconds.
func NewPolicy(intervalSeconds int) (Policy, error) {
	if err := ValidateInterval(intervalSeconds); err != nil {
		return Policy{}, err
	}
	return Policy{interval: intervalSeconds}, nil
}

// Interval returns the refresh interval in seconds.
func (p Policy) Interval() int {
	return p.interval
}

// IsFresh reports whether a price last updated at lastUpdated is still
// current at now.
func (p Policy) IsFresh(lastUpdated, now time.Time) bool {
	return IsFresh(lastUpdated, now, p.interval)
}

// Age returns how long ago the price was updated, never negative.
func (p Policy) Age(lastUpdated, now time.Time) time.Duration {
	if lastUpdated.IsZero() || now.Before(lastUpdated) {
		return 0
	}
	return now.Sub(lastUpdated)
}
