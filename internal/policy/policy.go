// Package policy decides when a paste record stops being servable.
package policy

import (
	"errors"
	"time"

	"clibin/internal/record"
)

const (
	// DefaultTTL is the retention window applied when the submitter sets none.
	DefaultTTL = 24 * time.Hour
	// MaxTTL is the longest retention window a submitter may request.
	MaxTTL = 30 * 24 * time.Hour
)

// ErrInvalidTTL is returned by Resolve for explicit non-positive windows.
var ErrInvalidTTL = errors.New("expiration must be positive")

// IsExpired reports whether r must no longer be served at now.
// A record without an expiry counts as expired.
func IsExpired(r record.Record, now time.Time) bool {
	if r.ExpiresAt.IsZero() {
		return true
	}
	return !now.Before(r.ExpiresAt)
}

// ShouldDeleteAfterServe reports whether r is consumed by its first read.
func ShouldDeleteAfterServe(r record.Record) bool {
	return r.Onetime
}

// TTL is a requested retention window. The zero value selects the default.
type TTL struct {
	d   time.Duration
	set bool
}

// After returns an explicit retention window of d.
func After(d time.Duration) TTL {
	return TTL{d: d, set: true}
}

// IsSet reports whether the window was given explicitly.
func (t TTL) IsSet() bool { return t.set }

// Resolve returns the effective retention window for t. Unset windows use
// def, windows above max are clamped to max.
func Resolve(t TTL, def, max time.Duration) (time.Duration, error) {
	if def <= 0 {
		def = DefaultTTL
	}
	if max <= 0 {
		max = MaxTTL
	}
	if def > max {
		def = max
	}
	if !t.set {
		return def, nil
	}
	if t.d <= 0 {
		return 0, ErrInvalidTTL
	}
	if t.d > max {
		return max, nil
	}
	return t.d, nil
}
