package port

import (
	"context"
	"time"
)

// RateWindow summarises the attempts recorded for an identifier inside the current window.
type RateWindow struct {
	Count     int
	Oldest    time.Time
	HasOldest bool
}

// RateLimitStore defines the persistence operations required to enforce per-tenant sliding-window limits.
type RateLimitStore interface {
	// Window drops attempts older than window relative to reference and summarises the remainder.
	Window(ctx context.Context, identifier string, window time.Duration, reference time.Time) (RateWindow, error)
	RecordAttempt(ctx context.Context, identifier string, at time.Time, ttl time.Duration) error
}
