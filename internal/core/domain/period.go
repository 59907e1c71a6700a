package domain

import "time"

// DefaultPeriodLength mirrors the billing cadence of the settlement contract (30 days).
const DefaultPeriodLength = 30 * 24 * time.Hour

// Period identifies a billing window as a whole number of period lengths since the epoch.
type Period int64

// Next returns the period immediately following p.
func (p Period) Next() Period {
	return p + 1
}

// Previous returns the period immediately preceding p.
func (p Period) Previous() Period {
	return p - 1
}

// PeriodClock maps wall-clock instants onto billing periods.
type PeriodClock struct {
	epoch  time.Time
	length time.Duration
}

// NewPeriodClock builds a clock anchored at epoch. Non-positive lengths fall back to DefaultPeriodLength.
func NewPeriodClock(epoch time.Time, length time.Duration) PeriodClock {
	if length <= 0 {
		length = DefaultPeriodLength
	}
	return PeriodClock{epoch: epoch.UTC(), length: length}
}

// PeriodAt returns the period containing t.
func (c PeriodClock) PeriodAt(t time.Time) Period {
	length := c.length
	if length <= 0 {
		length = DefaultPeriodLength
	}

	elapsed := t.Sub(c.epoch)
	p := elapsed / length
	if elapsed < 0 && elapsed%length != 0 {
		p--
	}
	return Period(p)
}

// Start returns the first instant belonging to p.
func (c PeriodClock) Start(p Period) time.Time {
	length := c.length
	if length <= 0 {
		length = DefaultPeriodLength
	}
	return c.epoch.Add(time.Duration(p) * length)
}

// Length returns the configured period length.
func (c PeriodClock) Length() time.Duration {
	if c.length <= 0 {
		return DefaultPeriodLength
	}
	return c.length
}
