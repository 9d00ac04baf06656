package stream

import (
	"time"

	"mt5stream/internal/types"
)

// PeriodClock floors broker-local timestamps to timeframe boundaries and
// detects period transitions. Timestamps are assumed already expressed in
// broker server time; loc only controls where the wall-clock boundaries
// (minute-of-hour, midnight) fall.
type PeriodClock struct {
	tf  types.Timeframe
	loc *time.Location
}

func NewPeriodClock(tf types.Timeframe, loc *time.Location) PeriodClock {
	if loc == nil {
		loc = time.UTC
	}
	return PeriodClock{tf: tf, loc: loc}
}

// PeriodStart floors ts to the start of the period containing it.
// M5 floors to :00, :05, :10 ...; D1 floors to broker-local midnight.
func (c PeriodClock) PeriodStart(ts time.Time) time.Time {
	t := ts.In(c.loc)
	switch c.tf {
	case types.M1:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, c.loc)
	case types.M5:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute()/5*5, 0, 0, c.loc)
	case types.M15:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute()/15*15, 0, 0, c.loc)
	case types.H1:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, c.loc)
	case types.D1:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc)
	}
	return t
}

// HasClosed reports whether the period containing now differs from
// prevStart. A zero prevStart is the uninitialized sentinel: the first
// observation establishes the baseline and never reports a closure.
func (c PeriodClock) HasClosed(prevStart, now time.Time) (bool, time.Time) {
	cur := c.PeriodStart(now)
	if prevStart.IsZero() {
		return false, cur
	}
	return !cur.Equal(prevStart), cur
}

// Next returns the start of the period immediately after start. D1 steps
// by calendar day so DST shifts in the broker zone stay on midnight.
func (c PeriodClock) Next(start time.Time) time.Time {
	if c.tf == types.D1 {
		t := start.In(c.loc)
		return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, c.loc)
	}
	return start.Add(c.tf.Duration())
}
