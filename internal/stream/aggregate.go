package stream

import (
	"time"

	"mt5stream/internal/types"
)

// BarSource selects where closed bars come from.
type BarSource int

const (
	// SourceTicks computes OHLC locally from the buffered ticks.
	SourceTicks BarSource = iota
	// SourceBroker fetches the official closed bar from the terminal at
	// each period boundary, guaranteeing agreement with the broker's own
	// record.
	SourceBroker
)

// ParseBarSource maps a config string to a BarSource.
func ParseBarSource(s string) (BarSource, bool) {
	switch s {
	case "TICKS":
		return SourceTicks, true
	case "BROKER":
		return SourceBroker, true
	}
	return 0, false
}

// Aggregator tracks the currently accumulating period and reports
// closures. It starts awaiting the first tick; that tick establishes the
// baseline period without emitting anything.
type Aggregator struct {
	clock  PeriodClock
	source BarSource
	period time.Time // open period start, zero until the first observation
}

func NewAggregator(clock PeriodClock, source BarSource) *Aggregator {
	return &Aggregator{clock: clock, source: source}
}

// Source returns the configured bar source.
func (a *Aggregator) Source() BarSource {
	return a.source
}

// Advance observes the newest tick timestamp and returns the period
// starts that have fully closed since the previous call, oldest first.
// The still-open period is never returned.
func (a *Aggregator) Advance(now time.Time) []time.Time {
	closed, cur := a.clock.HasClosed(a.period, now)
	if a.period.IsZero() {
		a.period = cur
		return nil
	}
	if !closed || !cur.After(a.period) {
		// Equal means still accumulating; earlier means the terminal
		// replayed an old tick, which must not reopen a closed period.
		return nil
	}
	var out []time.Time
	for p := a.period; p.Before(cur); p = a.clock.Next(p) {
		out = append(out, p)
	}
	a.period = cur
	return out
}

// Window returns the [start, end) bounds of the period beginning at start.
func (a *Aggregator) Window(start time.Time) (time.Time, time.Time) {
	return start, a.clock.Next(start)
}

// BuildBar computes one OHLC bar over the ticks falling inside
// [start, end). Open and close come from the chronologically first and
// last tick, tick volume is the count, real volume the sum of tick
// volumes. Spread is not derivable from ticks and is reported as 0.
// ok is false when no tick falls in the window.
func BuildBar(ticks []types.Tick, start, end time.Time) (types.Bar, bool) {
	bar := types.Bar{Time: start}
	found := false
	for _, t := range ticks {
		if t.Time.Before(start) || !t.Time.Before(end) {
			continue
		}
		p := t.Price()
		if !found {
			bar.Open, bar.High, bar.Low = p, p, p
			found = true
		}
		if p > bar.High {
			bar.High = p
		}
		if p < bar.Low {
			bar.Low = p
		}
		bar.Close = p
		bar.TickVolume++
		bar.RealVolume += t.Volume
	}
	return bar, found
}
