package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mt5stream/internal/types"
)

func TestPeriodStartFlooring(t *testing.T) {
	ts := time.Date(2025, 3, 14, 9, 37, 42, 500e6, time.UTC)

	cases := []struct {
		tf   types.Timeframe
		want time.Time
	}{
		{types.M1, time.Date(2025, 3, 14, 9, 37, 0, 0, time.UTC)},
		{types.M5, time.Date(2025, 3, 14, 9, 35, 0, 0, time.UTC)},
		{types.M15, time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)},
		{types.H1, time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)},
		{types.D1, time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		clock := NewPeriodClock(tc.tf, time.UTC)
		assert.Equal(t, tc.want, clock.PeriodStart(ts), tc.tf.String())
	}
}

func TestPeriodStartOnBoundary(t *testing.T) {
	clock := NewPeriodClock(types.M5, time.UTC)
	boundary := time.Date(2025, 3, 14, 9, 35, 0, 0, time.UTC)
	assert.Equal(t, boundary, clock.PeriodStart(boundary))
}

func TestPeriodStartBrokerTimezone(t *testing.T) {
	// Broker midnight is not UTC midnight.
	loc, err := time.LoadLocation("Europe/Athens")
	require.NoError(t, err)

	clock := NewPeriodClock(types.D1, loc)
	ts := time.Date(2025, 6, 10, 23, 30, 0, 0, time.UTC) // 02:30 on June 11 in Athens
	got := clock.PeriodStart(ts)
	assert.Equal(t, time.Date(2025, 6, 11, 0, 0, 0, 0, loc), got)
}

func TestHasClosedFirstObservationEstablishesBaseline(t *testing.T) {
	clock := NewPeriodClock(types.M1, time.UTC)
	now := time.Date(2025, 3, 14, 9, 0, 30, 0, time.UTC)

	closed, cur := clock.HasClosed(time.Time{}, now)
	assert.False(t, closed)
	assert.Equal(t, time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC), cur)
}

func TestHasClosedDetectsTransition(t *testing.T) {
	clock := NewPeriodClock(types.M1, time.UTC)
	prev := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

	closed, cur := clock.HasClosed(prev, time.Date(2025, 3, 14, 9, 0, 59, 0, time.UTC))
	assert.False(t, closed)
	assert.Equal(t, prev, cur)

	closed, cur = clock.HasClosed(prev, time.Date(2025, 3, 14, 9, 1, 2, 0, time.UTC))
	assert.True(t, closed)
	assert.Equal(t, time.Date(2025, 3, 14, 9, 1, 0, 0, time.UTC), cur)
}

func TestNext(t *testing.T) {
	m5 := NewPeriodClock(types.M5, time.UTC)
	start := time.Date(2025, 3, 14, 9, 55, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC), m5.Next(start))

	d1 := NewPeriodClock(types.D1, time.UTC)
	day := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), d1.Next(day))
}
