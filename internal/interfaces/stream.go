package interfaces

import (
	"context"

	"mt5stream/internal/types"
)

// TickCallback receives each non-empty batch of newly polled ticks.
type TickCallback func(ticks []types.Tick)

// Stream is the polling core: watermark-driven tick fetch, rolling
// buffers and closed-bar aggregation.
type Stream interface {
	// Poll runs one synchronous fetch-and-apply cycle and returns exactly
	// the newly fetched ticks.
	Poll(ctx context.Context) ([]types.Tick, error)
	// Start begins background polling at the configured cadence. The
	// callback, if non-nil, is invoked from a dedicated goroutine.
	Start(ctx context.Context, cb TickCallback) error
	// Stop signals the background loop and waits briefly for it to exit.
	// Safe to call repeatedly or without a prior Start.
	Stop(ctx context.Context)
	// Ticks returns a snapshot copy of the rolling tick buffer.
	Ticks() []types.Tick
	// Bars returns a snapshot copy of the rolling closed-bar buffer.
	Bars() []types.Bar
	// Watermark returns the time_msc of the last consumed tick.
	Watermark() int64
}
