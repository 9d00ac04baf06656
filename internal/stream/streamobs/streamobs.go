// Package streamobs wraps a Stream with logging and tracing middleware.
package streamobs

import (
	"context"

	"mt5stream/internal/interfaces"
	"mt5stream/internal/logger"
	"mt5stream/internal/trace"
	"mt5stream/internal/types"
)

type observableStream struct {
	stream interfaces.Stream
}

var _ interfaces.Stream = (*observableStream)(nil)

// Wrap wraps a stream with observability middleware
func Wrap(stream interfaces.Stream) interfaces.Stream {
	return &observableStream{stream: stream}
}

func (os *observableStream) Poll(ctx context.Context) ([]types.Tick, error) {
	ctx, span := trace.StartSpan(ctx, "stream.Poll")
	defer span.End()

	ticks, err := os.stream.Poll(ctx)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Poll failed", err)
		return nil, err
	}
	if len(ticks) > 0 {
		logger.DebugSkip(ctx, 1, "Poll applied", "new_ticks", len(ticks), "watermark", os.stream.Watermark())
	}
	return ticks, nil
}

func (os *observableStream) Start(ctx context.Context, cb interfaces.TickCallback) error {
	ctx, span := trace.StartSpan(ctx, "stream.Start")
	defer span.End()

	if err := os.stream.Start(ctx, cb); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Stream start failed", err)
		return err
	}
	return nil
}

func (os *observableStream) Stop(ctx context.Context) {
	ctx, span := trace.StartSpan(ctx, "stream.Stop")
	defer span.End()

	os.stream.Stop(ctx)
}

func (os *observableStream) Ticks() []types.Tick {
	return os.stream.Ticks()
}

func (os *observableStream) Bars() []types.Bar {
	return os.stream.Bars()
}

func (os *observableStream) Watermark() int64 {
	return os.stream.Watermark()
}
