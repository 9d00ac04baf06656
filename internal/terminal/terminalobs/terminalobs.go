// Package terminalobs wraps a Terminal with logging and tracing
// middleware.
package terminalobs

import (
	"context"
	"time"

	"mt5stream/internal/interfaces"
	"mt5stream/internal/logger"
	"mt5stream/internal/trace"
	"mt5stream/internal/types"
)

type observableTerminal struct {
	term interfaces.Terminal
}

var _ interfaces.Terminal = (*observableTerminal)(nil)

// Wrap wraps a terminal with observability middleware
func Wrap(term interfaces.Terminal) interfaces.Terminal {
	return &observableTerminal{term: term}
}

func (ot *observableTerminal) Initialize(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "terminal.Initialize")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Initializing terminal")
	if err := ot.term.Initialize(ctx); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Terminal initialization failed", err)
		return err
	}
	logger.InfoSkip(ctx, 1, "Terminal initialized")
	return nil
}

func (ot *observableTerminal) EnsureSymbol(ctx context.Context, symbol string) error {
	ctx, span := trace.StartSpan(ctx, "terminal.EnsureSymbol")
	defer span.End()

	if err := ot.term.EnsureSymbol(ctx, symbol); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Symbol selection failed", err, "symbol", symbol)
		return err
	}
	logger.DebugSkip(ctx, 1, "Symbol selected", "symbol", symbol)
	return nil
}

func (ot *observableTerminal) LastTick(ctx context.Context, symbol string) (types.Tick, error) {
	ctx, span := trace.StartSpan(ctx, "terminal.LastTick")
	defer span.End()

	tick, err := ot.term.LastTick(ctx, symbol)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch last tick", err, "symbol", symbol)
		return types.Tick{}, err
	}
	return tick, nil
}

func (ot *observableTerminal) TicksSince(ctx context.Context, symbol string, afterMsc int64) ([]types.Tick, error) {
	ctx, span := trace.StartSpan(ctx, "terminal.TicksSince")
	defer span.End()

	ticks, err := ot.term.TicksSince(ctx, symbol, afterMsc)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch ticks", err, "symbol", symbol, "after_msc", afterMsc)
		return nil, err
	}
	if len(ticks) > 0 {
		logger.DebugSkip(ctx, 1, "Ticks fetched", "symbol", symbol, "count", len(ticks))
	}
	return ticks, nil
}

func (ot *observableTerminal) BarAt(ctx context.Context, symbol string, tf types.Timeframe, start time.Time) (types.Bar, bool, error) {
	ctx, span := trace.StartSpan(ctx, "terminal.BarAt")
	defer span.End()

	bar, ok, err := ot.term.BarAt(ctx, symbol, tf, start)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch bar", err,
			"symbol", symbol, "timeframe", tf.String(), "period_start", start)
		return types.Bar{}, false, err
	}
	logger.DebugSkip(ctx, 1, "Bar fetched", "symbol", symbol, "period_start", start, "finalized", ok)
	return bar, ok, nil
}

func (ot *observableTerminal) SendOrder(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	ctx, span := trace.StartSpan(ctx, "terminal.SendOrder")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Sending order",
		"symbol", req.Symbol,
		"type", req.Type.String(),
		"volume", req.Volume,
		"price", req.Price,
	)
	res, err := ot.term.SendOrder(ctx, req)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Order send failed", err, "symbol", req.Symbol, "type", req.Type.String())
		return types.OrderResult{}, err
	}
	logger.InfoSkip(ctx, 1, "Order result",
		"symbol", req.Symbol,
		"retcode", res.Retcode,
		"deal", res.Deal,
		"order", res.Order,
		"price", res.Price,
	)
	return res, nil
}

func (ot *observableTerminal) Positions(ctx context.Context, symbol string) ([]types.Position, error) {
	ctx, span := trace.StartSpan(ctx, "terminal.Positions")
	defer span.End()

	positions, err := ot.term.Positions(ctx, symbol)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to list positions", err, "symbol", symbol)
		return nil, err
	}
	logger.DebugSkip(ctx, 1, "Positions listed", "symbol", symbol, "count", len(positions))
	return positions, nil
}

func (ot *observableTerminal) Shutdown(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "terminal.Shutdown")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Shutting down terminal")
	return ot.term.Shutdown(ctx)
}
