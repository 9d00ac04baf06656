package interfaces

import (
	"context"
	"time"

	"mt5stream/internal/types"
)

// Terminal is the narrow surface of the MT5 terminal this adapter
// consumes. Implementations: terminal/bridge (live gateway) and
// terminal/sim (DRY_RUN).
type Terminal interface {
	// Initialize brings up the terminal session, optionally launching the
	// terminal binary and logging in. Idempotent.
	Initialize(ctx context.Context) error
	// EnsureSymbol selects the symbol so the terminal feeds its ticks.
	EnsureSymbol(ctx context.Context, symbol string) error
	// LastTick returns the terminal's current tick snapshot for the symbol.
	LastTick(ctx context.Context, symbol string) (types.Tick, error)
	// TicksSince returns ticks with time_msc strictly greater than
	// afterMsc, ascending. An empty slice means nothing new, not an error.
	TicksSince(ctx context.Context, symbol string, afterMsc int64) ([]types.Tick, error)
	// BarAt returns the official closed bar whose period starts at start.
	// ok is false while the broker has not finalized it.
	BarAt(ctx context.Context, symbol string, tf types.Timeframe, start time.Time) (bar types.Bar, ok bool, err error)
	// SendOrder forwards an order request unvalidated. Broker rejection is
	// reported through OrderResult.Retcode, not err.
	SendOrder(ctx context.Context, req types.OrderRequest) (types.OrderResult, error)
	// Positions lists open positions, optionally filtered by symbol
	// (empty string = all).
	Positions(ctx context.Context, symbol string) ([]types.Position, error)
	// Shutdown tears the session down. Safe to call more than once.
	Shutdown(ctx context.Context) error
}
