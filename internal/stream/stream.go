package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mt5stream/internal/interfaces"
	"mt5stream/internal/logger"
	"mt5stream/internal/types"
)

const (
	defaultCallbackQueue = 16
	stopWait             = 2 * time.Second
	reconnectPause       = 500 * time.Millisecond
)

// Params configures a Stream.
type Params struct {
	Symbol        string
	PollInterval  time.Duration
	RollingTicks  int
	RollingBars   int
	Timeframe     types.Timeframe // zero disables bar aggregation
	Source        BarSource
	Location      *time.Location // broker timezone for period boundaries, nil = UTC
	CallbackQueue int
}

// Stream polls the terminal for new ticks on a fixed cadence, keeps
// bounded rolling buffers of ticks and closed bars, and optionally hands
// each new batch to a callback. The background goroutine is the sole
// writer; readers only take snapshots.
type Stream struct {
	p    Params
	term interfaces.Terminal

	// pollMu serializes whole poll cycles (manual Poll vs background
	// loop). mu guards buffer and watermark state and is never held
	// across a terminal round trip.
	pollMu sync.Mutex
	mu     sync.Mutex

	ticks   *RollingBuffer[types.Tick]
	bars    *RollingBuffer[types.Bar]
	agg     *Aggregator
	lastMsc int64
	// closed periods still awaiting the broker's official bar
	pending []time.Time

	runMu       sync.Mutex
	running     bool
	initialized bool
	cancel      context.CancelFunc
	done        chan struct{}
}

// New builds a Stream over the given terminal. The terminal session is
// brought up on first Start, not here.
func New(term interfaces.Terminal, p Params) (*Stream, error) {
	if term == nil {
		return nil, errors.New("stream: terminal is required")
	}
	if p.Symbol == "" {
		return nil, errors.New("stream: symbol is required")
	}
	if p.PollInterval <= 0 {
		return nil, fmt.Errorf("stream: poll interval must be positive, got %v", p.PollInterval)
	}
	if p.CallbackQueue == 0 {
		p.CallbackQueue = defaultCallbackQueue
	}
	if p.Location == nil {
		p.Location = time.UTC
	}

	ticks, err := NewRollingBuffer[types.Tick](p.RollingTicks)
	if err != nil {
		return nil, fmt.Errorf("stream: tick buffer: %w", err)
	}
	bars, err := NewRollingBuffer[types.Bar](p.RollingBars)
	if err != nil {
		return nil, fmt.Errorf("stream: bar buffer: %w", err)
	}

	s := &Stream{p: p, term: term, ticks: ticks, bars: bars}
	if p.Timeframe != 0 {
		if !p.Timeframe.Valid() {
			return nil, fmt.Errorf("stream: invalid timeframe %v", p.Timeframe)
		}
		s.agg = NewAggregator(NewPeriodClock(p.Timeframe, p.Location), p.Source)
	}
	return s, nil
}

// Poll runs one synchronous fetch-and-apply cycle: fetch ticks past the
// watermark, append them, emit any bars whose period closed, advance the
// watermark. Returns exactly the newly fetched ticks; empty when the
// terminal has nothing new. On error nothing is mutated.
func (s *Stream) Poll(ctx context.Context) ([]types.Tick, error) {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	return s.poll(ctx)
}

func (s *Stream) poll(ctx context.Context) ([]types.Tick, error) {
	s.mu.Lock()
	after := s.lastMsc
	s.mu.Unlock()

	fetched, err := s.term.TicksSince(ctx, s.p.Symbol, after)
	if err != nil {
		return nil, fmt.Errorf("fetch ticks for %s: %w", s.p.Symbol, err)
	}

	// The terminal contract is strictly-greater, but ticks at the
	// boundary can reappear across polls; the watermark wins.
	fresh := fetched[:0:0]
	for _, t := range fetched {
		if t.TimeMsc > after {
			fresh = append(fresh, t)
		}
	}
	if len(fresh) == 0 {
		return nil, nil
	}

	var toFetch []time.Time

	s.mu.Lock()
	s.ticks.Append(fresh...)
	newest := fresh[len(fresh)-1]
	if s.agg != nil {
		closed := s.agg.Advance(newest.Time)
		switch s.agg.Source() {
		case SourceTicks:
			for _, start := range closed {
				lo, hi := s.agg.Window(start)
				if bar, ok := BuildBar(s.ticks.rows, lo, hi); ok {
					s.bars.Append(bar)
				}
			}
		case SourceBroker:
			s.pending = append(s.pending, closed...)
			if over := len(s.pending) - s.p.RollingBars; over > 0 {
				s.pending = s.pending[over:]
			}
			toFetch = append(toFetch, s.pending...)
		}
	}
	s.lastMsc = newest.TimeMsc
	s.mu.Unlock()

	// Broker bars are fetched outside the lock so snapshot readers are
	// never blocked on a network round trip, then applied atomically.
	if len(toFetch) > 0 {
		s.fetchBrokerBars(ctx, toFetch)
	}

	return fresh, nil
}

func (s *Stream) fetchBrokerBars(ctx context.Context, starts []time.Time) {
	type fetched struct {
		start time.Time
		bar   types.Bar
	}
	var got []fetched
	for _, start := range starts {
		bar, ok, err := s.term.BarAt(ctx, s.p.Symbol, s.p.Timeframe, start)
		if err != nil {
			logger.Warn(ctx, "Broker bar fetch failed, will retry next cycle",
				"symbol", s.p.Symbol, "period_start", start, "error", err)
			continue
		}
		if !ok {
			// Broker has not finalized the bar yet; keep it pending.
			continue
		}
		if !bar.Time.Equal(start) {
			logger.Warn(ctx, "Broker returned bar for unexpected period",
				"symbol", s.p.Symbol, "want", start, "got", bar.Time)
			continue
		}
		got = append(got, fetched{start: start, bar: bar})
	}
	if len(got) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range got {
		s.bars.Append(f.bar)
		for i, p := range s.pending {
			if p.Equal(f.start) {
				s.pending = append(s.pending[:i], s.pending[i+1:]...)
				break
			}
		}
	}
}

// Start brings up the terminal session on first use and begins background
// polling. Non-empty batches are handed to cb (if non-nil) through a
// bounded queue consumed by a dedicated goroutine; when the queue is full
// the batch is dropped and a warning logged so a slow callback cannot
// stall the fetch cadence. Returns an error only for connection failures;
// calling Start while running is a no-op.
func (s *Stream) Start(ctx context.Context, cb interfaces.TickCallback) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return nil
	}

	if !s.initialized {
		if err := s.term.Initialize(ctx); err != nil {
			return fmt.Errorf("initialize terminal: %w", err)
		}
		if err := s.term.EnsureSymbol(ctx, s.p.Symbol); err != nil {
			return fmt.Errorf("select symbol %s: %w", s.p.Symbol, err)
		}
		s.initialized = true
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	batches := make(chan []types.Tick, s.p.CallbackQueue)
	if cb != nil {
		go s.dispatch(loopCtx, cb, batches)
	}
	go s.loop(loopCtx, cb != nil, batches)

	logger.Info(ctx, "Stream started",
		"symbol", s.p.Symbol,
		"poll_interval", s.p.PollInterval,
		"timeframe", s.p.Timeframe.String(),
	)
	return nil
}

func (s *Stream) loop(ctx context.Context, deliver bool, batches chan<- []types.Tick) {
	defer close(s.done)
	defer close(batches)

	ticker := time.NewTicker(s.p.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		s.pollMu.Lock()
		fresh, err := s.poll(ctx)
		s.pollMu.Unlock()
		if err != nil {
			if ctx.Err() != nil {
				// Stop cancelled the in-flight fetch; the session is fine.
				return
			}
			// Watermark and buffers are untouched on failure; cycle is
			// skipped after a reconnect attempt.
			logger.ErrorWithErr(ctx, "Poll cycle failed", err, "symbol", s.p.Symbol)
			s.reconnect(ctx)
			continue
		}
		if len(fresh) == 0 || !deliver {
			continue
		}
		select {
		case batches <- fresh:
		default:
			logger.Warn(ctx, "Callback queue full, dropping tick batch",
				"symbol", s.p.Symbol, "dropped", len(fresh))
		}
	}
}

func (s *Stream) dispatch(ctx context.Context, cb interfaces.TickCallback, batches <-chan []types.Tick) {
	for batch := range batches {
		s.invoke(ctx, cb, batch)
	}
}

// invoke shields the loop from the callback: a panic is recovered and
// logged, never propagated to the scheduler.
func (s *Stream) invoke(ctx context.Context, cb interfaces.TickCallback, batch []types.Tick) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "Tick callback panicked", "symbol", s.p.Symbol, "panic", r)
		}
	}()
	cb(batch)
}

// reconnect runs the shutdown/initialize/select cycle after a failed
// poll. Best effort: a failure here surfaces on the next poll anyway.
func (s *Stream) reconnect(ctx context.Context) {
	_ = s.term.Shutdown(ctx)
	select {
	case <-ctx.Done():
		return
	case <-time.After(reconnectPause):
	}
	if err := s.term.Initialize(ctx); err != nil {
		logger.Warn(ctx, "Reconnect failed", "symbol", s.p.Symbol, "error", err)
		return
	}
	if err := s.term.EnsureSymbol(ctx, s.p.Symbol); err != nil {
		logger.Warn(ctx, "Symbol re-select failed", "symbol", s.p.Symbol, "error", err)
	}
}

// Stop signals the background loop and waits up to two seconds for it to
// exit. An in-flight fetch is cancelled and its cycle discarded without
// touching the watermark or the terminal session. Safe to call
// repeatedly, without a prior Start, and from inside a callback. The
// watermark survives, so a later Start fetches no duplicate ticks.
func (s *Stream) Stop(ctx context.Context) {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.runMu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(stopWait):
		logger.Warn(ctx, "Stream loop did not exit in time", "symbol", s.p.Symbol)
	}
	logger.Info(ctx, "Stream stopped", "symbol", s.p.Symbol, "watermark", s.Watermark())
}

// Ticks returns a snapshot copy of the rolling tick buffer.
func (s *Stream) Ticks() []types.Tick {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks.Snapshot()
}

// Bars returns a snapshot copy of the rolling closed-bar buffer.
func (s *Stream) Bars() []types.Bar {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bars.Snapshot()
}

// Watermark returns the time_msc of the last consumed tick.
func (s *Stream) Watermark() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMsc
}

var _ interfaces.Stream = (*Stream)(nil)
