package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mt5stream/internal/types"
)

// fakeTerminal scripts TicksSince responses batch by batch and records
// what the stream asked for.
type fakeTerminal struct {
	mu sync.Mutex

	batches   [][]types.Tick
	calls     int
	afterSeen []int64

	tickErr error

	barAt     map[int64]types.Bar // period start unix -> bar
	barCalls  []time.Time
	barErr    error
	barNotYet map[int64]bool

	initCalls     int
	shutdownCalls int
	symbols       []string
}

func (f *fakeTerminal) Initialize(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	return nil
}

func (f *fakeTerminal) EnsureSymbol(ctx context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.symbols = append(f.symbols, symbol)
	return nil
}

func (f *fakeTerminal) LastTick(ctx context.Context, symbol string) (types.Tick, error) {
	return types.Tick{Bid: 1.0, Ask: 1.0002}, nil
}

func (f *fakeTerminal) TicksSince(ctx context.Context, symbol string, afterMsc int64) ([]types.Tick, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterSeen = append(f.afterSeen, afterMsc)
	if f.tickErr != nil {
		return nil, f.tickErr
	}
	if f.calls >= len(f.batches) {
		return nil, nil
	}
	batch := f.batches[f.calls]
	f.calls++
	return batch, nil
}

func (f *fakeTerminal) BarAt(ctx context.Context, symbol string, tf types.Timeframe, start time.Time) (types.Bar, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.barCalls = append(f.barCalls, start)
	if f.barErr != nil {
		return types.Bar{}, false, f.barErr
	}
	if f.barNotYet[start.Unix()] {
		return types.Bar{}, false, nil
	}
	bar, ok := f.barAt[start.Unix()]
	return bar, ok, nil
}

func (f *fakeTerminal) SendOrder(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	return types.OrderResult{Retcode: types.RetcodeDone}, nil
}

func (f *fakeTerminal) Positions(ctx context.Context, symbol string) ([]types.Position, error) {
	return nil, nil
}

func (f *fakeTerminal) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdownCalls++
	return nil
}

func newTestStream(t *testing.T, term *fakeTerminal, mutate func(*Params)) *Stream {
	t.Helper()
	p := Params{
		Symbol:       "EURUSD",
		PollInterval: 10 * time.Millisecond,
		RollingTicks: 100,
		RollingBars:  100,
	}
	if mutate != nil {
		mutate(&p)
	}
	s, err := New(term, p)
	require.NoError(t, err)
	return s
}

func TestNewValidation(t *testing.T) {
	term := &fakeTerminal{}

	_, err := New(nil, Params{Symbol: "X", PollInterval: time.Second, RollingTicks: 1, RollingBars: 1})
	assert.Error(t, err)

	_, err = New(term, Params{PollInterval: time.Second, RollingTicks: 1, RollingBars: 1})
	assert.Error(t, err)

	_, err = New(term, Params{Symbol: "X", RollingTicks: 1, RollingBars: 1})
	assert.Error(t, err)

	_, err = New(term, Params{Symbol: "X", PollInterval: time.Second, RollingTicks: 0, RollingBars: 1})
	assert.Error(t, err)
}

func TestPollAdvancesWatermark(t *testing.T) {
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	term := &fakeTerminal{batches: [][]types.Tick{
		{tick(base.Add(1*time.Second), 1.10, 1.12, 1), tick(base.Add(2*time.Second), 1.11, 1.13, 1)},
		{tick(base.Add(3*time.Second), 1.12, 1.14, 1)},
	}}
	s := newTestStream(t, term, nil)
	ctx := context.Background()

	fresh, err := s.Poll(ctx)
	require.NoError(t, err)
	assert.Len(t, fresh, 2)
	assert.Equal(t, base.Add(2*time.Second).UnixMilli(), s.Watermark())

	fresh, err = s.Poll(ctx)
	require.NoError(t, err)
	assert.Len(t, fresh, 1)
	assert.Equal(t, base.Add(3*time.Second).UnixMilli(), s.Watermark())
	assert.Len(t, s.Ticks(), 3)

	// Each call passed the previous watermark.
	assert.Equal(t, []int64{0, base.Add(2 * time.Second).UnixMilli()}, term.afterSeen)
}

func TestPollEmptyIsIdempotent(t *testing.T) {
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	term := &fakeTerminal{batches: [][]types.Tick{
		{tick(base.Add(time.Second), 1.10, 1.12, 1)},
	}}
	s := newTestStream(t, term, nil)
	ctx := context.Background()

	_, err := s.Poll(ctx)
	require.NoError(t, err)
	wm := s.Watermark()

	fresh, err := s.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, fresh)
	assert.Equal(t, wm, s.Watermark())
	assert.Len(t, s.Ticks(), 1)
}

func TestPollFiltersReplayedBoundaryTicks(t *testing.T) {
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	dup := tick(base.Add(time.Second), 1.10, 1.12, 1)
	term := &fakeTerminal{batches: [][]types.Tick{
		{dup},
		{dup, tick(base.Add(2*time.Second), 1.11, 1.13, 1)},
	}}
	s := newTestStream(t, term, nil)
	ctx := context.Background()

	_, err := s.Poll(ctx)
	require.NoError(t, err)

	fresh, err := s.Poll(ctx)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, base.Add(2*time.Second).UnixMilli(), fresh[0].TimeMsc)
	assert.Len(t, s.Ticks(), 2)
}

func TestPollErrorLeavesStateUntouched(t *testing.T) {
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	term := &fakeTerminal{batches: [][]types.Tick{
		{tick(base.Add(time.Second), 1.10, 1.12, 1)},
	}}
	s := newTestStream(t, term, nil)
	ctx := context.Background()

	_, err := s.Poll(ctx)
	require.NoError(t, err)
	wm := s.Watermark()

	term.mu.Lock()
	term.tickErr = errors.New("terminal gone")
	term.mu.Unlock()

	_, err = s.Poll(ctx)
	assert.Error(t, err)
	assert.Equal(t, wm, s.Watermark())
	assert.Len(t, s.Ticks(), 1)
}

func TestPollBuildsBarsFromTicks(t *testing.T) {
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	term := &fakeTerminal{batches: [][]types.Tick{
		{
			tick(base.Add(1*time.Second), 1.10, 1.12, 2),
			tick(base.Add(59*time.Second), 1.14, 1.16, 3),
		},
		{tick(base.Add(62*time.Second), 1.20, 1.22, 1)},
	}}
	s := newTestStream(t, term, func(p *Params) {
		p.Timeframe = types.M1
		p.Source = SourceTicks
	})
	ctx := context.Background()

	_, err := s.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, s.Bars(), "period still open")

	_, err = s.Poll(ctx)
	require.NoError(t, err)

	bars := s.Bars()
	require.Len(t, bars, 1)
	assert.Equal(t, base, bars[0].Time)
	assert.InDelta(t, 1.11, bars[0].Open, 1e-9)
	assert.InDelta(t, 1.15, bars[0].Close, 1e-9)
	assert.Equal(t, int64(2), bars[0].TickVolume)
}

func TestPollFetchesBrokerBarVerbatim(t *testing.T) {
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	official := types.Bar{Time: base, Open: 1.1, High: 1.2, Low: 1.0, Close: 1.15, TickVolume: 42, Spread: 3, RealVolume: 7}
	term := &fakeTerminal{
		batches: [][]types.Tick{
			{tick(base.Add(time.Second), 1.10, 1.12, 1)},
			{tick(base.Add(61*time.Second), 1.11, 1.13, 1)},
		},
		barAt: map[int64]types.Bar{base.Unix(): official},
	}
	s := newTestStream(t, term, func(p *Params) {
		p.Timeframe = types.M1
		p.Source = SourceBroker
	})
	ctx := context.Background()

	_, err := s.Poll(ctx)
	require.NoError(t, err)
	_, err = s.Poll(ctx)
	require.NoError(t, err)

	bars := s.Bars()
	require.Len(t, bars, 1)
	assert.Equal(t, official, bars[0], "broker bar stored verbatim, not recomputed")
	assert.Equal(t, []time.Time{base}, term.barCalls)
}

func TestPollRetriesUnfinalizedBrokerBar(t *testing.T) {
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	official := types.Bar{Time: base, Open: 1.1, Close: 1.15, TickVolume: 5}
	term := &fakeTerminal{
		batches: [][]types.Tick{
			{tick(base.Add(time.Second), 1.10, 1.12, 1)},
			{tick(base.Add(61*time.Second), 1.11, 1.13, 1)},
			{tick(base.Add(70*time.Second), 1.12, 1.14, 1)},
		},
		barAt:     map[int64]types.Bar{base.Unix(): official},
		barNotYet: map[int64]bool{base.Unix(): true},
	}
	s := newTestStream(t, term, func(p *Params) {
		p.Timeframe = types.M1
		p.Source = SourceBroker
	})
	ctx := context.Background()

	_, err := s.Poll(ctx)
	require.NoError(t, err)
	_, err = s.Poll(ctx)
	require.NoError(t, err)
	assert.Empty(t, s.Bars(), "broker has not finalized the bar yet")

	// Broker finalizes; the next poll's retry picks it up.
	term.mu.Lock()
	term.barNotYet[base.Unix()] = false
	term.mu.Unlock()

	_, err = s.Poll(ctx)
	require.NoError(t, err)
	bars := s.Bars()
	require.Len(t, bars, 1)
	assert.Equal(t, official, bars[0])
	assert.Equal(t, []time.Time{base, base}, term.barCalls)
}

func TestStartStopResumeWithoutDuplicates(t *testing.T) {
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	term := &fakeTerminal{batches: [][]types.Tick{
		{tick(base.Add(time.Second), 1.10, 1.12, 1)},
		{tick(base.Add(2*time.Second), 1.11, 1.13, 1)},
	}}
	s := newTestStream(t, term, nil)
	ctx := context.Background()

	var mu sync.Mutex
	var received []types.Tick
	cb := func(batch []types.Tick) {
		mu.Lock()
		received = append(received, batch...)
		mu.Unlock()
	}

	require.NoError(t, s.Start(ctx, cb))
	require.NoError(t, s.Start(ctx, cb), "second Start is a no-op")

	require.Eventually(t, func() bool {
		return s.Watermark() == base.Add(time.Second).UnixMilli() ||
			s.Watermark() == base.Add(2*time.Second).UnixMilli()
	}, time.Second, 5*time.Millisecond)
	s.Stop(ctx)

	wm := s.Watermark()
	require.NoError(t, s.Start(ctx, cb))
	require.Eventually(t, func() bool {
		return s.Watermark() == base.Add(2*time.Second).UnixMilli()
	}, time.Second, 5*time.Millisecond)
	s.Stop(ctx)
	s.Stop(ctx) // repeated Stop is safe

	assert.GreaterOrEqual(t, s.Watermark(), wm)
	assert.Equal(t, 1, term.initCalls, "session survives stop/start")

	mu.Lock()
	defer mu.Unlock()
	seen := map[int64]int{}
	for _, tk := range received {
		seen[tk.TimeMsc]++
	}
	for msc, n := range seen {
		assert.Equal(t, 1, n, "tick %d delivered more than once", msc)
	}
}

func TestCallbackPanicDoesNotKillStream(t *testing.T) {
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	term := &fakeTerminal{batches: [][]types.Tick{
		{tick(base.Add(time.Second), 1.10, 1.12, 1)},
		{tick(base.Add(2*time.Second), 1.11, 1.13, 1)},
	}}
	s := newTestStream(t, term, nil)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx, func(batch []types.Tick) {
		panic("consumer bug")
	}))
	require.Eventually(t, func() bool {
		return s.Watermark() == base.Add(2*time.Second).UnixMilli()
	}, time.Second, 5*time.Millisecond)
	s.Stop(ctx)

	assert.Len(t, s.Ticks(), 2)
}

func TestSnapshotsNeverObservePartialBatch(t *testing.T) {
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	const batchSize = 3
	var batches [][]types.Tick
	msc := 0
	for i := 0; i < 200; i++ {
		var batch []types.Tick
		for j := 0; j < batchSize; j++ {
			msc++
			batch = append(batch, tick(base.Add(time.Duration(msc)*time.Millisecond), 1.10, 1.12, 1))
		}
		batches = append(batches, batch)
	}
	total := msc

	term := &fakeTerminal{batches: batches}
	s := newTestStream(t, term, func(p *Params) {
		p.PollInterval = time.Millisecond
		p.RollingTicks = total
	})
	ctx := context.Background()
	require.NoError(t, s.Start(ctx, nil))
	defer s.Stop(ctx)

	// Batches are appended and the watermark advanced under one critical
	// section, so a reader must only ever see whole batches: the snapshot
	// is a contiguous prefix of the feed and the watermark sits on a batch
	// boundary.
	deadline := time.After(5 * time.Second)
	for {
		snap := s.Ticks()
		require.Zero(t, len(snap)%batchSize, "snapshot cut a batch in half")
		for i, tk := range snap {
			require.Equal(t, base.UnixMilli()+int64(i+1), tk.TimeMsc, "snapshot is not a contiguous prefix")
		}
		if wm := s.Watermark(); wm != 0 {
			require.Zero(t, (wm-base.UnixMilli())%batchSize, "watermark off a batch boundary")
		}

		if len(snap) == total {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("stream never caught up: %d of %d ticks", len(snap), total)
		default:
		}
	}
}

// blockingTerminal parks TicksSince until the poll context is cancelled,
// pinning a fetch in flight.
type blockingTerminal struct {
	fakeTerminal
	once     sync.Once
	fetching chan struct{}
}

func (b *blockingTerminal) TicksSince(ctx context.Context, symbol string, afterMsc int64) ([]types.Tick, error) {
	b.once.Do(func() { close(b.fetching) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestStopDuringFetchKeepsSessionUp(t *testing.T) {
	term := &blockingTerminal{fetching: make(chan struct{})}
	s, err := New(term, Params{
		Symbol:       "EURUSD",
		PollInterval: 5 * time.Millisecond,
		RollingTicks: 10,
		RollingBars:  10,
	})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx, nil))
	select {
	case <-term.fetching:
	case <-time.After(time.Second):
		t.Fatal("fetch never started")
	}
	s.Stop(ctx)

	term.mu.Lock()
	defer term.mu.Unlock()
	assert.Equal(t, 0, term.shutdownCalls, "a plain Stop must not tear the terminal session down")
	assert.Equal(t, 1, term.initCalls)
}

func TestStopFromCallback(t *testing.T) {
	base := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	term := &fakeTerminal{batches: [][]types.Tick{
		{tick(base.Add(time.Second), 1.10, 1.12, 1)},
	}}
	s := newTestStream(t, term, nil)
	ctx := context.Background()

	stopped := make(chan struct{})
	require.NoError(t, s.Start(ctx, func(batch []types.Tick) {
		s.Stop(ctx)
		close(stopped)
	}))

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop from callback deadlocked")
	}
	assert.Equal(t, base.Add(time.Second).UnixMilli(), s.Watermark())
}
