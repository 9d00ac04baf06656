// Package sim is the DRY_RUN terminal: a deterministic random-walk tick
// source with an in-memory position book, so the full stream and
// executor surface runs without a terminal installation.
package sim

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"mt5stream/internal/interfaces"
	"mt5stream/internal/types"
)

const (
	defaultStartPrice = 1000.0
	defaultSpread     = 0.5
	maxHistory        = 200000
)

// Params configures the simulated terminal.
type Params struct {
	StartPrice   float64 // default 1000
	Spread       float64 // bid/ask distance, default 0.5
	TicksPerPoll int     // max synthetic ticks per TicksSince call, default 3
	Seed         int64   // 0 = seeded from the clock
}

// Terminal implements interfaces.Terminal against synthetic data.
type Terminal struct {
	p Params

	mu          sync.Mutex
	rng         *rand.Rand
	price       float64
	lastMsc     int64
	history     []types.Tick
	positions   map[int64]types.Position
	nextTicket  int64
	nextDeal    int64
	initialized bool
}

var _ interfaces.Terminal = (*Terminal)(nil)

func New(p Params) *Terminal {
	if p.StartPrice == 0 {
		p.StartPrice = defaultStartPrice
	}
	if p.Spread == 0 {
		p.Spread = defaultSpread
	}
	if p.TicksPerPoll == 0 {
		p.TicksPerPoll = 3
	}
	seed := p.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Terminal{
		p:          p,
		rng:        rand.New(rand.NewSource(seed)),
		price:      p.StartPrice,
		positions:  map[int64]types.Position{},
		nextTicket: 1000,
		nextDeal:   5000,
	}
}

func (s *Terminal) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = true
	return nil
}

func (s *Terminal) EnsureSymbol(ctx context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return fmt.Errorf("sim: not initialized")
	}
	return nil
}

func (s *Terminal) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = false
	return nil
}

// step advances the random walk and records one tick. Caller holds mu.
func (s *Terminal) step(now time.Time) types.Tick {
	s.price += (s.rng.Float64() - 0.5) * 2
	if s.price < 1 {
		s.price = 1
	}
	msc := now.UnixMilli()
	if msc <= s.lastMsc {
		msc = s.lastMsc + 1
	}
	s.lastMsc = msc
	t := types.Tick{
		Time:    time.UnixMilli(msc).UTC(),
		Bid:     s.price - s.p.Spread/2,
		Ask:     s.price + s.p.Spread/2,
		Last:    s.price,
		Volume:  1 + s.rng.Int63n(100),
		TimeMsc: msc,
	}
	s.history = append(s.history, t)
	if len(s.history) > maxHistory {
		s.history = s.history[len(s.history)-maxHistory:]
	}
	return t
}

func (s *Terminal) LastTick(ctx context.Context, symbol string) (types.Tick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return types.Tick{}, fmt.Errorf("sim: not initialized")
	}
	return s.step(time.Now()), nil
}

func (s *Terminal) TicksSince(ctx context.Context, symbol string, afterMsc int64) ([]types.Tick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, fmt.Errorf("sim: not initialized")
	}

	n := 1 + s.rng.Intn(s.p.TicksPerPoll)
	now := time.Now()
	for i := 0; i < n; i++ {
		s.step(now)
	}

	idx := sort.Search(len(s.history), func(i int) bool {
		return s.history[i].TimeMsc > afterMsc
	})
	out := make([]types.Tick, len(s.history)-idx)
	copy(out, s.history[idx:])
	return out, nil
}

// BarAt aggregates the retained synthetic tick history over the period
// window, standing in for the broker's official record.
func (s *Terminal) BarAt(ctx context.Context, symbol string, tf types.Timeframe, start time.Time) (types.Bar, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return types.Bar{}, false, fmt.Errorf("sim: not initialized")
	}

	end := start.Add(tf.Duration())
	bar := types.Bar{Time: start, Spread: int(s.p.Spread * 100)}
	found := false
	for _, t := range s.history {
		if t.Time.Before(start) || !t.Time.Before(end) {
			continue
		}
		if !found {
			bar.Open, bar.High, bar.Low = t.Last, t.Last, t.Last
			found = true
		}
		if t.Last > bar.High {
			bar.High = t.Last
		}
		if t.Last < bar.Low {
			bar.Low = t.Last
		}
		bar.Close = t.Last
		bar.TickVolume++
		bar.RealVolume += t.Volume
	}
	if !found {
		return types.Bar{}, false, nil
	}
	return bar, true, nil
}

// SendOrder simulates immediate fills. Deal orders fill at the current
// bid/ask and update the position book; pending orders are acknowledged
// but not tracked. Rejections use the retcode field, never an error, to
// match terminal behavior.
func (s *Terminal) SendOrder(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return types.OrderResult{}, fmt.Errorf("sim: not initialized")
	}

	tick := s.step(time.Now())
	res := types.OrderResult{
		Retcode:   types.RetcodeDone,
		Volume:    req.Volume,
		Bid:       tick.Bid,
		Ask:       tick.Ask,
		Comment:   "sim",
		RequestID: s.lastMsc,
	}

	if req.Action == types.ActionPending {
		s.nextTicket++
		res.Order = s.nextTicket
		res.Price = req.Price
		return res, nil
	}

	switch req.Type {
	case types.OrderBuy:
		res.Price = tick.Ask
	case types.OrderSell:
		res.Price = tick.Bid
	default:
		res.Retcode = 10013 // invalid request: pending type on a deal action
		return res, nil
	}

	s.nextDeal++
	res.Deal = s.nextDeal

	if req.Position != 0 {
		pos, ok := s.positions[req.Position]
		if !ok {
			res.Retcode = 10013
			res.Comment = "position not found"
			return res, nil
		}
		if req.Volume >= pos.Volume {
			delete(s.positions, req.Position)
		} else {
			pos.Volume -= req.Volume
			s.positions[req.Position] = pos
		}
		return res, nil
	}

	s.nextTicket++
	ptype := types.PositionBuy
	if req.Type == types.OrderSell {
		ptype = types.PositionSell
	}
	s.positions[s.nextTicket] = types.Position{
		Ticket:    s.nextTicket,
		Symbol:    req.Symbol,
		Type:      ptype,
		Volume:    req.Volume,
		PriceOpen: res.Price,
		SL:        req.SL,
		TP:        req.TP,
		Time:      tick.Time,
	}
	res.Order = s.nextTicket
	return res, nil
}

func (s *Terminal) Positions(ctx context.Context, symbol string) ([]types.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return nil, fmt.Errorf("sim: not initialized")
	}
	out := make([]types.Position, 0, len(s.positions))
	for _, p := range s.positions {
		if symbol != "" && p.Symbol != symbol {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out, nil
}
