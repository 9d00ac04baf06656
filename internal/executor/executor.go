// Package executor shapes market, limit and stop order requests and
// passes them through to the terminal. No local validation: broker-side
// rules are authoritative, and rejections come back in the result's
// retcode rather than as errors.
package executor

import (
	"context"
	"fmt"

	"mt5stream/internal/interfaces"
	"mt5stream/internal/logger"
	"mt5stream/internal/types"
)

const defaultComment = "mt5stream"

// Params configures order tagging.
type Params struct {
	Magic     int // magic number tagging orders from this adapter
	Deviation int // max price deviation in points for execution
}

// OrderOpts carries the optional absolute-price SL/TP and comment.
type OrderOpts struct {
	SL      float64
	TP      float64
	Comment string
}

func (o OrderOpts) comment() string {
	if o.Comment == "" {
		return defaultComment
	}
	return o.Comment
}

// Executor reuses the already-initialized terminal session owned by the
// stream (or the application).
type Executor struct {
	term interfaces.Terminal
	p    Params
}

func New(term interfaces.Terminal, p Params) *Executor {
	if p.Magic == 0 {
		p.Magic = 42
	}
	if p.Deviation == 0 {
		p.Deviation = 20
	}
	return &Executor{term: term, p: p}
}

// MarketBuy places a market buy at the current ask.
func (e *Executor) MarketBuy(ctx context.Context, symbol string, volume float64, opts OrderOpts) (types.OrderResult, error) {
	tick, err := e.term.LastTick(ctx, symbol)
	if err != nil {
		return types.OrderResult{}, fmt.Errorf("market buy %s: %w", symbol, err)
	}
	return e.send(ctx, types.OrderRequest{
		Action:  types.ActionDeal,
		Symbol:  symbol,
		Type:    types.OrderBuy,
		Volume:  volume,
		Price:   tick.Ask,
		Filling: types.FillingIOC,
	}, opts)
}

// MarketSell places a market sell at the current bid.
func (e *Executor) MarketSell(ctx context.Context, symbol string, volume float64, opts OrderOpts) (types.OrderResult, error) {
	tick, err := e.term.LastTick(ctx, symbol)
	if err != nil {
		return types.OrderResult{}, fmt.Errorf("market sell %s: %w", symbol, err)
	}
	return e.send(ctx, types.OrderRequest{
		Action:  types.ActionDeal,
		Symbol:  symbol,
		Type:    types.OrderSell,
		Volume:  volume,
		Price:   tick.Bid,
		Filling: types.FillingIOC,
	}, opts)
}

// BuyLimit places a pending buy limit at price.
func (e *Executor) BuyLimit(ctx context.Context, symbol string, volume, price float64, opts OrderOpts) (types.OrderResult, error) {
	return e.pending(ctx, symbol, types.OrderBuyLimit, volume, price, opts)
}

// SellLimit places a pending sell limit at price.
func (e *Executor) SellLimit(ctx context.Context, symbol string, volume, price float64, opts OrderOpts) (types.OrderResult, error) {
	return e.pending(ctx, symbol, types.OrderSellLimit, volume, price, opts)
}

// BuyStop places a pending buy stop at price.
func (e *Executor) BuyStop(ctx context.Context, symbol string, volume, price float64, opts OrderOpts) (types.OrderResult, error) {
	return e.pending(ctx, symbol, types.OrderBuyStop, volume, price, opts)
}

// SellStop places a pending sell stop at price.
func (e *Executor) SellStop(ctx context.Context, symbol string, volume, price float64, opts OrderOpts) (types.OrderResult, error) {
	return e.pending(ctx, symbol, types.OrderSellStop, volume, price, opts)
}

func (e *Executor) pending(ctx context.Context, symbol string, typ types.OrderType, volume, price float64, opts OrderOpts) (types.OrderResult, error) {
	return e.send(ctx, types.OrderRequest{
		Action: types.ActionPending,
		Symbol: symbol,
		Type:   typ,
		Volume: volume,
		Price:  price,
	}, opts)
}

func (e *Executor) send(ctx context.Context, req types.OrderRequest, opts OrderOpts) (types.OrderResult, error) {
	req.SL = opts.SL
	req.TP = opts.TP
	req.Comment = opts.comment()
	req.Deviation = e.p.Deviation
	req.Magic = e.p.Magic
	req.TimeType = types.TimeGTC

	res, err := e.term.SendOrder(ctx, req)
	if err != nil {
		return types.OrderResult{}, fmt.Errorf("order_send %s %s: %w", req.Type, req.Symbol, err)
	}
	logger.Trade(ctx, req.Symbol, req.Type.String(), req.Volume, res.Price, res.Retcode,
		"deal", res.Deal, "order", res.Order)
	return res, nil
}

// Positions lists open positions, optionally filtered by symbol.
func (e *Executor) Positions(ctx context.Context, symbol string) ([]types.Position, error) {
	return e.term.Positions(ctx, symbol)
}

// ClosePosition closes one position by sending the opposite market order
// for its full volume. The returned result's retcode reports the broker's
// verdict; only DONE means closed.
func (e *Executor) ClosePosition(ctx context.Context, ticket int64) (types.OrderResult, error) {
	positions, err := e.term.Positions(ctx, "")
	if err != nil {
		return types.OrderResult{}, fmt.Errorf("close position %d: %w", ticket, err)
	}
	for _, p := range positions {
		if p.Ticket == ticket {
			return e.closeOne(ctx, p)
		}
	}
	return types.OrderResult{}, fmt.Errorf("close position %d: not found", ticket)
}

func (e *Executor) closeOne(ctx context.Context, p types.Position) (types.OrderResult, error) {
	tick, err := e.term.LastTick(ctx, p.Symbol)
	if err != nil {
		return types.OrderResult{}, fmt.Errorf("close position %d: %w", p.Ticket, err)
	}
	req := types.OrderRequest{
		Action:   types.ActionDeal,
		Symbol:   p.Symbol,
		Volume:   p.Volume,
		Position: p.Ticket,
		Filling:  types.FillingIOC,
	}
	if p.Type == types.PositionBuy {
		req.Type = types.OrderSell
		req.Price = tick.Bid
	} else {
		req.Type = types.OrderBuy
		req.Price = tick.Ask
	}
	return e.send(ctx, req, OrderOpts{SL: p.SL, TP: p.TP, Comment: "close"})
}

// CloseAll closes every open position, optionally filtered by symbol,
// and returns how many the broker reported as DONE. A failed close stops
// the sweep and returns the count so far.
func (e *Executor) CloseAll(ctx context.Context, symbol string) (int, error) {
	positions, err := e.term.Positions(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("close all: %w", err)
	}
	closed := 0
	for _, p := range positions {
		res, err := e.closeOne(ctx, p)
		if err != nil {
			return closed, err
		}
		if res.Done() {
			closed++
		}
	}
	return closed, nil
}
