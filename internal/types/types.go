package types

import (
	"fmt"
	"time"
)

// Tick is a single price update as reported by the terminal. Time is
// broker-local wall clock; TimeMsc is the millisecond timestamp used as
// the polling watermark.
type Tick struct {
	Time    time.Time `json:"time"`
	Bid     float64   `json:"bid"`
	Ask     float64   `json:"ask"`
	Last    float64   `json:"last"`
	Volume  int64     `json:"volume"`
	TimeMsc int64     `json:"time_msc"`
}

// Price returns the tick's trade price when present, falling back to the
// bid/ask midpoint and finally the bid. Instruments without a last-trade
// feed (most FX symbols) only carry bid/ask.
func (t Tick) Price() float64 {
	if t.Last > 0 {
		return t.Last
	}
	if t.Bid > 0 && t.Ask > 0 {
		return (t.Bid + t.Ask) / 2
	}
	return t.Bid
}

// Bar is one closed OHLC period. Time is the period start, aligned to the
// timeframe boundary in broker-local time.
type Bar struct {
	Time       time.Time `json:"time"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	TickVolume int64     `json:"tick_volume"`
	Spread     int       `json:"spread"`
	RealVolume int64     `json:"real_volume"`
}

// Timeframe is the closed set of supported bar intervals.
type Timeframe int

const (
	M1 Timeframe = iota + 1
	M5
	M15
	H1
	D1
)

var timeframeNames = map[Timeframe]string{
	M1:  "M1",
	M5:  "M5",
	M15: "M15",
	H1:  "H1",
	D1:  "D1",
}

var timeframeDurations = map[Timeframe]time.Duration{
	M1:  time.Minute,
	M5:  5 * time.Minute,
	M15: 15 * time.Minute,
	H1:  time.Hour,
	D1:  24 * time.Hour,
}

func (tf Timeframe) String() string {
	if s, ok := timeframeNames[tf]; ok {
		return s
	}
	return fmt.Sprintf("Timeframe(%d)", int(tf))
}

// Duration returns the fixed length of one period.
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

// Valid reports whether tf is one of the supported timeframes.
func (tf Timeframe) Valid() bool {
	_, ok := timeframeDurations[tf]
	return ok
}

// ParseTimeframe maps a config string ("M1", "M5", "M15", "H1", "D1") to a
// Timeframe. Unrecognized values are rejected here, at construction time,
// rather than at first use.
func ParseTimeframe(s string) (Timeframe, error) {
	for tf, name := range timeframeNames {
		if name == s {
			return tf, nil
		}
	}
	return 0, fmt.Errorf("unsupported timeframe %q (want M1, M5, M15, H1 or D1)", s)
}

// TradeAction selects the terminal's order pipeline.
type TradeAction int

const (
	ActionDeal    TradeAction = 1 // immediate execution at market
	ActionPending TradeAction = 5 // pending order
)

// OrderType mirrors the terminal's order type codes.
type OrderType int

const (
	OrderBuy OrderType = iota
	OrderSell
	OrderBuyLimit
	OrderSellLimit
	OrderBuyStop
	OrderSellStop
)

func (t OrderType) String() string {
	switch t {
	case OrderBuy:
		return "BUY"
	case OrderSell:
		return "SELL"
	case OrderBuyLimit:
		return "BUY_LIMIT"
	case OrderSellLimit:
		return "SELL_LIMIT"
	case OrderBuyStop:
		return "BUY_STOP"
	case OrderSellStop:
		return "SELL_STOP"
	}
	return fmt.Sprintf("OrderType(%d)", int(t))
}

// Filling and time-in-force codes passed through to the terminal.
const (
	FillingIOC = 1
	TimeGTC    = 0
)

// OrderRequest is the order shape handed to the terminal unvalidated;
// broker-side rules are authoritative.
type OrderRequest struct {
	Action    TradeAction `json:"action"`
	Symbol    string      `json:"symbol"`
	Type      OrderType   `json:"type"`
	Volume    float64     `json:"volume"`
	Price     float64     `json:"price"`
	SL        float64     `json:"sl"`
	TP        float64     `json:"tp"`
	Deviation int         `json:"deviation"`
	Magic     int         `json:"magic"`
	Comment   string      `json:"comment"`
	Filling   int         `json:"type_filling"`
	TimeType  int         `json:"type_time"`
	// Position, when set, closes (or reduces) that open position instead
	// of opening a new one.
	Position int64 `json:"position,omitempty"`
}

// RetcodeDone is the terminal's success return code for order_send.
const RetcodeDone = 10009

// OrderResult is the terminal's order_send response, passed through
// verbatim. Failure is a retcode, not an error.
type OrderResult struct {
	Retcode         int     `json:"retcode"`
	Deal            int64   `json:"deal"`
	Order           int64   `json:"order"`
	Volume          float64 `json:"volume"`
	Price           float64 `json:"price"`
	Bid             float64 `json:"bid"`
	Ask             float64 `json:"ask"`
	Comment         string  `json:"comment"`
	RequestID       int64   `json:"request_id"`
	RetcodeExternal int     `json:"retcode_external"`
}

// Done reports whether the terminal accepted and executed the request.
func (r OrderResult) Done() bool {
	return r.Retcode == RetcodeDone
}

// PositionType is the direction of an open position.
type PositionType int

const (
	PositionBuy PositionType = iota
	PositionSell
)

// Position is an open position as listed by the terminal.
type Position struct {
	Ticket    int64        `json:"ticket"`
	Symbol    string       `json:"symbol"`
	Type      PositionType `json:"type"`
	Volume    float64      `json:"volume"`
	PriceOpen float64      `json:"price_open"`
	SL        float64      `json:"sl"`
	TP        float64      `json:"tp"`
	Profit    float64      `json:"profit"`
	Time      time.Time    `json:"time"`
}
