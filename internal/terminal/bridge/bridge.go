// Package bridge talks to a local MT5 gateway over HTTP/JSON. The
// gateway owns the terminal process (IPC, launch, login); this client is
// a thin RPC layer mapping the gateway's wire shapes onto the adapter's
// types.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"mt5stream/internal/interfaces"
	"mt5stream/internal/types"
)

const defaultTimeout = 30 * time.Second

// Params configures the gateway connection and the credentials passed to
// the terminal on initialize.
type Params struct {
	BaseURL      string
	TerminalPath string // optional, auto-launches the terminal binary
	Login        int64  // optional, with Password and Server
	Password     string
	Server       string
	Timeout      time.Duration
}

// Client is the live Terminal implementation.
type Client struct {
	p          Params
	httpClient *http.Client
}

var _ interfaces.Terminal = (*Client)(nil)

func New(p Params) (*Client, error) {
	if p.BaseURL == "" {
		return nil, errors.New("bridge: missing base url")
	}
	if p.Timeout == 0 {
		p.Timeout = defaultTimeout
	}
	return &Client{
		p:          p,
		httpClient: &http.Client{Timeout: p.Timeout},
	}, nil
}

type wireTick struct {
	Time    int64   `json:"time"`
	Bid     float64 `json:"bid"`
	Ask     float64 `json:"ask"`
	Last    float64 `json:"last"`
	Volume  int64   `json:"volume"`
	TimeMsc int64   `json:"time_msc"`
}

func (w wireTick) toTick() types.Tick {
	return types.Tick{
		Time:    time.Unix(w.Time, 0).UTC(),
		Bid:     w.Bid,
		Ask:     w.Ask,
		Last:    w.Last,
		Volume:  w.Volume,
		TimeMsc: w.TimeMsc,
	}
}

type wireBar struct {
	Time       int64   `json:"time"`
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	TickVolume int64   `json:"tick_volume"`
	Spread     int     `json:"spread"`
	RealVolume int64   `json:"real_volume"`
}

func (w wireBar) toBar() types.Bar {
	return types.Bar{
		Time:       time.Unix(w.Time, 0).UTC(),
		Open:       w.Open,
		High:       w.High,
		Low:        w.Low,
		Close:      w.Close,
		TickVolume: w.TickVolume,
		Spread:     w.Spread,
		RealVolume: w.RealVolume,
	}
}

type wirePosition struct {
	Ticket    int64   `json:"ticket"`
	Symbol    string  `json:"symbol"`
	Type      int     `json:"type"`
	Volume    float64 `json:"volume"`
	PriceOpen float64 `json:"price_open"`
	SL        float64 `json:"sl"`
	TP        float64 `json:"tp"`
	Profit    float64 `json:"profit"`
	Time      int64   `json:"time"`
}

func (w wirePosition) toPosition() types.Position {
	return types.Position{
		Ticket:    w.Ticket,
		Symbol:    w.Symbol,
		Type:      types.PositionType(w.Type),
		Volume:    w.Volume,
		PriceOpen: w.PriceOpen,
		SL:        w.SL,
		TP:        w.TP,
		Profit:    w.Profit,
		Time:      time.Unix(w.Time, 0).UTC(),
	}
}

type ackResponse struct {
	OK        bool `json:"ok"`
	LastError int  `json:"last_error"`
}

// Initialize brings up the terminal session, auto-launching and logging
// in when path and credentials are configured. Idempotent on the gateway
// side.
func (c *Client) Initialize(ctx context.Context) error {
	req := struct {
		Path     string `json:"path,omitempty"`
		Login    int64  `json:"login,omitempty"`
		Password string `json:"password,omitempty"`
		Server   string `json:"server,omitempty"`
	}{
		Path:     c.p.TerminalPath,
		Login:    c.p.Login,
		Password: c.p.Password,
		Server:   c.p.Server,
	}
	var resp ackResponse
	if err := c.post(ctx, "/initialize", req, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return &ConnectionError{Code: resp.LastError}
	}
	return nil
}

// EnsureSymbol selects the symbol in Market Watch so the terminal feeds
// its ticks.
func (c *Client) EnsureSymbol(ctx context.Context, symbol string) error {
	req := struct {
		Symbol string `json:"symbol"`
		Enable bool   `json:"enable"`
	}{Symbol: symbol, Enable: true}
	var resp ackResponse
	if err := c.post(ctx, "/symbol_select", req, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return &SymbolError{Symbol: symbol}
	}
	return nil
}

func (c *Client) LastTick(ctx context.Context, symbol string) (types.Tick, error) {
	req := struct {
		Symbol string `json:"symbol"`
	}{Symbol: symbol}
	var resp struct {
		Tick *wireTick `json:"tick"`
	}
	if err := c.post(ctx, "/symbol_info_tick", req, &resp); err != nil {
		return types.Tick{}, err
	}
	if resp.Tick == nil {
		return types.Tick{}, fmt.Errorf("no tick for symbol %s", symbol)
	}
	return resp.Tick.toTick(), nil
}

func (c *Client) TicksSince(ctx context.Context, symbol string, afterMsc int64) ([]types.Tick, error) {
	req := struct {
		Symbol   string `json:"symbol"`
		AfterMsc int64  `json:"after_msc"`
	}{Symbol: symbol, AfterMsc: afterMsc}
	var resp struct {
		Ticks []wireTick `json:"ticks"`
	}
	if err := c.post(ctx, "/ticks_since", req, &resp); err != nil {
		return nil, err
	}
	out := make([]types.Tick, 0, len(resp.Ticks))
	for _, w := range resp.Ticks {
		out = append(out, w.toTick())
	}
	return out, nil
}

func (c *Client) BarAt(ctx context.Context, symbol string, tf types.Timeframe, start time.Time) (types.Bar, bool, error) {
	req := struct {
		Symbol    string `json:"symbol"`
		Timeframe string `json:"timeframe"`
		Time      int64  `json:"time"`
	}{Symbol: symbol, Timeframe: tf.String(), Time: start.Unix()}
	var resp struct {
		Bar *wireBar `json:"bar"`
	}
	if err := c.post(ctx, "/bar_at", req, &resp); err != nil {
		return types.Bar{}, false, err
	}
	if resp.Bar == nil {
		return types.Bar{}, false, nil
	}
	return resp.Bar.toBar(), true, nil
}

func (c *Client) SendOrder(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	body := struct {
		Request types.OrderRequest `json:"request"`
	}{Request: req}
	var resp struct {
		Result *types.OrderResult `json:"result"`
	}
	if err := c.post(ctx, "/order_send", body, &resp); err != nil {
		return types.OrderResult{}, err
	}
	if resp.Result == nil {
		return types.OrderResult{}, errors.New("order_send returned no result")
	}
	return *resp.Result, nil
}

func (c *Client) Positions(ctx context.Context, symbol string) ([]types.Position, error) {
	req := struct {
		Symbol string `json:"symbol,omitempty"`
	}{Symbol: symbol}
	var resp struct {
		Positions []wirePosition `json:"positions"`
	}
	if err := c.post(ctx, "/positions_get", req, &resp); err != nil {
		return nil, err
	}
	out := make([]types.Position, 0, len(resp.Positions))
	for _, w := range resp.Positions {
		out = append(out, w.toPosition())
	}
	return out, nil
}

func (c *Client) Shutdown(ctx context.Context) error {
	var resp ackResponse
	return c.post(ctx, "/shutdown", struct{}{}, &resp)
}

type gatewayError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// post sends one JSON RPC to the gateway. Every request carries a fresh
// correlation ID so gateway logs line up with ours.
func (c *Client) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("bridge: encode %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.p.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("bridge: build request %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bridge: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var ge gatewayError
		if json.Unmarshal(body, &ge) == nil && ge.Message != "" {
			return fmt.Errorf("bridge: %s: gateway error %d: %s", path, ge.Code, ge.Message)
		}
		return fmt.Errorf("bridge: %s: unexpected status %d", path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("bridge: decode %s: %w", path, err)
	}
	return nil
}
