// One-shot order tool: place a market, limit or stop order, list open
// positions, or close them, against the configured terminal.
//
//	trade -symbol EURUSD -side buy -volume 0.1
//	trade -symbol EURUSD -side sell -type limit -price 1.105 -volume 0.1
//	trade -positions
//	trade -close-all -symbol EURUSD
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"mt5stream/internal/executor"
	"mt5stream/internal/interfaces"
	"mt5stream/internal/logger"
	"mt5stream/internal/store"
	"mt5stream/internal/terminal/bridge"
	"mt5stream/internal/terminal/sim"
	"mt5stream/internal/terminal/terminalobs"
	"mt5stream/internal/trace"
	"mt5stream/internal/types"
)

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	_ = godotenv.Load()

	var (
		configPath = flag.String("config", "config.yaml", "config file")
		symbol     = flag.String("symbol", "", "trading symbol (defaults to config symbol)")
		side       = flag.String("side", "", "buy or sell")
		orderType  = flag.String("type", "market", "market, limit or stop")
		volume     = flag.Float64("volume", 0, "order volume in lots")
		price      = flag.Float64("price", 0, "pending order price")
		sl         = flag.Float64("sl", 0, "stop loss (absolute price)")
		tp         = flag.Float64("tp", 0, "take profit (absolute price)")
		comment    = flag.String("comment", "", "order comment")
		positions  = flag.Bool("positions", false, "list open positions and exit")
		closeAll   = flag.Bool("close-all", false, "close all open positions and exit")
	)
	flag.Parse()

	cfg, err := store.LoadConfig(*configPath)
	must(err)
	must(logger.Init())
	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}

	if *symbol == "" {
		*symbol = cfg.Symbol
	}

	ctx := context.Background()
	term, err := buildTerminal(cfg)
	must(err)
	term = terminalobs.Wrap(term)
	must(term.Initialize(ctx))
	defer func() {
		_ = term.Shutdown(ctx)
		_ = trace.Shutdown(ctx)
	}()

	exec := executor.New(term, executor.Params{
		Magic:     cfg.Executor.Magic,
		Deviation: cfg.Executor.Deviation,
	})

	switch {
	case *positions:
		ps, err := exec.Positions(ctx, *symbol)
		must(err)
		printJSON(ps)
	case *closeAll:
		n, err := exec.CloseAll(ctx, *symbol)
		must(err)
		fmt.Printf("closed %d position(s)\n", n)
	default:
		if *side != "buy" && *side != "sell" {
			log.Fatal("need -side buy|sell (or -positions / -close-all)")
		}
		if *volume <= 0 {
			log.Fatal("need -volume > 0")
		}
		must(term.EnsureSymbol(ctx, *symbol))
		res, err := place(ctx, exec, *symbol, *side, *orderType, *volume, *price,
			executor.OrderOpts{SL: *sl, TP: *tp, Comment: *comment})
		must(err)
		printJSON(res)
		if !res.Done() {
			os.Exit(1)
		}
	}
}

func place(ctx context.Context, exec *executor.Executor, symbol, side, orderType string, volume, price float64, opts executor.OrderOpts) (types.OrderResult, error) {
	buy := side == "buy"
	switch orderType {
	case "market":
		if buy {
			return exec.MarketBuy(ctx, symbol, volume, opts)
		}
		return exec.MarketSell(ctx, symbol, volume, opts)
	case "limit":
		if price <= 0 {
			return types.OrderResult{}, fmt.Errorf("limit order needs -price")
		}
		if buy {
			return exec.BuyLimit(ctx, symbol, volume, price, opts)
		}
		return exec.SellLimit(ctx, symbol, volume, price, opts)
	case "stop":
		if price <= 0 {
			return types.OrderResult{}, fmt.Errorf("stop order needs -price")
		}
		if buy {
			return exec.BuyStop(ctx, symbol, volume, price, opts)
		}
		return exec.SellStop(ctx, symbol, volume, price, opts)
	}
	return types.OrderResult{}, fmt.Errorf("unknown order type %q", orderType)
}

func buildTerminal(cfg *store.Config) (interfaces.Terminal, error) {
	if cfg.Mode == "DRY_RUN" {
		return sim.New(sim.Params{}), nil
	}
	return bridge.New(bridge.Params{
		BaseURL:      cfg.Terminal.BridgeURL,
		TerminalPath: cfg.Terminal.TerminalPath,
		Login:        cfg.Terminal.Login,
		Password:     os.Getenv("MT5_PASSWORD"),
		Server:       cfg.Terminal.Server,
	})
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}
