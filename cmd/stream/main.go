package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mt5stream/internal/interfaces"
	"mt5stream/internal/logger"
	"mt5stream/internal/store"
	"mt5stream/internal/stream"
	"mt5stream/internal/stream/streamobs"
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

	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}
	cfg, err := store.LoadConfig(configPath)
	must(err)

	must(logger.Init())
	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	term, err := buildTerminal(cfg)
	must(err)
	term = terminalobs.Wrap(term)

	s, err := buildStream(cfg, term)
	must(err)

	if cfg.Mode == "DRY_RUN" {
		logger.Warn(ctx, "Running in DRY_RUN mode - ticks are simulated")
	}

	must(s.Start(ctx, func(ticks []types.Tick) {
		b, _ := json.Marshal(ticks)
		fmt.Println(string(b))
	}))

	summary := time.NewTicker(30 * time.Second)
	defer summary.Stop()

	logger.Info(ctx, "Streaming", "symbol", cfg.Symbol, "config", configPath)
	for {
		select {
		case <-summary.C:
			bars := s.Bars()
			logger.Info(ctx, "Buffer summary",
				"symbol", cfg.Symbol,
				"ticks", len(s.Ticks()),
				"bars", len(bars),
				"watermark", s.Watermark(),
			)
			if len(bars) > 0 {
				last := bars[len(bars)-1]
				logger.Info(ctx, "Last closed bar",
					"time", last.Time,
					"open", last.Open,
					"high", last.High,
					"low", last.Low,
					"close", last.Close,
					"tick_volume", last.TickVolume,
				)
			}
		case <-ctx.Done():
			// ctx is already cancelled; give shutdown its own context so
			// the trace flush is not cut short.
			shutCtx := context.Background()
			logger.Info(shutCtx, "Shutting down...")
			s.Stop(shutCtx)
			_ = trace.Shutdown(shutCtx)
			return
		}
	}
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

func buildStream(cfg *store.Config, term interfaces.Terminal) (interfaces.Stream, error) {
	p := stream.Params{
		Symbol:        cfg.Symbol,
		PollInterval:  cfg.PollInterval(),
		RollingTicks:  cfg.RollingTicks,
		RollingBars:   cfg.RollingBars,
		CallbackQueue: cfg.CallbackQueue,
	}
	loc, err := cfg.BrokerLocation()
	if err != nil {
		return nil, err
	}
	p.Location = loc
	if cfg.BarsEnabled() {
		tf, err := cfg.BarTimeframe()
		if err != nil {
			return nil, err
		}
		p.Timeframe = tf
		src, ok := stream.ParseBarSource(cfg.Bars.Source)
		if !ok {
			return nil, fmt.Errorf("unknown bar source %q", cfg.Bars.Source)
		}
		p.Source = src
	}
	s, err := stream.New(term, p)
	if err != nil {
		return nil, err
	}
	return streamobs.Wrap(s), nil
}
