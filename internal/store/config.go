package store

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"mt5stream/internal/types"
)

type Config struct {
	Mode           string `yaml:"mode"`
	Symbol         string `yaml:"symbol"`
	PollIntervalMs int    `yaml:"poll_interval_ms"`
	RollingTicks   int    `yaml:"rolling_ticks"`
	RollingBars    int    `yaml:"rolling_bars"`
	BrokerTimezone string `yaml:"broker_timezone"`
	CallbackQueue  int    `yaml:"callback_queue"`
	Bars           struct {
		Timeframe string `yaml:"timeframe"`
		Source    string `yaml:"source"`
	} `yaml:"bars"`
	Terminal struct {
		BridgeURL    string `yaml:"bridge_url"`
		TerminalPath string `yaml:"terminal_path"`
		Login        int64  `yaml:"login"`
		Server       string `yaml:"server"`
	} `yaml:"terminal"`
	Executor struct {
		Magic     int `yaml:"magic"`
		Deviation int `yaml:"deviation"`
	} `yaml:"executor"`
}

// PollInterval returns the configured cadence as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// BarsEnabled reports whether bar aggregation is configured.
func (c *Config) BarsEnabled() bool {
	return c.Bars.Timeframe != ""
}

// BarTimeframe parses the configured timeframe. Only meaningful when
// BarsEnabled.
func (c *Config) BarTimeframe() (types.Timeframe, error) {
	return types.ParseTimeframe(c.Bars.Timeframe)
}

// BrokerLocation resolves the configured broker timezone, defaulting to
// UTC. Timestamps from the terminal are already broker-local; the
// location only matters for flooring period boundaries.
func (c *Config) BrokerLocation() (*time.Location, error) {
	if c.BrokerTimezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.BrokerTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid broker_timezone %q: %w", c.BrokerTimezone, err)
	}
	return loc, nil
}

func (c *Config) Validate() error {
	if c.Mode != "DRY_RUN" && c.Mode != "LIVE" {
		return fmt.Errorf("invalid mode '%s': must be 'DRY_RUN' or 'LIVE'", c.Mode)
	}
	if c.Symbol == "" {
		return errors.New("symbol cannot be empty")
	}
	if c.PollIntervalMs <= 0 {
		return fmt.Errorf("poll_interval_ms must be positive, got %d", c.PollIntervalMs)
	}
	if c.RollingTicks < 1 {
		return fmt.Errorf("rolling_ticks must be >= 1, got %d", c.RollingTicks)
	}
	if c.RollingBars < 1 {
		return fmt.Errorf("rolling_bars must be >= 1, got %d", c.RollingBars)
	}
	if c.CallbackQueue < 1 {
		return fmt.Errorf("callback_queue must be >= 1, got %d", c.CallbackQueue)
	}
	if c.Bars.Timeframe != "" {
		if _, err := types.ParseTimeframe(c.Bars.Timeframe); err != nil {
			return err
		}
		if c.Bars.Source != "TICKS" && c.Bars.Source != "BROKER" {
			return fmt.Errorf("bars.source must be 'TICKS' or 'BROKER', got '%s'", c.Bars.Source)
		}
	}
	if _, err := c.BrokerLocation(); err != nil {
		return err
	}
	if c.Mode == "LIVE" && c.Terminal.BridgeURL == "" {
		return errors.New("terminal.bridge_url is required in LIVE mode")
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	if c.Mode == "" {
		c.Mode = "DRY_RUN"
	}
	if c.PollIntervalMs == 0 {
		c.PollIntervalMs = 250
	}
	if c.RollingTicks == 0 {
		c.RollingTicks = 10000
	}
	if c.RollingBars == 0 {
		c.RollingBars = 2000
	}
	if c.CallbackQueue == 0 {
		c.CallbackQueue = 16
	}
	if c.Bars.Timeframe != "" && c.Bars.Source == "" {
		c.Bars.Source = "BROKER"
	}
	if c.Executor.Magic == 0 {
		c.Executor.Magic = 42
	}
	if c.Executor.Deviation == 0 {
		c.Executor.Deviation = 20
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &c, nil
}
