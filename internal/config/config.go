// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string
	Env         string
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"` // json (default) or console
}

// Exchange describes OKX connectivity. Credentials are normally injected by LoadSecrets.
type Exchange struct {
	Name              string
	BaseURL           string  `yaml:"base_url"`
	WSURL             string  `yaml:"ws_url"`
	Simulated         bool    `yaml:"simulated"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	TimeoutMs         int     `yaml:"timeout_ms"`
	APIKey            string  `yaml:"api_key,omitempty"`
	APISecret         string  `yaml:"api_secret,omitempty"`
	Passphrase        string  `yaml:"passphrase,omitempty"`
}

// Instrument is reference data for one tradable id.
type Instrument struct {
	ID          string  `yaml:"id"`
	Base        string  `yaml:"base,omitempty"`
	Quote       string  `yaml:"quote,omitempty"`
	Kind        string  `yaml:"kind,omitempty"`
	LotSize     float64 `yaml:"lot_size,omitempty"`
	MinNotional float64 `yaml:"min_notional,omitempty"`
	// CtVal is base units per contract for swaps; zero asks the venue.
	CtVal       float64 `yaml:"ct_val,omitempty"`
}

// Risk encodes guard-rails for how much size the engine may take on.
type Risk struct {
	MaxNotionalPerTrade float64 `yaml:"max_notional_per_trade"`
	// MaxPositionValue stops the run once long exposure reaches it; zero disables.
	MaxPositionValue float64 `yaml:"max_position_value"`
}

// SMA configures the moving-average crossover strategy.
type SMA struct {
	ShortWindow   int     `yaml:"short_window"`
	LongWindow    int     `yaml:"long_window"`
	QuotePerTrade float64 `yaml:"quote_per_trade"`
}

// Funding configures the spot/swap funding-rate arbitrage.
type Funding struct {
	SpotInstID        string  `yaml:"spot_inst_id"`
	SwapInstID        string  `yaml:"swap_inst_id"`
	MinFundingRate    float64 `yaml:"min_funding_rate"`
	CloseFundingRate  float64 `yaml:"close_funding_rate"`
	TargetQty         float64 `yaml:"target_qty"`
	PositionSizeQuote float64 `yaml:"position_size_quote"`
	CheckIntervalSecs int     `yaml:"check_interval_secs"`
	CooldownSecs      int     `yaml:"cooldown_secs"`
	RetryAfterSecs    int     `yaml:"retry_after_secs"`
	CloseOnEnd        bool    `yaml:"close_on_end"`
}

// Strategy specifies which strategy is active along with its parameters.
type Strategy struct {
	Mode        string
	Instruments []string `yaml:"instruments"`
	SMA         SMA      `yaml:"sma"`
	Funding     Funding  `yaml:"funding"`
}

// Paper captures simulated account settings.
type Paper struct {
	StartingCash             map[string]float64 `yaml:"starting_cash"`
	StartingCashFromExchange bool               `yaml:"starting_cash_from_exchange"`
	FeeRate                  float64            `yaml:"fee_rate"`
	FillsPath                string             `yaml:"fills_path"`
}

// Feed selects and tunes the market data source.
type Feed struct {
	Source         string  `yaml:"source"` // csv, stub, rest or ws
	CSVPath        string  `yaml:"csv_path"`
	PollIntervalMs int     `yaml:"poll_interval_ms"`
	QueueSize      int     `yaml:"queue_size"`
	Overflow       string  `yaml:"overflow"` // drop_oldest or block
	StubStart      float64 `yaml:"stub_start"`
	StubStep       float64 `yaml:"stub_step"`
}

// Engine tunes the event loop and live order handling.
type Engine struct {
	MaxTicks          int    `yaml:"max_ticks"`
	FillWaitMs        int    `yaml:"fill_wait_ms"`
	OrderPollMs       int    `yaml:"order_poll_ms"`
	ShutdownTimeoutMs int    `yaml:"shutdown_timeout_ms"`
	OnTransient       string `yaml:"on_transient"` // continue or abort
	DryRun            bool   `yaml:"dry_run"`
	RetryAttempts     int    `yaml:"retry_attempts"`
	RetryBaseMs       int    `yaml:"retry_base_ms"`
}

// Journal locates the SQLite order journal; an empty path disables it.
type Journal struct {
	Path string `yaml:"path"`
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App         App          `yaml:"app"`
	Exchange    Exchange     `yaml:"exchange"`
	Instruments []Instrument `yaml:"instruments"`
	Risk        Risk         `yaml:"risk"`
	Strategy    Strategy     `yaml:"strategy"`
	Paper       Paper        `yaml:"paper"`
	Feed        Feed         `yaml:"feed"`
	Engine      Engine       `yaml:"engine"`
	Journal     Journal      `yaml:"journal"`
}

// Load reads a YAML file from disk, hydrates a Config struct and fills defaults.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	config.ApplyDefaults()
	return &config, nil
}

// Save persists a Config struct to disk as YAML. Credentials are never written.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	clean := *cfg
	clean.Exchange.APIKey, clean.Exchange.APISecret, clean.Exchange.Passphrase = "", "", ""
	data, err := yaml.Marshal(&clean)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ApplyDefaults fills unset knobs.
func (c *Config) ApplyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Strategy.Mode == "" {
		c.Strategy.Mode = "sma_cross"
	}
	if c.Paper.FeeRate == 0 {
		c.Paper.FeeRate = 0.0005
	}
	if c.Feed.Source == "" {
		c.Feed.Source = "stub"
	}
	if c.Feed.PollIntervalMs == 0 {
		c.Feed.PollIntervalMs = 1000
	}
	if c.Feed.QueueSize == 0 {
		c.Feed.QueueSize = 1024
	}
	if c.Feed.Overflow == "" {
		c.Feed.Overflow = "drop_oldest"
	}
	if c.Engine.FillWaitMs == 0 {
		c.Engine.FillWaitMs = 10_000
	}
	if c.Engine.OrderPollMs == 0 {
		c.Engine.OrderPollMs = 500
	}
	if c.Engine.ShutdownTimeoutMs == 0 {
		c.Engine.ShutdownTimeoutMs = 10_000
	}
	if c.Engine.OnTransient == "" {
		c.Engine.OnTransient = "continue"
	}
	if c.Strategy.Funding.CheckIntervalSecs == 0 {
		c.Strategy.Funding.CheckIntervalSecs = 300
	}
	if c.Strategy.Funding.CooldownSecs == 0 {
		c.Strategy.Funding.CooldownSecs = 60
	}
}

// InstrumentIDs returns the ids the strategy trades: the explicit strategy list,
// else the funding pair, else every configured instrument.
func (c *Config) InstrumentIDs() []string {
	if len(c.Strategy.Instruments) > 0 {
		return c.Strategy.Instruments
	}
	if isFunding(c.Strategy.Mode) && c.Strategy.Funding.SpotInstID != "" {
		return []string{c.Strategy.Funding.SpotInstID, c.Strategy.Funding.SwapInstID}
	}
	ids := make([]string, 0, len(c.Instruments))
	for _, inst := range c.Instruments {
		ids = append(ids, inst.ID)
	}
	return ids
}

// FillWait is the per-order fill wait timeout.
func (e Engine) FillWait() time.Duration { return ms(e.FillWaitMs) }

// OrderPoll is the delay between live order status queries.
func (e Engine) OrderPoll() time.Duration { return ms(e.OrderPollMs) }

// ShutdownTimeout bounds closing orders sent after the stop signal.
func (e Engine) ShutdownTimeout() time.Duration { return ms(e.ShutdownTimeoutMs) }

// PollInterval is the REST polling cadence.
func (f Feed) PollInterval() time.Duration { return ms(f.PollIntervalMs) }

// Timeout is the REST client timeout.
func (e Exchange) Timeout() time.Duration { return ms(e.TimeoutMs) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
