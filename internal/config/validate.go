package config

import (
	"fmt"
	"strings"
)

// ConfigError reports an invalid or missing setting. It is fatal at startup.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func isFunding(mode string) bool {
	switch strings.ToLower(mode) {
	case "funding", "funding_arb", "funding_arbitrage":
		return true
	}
	return false
}

func isSMA(mode string) bool {
	switch strings.ToLower(mode) {
	case "", "sma", "sma_cross":
		return true
	}
	return false
}

// Validate checks the settings the engine depends on and returns the first problem as a *ConfigError.
func (c *Config) Validate() error {
	for i, inst := range c.Instruments {
		if strings.TrimSpace(inst.ID) == "" {
			return invalid(fmt.Sprintf("instruments[%d].id", i), "is required")
		}
		if inst.LotSize < 0 || inst.MinNotional < 0 || inst.CtVal < 0 {
			return invalid(fmt.Sprintf("instruments[%d]", i), "lot_size, min_notional and ct_val must not be negative")
		}
		if inst.Kind != "" && inst.Kind != "spot" && inst.Kind != "swap" {
			return invalid(fmt.Sprintf("instruments[%d].kind", i), "must be spot or swap, got %q", inst.Kind)
		}
	}

	if c.Risk.MaxNotionalPerTrade < 0 {
		return invalid("risk.max_notional_per_trade", "must not be negative")
	}
	if c.Risk.MaxPositionValue < 0 {
		return invalid("risk.max_position_value", "must not be negative")
	}
	if c.Paper.FeeRate < 0 || c.Paper.FeeRate >= 0.01 {
		return invalid("paper.fee_rate", "must be in [0, 0.01), got %v", c.Paper.FeeRate)
	}
	for ccy, amt := range c.Paper.StartingCash {
		if amt < 0 {
			return invalid("paper.starting_cash."+ccy, "must not be negative")
		}
	}

	switch {
	case isSMA(c.Strategy.Mode):
		s := c.Strategy.SMA
		if s.ShortWindow <= 0 || s.LongWindow <= s.ShortWindow {
			return invalid("strategy.sma", "need 0 < short_window < long_window, got %d/%d", s.ShortWindow, s.LongWindow)
		}
		if s.QuotePerTrade <= 0 {
			return invalid("strategy.sma.quote_per_trade", "must be positive")
		}
		if len(c.InstrumentIDs()) == 0 {
			return invalid("strategy.instruments", "at least one instrument is required")
		}
	case isFunding(c.Strategy.Mode):
		f := c.Strategy.Funding
		if f.SpotInstID == "" || f.SwapInstID == "" {
			return invalid("strategy.funding", "spot_inst_id and swap_inst_id are required")
		}
		if f.TargetQty <= 0 && f.PositionSizeQuote <= 0 {
			return invalid("strategy.funding", "target_qty or position_size_quote must be positive")
		}
		if f.CloseFundingRate > f.MinFundingRate {
			return invalid("strategy.funding.close_funding_rate", "must not exceed min_funding_rate")
		}
		if f.CheckIntervalSecs < 0 || f.CooldownSecs < 0 || f.RetryAfterSecs < 0 {
			return invalid("strategy.funding", "intervals must not be negative")
		}
	default:
		return invalid("strategy.mode", "unknown mode %q", c.Strategy.Mode)
	}

	switch c.Feed.Source {
	case "csv":
		if c.Feed.CSVPath == "" {
			return invalid("feed.csv_path", "is required for the csv source")
		}
	case "stub", "rest", "ws":
	default:
		return invalid("feed.source", "must be csv, stub, rest or ws, got %q", c.Feed.Source)
	}
	if c.Feed.Overflow != "drop_oldest" && c.Feed.Overflow != "block" {
		return invalid("feed.overflow", "must be drop_oldest or block, got %q", c.Feed.Overflow)
	}
	if c.Feed.QueueSize < 0 || c.Feed.PollIntervalMs < 0 {
		return invalid("feed", "queue_size and poll_interval_ms must not be negative")
	}

	e := c.Engine
	if e.MaxTicks < 0 || e.FillWaitMs < 0 || e.OrderPollMs < 0 || e.ShutdownTimeoutMs < 0 {
		return invalid("engine", "limits and timeouts must not be negative")
	}
	if e.OnTransient != "continue" && e.OnTransient != "abort" {
		return invalid("engine.on_transient", "must be continue or abort, got %q", e.OnTransient)
	}
	if e.RetryAttempts < 0 || e.RetryBaseMs < 0 {
		return invalid("engine", "retry settings must not be negative")
	}
	return nil
}

// RequireCredentials checks that live trading has everything it needs to sign requests.
func (c *Config) RequireCredentials() error {
	switch {
	case c.Exchange.APIKey == "":
		return invalid("exchange.api_key", "OKX_API_KEY is not set")
	case c.Exchange.APISecret == "":
		return invalid("exchange.api_secret", "OKX_API_SECRET is not set")
	case c.Exchange.Passphrase == "":
		return invalid("exchange.passphrase", "OKX_API_PASSPHRASE is not set")
	}
	return nil
}
