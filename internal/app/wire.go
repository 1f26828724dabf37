// Package app maps configuration onto engine components for the command binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"quantbot-go/internal/config"
	"quantbot-go/internal/engine"
	"quantbot-go/internal/exchange"
	"quantbot-go/internal/execution"
	"quantbot-go/internal/feed"
	"quantbot-go/internal/risk"
	"quantbot-go/internal/signal"
	"quantbot-go/internal/strategy"
)

// BalanceSource reports an available exchange balance.
type BalanceSource interface {
	Balance(ctx context.Context, ccy string) (float64, error)
}

// Instruments builds the reference data registry from config.
func Instruments(cfg *config.Config) execution.Instruments {
	list := make([]execution.Instrument, 0, len(cfg.Instruments))
	for _, inst := range cfg.Instruments {
		list = append(list, execution.Instrument{
			ID:          inst.ID,
			Base:        inst.Base,
			Quote:       inst.Quote,
			Kind:        execution.Kind(inst.Kind),
			LotSize:     inst.LotSize,
			MinNotional: inst.MinNotional,
			CtVal:       inst.CtVal,
		})
	}
	return execution.NewInstruments(list)
}

// StrategyParams converts the strategy section into constructor params.
func StrategyParams(cfg *config.Config) strategy.Params {
	s := cfg.Strategy
	return strategy.Params{
		Instruments: cfg.InstrumentIDs(),
		SMA: strategy.SMAConfig{
			Instruments:   s.Instruments,
			Short:         s.SMA.ShortWindow,
			Long:          s.SMA.LongWindow,
			QuotePerTrade: s.SMA.QuotePerTrade,
		},
		Funding: strategy.FundingConfig{
			SpotID:            s.Funding.SpotInstID,
			SwapID:            s.Funding.SwapInstID,
			MinFundingRate:    s.Funding.MinFundingRate,
			CloseFundingRate:  s.Funding.CloseFundingRate,
			TargetQty:         s.Funding.TargetQty,
			PositionSizeQuote: s.Funding.PositionSizeQuote,
			CheckInterval:     secs(s.Funding.CheckIntervalSecs),
			Cooldown:          secs(s.Funding.CooldownSecs),
			RetryAfter:        secs(s.Funding.RetryAfterSecs),
			CloseOnEnd:        s.Funding.CloseOnEnd,
		},
	}
}

// Strategy builds the configured strategy. funding may be nil for strategies that do not need it.
func Strategy(cfg *config.Config, funding strategy.FundingSource, log zerolog.Logger) (strategy.Strategy, error) {
	deps := strategy.Deps{Log: log.With().Str("component", "strategy").Logger()}
	if funding != nil {
		deps.Funding = funding
	}
	return strategy.Build(cfg.Strategy.Mode, StrategyParams(cfg), deps)
}

// RiskLimits returns the pre-trade limits; the paper fee rate doubles as the fee estimate.
func RiskLimits(cfg *config.Config) risk.Limits {
	return risk.Limits{MaxNotionalPerTrade: cfg.Risk.MaxNotionalPerTrade, FeeRate: cfg.Paper.FeeRate}
}

// EngineConfig converts the engine section.
func EngineConfig(cfg *config.Config) (engine.Config, error) {
	policy, err := engine.ParsePolicy(cfg.Engine.OnTransient)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		MaxTicks:         cfg.Engine.MaxTicks,
		FillWait:         cfg.Engine.FillWait(),
		OnTransient:      policy,
		MaxPositionValue: cfg.Risk.MaxPositionValue,
		ShutdownTimeout:  cfg.Engine.ShutdownTimeout(),
	}, nil
}

// RetryPolicy converts the engine retry knobs; zero values keep the broker defaults.
func RetryPolicy(cfg *config.Config) execution.RetryPolicy {
	p := execution.DefaultRetryPolicy
	if cfg.Engine.RetryAttempts > 0 {
		p.Attempts = cfg.Engine.RetryAttempts
	}
	if cfg.Engine.RetryBaseMs > 0 {
		p.BaseDelay = time.Duration(cfg.Engine.RetryBaseMs) * time.Millisecond
	}
	return p
}

// ExchangeConfig converts the exchange section.
func ExchangeConfig(cfg *config.Config) exchange.Config {
	e := cfg.Exchange
	return exchange.Config{
		BaseURL:           e.BaseURL,
		WSURL:             e.WSURL,
		APIKey:            e.APIKey,
		APISecret:         e.APISecret,
		Passphrase:        e.Passphrase,
		Simulated:         e.Simulated,
		RequestsPerSecond: e.RequestsPerSecond,
		Timeout:           e.Timeout(),
	}
}

// Feed builds the configured data feed. client is only used by the rest and ws sources.
func Feed(ctx context.Context, cfg *config.Config, client *exchange.Client, log zerolog.Logger) (feed.DataFeed, error) {
	ids := cfg.InstrumentIDs()
	if len(ids) == 0 {
		return nil, errors.New("no instruments configured")
	}
	log = log.With().Str("component", "feed").Str("source", cfg.Feed.Source).Logger()

	switch cfg.Feed.Source {
	case "csv":
		f, err := feed.NewCSVFeed(cfg.Feed.CSVPath, ids[0])
		if err != nil {
			return nil, err
		}
		have := make(map[string]bool)
		for _, id := range f.Instruments() {
			have[id] = true
		}
		for _, id := range ids {
			if !have[id] {
				return nil, fmt.Errorf("%s has no rows for %s; add an inst_id column", cfg.Feed.CSVPath, id)
			}
		}
		log.Info().Str("path", cfg.Feed.CSVPath).Int("rows", f.Len()).Strs("instruments", f.Instruments()).Msg("csv feed loaded")
		return f, nil
	case "stub":
		return feed.NewStubFeed(ids, cfg.Feed.StubStart, cfg.Feed.StubStep, cfg.Engine.MaxTicks), nil
	case "rest":
		if client == nil {
			return nil, errors.New("rest feed needs an exchange client")
		}
		return feed.NewPollingFeed(client, ids, cfg.Feed.PollInterval(), log), nil
	case "ws":
		if client == nil {
			return nil, errors.New("ws feed needs an exchange client")
		}
		policy, err := feed.ParseOverflowPolicy(cfg.Feed.Overflow)
		if err != nil {
			return nil, err
		}
		queue := feed.NewQueue("okx-tickers", cfg.Feed.QueueSize, policy)
		run := func(ctx context.Context, emit func(signal.Tick) error) error {
			return client.StreamTickers(ctx, ids, emit)
		}
		return feed.NewStreamFeed(ctx, "okx-tickers", run, queue, log), nil
	}
	return nil, fmt.Errorf("unknown feed source %q", cfg.Feed.Source)
}

// StartingCash returns the paper starting balances, replaced by live exchange balances
// for the configured currencies when starting_cash_from_exchange is set.
func StartingCash(ctx context.Context, cfg *config.Config, balances BalanceSource, log zerolog.Logger) (map[string]float64, error) {
	cash := make(map[string]float64, len(cfg.Paper.StartingCash))
	for ccy, amt := range cfg.Paper.StartingCash {
		cash[ccy] = amt
	}
	if !cfg.Paper.StartingCashFromExchange {
		return cash, nil
	}
	if balances == nil {
		return nil, errors.New("starting_cash_from_exchange needs an exchange client")
	}
	ccys := make(map[string]struct{})
	for ccy := range cash {
		ccys[ccy] = struct{}{}
	}
	registry := Instruments(cfg)
	for _, id := range cfg.InstrumentIDs() {
		inst := registry.Lookup(id)
		ccys[inst.Quote] = struct{}{}
	}
	for ccy := range ccys {
		if ccy == "" {
			continue
		}
		amt, err := balances.Balance(ctx, ccy)
		if err != nil {
			return nil, fmt.Errorf("balance %s: %w", ccy, err)
		}
		log.Info().Str("ccy", ccy).Float64("available", amt).Msg("starting cash from exchange")
		cash[ccy] = amt
	}
	return cash, nil
}

func secs(n int) time.Duration { return time.Duration(n) * time.Second }
