// Command paper trades the configured strategy against live OKX prices with simulated fills.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"

	"quantbot-go/internal/app"
	"quantbot-go/internal/config"
	"quantbot-go/internal/engine"
	"quantbot-go/internal/exchange"
	"quantbot-go/internal/metrics"
	"quantbot-go/internal/paper"
	"quantbot-go/internal/util"
)

func main() {
	configPath := flag.String("config", "configs/paper.yaml", "Path to YAML config")
	envFile := flag.String("env", ".env", "Optional .env file with OKX credentials")
	flag.Parse()

	if err := run(*configPath, *envFile); err != nil {
		logger := util.NewLogger("info")
		logger.Fatal().Err(err).Msg("paper engine stopped with error")
	}
}

func run(configPath, envFile string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	config.LoadSecrets(cfg, envFile)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	log := util.NewLoggerTo(os.Stdout, cfg.App.LogLevel, cfg.App.LogFormat)

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv := metrics.Serve(cfg.App.MetricsAddr)
	defer srv.Close()
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

	client := exchange.New(app.ExchangeConfig(cfg), log.With().Str("component", "okx").Logger(),
		exchange.WithInstruments(app.Instruments(cfg)))

	f, err := app.Feed(ctx, cfg, client, log)
	if err != nil {
		return fmt.Errorf("open feed: %w", err)
	}
	strat, err := app.Strategy(cfg, client, log)
	if err != nil {
		return fmt.Errorf("build strategy: %w", err)
	}
	pf, err := app.Portfolio(ctx, cfg, client, log)
	if err != nil {
		return fmt.Errorf("build portfolio: %w", err)
	}

	ledger := paper.NewLedger(1024)
	sinks := []engine.FillSink{ledger}
	if cfg.Paper.FillsPath != "" {
		rec, err := paper.NewJSONLRecorder(cfg.Paper.FillsPath)
		if err != nil {
			return fmt.Errorf("open fills recorder: %w", err)
		}
		defer rec.Close()
		sinks = append(sinks, rec)
	}

	engCfg, err := app.EngineConfig(cfg)
	if err != nil {
		return fmt.Errorf("engine config: %w", err)
	}
	eng, err := engine.New(engCfg, engine.Components{
		Feed:        f,
		Strategy:    strat,
		Broker:      paper.NewBroker(cfg.Paper.FeeRate),
		Portfolio:   pf,
		Risk:        app.RiskLimits(cfg),
		Instruments: app.Instruments(cfg),
		Sinks:       sinks,
	}, log)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	log.Info().Str("feed", cfg.Feed.Source).Strs("instruments", cfg.InstrumentIDs()).Msg("paper engine started")
	sum, err := eng.Run(ctx)
	app.LogRun(log, sum, ledger)
	return err
}
