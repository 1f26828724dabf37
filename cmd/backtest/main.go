// Command backtest replays a CSV price file through the configured strategy and the paper broker.
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
	"quantbot-go/internal/metrics"
	"quantbot-go/internal/paper"
	"quantbot-go/internal/util"
)

func main() {
	configPath := flag.String("config", "configs/backtest.yaml", "Path to YAML config")
	csvPath := flag.String("csv", "", "CSV price file (overrides feed.csv_path)")
	fundingRate := flag.Float64("funding-rate", 0, "Fixed funding rate for funding_arb backtests")
	flag.Parse()

	if err := run(*configPath, *csvPath, *fundingRate); err != nil {
		logger := util.NewLogger("info")
		logger.Fatal().Err(err).Msg("backtest failed")
	}
}

// run owns every resource so deferred cleanup happens before main exits.
func run(configPath, csvPath string, fundingRate float64) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Feed.Source = "csv"
	if csvPath != "" {
		cfg.Feed.CSVPath = csvPath
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	log := util.NewLoggerTo(os.Stdout, cfg.App.LogLevel, cfg.App.LogFormat)

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.App.MetricsAddr != "" {
		srv := metrics.Serve(cfg.App.MetricsAddr)
		defer srv.Close()
		log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")
	}

	f, err := app.Feed(ctx, cfg, nil, log)
	if err != nil {
		return fmt.Errorf("open feed: %w", err)
	}
	strat, err := app.Strategy(cfg, app.FixedRate(fundingRate), log)
	if err != nil {
		return fmt.Errorf("build strategy: %w", err)
	}
	pf, err := app.Portfolio(ctx, cfg, nil, log)
	if err != nil {
		return fmt.Errorf("build portfolio: %w", err)
	}

	ledger := paper.NewLedger(256)
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

	log.Info().Str("csv", cfg.Feed.CSVPath).Str("strategy", strat.Name()).Msg("backtest started")
	sum, err := eng.Run(ctx)
	app.LogRun(log, sum, ledger)
	return err
}
