// Command executor trades the configured strategy on OKX. Use -dry-run to log orders without sending them.
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
	"quantbot-go/internal/execution"
	"quantbot-go/internal/journal"
	"quantbot-go/internal/metrics"
	"quantbot-go/internal/util"
)

func main() {
	configPath := flag.String("config", "configs/live.yaml", "Path to YAML config")
	envFile := flag.String("env", ".env", "Optional .env file with OKX credentials")
	dryRun := flag.Bool("dry-run", false, "Log orders instead of sending them (overrides engine.dry_run)")
	flag.Parse()

	if err := run(*configPath, *envFile, *dryRun); err != nil {
		logger := util.NewLogger("info")
		logger.Fatal().Err(err).Msg("executor stopped with error")
	}
}

// run owns every resource so the journal and metrics server are closed before main exits.
func run(configPath, envFile string, dryRun bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	config.LoadSecrets(cfg, envFile)
	if dryRun {
		cfg.Engine.DryRun = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	log := util.NewLoggerTo(os.Stdout, cfg.App.LogLevel, cfg.App.LogFormat)
	if !cfg.Engine.DryRun {
		if err := cfg.RequireCredentials(); err != nil {
			return fmt.Errorf("live trading needs credentials: %w", err)
		}
		// live cash and holdings come from the account
		cfg.Paper.StartingCashFromExchange = true
	}

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv := metrics.Serve(cfg.App.MetricsAddr)
	defer srv.Close()

	client := exchange.New(app.ExchangeConfig(cfg), log.With().Str("component", "okx").Logger(),
		exchange.WithInstruments(app.Instruments(cfg)))

	var jrnl engine.Journal
	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer j.Close()
		unresolved, err := j.Unresolved(ctx)
		if err != nil {
			return fmt.Errorf("read journal: %w", err)
		}
		for _, rec := range unresolved {
			log.Warn().Str("order_id", rec.OrderID).Str("sym", rec.InstrumentID).Str("side", string(rec.Side)).
				Float64("qty", rec.Qty).Float64("filled", rec.FilledQty).Str("state", string(rec.State)).
				Msg("order from a previous run is unresolved, check it on the venue")
		}
		jrnl = j
	}

	var broker execution.Broker
	if cfg.Engine.DryRun {
		broker = execution.NewDryRun(log.With().Str("component", "dry-run").Logger(), cfg.Paper.FeeRate)
	} else {
		broker = execution.NewLive(client, log.With().Str("component", "live").Logger(),
			execution.WithRetryPolicy(app.RetryPolicy(cfg)),
			execution.WithPollInterval(cfg.Engine.OrderPoll()))
	}

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

	engCfg, err := app.EngineConfig(cfg)
	if err != nil {
		return fmt.Errorf("engine config: %w", err)
	}
	eng, err := engine.New(engCfg, engine.Components{
		Feed:        f,
		Strategy:    strat,
		Broker:      broker,
		Portfolio:   pf,
		Risk:        app.RiskLimits(cfg),
		Instruments: app.Instruments(cfg),
		Journal:     jrnl,
	}, log)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	log.Info().Bool("dry_run", cfg.Engine.DryRun).Bool("simulated", cfg.Exchange.Simulated).
		Str("broker", broker.Name()).Msg("executor started")
	sum, err := eng.Run(ctx)
	app.LogRun(log, sum, nil)
	return err
}
