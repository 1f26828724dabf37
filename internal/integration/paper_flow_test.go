package integration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"quantbot-go/internal/app"
	"quantbot-go/internal/config"
	"quantbot-go/internal/engine"
	"quantbot-go/internal/execution"
	"quantbot-go/internal/journal"
	"quantbot-go/internal/paper"
)

func loadBacktestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "backtest.yaml"))
	require.NoError(t, err)
	cfg.Feed.CSVPath = filepath.Join("..", "..", "data", "btc_usdt.csv")
	cfg.Paper.FillsPath = filepath.Join(t.TempDir(), "fills.jsonl")
	cfg.Journal.Path = filepath.Join(t.TempDir(), "journal.db")
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestBacktestFlowBooksEveryFillOnce(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := loadBacktestConfig(t)
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	f, err := app.Feed(ctx, cfg, nil, logger)
	require.NoError(t, err)
	strat, err := app.Strategy(cfg, nil, logger)
	require.NoError(t, err)
	pf, err := app.Portfolio(ctx, cfg, nil, logger)
	require.NoError(t, err)

	ledger := paper.NewLedger(64)
	rec, err := paper.NewJSONLRecorder(cfg.Paper.FillsPath)
	require.NoError(t, err)
	jr, err := journal.Open(cfg.Journal.Path)
	require.NoError(t, err)
	defer jr.Close()

	engCfg, err := app.EngineConfig(cfg)
	require.NoError(t, err)
	eng, err := engine.New(engCfg, engine.Components{
		Feed:        f,
		Strategy:    strat,
		Broker:      paper.NewBroker(cfg.Paper.FeeRate),
		Portfolio:   pf,
		Risk:        app.RiskLimits(cfg),
		Instruments: app.Instruments(cfg),
		Journal:     jr,
		Sinks:       []engine.FillSink{ledger, rec},
	}, logger)
	require.NoError(t, err)

	sum, err := eng.Run(ctx)
	require.NoError(t, err)
	require.NoError(t, rec.Close())

	require.Equal(t, engine.StopFeedExhausted, sum.StopReason)
	require.Equal(t, 120, sum.Ticks)
	require.Empty(t, sum.Unresolved)
	require.Zero(t, sum.InconsistentFills)

	fills := ledger.Snapshot()
	require.NotEmpty(t, fills, "the price file crosses the averages several times")
	require.Equal(t, sum.Fills, len(fills))
	require.Equal(t, execution.Buy, fills[0].Side, "flat start can only buy on the first cross")

	cash := 10000.0
	for _, fill := range fills {
		cash += -fill.Side.Sign()*fill.Qty*fill.Price - fill.Fee
		require.InDelta(t, fill.Qty*fill.Price*cfg.Paper.FeeRate, fill.Fee, 1e-9)

		ord, err := jr.Order(ctx, fill.OrderRef)
		require.NoError(t, err)
		require.Equal(t, execution.StateFilled, ord.State)
		require.False(t, ord.Unresolved)
		journaled, err := jr.Fills(ctx, fill.OrderRef)
		require.NoError(t, err)
		require.Len(t, journaled, 1)
	}
	require.InDelta(t, cash, sum.Portfolio.Cash("USDT"), 1e-6)

	lines := readFillLines(t, cfg.Paper.FillsPath)
	require.Len(t, lines, len(fills))
	require.Equal(t, fills[0].OrderRef, lines[0].OrderRef)

	logs := buf.String()
	require.Contains(t, logs, `"msg":"golden cross"`)
	require.Contains(t, logs, `"msg":"final portfolio"`)
	require.False(t, math.IsNaN(sum.Portfolio.RealizedPnL()))
}

func TestBacktestFlowStopsAtMaxTicks(t *testing.T) {
	cfg := loadBacktestConfig(t)
	cfg.Engine.MaxTicks = 30
	logger := zerolog.Nop()

	f, err := app.Feed(context.Background(), cfg, nil, logger)
	require.NoError(t, err)
	strat, err := app.Strategy(cfg, nil, logger)
	require.NoError(t, err)
	pf, err := app.Portfolio(context.Background(), cfg, nil, logger)
	require.NoError(t, err)
	engCfg, err := app.EngineConfig(cfg)
	require.NoError(t, err)

	eng, err := engine.New(engCfg, engine.Components{
		Feed:        f,
		Strategy:    strat,
		Broker:      paper.NewBroker(cfg.Paper.FeeRate),
		Portfolio:   pf,
		Risk:        app.RiskLimits(cfg),
		Instruments: app.Instruments(cfg),
	}, logger)
	require.NoError(t, err)

	sum, err := eng.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, engine.StopMaxTicks, sum.StopReason)
	require.Equal(t, 30, sum.Ticks)
}

func TestFundingArbBacktestOpensAndClosesHedge(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := config.Load(filepath.Join("..", "..", "configs", "funding_backtest.yaml"))
	require.NoError(t, err)
	cfg.Feed.CSVPath = filepath.Join("..", "..", "data", "btc_usdt_basis.csv")
	cfg.Paper.FillsPath = filepath.Join(t.TempDir(), "fills.jsonl")
	require.NoError(t, cfg.Validate())
	logger := zerolog.Nop()

	f, err := app.Feed(ctx, cfg, nil, logger)
	require.NoError(t, err)
	strat, err := app.Strategy(cfg, app.FixedRate(0.0003), logger)
	require.NoError(t, err)
	pf, err := app.Portfolio(ctx, cfg, nil, logger)
	require.NoError(t, err)
	engCfg, err := app.EngineConfig(cfg)
	require.NoError(t, err)

	ledger := paper.NewLedger(16)
	eng, err := engine.New(engCfg, engine.Components{
		Feed:        f,
		Strategy:    strat,
		Broker:      paper.NewBroker(cfg.Paper.FeeRate),
		Portfolio:   pf,
		Risk:        app.RiskLimits(cfg),
		Instruments: app.Instruments(cfg),
		Sinks:       []engine.FillSink{ledger},
	}, logger)
	require.NoError(t, err)

	sum, err := eng.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, engine.StopFeedExhausted, sum.StopReason)
	require.Equal(t, 120, sum.Ticks)
	require.Zero(t, sum.InconsistentFills)

	fills := ledger.Snapshot()
	require.Len(t, fills, 4, "one hedge opened once, unwound at the end")
	require.Equal(t, "BTC-USDT", fills[0].InstrumentID)
	require.Equal(t, execution.Buy, fills[0].Side)
	require.InDelta(t, 0.05, fills[0].Qty, 1e-9)
	require.Equal(t, "BTC-USDT-SWAP", fills[1].InstrumentID)
	require.Equal(t, execution.Sell, fills[1].Side)
	require.InDelta(t, 0.05, fills[1].Qty, 1e-9)
	require.Equal(t, execution.Sell, fills[2].Side)
	require.Equal(t, execution.Buy, fills[3].Side)

	require.InDelta(t, 0, sum.Portfolio.PositionFor("BTC-USDT").Qty, 1e-9)
	require.InDelta(t, 0, sum.Portfolio.PositionFor("BTC-USDT-SWAP").Qty, 1e-9)
	cash := 10000.0
	for _, fill := range fills {
		cash += -fill.Side.Sign()*fill.Qty*fill.Price - fill.Fee
	}
	require.InDelta(t, cash, sum.Portfolio.Cash("USDT"), 1e-6)
}

func readFillLines(t *testing.T, path string) []paper.FillRecord {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var out []paper.FillRecord
	sc := bufio.NewScanner(file)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var rec paper.FillRecord
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	require.NoError(t, sc.Err())
	return out
}
