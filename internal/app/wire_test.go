package app

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"quantbot-go/internal/config"
	"quantbot-go/internal/engine"
	"quantbot-go/internal/exchange"
	"quantbot-go/internal/execution"
	"quantbot-go/internal/feed"
	"quantbot-go/internal/paper"
	"quantbot-go/internal/portfolio"
	"quantbot-go/internal/signal"
)

func loadFixture(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(filepath.Join("..", "config", "testdata", "config.yaml"))
	require.NoError(t, err)
	return cfg
}

func TestInstrumentsAndStrategyParams(t *testing.T) {
	cfg := loadFixture(t)

	reg := Instruments(cfg)
	require.Equal(t, 0.0001, reg.Lookup("BTC-USDT").LotSize)
	require.Equal(t, execution.KindSwap, reg.Lookup("BTC-USDT-SWAP").Kind)
	require.Equal(t, "USDT", reg.Lookup("BTC-USDT-SWAP").Quote)
	require.Equal(t, 0.01, reg.Lookup("BTC-USDT-SWAP").CtVal)

	params := StrategyParams(cfg)
	require.Equal(t, 5, params.SMA.Short)
	require.Equal(t, 20, params.SMA.Long)
	require.Equal(t, 2*time.Minute, params.Funding.CheckInterval)
	require.Equal(t, time.Minute, params.Funding.Cooldown)
	require.True(t, params.Funding.CloseOnEnd)

	strat, err := Strategy(cfg, nil, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, "sma_cross", strat.Name())

	cfg.Strategy.Mode = "funding_arb"
	_, err = Strategy(cfg, nil, zerolog.Nop())
	require.Error(t, err, "funding arbitrage without a rate source")
}

func TestEngineConfigAndRisk(t *testing.T) {
	cfg := loadFixture(t)
	ec, err := EngineConfig(cfg)
	require.NoError(t, err)
	require.Equal(t, engine.PolicyAbort, ec.OnTransient)
	require.Equal(t, 2500*time.Millisecond, ec.FillWait)
	require.Equal(t, 1000, ec.MaxTicks)
	require.Equal(t, 2000.0, ec.MaxPositionValue)

	limits := RiskLimits(cfg)
	require.Equal(t, 500.0, limits.MaxNotionalPerTrade)
	require.Equal(t, 0.001, limits.FeeRate)

	p := RetryPolicy(cfg)
	require.Equal(t, execution.DefaultRetryPolicy.Attempts, p.Attempts)
	cfg.Engine.RetryAttempts, cfg.Engine.RetryBaseMs = 7, 20
	p = RetryPolicy(cfg)
	require.Equal(t, 7, p.Attempts)
	require.Equal(t, 20*time.Millisecond, p.BaseDelay)
}

func TestFeedSelection(t *testing.T) {
	cfg := loadFixture(t)
	cfg.Feed.Source = "csv"
	cfg.Feed.CSVPath = filepath.Join("..", "feed", "testdata", "ticks.csv")
	f, err := Feed(context.Background(), cfg, nil, zerolog.Nop())
	require.NoError(t, err)
	tick, err := f.Next(context.Background())
	require.NoError(t, err)
	require.Equal(t, "BTC-USDT", tick.InstrumentID)
	require.NoError(t, f.Close())

	funding := loadFixture(t)
	funding.Strategy.Mode = "funding_arb"
	funding.Strategy.Instruments = nil
	funding.Feed.Source = "csv"
	funding.Feed.CSVPath = cfg.Feed.CSVPath
	_, err = Feed(context.Background(), funding, nil, zerolog.Nop())
	require.ErrorContains(t, err, "no rows for BTC-USDT-SWAP")

	funding.Feed.CSVPath = filepath.Join("..", "..", "data", "btc_usdt_basis.csv")
	f, err = Feed(context.Background(), funding, nil, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, f.Close())

	cfg.Feed.Source = "stub"
	cfg.Engine.MaxTicks = 2
	f, err = Feed(context.Background(), cfg, nil, zerolog.Nop())
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = f.Next(context.Background())
		require.NoError(t, err)
	}
	_, err = f.Next(context.Background())
	require.ErrorIs(t, err, feed.ErrExhausted)

	cfg.Feed.Source = "rest"
	_, err = Feed(context.Background(), cfg, nil, zerolog.Nop())
	require.Error(t, err)
}

type fakeBalances map[string]float64

func (f fakeBalances) Balance(_ context.Context, ccy string) (float64, error) {
	amt, ok := f[ccy]
	if !ok {
		return 0, errors.New("no such currency")
	}
	return amt, nil
}

func TestStartingCash(t *testing.T) {
	cfg := loadFixture(t)
	cash, err := StartingCash(context.Background(), cfg, nil, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, map[string]float64{"USDT": 10000}, cash)

	cfg.Paper.StartingCashFromExchange = true
	cash, err = StartingCash(context.Background(), cfg, fakeBalances{"USDT": 321.5}, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, 321.5, cash["USDT"])

	_, err = StartingCash(context.Background(), cfg, fakeBalances{}, zerolog.Nop())
	require.Error(t, err)
}

type fakeAccount struct {
	fakeBalances
	px        float64
	positions []exchange.Position
}

func (f fakeAccount) Ticker(_ context.Context, id string) (signal.Tick, error) {
	return signal.Tick{InstrumentID: id, Last: f.px}, nil
}

func (f fakeAccount) Positions(context.Context, []string) ([]exchange.Position, error) {
	return f.positions, nil
}

func TestPortfolioSeedsExistingSpot(t *testing.T) {
	cfg := loadFixture(t)
	cfg.Strategy.Mode = "funding_arb"
	cfg.Strategy.Instruments = nil
	cfg.Paper.StartingCashFromExchange = true

	pf, err := Portfolio(context.Background(), cfg, fakeAccount{fakeBalances: fakeBalances{"USDT": 500, "BTC": 0.5}, px: 20_000}, zerolog.Nop())
	require.NoError(t, err)
	require.InDelta(t, 500, pf.Cash("USDT"), 1e-9)
	pos := pf.PositionFor("BTC-USDT")
	require.InDelta(t, 0.5, pos.Qty, 1e-12)
	require.Equal(t, 20_000.0, pos.AvgPrice)
	require.True(t, pf.PositionFor("BTC-USDT-SWAP").Flat(), "no swap position is open")

	cfg.Paper.StartingCashFromExchange = false
	pf, err = Portfolio(context.Background(), cfg, nil, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, 10_000.0, pf.Cash("USDT"))
}

func TestPortfolioSeedsOpenSwapShort(t *testing.T) {
	cfg := loadFixture(t)
	cfg.Strategy.Mode = "funding_arb"
	cfg.Strategy.Instruments = nil
	cfg.Paper.StartingCashFromExchange = true

	seeded := func(positions []exchange.Position) *portfolio.Portfolio {
		t.Helper()
		account := fakeAccount{fakeBalances: fakeBalances{"USDT": 500, "BTC": 0.01}, px: 20_000, positions: positions}
		pf, err := Portfolio(context.Background(), cfg, account, zerolog.Nop())
		require.NoError(t, err)
		return pf
	}
	swapSells := func(pf *portfolio.Portfolio) int {
		t.Helper()
		strat, err := Strategy(cfg, FixedRate(0.0003), zerolog.Nop())
		require.NoError(t, err)
		ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
		var n int
		for _, tick := range []signal.Tick{
			{InstrumentID: "BTC-USDT", Last: 20_000, Ts: ts},
			{InstrumentID: "BTC-USDT-SWAP", Last: 20_010, Ts: ts.Add(time.Second)},
		} {
			for _, o := range strat.OnTick(context.Background(), tick, pf.Snapshot()) {
				if o.InstrumentID == "BTC-USDT-SWAP" && o.Side == execution.Sell {
					n++
				}
			}
		}
		return n
	}

	pf := seeded([]exchange.Position{{InstrumentID: "BTC-USDT-SWAP", Qty: -0.01, AvgPrice: 20_100}})
	require.InDelta(t, 500, pf.Cash("USDT"), 1e-9, "seeding leaves the exchange balance untouched")
	swap := pf.PositionFor("BTC-USDT-SWAP")
	require.InDelta(t, -0.01, swap.Qty, 1e-12)
	require.Equal(t, 20_100.0, swap.AvgPrice)
	require.InDelta(t, 0.01, pf.PositionFor("BTC-USDT").Qty, 1e-12)
	require.Zero(t, swapSells(pf), "an existing hedge is not opened again")

	require.Equal(t, 1, swapSells(seeded(nil)), "without the short the hedge is opened")

	pf = seeded([]exchange.Position{{InstrumentID: "BTC-USDT-SWAP", Qty: 0.02}})
	require.InDelta(t, 0.02, pf.PositionFor("BTC-USDT-SWAP").Qty, 1e-12)
	require.Equal(t, 20_000.0, pf.PositionFor("BTC-USDT-SWAP").AvgPrice, "missing entry price falls back to last")
	require.InDelta(t, 500, pf.Cash("USDT"), 1e-9)
}

func TestLogRun(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	ledger := paper.NewLedger(1)
	ledger.Record(execution.Fill{InstrumentID: "BTC-USDT", Side: execution.Buy, Qty: 2, Price: 5, Fee: 0.01})

	pf := portfolio.New(map[string]float64{"USDT": 100}, nil)
	require.NoError(t, pf.ApplyFill(execution.Fill{OrderRef: "o", InstrumentID: "BTC-USDT", Side: execution.Buy, Qty: 2, Price: 5}))
	LogRun(log, engine.Summary{Portfolio: pf.Snapshot(), Unresolved: []string{"o-9"}}, ledger)

	out := buf.String()
	require.Contains(t, out, `"notional":10`)
	require.Contains(t, out, `"msg":"open position"`)
	require.Contains(t, out, `"order_id":"o-9"`)

	rate, err := FixedRate(0.0003).FundingRate(context.Background(), "BTC-USDT-SWAP")
	require.NoError(t, err)
	require.Equal(t, 0.0003, rate)
}
