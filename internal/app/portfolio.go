package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"quantbot-go/internal/config"
	"quantbot-go/internal/exchange"
	"quantbot-go/internal/execution"
	"quantbot-go/internal/portfolio"
	"quantbot-go/internal/signal"
)

// AccountSource is the exchange view used to seed a portfolio from live balances.
type AccountSource interface {
	BalanceSource
	Ticker(ctx context.Context, instrumentID string) (signal.Tick, error)
	Positions(ctx context.Context, instrumentIDs []string) ([]exchange.Position, error)
}

// Portfolio builds the starting portfolio. With starting_cash_from_exchange set, cash comes
// from exchange balances, spot already held on the exchange is booked at the current price
// and open swap positions at their entry price, so strategies net them against their targets.
func Portfolio(ctx context.Context, cfg *config.Config, account AccountSource, log zerolog.Logger) (*portfolio.Portfolio, error) {
	var balances BalanceSource
	if account != nil {
		balances = account
	}
	cash, err := StartingCash(ctx, cfg, balances, log)
	if err != nil {
		return nil, err
	}
	instruments := Instruments(cfg)
	if !cfg.Paper.StartingCashFromExchange {
		return portfolio.New(cash, instruments), nil
	}

	var seeds []execution.Fill
	var swaps []string
	for _, id := range cfg.InstrumentIDs() {
		inst := instruments.Lookup(id)
		if inst.Kind == execution.KindSwap {
			swaps = append(swaps, id)
			continue
		}
		if inst.Kind != execution.KindSpot || inst.Base == "" {
			continue
		}
		qty, err := account.Balance(ctx, inst.Base)
		if err != nil {
			return nil, fmt.Errorf("balance %s: %w", inst.Base, err)
		}
		if qty <= 0 {
			continue
		}
		tick, err := account.Ticker(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("ticker %s: %w", id, err)
		}
		// the seed fill debits qty×last again, so credit it first
		cash[inst.Quote] += qty * tick.Last
		seeds = append(seeds, execution.Fill{
			OrderRef: "seed-" + id, InstrumentID: id, Side: execution.Buy,
			Qty: qty, Price: tick.Last, Status: execution.FillFull, Ts: tick.Ts,
		})
	}

	held, err := swapSeeds(ctx, account, swaps, instruments, cash)
	if err != nil {
		return nil, err
	}
	seeds = append(seeds, held...)

	pf := portfolio.New(cash, instruments)
	for _, fill := range seeds {
		if err := pf.ApplyFill(fill); err != nil {
			return nil, fmt.Errorf("seed %s: %w", fill.InstrumentID, err)
		}
		log.Info().Str("sym", fill.InstrumentID).Str("side", string(fill.Side)).
			Float64("qty", fill.Qty).Float64("px", fill.Price).Msg("existing position seeded")
	}
	return pf, nil
}

// swapSeeds books open swap positions at their entry price. cash is credited with the
// amount each seed fill moves so the starting balance is unchanged.
func swapSeeds(ctx context.Context, account AccountSource, ids []string, instruments execution.Instruments, cash map[string]float64) ([]execution.Fill, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	positions, err := account.Positions(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}
	var seeds []execution.Fill
	for _, p := range positions {
		if p.Qty == 0 {
			continue
		}
		px := p.AvgPrice
		if px <= 0 {
			tick, err := account.Ticker(ctx, p.InstrumentID)
			if err != nil {
				return nil, fmt.Errorf("ticker %s: %w", p.InstrumentID, err)
			}
			px = tick.Last
		}
		side, qty := execution.Buy, p.Qty
		if qty < 0 {
			side, qty = execution.Sell, -qty
		}
		cash[instruments.Lookup(p.InstrumentID).Quote] += p.Qty * px
		seeds = append(seeds, execution.Fill{
			OrderRef: "seed-" + p.InstrumentID, InstrumentID: p.InstrumentID, Side: side,
			Qty: qty, Price: px, Status: execution.FillFull,
		})
	}
	return seeds, nil
}
