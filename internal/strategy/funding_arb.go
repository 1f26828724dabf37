package strategy

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"quantbot-go/internal/execution"
	"quantbot-go/internal/portfolio"
	"quantbot-go/internal/signal"
)

// FundingSource returns the current funding rate of a perpetual swap.
type FundingSource interface {
	FundingRate(ctx context.Context, instrumentID string) (float64, error)
}

// FundingConfig parameterizes the spot/swap funding-rate arbitrage.
type FundingConfig struct {
	SpotID            string
	SwapID            string
	MinFundingRate    float64
	CloseFundingRate  float64
	TargetQty         float64 // base units; zero sizes from PositionSizeQuote
	PositionSizeQuote float64
	CheckInterval     time.Duration
	Cooldown          time.Duration
	RetryAfter        time.Duration
	CloseOnEnd        bool
}

type arbPhase int

const (
	phaseIdle arbPhase = iota
	phaseOpening
	phaseOpen
	phaseClosing
)

func (p arbPhase) String() string {
	switch p {
	case phaseOpening:
		return "opening"
	case phaseOpen:
		return "open"
	case phaseClosing:
		return "closing"
	}
	return "idle"
}

// FundingArb holds long spot against a short swap while the funding rate pays shorts.
// Spot already in the portfolio is credited toward the target; the hedge is always sized
// to the full target. Orders emitted for an activation or unwind are not repeated until
// the portfolio reflects them or RetryAfter elapses.
type FundingArb struct {
	cfg    FundingConfig
	source FundingSource
	log    zerolog.Logger

	spotPx, swapPx float64
	rate           float64
	haveRate       bool
	lastCheck      time.Time
	lastClose      time.Time
	phase          arbPhase
	emittedAt      time.Time
}

// NewFundingArb validates thresholds and builds the strategy.
func NewFundingArb(cfg FundingConfig, source FundingSource, log zerolog.Logger) (*FundingArb, error) {
	if cfg.SpotID == "" || cfg.SwapID == "" {
		return nil, fmt.Errorf("funding arbitrage needs spot_inst_id and swap_inst_id")
	}
	if cfg.TargetQty <= 0 && cfg.PositionSizeQuote <= 0 {
		return nil, fmt.Errorf("funding arbitrage needs target_qty or position_size_quote")
	}
	if cfg.CloseFundingRate > cfg.MinFundingRate {
		return nil, fmt.Errorf("close_funding_rate %.6f exceeds min_funding_rate %.6f", cfg.CloseFundingRate, cfg.MinFundingRate)
	}
	if cfg.CheckInterval < 0 || cfg.Cooldown < 0 || cfg.RetryAfter < 0 {
		return nil, fmt.Errorf("funding arbitrage durations must not be negative")
	}
	if cfg.RetryAfter == 0 {
		cfg.RetryAfter = time.Minute
	}
	return &FundingArb{cfg: cfg, source: source, log: log}, nil
}

// Name returns the configured identifier for logging.
func (f *FundingArb) Name() string { return ModeFundingArb }

// OnStart logs the configuration.
func (f *FundingArb) OnStart(context.Context) error {
	f.log.Info().Str("spot", f.cfg.SpotID).Str("swap", f.cfg.SwapID).
		Float64("min_rate", f.cfg.MinFundingRate).Float64("close_rate", f.cfg.CloseFundingRate).
		Float64("target_qty", f.cfg.TargetQty).Float64("position_size_quote", f.cfg.PositionSizeQuote).
		Msg("funding arbitrage started")
	return nil
}

// OnTick tracks both legs' prices and decides whether to open or unwind the hedge.
func (f *FundingArb) OnTick(ctx context.Context, tick signal.Tick, snap portfolio.Snapshot) []execution.Order {
	switch tick.InstrumentID {
	case f.cfg.SpotID:
		f.spotPx = tick.Last
	case f.cfg.SwapID:
		f.swapPx = tick.Last
	default:
		return nil
	}
	if f.spotPx <= 0 || f.swapPx <= 0 {
		return nil
	}
	now := tick.Ts
	if now.IsZero() {
		now = time.Now()
	}

	rate, ok := f.fundingRate(ctx, now)
	if !ok {
		return nil
	}

	hedged := snap.PositionFor(f.cfg.SwapID).Qty < -quantityEpsilon
	if !f.settle(hedged, now) {
		return nil
	}

	if hedged {
		if rate > f.cfg.CloseFundingRate {
			return nil
		}
		f.log.Info().Float64("rate", rate).Float64("close_rate", f.cfg.CloseFundingRate).Msg("funding rate reversed, unwinding")
		orders := f.unwind(snap)
		f.phase, f.emittedAt, f.lastClose = phaseClosing, now, now
		return orders
	}

	if !f.lastClose.IsZero() && now.Sub(f.lastClose) < f.cfg.Cooldown {
		return nil
	}
	if rate < f.cfg.MinFundingRate {
		return nil
	}
	orders := f.open(rate, snap)
	if len(orders) > 0 {
		f.phase, f.emittedAt = phaseOpening, now
	}
	return orders
}

// settle reconciles the phase with the portfolio and reports whether new orders may be emitted.
func (f *FundingArb) settle(hedged bool, now time.Time) bool {
	switch f.phase {
	case phaseOpening:
		if hedged {
			f.phase = phaseOpen
			return true
		}
		if now.Sub(f.emittedAt) < f.cfg.RetryAfter {
			return false
		}
		f.log.Warn().Dur("waited", now.Sub(f.emittedAt)).Msg("hedge not established, activation expired")
		f.phase = phaseIdle
	case phaseClosing:
		if !hedged {
			f.phase = phaseIdle
			return true
		}
		if now.Sub(f.emittedAt) < f.cfg.RetryAfter {
			return false
		}
		f.log.Warn().Dur("waited", now.Sub(f.emittedAt)).Msg("hedge still open after unwind, retrying")
		f.phase = phaseOpen
	default:
		if hedged {
			f.phase = phaseOpen
		} else {
			f.phase = phaseIdle
		}
	}
	return true
}

func (f *FundingArb) fundingRate(ctx context.Context, now time.Time) (float64, bool) {
	if !f.lastCheck.IsZero() && now.Sub(f.lastCheck) < f.cfg.CheckInterval {
		return f.rate, f.haveRate
	}
	f.lastCheck = now
	rate, err := f.source.FundingRate(ctx, f.cfg.SwapID)
	if err != nil {
		f.haveRate = false
		f.log.Warn().Err(err).Str("sym", f.cfg.SwapID).Msg("funding rate unavailable, skipping")
		return 0, false
	}
	f.rate, f.haveRate = rate, true
	f.log.Info().Str("sym", f.cfg.SwapID).Float64("rate", rate).
		Float64("annualized", rate*3*365).Msg("funding rate")
	return rate, true
}

func (f *FundingArb) target() float64 {
	if f.cfg.TargetQty > 0 {
		return f.cfg.TargetQty
	}
	return f.cfg.PositionSizeQuote / ((f.spotPx + f.swapPx) / 2)
}

func (f *FundingArb) open(rate float64, snap portfolio.Snapshot) []execution.Order {
	target := f.target()
	if target <= quantityEpsilon || math.IsInf(target, 0) {
		f.log.Error().Float64("target", target).Msg("invalid hedge target")
		return nil
	}
	existing := snap.PositionFor(f.cfg.SpotID).Qty
	buy := math.Max(0, target-existing)

	f.log.Info().Float64("rate", rate).Float64("target", target).Float64("existing_spot", existing).
		Float64("buy", buy).Msg("opening funding arbitrage")
	if surplus := existing - target; surplus > quantityEpsilon {
		f.log.Info().Str("sym", f.cfg.SpotID).Float64("surplus", surplus).Msg("surplus spot left unhedged")
	}

	orders := make([]execution.Order, 0, 2)
	if buy > quantityEpsilon {
		orders = append(orders, execution.Order{
			InstrumentID: f.cfg.SpotID, Side: execution.Buy, Type: execution.Market,
			Qty: buy, TradeMode: execution.ModeCash,
		})
	}
	orders = append(orders, execution.Order{
		InstrumentID: f.cfg.SwapID, Side: execution.Sell, Type: execution.Market,
		Qty: target, TradeMode: execution.ModeSwap,
	})
	return orders
}

// unwind sizes both legs from the live snapshot rather than the original target.
func (f *FundingArb) unwind(snap portfolio.Snapshot) []execution.Order {
	spot := snap.PositionFor(f.cfg.SpotID).Qty
	swap := snap.PositionFor(f.cfg.SwapID).Qty
	var orders []execution.Order
	if spot > quantityEpsilon {
		orders = append(orders, execution.Order{
			InstrumentID: f.cfg.SpotID, Side: execution.Sell, Type: execution.Market,
			Qty: spot, TradeMode: execution.ModeCash,
		})
	}
	if swap < -quantityEpsilon {
		orders = append(orders, execution.Order{
			InstrumentID: f.cfg.SwapID, Side: execution.Buy, Type: execution.Market,
			Qty: -swap, TradeMode: execution.ModeSwap,
		})
	}
	if d := spot + swap; math.Abs(d) > quantityEpsilon {
		f.log.Info().Float64("spot", spot).Float64("swap", swap).Float64("net_delta", d).Msg("legs diverged before unwind")
	}
	return orders
}

// OnEnd unwinds an open hedge when CloseOnEnd is set.
func (f *FundingArb) OnEnd(_ context.Context, snap portfolio.Snapshot) []execution.Order {
	if !f.cfg.CloseOnEnd || snap.PositionFor(f.cfg.SwapID).Qty >= -quantityEpsilon {
		return nil
	}
	f.log.Info().Str("phase", f.phase.String()).Msg("closing funding arbitrage at end")
	return f.unwind(snap)
}
