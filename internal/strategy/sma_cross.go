package strategy

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"quantbot-go/internal/execution"
	"quantbot-go/internal/portfolio"
	"quantbot-go/internal/signal"
)

// SMAConfig sizes the two moving-average windows and the quote amount spent per buy.
type SMAConfig struct {
	Instruments   []string
	Short         int
	Long          int
	QuotePerTrade float64
}

// SMACross buys when the short average crosses above the long one and sells the
// held quantity on the reverse cross. Equal averages keep the previous regime.
type SMACross struct {
	cfg    SMAConfig
	log    zerolog.Logger
	allow  map[string]struct{}
	series map[string]*smaSeries
}

type smaSeries struct {
	window  []float64 // ring buffer of the last Long prices
	next    int
	filled  int
	bullish bool
}

// NewSMACross validates windows and builds the strategy.
func NewSMACross(cfg SMAConfig, log zerolog.Logger) (*SMACross, error) {
	if cfg.Short <= 0 || cfg.Long <= 0 {
		return nil, fmt.Errorf("sma windows must be positive (short=%d long=%d)", cfg.Short, cfg.Long)
	}
	if cfg.Short >= cfg.Long {
		return nil, fmt.Errorf("sma short window %d must be below long window %d", cfg.Short, cfg.Long)
	}
	if cfg.QuotePerTrade <= 0 {
		return nil, fmt.Errorf("sma quote_per_trade must be positive")
	}
	s := &SMACross{cfg: cfg, log: log, series: make(map[string]*smaSeries)}
	if len(cfg.Instruments) > 0 {
		s.allow = make(map[string]struct{}, len(cfg.Instruments))
		for _, id := range cfg.Instruments {
			s.allow[id] = struct{}{}
		}
	}
	return s, nil
}

// Name returns the configured identifier for logging.
func (s *SMACross) Name() string { return ModeSMACross }

// OnStart logs the configuration.
func (s *SMACross) OnStart(context.Context) error {
	s.log.Info().Int("short", s.cfg.Short).Int("long", s.cfg.Long).
		Float64("quote_per_trade", s.cfg.QuotePerTrade).Msg("sma cross started")
	return nil
}

// OnTick updates the averages and emits at most one order on a regime change.
func (s *SMACross) OnTick(_ context.Context, tick signal.Tick, snap portfolio.Snapshot) []execution.Order {
	if !tick.Valid() {
		return nil
	}
	if s.allow != nil {
		if _, ok := s.allow[tick.InstrumentID]; !ok {
			return nil
		}
	}
	series := s.series[tick.InstrumentID]
	if series == nil {
		series = &smaSeries{window: make([]float64, s.cfg.Long)}
		s.series[tick.InstrumentID] = series
	}
	series.push(tick.Last)
	if series.filled < s.cfg.Long {
		s.log.Debug().Str("sym", tick.InstrumentID).Int("have", series.filled).Int("need", s.cfg.Long).Msg("warming up")
		return nil
	}

	short, long := series.mean(s.cfg.Short), series.mean(s.cfg.Long)
	was := series.bullish
	switch {
	case short > long:
		series.bullish = true
	case short < long:
		series.bullish = false
	}

	switch {
	case !was && series.bullish:
		qty := s.cfg.QuotePerTrade / tick.Last
		s.log.Info().Str("sym", tick.InstrumentID).Float64("short", short).Float64("long", long).
			Float64("qty", qty).Msg("golden cross")
		return []execution.Order{{InstrumentID: tick.InstrumentID, Side: execution.Buy, Type: execution.Market, Qty: qty}}
	case was && !series.bullish:
		held := snap.PositionFor(tick.InstrumentID).Qty
		s.log.Info().Str("sym", tick.InstrumentID).Float64("short", short).Float64("long", long).
			Float64("held", held).Msg("death cross")
		if held <= quantityEpsilon {
			return nil
		}
		return []execution.Order{{InstrumentID: tick.InstrumentID, Side: execution.Sell, Type: execution.Market, Qty: held}}
	}
	return nil
}

// OnEnd emits nothing; open positions are left as they are.
func (s *SMACross) OnEnd(context.Context, portfolio.Snapshot) []execution.Order {
	s.log.Info().Msg("sma cross ended")
	return nil
}

func (r *smaSeries) push(px float64) {
	r.window[r.next] = px
	r.next = (r.next + 1) % len(r.window)
	if r.filled < len(r.window) {
		r.filled++
	}
}

// mean averages the most recent n prices.
func (r *smaSeries) mean(n int) float64 {
	var sum float64
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.window)) % len(r.window)
		sum += r.window[idx]
	}
	return sum / float64(n)
}
