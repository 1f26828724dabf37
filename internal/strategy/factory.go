package strategy

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"quantbot-go/internal/execution"
	"quantbot-go/internal/portfolio"
	"quantbot-go/internal/signal"
)

// Strategy turns ticks plus a read-only portfolio view into orders.
// Implementations are driven by a single engine goroutine.
type Strategy interface {
	Name() string
	OnStart(ctx context.Context) error
	OnTick(ctx context.Context, tick signal.Tick, snap portfolio.Snapshot) []execution.Order
	// OnEnd may return closing orders; they go through the same risk and broker path.
	OnEnd(ctx context.Context, snap portfolio.Snapshot) []execution.Order
}

const (
	ModeSMACross    = "sma_cross"
	ModeFundingArb  = "funding_arb"
	quantityEpsilon = 1e-8
)

// Params expresses tunable knobs required by strategy constructors.
type Params struct {
	Instruments []string
	SMA         SMAConfig
	Funding     FundingConfig
}

// Deps carries collaborators some strategies need.
type Deps struct {
	Log     zerolog.Logger
	Funding FundingSource
}

// Build returns a strategy implementation matching the configured mode.
func Build(mode string, params Params, deps Deps) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "sma", ModeSMACross:
		cfg := params.SMA
		if len(cfg.Instruments) == 0 {
			cfg.Instruments = params.Instruments
		}
		return NewSMACross(cfg, deps.Log)
	case "funding", "funding_arbitrage", ModeFundingArb:
		if deps.Funding == nil {
			return nil, fmt.Errorf("strategy %s requires a funding rate source", ModeFundingArb)
		}
		return NewFundingArb(params.Funding, deps.Funding, deps.Log)
	default:
		return nil, fmt.Errorf("unknown strategy mode %q", mode)
	}
}
