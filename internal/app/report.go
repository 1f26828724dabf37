package app

import (
	"context"
	"sort"

	"github.com/rs/zerolog"

	"quantbot-go/internal/engine"
	"quantbot-go/internal/paper"
)

// FixedRate is a constant funding rate source for backtests without venue access.
type FixedRate float64

// FundingRate returns the fixed rate for every instrument.
func (r FixedRate) FundingRate(context.Context, string) (float64, error) { return float64(r), nil }

// LogRun writes the per-instrument fill totals and open positions of a finished run.
func LogRun(log zerolog.Logger, sum engine.Summary, ledger *paper.Ledger) {
	if ledger != nil {
		totals := ledger.Totals()
		ids := make([]string, 0, len(totals))
		for id := range totals {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			t := totals[id]
			log.Info().Str("sym", id).Int("fills", t.Fills).Float64("notional", t.Notional).Float64("fees", t.Fees).Msg("traded")
		}
	}
	for id, pos := range sum.Portfolio.Positions() {
		log.Info().Str("sym", id).Float64("qty", pos.Qty).Float64("avg_px", pos.AvgPrice).Float64("mark", sum.Marks[id]).Msg("open position")
	}
	for _, id := range sum.Unresolved {
		log.Warn().Str("order_id", id).Msg("order left unresolved, reconcile on the venue")
	}
}
