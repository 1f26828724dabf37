package execution

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"quantbot-go/internal/signal"
)

// DryRun logs orders instead of sending them. Every Submit returns a synthetic zero fill.
type DryRun struct {
	log     zerolog.Logger
	feeRate float64
	prices  map[string]float64
}

// NewDryRun wraps a zerolog logger. feeRate is only used to log the would-be fee.
func NewDryRun(log zerolog.Logger, feeRate float64) *DryRun {
	return &DryRun{log: log, feeRate: feeRate, prices: make(map[string]float64)}
}

// Name identifies the broker in logs.
func (d *DryRun) Name() string { return "dry-run" }

// Observe tracks the reference price used for logging.
func (d *DryRun) Observe(tick signal.Tick) {
	if tick.Valid() {
		d.prices[tick.InstrumentID] = tick.Last
	}
}

// Submit logs the order request and returns a zero fill in state skipped.
func (d *DryRun) Submit(_ context.Context, order Order) (Ack, error) {
	px := order.Price
	if px <= 0 {
		px = d.prices[order.InstrumentID]
	}
	notional := order.Qty * px
	d.log.Info().
		Str("sym", order.InstrumentID).
		Str("side", string(order.Side)).
		Float64("qty", order.Qty).
		Float64("px", px).
		Float64("notional", notional).
		Float64("fee", notional*d.feeRate).
		Str("client_order_id", order.ClientOrderID).
		Msg("dry-run order (not sent)")

	id := "dry-" + order.ClientOrderID
	return Ack{
		OrderID: id,
		State:   StateSkipped,
		Fill: Fill{
			OrderRef:     id,
			InstrumentID: order.InstrumentID,
			Side:         order.Side,
			Status:       FillNone,
			Ts:           time.Now(),
		},
	}, nil
}

// PollFill never has anything to report.
func (d *DryRun) PollFill(_ context.Context, orderID string, _ time.Duration) (Report, error) {
	return Report{State: StateSkipped, Fill: Fill{OrderRef: orderID, Status: FillNone}}, nil
}

// Cancel is a no-op.
func (d *DryRun) Cancel(context.Context, string) error { return nil }
