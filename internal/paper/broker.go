// Package paper simulates execution for backtests and paper trading.
package paper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quantbot-go/internal/execution"
	"quantbot-go/internal/signal"
)

// ErrNoPrice is returned when an order arrives before any tick for its instrument.
var ErrNoPrice = errors.New("no reference price")

// Broker fills every marketable order immediately at the latest tick's mid (or last) price.
// Results are deterministic given the tick history.
type Broker struct {
	feeRate float64
	last    map[string]signal.Tick
	orders  map[string]execution.Report
	seq     int
}

// NewBroker builds a paper broker charging feeRate (e.g. 0.0005 = 5 bps) on notional.
func NewBroker(feeRate float64) *Broker {
	return &Broker{
		feeRate: feeRate,
		last:    make(map[string]signal.Tick),
		orders:  make(map[string]execution.Report),
	}
}

// Name identifies the broker in logs.
func (b *Broker) Name() string { return "paper" }

// Observe records the latest tick used for matching.
func (b *Broker) Observe(tick signal.Tick) {
	if tick.Valid() {
		b.last[tick.InstrumentID] = tick
	}
}

// Submit matches the order synchronously and returns a full fill.
// Marketable limit orders fill at their limit price; the rest are rejected.
func (b *Broker) Submit(_ context.Context, order execution.Order) (execution.Ack, error) {
	b.seq++
	id := order.ClientOrderID
	if id == "" {
		id = fmt.Sprintf("paper-%d", b.seq)
	}
	if order.Qty <= 0 {
		return execution.Ack{OrderID: id, State: execution.StateRejected}, errors.New("quantity must be positive")
	}
	tick, ok := b.last[order.InstrumentID]
	if !ok {
		return execution.Ack{OrderID: id, State: execution.StateRejected}, fmt.Errorf("%s: %w", order.InstrumentID, ErrNoPrice)
	}

	px := tick.Mid()
	if order.Type == execution.Limit && order.Price > 0 {
		marketable := (order.Side == execution.Buy && order.Price >= px) ||
			(order.Side == execution.Sell && order.Price <= px)
		if !marketable {
			rep := execution.Report{State: execution.StateRejected, Fill: execution.Fill{OrderRef: id, InstrumentID: order.InstrumentID, Side: order.Side, Status: execution.FillNone}}
			b.orders[id] = rep
			return execution.Ack{OrderID: id, State: rep.State, Fill: rep.Fill}, nil
		}
		px = order.Price
	}

	fill := execution.Fill{
		OrderRef:     id,
		InstrumentID: order.InstrumentID,
		Side:         order.Side,
		Qty:          order.Qty,
		Price:        px,
		Fee:          px * order.Qty * b.feeRate,
		Status:       execution.FillFull,
		Ts:           tick.Ts,
	}
	if fill.Ts.IsZero() {
		fill.Ts = time.Now()
	}
	b.orders[id] = execution.Report{State: execution.StateFilled, Fill: fill}
	return execution.Ack{OrderID: id, State: execution.StateFilled, Fill: fill}, nil
}

// PollFill returns the recorded outcome; paper orders never wait.
func (b *Broker) PollFill(_ context.Context, orderID string, _ time.Duration) (execution.Report, error) {
	rep, ok := b.orders[orderID]
	if !ok {
		return execution.Report{}, fmt.Errorf("poll %s: %w", orderID, execution.ErrUnknownOrder)
	}
	return rep, nil
}

// Cancel is a no-op because paper orders are terminal on submit.
func (b *Broker) Cancel(_ context.Context, orderID string) error {
	if _, ok := b.orders[orderID]; !ok {
		return fmt.Errorf("cancel %s: %w", orderID, execution.ErrUnknownOrder)
	}
	return nil
}
