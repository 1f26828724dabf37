// Package risk applies stateless pre-trade checks to proposed orders.
package risk

import (
	"fmt"
	"math"

	"quantbot-go/internal/execution"
	"quantbot-go/internal/portfolio"
)

// Limits are the configured guard-rails.
type Limits struct {
	MaxNotionalPerTrade float64
	// FeeRate is added on top of buy notional when checking available cash.
	FeeRate float64
}

// Decision is the outcome of a check. A rejection is a normal result, not an error.
type Decision struct {
	Allowed  bool
	Reason   string
	Notional float64
}

// Allow reports whether notional fits under the per-order cap. A zero cap disables it.
func (l Limits) Allow(notional float64) bool {
	return l.MaxNotionalPerTrade <= 0 || notional <= l.MaxNotionalPerTrade
}

// Check evaluates order against the limits, the portfolio snapshot and instrument reference data.
// refPrice is the latest observed price; limit orders are valued at their own price. Check is total.
func (l Limits) Check(order execution.Order, snap portfolio.Snapshot, inst execution.Instrument, refPrice float64) Decision {
	if order.Qty <= 0 || math.IsNaN(order.Qty) || math.IsInf(order.Qty, 0) {
		return reject(0, "non-positive quantity %.8f", order.Qty)
	}
	if !order.Side.Valid() {
		return reject(0, "unknown side %q", order.Side)
	}
	px := refPrice
	if order.Type == execution.Limit && order.Price > 0 {
		px = order.Price
	}
	if px <= 0 || math.IsNaN(px) {
		return reject(0, "no reference price for %s", order.InstrumentID)
	}

	notional := order.Qty * px
	if !l.Allow(notional) {
		return reject(notional, "notional %.4f exceeds max %.4f per order", notional, l.MaxNotionalPerTrade)
	}
	if inst.MinNotional > 0 && notional < inst.MinNotional {
		return reject(notional, "notional %.4f below instrument minimum %.4f", notional, inst.MinNotional)
	}
	if order.Side == execution.Buy {
		need := notional * (1 + math.Max(0, l.FeeRate))
		if cash := snap.Cash(inst.Quote); need > cash {
			return reject(notional, "needs %.4f %s, only %.4f available", need, inst.Quote, cash)
		}
	}
	return Decision{Allowed: true, Notional: notional}
}

func reject(notional float64, format string, args ...any) Decision {
	return Decision{Allowed: false, Reason: fmt.Sprintf(format, args...), Notional: notional}
}
