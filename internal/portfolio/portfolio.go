// Package portfolio owns the cash and position ledger that fills are applied to.
package portfolio

import (
	"fmt"
	"math"

	"quantbot-go/internal/execution"
)

const epsilon = 1e-9

// Position is the signed holding of one instrument. Negative quantities are swap shorts.
type Position struct {
	InstrumentID string
	Qty          float64
	AvgPrice     float64
}

// Flat reports whether the position holds nothing.
func (p Position) Flat() bool { return math.Abs(p.Qty) <= epsilon }

// InconsistentFillError is returned when a fill fails validation; the portfolio is left unchanged.
type InconsistentFillError struct {
	Fill   execution.Fill
	Reason string
}

func (e *InconsistentFillError) Error() string {
	return fmt.Sprintf("inconsistent fill %s on %s: %s", e.Fill.OrderRef, e.Fill.InstrumentID, e.Reason)
}

// Portfolio tracks cash per currency, positions and realized PnL.
// It has a single owner (the engine loop) and performs no locking.
type Portfolio struct {
	instruments execution.Instruments
	cash        map[string]float64
	positions   map[string]Position
	realizedPnL float64
	fees        float64
}

// New constructs a portfolio seeded with starting cash balances.
func New(startingCash map[string]float64, instruments execution.Instruments) *Portfolio {
	cash := make(map[string]float64, len(startingCash))
	for ccy, amt := range startingCash {
		cash[ccy] = amt
	}
	return &Portfolio{
		instruments: instruments,
		cash:        cash,
		positions:   make(map[string]Position),
	}
}

// ApplyFill books a fill: cash moves by qty×price with the fee charged in the quote currency,
// the position and its average entry price are updated, and realized PnL accrues on any
// reduction of an existing position. Zero-quantity fills are accepted and ignored.
func (p *Portfolio) ApplyFill(fill execution.Fill) error {
	if err := validate(fill); err != nil {
		return err
	}
	if fill.Qty == 0 {
		return nil
	}

	inst := p.instruments.Lookup(fill.InstrumentID)
	signed := fill.Qty * fill.Side.Sign()
	pos := p.positions[fill.InstrumentID]
	pos.InstrumentID = fill.InstrumentID
	newQty := pos.Qty + signed

	switch {
	case pos.Flat() || sameSign(pos.Qty, signed):
		pos.AvgPrice = (math.Abs(pos.Qty)*pos.AvgPrice + fill.Qty*fill.Price) / math.Abs(newQty)
	default:
		closing := math.Min(math.Abs(signed), math.Abs(pos.Qty))
		p.realizedPnL += (fill.Price - pos.AvgPrice) * closing * sign(pos.Qty)
		if !sameSign(newQty, pos.Qty) {
			pos.AvgPrice = fill.Price
		}
	}
	pos.Qty = newQty

	if pos.Flat() {
		delete(p.positions, fill.InstrumentID)
	} else {
		p.positions[fill.InstrumentID] = pos
	}

	p.cash[inst.Quote] += -signed*fill.Price - fill.Fee
	p.fees += fill.Fee
	return nil
}

// Snapshot returns an immutable copy of the current state.
func (p *Portfolio) Snapshot() Snapshot {
	cash := make(map[string]float64, len(p.cash))
	for ccy, amt := range p.cash {
		cash[ccy] = amt
	}
	positions := make(map[string]Position, len(p.positions))
	for id, pos := range p.positions {
		positions[id] = pos
	}
	return Snapshot{cash: cash, positions: positions, realizedPnL: p.realizedPnL, fees: p.fees}
}

// PositionFor returns the position for id, or a flat one.
func (p *Portfolio) PositionFor(id string) Position {
	if pos, ok := p.positions[id]; ok {
		return pos
	}
	return Position{InstrumentID: id}
}

// Cash returns the balance held in ccy.
func (p *Portfolio) Cash(ccy string) float64 { return p.cash[ccy] }

// RealizedPnL returns total closed-trade profit and loss, before fees.
func (p *Portfolio) RealizedPnL() float64 { return p.realizedPnL }

func validate(fill execution.Fill) error {
	reject := func(reason string) error { return &InconsistentFillError{Fill: fill, Reason: reason} }
	switch {
	case fill.InstrumentID == "":
		return reject("missing instrument")
	case !fill.Side.Valid():
		return reject(fmt.Sprintf("unknown side %q", fill.Side))
	case math.IsNaN(fill.Qty) || math.IsInf(fill.Qty, 0):
		return reject("quantity is not finite")
	case fill.Qty < 0:
		return reject("negative quantity")
	case fill.Qty > 0 && (fill.Price <= 0 || math.IsNaN(fill.Price) || math.IsInf(fill.Price, 0)):
		return reject("non-positive price")
	case math.IsNaN(fill.Fee) || math.IsInf(fill.Fee, 0):
		return reject("fee is not finite")
	case fill.Fee < 0:
		return reject("negative fee")
	}
	return nil
}

func sameSign(a, b float64) bool { return (a > 0 && b > 0) || (a < 0 && b < 0) }

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
