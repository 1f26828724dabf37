package portfolio

import "math"

// Snapshot is a read-only view of the portfolio at one point in time.
type Snapshot struct {
	cash        map[string]float64
	positions   map[string]Position
	realizedPnL float64
	fees        float64
}

// Cash returns the balance held in ccy.
func (s Snapshot) Cash(ccy string) float64 { return s.cash[ccy] }

// CashBalances returns a copy of every cash balance.
func (s Snapshot) CashBalances() map[string]float64 {
	out := make(map[string]float64, len(s.cash))
	for ccy, amt := range s.cash {
		out[ccy] = amt
	}
	return out
}

// PositionFor returns the position for id, or a flat one.
func (s Snapshot) PositionFor(id string) Position {
	if pos, ok := s.positions[id]; ok {
		return pos
	}
	return Position{InstrumentID: id}
}

// Positions returns a copy of all open positions.
func (s Snapshot) Positions() map[string]Position {
	out := make(map[string]Position, len(s.positions))
	for id, pos := range s.positions {
		out[id] = pos
	}
	return out
}

// RealizedPnL returns closed-trade profit and loss before fees.
func (s Snapshot) RealizedPnL() float64 { return s.realizedPnL }

// Fees returns the total fees paid.
func (s Snapshot) Fees() float64 { return s.fees }

// UnrealizedPnL marks open positions against marks; instruments without a mark are skipped.
func (s Snapshot) UnrealizedPnL(marks map[string]float64) float64 {
	var total float64
	for id, pos := range s.positions {
		if mark := marks[id]; mark > 0 {
			total += (mark - pos.AvgPrice) * pos.Qty
		}
	}
	return total
}

// Exposure returns the gross notional of open positions at marks.
func (s Snapshot) Exposure(marks map[string]float64) float64 {
	var total float64
	for id, pos := range s.positions {
		total += math.Abs(pos.Qty) * marks[id]
	}
	return total
}

// LongValue returns the notional of long positions only.
func (s Snapshot) LongValue(marks map[string]float64) float64 {
	var total float64
	for id, pos := range s.positions {
		if pos.Qty > 0 {
			total += pos.Qty * marks[id]
		}
	}
	return total
}
