// Package signal standardizes market data payloads shared between feeds, strategies and brokers.
package signal

import "time"

// Tick is a timestamped price observation for one instrument. Ticks are values and never mutated.
type Tick struct {
	InstrumentID string
	Ts           time.Time
	Last         float64
	Bid          float64 // 0 when the venue did not report a bid
	Ask          float64 // 0 when the venue did not report an ask
}

// HasQuote reports whether both sides of the book were present.
func (t Tick) HasQuote() bool { return t.Bid > 0 && t.Ask > 0 && t.Ask >= t.Bid }

// Mid returns the bid/ask midpoint when quoted, otherwise the last trade price.
func (t Tick) Mid() float64 {
	if t.HasQuote() {
		return (t.Bid + t.Ask) / 2
	}
	return t.Last
}

// Valid reports whether the tick carries a usable price.
func (t Tick) Valid() bool { return t.InstrumentID != "" && t.Last > 0 }
