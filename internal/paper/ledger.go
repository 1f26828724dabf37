package paper

import (
	"sync"

	"quantbot-go/internal/execution"
)

// Ledger keeps every fill the engine applied, in order, for end-of-run reporting.
type Ledger struct {
	mu    sync.Mutex
	fills []execution.Fill
}

// NewLedger creates an empty ledger optionally pre-sizing storage.
func NewLedger(capacity int) *Ledger {
	if capacity < 0 {
		capacity = 0
	}
	return &Ledger{fills: make([]execution.Fill, 0, capacity)}
}

// Record appends a fill to the ledger. Zero-quantity fills are skipped.
func (l *Ledger) Record(fill execution.Fill) {
	if fill.Qty == 0 {
		return
	}
	l.mu.Lock()
	l.fills = append(l.fills, fill)
	l.mu.Unlock()
}

// Snapshot returns a copy of the recorded fills.
func (l *Ledger) Snapshot() []execution.Fill {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]execution.Fill, len(l.fills))
	copy(out, l.fills)
	return out
}

// Totals sums traded notional and fees per instrument.
func (l *Ledger) Totals() map[string]Total {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]Total)
	for _, f := range l.fills {
		t := out[f.InstrumentID]
		t.Fills++
		t.Notional += f.Notional()
		t.Fees += f.Fee
		out[f.InstrumentID] = t
	}
	return out
}

// Total aggregates fills for one instrument.
type Total struct {
	Fills    int
	Notional float64
	Fees     float64
}

// Reset clears all stored fills.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.fills = l.fills[:0]
	l.mu.Unlock()
}
