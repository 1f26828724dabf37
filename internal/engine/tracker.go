package engine

import (
	"fmt"
	"math"
	"time"

	"quantbot-go/internal/execution"
	"quantbot-go/internal/portfolio"
)

const qtyEpsilon = 1e-9

// trackedOrder is the engine's record of one submitted order and of how much of it
// has already been applied to the portfolio.
type trackedOrder struct {
	id          string
	order       execution.Order
	state       execution.OrderState
	filledQty   float64
	notional    float64
	fees        float64
	submittedAt time.Time
	unresolved  bool
}

func (t *trackedOrder) done() bool { return t.state.Terminal() }

// tracker converts the cumulative fills brokers report into increments and keeps
// the set of orders still waiting for a terminal state, in submission order.
type tracker struct {
	orders  map[string]*trackedOrder
	pending []string
}

func newTracker() *tracker {
	return &tracker{orders: make(map[string]*trackedOrder)}
}

func (t *tracker) add(id string, order execution.Order, state execution.OrderState, now time.Time) *trackedOrder {
	to := &trackedOrder{id: id, order: order, state: state, submittedAt: now}
	t.orders[id] = to
	if !state.Terminal() {
		t.pending = append(t.pending, id)
	}
	return to
}

func (t *tracker) get(id string) (*trackedOrder, bool) {
	to, ok := t.orders[id]
	return to, ok
}

// Pending returns the ids of orders without a terminal state.
func (t *tracker) Pending() []string {
	out := make([]string, len(t.pending))
	copy(out, t.pending)
	return out
}

// delta returns the part of the cumulative fill cum not yet applied for order id.
// A zero-quantity result means nothing new executed.
func (t *tracker) delta(id string, cum execution.Fill) (execution.Fill, error) {
	reject := func(format string, args ...any) error {
		return &portfolio.InconsistentFillError{Fill: cum, Reason: fmt.Sprintf(format, args...)}
	}
	to, ok := t.orders[id]
	if !ok {
		return execution.Fill{}, reject("fill for unknown order %s", id)
	}
	if !finite(cum.Qty) || !finite(cum.Price) || !finite(cum.Fee) {
		return execution.Fill{}, reject("cumulative fill is not finite")
	}
	if to.done() && cum.Qty > to.filledQty+qtyEpsilon {
		return execution.Fill{}, reject("order %s already %s", id, to.state)
	}
	if cum.Qty < to.filledQty-qtyEpsilon {
		return execution.Fill{}, reject("cumulative quantity went backwards %.8f < %.8f", cum.Qty, to.filledQty)
	}
	if cum.Qty > to.order.Qty*(1+1e-6)+qtyEpsilon {
		return execution.Fill{}, reject("filled %.8f exceeds order quantity %.8f", cum.Qty, to.order.Qty)
	}

	out := execution.Fill{
		OrderRef:     id,
		InstrumentID: to.order.InstrumentID,
		Side:         to.order.Side,
		Status:       cum.Status,
		Ts:           cum.Ts,
	}
	dq := cum.Qty - to.filledQty
	if dq <= qtyEpsilon {
		return out, nil
	}
	out.Qty = dq
	out.Price = (cum.Qty*cum.Price - to.notional) / dq
	if out.Price <= 0 || math.IsInf(out.Price, 0) {
		out.Price = cum.Price
	}
	out.Fee = math.Max(0, cum.Fee-to.fees)
	return out, nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// commit records that the increment d of order id was applied.
func (t *tracker) commit(id string, d execution.Fill) {
	to, ok := t.orders[id]
	if !ok || d.Qty <= 0 {
		return
	}
	to.filledQty += d.Qty
	to.notional += d.Qty * d.Price
	to.fees += d.Fee
}

// setState moves order id to state, dropping it from the pending set once terminal.
func (t *tracker) setState(id string, state execution.OrderState) {
	to, ok := t.orders[id]
	if !ok || state == "" {
		return
	}
	to.state = state
	if !state.Terminal() {
		return
	}
	for i, pid := range t.pending {
		if pid == id {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			break
		}
	}
}
