// Package execution handles order lifecycle and interaction with venues.
package execution

import (
	"context"
	"fmt"
	"strings"
	"time"

	"quantbot-go/internal/signal"
)

// Side enumerates order directions used by the executor.
type Side string

const (
	// Buy indicates a long order (or a short cover on swaps).
	Buy Side = "buy"
	// Sell indicates a sell order (or a short open on swaps).
	Sell Side = "sell"
)

// Sign returns +1 for buys and -1 for sells.
func (s Side) Sign() float64 {
	if s == Sell {
		return -1
	}
	return 1
}

// Valid reports whether the side is one of the known values.
func (s Side) Valid() bool { return s == Buy || s == Sell }

// ParseSide normalises exchange side strings.
func ParseSide(raw string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy":
		return Buy, nil
	case "sell":
		return Sell, nil
	}
	return "", fmt.Errorf("unknown side %q", raw)
}

// OrderType distinguishes market and limit orders.
type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
)

// TradeMode selects the account context an order executes in.
type TradeMode string

const (
	ModeCash   TradeMode = "cash"
	ModeMargin TradeMode = "margin"
	ModeSwap   TradeMode = "swap"
)

// Order represents a placement request. Orders are immutable once submitted.
type Order struct {
	InstrumentID  string
	Side          Side
	Type          OrderType
	Qty           float64
	Price         float64 // 0 for market orders
	TradeMode     TradeMode
	ClientOrderID string
}

// FillStatus describes how much of an order a fill covers.
type FillStatus string

const (
	FillNone    FillStatus = "none"
	FillPartial FillStatus = "partial"
	FillFull    FillStatus = "full"
)

// Fill confirms that all or part of an order executed.
type Fill struct {
	OrderRef     string
	InstrumentID string
	Side         Side
	Qty          float64
	Price        float64
	Fee          float64
	Status       FillStatus
	Ts           time.Time
}

// Notional returns qty × price.
func (f Fill) Notional() float64 { return f.Qty * f.Price }

// OrderState tracks a submitted order through the venue lifecycle.
type OrderState string

const (
	StateSubmitted       OrderState = "submitted"
	StateLive            OrderState = "live"
	StatePartiallyFilled OrderState = "partially_filled"
	StateFilled          OrderState = "filled"
	StateCanceled        OrderState = "canceled"
	StateRejected        OrderState = "rejected"
	// StateTimedOut is assigned by the engine, never reported by a venue.
	StateTimedOut OrderState = "timed_out"
	// StateSkipped marks dry-run orders that were logged but never sent.
	StateSkipped OrderState = "skipped"
)

// Terminal reports whether no further fills can arrive for the order.
func (s OrderState) Terminal() bool {
	switch s {
	case StateFilled, StateCanceled, StateRejected, StateTimedOut, StateSkipped:
		return true
	}
	return false
}

var transitions = map[OrderState][]OrderState{
	StateSubmitted:       {StateLive, StatePartiallyFilled, StateFilled, StateCanceled, StateRejected, StateTimedOut, StateSkipped},
	StateLive:            {StatePartiallyFilled, StateFilled, StateCanceled, StateTimedOut},
	StatePartiallyFilled: {StatePartiallyFilled, StateFilled, StateCanceled, StateTimedOut},
}

// CanTransition reports whether moving from s to next is a legal lifecycle step.
// Re-reporting the same non-terminal state is allowed.
func (s OrderState) CanTransition(next OrderState) bool {
	if s == next && !s.Terminal() {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Ack is returned by Broker.Submit.
type Ack struct {
	OrderID string
	State   OrderState
	Fill    Fill
}

// Report is returned by Broker.PollFill. Fill is cumulative for the order.
type Report struct {
	State    OrderState
	Fill     Fill
	TimedOut bool
}

// Broker accepts orders and reports their fills.
type Broker interface {
	Name() string
	Submit(ctx context.Context, order Order) (Ack, error)
	PollFill(ctx context.Context, orderID string, timeout time.Duration) (Report, error)
	Cancel(ctx context.Context, orderID string) error
}

// TickObserver is implemented by brokers that price orders off the latest tick.
type TickObserver interface {
	Observe(tick signal.Tick)
}

func fillStatus(filledQty float64, state OrderState) FillStatus {
	switch {
	case filledQty <= 0:
		return FillNone
	case state == StateFilled:
		return FillFull
	default:
		return FillPartial
	}
}
