package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// OrderStatus is the venue's view of an order, with cumulative fill figures.
type OrderStatus struct {
	OrderID      string
	InstrumentID string
	Side         Side
	State        OrderState
	FilledQty    float64
	AvgPrice     float64
	Fee          float64
	UpdatedAt    time.Time
}

// ExchangeClient is the subset of a venue API the live broker depends on.
// Errors that are safe to retry must satisfy IsTransient.
type ExchangeClient interface {
	PlaceOrder(ctx context.Context, order Order) (string, error)
	GetOrder(ctx context.Context, instrumentID, orderID string) (OrderStatus, error)
	CancelOrder(ctx context.Context, instrumentID, orderID string) error
}

type liveOrder struct {
	order Order
	state OrderState
	fill  Fill
}

// Live routes orders to a real venue and polls for their fills.
// It is owned by the engine loop and not safe for concurrent use.
type Live struct {
	client       ExchangeClient
	log          zerolog.Logger
	retry        RetryPolicy
	pollInterval time.Duration
	orders       map[string]*liveOrder
}

// LiveOption configures a Live broker.
type LiveOption func(*Live)

// WithRetryPolicy overrides the transient-error retry budget.
func WithRetryPolicy(p RetryPolicy) LiveOption {
	return func(l *Live) { l.retry = p.normalized() }
}

// WithPollInterval sets the delay between order status queries.
func WithPollInterval(d time.Duration) LiveOption {
	return func(l *Live) {
		if d > 0 {
			l.pollInterval = d
		}
	}
}

// NewLive builds a live broker over client.
func NewLive(client ExchangeClient, log zerolog.Logger, opts ...LiveOption) *Live {
	l := &Live{
		client:       client,
		log:          log,
		retry:        DefaultRetryPolicy,
		pollInterval: 500 * time.Millisecond,
		orders:       make(map[string]*liveOrder),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name identifies the broker in logs.
func (l *Live) Name() string { return "live" }

// Submit places the order and returns immediately with state submitted.
// The client order id doubles as the venue idempotency key, so retried placements cannot double-fill.
func (l *Live) Submit(ctx context.Context, order Order) (Ack, error) {
	var id string
	err := Retry(ctx, l.retry, l.log, "place_order", func(ctx context.Context) error {
		var err error
		id, err = l.client.PlaceOrder(ctx, order)
		return err
	})
	if err != nil {
		return Ack{State: StateRejected}, err
	}
	if id == "" {
		return Ack{State: StateRejected}, fmt.Errorf("place_order: venue returned empty order id")
	}
	fill := Fill{OrderRef: id, InstrumentID: order.InstrumentID, Side: order.Side, Status: FillNone}
	l.orders[id] = &liveOrder{order: order, state: StateSubmitted, fill: fill}
	l.log.Info().Str("sym", order.InstrumentID).Str("side", string(order.Side)).
		Float64("qty", order.Qty).Str("order_id", id).Msg("order submitted")
	return Ack{OrderID: id, State: StateSubmitted, Fill: fill}, nil
}

// PollFill polls the venue until the order reaches a terminal state or timeout elapses.
// A timeout of zero performs a single status query. The returned fill is cumulative.
func (l *Live) PollFill(ctx context.Context, orderID string, timeout time.Duration) (Report, error) {
	lo, ok := l.orders[orderID]
	if !ok {
		return Report{}, fmt.Errorf("poll %s: %w", orderID, ErrUnknownOrder)
	}
	if timeout <= 0 {
		if err := l.refresh(ctx, orderID, lo); err != nil {
			return l.report(lo, false), err
		}
		return l.report(lo, !lo.state.Terminal()), nil
	}

	pollCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		err := l.refresh(pollCtx, orderID, lo)
		switch {
		case err == nil:
			if lo.state.Terminal() {
				return l.report(lo, false), nil
			}
		case ctx.Err() != nil:
			return l.report(lo, false), ctx.Err()
		case pollCtx.Err() != nil:
			return l.report(lo, true), nil
		default:
			return l.report(lo, false), err
		}

		select {
		case <-time.After(l.pollInterval):
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return l.report(lo, false), ctx.Err()
			}
			return l.report(lo, true), nil
		}
	}
}

// Cancel asks the venue to cancel an open order.
func (l *Live) Cancel(ctx context.Context, orderID string) error {
	lo, ok := l.orders[orderID]
	if !ok {
		return fmt.Errorf("cancel %s: %w", orderID, ErrUnknownOrder)
	}
	if lo.state.Terminal() {
		return nil
	}
	return Retry(ctx, l.retry, l.log, "cancel_order", func(ctx context.Context) error {
		return l.client.CancelOrder(ctx, lo.order.InstrumentID, orderID)
	})
}

func (l *Live) refresh(ctx context.Context, orderID string, lo *liveOrder) error {
	var status OrderStatus
	err := Retry(ctx, l.retry, l.log, "get_order", func(ctx context.Context) error {
		var err error
		status, err = l.client.GetOrder(ctx, lo.order.InstrumentID, orderID)
		return err
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return ctx.Err()
		}
		return err
	}
	if status.State != lo.state && !lo.state.CanTransition(status.State) {
		l.log.Warn().Str("order_id", orderID).Str("from", string(lo.state)).
			Str("to", string(status.State)).Msg("ignoring illegal order state transition")
		return nil
	}
	lo.state = status.State
	if status.FilledQty >= lo.fill.Qty {
		lo.fill.Qty = status.FilledQty
		lo.fill.Price = status.AvgPrice
		lo.fill.Fee = status.Fee
	}
	lo.fill.Status = fillStatus(lo.fill.Qty, lo.state)
	lo.fill.Ts = status.UpdatedAt
	if lo.fill.Ts.IsZero() {
		lo.fill.Ts = time.Now()
	}
	return nil
}

func (l *Live) report(lo *liveOrder, timedOut bool) Report {
	return Report{State: lo.state, Fill: lo.fill, TimedOut: timedOut}
}
