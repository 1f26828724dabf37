// Package engine runs the strategy event loop: feed → strategy → risk → broker → portfolio.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"quantbot-go/internal/execution"
	"quantbot-go/internal/feed"
	"quantbot-go/internal/journal"
	"quantbot-go/internal/metrics"
	"quantbot-go/internal/portfolio"
	"quantbot-go/internal/risk"
	"quantbot-go/internal/signal"
	"quantbot-go/internal/strategy"
)

// Policy decides what a transient broker or feed error does to the loop.
type Policy string

const (
	PolicyContinue Policy = "continue"
	PolicyAbort    Policy = "abort"
)

// ParsePolicy maps a config string to a Policy. Empty means continue.
func ParsePolicy(raw string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(PolicyContinue):
		return PolicyContinue, nil
	case string(PolicyAbort):
		return PolicyAbort, nil
	}
	return "", fmt.Errorf("unknown on_transient policy %q", raw)
}

// Stop reasons reported in Summary.StopReason.
const (
	StopFeedExhausted    = "feed_exhausted"
	StopMaxTicks         = "max_ticks"
	StopMaxPositionValue = "max_position_value"
	StopSignal           = "stopped"
	StopError            = "error"
)

// maxFeedErrors bounds consecutive transient feed errors tolerated under PolicyContinue.
const maxFeedErrors = 5

// Config tunes one engine run.
type Config struct {
	MaxTicks         int // 0 runs until the feed is exhausted
	FillWait         time.Duration
	OnTransient      Policy
	MaxPositionValue float64 // 0 disables the stop
	ShutdownTimeout  time.Duration
}

// FillSink receives every fill increment the portfolio accepted.
type FillSink interface {
	Record(fill execution.Fill)
}

// Journal persists orders so unresolved ones survive a restart.
type Journal interface {
	RecordOrder(ctx context.Context, rec journal.OrderRecord) error
	UpdateOrder(ctx context.Context, orderID string, state execution.OrderState, filledQty float64) error
	MarkUnresolved(ctx context.Context, orderID string) error
	RecordFill(ctx context.Context, fill execution.Fill) error
}

// Components are the collaborators an engine drives. Journal and Sinks are optional.
type Components struct {
	Feed        feed.DataFeed
	Strategy    strategy.Strategy
	Broker      execution.Broker
	Portfolio   *portfolio.Portfolio
	Risk        risk.Limits
	Instruments execution.Instruments
	Journal     Journal
	Sinks       []FillSink
}

// Summary describes a finished run.
type Summary struct {
	Ticks             int
	OrdersSubmitted   int
	RiskRejections    int
	Fills             int
	InconsistentFills int
	Unresolved        []string
	StopReason        string
	Portfolio         portfolio.Snapshot
	Marks             map[string]float64
}

// Engine owns the portfolio for the duration of Run. It is not safe for concurrent use.
type Engine struct {
	cfg     Config
	c       Components
	log     zerolog.Logger
	tracker *tracker
	marks   map[string]float64
	summary Summary
	newID   func() string
	now     func() time.Time
}

// Option customises an Engine.
type Option func(*Engine)

// WithIDGenerator overrides client order id generation.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// New validates the components and builds an engine.
func New(cfg Config, c Components, log zerolog.Logger, opts ...Option) (*Engine, error) {
	switch {
	case c.Feed == nil:
		return nil, errors.New("engine: feed is required")
	case c.Strategy == nil:
		return nil, errors.New("engine: strategy is required")
	case c.Broker == nil:
		return nil, errors.New("engine: broker is required")
	case c.Portfolio == nil:
		return nil, errors.New("engine: portfolio is required")
	}
	if cfg.OnTransient == "" {
		cfg.OnTransient = PolicyContinue
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.MaxTicks < 0 {
		cfg.MaxTicks = 0
	}
	e := &Engine{
		cfg:     cfg,
		c:       c,
		log:     log.With().Str("component", "engine").Str("strategy", c.Strategy.Name()).Str("broker", c.Broker.Name()).Logger(),
		tracker: newTracker(),
		marks:   make(map[string]float64),
		newID:   newClientOrderID,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// newClientOrderID returns a 32 character alphanumeric id, which OKX accepts as clOrdId.
func newClientOrderID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Run drives cycles until the feed is exhausted, MaxTicks is reached, the position
// limit trips, ctx is cancelled or a fatal error occurs. Shutdown always runs.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	if err := e.c.Strategy.OnStart(ctx); err != nil {
		_ = e.c.Feed.Close()
		return e.finish(StopError), fmt.Errorf("strategy start: %w", err)
	}
	e.log.Info().Int("max_ticks", e.cfg.MaxTicks).Dur("fill_wait", e.cfg.FillWait).Msg("engine started")

	reason, runErr := e.loop(ctx)
	if runErr != nil {
		e.log.Error().Err(runErr).Msg("engine aborted")
	}
	e.shutdown(ctx)
	return e.finish(reason), runErr
}

func (e *Engine) loop(ctx context.Context) (string, error) {
	feedErrors := 0
	for {
		if ctx.Err() != nil {
			return StopSignal, nil
		}
		if e.cfg.MaxTicks > 0 && e.summary.Ticks >= e.cfg.MaxTicks {
			return StopMaxTicks, nil
		}
		if err := e.reconcile(ctx); err != nil {
			return e.stopFor(ctx, err)
		}

		tick, err := e.c.Feed.Next(ctx)
		switch {
		case errors.Is(err, feed.ErrExhausted):
			return StopFeedExhausted, nil
		case err != nil && ctx.Err() != nil:
			return StopSignal, nil
		case err != nil && execution.IsTransient(err) && e.cfg.OnTransient == PolicyContinue && feedErrors < maxFeedErrors:
			feedErrors++
			e.log.Warn().Err(err).Int("consecutive", feedErrors).Msg("feed error, continuing")
			continue
		case err != nil:
			return StopError, fmt.Errorf("feed: %w", err)
		}

		feedErrors = 0
		if err := e.cycle(ctx, tick); err != nil {
			return e.stopFor(ctx, err)
		}
		if e.positionLimitReached() {
			e.log.Warn().Float64("limit", e.cfg.MaxPositionValue).Msg("max position value reached, stopping")
			return StopMaxPositionValue, nil
		}
	}
}

func (e *Engine) stopFor(ctx context.Context, err error) (string, error) {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return StopSignal, nil
	}
	return StopError, err
}

// cycle runs one tick through the strategy and executes the resulting orders in order.
func (e *Engine) cycle(ctx context.Context, tick signal.Tick) error {
	e.summary.Ticks++
	if !tick.Valid() {
		e.log.Debug().Str("sym", tick.InstrumentID).Float64("px", tick.Last).Msg("skipping invalid tick")
		return nil
	}
	metrics.TicksTotal.WithLabelValues(tick.InstrumentID).Inc()
	e.marks[tick.InstrumentID] = tick.Mid()
	if obs, ok := e.c.Broker.(execution.TickObserver); ok {
		obs.Observe(tick)
	}

	orders := e.c.Strategy.OnTick(ctx, tick, e.c.Portfolio.Snapshot())
	for _, order := range orders {
		if err := e.execute(ctx, order); err != nil {
			return err
		}
	}
	return nil
}

// execute takes one strategy order through rounding, risk, submission and the fill wait.
// A nil return means the loop may continue, even if the order itself failed.
func (e *Engine) execute(ctx context.Context, order execution.Order) error {
	inst := e.c.Instruments.Lookup(order.InstrumentID)
	if order.Type == "" {
		order.Type = execution.Market
	}
	if order.TradeMode == "" {
		order.TradeMode = inst.DefaultTradeMode()
	}
	if rounded := inst.RoundQty(order.Qty); rounded != order.Qty {
		e.log.Debug().Str("sym", order.InstrumentID).Float64("qty", order.Qty).Float64("rounded", rounded).Msg("quantity rounded to lot size")
		order.Qty = rounded
	}
	if order.Qty <= 0 {
		e.log.Info().Str("sym", order.InstrumentID).Str("side", string(order.Side)).Msg("order below lot size, dropped")
		return nil
	}
	if order.ClientOrderID == "" {
		order.ClientOrderID = e.newID()
	}

	decision := e.c.Risk.Check(order, e.c.Portfolio.Snapshot(), inst, e.marks[order.InstrumentID])
	if !decision.Allowed {
		e.summary.RiskRejections++
		metrics.RiskRejectionsTotal.WithLabelValues(order.InstrumentID).Inc()
		e.log.Info().Str("sym", order.InstrumentID).Str("side", string(order.Side)).
			Float64("qty", order.Qty).Float64("notional", decision.Notional).
			Str("reason", decision.Reason).Msg("order rejected by risk")
		return nil
	}

	ack, err := e.c.Broker.Submit(ctx, order)
	if err != nil {
		return e.brokerError(ctx, "submit", order.ClientOrderID, err)
	}
	e.summary.OrdersSubmitted++
	metrics.OrdersTotal.WithLabelValues(order.InstrumentID, string(order.Side)).Inc()
	e.tracker.add(ack.OrderID, order, execution.StateSubmitted, e.now())
	e.journalOrder(ctx, ack.OrderID, order, ack.State)
	e.settle(ctx, ack.OrderID, ack.State, ack.Fill)
	if ack.State.Terminal() {
		return nil
	}

	report, err := e.c.Broker.PollFill(ctx, ack.OrderID, e.cfg.FillWait)
	if err != nil {
		if ctx.Err() != nil {
			if report.State != "" {
				e.settle(ctx, ack.OrderID, report.State, report.Fill)
			}
			e.cancelDetached(ctx, ack.OrderID)
			return ctx.Err()
		}
		e.markUnresolved(ctx, ack.OrderID, "fill wait failed")
		return e.brokerError(ctx, "poll_fill", ack.OrderID, err)
	}
	e.settle(ctx, ack.OrderID, report.State, report.Fill)
	if report.TimedOut && !report.State.Terminal() {
		e.markUnresolved(ctx, ack.OrderID, "fill wait timed out, order left pending")
	}
	return nil
}

// reconcile gives every pending order one status query.
func (e *Engine) reconcile(ctx context.Context) error {
	for _, id := range e.tracker.Pending() {
		report, err := e.c.Broker.PollFill(ctx, id, 0)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := e.brokerError(ctx, "reconcile", id, err); err != nil {
				return err
			}
			continue
		}
		e.settle(ctx, id, report.State, report.Fill)
		if report.State.Terminal() {
			e.log.Info().Str("order_id", id).Str("state", string(report.State)).Msg("pending order resolved")
		}
	}
	return nil
}

// settle applies whatever part of the cumulative fill is new, then records the order state.
func (e *Engine) settle(ctx context.Context, id string, state execution.OrderState, cum execution.Fill) {
	to, ok := e.tracker.get(id)
	if !ok {
		e.inconsistent(&portfolio.InconsistentFillError{Fill: cum, Reason: "fill for unknown order " + id})
		return
	}
	if to.done() && state != to.state {
		e.log.Debug().Str("order_id", id).Str("state", string(state)).Msg("ignoring update for finished order")
		return
	}

	inc, err := e.tracker.delta(id, cum)
	if err == nil && inc.Qty > 0 {
		err = e.c.Portfolio.ApplyFill(inc)
	}
	switch {
	case err != nil:
		e.inconsistent(err)
	case inc.Qty > 0:
		e.tracker.commit(id, inc)
		e.summary.Fills++
		metrics.FillsTotal.WithLabelValues(inc.InstrumentID, string(inc.Side)).Inc()
		e.log.Info().Str("order_id", id).Str("sym", inc.InstrumentID).Str("side", string(inc.Side)).
			Float64("qty", inc.Qty).Float64("px", inc.Price).Float64("fee", inc.Fee).Msg("fill applied")
		for _, sink := range e.c.Sinks {
			sink.Record(inc)
		}
		if e.c.Journal != nil {
			if err := e.c.Journal.RecordFill(context.WithoutCancel(ctx), inc); err != nil {
				e.log.Warn().Err(err).Str("order_id", id).Msg("journal fill failed")
			}
		}
	}

	if state != "" && state != to.state && !to.state.CanTransition(state) {
		e.log.Warn().Str("order_id", id).Str("from", string(to.state)).Str("to", string(state)).Msg("illegal order state transition ignored")
		state = to.state
	}
	e.tracker.setState(id, state)
	metrics.PendingOrders.Set(float64(len(e.tracker.pending)))
	if e.c.Journal != nil {
		if err := e.c.Journal.UpdateOrder(context.WithoutCancel(ctx), id, to.state, to.filledQty); err != nil {
			e.log.Warn().Err(err).Str("order_id", id).Msg("journal update failed")
		}
	}
}

func (e *Engine) inconsistent(err error) {
	e.summary.InconsistentFills++
	metrics.InconsistentFillsTotal.Inc()
	e.log.Error().Err(err).Msg("inconsistent fill dropped")
}

// brokerError decides whether a broker failure ends the run.
func (e *Engine) brokerError(ctx context.Context, op, id string, err error) error {
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, execution.ErrBrokerUnavailable):
		return fmt.Errorf("%s %s: %w", op, id, err)
	case execution.IsTransient(err) && e.cfg.OnTransient == PolicyAbort:
		return fmt.Errorf("%s %s: %w", op, id, err)
	}
	e.log.Warn().Err(err).Str("op", op).Str("order_id", id).Msg("broker call failed, continuing")
	return nil
}

// cancelDetached asks the broker to cancel id after the run context was cancelled,
// then records whatever the venue reports.
func (e *Engine) cancelDetached(ctx context.Context, id string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.ShutdownTimeout)
	defer cancel()
	if err := e.c.Broker.Cancel(cctx, id); err != nil {
		e.log.Warn().Err(err).Str("order_id", id).Msg("best-effort cancel failed")
	} else {
		e.log.Info().Str("order_id", id).Msg("in-flight order cancelled on stop")
	}
	if report, err := e.c.Broker.PollFill(cctx, id, 0); err == nil {
		e.settle(cctx, id, report.State, report.Fill)
	}
	if to, ok := e.tracker.get(id); ok && !to.done() {
		e.markUnresolved(cctx, id, "order unresolved after cancel")
	}
}

// shutdown sends the strategy's closing orders under a bounded context, gives pending
// orders a last poll and closes the feed.
func (e *Engine) shutdown(ctx context.Context) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.ShutdownTimeout)
	defer cancel()

	for _, order := range e.c.Strategy.OnEnd(sctx, e.c.Portfolio.Snapshot()) {
		if err := e.execute(sctx, order); err != nil {
			e.log.Error().Err(err).Str("sym", order.InstrumentID).Msg("closing order failed")
			break
		}
	}
	if err := e.reconcile(sctx); err != nil {
		e.log.Warn().Err(err).Msg("final reconciliation failed")
	}
	for _, id := range e.tracker.Pending() {
		e.markUnresolved(sctx, id, "order unresolved at shutdown")
	}
	if err := e.c.Feed.Close(); err != nil {
		e.log.Warn().Err(err).Msg("feed close failed")
	}
}

func (e *Engine) markUnresolved(ctx context.Context, id, msg string) {
	to, ok := e.tracker.get(id)
	if !ok {
		return
	}
	to.unresolved = true
	e.log.Warn().Str("order_id", id).Str("sym", to.order.InstrumentID).Str("state", string(to.state)).
		Float64("filled", to.filledQty).Msg(msg)
	if e.c.Journal != nil {
		if err := e.c.Journal.MarkUnresolved(context.WithoutCancel(ctx), id); err != nil {
			e.log.Warn().Err(err).Str("order_id", id).Msg("journal mark unresolved failed")
		}
	}
}

func (e *Engine) journalOrder(ctx context.Context, id string, order execution.Order, state execution.OrderState) {
	if e.c.Journal == nil {
		return
	}
	rec := journal.OrderRecord{
		OrderID:       id,
		ClientOrderID: order.ClientOrderID,
		Broker:        e.c.Broker.Name(),
		InstrumentID:  order.InstrumentID,
		Side:          order.Side,
		Type:          order.Type,
		Qty:           order.Qty,
		Price:         order.Price,
		State:         state,
	}
	if err := e.c.Journal.RecordOrder(context.WithoutCancel(ctx), rec); err != nil {
		e.log.Warn().Err(err).Str("order_id", id).Msg("journal order failed")
	}
}

func (e *Engine) positionLimitReached() bool {
	if e.cfg.MaxPositionValue <= 0 {
		return false
	}
	return e.c.Portfolio.Snapshot().LongValue(e.marks) >= e.cfg.MaxPositionValue
}

func (e *Engine) finish(reason string) Summary {
	s := e.summary
	s.StopReason = reason
	s.Unresolved = e.tracker.Pending()
	s.Portfolio = e.c.Portfolio.Snapshot()
	s.Marks = make(map[string]float64, len(e.marks))
	for id, px := range e.marks {
		s.Marks[id] = px
	}
	e.log.Info().
		Str("reason", reason).
		Int("ticks", s.Ticks).
		Int("orders", s.OrdersSubmitted).
		Int("fills", s.Fills).
		Int("risk_rejections", s.RiskRejections).
		Int("unresolved", len(s.Unresolved)).
		Interface("cash", s.Portfolio.CashBalances()).
		Float64("realized_pnl", s.Portfolio.RealizedPnL()).
		Float64("unrealized_pnl", s.Portfolio.UnrealizedPnL(s.Marks)).
		Float64("fees", s.Portfolio.Fees()).
		Msg("final portfolio")
	return s
}
