package feed

import (
	"context"
	"time"

	"quantbot-go/internal/signal"
)

// StubFeed emits deterministic synthetic ticks: every instrument gets the same price,
// which moves by step after each round. A limit of zero means unbounded.
type StubFeed struct {
	ids   []string
	px    float64
	step  float64
	limit int
	start time.Time
	every time.Duration
	n     int
	done  bool
}

// NewStubFeed builds a stub feed for ids starting at price start.
func NewStubFeed(ids []string, start, step float64, limit int) *StubFeed {
	if start <= 0 {
		start = 100
	}
	return &StubFeed{
		ids:   append([]string(nil), ids...),
		px:    start,
		step:  step,
		limit: limit,
		start: time.Unix(0, 0).UTC(),
		every: 500 * time.Millisecond,
	}
}

// Next returns the next synthetic tick.
func (f *StubFeed) Next(ctx context.Context) (signal.Tick, error) {
	if err := ctx.Err(); err != nil {
		return signal.Tick{}, err
	}
	if f.done || len(f.ids) == 0 || (f.limit > 0 && f.n >= f.limit) {
		return signal.Tick{}, ErrExhausted
	}
	round := f.n / len(f.ids)
	id := f.ids[f.n%len(f.ids)]
	tick := signal.Tick{
		InstrumentID: id,
		Ts:           f.start.Add(time.Duration(round) * f.every),
		Last:         f.px + float64(round)*f.step,
	}
	f.n++
	return tick, nil
}

// Close stops the feed.
func (f *StubFeed) Close() error {
	f.done = true
	return nil
}

// SliceFeed replays a fixed list of ticks.
type SliceFeed struct {
	ticks []signal.Tick
	pos   int
}

// NewSliceFeed copies ticks into a finite feed.
func NewSliceFeed(ticks []signal.Tick) *SliceFeed {
	return &SliceFeed{ticks: append([]signal.Tick(nil), ticks...)}
}

// PriceSeries builds one tick per price for id, one second apart.
func PriceSeries(id string, prices ...float64) []signal.Tick {
	base := time.Unix(1_700_000_000, 0).UTC()
	out := make([]signal.Tick, len(prices))
	for i, px := range prices {
		out[i] = signal.Tick{InstrumentID: id, Ts: base.Add(time.Duration(i) * time.Second), Last: px}
	}
	return out
}

// Next returns the next tick or ErrExhausted.
func (f *SliceFeed) Next(ctx context.Context) (signal.Tick, error) {
	if err := ctx.Err(); err != nil {
		return signal.Tick{}, err
	}
	if f.pos >= len(f.ticks) {
		return signal.Tick{}, ErrExhausted
	}
	t := f.ticks[f.pos]
	f.pos++
	return t, nil
}

// Close exhausts the feed.
func (f *SliceFeed) Close() error {
	f.pos = len(f.ticks)
	return nil
}
