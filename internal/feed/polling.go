package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"quantbot-go/internal/execution"
	"quantbot-go/internal/signal"
)

// TickerSource fetches the current ticker for one instrument.
type TickerSource interface {
	Ticker(ctx context.Context, instrumentID string) (signal.Tick, error)
}

// PollingFeed queries a TickerSource for every instrument once per interval.
// Transient fetch errors are logged and the instrument is skipped for that round.
type PollingFeed struct {
	source   TickerSource
	ids      []string
	interval time.Duration
	log      zerolog.Logger
	pending  []signal.Tick
	lastPoll time.Time
	closed   bool
}

const defaultPollInterval = time.Second

// NewPollingFeed builds a polling feed; an interval of zero uses one second.
func NewPollingFeed(source TickerSource, ids []string, interval time.Duration, log zerolog.Logger) *PollingFeed {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &PollingFeed{
		source:   source,
		ids:      append([]string(nil), ids...),
		interval: interval,
		log:      log,
	}
}

// Next returns a buffered tick or waits for the next polling round.
func (f *PollingFeed) Next(ctx context.Context) (signal.Tick, error) {
	for {
		if f.closed || len(f.ids) == 0 {
			return signal.Tick{}, ErrExhausted
		}
		if len(f.pending) > 0 {
			tick := f.pending[0]
			f.pending = f.pending[1:]
			return tick, nil
		}
		if !f.lastPoll.IsZero() {
			wait := time.Until(f.lastPoll.Add(f.interval))
			if wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return signal.Tick{}, ctx.Err()
				case <-timer.C:
				}
			}
		}
		if err := f.poll(ctx); err != nil {
			return signal.Tick{}, err
		}
	}
}

func (f *PollingFeed) poll(ctx context.Context) error {
	f.lastPoll = time.Now()
	for _, id := range f.ids {
		tick, err := f.source.Ticker(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if execution.IsTransient(err) {
				f.log.Warn().Err(err).Str("sym", id).Msg("ticker poll failed")
				continue
			}
			return fmt.Errorf("poll ticker %s: %w", id, err)
		}
		if !tick.Valid() {
			f.log.Debug().Str("sym", id).Msg("ignoring empty ticker")
			continue
		}
		f.pending = append(f.pending, tick)
	}
	return nil
}

// Close stops polling; later Next calls return ErrExhausted.
func (f *PollingFeed) Close() error {
	f.closed = true
	f.pending = nil
	return nil
}
