package feed

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"quantbot-go/internal/signal"
)

// StreamFunc runs a push-based market data source, calling emit for every tick
// until ctx is done or the source fails.
type StreamFunc func(ctx context.Context, emit func(signal.Tick) error) error

// StreamFeed adapts a StreamFunc into a DataFeed. The source runs on its own goroutine
// and hands ticks to the engine through a bounded Queue.
type StreamFeed struct {
	queue  *Queue
	log    zerolog.Logger
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewStreamFeed starts run in the background. The feed stops when parent is canceled or Close is called.
func NewStreamFeed(parent context.Context, name string, run StreamFunc, queue *Queue, log zerolog.Logger) *StreamFeed {
	ctx, cancel := context.WithCancel(parent)
	f := &StreamFeed{
		queue:  queue,
		log:    log,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(f.done)
		err := run(ctx, func(t signal.Tick) error { return queue.Push(ctx, t) })
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Str("feed", name).Msg("stream feed stopped")
		}
		f.err = err
	}()
	return f
}

// Next returns queued ticks first; once the source has stopped and the queue is drained
// it returns the source error, or ErrExhausted for a clean stop.
func (f *StreamFeed) Next(ctx context.Context) (signal.Tick, error) {
	select {
	case t := <-f.queue.ch:
		return t, nil
	default:
	}
	select {
	case t := <-f.queue.ch:
		return t, nil
	case <-f.done:
		select {
		case t := <-f.queue.ch:
			return t, nil
		default:
		}
		if f.err != nil && !errors.Is(f.err, context.Canceled) {
			return signal.Tick{}, f.err
		}
		return signal.Tick{}, ErrExhausted
	case <-ctx.Done():
		return signal.Tick{}, ctx.Err()
	}
}

// Dropped reports ticks evicted by the queue.
func (f *StreamFeed) Dropped() uint64 { return f.queue.Dropped() }

// Close stops the source and waits for its goroutine to exit.
func (f *StreamFeed) Close() error {
	f.cancel()
	<-f.done
	return nil
}
