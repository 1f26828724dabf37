// Package feed supplies market ticks to the engine from files, polling clients or streams.
package feed

import (
	"context"
	"errors"

	"quantbot-go/internal/signal"
)

// ErrExhausted is returned by Next once a finite feed has no more ticks, or after Close.
var ErrExhausted = errors.New("feed exhausted")

// DataFeed yields ticks in timestamp order for a set of instruments.
type DataFeed interface {
	// Next blocks until a tick is available, the feed is exhausted or ctx is done.
	Next(ctx context.Context) (signal.Tick, error)
	Close() error
}
