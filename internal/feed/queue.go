package feed

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"quantbot-go/internal/metrics"
	"quantbot-go/internal/signal"
)

// OverflowPolicy decides what a full Queue does with a new tick.
type OverflowPolicy string

const (
	// DropOldest evicts the oldest queued tick to make room.
	DropOldest OverflowPolicy = "drop_oldest"
	// Block makes the producer wait for the consumer.
	Block OverflowPolicy = "block"
)

// ParseOverflowPolicy accepts drop_oldest (default when empty) or block.
func ParseOverflowPolicy(raw string) (OverflowPolicy, error) {
	switch OverflowPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", DropOldest:
		return DropOldest, nil
	case Block:
		return Block, nil
	}
	return "", fmt.Errorf("unknown overflow policy %q", raw)
}

// Queue is a bounded single-producer single-consumer tick buffer.
type Queue struct {
	name    string
	ch      chan signal.Tick
	policy  OverflowPolicy
	dropped atomic.Uint64
}

// NewQueue creates a queue holding at most capacity ticks.
func NewQueue(name string, capacity int, policy OverflowPolicy) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	if policy == "" {
		policy = DropOldest
	}
	return &Queue{name: name, ch: make(chan signal.Tick, capacity), policy: policy}
}

// Push enqueues tick according to the overflow policy. Only Block can wait,
// and it returns ctx.Err() if ctx ends first.
func (q *Queue) Push(ctx context.Context, tick signal.Tick) error {
	if q.policy == Block {
		select {
		case q.ch <- tick:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for {
		select {
		case q.ch <- tick:
			return nil
		default:
		}
		select {
		case <-q.ch:
			q.dropped.Add(1)
			metrics.DroppedTicksTotal.WithLabelValues(q.name).Inc()
		default:
		}
	}
}

// Pop waits for the next tick.
func (q *Queue) Pop(ctx context.Context) (signal.Tick, error) {
	select {
	case t := <-q.ch:
		return t, nil
	case <-ctx.Done():
		return signal.Tick{}, ctx.Err()
	}
}

// Len reports the number of queued ticks.
func (q *Queue) Len() int { return len(q.ch) }

// Dropped reports how many ticks DropOldest has evicted.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }
