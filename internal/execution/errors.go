package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"quantbot-go/internal/metrics"
)

var (
	// ErrBrokerUnavailable is returned once the retry budget for a venue call is spent.
	ErrBrokerUnavailable = errors.New("broker unavailable")
	// ErrUnknownOrder is returned for order ids the broker never issued.
	ErrUnknownOrder = errors.New("unknown order")
)

// TransientError wraps a venue failure worth retrying (network, 5xx, rate limit).
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("%s: transient: %v", e.Op, e.Err) }

func (e *TransientError) Unwrap() error { return e.Err }

// Transient marks err as retryable.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err (or anything it wraps) is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// RetryPolicy bounds retries of transient failures.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryPolicy is three attempts starting at 250ms.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, BaseDelay: 250 * time.Millisecond, MaxDelay: 5 * time.Second}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultRetryPolicy.Attempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultRetryPolicy.BaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// Retry runs fn until it succeeds, fails permanently, or the attempts run out.
// Exhausting the budget on transient errors yields ErrBrokerUnavailable.
func Retry(ctx context.Context, p RetryPolicy, log zerolog.Logger, op string, fn func(context.Context) error) error {
	p = p.normalized()
	backoff := p.BaseDelay
	var last error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		last = err
		metrics.BrokerRetriesTotal.WithLabelValues(op).Inc()
		if attempt == p.Attempts {
			break
		}
		log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Dur("backoff", backoff).Msg("transient venue error, retrying")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = time.Duration(math.Min(float64(p.MaxDelay), float64(backoff)*1.8))
	}
	return fmt.Errorf("%s: %w after %d attempts: %v", op, ErrBrokerUnavailable, p.Attempts, last)
}
