// Package retry provides the bounded-retry policy shared by the telemetry
// feed, the geocoder, and the notification sinks.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds how an operation is retried. The zero value performs a
// single attempt with no delay.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int

	// Delay is the base delay between attempts.
	Delay time.Duration

	// Exponential selects exponential backoff starting at Delay;
	// otherwise the delay between attempts is constant.
	Exponential bool
}

// Do runs op under the policy, stopping early when ctx is cancelled or op
// returns an error wrapped by Permanent.
func (p Policy) Do(ctx context.Context, op func() error) error {
	return backoff.Retry(op, p.backOff(ctx))
}

// Permanent marks err as non-retryable so Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff
	if p.Exponential {
		eb := backoff.NewExponentialBackOff()
		if p.Delay > 0 {
			eb.InitialInterval = p.Delay
		}
		b = eb
	} else {
		b = backoff.NewConstantBackOff(p.Delay)
	}

	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}
