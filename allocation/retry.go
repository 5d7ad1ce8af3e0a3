package allocation

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// =============================================================================
// RETRY - Bounded polling primitive
// =============================================================================

// RetryPolicy bounds a polling loop. MaxAttempts counts the first call.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration

	// Exponential doubles the delay after every attempt, capped at MaxDelay
	// when MaxDelay > 0.
	Exponential bool
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is three attempts one second apart.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Delay: time.Second}

func (p RetryPolicy) backOff() backoff.BackOff {
	var b backoff.BackOff
	if p.Exponential {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = p.Delay
		eb.RandomizationFactor = 0
		eb.Multiplier = 2
		eb.MaxElapsedTime = 0
		if p.MaxDelay > 0 {
			eb.MaxInterval = p.MaxDelay
		}
		eb.Reset()
		b = eb
	} else {
		b = backoff.NewConstantBackOff(p.Delay)
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithMaxRetries(b, uint64(attempts-1))
}

// Retry calls fn until it returns nil, returns an error wrapped with
// backoff.Permanent, the attempt budget runs out, or ctx is done. It returns
// the number of attempts made and the last error.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context, attempt int) error) (int, error) {
	attempts := 0
	op := func() error {
		attempts++
		return fn(ctx, attempts)
	}
	err := backoff.Retry(op, backoff.WithContext(p.backOff(), ctx))
	return attempts, err
}
