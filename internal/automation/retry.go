package automation

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how often a failed dispatch is attempted again.
// MaxRetries is the number of extra attempts after the first one.
type RetryPolicy struct {
	MaxRetries int
	Interval   time.Duration
}

// SingleAttempt never retries. Manual tests use it.
var SingleAttempt = RetryPolicy{}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	if p.MaxRetries <= 0 {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}

	interval := p.Interval
	if interval <= 0 {
		interval = time.Second
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = interval
	eb.MaxInterval = 10 * interval
	eb.MaxElapsedTime = 0

	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.MaxRetries)), ctx)
}
