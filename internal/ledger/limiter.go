package ledger

import (
	"context"
	"fmt"
	"time"

	"ledgersync/internal/metrics"
	"ledgersync/internal/syncerr"

	"golang.org/x/time/rate"
)

// Limiter is the token bucket bounding calls to the ledger provider. One
// instance is shared by every worker, so pool concurrency cannot exceed the
// provider's global budget. Acquire blocks cooperatively; it never drops a
// call, but the wait is bounded by acquireTimeout and a timed-out wait
// surfaces as a retryable error.
type Limiter struct {
	lim            *rate.Limiter
	acquireTimeout time.Duration
}

func NewLimiter(rps float64, burst int, acquireTimeout time.Duration) *Limiter {
	return &Limiter{
		lim:            rate.NewLimiter(rate.Limit(rps), burst),
		acquireTimeout: acquireTimeout,
	}
}

// Acquire blocks until a call slot is available or the bounded wait
// expires.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := time.Now()

	waitCtx, cancel := context.WithTimeout(ctx, l.acquireTimeout)
	defer cancel()

	if err := l.lim.Wait(waitCtx); err != nil {
		return syncerr.Retryable(fmt.Errorf("acquire rate limit slot: %w", err))
	}

	metrics.ObserveRateLimitWait(time.Since(start).Seconds())
	return nil
}
