package exchange

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// backoffSchedule is the exponential retry ladder for transient errors.
var backoffSchedule = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
}

const backoffCap = 30 * time.Second

// withRetry runs fn, retrying transient and network errors on the
// exponential schedule and honoring advertised rate-limit windows.
// Rejected and auth failures are returned immediately.
func withRetry(ctx context.Context, logger *zap.Logger, op string, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		ee, ok := AsExchangeError(err)
		if !ok || !ee.IsRetryable() || attempt >= len(backoffSchedule) {
			return err
		}

		delay := backoffSchedule[attempt]
		if ee.Kind == KindRateLimited {
			// Additive sleep until the rate-limit window resets.
			delay += ee.RetryAfter
		}
		if delay > backoffCap {
			delay = backoffCap
		}

		logger.Warn("retrying exchange call",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.String("kind", ee.Kind.String()),
		)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
