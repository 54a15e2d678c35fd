package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"

	"finnscout/internal/gmaps"
	"finnscout/internal/ratelimit"
)

// Caller funnels every Maps API call through the rate limiter, the per-API
// budget and a classification-aware retry policy. Rate limit errors back off
// long and reset the local window, since the provider's view of the quota
// has diverged from ours. Transient errors get a quick retry. Permanent
// errors fail immediately.
type Caller struct {
	limiter *ratelimit.Limiter
	log     *slog.Logger

	attempts       uint
	rateLimitDelay time.Duration
	transientDelay time.Duration
}

// NewCaller builds a Caller. logger may be nil.
func NewCaller(limiter *ratelimit.Limiter, logger *slog.Logger) *Caller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Caller{
		limiter: limiter,
		log:     logger,
		// First attempt plus three retries.
		attempts:       4,
		rateLimitDelay: 5 * time.Second,
		transientDelay: time.Second,
	}
}

// Do runs fn under the limiter, budget and retry policy. Budget is consumed
// per attempt, because every attempt is a billed API call.
func (c *Caller) Do(ctx context.Context, budget *ratelimit.Budget, op string, fn func(context.Context) error) error {
	err := retry.Do(
		func() error {
			if err := budget.Take(); err != nil {
				return retry.Unrecoverable(err)
			}
			if err := c.limiter.Wait(ctx); err != nil {
				return retry.Unrecoverable(err)
			}

			err := fn(ctx)
			if err == nil {
				return nil
			}
			switch gmaps.Classify(err) {
			case gmaps.ClassPermanent:
				return retry.Unrecoverable(err)
			case gmaps.ClassRateLimit:
				// The provider says we are over quota even though the local
				// window had room. Start the window over.
				c.limiter.Reset()
				c.log.Warn("maps api rate limited, backing off", "op", op, "error", err)
				return err
			default:
				c.log.Debug("transient maps api failure", "op", op, "error", err)
				return err
			}
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.DelayType(c.delayFor),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// delayFor doubles the base delay per attempt: 5s, 10s, 20s for rate limit
// errors, 1s, 2s, 4s for transient ones.
func (c *Caller) delayFor(n uint, err error, _ *retry.Config) time.Duration {
	base := c.transientDelay
	if gmaps.Classify(err) == gmaps.ClassRateLimit {
		base = c.rateLimitDelay
	}
	return base << n
}

// IsBudgetExhausted reports whether err is a budget stop rather than a call
// failure.
func IsBudgetExhausted(err error) bool {
	return errors.Is(err, ratelimit.ErrBudgetExhausted)
}
