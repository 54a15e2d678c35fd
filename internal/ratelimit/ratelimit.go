// Package ratelimit keeps Google Maps API usage under the per-100-second
// quota and under per-run spending budgets.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Limiter is a sliding-window rate limiter. As window utilization climbs it
// first slows callers down, then blocks until the oldest call leaves the
// window. It never drops a request.
type Limiter struct {
	mu    sync.Mutex
	calls []time.Time

	capacity int
	window   time.Duration

	softDelayAt float64
	hardDelayAt float64
	blockAt     float64

	softDelay time.Duration
	hardDelay time.Duration

	log *slog.Logger

	// Injectable for tests.
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the limiter's time source and sleeper.
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) Option {
	return func(l *Limiter) {
		l.now = now
		l.sleep = sleep
	}
}

// WithLogger sets the limiter's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.log = logger }
}

// NewLimiter builds a limiter allowing capacity calls per window. The three
// thresholds are utilization fractions: above soft the limiter inserts a
// short pause, above hard a longer one, and above block it waits for room.
func NewLimiter(capacity int, window time.Duration, soft, hard, block float64, opts ...Option) *Limiter {
	l := &Limiter{
		capacity:    capacity,
		window:      window,
		softDelayAt: soft,
		hardDelayAt: hard,
		blockAt:     block,
		softDelay:   500 * time.Millisecond,
		hardDelay:   2 * time.Second,
		log:         slog.Default(),
		now:         time.Now,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Wait blocks until making one more call would stay within the window, then
// records the call. Above the soft and hard thresholds it additionally
// pauses after admission to spread calls out. It returns early only if ctx
// is canceled.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		pause, wait, admitted := l.admit()
		if admitted {
			if pause > 0 {
				if err := l.sleep(ctx, pause); err != nil {
					return fmt.Errorf("pacing rate limited call: %w", err)
				}
			}
			return nil
		}
		if err := l.sleep(ctx, wait); err != nil {
			return fmt.Errorf("waiting for rate limit window: %w", err)
		}
	}
}

// admit records the call when utilization is below the block threshold,
// returning the graduated pause to apply afterwards. When blocked it returns
// the wait until the oldest call leaves the window.
func (l *Limiter) admit() (pause, wait time.Duration, admitted bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	util := float64(len(l.calls)) / float64(l.capacity)
	switch {
	case len(l.calls) >= l.capacity || util >= l.blockAt:
		wait = l.window
		if len(l.calls) > 0 {
			wait = l.calls[0].Add(l.window).Sub(now)
		}
		if wait < 0 {
			wait = 0
		}
		l.log.Warn("rate limit window nearly full, blocking",
			"in_window", len(l.calls), "capacity", l.capacity, "wait", wait)
		return 0, wait, false
	case util >= l.hardDelayAt:
		l.calls = append(l.calls, now)
		return l.hardDelay, 0, true
	case util >= l.softDelayAt:
		l.calls = append(l.calls, now)
		return l.softDelay, 0, true
	default:
		l.calls = append(l.calls, now)
		return 0, 0, true
	}
}

func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.calls) && !l.calls[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.calls = append(l.calls[:0], l.calls[i:]...)
	}
}

// InWindow reports how many calls count against the current window.
func (l *Limiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.calls)
}

// Reset forgets all recorded calls. Used after the provider itself reports
// quota exhaustion, when the local window is clearly out of sync.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = l.calls[:0]
}

// ErrBudgetExhausted is returned by Budget.Take once the cap is reached.
var ErrBudgetExhausted = errors.New("api call budget exhausted")

// Budget is a hard per-run cap on calls to one API. Unlike the Limiter it
// never waits; exhaustion is an error the pipeline reacts to.
type Budget struct {
	mu     sync.Mutex
	name   string
	max    int
	used   int
	warnAt float64
	warned bool

	// HardStop tells callers to abort the stage rather than merely skip the
	// remaining work when the budget runs out.
	HardStop bool

	log *slog.Logger
}

// NewBudget builds a budget of max calls named after the API it guards.
// warnAt is the utilization fraction that triggers a one-time warning.
func NewBudget(name string, max int, warnAt float64, hardStop bool, logger *slog.Logger) *Budget {
	if logger == nil {
		logger = slog.Default()
	}
	return &Budget{name: name, max: max, warnAt: warnAt, HardStop: hardStop, log: logger}
}

// Take consumes one call from the budget.
func (b *Budget) Take() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.used >= b.max {
		return fmt.Errorf("%s: %w (%d/%d)", b.name, ErrBudgetExhausted, b.used, b.max)
	}
	b.used++
	if !b.warned && float64(b.used) >= b.warnAt*float64(b.max) {
		b.warned = true
		b.log.Warn("api budget nearly exhausted", "api", b.name, "used", b.used, "max", b.max)
	}
	return nil
}

// Used reports how many calls have been consumed.
func (b *Budget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

// Remaining reports how many calls are left.
func (b *Budget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.max - b.used
}
