package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeClock drives the limiter deterministically: sleeps advance time
// instead of passing it.
type fakeClock struct {
	t      time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(_ context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	c.t = c.t.Add(d)
	return nil
}

func newTestLimiter(clock *fakeClock, capacity int) *Limiter {
	return NewLimiter(capacity, 100*time.Second, 0.80, 0.90, 0.95,
		WithClock(clock.now, clock.sleep))
}

func TestLimiterBelowThresholdsNoDelay(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock, 10)

	for i := 0; i < 7; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatalf("Wait %d: %v", i, err)
		}
	}
	if len(clock.sleeps) != 0 {
		t.Errorf("expected no sleeps below soft threshold, got %v", clock.sleeps)
	}
	if got := l.InWindow(); got != 7 {
		t.Errorf("InWindow = %d, want 7", got)
	}
}

func TestLimiterGraduatedDelays(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock, 10)

	// Fill to 8/10 = 80% utilization before the next admission check.
	for i := 0; i < 8; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	clock.sleeps = nil

	// 9th call sees 8/10 = 80%: soft delay.
	if err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(clock.sleeps) != 1 || clock.sleeps[0] != 500*time.Millisecond {
		t.Fatalf("expected one 500ms soft delay, got %v", clock.sleeps)
	}

	// 10th call sees 9/10 = 90%: hard delay.
	clock.sleeps = nil
	if err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(clock.sleeps) != 1 || clock.sleeps[0] != 2*time.Second {
		t.Fatalf("expected one 2s hard delay, got %v", clock.sleeps)
	}
}

func TestLimiterBlocksAtCapacity(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock, 10)

	for i := 0; i < 10; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	clock.sleeps = nil

	// Window is full; the next call must wait for the oldest entry to age
	// out, then be admitted.
	if err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(clock.sleeps) == 0 {
		t.Fatal("expected a blocking sleep at full window")
	}
	if clock.sleeps[0] <= 0 || clock.sleeps[0] > 100*time.Second {
		t.Errorf("blocking sleep = %v, want within (0, window]", clock.sleeps[0])
	}
}

func TestLimiterWindowExpiry(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock, 10)

	for i := 0; i < 5; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	clock.t = clock.t.Add(101 * time.Second)
	if got := l.InWindow(); got != 0 {
		t.Errorf("InWindow after expiry = %d, want 0", got)
	}
}

func TestLimiterReset(t *testing.T) {
	clock := newFakeClock()
	l := newTestLimiter(clock, 10)

	for i := 0; i < 6; i++ {
		if err := l.Wait(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	l.Reset()
	if got := l.InWindow(); got != 0 {
		t.Errorf("InWindow after Reset = %d, want 0", got)
	}
}

func TestLimiterContextCancel(t *testing.T) {
	clock := newFakeClock()
	l := NewLimiter(1, 100*time.Second, 0.80, 0.90, 0.95,
		WithClock(clock.now, func(ctx context.Context, d time.Duration) error {
			return context.Canceled
		}))

	if err := l.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	err := l.Wait(context.Background())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestBudgetTake(t *testing.T) {
	b := NewBudget("geocode", 3, 0.80, true, nil)

	for i := 0; i < 3; i++ {
		if err := b.Take(); err != nil {
			t.Fatalf("Take %d: %v", i, err)
		}
	}
	err := b.Take()
	if !errors.Is(err, ErrBudgetExhausted) {
		t.Errorf("expected ErrBudgetExhausted, got %v", err)
	}
	if b.Used() != 3 {
		t.Errorf("Used = %d, want 3 (failed Take must not consume)", b.Used())
	}
	if b.Remaining() != 0 {
		t.Errorf("Remaining = %d, want 0", b.Remaining())
	}
	if !b.HardStop {
		t.Error("HardStop flag lost")
	}
}
