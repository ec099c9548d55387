package limiter_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"codejudge/internal/common/limiter"
)

func TestTryAcquireRespectsCapacity(t *testing.T) {
	t.Parallel()
	l := limiter.NewTokenLimiter(2)
	if !l.TryAcquire() || !l.TryAcquire() {
		t.Fatalf("expected two tokens")
	}
	if l.TryAcquire() {
		t.Fatalf("third acquire should fail")
	}
	if l.Available() != 0 || l.Capacity() != 2 {
		t.Fatalf("unexpected counters: available=%d capacity=%d", l.Available(), l.Capacity())
	}
	l.Release()
	if !l.TryAcquire() {
		t.Fatalf("released token should be reusable")
	}
}

func TestReleaseNeverExceedsCapacity(t *testing.T) {
	t.Parallel()
	l := limiter.NewTokenLimiter(1)
	l.Release()
	l.Release()
	if l.Available() != 1 {
		t.Fatalf("available = %d, want 1", l.Available())
	}
}

func TestNonPositiveSizeBecomesOne(t *testing.T) {
	t.Parallel()
	if c := limiter.NewTokenLimiter(0).Capacity(); c != 1 {
		t.Fatalf("capacity = %d, want 1", c)
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()
	l := limiter.NewTokenLimiter(1)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- l.Acquire(context.Background()) }()
	l.Release()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("blocked acquire failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("blocked acquire never woke up")
	}
}
