package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client, cfg), mr
}

func TestHitEnforcesWindowBudget(t *testing.T) {
	l, _ := newTestLimiter(t, Config{MaxAttempts: 5, Window: 15 * time.Minute})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := l.Hit(ctx, "203.0.113.10", ""); err != nil {
			t.Fatalf("hit %d: expected admit, got %v", i+1, err)
		}
	}
	if err := l.Hit(ctx, "203.0.113.10", ""); !errors.Is(err, ErrLimited) {
		t.Fatalf("expected ErrLimited on 6th hit, got %v", err)
	}

	// Independent sources carry independent budgets.
	if err := l.Hit(ctx, "198.51.100.7", ""); err != nil {
		t.Fatalf("expected other IP admitted, got %v", err)
	}
}

func TestWindowExpiryResetsBudget(t *testing.T) {
	l, mr := newTestLimiter(t, Config{MaxAttempts: 2, Window: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.Hit(ctx, "203.0.113.10", ""); err != nil {
			t.Fatalf("hit %d failed: %v", i+1, err)
		}
	}
	if err := l.Hit(ctx, "203.0.113.10", ""); !errors.Is(err, ErrLimited) {
		t.Fatalf("expected ErrLimited, got %v", err)
	}

	mr.FastForward(61 * time.Second)

	if err := l.Hit(ctx, "203.0.113.10", ""); err != nil {
		t.Fatalf("expected fresh window to admit, got %v", err)
	}
}

func TestIdentifierThrottle(t *testing.T) {
	l, _ := newTestLimiter(t, Config{MaxAttempts: 2, Window: time.Minute, EnableIdentifierThrottle: true})
	ctx := context.Background()

	// Same identifier from rotating IPs still runs out of budget.
	for i, ip := range []string{"203.0.113.1", "203.0.113.2"} {
		if err := l.Hit(ctx, ip, "alice"); err != nil {
			t.Fatalf("hit %d failed: %v", i+1, err)
		}
	}
	if err := l.Hit(ctx, "203.0.113.3", "alice"); !errors.Is(err, ErrLimited) {
		t.Fatalf("expected ErrLimited for throttled identifier, got %v", err)
	}
}

func TestIdentifierThrottleDisabled(t *testing.T) {
	l, _ := newTestLimiter(t, Config{MaxAttempts: 1, Window: time.Minute})
	ctx := context.Background()

	if err := l.Hit(ctx, "203.0.113.1", "alice"); err != nil {
		t.Fatalf("hit failed: %v", err)
	}
	// Only the IP key counts; the identifier is ignored.
	if err := l.Hit(ctx, "203.0.113.2", "alice"); err != nil {
		t.Fatalf("expected identifier ignored, got %v", err)
	}
}

func TestAttemptsReadsCurrentWindow(t *testing.T) {
	l, _ := newTestLimiter(t, Config{MaxAttempts: 5, Window: time.Minute})
	ctx := context.Background()

	if count, err := l.Attempts(ctx, "203.0.113.10"); err != nil || count != 0 {
		t.Fatalf("expected zero for unseen IP, got %d/%v", count, err)
	}

	for i := 0; i < 3; i++ {
		if err := l.Hit(ctx, "203.0.113.10", ""); err != nil {
			t.Fatalf("hit failed: %v", err)
		}
	}
	if count, err := l.Attempts(ctx, "203.0.113.10"); err != nil || count != 3 {
		t.Fatalf("expected 3 attempts, got %d/%v", count, err)
	}
}

func TestBackendUnavailable(t *testing.T) {
	l, mr := newTestLimiter(t, Config{MaxAttempts: 5, Window: time.Minute})
	mr.Close()

	if err := l.Hit(context.Background(), "203.0.113.10", ""); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
	if _, err := l.Attempts(context.Background(), "203.0.113.10"); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}
