package rate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds abuse-guard tuning parameters.
type Config struct {
	MaxAttempts              int
	Window                   time.Duration
	EnableIdentifierThrottle bool
}

// Limiter counts login attempts in fixed windows using Redis counters.
// Every attempt is counted, successful or not: the budget bounds how
// often the credential verifier may run per source, not how often it may
// fail.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a Limiter backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// Hit records one attempt for the IP (and identifier, when enabled) and
// reports ErrLimited once the window budget is exceeded. Increment and
// check are one step, so concurrent attempts cannot slip past the cap.
func (l *Limiter) Hit(ctx context.Context, ip, identifier string) error {
	if ip != "" {
		count, err := l.incrementWithTTL(ctx, ipKey(ip))
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxAttempts) {
			return ErrLimited
		}
	}

	if l.config.EnableIdentifierThrottle && identifier != "" {
		count, err := l.incrementWithTTL(ctx, identifierKey(identifier))
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxAttempts) {
			return ErrLimited
		}
	}

	return nil
}

// Attempts returns the current window's counter for an IP. Missing keys
// read as zero and do not reveal anything about account existence.
func (l *Limiter) Attempts(ctx context.Context, ip string) (int, error) {
	count, err := l.redis.Get(ctx, ipKey(ip)).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: the TTL is set only by the first hit.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

func ipKey(ip string) string {
	return "ag:ip:" + ip
}

func identifierKey(identifier string) string {
	return "ag:id:" + identifier
}
