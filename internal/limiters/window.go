package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRateLimited is returned once a subject exceeds its window budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrLimiterUnavailable wraps Redis failures.
	ErrLimiterUnavailable = errors.New("limiter backend unavailable")
)

// WindowConfig describes one fixed-window budget.
type WindowConfig struct {
	Enabled     bool
	Prefix      string
	MaxRequests int
	Window      time.Duration
}

// WindowLimiter counts requests per subject with INCR and lets the key expire
// at the end of the window.
type WindowLimiter struct {
	redis  redis.UniversalClient
	config WindowConfig
}

// NewWindowLimiter returns nil when cfg is disabled, which allows everything.
func NewWindowLimiter(redisClient redis.UniversalClient, cfg WindowConfig) *WindowLimiter {
	if !cfg.Enabled || redisClient == nil || cfg.MaxRequests <= 0 || cfg.Window <= 0 {
		return nil
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "rl"
	}
	return &WindowLimiter{redis: redisClient, config: cfg}
}

func (l *WindowLimiter) key(subject string) string {
	return l.config.Prefix + ":" + subject
}

// Allow records one request for subject and reports ErrRateLimited when the
// budget for the current window is spent.
func (l *WindowLimiter) Allow(ctx context.Context, subject string) error {
	if l == nil || subject == "" {
		return nil
	}

	key := l.key(subject)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
		}
	}

	if count > int64(l.config.MaxRequests) {
		return ErrRateLimited
	}
	return nil
}

// Reset clears the counter for subject.
func (l *WindowLimiter) Reset(ctx context.Context, subject string) error {
	if l == nil || subject == "" {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(subject)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}
	return nil
}
