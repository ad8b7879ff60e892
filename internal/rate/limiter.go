package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Window is a Redis fixed-window counter: INCR with an EXPIRE set on the
// first hit of each window.
type Window struct {
	redis  redis.UniversalClient
	prefix string
	max    int
	period time.Duration
}

// NewWindow creates a fixed window allowing max hits per period for each key
// under prefix.
func NewWindow(redisClient redis.UniversalClient, prefix string, max int, period time.Duration) *Window {
	return &Window{
		redis:  redisClient,
		prefix: prefix,
		max:    max,
		period: period,
	}
}

// Check returns ErrRateLimited when key has already used its budget.
// It does not record a hit.
func (w *Window) Check(ctx context.Context, key string) error {
	count, err := w.redis.Get(ctx, w.key(key)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count >= int64(w.max) {
		return ErrRateLimited
	}
	return nil
}

// Hit records one hit and returns ErrRateLimited when it exceeds the budget.
func (w *Window) Hit(ctx context.Context, key string) error {
	count, err := w.redis.Incr(ctx, w.key(key)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count == 1 {
		if err := w.redis.Expire(ctx, w.key(key), w.period).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	if count > int64(w.max) {
		return ErrRateLimited
	}
	return nil
}

// Count returns the hits recorded in the current window.
func (w *Window) Count(ctx context.Context, key string) (int, error) {
	count, err := w.redis.Get(ctx, w.key(key)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(count), nil
}

// Reset clears the counter for key.
func (w *Window) Reset(ctx context.Context, key string) error {
	if err := w.redis.Del(ctx, w.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (w *Window) key(k string) string {
	return w.prefix + ":" + k
}

// LoginConfig tunes the login limiter.
type LoginConfig struct {
	EnableIPThrottle bool
	MaxAttempts      int
	Cooldown         time.Duration
}

// Limiter throttles failed logins per identifier and per client IP.
type Limiter struct {
	user   *Window
	ip     *Window
	config LoginConfig
}

// New creates a login [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg LoginConfig) *Limiter {
	return &Limiter{
		user:   NewWindow(redisClient, "al", cfg.MaxAttempts, cfg.Cooldown),
		ip:     NewWindow(redisClient, "ali", cfg.MaxAttempts, cfg.Cooldown),
		config: cfg,
	}
}

// CheckLogin checks whether the identifier+IP pair is within the login
// attempt budget.
func (l *Limiter) CheckLogin(ctx context.Context, identifier, ip string) error {
	if err := l.user.Check(ctx, identifier); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		return l.ip.Check(ctx, ip)
	}
	return nil
}

// IncrementLogin records a failed login attempt for the identifier+IP pair.
func (l *Limiter) IncrementLogin(ctx context.Context, identifier, ip string) error {
	if err := l.user.Hit(ctx, identifier); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		return l.ip.Hit(ctx, ip)
	}
	return nil
}

// ResetLogin clears the identifier counter after a successful login.
// The IP counter is left to expire so one good account cannot launder a
// spraying client.
func (l *Limiter) ResetLogin(ctx context.Context, identifier string) error {
	return l.user.Reset(ctx, identifier)
}
