package limiters

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/adminauth/internal/rate"
	"github.com/redis/go-redis/v9"
)

const (
	defaultTOTPMaxAttempts = 5
	defaultTOTPCooldown    = time.Minute
)

var (
	ErrTOTPRateLimited = errors.New("totp rate limited")
	ErrTOTPUnavailable = errors.New("totp unavailable")
)

// TOTPLimiterConfig holds configurable thresholds for the TOTP rate limiter.
type TOTPLimiterConfig struct {
	MaxAttempts int
	Cooldown    time.Duration
}

// TOTPLimiter counts failed second-factor codes per account.
type TOTPLimiter struct {
	window *rate.Window
}

// NewTOTPLimiter creates a TOTP rate limiter. Zero-value fields in cfg
// fall back to defaults (5 attempts / 60s).
func NewTOTPLimiter(redisClient redis.UniversalClient, cfg TOTPLimiterConfig) *TOTPLimiter {
	max := cfg.MaxAttempts
	if max <= 0 {
		max = defaultTOTPMaxAttempts
	}
	cd := cfg.Cooldown
	if cd <= 0 {
		cd = defaultTOTPCooldown
	}
	return &TOTPLimiter{window: rate.NewWindow(redisClient, "att", max, cd)}
}

func (l *TOTPLimiter) Check(ctx context.Context, accountID string) error {
	if l == nil {
		return nil
	}
	return mapTOTPErr(l.window.Check(ctx, accountID))
}

func (l *TOTPLimiter) RecordFailure(ctx context.Context, accountID string) error {
	if l == nil {
		return nil
	}
	return mapTOTPErr(l.window.Hit(ctx, accountID))
}

func (l *TOTPLimiter) Reset(ctx context.Context, accountID string) error {
	if l == nil {
		return nil
	}
	return mapTOTPErr(l.window.Reset(ctx, accountID))
}

func mapTOTPErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited):
		return ErrTOTPRateLimited
	default:
		return errors.Join(ErrTOTPUnavailable, err)
	}
}
