package limiters

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/adminauth/internal/rate"
	"github.com/redis/go-redis/v9"
)

var (
	ErrResetRateLimited      = errors.New("reset rate limited")
	ErrResetRedisUnavailable = errors.New("reset redis unavailable")
)

type PasswordResetConfig struct {
	EnableIdentifierThrottle bool
	EnableIPThrottle         bool
	Window                   time.Duration
	MaxRequests              int
}

type PasswordResetLimiter struct {
	config     PasswordResetConfig
	identifier *rate.Window
	ip         *rate.Window
	confirmIP  *rate.Window
}

func NewPasswordResetLimiter(redisClient redis.UniversalClient, cfg PasswordResetConfig) *PasswordResetLimiter {
	return &PasswordResetLimiter{
		config:     cfg,
		identifier: rate.NewWindow(redisClient, "apri", cfg.MaxRequests, cfg.Window),
		ip:         rate.NewWindow(redisClient, "aprip", cfg.MaxRequests, cfg.Window),
		confirmIP:  rate.NewWindow(redisClient, "aprcip", cfg.MaxRequests*2, cfg.Window),
	}
}

// CheckRequest counts a forgot-password request. The identifier window
// reports through its own bool so callers can suppress mail without
// changing the caller-visible response.
func (l *PasswordResetLimiter) CheckRequest(ctx context.Context, identifier, ip string) (identifierExhausted bool, err error) {
	if l == nil {
		return false, nil
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := mapResetErr(l.ip.Hit(ctx, ip)); err != nil {
			return false, err
		}
	}
	if l.config.EnableIdentifierThrottle {
		err := l.identifier.Hit(ctx, strings.ToLower(identifier))
		if errors.Is(err, rate.ErrRateLimited) {
			return true, nil
		}
		if err != nil {
			return false, mapResetErr(err)
		}
	}
	return false, nil
}

// CheckConfirm counts a token validation or reset attempt from ip.
func (l *PasswordResetLimiter) CheckConfirm(ctx context.Context, ip string) error {
	if l == nil || !l.config.EnableIPThrottle || ip == "" {
		return nil
	}
	return mapResetErr(l.confirmIP.Hit(ctx, ip))
}

func mapResetErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited):
		return ErrResetRateLimited
	default:
		return errors.Join(ErrResetRedisUnavailable, err)
	}
}
