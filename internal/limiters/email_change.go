package limiters

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/adminauth/internal/rate"
	"github.com/redis/go-redis/v9"
)

var ErrEmailChangeRateLimited = errors.New("email change rate limited")

// EmailChangeLimiter bounds how many OTP mails one account can trigger.
type EmailChangeLimiter struct {
	window *rate.Window
}

func NewEmailChangeLimiter(redisClient redis.UniversalClient, maxRequests int, window time.Duration) *EmailChangeLimiter {
	return &EmailChangeLimiter{window: rate.NewWindow(redisClient, "aecr", maxRequests, window)}
}

func (l *EmailChangeLimiter) CheckRequest(ctx context.Context, accountID string) error {
	if l == nil {
		return nil
	}
	err := l.window.Hit(ctx, accountID)
	if errors.Is(err, rate.ErrRateLimited) {
		return ErrEmailChangeRateLimited
	}
	return err
}
