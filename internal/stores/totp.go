package stores

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrTOTPPendingNotFound         = errors.New("totp pending secret not found")
	ErrTOTPPendingAttemptsExceeded = errors.New("totp pending attempts exceeded")
	ErrTOTPCounterReplayed         = errors.New("totp counter replayed")
	ErrTOTPRedisUnavailable        = errors.New("totp redis unavailable")
)

// failPendingLua counts a failed confirmation and drops the pending secret
// once attempts exceed ARGV[1].
var failPendingLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {err='not_found'}
end
local attempts = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
if attempts >= tonumber(ARGV[1]) then
  redis.call('DEL', KEYS[1])
  return {err='attempts_exceeded'}
end
return attempts
`)

// takePendingLua deletes the pending secret only if it is still ARGV[1].
var takePendingLua = redis.NewScript(`
local secret = redis.call('HGET', KEYS[1], 'secret')
if not secret or secret ~= ARGV[1] then
  return {err='not_found'}
end
redis.call('DEL', KEYS[1])
return 1
`)

// advanceCounterLua stores ARGV[1] as last used counter if it is newer.
var advanceCounterLua = redis.NewScript(`
local last = redis.call('GET', KEYS[1])
if last and tonumber(last) >= tonumber(ARGV[1]) then
  return {err='replayed'}
end
redis.call('SET', KEYS[1], ARGV[1], 'EX', tonumber(ARGV[2]))
return 1
`)

// TOTPStore holds unconfirmed setup secrets and the last accepted time
// step of each account.
type TOTPStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewTOTPStore(redisClient redis.UniversalClient, prefix string) *TOTPStore {
	if prefix == "" {
		prefix = "atp"
	}
	return &TOTPStore{redis: redisClient, prefix: prefix}
}

func (s *TOTPStore) pendingKey(accountID string) string {
	return s.prefix + ":p:" + accountID
}

func (s *TOTPStore) counterKey(accountID string) string {
	return s.prefix + ":c:" + accountID
}

// SavePending replaces the pending secret of an account.
func (s *TOTPStore) SavePending(ctx context.Context, accountID string, secret []byte, ttl time.Duration) error {
	key := s.pendingKey(accountID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, "secret", base64.RawStdEncoding.EncodeToString(secret), "attempts", 0)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTOTPRedisUnavailable, err)
	}
	return nil
}

// GetPending returns the pending secret of an account.
func (s *TOTPStore) GetPending(ctx context.Context, accountID string) ([]byte, error) {
	encoded, err := s.redis.HGet(ctx, s.pendingKey(accountID), "secret").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTOTPPendingNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrTOTPRedisUnavailable, err)
	}
	secret, err := base64.RawStdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}
	return secret, nil
}

// RecordPendingFailure counts a wrong confirmation code.
func (s *TOTPStore) RecordPendingFailure(ctx context.Context, accountID string, maxAttempts int) error {
	err := failPendingLua.Run(ctx, s.redis, []string{s.pendingKey(accountID)}, maxAttempts).Err()
	return mapTOTPScriptErr(err)
}

// TakePending removes the pending secret if it still equals secret, so at
// most one concurrent confirmation can promote it.
func (s *TOTPStore) TakePending(ctx context.Context, accountID string, secret []byte) error {
	err := takePendingLua.Run(ctx, s.redis,
		[]string{s.pendingKey(accountID)},
		base64.RawStdEncoding.EncodeToString(secret),
	).Err()
	return mapTOTPScriptErr(err)
}

// DeletePending drops any pending secret of an account.
func (s *TOTPStore) DeletePending(ctx context.Context, accountID string) error {
	if err := s.redis.Del(ctx, s.pendingKey(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTOTPRedisUnavailable, err)
	}
	return nil
}

// HasPending reports whether a setup is in progress.
func (s *TOTPStore) HasPending(ctx context.Context, accountID string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.pendingKey(accountID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrTOTPRedisUnavailable, err)
	}
	return n == 1, nil
}

// AdvanceCounter rejects a time step that is not newer than the last one
// accepted for the account.
func (s *TOTPStore) AdvanceCounter(ctx context.Context, accountID string, counter int64, ttl time.Duration) error {
	err := advanceCounterLua.Run(ctx, s.redis,
		[]string{s.counterKey(accountID)},
		counter,
		int64(ttl/time.Second),
	).Err()
	return mapTOTPScriptErr(err)
}

// ResetCounter forgets the last accepted time step.
func (s *TOTPStore) ResetCounter(ctx context.Context, accountID string) error {
	if err := s.redis.Del(ctx, s.counterKey(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTOTPRedisUnavailable, err)
	}
	return nil
}

// SecretsEqual compares two secrets in constant time.
func SecretsEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

func mapTOTPScriptErr(err error) error {
	if err == nil {
		return nil
	}
	switch err.Error() {
	case "not_found":
		return ErrTOTPPendingNotFound
	case "attempts_exceeded":
		return ErrTOTPPendingAttemptsExceeded
	case "replayed":
		return ErrTOTPCounterReplayed
	}
	return fmt.Errorf("%w: %v", ErrTOTPRedisUnavailable, err)
}
