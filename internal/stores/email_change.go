package stores

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrEmailChangeNotFound         = errors.New("email change request not found")
	ErrEmailChangeCodeMismatch     = errors.New("email change code mismatch")
	ErrEmailChangeAttemptsExceeded = errors.New("email change attempts exceeded")
	ErrEmailChangeNotVerified      = errors.New("email change not verified")
	ErrEmailChangeRedisUnavailable = errors.New("email change redis unavailable")
)

// EmailChangeRecord is one live email change request. Only the OTP hash is
// stored.
type EmailChangeRecord struct {
	AccountID string
	NewEmail  string
	OTPHash   [32]byte
	Attempts  int
	IssuedAt  int64
	ExpiresAt int64
	Verified  bool
}

// verifyEmailChangeLua checks a code hash and counts mismatches.
// KEYS[1] = request key
// ARGV[1] = provided hash (hex)
// ARGV[2] = max attempts
// ARGV[3] = current unix timestamp
var verifyEmailChangeLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {err='not_found'}
end
local expiresAt = tonumber(redis.call('HGET', KEYS[1], 'expires_at'))
if tonumber(ARGV[3]) >= expiresAt then
  redis.call('DEL', KEYS[1])
  return {err='not_found'}
end
if redis.call('HGET', KEYS[1], 'verified') == '1' then
  return 'ok'
end
if redis.call('HGET', KEYS[1], 'otp_hash') == ARGV[1] then
  redis.call('HSET', KEYS[1], 'verified', '1')
  return 'ok'
end
local attempts = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
if attempts > tonumber(ARGV[2]) then
  redis.call('DEL', KEYS[1])
  return {err='attempts_exceeded'}
end
return {err='mismatch'}
`)

// commitEmailChangeLua takes a verified request, deleting it.
// KEYS[1] = request key
// ARGV[1] = current unix timestamp
var commitEmailChangeLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return {err='not_found'}
end
local expiresAt = tonumber(redis.call('HGET', KEYS[1], 'expires_at'))
if tonumber(ARGV[1]) >= expiresAt then
  redis.call('DEL', KEYS[1])
  return {err='not_found'}
end
if redis.call('HGET', KEYS[1], 'verified') ~= '1' then
  return {err='not_verified'}
end
local email = redis.call('HGET', KEYS[1], 'new_email')
redis.call('DEL', KEYS[1])
return email
`)

// EmailChangeStore keeps at most one request per account under prefix:{account}.
type EmailChangeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewEmailChangeStore(redisClient redis.UniversalClient, prefix string) *EmailChangeStore {
	if prefix == "" {
		prefix = "aec"
	}
	return &EmailChangeStore{redis: redisClient, prefix: prefix}
}

func (s *EmailChangeStore) key(accountID string) string {
	return s.prefix + ":" + accountID
}

// Replace supersedes any earlier request of the account.
func (s *EmailChangeStore) Replace(ctx context.Context, record *EmailChangeRecord, ttl time.Duration) error {
	key := s.key(record.AccountID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"new_email", record.NewEmail,
			"otp_hash", hex.EncodeToString(record.OTPHash[:]),
			"attempts", 0,
			"issued_at", record.IssuedAt,
			"expires_at", record.ExpiresAt,
			"verified", "0",
		)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEmailChangeRedisUnavailable, err)
	}
	return nil
}

// Get returns the live request of an account, or ErrEmailChangeNotFound.
func (s *EmailChangeStore) Get(ctx context.Context, accountID string, now time.Time) (*EmailChangeRecord, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(accountID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmailChangeRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrEmailChangeNotFound
	}

	record := &EmailChangeRecord{
		AccountID: accountID,
		NewEmail:  fields["new_email"],
		Verified:  fields["verified"] == "1",
	}
	record.Attempts, _ = strconv.Atoi(fields["attempts"])
	record.IssuedAt, _ = strconv.ParseInt(fields["issued_at"], 10, 64)
	record.ExpiresAt, _ = strconv.ParseInt(fields["expires_at"], 10, 64)
	if raw, err := hex.DecodeString(fields["otp_hash"]); err == nil && len(raw) == len(record.OTPHash) {
		copy(record.OTPHash[:], raw)
	}

	if now.Unix() >= record.ExpiresAt {
		return nil, ErrEmailChangeNotFound
	}
	return record, nil
}

// Verify marks the request verified when providedHash matches. Mismatches
// beyond maxAttempts delete the request.
func (s *EmailChangeStore) Verify(ctx context.Context, accountID string, providedHash [32]byte, maxAttempts int, now time.Time) error {
	err := verifyEmailChangeLua.Run(ctx, s.redis,
		[]string{s.key(accountID)},
		hex.EncodeToString(providedHash[:]),
		maxAttempts,
		now.Unix(),
	).Err()
	return mapEmailChangeScriptErr(err)
}

// Commit removes a verified request and returns its new address.
func (s *EmailChangeStore) Commit(ctx context.Context, accountID string, now time.Time) (string, error) {
	email, err := commitEmailChangeLua.Run(ctx, s.redis, []string{s.key(accountID)}, now.Unix()).Text()
	if err != nil {
		return "", mapEmailChangeScriptErr(err)
	}
	return email, nil
}

// Delete drops the request of an account, if any.
func (s *EmailChangeStore) Delete(ctx context.Context, accountID string) error {
	if err := s.redis.Del(ctx, s.key(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrEmailChangeRedisUnavailable, err)
	}
	return nil
}

func mapEmailChangeScriptErr(err error) error {
	if err == nil {
		return nil
	}
	switch err.Error() {
	case "not_found":
		return ErrEmailChangeNotFound
	case "mismatch":
		return ErrEmailChangeCodeMismatch
	case "attempts_exceeded":
		return ErrEmailChangeAttemptsExceeded
	case "not_verified":
		return ErrEmailChangeNotVerified
	}
	if errors.Is(err, redis.Nil) {
		return ErrEmailChangeNotFound
	}
	return fmt.Errorf("%w: %v", ErrEmailChangeRedisUnavailable, err)
}
