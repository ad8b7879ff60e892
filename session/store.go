package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrNotFound         = errors.New("session not found")
	ErrRedisUnavailable = errors.New("redis unavailable")
)

const deleteSessionScript = `
local existed = redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
return existed
`

var deleteSessionLua = redis.NewScript(deleteSessionScript)

// Store keeps sessions under prefix:s:{sid} and an index set of session ids
// per account under prefix:u:{account}.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

func NewStore(redisClient redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "as"
	}
	return &Store{redis: redisClient, prefix: prefix}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + ":s:" + sessionID
}

func (s *Store) accountKey(accountID string) string {
	return s.prefix + ":u:" + accountID
}

// Save persists sess with ttl and indexes it under its account.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	data, err := Encode(sess)
	if err != nil {
		return err
	}

	idx := s.accountKey(sess.AccountID)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.SessionID), data, ttl)
		pipe.SAdd(ctx, idx, sess.SessionID)
		// The index outlives its newest member so revocation can still find it.
		pipe.Expire(ctx, idx, ttl+time.Minute)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get returns the session when it exists and has not expired at now.
func (s *Store) Get(ctx context.Context, sessionID string, now time.Time) (*Session, error) {
	data, err := s.redis.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(sessionID, data)
	if err != nil {
		return nil, err
	}
	if now.Unix() >= sess.ExpiresAt {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Delete revokes one session. Deleting a missing session is not an error.
func (s *Store) Delete(ctx context.Context, accountID, sessionID string) error {
	err := deleteSessionLua.Run(ctx, s.redis,
		[]string{s.key(sessionID), s.accountKey(accountID)},
		sessionID,
	).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteAllForAccount revokes every session of an account except the ids in
// keep, returning how many were removed.
func (s *Store) DeleteAllForAccount(ctx context.Context, accountID string, keep ...string) (int, error) {
	idx := s.accountKey(accountID)
	ids, err := s.redis.SMembers(ctx, idx).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	kept := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		kept[id] = struct{}{}
	}

	var victims []string
	for _, id := range ids {
		if _, ok := kept[id]; !ok {
			victims = append(victims, id)
		}
	}
	if len(victims) == 0 {
		return 0, nil
	}

	var removed *redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		keys := make([]string, 0, len(victims))
		members := make([]any, 0, len(victims))
		for _, id := range victims {
			keys = append(keys, s.key(id))
			members = append(members, id)
		}
		removed = pipe.Del(ctx, keys...)
		pipe.SRem(ctx, idx, members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(removed.Val()), nil
}

// CountForAccount returns the number of indexed session ids of an account,
// including ids whose record has already expired.
func (s *Store) CountForAccount(ctx context.Context, accountID string) (int, error) {
	n, err := s.redis.SCard(ctx, s.accountKey(accountID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(n), nil
}
