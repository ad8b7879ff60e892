package stores

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	resetRecordVersionV1 = 1
)

var (
	ErrResetNotFound         = errors.New("reset record not found")
	ErrResetSecretMismatch   = errors.New("reset secret mismatch")
	ErrResetAttemptsExceeded = errors.New("reset attempts exceeded")
	ErrResetRedisUnavailable = errors.New("reset redis unavailable")
)

// PasswordResetRecord is the stored half of a reset token. The secret is
// kept only as its sha256.
type PasswordResetRecord struct {
	AccountID  string
	SecretHash [32]byte
	IssuedAt   int64
	ExpiresAt  int64
	Attempts   uint16
}

// PasswordResetStore keeps reset records under prefix:r:{id} and an index
// prefix:a:{account} pointing at the single live record of each account.
type PasswordResetStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewPasswordResetStore(redisClient redis.UniversalClient, prefix string) *PasswordResetStore {
	if prefix == "" {
		prefix = "apr"
	}
	return &PasswordResetStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *PasswordResetStore) recordKey(resetID string) string {
	return s.prefix + ":r:" + resetID
}

func (s *PasswordResetStore) accountKey(accountID string) string {
	return s.prefix + ":a:" + accountID
}

// Replace stores record under resetID and deletes whatever record the
// account had before, in one transaction.
func (s *PasswordResetStore) Replace(
	ctx context.Context,
	resetID string,
	record *PasswordResetRecord,
	ttl time.Duration,
) error {
	encoded, err := encodePasswordResetRecord(record)
	if err != nil {
		return err
	}

	const maxRetries = 4
	idx := s.accountKey(record.AccountID)

	for i := 0; i < maxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			previous, err := tx.Get(ctx, idx).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if previous != "" {
					pipe.Del(ctx, s.recordKey(previous))
				}
				pipe.Set(ctx, s.recordKey(resetID), encoded, ttl)
				pipe.Set(ctx, idx, resetID, ttl)
				return nil
			})
			return err
		}, idx)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
		}
		return nil
	}

	return fmt.Errorf("%w: replace contention", ErrResetRedisUnavailable)
}

// Decoy runs the same WATCH transaction as Replace against keys that never
// hold data, so a request for an unknown account costs the same round-trips.
func (s *PasswordResetStore) Decoy(ctx context.Context, resetID string) error {
	idx := s.accountKey("~" + resetID)
	err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
		if err := tx.Get(ctx, idx).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, s.recordKey(resetID))
			pipe.Del(ctx, idx)
			return nil
		})
		return err
	}, idx)
	if err != nil && err != redis.TxFailedErr {
		return fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}
	return nil
}

// Peek returns the record when it exists, is unexpired at now and matches
// providedHash. It never mutates state.
func (s *PasswordResetStore) Peek(ctx context.Context, resetID string, providedHash [32]byte, now time.Time) (*PasswordResetRecord, error) {
	data, err := s.redis.Get(ctx, s.recordKey(resetID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrResetNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}

	record, err := decodePasswordResetRecord(data)
	if err != nil {
		return nil, err
	}
	if now.Unix() >= record.ExpiresAt {
		return nil, ErrResetNotFound
	}
	if subtle.ConstantTimeCompare(record.SecretHash[:], providedHash[:]) != 1 {
		return nil, ErrResetSecretMismatch
	}

	return record, nil
}

// Consume checks and deletes the record in one optimistic transaction, so
// two concurrent callers cannot both receive it. Wrong secrets count toward
// maxAttempts, after which the record is dropped.
func (s *PasswordResetStore) Consume(
	ctx context.Context,
	resetID string,
	providedHash [32]byte,
	maxAttempts int,
	now time.Time,
) (*PasswordResetRecord, error) {
	const maxRetries = 4
	key := s.recordKey(resetID)

	for i := 0; i < maxRetries; i++ {
		var matched *PasswordResetRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodePasswordResetRecord(data)
			if err != nil {
				return err
			}
			idx := s.accountKey(record.AccountID)

			if now.Unix() >= record.ExpiresAt {
				if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				}); err != nil {
					return err
				}
				return ErrResetNotFound
			}

			if subtle.ConstantTimeCompare(record.SecretHash[:], providedHash[:]) != 1 {
				record.Attempts++
				if int(record.Attempts) >= maxAttempts {
					if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
						pipe.Del(ctx, key)
						return nil
					}); err != nil {
						return err
					}
					return ErrResetAttemptsExceeded
				}

				updated, err := encodePasswordResetRecord(record)
				if err != nil {
					return err
				}
				ttl := time.Unix(record.ExpiresAt, 0).Sub(now)
				if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, ttl)
					return nil
				}); err != nil {
					return err
				}
				return ErrResetSecretMismatch
			}

			current, err := tx.Get(ctx, idx).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				if current == resetID {
					pipe.Del(ctx, idx)
				}
				return nil
			}); err != nil {
				return err
			}

			matched = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, ErrResetNotFound
			case errors.Is(err, ErrResetNotFound), errors.Is(err, ErrResetSecretMismatch), errors.Is(err, ErrResetAttemptsExceeded):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
			}
		}

		return matched, nil
	}

	return nil, ErrResetNotFound
}

// DeleteForAccount drops the live record of an account, if any.
func (s *PasswordResetStore) DeleteForAccount(ctx context.Context, accountID string) error {
	idx := s.accountKey(accountID)
	resetID, err := s.redis.GetDel(ctx, idx).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}
	if err := s.redis.Del(ctx, s.recordKey(resetID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}
	return nil
}

func encodePasswordResetRecord(record *PasswordResetRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(resetRecordVersionV1)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	if err := writeString(&buf, record.AccountID); err != nil {
		return nil, err
	}
	buf.Write(record.SecretHash[:])

	return buf.Bytes(), nil
}

func decodePasswordResetRecord(data []byte) (*PasswordResetRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != resetRecordVersionV1 {
		return nil, errors.New("invalid reset record version")
	}

	record := &PasswordResetRecord{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if record.AccountID, err = readString(reader); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 65535 {
		return errors.New("record field too long")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readString(reader *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
		return "", err
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}
