package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const sessionFormatVersion = 1

var ErrCorrupt = errors.New("session record corrupt")

// Encode serializes s as version(1) | account | role | flags(1) | ipHash(32) | created(8) | expires(8),
// strings prefixed by a one-byte length.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(sessionFormatVersion)

	for _, field := range []string{s.AccountID, s.Role} {
		if len(field) > 255 {
			return nil, errors.New("session field too long")
		}
		buf.WriteByte(byte(len(field)))
		buf.WriteString(field)
	}

	var flags byte
	if s.TwoFactorVerified {
		flags |= 1
	}
	buf.WriteByte(flags)
	buf.Write(s.IPHash[:])

	var ts [16]byte
	binary.BigEndian.PutUint64(ts[:8], uint64(s.CreatedAt))
	binary.BigEndian.PutUint64(ts[8:], uint64(s.ExpiresAt))
	buf.Write(ts[:])

	return buf.Bytes(), nil
}

// Decode parses a record produced by Encode. sessionID is not stored in the
// blob; it is the key.
func Decode(sessionID string, data []byte) (*Session, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil || version != sessionFormatVersion {
		return nil, ErrCorrupt
	}

	s := &Session{SessionID: sessionID}
	if s.AccountID, err = readShortString(r); err != nil {
		return nil, ErrCorrupt
	}
	if s.Role, err = readShortString(r); err != nil {
		return nil, ErrCorrupt
	}

	flags, err := r.ReadByte()
	if err != nil {
		return nil, ErrCorrupt
	}
	s.TwoFactorVerified = flags&1 == 1

	if _, err := io.ReadFull(r, s.IPHash[:]); err != nil {
		return nil, ErrCorrupt
	}

	var ts [16]byte
	if _, err := io.ReadFull(r, ts[:]); err != nil {
		return nil, ErrCorrupt
	}
	s.CreatedAt = int64(binary.BigEndian.Uint64(ts[:8]))
	s.ExpiresAt = int64(binary.BigEndian.Uint64(ts[8:]))

	if r.Len() != 0 {
		return nil, ErrCorrupt
	}
	return s, nil
}

func readShortString(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(r, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}
