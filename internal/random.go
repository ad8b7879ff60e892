package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"math/big"
	"strings"
)

// SessionID is a 128-bit random identifier used for sessions and reset records.
type SessionID [16]byte

const (
	resetSecretSize   = 32
	resetTokenRawSize = 16 + resetSecretSize
	csrfSecretSize    = 32
)

// ResetSecret is the verifier half of a password reset token.
type ResetSecret [resetSecretSize]byte

func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

func (s SessionID) String() string {
	return base64.RawURLEncoding.EncodeToString(s[:])
}

func ParseSessionID(sessionID string) (SessionID, error) {
	var sid SessionID

	raw, err := base64.RawURLEncoding.DecodeString(sessionID)
	if err != nil {
		return sid, err
	}
	if len(raw) != len(sid) {
		return sid, errors.New("invalid session id size")
	}

	copy(sid[:], raw)
	return sid, nil
}

// NewResetToken returns a fresh record id, its secret and the opaque token
// that carries both. Only the sha256 of the secret should ever be stored.
func NewResetToken() (string, ResetSecret, string, error) {
	var secret ResetSecret

	rid, err := NewSessionID()
	if err != nil {
		return "", secret, "", err
	}
	if _, err := rand.Read(secret[:]); err != nil {
		return "", secret, "", err
	}

	var raw [resetTokenRawSize]byte
	copy(raw[:len(rid)], rid[:])
	copy(raw[len(rid):], secret[:])

	return rid.String(), secret, base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

func DecodeResetToken(token string) (string, ResetSecret, error) {
	var secret ResetSecret

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return "", secret, err
	}
	if len(raw) != resetTokenRawSize {
		return "", secret, errors.New("invalid reset token size")
	}

	var rid SessionID
	copy(rid[:], raw[:len(rid)])
	copy(secret[:], raw[len(rid):])

	return rid.String(), secret, nil
}

func HashResetSecret(secret ResetSecret) [32]byte {
	return sha256.Sum256(secret[:])
}

// HashOTP binds a numeric code to the account it was issued for, so equal
// codes for different accounts never share a stored hash.
func HashOTP(accountID, code string) [32]byte {
	h := sha256.New()
	h.Write([]byte("adminauth:otp:"))
	h.Write([]byte(accountID))
	h.Write([]byte{0})
	h.Write([]byte(code))

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func NewOTP(digits int) (string, error) {
	if digits < 6 || digits > 10 {
		return "", errors.New("invalid otp digits")
	}

	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

// NewCSRFSecret returns 32 random bytes, base64url encoded.
func NewCSRFSecret() (string, error) {
	var secret [csrfSecretSize]byte
	if _, err := rand.Read(secret[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(secret[:]), nil
}

// IsNumeric reports whether s is a non-empty string of ASCII digits.
func IsNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
