package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// SecretSize is the length of generated seeds (160 bits, RFC 4226 recommendation).
const SecretSize = 20

var (
	ErrEmptySecret          = errors.New("empty totp secret")
	ErrUnsupportedAlgorithm = errors.New("unsupported totp algorithm")
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// Options describe the code format shared by server and authenticator app.
type Options struct {
	Digits    int
	Period    int
	Algorithm string
}

// DefaultOptions are the parameters every authenticator app supports:
// 6 digits, 30 second steps, HMAC-SHA1.
func DefaultOptions() Options {
	return Options{Digits: 6, Period: 30, Algorithm: "SHA1"}
}

func (o Options) normalized() Options {
	if o.Digits == 0 {
		o.Digits = 6
	}
	if o.Period == 0 {
		o.Period = 30
	}
	if o.Algorithm == "" {
		o.Algorithm = "SHA1"
	}
	return o
}

// NewSecret returns a random seed and its unpadded base32 form.
func NewSecret() ([]byte, string, error) {
	raw := make([]byte, SecretSize)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", err
	}
	return raw, b32.EncodeToString(raw), nil
}

// EncodeSecret returns the unpadded base32 form of a seed.
func EncodeSecret(secret []byte) string {
	return b32.EncodeToString(secret)
}

// DecodeSecret parses a base32 seed, ignoring case, spaces and padding.
func DecodeSecret(s string) ([]byte, error) {
	s = strings.ToUpper(strings.ReplaceAll(s, " ", ""))
	return b32.DecodeString(strings.TrimRight(s, "="))
}

// VerifyTOTP checks code against secret at now with the default options,
// accepting toleranceSteps time steps on either side.
func VerifyTOTP(secret []byte, code string, now time.Time, toleranceSteps int) bool {
	ok, _, err := Verify(secret, code, now, toleranceSteps, DefaultOptions())
	return err == nil && ok
}

// Verify checks code and returns the matched time-step counter, which
// callers use to reject replays of the same code. Every candidate step is
// computed and compared in constant time, so timing does not reveal which
// step matched.
func Verify(secret []byte, code string, now time.Time, toleranceSteps int, opts Options) (bool, int64, error) {
	opts = opts.normalized()
	if len(secret) == 0 {
		return false, 0, ErrEmptySecret
	}

	code = strings.TrimSpace(code)
	if len(code) != opts.Digits || !numeric(code) {
		return false, 0, nil
	}
	if toleranceSteps < 0 {
		toleranceSteps = 0
	}

	base := now.Unix() / int64(opts.Period)
	matched := int64(-1)
	for step := -toleranceSteps; step <= toleranceSteps; step++ {
		counter := base + int64(step)
		if counter < 0 {
			continue
		}
		generated, err := hotp(secret, counter, opts.Digits, opts.Algorithm)
		if err != nil {
			return false, 0, err
		}
		if subtle.ConstantTimeCompare([]byte(generated), []byte(code)) == 1 && matched < 0 {
			matched = counter
		}
	}

	if matched < 0 {
		return false, 0, nil
	}
	return true, matched, nil
}

// Generate returns the code for now. It exists for tests and tooling; the
// server never needs to emit codes.
func Generate(secret []byte, now time.Time, opts Options) (string, error) {
	opts = opts.normalized()
	if len(secret) == 0 {
		return "", ErrEmptySecret
	}
	return hotp(secret, now.Unix()/int64(opts.Period), opts.Digits, opts.Algorithm)
}

// ProvisioningURI builds the Key URI understood by authenticator apps:
// otpauth://totp/{issuer}:{account}?secret=..&issuer=..&algorithm=..&digits=..&period=..
func ProvisioningURI(issuer, account, secretBase32 string, opts Options) string {
	opts = opts.normalized()

	label := url.PathEscape(account)
	if issuer != "" {
		label = url.PathEscape(issuer) + ":" + label
	}

	v := url.Values{}
	v.Set("secret", secretBase32)
	if issuer != "" {
		v.Set("issuer", issuer)
	}
	v.Set("algorithm", strings.ToUpper(opts.Algorithm))
	v.Set("digits", strconv.Itoa(opts.Digits))
	v.Set("period", strconv.Itoa(opts.Period))

	return "otpauth://totp/" + label + "?" + v.Encode()
}

func hotp(secret []byte, counter int64, digits int, algorithm string) (string, error) {
	hf, err := hmacFunc(algorithm)
	if err != nil {
		return "", err
	}

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(hf, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	mod := uint32(1)
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, bin%mod), nil
}

func hmacFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, ErrUnsupportedAlgorithm
	}
}

func numeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
