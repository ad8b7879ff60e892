package totp

import (
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestVerifyRFC6238Vectors(t *testing.T) {
	opts := Options{Digits: 8, Period: 30}
	cases := []struct {
		algorithm string
		secret    string
		ts        int64
		code      string
	}{
		{"SHA1", "12345678901234567890", 59, "94287082"},
		{"SHA1", "12345678901234567890", 1111111109, "07081804"},
		{"SHA1", "12345678901234567890", 1111111111, "14050471"},
		{"SHA1", "12345678901234567890", 1234567890, "89005924"},
		{"SHA1", "12345678901234567890", 2000000000, "69279037"},
		{"SHA1", "12345678901234567890", 20000000000, "65353130"},
		{"SHA256", "12345678901234567890123456789012", 59, "46119246"},
		{"SHA256", "12345678901234567890123456789012", 1111111109, "68084774"},
		{"SHA256", "12345678901234567890123456789012", 2000000000, "90698825"},
		{"SHA512", "1234567890123456789012345678901234567890123456789012345678901234", 59, "90693936"},
		{"SHA512", "1234567890123456789012345678901234567890123456789012345678901234", 1111111109, "25091201"},
	}

	for _, tc := range cases {
		o := opts
		o.Algorithm = tc.algorithm
		ok, _, err := Verify([]byte(tc.secret), tc.code, time.Unix(tc.ts, 0), 0, o)
		if err != nil || !ok {
			t.Fatalf("%s vector failed at t=%d, ok=%v err=%v", tc.algorithm, tc.ts, ok, err)
		}
	}
}

func TestVerifyToleranceWindow(t *testing.T) {
	secret := []byte("12345678901234567890")
	now := time.Unix(1700000000, 0)

	code, err := Generate(secret, now, DefaultOptions())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	for _, offset := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		if !VerifyTOTP(secret, code, now.Add(offset), 1) {
			t.Fatalf("expected code valid at offset %v", offset)
		}
	}
	for _, offset := range []time.Duration{-60 * time.Second, 60 * time.Second} {
		if VerifyTOTP(secret, code, now.Add(offset), 1) {
			t.Fatalf("expected code invalid at offset %v", offset)
		}
	}
}

func TestVerifyReturnsMatchedCounter(t *testing.T) {
	secret := []byte("12345678901234567890")
	now := time.Unix(1700000000, 0)
	code, _ := Generate(secret, now.Add(-30*time.Second), DefaultOptions())

	ok, counter, err := Verify(secret, code, now, 1, DefaultOptions())
	if err != nil || !ok {
		t.Fatalf("verify: ok=%v err=%v", ok, err)
	}
	if want := now.Unix()/30 - 1; counter != want {
		t.Fatalf("counter %d, want %d", counter, want)
	}
}

func TestVerifyWrongSecretFails(t *testing.T) {
	now := time.Unix(1700000000, 0)
	code, _ := Generate([]byte("12345678901234567890"), now, DefaultOptions())
	if VerifyTOTP([]byte("09876543210987654321"), code, now, 1) {
		t.Fatal("code from a different secret must not verify")
	}
}

func TestVerifyRejectsMalformedInput(t *testing.T) {
	secret := []byte("12345678901234567890")
	now := time.Unix(1700000000, 0)

	for _, code := range []string{"", "12345", "1234567", "12a456"} {
		if VerifyTOTP(secret, code, now, 1) {
			t.Fatalf("code %q must not verify", code)
		}
	}
	if _, _, err := Verify(nil, "123456", now, 1, DefaultOptions()); err != ErrEmptySecret {
		t.Fatalf("expected ErrEmptySecret, got %v", err)
	}
	if _, _, err := Verify(secret, "123456", now, 1, Options{Algorithm: "MD5"}); err != ErrUnsupportedAlgorithm {
		t.Fatalf("expected ErrUnsupportedAlgorithm, got %v", err)
	}
}

func TestProvisioningURI(t *testing.T) {
	uri := ProvisioningURI("Faith Community", "admin@example.com", "JBSWY3DPEHPK3PXP", DefaultOptions())

	if !strings.HasPrefix(uri, "otpauth://totp/Faith%20Community:admin@example.com?") {
		t.Fatalf("unexpected label in %q", uri)
	}
	u, err := url.Parse(uri)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := u.Query()
	if q.Get("secret") != "JBSWY3DPEHPK3PXP" || q.Get("issuer") != "Faith Community" {
		t.Fatalf("unexpected query %v", q)
	}
	if q.Get("digits") != "6" || q.Get("period") != "30" || q.Get("algorithm") != "SHA1" {
		t.Fatalf("unexpected parameters %v", q)
	}
}

func TestSecretRoundTrip(t *testing.T) {
	raw, enc, err := NewSecret()
	if err != nil {
		t.Fatalf("new secret: %v", err)
	}
	if len(raw) != SecretSize || strings.Contains(enc, "=") {
		t.Fatalf("unexpected secret encoding %q", enc)
	}
	back, err := DecodeSecret(strings.ToLower(enc))
	if err != nil || string(back) != string(raw) {
		t.Fatalf("decode mismatch: %v", err)
	}
}
