package qr

import (
	"bytes"
	"testing"
)

func TestEncodeProducesPNG(t *testing.T) {
	png, err := PNGEncoder{}.Encode("otpauth://totp/Issuer:admin@example.com?secret=JBSWY3DPEHPK3PXP&issuer=Issuer")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG\r\n\x1a\n")) {
		t.Fatal("output is not a PNG")
	}
}

func TestEncodeRejectsEmpty(t *testing.T) {
	if _, err := (PNGEncoder{Size: 64}).Encode(""); err == nil {
		t.Fatal("expected error for empty content")
	}
}
