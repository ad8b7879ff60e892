// Package qr renders provisioning URIs as PNG QR codes for authenticator
// enrolment.
package qr

import (
	"errors"

	qrcode "github.com/skip2/go-qrcode"
)

const defaultSize = 256

// PNGEncoder encodes text as a PNG QR code with medium error correction.
type PNGEncoder struct {
	Size int
}

// Encode returns the PNG bytes for uri.
func (e PNGEncoder) Encode(uri string) ([]byte, error) {
	if uri == "" {
		return nil, errors.New("qr: empty content")
	}
	size := e.Size
	if size <= 0 {
		size = defaultSize
	}
	return qrcode.Encode(uri, qrcode.Medium, size)
}
