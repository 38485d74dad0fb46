package qr

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	qrcode "github.com/skip2/go-qrcode"
)

// ErrEmptyPayload is returned when there is no member id to encode
var ErrEmptyPayload = errors.New("qr: empty payload")

// DefaultSize is the side length used when callers pass a non-positive size
const DefaultSize = 400

// Generate returns the scannable code for a member id. The output is a pure
// function of memberID and size.
func Generate(memberID string, size int) (image.Image, error) {
	if memberID == "" {
		return nil, ErrEmptyPayload
	}
	if size <= 0 {
		size = DefaultSize
	}
	q, err := qrcode.New(memberID, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("qr: encode %q: %w", memberID, err)
	}
	q.BackgroundColor = color.White
	q.ForegroundColor = color.Black
	q.DisableBorder = true
	return q.Image(size), nil
}

// GeneratePNG returns PNG bytes of the code, as served by the HTTP API.
func GeneratePNG(text string, size int) ([]byte, error) {
	if text == "" {
		return nil, ErrEmptyPayload
	}
	if size <= 0 {
		size = DefaultSize
	}
	return qrcode.Encode(text, qrcode.Medium, size)
}
