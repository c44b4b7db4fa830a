package images

import (
	"encoding/base64"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidBase64 is returned when a payload cannot be decoded as base64.
var ErrInvalidBase64 = errors.New("invalid base64 image data")

// DecodeBase64 decodes a base64 image payload.
//
// Surrounding whitespace, embedded line breaks and an optional
// "data:<mime>;base64," prefix are tolerated. Both padded and unpadded
// standard encodings are accepted, as well as the URL-safe alphabet.
//
// Arguments:
//   - payload: The base64 text.
//
// Returns:
//   - The decoded bytes.
//   - error: ErrEmptyImage for an empty payload, ErrInvalidBase64 otherwise.
//
// Example:
//
// ```go
//
//	data, err := DecodeBase64("data:image/jpeg;base64,/9j/4AAQSkZJRg...")
//
// ```
func DecodeBase64(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if strings.HasPrefix(payload, "data:") {
		if idx := strings.Index(payload, ","); idx >= 0 {
			payload = payload[idx+1:]
		}
	}
	payload = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t', ' ':
			return -1
		}
		return r
	}, payload)
	if payload == "" {
		return nil, ErrEmptyImage
	}

	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		data, err := enc.DecodeString(payload)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, errors.Wrapf(ErrInvalidBase64, "%v", lastErr)
}

// FromBase64 decodes a base64 payload and probes the resulting image.
func FromBase64(payload string) (*Image, error) {
	data, err := DecodeBase64(payload)
	if err != nil {
		return nil, err
	}
	return FromBytes(data)
}
