package images

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encode renders a solid test frame in the requested format.
func encode(t *testing.T, format ImageFormat, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	switch format {
	case FormatPNG:
		require.NoError(t, png.Encode(&buf, img))
	case FormatJPEG:
		require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	default:
		t.Fatalf("unsupported test format %s", format)
	}
	return buf.Bytes()
}

// TestFromBytes verifies format and dimension probing.
func TestFromBytes(t *testing.T) {
	tests := []struct {
		name   string
		format ImageFormat
		w, h   int
	}{
		{"png", FormatPNG, 64, 32},
		{"jpeg", FormatJPEG, 40, 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := encode(t, tt.format, tt.w, tt.h)

			img, err := FromBytes(data)
			require.NoError(t, err)
			assert.Equal(t, tt.format, img.Format)
			assert.Equal(t, tt.w, img.Width)
			assert.Equal(t, tt.h, img.Height)
			assert.Equal(t, data, img.Data)

			decoded, err := img.Decode()
			require.NoError(t, err)
			assert.Equal(t, tt.w, decoded.Bounds().Dx())
			assert.Equal(t, tt.h, decoded.Bounds().Dy())
		})
	}
}

// TestFromBytesErrors verifies empty and corrupt inputs are rejected.
func TestFromBytesErrors(t *testing.T) {
	_, err := FromBytes(nil)
	assert.ErrorIs(t, err, ErrEmptyImage)

	_, err = FromBytes([]byte("definitely not an image"))
	assert.Error(t, err)

	_, err = (&Image{}).Decode()
	assert.ErrorIs(t, err, ErrEmptyImage)
}

// TestLoad verifies loading from disk records the path.
func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.png")
	require.NoError(t, os.WriteFile(path, encode(t, FormatPNG, 16, 8), 0o600))

	img, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, img.Path)
	assert.Equal(t, 16, img.Width)
	assert.Equal(t, 8, img.Height)

	_, err = Load(filepath.Join(t.TempDir(), "missing.jpg"))
	assert.Error(t, err)
}

// TestFromReader verifies reading from a stream.
func TestFromReader(t *testing.T) {
	img, err := FromReader(bytes.NewReader(encode(t, FormatPNG, 5, 7)))
	require.NoError(t, err)
	assert.Equal(t, 5, img.Width)
	assert.Equal(t, 7, img.Height)
}

// TestExtensions verifies format extensions.
func TestExtensions(t *testing.T) {
	assert.Equal(t, ".jpg", FormatJPEG.Ext())
	assert.Equal(t, ".jpg", ImageFormat("").Ext())
	assert.Equal(t, ".png", FormatPNG.Ext())
	assert.Equal(t, ".webp", FormatWebP.Ext())
}

// TestDecodeBase64 verifies the accepted payload variants.
func TestDecodeBase64(t *testing.T) {
	raw := []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 0xfe}

	std := base64.StdEncoding.EncodeToString(raw)
	tests := []struct {
		name    string
		payload string
	}{
		{"standard", std},
		{"unpadded", base64.RawStdEncoding.EncodeToString(raw)},
		{"url safe", base64.URLEncoding.EncodeToString(raw)},
		{"url safe unpadded", base64.RawURLEncoding.EncodeToString(raw)},
		{"data uri", "data:image/jpeg;base64," + std},
		{"wrapped lines", "  " + std[:4] + "\n" + std[4:] + "\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := DecodeBase64(tt.payload)
			require.NoError(t, err)
			assert.Equal(t, raw, data)
		})
	}
}

// TestDecodeBase64Errors verifies invalid payloads map to sentinel errors.
func TestDecodeBase64Errors(t *testing.T) {
	_, err := DecodeBase64("   \n")
	assert.ErrorIs(t, err, ErrEmptyImage)

	_, err = DecodeBase64("not*base64!")
	assert.Equal(t, ErrInvalidBase64, errors.Cause(err))

	_, err = FromBase64(base64.StdEncoding.EncodeToString([]byte("plain text")))
	assert.Error(t, err, "valid base64 that is not an image")

	img, err := FromBase64(base64.StdEncoding.EncodeToString(encode(t, FormatPNG, 3, 2)))
	require.NoError(t, err)
	assert.Equal(t, 3, img.Width)
}

// TestWorkspace verifies the temporary directory lifecycle.
func TestWorkspace(t *testing.T) {
	ws, err := NewWorkspace("yolo-run-")
	require.NoError(t, err)
	assert.Contains(t, filepath.Base(ws.Dir), "yolo-run-")

	img, err := FromBytes(encode(t, FormatJPEG, 8, 8))
	require.NoError(t, err)

	path, err := ws.WriteImage(img)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.Dir, "input.jpg"), path)
	assert.Equal(t, path, img.Path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, img.Data, data)

	require.NoError(t, ws.Remove())
	_, err = os.Stat(ws.Dir)
	assert.True(t, os.IsNotExist(err))
}
