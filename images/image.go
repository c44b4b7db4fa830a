// Package images - Image definition for detection inputs.
package images

import (
	"bytes"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"io"
	"os"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"  // Register BMP format decoder
	_ "golang.org/x/image/tiff" // Register TIFF format decoder
	_ "golang.org/x/image/webp" // Register WebP format decoder
)

// ErrEmptyImage is returned when an image has no bytes to decode.
var ErrEmptyImage = errors.New("image data is empty")

// Image represents an input image with a format, data, width, and height.
//
// Width and Height are the dimensions after EXIF orientation is applied, which
// is the frame a detector sees and the frame its boxes refer to.
type Image struct {
	// The path of the image on disk, empty when the image only exists in memory.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
	// The format of the image, as reported by the registered decoder.
	Format ImageFormat `json:"format" yaml:"format"`
	// The data of the image.
	Data []byte `json:"-" yaml:"-"`
	// The width of the image.
	Width int `json:"width" yaml:"width"`
	// The height of the image.
	Height int `json:"height" yaml:"height"`
}

// ImageFormat represents supported image formats
type ImageFormat string

// ImageFormat constants
const (
	// FormatJPEG is the JPEG image format.
	FormatJPEG ImageFormat = "jpeg"
	// FormatWebP is the WebP image format.
	FormatWebP ImageFormat = "webp"
	// FormatPNG is the PNG image format.
	FormatPNG ImageFormat = "png"
	// FormatBMP is the BMP image format.
	FormatBMP ImageFormat = "bmp"
	// FormatGIF is the GIF image format.
	FormatGIF ImageFormat = "gif"
	// FormatTIFF is the TIFF image format.
	FormatTIFF ImageFormat = "tiff"
)

// Ext returns the file extension conventionally used for the format.
func (f ImageFormat) Ext() string {
	switch f {
	case FormatJPEG, "":
		return ".jpg"
	default:
		return "." + string(f)
	}
}

// Load reads an image file from disk and probes its dimensions.
//
// Arguments:
//   - path: Path to the image file.
//
// Returns:
//   - *Image: The image with Path, Data, Format, Width and Height populated.
//   - error: Non-nil if the file cannot be read or decoded.
func Load(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read image %s", path)
	}
	img, err := FromBytes(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load image %s", path)
	}
	img.Path = path
	return img, nil
}

// FromReader reads all bytes from r and probes the image dimensions.
func FromReader(r io.Reader) (*Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read image")
	}
	return FromBytes(data)
}

// FromBytes decodes data far enough to learn its format and oriented
// dimensions. The bytes are kept as-is on the returned Image.
//
// Arguments:
//   - data: Encoded image bytes.
//
// Returns:
//   - *Image: The image with Data, Format, Width and Height populated.
//   - error: ErrEmptyImage, or a decode error.
func FromBytes(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode image config")
	}

	img := &Image{
		Format: ImageFormat(format),
		Data:   data,
		Width:  cfg.Width,
		Height: cfg.Height,
	}

	// Only JPEG carries an EXIF orientation that can swap the axes; a full
	// oriented decode is needed to learn the frame a detector will see.
	if img.Format == FormatJPEG {
		decoded, err := img.Decode()
		if err != nil {
			return nil, err
		}
		b := decoded.Bounds()
		img.Width, img.Height = b.Dx(), b.Dy()
	}

	return img, nil
}

// Decode returns the pixels of the image with EXIF orientation applied.
func (i *Image) Decode() (image.Image, error) {
	if len(i.Data) == 0 {
		return nil, ErrEmptyImage
	}
	decoded, err := imaging.Decode(bytes.NewReader(i.Data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode image")
	}
	return decoded, nil
}
