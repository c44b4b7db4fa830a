package onnx

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"
)

// FillInput resizes img to size x size and writes it into dst as planar RGB
// scaled to [0, 1], the layout of a [1, 3, size, size] input tensor.
//
// Arguments:
//   - img: The decoded, oriented image.
//   - dst: The input tensor data.
//   - size: The model input edge.
//
// Returns:
//   - error: An error if dst is too small.
func FillInput(img image.Image, dst []float32, size int) error {
	channelSize := size * size
	if len(dst) < channelSize*3 {
		return fmt.Errorf("destination tensor only holds %d floats, needs %d", len(dst), channelSize*3)
	}
	red := dst[0:channelSize]
	green := dst[channelSize : channelSize*2]
	blue := dst[channelSize*2 : channelSize*3]

	resized := resize.Resize(uint(size), uint(size), img, resize.Lanczos3)
	bounds := resized.Bounds()

	i := 0
	for y := bounds.Min.Y; y < bounds.Min.Y+size; y++ {
		for x := bounds.Min.X; x < bounds.Min.X+size; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			red[i] = float32(r>>8) / 255.0
			green[i] = float32(g>>8) / 255.0
			blue[i] = float32(b>>8) / 255.0
			i++
		}
	}
	return nil
}
