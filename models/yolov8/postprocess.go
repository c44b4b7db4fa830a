// Package yolov8 - postprocess YOLOv8 model outputs.
package yolov8

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-anomaly/images"
	"github.com/nvr-ai/go-anomaly/models/postprocess"
	"gorgonia.org/tensor"
)

// Frame describes how model input coordinates map back onto the source image.
type Frame struct {
	// Width and Height of the source image in pixels.
	Width, Height int
	// InputSize is the edge length the image was resized to.
	InputSize int
}

// scale returns the factors converting input coordinates to source pixels.
func (f Frame) scale() (float32, float32) {
	return float32(f.Width) / float32(f.InputSize), float32(f.Height) / float32(f.InputSize)
}

// PostProcess decodes a YOLOv8 output tensor into raw detections.
//
// The output has shape [1, 4+C, N]: for each of N candidates, the box center,
// width and height in input pixels followed by C class scores. Some exports
// emit [1, N, 4+C] instead; the layout is inferred from which axis is larger.
//
// Arguments:
//   - output: The flat output tensor data. It is not modified.
//   - dims: The output tensor shape.
//   - frame: The source image geometry.
//   - opts: Threshold and NMS settings.
//
// Returns:
//   - Raw detections in source pixel coordinates, after NMS.
//   - error: Non-nil if the output does not match its shape.
func PostProcess(output []float32, dims []int64, frame Frame, opts Options) ([]postprocess.RawDetection, error) {
	channels, anchors, transposed, err := layout(dims)
	if err != nil {
		return nil, err
	}
	if len(output) != channels*anchors {
		return nil, fmt.Errorf("output has %d values, shape %v needs %d", len(output), dims, channels*anchors)
	}
	if channels < 5 {
		return nil, fmt.Errorf("output shape %v has no class scores", dims)
	}
	if frame.InputSize <= 0 {
		return nil, fmt.Errorf("input size must be positive, got %d", frame.InputSize)
	}

	rows := output
	if transposed {
		// Work on a copy: Transpose moves the backing data in place.
		t := tensor.New(
			tensor.WithShape(channels, anchors),
			tensor.WithBacking(append([]float32(nil), output...)),
		)
		if err := t.T(); err != nil {
			return nil, fmt.Errorf("transpose output: %w", err)
		}
		if err := t.Transpose(); err != nil {
			return nil, fmt.Errorf("transpose output: %w", err)
		}
		rows = t.Data().([]float32)
	}

	sx, sy := frame.scale()
	results := make([]postprocess.RawDetection, 0, 16)

	for i := 0; i < anchors; i++ {
		row := rows[i*channels : (i+1)*channels]

		classID := 0
		best := math32.Inf(-1)
		for c, score := range row[4:] {
			if score > best {
				best = score
				classID = c
			}
		}
		if best < opts.ConfidenceThreshold {
			continue
		}

		cx, cy, w, h := row[0], row[1], row[2], row[3]
		results = append(results, postprocess.RawDetection{
			Box: images.Rect{
				X1: float64((cx - w/2) * sx),
				Y1: float64((cy - h/2) * sy),
				X2: float64((cx + w/2) * sx),
				Y2: float64((cy + h/2) * sy),
			},
			Class: classID,
			Score: best,
		})
	}

	return postprocess.ApplyGreedyNMS(results, opts.NMS), nil
}

// layout returns the candidate row width, the candidate count, and whether the
// data is channel-major and must be transposed.
func layout(dims []int64) (channels, anchors int, transposed bool, err error) {
	shape := dims
	if len(shape) == 3 {
		if shape[0] != 1 {
			return 0, 0, false, fmt.Errorf("batch size %d is not supported", shape[0])
		}
		shape = shape[1:]
	}
	if len(shape) != 2 || shape[0] <= 0 || shape[1] <= 0 {
		return 0, 0, false, fmt.Errorf("unexpected output shape %v", dims)
	}

	a, b := int(shape[0]), int(shape[1])
	if a < b {
		return a, b, true, nil
	}
	return b, a, false, nil
}

