package yolov8

import (
	"testing"

	"github.com/nvr-ai/go-anomaly/images"
	"github.com/nvr-ai/go-anomaly/models/postprocess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// candidates holds rows of cx, cy, w, h, score(class 0), score(class 1).
var candidates = [][]float32{
	{100, 100, 40, 20, 0.9, 0.1},
	{102, 101, 40, 20, 0.8, 0.2}, // overlaps the first, same class
	{500, 300, 60, 60, 0.1, 0.6},
	{320, 320, 10, 10, 0.05, 0.1}, // below threshold
	{10, 10, 5, 5, 0.01, 0.02},
	{20, 20, 5, 5, 0.02, 0.01},
	{30, 30, 5, 5, 0.0, 0.0},
	{40, 40, 5, 5, 0.24, 0.0},
}

// channelMajor lays candidates out as [1, 6, N].
func channelMajor() []float32 {
	out := make([]float32, 6*len(candidates))
	for i, row := range candidates {
		for c, v := range row {
			out[c*len(candidates)+i] = v
		}
	}
	return out
}

// rowMajor lays candidates out as [1, N, 6].
func rowMajor() []float32 {
	out := make([]float32, 0, 6*len(candidates))
	for _, row := range candidates {
		out = append(out, row...)
	}
	return out
}

// TestPostProcess verifies decoding in both layouts produces identical detections.
func TestPostProcess(t *testing.T) {
	frame := Frame{Width: 1280, Height: 640, InputSize: 640}
	opts := DefaultOptions()

	expected := []postprocess.RawDetection{
		{Box: images.Rect{X1: 160, Y1: 90, X2: 240, Y2: 110}, Class: 0, Score: float32(0.9)},
		{Box: images.Rect{X1: 940, Y1: 270, X2: 1060, Y2: 330}, Class: 1, Score: float32(0.6)},
	}

	tests := []struct {
		name   string
		output []float32
		dims   []int64
	}{
		{"channel major", channelMajor(), []int64{1, 6, int64(len(candidates))}},
		{"row major", rowMajor(), []int64{1, int64(len(candidates)), 6}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := append([]float32(nil), tt.output...)

			got, err := PostProcess(tt.output, tt.dims, frame, opts)
			require.NoError(t, err)
			require.Len(t, got, len(expected))
			for i := range expected {
				assert.Equal(t, expected[i].Class, got[i].Class)
				assert.InDelta(t, expected[i].Score.(float32), got[i].Score.(float32), 1e-6)
				assert.InDelta(t, expected[i].Box.X1, got[i].Box.X1, 1e-3)
				assert.InDelta(t, expected[i].Box.Y1, got[i].Box.Y1, 1e-3)
				assert.InDelta(t, expected[i].Box.X2, got[i].Box.X2, 1e-3)
				assert.InDelta(t, expected[i].Box.Y2, got[i].Box.Y2, 1e-3)
			}
			assert.Equal(t, original, tt.output, "input must not be modified")
		})
	}
}

// TestPostProcessErrors verifies malformed outputs are rejected.
func TestPostProcessErrors(t *testing.T) {
	frame := Frame{Width: 10, Height: 10, InputSize: 640}
	opts := DefaultOptions()

	_, err := PostProcess(make([]float32, 10), []int64{1, 6, 4}, frame, opts)
	assert.Error(t, err, "size mismatch")

	_, err = PostProcess(make([]float32, 8), []int64{2, 4, 1}, frame, opts)
	assert.Error(t, err, "batch size")

	_, err = PostProcess(make([]float32, 16), []int64{1, 4, 4}, frame, opts)
	assert.Error(t, err, "no class scores")

	_, err = PostProcess(make([]float32, 48), []int64{1, 6, 8}, Frame{Width: 1, Height: 1}, opts)
	assert.Error(t, err, "zero input size")
}

// TestOptionsValidate verifies option validation.
func TestOptionsValidate(t *testing.T) {
	assert.NoError(t, DefaultOptions().Validate())

	opts := DefaultOptions()
	opts.InputSize = 0
	assert.Error(t, opts.Validate())

	opts = DefaultOptions()
	opts.OutputName = ""
	assert.Error(t, opts.Validate())

	opts = DefaultOptions()
	opts.ConfidenceThreshold = 1.5
	assert.Error(t, opts.Validate())
}
