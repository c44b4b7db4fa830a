package postprocess

import (
	"encoding/json"
	"math"
	"math/rand"
	"strconv"
	"testing"

	"github.com/nvr-ai/go-anomaly/images"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// elevenClasses is a lookup table holding indices 0 through 10.
func elevenClasses() ClassNames {
	names := make(ClassNames, 11)
	for i := range names {
		names[i] = "class-" + strconv.Itoa(i)
	}
	return names
}

// TestNormalize covers the documented examples of the normalization contract.
func TestNormalize(t *testing.T) {
	classes := ClassNames{"Faulty", "Potentially Faulty"}

	tests := []struct {
		name     string
		raw      RawDetection
		width    int
		height   int
		expected Anomaly
	}{
		{
			name:   "swapped corners are reordered",
			raw:    RawDetection{Box: images.Rect{X1: 50, Y1: 10, X2: 10, Y2: 90}, Class: 0, Score: 0.5},
			width:  100,
			height: 100,
			expected: Anomaly{
				Class: "Faulty", Confidence: 0.5, Box: [4]float64{0.1, 0.1, 0.5, 0.9},
			},
		},
		{
			name:   "out of frame coordinates are clamped",
			raw:    RawDetection{Box: images.Rect{X1: -20, Y1: 0, X2: 120, Y2: 50}, Class: 1, Score: 0.9},
			width:  100,
			height: 100,
			expected: Anomaly{
				Class: "Potentially Faulty", Confidence: 0.9, Box: [4]float64{0, 0, 1, 0.5},
			},
		},
		{
			name:   "percentage score is rescaled",
			raw:    RawDetection{Box: images.Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}, Class: 0, Score: 87.5},
			width:  20,
			height: 40,
			expected: Anomaly{
				Class: "Faulty", Confidence: 0.875, Box: [4]float64{0, 0, 0.5, 0.25},
			},
		},
		{
			name:   "unit score is kept",
			raw:    RawDetection{Box: images.Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}, Class: 0, Score: 0.42},
			width:  10,
			height: 10,
			expected: Anomaly{
				Class: "Faulty", Confidence: 0.42, Box: [4]float64{0, 0, 1, 1},
			},
		},
		{
			name:   "label wins over the table",
			raw:    RawDetection{Box: images.Rect{X1: 1, Y1: 1, X2: 2, Y2: 2}, Class: 0, Label: "Normal", Score: float32(0.25)},
			width:  4,
			height: 4,
			expected: Anomaly{
				Class: "Normal", Confidence: 0.25, Box: [4]float64{0.25, 0.25, 0.5, 0.5},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.raw, tt.width, tt.height, classes)
			require.NoError(t, err)
			assert.Equal(t, tt.expected.Class, got.Class)
			assert.InDelta(t, tt.expected.Confidence, got.Confidence, 1e-9)
			for i := range got.Box {
				assert.InDelta(t, tt.expected.Box[i], got.Box[i], 1e-9, "box[%d]", i)
			}
		})
	}
}

// TestNormalizeClassFallback verifies unknown indices fall back to their decimal form.
func TestNormalizeClassFallback(t *testing.T) {
	raw := RawDetection{Box: images.Rect{X2: 1, Y2: 1}, Class: 999, Score: 0.5}

	got, err := Normalize(raw, 1, 1, elevenClasses())
	require.NoError(t, err)
	assert.Equal(t, "999", got.Class)

	got, err = Normalize(raw, 1, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, "999", got.Class, "a nil table falls back as well")

	got, err = Normalize(RawDetection{Class: -3, Score: 0.5}, 1, 1, elevenClasses())
	require.NoError(t, err)
	assert.Equal(t, "-3", got.Class)
}

// TestNormalizeInvalidDimensions verifies zero and negative dimensions are rejected.
func TestNormalizeInvalidDimensions(t *testing.T) {
	raw := RawDetection{Box: images.Rect{X2: 10, Y2: 10}, Score: 0.5}

	for _, dims := range [][2]int{{0, 100}, {100, 0}, {-1, 100}, {0, 0}} {
		_, err := Normalize(raw, dims[0], dims[1], nil)
		require.Error(t, err, "dims %v", dims)
		assert.True(t, errors.Is(err, ErrInvalidImageDimensions), "dims %v: %v", dims, err)
	}
}

// TestNormalizeIdempotent verifies an already normalized box is unchanged at 1x1.
func TestNormalizeIdempotent(t *testing.T) {
	box := images.Rect{X1: 0.12, Y1: 0.3, X2: 0.75, Y2: 0.99}

	first, err := Normalize(RawDetection{Box: box, Score: 0.6}, 1, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, box.Array(), first.Box)

	again, err := Normalize(RawDetection{
		Box:   images.Rect{X1: first.Box[0], Y1: first.Box[1], X2: first.Box[2], Y2: first.Box[3]},
		Score: first.Confidence,
	}, 1, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

// TestNormalizeDegradedScores verifies malformed scores become zero instead of failing.
func TestNormalizeDegradedScores(t *testing.T) {
	scores := []interface{}{nil, "high", math.NaN(), math.Inf(1), []int{1}, json.Number("x")}

	for _, s := range scores {
		got, err := Normalize(RawDetection{Box: images.Rect{X2: 5, Y2: 5}, Score: s}, 10, 10, nil)
		require.NoError(t, err, "score %#v", s)
		assert.Equal(t, 0.0, got.Confidence, "score %#v", s)
	}
}

// TestNormalizeNaNCoordinates verifies NaN coordinates still produce an ordered unit box.
func TestNormalizeNaNCoordinates(t *testing.T) {
	got, err := Normalize(RawDetection{
		Box:   images.Rect{X1: 50, Y1: math.NaN(), X2: math.NaN(), Y2: 20},
		Score: 0.5,
	}, 100, 100, nil)
	require.NoError(t, err)
	assertValidAnomaly(t, got)
}

// TestNormalizeRandom checks output bounds and ordering on random inputs.
func TestNormalizeRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	classes := elevenClasses()

	for i := 0; i < 5000; i++ {
		width := rng.Intn(4000) + 1
		height := rng.Intn(4000) + 1
		raw := RawDetection{
			Box: images.Rect{
				X1: (rng.Float64()*1.4 - 0.2) * float64(width),
				Y1: (rng.Float64()*1.4 - 0.2) * float64(height),
				X2: (rng.Float64()*1.4 - 0.2) * float64(width),
				Y2: (rng.Float64()*1.4 - 0.2) * float64(height),
			},
			Class: rng.Intn(20),
			Score: rng.Float64()*150 - 10,
		}

		got, err := Normalize(raw, width, height, classes)
		require.NoError(t, err)
		assertValidAnomaly(t, got)
	}
}

// TestNormalizeBatch verifies order, cardinality and the dimension failure path.
func TestNormalizeBatch(t *testing.T) {
	raws := []RawDetection{
		{Box: images.Rect{X1: 0, Y1: 0, X2: 10, Y2: 10}, Class: 1, Score: 0.9},
		{Box: images.Rect{X1: 5, Y1: 5, X2: 1, Y2: 1}, Class: 42, Score: "garbage"},
		{Box: images.Rect{X1: 2, Y1: 2, X2: 8, Y2: 8}, Class: 0, Score: 55},
	}

	batch, err := NormalizeBatch(raws, 10, 10, elevenClasses())
	require.NoError(t, err)
	require.Equal(t, 3, batch.Len(), "one record per raw detection")
	assert.Equal(t, "class-1", batch.Anomalies[0].Class)
	assert.Equal(t, "42", batch.Anomalies[1].Class)
	assert.Equal(t, 0.0, batch.Anomalies[1].Confidence)
	assert.Equal(t, [4]float64{0.1, 0.1, 0.5, 0.5}, batch.Anomalies[1].Box)
	assert.InDelta(t, 0.55, batch.Anomalies[2].Confidence, 1e-9)

	batch, err = NormalizeBatch(raws, 0, 10, elevenClasses())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidImageDimensions))
	assert.NotNil(t, batch.Anomalies)
	assert.Empty(t, batch.Anomalies)
}

// TestNormalizeBatchParallel verifies the worker pool produces the sequential result.
func TestNormalizeBatchParallel(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	raws := make([]RawDetection, 257)
	for i := range raws {
		raws[i] = RawDetection{
			Box:   images.Rect{X1: rng.Float64() * 640, Y1: rng.Float64() * 480, X2: rng.Float64() * 640, Y2: rng.Float64() * 480},
			Class: rng.Intn(15),
			Score: rng.Float64() * 100,
		}
	}

	sequential, err := NormalizeBatch(raws, 640, 480, elevenClasses())
	require.NoError(t, err)

	for _, workers := range []int{0, 1, 4, 16, 1000} {
		parallel, err := NormalizeBatchParallel(raws, 640, 480, elevenClasses(), workers)
		require.NoError(t, err)
		assert.Equal(t, sequential, parallel, "workers=%d", workers)
	}
}

// TestNormalizerOnRecovered verifies fallbacks are reported in detection order.
func TestNormalizerOnRecovered(t *testing.T) {
	type event struct {
		index int
		err   error
	}
	var events []event

	n := Normalizer{
		Classes: ClassNames{"only"},
		Workers: 3,
		OnRecovered: func(index int, err error) {
			events = append(events, event{index, err})
		},
	}

	_, err := n.Normalize([]RawDetection{
		{Class: 0, Score: 0.5},
		{Class: 5, Score: 0.5},
		{Class: 0, Score: nil},
		{Class: 9, Score: "?"},
	}, 10, 10)
	require.NoError(t, err)

	require.Len(t, events, 4)
	assert.Equal(t, 1, events[0].index)
	assert.True(t, errors.Is(events[0].err, ErrUnresolvedClassIndex))
	assert.Equal(t, 2, events[1].index)
	assert.True(t, errors.Is(events[1].err, ErrUnparseableConfidence))
	assert.Equal(t, 3, events[2].index)
	assert.True(t, errors.Is(events[2].err, ErrUnresolvedClassIndex))
	assert.Equal(t, 3, events[3].index)
	assert.True(t, errors.Is(events[3].err, ErrUnparseableConfidence))
}

func assertValidAnomaly(t *testing.T, a Anomaly) {
	t.Helper()
	assert.GreaterOrEqual(t, a.Confidence, 0.0)
	assert.LessOrEqual(t, a.Confidence, 1.0)
	for i, v := range a.Box {
		assert.GreaterOrEqual(t, v, 0.0, "box[%d]", i)
		assert.LessOrEqual(t, v, 1.0, "box[%d]", i)
	}
	assert.LessOrEqual(t, a.Box[0], a.Box[2], "x1 <= x2")
	assert.LessOrEqual(t, a.Box[1], a.Box[3], "y1 <= y2")
}

// BenchmarkNormalize measures sequential and parallel normalization of a large batch.
func BenchmarkNormalize(b *testing.B) {
	r := rand.New(rand.NewSource(7))
	raws := make([]RawDetection, 2000)
	for i := range raws {
		raws[i] = RawDetection{
			Box:   images.Rect{X1: r.Float64() * 1920, Y1: r.Float64() * 1080, X2: r.Float64() * 1920, Y2: r.Float64() * 1080},
			Class: r.Intn(12),
			Score: r.Float64() * 100,
		}
	}
	classes := elevenClasses()

	for _, workers := range []int{1, 4} {
		n := Normalizer{Classes: classes, Workers: workers}
		b.Run("workers="+strconv.Itoa(workers), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := n.Normalize(raws, 1920, 1080); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
