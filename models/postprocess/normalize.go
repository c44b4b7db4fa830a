package postprocess

import (
	"math"
	"strconv"
	"sync"

	"github.com/nvr-ai/go-anomaly/images"
	"github.com/pkg/errors"
)

// ClassLookup resolves a class index to its human-readable name.
type ClassLookup interface {
	// ClassName returns the name for index and whether it was found.
	ClassName(index int) (string, bool)
}

// ClassNames is a ClassLookup backed by a slice indexed by class.
type ClassNames []string

// ClassName implements ClassLookup.
func (c ClassNames) ClassName(index int) (string, bool) {
	if index < 0 || index >= len(c) {
		return "", false
	}
	return c[index], true
}

// Normalize converts one raw detection into an Anomaly.
//
// The box corners are ordered, divided by the image dimensions and clamped to
// [0, 1] one coordinate at a time. The score is scale corrected and clamped.
// The class name comes from raw.Label, then from classes, then falls back to
// the decimal index. Malformed scores and unknown classes never fail the call.
//
// Arguments:
//   - raw: The detection as the model produced it.
//   - width: Width of the frame the box refers to, in pixels. Must be > 0.
//   - height: Height of the frame the box refers to, in pixels. Must be > 0.
//   - classes: The class table. May be nil.
//
// Returns:
//   - The normalized anomaly.
//   - error: ErrInvalidImageDimensions when width or height is not positive.
//
// Example:
//
// ```go
//
//	a, err := Normalize(RawDetection{
//	    Box:   images.Rect{X1: 50, Y1: 10, X2: 10, Y2: 90},
//	    Class: 0,
//	    Score: 87.5,
//	}, 100, 100, ClassNames{"hotspot"})
//	// a == Anomaly{Class: "hotspot", Confidence: 0.875, Box: [4]float64{0.1, 0.1, 0.5, 0.9}}
//
// ```
func Normalize(raw RawDetection, width, height int, classes ClassLookup) (Anomaly, error) {
	if err := ValidateDimensions(width, height); err != nil {
		return Anomaly{}, err
	}
	a, _ := normalize(raw, width, height, classes)
	return a, nil
}

// ValidateDimensions checks that both image dimensions are positive.
func ValidateDimensions(width, height int) error {
	if width <= 0 || height <= 0 {
		return errors.Wrapf(ErrInvalidImageDimensions, "%dx%d", width, height)
	}
	return nil
}

// NormalizeBox orders, scales and clamps a pixel box into the unit square.
// Dimensions are assumed to be valid.
func NormalizeBox(box images.Rect, width, height int) [4]float64 {
	c := box.Canon()
	w, h := float64(width), float64(height)
	// NaN corners survive Canon unordered; ordering again after the clamp
	// keeps x1 <= x2 and y1 <= y2 for them too.
	return images.Rect{
		X1: clampUnit(c.X1 / w),
		Y1: clampUnit(c.Y1 / h),
		X2: clampUnit(c.X2 / w),
		Y2: clampUnit(c.Y2 / h),
	}.Canon().Array()
}

// ResolveClass returns the name for a raw detection's class.
//
// Returns:
//   - The label, the table entry, or the decimal index.
//   - error: ErrUnresolvedClassIndex when the decimal fallback was used.
func ResolveClass(raw RawDetection, classes ClassLookup) (string, error) {
	if raw.Label != "" {
		return raw.Label, nil
	}
	if classes != nil {
		if name, ok := classes.ClassName(raw.Class); ok {
			return name, nil
		}
	}
	return strconv.Itoa(raw.Class), errors.Wrapf(ErrUnresolvedClassIndex, "index %d", raw.Class)
}

// normalize does the per-detection work and reports which fields were
// recovered with a fallback.
func normalize(raw RawDetection, width, height int, classes ClassLookup) (Anomaly, []error) {
	var recovered []error

	name, err := ResolveClass(raw, classes)
	if err != nil {
		recovered = append(recovered, err)
	}
	confidence, err := NormalizeConfidence(raw.Score)
	if err != nil {
		recovered = append(recovered, err)
	}

	return Anomaly{
		Class:      name,
		Confidence: confidence,
		Box:        NormalizeBox(raw.Box, width, height),
	}, recovered
}

// NormalizeBatch normalizes every raw detection of one image.
//
// The output has one anomaly per input, in the same order. When the
// dimensions are invalid nothing is normalized: an empty batch is returned
// together with ErrInvalidImageDimensions.
func NormalizeBatch(raws []RawDetection, width, height int, classes ClassLookup) (Batch, error) {
	n := Normalizer{Classes: classes}
	return n.Normalize(raws, width, height)
}

// Normalizer normalizes batches with a fixed class table.
type Normalizer struct {
	// Classes resolves class indices. May be nil.
	Classes ClassLookup
	// Workers is the number of goroutines used for a batch. Values below 2
	// normalize on the calling goroutine.
	Workers int
	// OnRecovered, when set, is called once per fallback (unknown class,
	// unparseable score) with the index of the detection. Calls happen on the
	// calling goroutine, in detection order, after the batch is complete.
	OnRecovered func(index int, err error)
}

// Normalize normalizes raws against an image of the given dimensions.
//
// Arguments:
//   - raws: Detections in model order.
//   - width: Frame width in pixels.
//   - height: Frame height in pixels.
//
// Returns:
//   - Batch: One anomaly per raw detection. Never nil inside.
//   - error: ErrInvalidImageDimensions.
func (n *Normalizer) Normalize(raws []RawDetection, width, height int) (Batch, error) {
	if err := ValidateDimensions(width, height); err != nil {
		return EmptyBatch(), err
	}

	out := make([]Anomaly, len(raws))
	recovered := make([][]error, len(raws))

	workers := min(n.Workers, len(raws))
	if workers < 2 {
		for i := range raws {
			out[i], recovered[i] = normalize(raws[i], width, height, n.Classes)
		}
	} else {
		jobs := make(chan int, len(raws))
		for i := range raws {
			jobs <- i
		}
		close(jobs)

		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range jobs {
					out[i], recovered[i] = normalize(raws[i], width, height, n.Classes)
				}
			}()
		}
		wg.Wait()
	}

	if n.OnRecovered != nil {
		for i, errs := range recovered {
			for _, err := range errs {
				n.OnRecovered(i, err)
			}
		}
	}

	return Batch{Anomalies: out}, nil
}

// NormalizeBatchParallel is NormalizeBatch spread over a pool of workers.
// The result is identical to NormalizeBatch.
func NormalizeBatchParallel(raws []RawDetection, width, height int, classes ClassLookup, workers int) (Batch, error) {
	n := Normalizer{Classes: classes, Workers: workers}
	return n.Normalize(raws, width, height)
}

// clampUnit forces v into [0, 1]. NaN becomes 0.
func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
