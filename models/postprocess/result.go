// Package postprocess - Normalization of raw detector output into anomaly records.
package postprocess

import (
	"math"

	"github.com/nvr-ai/go-anomaly/images"
)

// RawDetection represents a single detection as the external model produced it.
type RawDetection struct {
	// The bounding box of the detection in the pixel frame of the prediction.
	// The corners may arrive in any order.
	Box images.Rect
	// The predicted class index.
	Class int
	// Label is a class name the backend already resolved. When set it is used
	// instead of looking Class up in a table.
	Label string
	// Score is the confidence as the model reported it. Its scale may be 0..1
	// or 0..100, and its type depends on the backend (float32, float64,
	// integers, json.Number, string or nil).
	Score interface{}
}

// MaxPrecision is the most decimal places Round applies. A float64 carries
// no more significant decimals than that.
const MaxPrecision = 15

// Anomaly is a normalized detection.
//
// Confidence is in [0, 1]. Box holds x1, y1, x2, y2 as fractions of the image
// width and height, each in [0, 1], with x1 <= x2 and y1 <= y2.
type Anomaly struct {
	Class      string     `json:"class"`
	Confidence float64    `json:"confidence"`
	Box        [4]float64 `json:"box"`
}

// Batch is the ordered set of anomalies found in one image. Order follows the
// model's output; nothing is sorted or removed.
type Batch struct {
	Anomalies []Anomaly `json:"anomalies"`
}

// EmptyBatch returns a batch that serializes as {"anomalies":[]}.
func EmptyBatch() Batch {
	return Batch{Anomalies: []Anomaly{}}
}

// Len returns the number of anomalies in the batch.
func (b Batch) Len() int {
	return len(b.Anomalies)
}

// Round returns a copy of the batch with confidence and box values rounded to
// the given number of decimal places. A negative value, or one above
// MaxPrecision, returns the batch unchanged. Rounding is presentation only and keeps every value inside [0, 1].
//
// Arguments:
//   - decimals: Number of decimal places to keep.
//
// Returns:
//   - A new batch; the receiver is not modified.
func (b Batch) Round(decimals int) Batch {
	if decimals < 0 || decimals > MaxPrecision {
		return b
	}
	out := Batch{Anomalies: make([]Anomaly, len(b.Anomalies))}
	for i, a := range b.Anomalies {
		a.Confidence = roundTo(a.Confidence, decimals)
		for j := range a.Box {
			a.Box[j] = roundTo(a.Box[j], decimals)
		}
		out.Anomalies[i] = a
	}
	return out
}

func roundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return clampUnit(math.Round(v*p) / p)
}
