package postprocess

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ParseScore converts a raw model score into a float64.
//
// Accepted types are the Go numeric types, json.Number and numeric strings
// (surrounding whitespace and a trailing "%" are ignored). The result is the
// value exactly as given; scale correction happens in NormalizeConfidence.
//
// Arguments:
//   - v: The raw score.
//
// Returns:
//   - The numeric value.
//   - error: ErrUnparseableConfidence when v is nil, not numeric, NaN or infinite.
func ParseScore(v interface{}) (float64, error) {
	var f float64
	switch s := v.(type) {
	case nil:
		return 0, errors.Wrap(ErrUnparseableConfidence, "score is missing")
	case float64:
		f = s
	case float32:
		f = float64(s)
	case int:
		f = float64(s)
	case int8:
		f = float64(s)
	case int16:
		f = float64(s)
	case int32:
		f = float64(s)
	case int64:
		f = float64(s)
	case uint:
		f = float64(s)
	case uint8:
		f = float64(s)
	case uint16:
		f = float64(s)
	case uint32:
		f = float64(s)
	case uint64:
		f = float64(s)
	case json.Number:
		parsed, err := s.Float64()
		if err != nil {
			return 0, errors.Wrapf(ErrUnparseableConfidence, "%q", s.String())
		}
		f = parsed
	case string:
		trimmed := strings.TrimSuffix(strings.TrimSpace(s), "%")
		parsed, err := strconv.ParseFloat(strings.TrimSpace(trimmed), 64)
		if err != nil {
			return 0, errors.Wrapf(ErrUnparseableConfidence, "%q", s)
		}
		f = parsed
	default:
		return 0, errors.Wrapf(ErrUnparseableConfidence, "unsupported type %T", v)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.Wrapf(ErrUnparseableConfidence, "non-finite value %v", f)
	}
	return f, nil
}

// NormalizeConfidence maps a raw score onto [0, 1].
//
// A value above 1.0 is taken to be on a 0..100 scale and divided by 100; the
// result is then clamped to [0, 1]. Unparseable scores yield 0.
//
// Arguments:
//   - v: The raw score.
//
// Returns:
//   - The confidence in [0, 1].
//   - error: ErrUnparseableConfidence when the score was replaced by 0.
//
// Example:
//
// ```go
//
//	c, _ := NormalizeConfidence(87.5) // 0.875
//	c, _ = NormalizeConfidence(0.42)  // 0.42
//
// ```
func NormalizeConfidence(v interface{}) (float64, error) {
	f, err := ParseScore(v)
	if err != nil {
		return 0, err
	}
	if f > 1.0 {
		f /= 100
	}
	return clampUnit(f), nil
}
