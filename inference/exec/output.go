package exec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/nvr-ai/go-anomaly/images"
	"github.com/nvr-ai/go-anomaly/models/postprocess"
	"github.com/pkg/errors"
)

var (
	// ErrParseOutput is returned when the script's stdout holds JSON that
	// cannot be read at all.
	ErrParseOutput = errors.New("failed to parse detector output")
	// ErrMalformedRecord reports a record with an unusable class or box. The
	// record is still converted, with the bad field replaced.
	ErrMalformedRecord = errors.New("malformed detection record")
)

// MissingClass is the class index given to records whose class cannot be read.
// It has no table entry, so the name falls back to the decimal index.
const MissingClass = -1

// numbers keeps JSON numbers as json.Number so scores reach the normalizer
// exactly as the script printed them.
var numbers = jsoniter.Config{UseNumber: true}.Froze()

// Record is one detection as printed by the detection script.
type Record struct {
	// Class is a label string or a numeric class index.
	Class interface{} `json:"class"`
	// Confidence is kept raw; the normalizer parses and rescales it.
	Confidence interface{} `json:"confidence"`
	// Box is x1, y1, x2, y2. Kept raw so one bad box does not fail the list.
	Box interface{} `json:"box"`
}

// ParseOutput extracts the detections from the script's stdout.
//
// Log lines printed before the JSON are skipped: parsing starts at the first
// '[' or '{' that opens a complete JSON value, and anything after that value
// is ignored. An object yields its "anomalies" list, or nothing when the key
// is absent. An array is taken as the list itself. Output with no bracket at
// all yields nothing. Every list element yields one record; elements that are
// not objects yield an empty record.
//
// Arguments:
//   - stdout: The captured standard output.
//
// Returns:
//   - The records in script order.
//   - error: ErrParseOutput when no JSON value can be read or the list is not an array.
func ParseOutput(stdout []byte) ([]Record, error) {
	out := bytes.TrimSpace(stdout)
	if bytes.IndexAny(out, "[{") < 0 {
		return nil, nil
	}

	value, err := firstValue(out)
	if err != nil {
		return nil, err
	}

	var elements []jsoniter.RawMessage
	switch value[0] {
	case '{':
		var doc map[string]jsoniter.RawMessage
		if err := numbers.Unmarshal(value, &doc); err != nil {
			return nil, errors.Wrapf(ErrParseOutput, "%v", err)
		}
		list, ok := doc["anomalies"]
		if !ok {
			return nil, nil
		}
		if err := numbers.Unmarshal(list, &elements); err != nil {
			return nil, errors.Wrapf(ErrParseOutput, "anomalies: %v", err)
		}
	case '[':
		if err := numbers.Unmarshal(value, &elements); err != nil {
			return nil, errors.Wrapf(ErrParseOutput, "%v", err)
		}
	}

	records := make([]Record, len(elements))
	for i, element := range elements {
		// A non-object element leaves the zero record, which degrades later.
		_ = numbers.Unmarshal(element, &records[i])
	}
	return records, nil
}

// firstValue returns the first complete JSON object or array in out.
func firstValue(out []byte) (jsoniter.RawMessage, error) {
	var lastErr error
	for offset := 0; offset < len(out); {
		idx := bytes.IndexAny(out[offset:], "[{")
		if idx < 0 {
			break
		}
		offset += idx

		var value jsoniter.RawMessage
		err := numbers.NewDecoder(bytes.NewReader(out[offset:])).Decode(&value)
		if err == nil && numbers.Valid(value) {
			return value, nil
		}
		if err == nil {
			err = errors.New("incomplete JSON value")
		}
		lastErr = err
		offset++
	}
	return nil, errors.Wrapf(ErrParseOutput, "no JSON value in output: %v", lastErr)
}

// ToRawDetection converts a record into the normalizer's input.
//
// A string class becomes the label. A numeric class becomes the index and is
// resolved against the class table later. A boolean class becomes its text.
// A missing or unreadable class becomes MissingClass, and a box that is not
// four numbers becomes the zero box. The returned detection is always usable;
// the error only reports what was replaced.
//
// Returns:
//   - The raw detection.
//   - error: ErrMalformedRecord when the class or box was replaced.
func (r Record) ToRawDetection() (postprocess.RawDetection, error) {
	raw := postprocess.RawDetection{Score: r.Confidence}
	var problems []string

	box, ok := parseBox(r.Box)
	if ok {
		raw.Box = box
	} else {
		problems = append(problems, fmt.Sprintf("box %v", r.Box))
	}

	switch class := r.Class.(type) {
	case string:
		raw.Label = class
	case json.Number:
		idx, err := strconv.Atoi(class.String())
		if err != nil || idx < 0 {
			raw.Label = class.String()
		} else {
			raw.Class = idx
		}
	case bool:
		raw.Label = strconv.FormatBool(class)
	default:
		raw.Class = MissingClass
		problems = append(problems, fmt.Sprintf("class %v", class))
	}

	if len(problems) > 0 {
		return raw, errors.Wrap(ErrMalformedRecord, strings.Join(problems, ", "))
	}
	return raw, nil
}

// parseBox reads four numbers as x1, y1, x2, y2.
func parseBox(v interface{}) (images.Rect, bool) {
	values, ok := v.([]interface{})
	if !ok || len(values) != 4 {
		return images.Rect{}, false
	}
	var coords [4]float64
	for i, value := range values {
		n, ok := value.(json.Number)
		if !ok {
			return images.Rect{}, false
		}
		f, err := n.Float64()
		if err != nil {
			return images.Rect{}, false
		}
		coords[i] = f
	}
	return images.Rect{X1: coords[0], Y1: coords[1], X2: coords[2], Y2: coords[3]}, true
}
