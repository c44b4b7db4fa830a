package postprocess

import "github.com/pkg/errors"

var (
	// ErrInvalidImageDimensions is returned when the image width or height is
	// not a positive integer. It is the only error that aborts normalization.
	ErrInvalidImageDimensions = errors.New("invalid image dimensions")
	// ErrUnresolvedClassIndex reports that a class index had no name in the
	// lookup table. The normalizer recovers by using the decimal index.
	ErrUnresolvedClassIndex = errors.New("unresolved class index")
	// ErrUnparseableConfidence reports that a raw score could not be read as a
	// finite number. The normalizer recovers by using 0.
	ErrUnparseableConfidence = errors.New("unparseable confidence")
)
