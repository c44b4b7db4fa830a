// Package inference - Detector interface and the detection pipeline.
package inference

import (
	"context"
	"time"

	"github.com/nvr-ai/go-anomaly/images"
	"github.com/nvr-ai/go-anomaly/logger"
	"github.com/nvr-ai/go-anomaly/models/postprocess"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNoDetector is returned by Build when no detector was configured.
	ErrNoDetector = errors.New("detector not configured")
	// ErrDetectorClosed is returned by Detect after Close.
	ErrDetectorClosed = errors.New("detector is closed")
)

// Detector is a handle to a loaded detection model.
//
// Implementations are created once by the entry point and passed explicitly
// to whatever runs detections; the creator calls Close.
type Detector interface {
	// Detect runs the model on img.
	Detect(ctx context.Context, img *images.Image) (*Prediction, error)
	// Close releases the model.
	Close() error
}

// Prediction is the raw output of one Detect call.
type Prediction struct {
	// Width and Height are the frame the detection boxes refer to.
	Width, Height int
	// Detections in model order.
	Detections []postprocess.RawDetection
	// Classes, when set, is the label table embedded in the model and takes
	// precedence over the configured table.
	Classes postprocess.ClassLookup
}

// PipelineBuilder helps build a Pipeline with a fluent API.
type PipelineBuilder struct {
	detector  Detector
	classes   postprocess.ClassLookup
	workers   int
	precision int
	log       *logrus.Logger
	err       error
}

// NewPipelineBuilder creates a new pipeline builder.
//
// Returns:
//   - *PipelineBuilder: The pipeline builder.
func NewPipelineBuilder() *PipelineBuilder {
	return &PipelineBuilder{precision: -1}
}

// WithDetector sets the detector the pipeline runs.
//
// Arguments:
//   - detector: The model handle. The pipeline closes it in Close.
//
// Returns:
//   - *PipelineBuilder: The pipeline builder.
func (b *PipelineBuilder) WithDetector(detector Detector) *PipelineBuilder {
	if b.HasError() {
		return b
	}
	if detector == nil {
		b.err = ErrNoDetector
		return b
	}
	b.detector = detector
	return b
}

// WithClasses sets the class table used when the model carries none.
func (b *PipelineBuilder) WithClasses(classes postprocess.ClassLookup) *PipelineBuilder {
	b.classes = classes
	return b
}

// WithWorkers sets the number of goroutines used to normalize a batch.
func (b *PipelineBuilder) WithWorkers(workers int) *PipelineBuilder {
	b.workers = workers
	return b
}

// WithPrecision sets the number of decimals kept in the output. Negative
// values keep full precision.
func (b *PipelineBuilder) WithPrecision(decimals int) *PipelineBuilder {
	b.precision = decimals
	return b
}

// WithLogger sets the logger.
func (b *PipelineBuilder) WithLogger(log *logrus.Logger) *PipelineBuilder {
	b.log = log
	return b
}

// HasError checks if the pipeline builder has errors.
//
// Returns:
//   - bool: True if there are errors, false otherwise.
func (b *PipelineBuilder) HasError() bool {
	return b.err != nil
}

// Build builds the pipeline.
//
// Returns:
//   - *Pipeline: The pipeline.
//   - error: The error if any.
func (b *PipelineBuilder) Build() (*Pipeline, error) {
	if b.HasError() {
		return nil, b.err
	}
	if b.detector == nil {
		return nil, ErrNoDetector
	}

	log := b.log
	if log == nil {
		log = logger.Discard()
	}

	return &Pipeline{
		detector:  b.detector,
		classes:   b.classes,
		workers:   b.workers,
		precision: b.precision,
		log:       log,
	}, nil
}

// Pipeline runs a detector and normalizes its output into anomaly records.
//
// A Pipeline is safe for concurrent use when its detector is.
type Pipeline struct {
	detector  Detector
	classes   postprocess.ClassLookup
	workers   int
	precision int
	log       *logrus.Logger
}

// Run detects anomalies in img.
//
// Arguments:
//   - ctx: Cancels the model run.
//   - img: The image to inspect.
//
// Returns:
//   - postprocess.Batch: The normalized anomalies. On error it is the empty batch.
//   - error: A detector error or postprocess.ErrInvalidImageDimensions.
//
// Example:
//
// ```go
//
//	batch, err := pipeline.Run(ctx, img)
//	if err != nil {
//		return err
//	}
//	fmt.Println(batch.Len())
//
// ```
func (p *Pipeline) Run(ctx context.Context, img *images.Image) (postprocess.Batch, error) {
	start := time.Now()
	entry := p.log.WithFields(logrus.Fields{"image": img.Path, "width": img.Width, "height": img.Height})

	prediction, err := p.detector.Detect(ctx, img)
	if err != nil {
		return postprocess.EmptyBatch(), errors.Wrap(err, "detection failed")
	}

	classes := p.classes
	if prediction.Classes != nil {
		classes = prediction.Classes
	}

	normalizer := postprocess.Normalizer{
		Classes: classes,
		Workers: p.workers,
		OnRecovered: func(index int, err error) {
			entry.WithField("detection", index).Debugf("recovered: %v", err)
		},
	}

	batch, err := normalizer.Normalize(prediction.Detections, prediction.Width, prediction.Height)
	if err != nil {
		return postprocess.EmptyBatch(), errors.Wrapf(err, "prediction frame %dx%d", prediction.Width, prediction.Height)
	}
	batch = batch.Round(p.precision)

	entry.WithFields(logrus.Fields{
		"anomalies": batch.Len(),
		"duration":  time.Since(start).String(),
	}).Info("detection complete")

	return batch, nil
}

// Close closes the detector.
func (p *Pipeline) Close() error {
	return p.detector.Close()
}
