// Package onnx - In-process YOLOv8 detection with onnxruntime.
package onnx

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/nvr-ai/go-anomaly/images"
	"github.com/nvr-ai/go-anomaly/inference"
	"github.com/nvr-ai/go-anomaly/logger"
	"github.com/nvr-ai/go-anomaly/models"
	"github.com/nvr-ai/go-anomaly/models/postprocess"
	"github.com/nvr-ai/go-anomaly/models/yolov8"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
)

// Config configures the onnxruntime detector.
type Config struct {
	// ModelPath is the ONNX file.
	ModelPath string
	// SharedLibrary is the onnxruntime library. Empty uses DefaultSharedLibrary.
	SharedLibrary string
	// Options describes the model tensors and decoding thresholds.
	Options yolov8.Options
	// IntraOpThreads parallelizes execution within graph nodes. 0 is the runtime default.
	IntraOpThreads int
	// Provider is the execution provider. Empty runs on the CPU.
	Provider Provider
	// DeviceID selects the GPU for the CUDA and OpenVINO providers.
	DeviceID int
}

// Detector runs a YOLOv8 ONNX export in-process.
//
// The session and its tensors are shared, so Detect calls are serialized.
type Detector struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	opts    yolov8.Options
	classes postprocess.ClassLookup
	log     *logrus.Logger
}

var _ inference.Detector = (*Detector)(nil)

// New loads the model and allocates its tensors.
//
// Arguments:
//   - cfg: The detector configuration.
//   - log: The logger. Nil discards logs.
//
// Returns:
//   - *Detector: The detector. The caller must Close it.
//   - error: Non-nil if the runtime, the model or its tensors cannot be set up.
func New(cfg Config, log *logrus.Logger) (*Detector, error) {
	if log == nil {
		log = logger.Discard()
	}
	if err := cfg.Options.Validate(); err != nil {
		return nil, err
	}
	provider, err := ParseProvider(string(cfg.Provider))
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, errors.Wrap(err, "model file not found")
	}
	if err := initEnvironment(cfg.SharedLibrary); err != nil {
		return nil, err
	}

	size := int64(cfg.Options.InputSize)
	shape, err := outputShape(cfg.ModelPath, cfg.Options.OutputName)
	if err != nil {
		return nil, err
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}
	output, err := ort.NewEmptyTensor[float32](shape)
	if err != nil {
		input.Destroy()
		return nil, errors.Wrap(err, "error creating output tensor")
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrap(err, "error creating ORT session options")
	}
	defer options.Destroy()
	if cfg.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			log.WithError(err).Warn("failed to set intra-op threads")
		}
	}
	if err := appendProvider(options, provider, cfg.DeviceID); err != nil {
		input.Destroy()
		output.Destroy()
		return nil, err
	}

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{cfg.Options.InputName},
		[]string{cfg.Options.OutputName},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrap(err, "error creating ORT session")
	}

	d := &Detector{
		session: session,
		input:   input,
		output:  output,
		opts:    cfg.Options,
		log:     log,
	}

	if table, err := metadataClasses(cfg.ModelPath); err != nil {
		log.WithError(err).Debug("model carries no class names")
	} else {
		d.classes = table
	}

	log.WithFields(logrus.Fields{
		"model":    cfg.ModelPath,
		"provider": provider,
		"output":   fmt.Sprintf("%v", []int64(shape)),
	}).Info("onnx model loaded")
	return d, nil
}

// initEnvironment loads the onnxruntime library once per process.
func initEnvironment(library string) error {
	if ort.IsInitialized() {
		return nil
	}
	if library == "" {
		var err error
		if library, err = DefaultSharedLibrary(); err != nil {
			return err
		}
	}
	if _, err := os.Stat(library); err != nil {
		return errors.Wrapf(err, "onnxruntime library not found at %s", library)
	}
	ort.SetSharedLibraryPath(library)
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.Wrap(err, "error initializing ORT environment")
	}
	return nil
}

// outputShape reads the static shape of the named output, fixing a dynamic
// batch axis to 1.
func outputShape(modelPath, name string) (ort.Shape, error) {
	_, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, errors.Wrap(err, "error reading model outputs")
	}
	for _, info := range outputs {
		if info.Name != name {
			continue
		}
		shape := make(ort.Shape, len(info.Dimensions))
		for i, dim := range info.Dimensions {
			if dim < 0 {
				if i != 0 {
					return nil, fmt.Errorf("output %s has dynamic axis %d", name, i)
				}
				dim = 1
			}
			shape[i] = dim
		}
		return shape, nil
	}
	return nil, fmt.Errorf("model has no output named %s", name)
}

// metadataClasses reads the class names an Ultralytics export stores under
// the "names" metadata key.
func metadataClasses(modelPath string) (*models.ClassTable, error) {
	metadata, err := ort.GetModelMetadata(modelPath)
	if err != nil {
		return nil, err
	}
	defer metadata.Destroy()

	value, ok, err := metadata.LookupCustomMetadataMap("names")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.ErrNoClassNames
	}
	names, err := models.ParseClassNames([]byte(value))
	if err != nil {
		return nil, err
	}
	return models.NewClassTable(models.FamilyCustom, names), nil
}

// Detect runs the model on img.
//
// Arguments:
//   - ctx: Checked before the run; a started run is not interrupted.
//   - img: The image to inspect.
//
// Returns:
//   - *inference.Prediction: Pixel boxes in the oriented image frame.
//   - error: A decode, runtime or decoding error.
func (d *Detector) Detect(ctx context.Context, img *images.Image) (*inference.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	decoded, err := img.Decode()
	if err != nil {
		return nil, err
	}
	bounds := decoded.Bounds()

	d.mu.Lock()
	if d.session == nil {
		d.mu.Unlock()
		return nil, inference.ErrDetectorClosed
	}
	if err := FillInput(decoded, d.input.GetData(), d.opts.InputSize); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	if err := d.session.Run(); err != nil {
		d.mu.Unlock()
		return nil, errors.Wrap(err, "error running ORT session")
	}
	output := append([]float32(nil), d.output.GetData()...)
	shape := d.output.GetShape()
	d.mu.Unlock()

	detections, err := yolov8.PostProcess(output, shape, yolov8.Frame{
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
		InputSize: d.opts.InputSize,
	}, d.opts)
	if err != nil {
		return nil, err
	}

	return &inference.Prediction{
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		Detections: detections,
		Classes:    d.classes,
	}, nil
}

// Close releases the session and its tensors.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session != nil {
		d.session.Destroy()
		d.session = nil
	}
	if d.input != nil {
		d.input.Destroy()
		d.input = nil
	}
	if d.output != nil {
		d.output.Destroy()
		d.output = nil
	}
	return nil
}
