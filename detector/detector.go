// Package detector - Builds the configured detection backend and pipeline.
package detector

import (
	"github.com/nvr-ai/go-anomaly/config"
	"github.com/nvr-ai/go-anomaly/inference"
	"github.com/nvr-ai/go-anomaly/inference/dnn"
	"github.com/nvr-ai/go-anomaly/inference/exec"
	"github.com/nvr-ai/go-anomaly/inference/onnx"
	"github.com/nvr-ai/go-anomaly/models"
	"github.com/nvr-ai/go-anomaly/models/postprocess"
	"github.com/nvr-ai/go-anomaly/models/yolov8"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// New creates the detector selected by cfg.Backend.
//
// Arguments:
//   - cfg: A validated configuration.
//   - log: The logger handed to the backend.
//
// Returns:
//   - inference.Detector: The detector. The caller must Close it.
//   - error: Non-nil if the backend is unknown or fails to load.
func New(cfg *config.Config, log *logrus.Logger) (inference.Detector, error) {
	backend, err := inference.ParseBackend(cfg.Backend)
	if err != nil {
		return nil, err
	}

	var det inference.Detector
	switch backend {
	case inference.BackendExec:
		det, err = exec.New(ExecConfig(cfg), log)
	case inference.BackendONNX:
		det, err = onnx.New(ONNXConfig(cfg), log)
	case inference.BackendDNN:
		det, err = dnn.New(cfg.Model.Path, ModelOptions(cfg), log)
	default:
		err = errors.Errorf("backend %s is not available", backend)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s detector", backend)
	}
	return det, nil
}

// ExecConfig maps the configuration onto the script backend.
func ExecConfig(cfg *config.Config) exec.Config {
	return exec.Config{
		PythonExec: cfg.Exec.PythonExec,
		Script:     cfg.Exec.Script,
		FailedDir:  cfg.Exec.FailedDir,
		Timeout:    cfg.Exec.Timeout,
		BoxUnits:   exec.BoxUnits(cfg.Model.BoxUnits),
	}
}

// ONNXConfig maps the configuration onto the onnxruntime backend.
func ONNXConfig(cfg *config.Config) onnx.Config {
	return onnx.Config{
		ModelPath:      cfg.Model.Path,
		SharedLibrary:  cfg.Model.SharedLibrary,
		Options:        ModelOptions(cfg),
		Provider:       onnx.Provider(cfg.Model.Provider),
		DeviceID:       cfg.Model.DeviceID,
		IntraOpThreads: cfg.Model.Threads,
	}
}

// ModelOptions maps the configuration onto the YOLOv8 decoding options.
func ModelOptions(cfg *config.Config) yolov8.Options {
	opts := yolov8.DefaultOptions()
	opts.InputSize = cfg.Model.InputSize
	opts.ConfidenceThreshold = float32(cfg.Model.Confidence)
	opts.NMS = &postprocess.NMSConfig{IoUThreshold: cfg.Model.NMSThreshold, ClassAware: true}
	return opts
}

// Classes returns the class table configured for the run.
func Classes(cfg *config.Config) (*models.ClassTable, error) {
	family := models.Family(cfg.Model.Family)
	if family == "" {
		family = models.FamilyTransformer
	}
	return models.ResolveClasses(family, cfg.Model.ClassesFile)
}

// NewPipeline creates the configured detector and wraps it in a pipeline.
//
// Returns:
//   - *inference.Pipeline: The pipeline. Closing it closes the detector.
//   - error: Non-nil if the classes or the detector cannot be loaded.
func NewPipeline(cfg *config.Config, log *logrus.Logger) (*inference.Pipeline, error) {
	classes, err := Classes(cfg)
	if err != nil {
		return nil, err
	}
	det, err := New(cfg, log)
	if err != nil {
		return nil, err
	}

	pipeline, err := inference.NewPipelineBuilder().
		WithDetector(det).
		WithClasses(classes).
		WithPrecision(cfg.Output.Precision).
		WithWorkers(cfg.Output.Workers).
		WithLogger(log).
		Build()
	if err != nil {
		det.Close()
		return nil, err
	}
	return pipeline, nil
}
