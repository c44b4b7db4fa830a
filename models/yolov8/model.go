// Package yolov8 - YOLOv8 detection model contract.
package yolov8

import (
	"fmt"

	"github.com/nvr-ai/go-anomaly/models/postprocess"
)

const (
	// DefaultInputName is the input tensor name of an Ultralytics ONNX export.
	DefaultInputName = "images"
	// DefaultOutputName is the output tensor name of an Ultralytics ONNX export.
	DefaultOutputName = "output0"
	// DefaultInputSize is the square input edge of an Ultralytics export.
	DefaultInputSize = 640
	// DefaultConfidenceThreshold matches the threshold the inspection script passes to predict.
	DefaultConfidenceThreshold = 0.25
)

// Options is the options for the YOLOv8 model.
type Options struct {
	// InputName is the name of the model input tensor.
	InputName string `json:"input_name" yaml:"input_name"`
	// OutputName is the name of the model output tensor.
	OutputName string `json:"output_name" yaml:"output_name"`
	// InputSize is the edge length of the square model input.
	InputSize int `json:"input_size" yaml:"input_size"`
	// ConfidenceThreshold drops candidates scoring below it.
	ConfidenceThreshold float32 `json:"confidence_threshold" yaml:"confidence_threshold"`
	// NMS configures suppression of overlapping candidates.
	NMS *postprocess.NMSConfig `json:"nms" yaml:"nms"`
}

// DefaultOptions returns the options of a stock Ultralytics export.
func DefaultOptions() Options {
	return Options{
		InputName:           DefaultInputName,
		OutputName:          DefaultOutputName,
		InputSize:           DefaultInputSize,
		ConfidenceThreshold: DefaultConfidenceThreshold,
		NMS:                 postprocess.DefaultNMSConfig(),
	}
}

// Validate checks that the options describe a usable model.
func (o Options) Validate() error {
	if o.InputSize <= 0 {
		return fmt.Errorf("input size must be positive, got %d", o.InputSize)
	}
	if o.InputName == "" || o.OutputName == "" {
		return fmt.Errorf("input and output tensor names are required")
	}
	if o.ConfidenceThreshold < 0 || o.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be within [0, 1], got %v", o.ConfidenceThreshold)
	}
	return nil
}
