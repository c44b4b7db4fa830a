// Package dnn - In-process YOLOv8 detection with the OpenCV DNN module.
package dnn

import (
	"context"
	"image"
	"os"
	"sync"

	"github.com/nvr-ai/go-anomaly/images"
	"github.com/nvr-ai/go-anomaly/inference"
	"github.com/nvr-ai/go-anomaly/logger"
	"github.com/nvr-ai/go-anomaly/models/yolov8"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// Detector runs a YOLOv8 ONNX export through gocv.
//
// A gocv.Net is not safe for concurrent use, so Detect calls are serialized.
type Detector struct {
	mu   sync.Mutex
	net  gocv.Net
	opts yolov8.Options
	log  *logrus.Logger
}

var _ inference.Detector = (*Detector)(nil)

// New loads the ONNX model into an OpenCV network.
//
// Arguments:
//   - modelPath: The ONNX file.
//   - opts: Tensor names and decoding thresholds.
//   - log: The logger. Nil discards logs.
//
// Returns:
//   - *Detector: The detector. The caller must Close it.
//   - error: Non-nil if the model cannot be loaded.
func New(modelPath string, opts yolov8.Options, log *logrus.Logger) (*Detector, error) {
	if log == nil {
		log = logger.Discard()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, errors.Wrap(err, "model file not found")
	}

	net := gocv.ReadNetFromONNX(modelPath)
	if net.Empty() {
		return nil, errors.Errorf("failed to load ONNX model: %s", modelPath)
	}
	net.SetPreferableBackend(gocv.NetBackendOpenCV)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	log.WithFields(logrus.Fields{"model": modelPath, "input_size": opts.InputSize}).Info("dnn model loaded")
	return &Detector{net: net, opts: opts, log: log}, nil
}

// Detect runs the model on img.
//
// Arguments:
//   - ctx: Checked before the run; a started run is not interrupted.
//   - img: The image to inspect.
//
// Returns:
//   - *inference.Prediction: Pixel boxes in the oriented image frame.
//   - error: A decode, network or decoding error.
func (d *Detector) Detect(ctx context.Context, img *images.Image) (*inference.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	decoded, err := img.Decode()
	if err != nil {
		return nil, err
	}
	bounds := decoded.Bounds()

	blob, err := inputBlob(decoded, d.opts.InputSize)
	if err != nil {
		return nil, err
	}
	defer blob.Close()

	d.mu.Lock()
	if d.net.Empty() {
		d.mu.Unlock()
		return nil, inference.ErrDetectorClosed
	}
	d.net.SetInput(blob, d.opts.InputName)
	out := d.net.Forward(d.opts.OutputName)
	d.mu.Unlock()
	defer out.Close()

	output, dims, err := matData(out)
	if err != nil {
		return nil, err
	}

	detections, err := yolov8.PostProcess(output, dims, yolov8.Frame{
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
	}, nil
}

// matData copies a float32 Mat out of OpenCV memory along with its shape.
// inputBlob converts img into a square NCHW RGB blob scaled to [0, 1].
func inputBlob(img image.Image, inputSize int) (gocv.Mat, error) {
	// ImageToMatRGB produces a BGR Mat; swapRB turns it back into RGB.
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.Mat{}, errors.Wrap(err, "failed to convert image")
	}
	defer mat.Close()

	size := image.Pt(inputSize, inputSize)
	return gocv.BlobFromImage(mat, 1.0/255.0, size, gocv.NewScalar(0, 0, 0, 0), true, false), nil
}

func matData(m gocv.Mat) ([]float32, []int64, error) {
	if m.Empty() {
		return nil, nil, errors.New("network produced no output")
	}
	data, err := m.DataPtrFloat32()
	if err != nil {
		return nil, nil, errors.Wrap(err, "unexpected output type")
	}

	size := m.Size()
	dims := make([]int64, len(size))
	for i, v := range size {
		dims[i] = int64(v)
	}
	return append([]float32(nil), data...), dims, nil
}

// Close releases the network.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.net.Empty() {
		return d.net.Close()
	}
	return nil
}
