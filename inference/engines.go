package inference

import "fmt"

// Backend names a way of running the detection model.
type Backend string

const (
	// BackendExec runs the Python detection script as a subprocess.
	BackendExec Backend = "exec"
	// BackendONNX runs a YOLOv8 ONNX export in-process with onnxruntime.
	BackendONNX Backend = "onnx"
	// BackendDNN runs a YOLOv8 ONNX export in-process with OpenCV DNN.
	BackendDNN Backend = "dnn"
)

// Backends is a list of all supported backends.
var Backends = []Backend{BackendExec, BackendONNX, BackendDNN}

// ParseBackend converts a backend name into a Backend.
func ParseBackend(name string) (Backend, error) {
	for _, b := range Backends {
		if string(b) == name {
			return b, nil
		}
	}
	return "", fmt.Errorf("unknown backend %q, want one of %v", name, Backends)
}
