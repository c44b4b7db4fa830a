package onnx

import (
	"fmt"
	"runtime"
)

// DefaultSharedLibrary returns the conventional onnxruntime library path for
// the current platform.
//
// Returns:
//   - string: The path to the shared library.
//   - error: Non-nil when no build of onnxruntime exists for the platform.
func DefaultSharedLibrary() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if runtime.GOARCH == "amd64" {
			return "third_party/onnxruntime.dll", nil
		}
	case "darwin":
		return "third_party/libonnxruntime.dylib", nil
	case "linux":
		if runtime.GOARCH == "arm64" {
			return "third_party/onnxruntime_arm64.so", nil
		}
		return "third_party/onnxruntime.so", nil
	}
	return "", fmt.Errorf("no onnxruntime library for %s/%s", runtime.GOOS, runtime.GOARCH)
}
