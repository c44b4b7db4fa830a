package onnx

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// Provider selects the onnxruntime execution provider.
type Provider string

const (
	// ProviderCPU runs on the default CPU provider.
	ProviderCPU Provider = "cpu"
	// ProviderCUDA uses NVIDIA CUDA.
	ProviderCUDA Provider = "cuda"
	// ProviderCoreML uses Apple CoreML on macOS.
	ProviderCoreML Provider = "coreml"
	// ProviderOpenVINO uses Intel OpenVINO.
	ProviderOpenVINO Provider = "openvino"
)

// ParseProvider returns the provider named by name. Empty selects the CPU.
func ParseProvider(name string) (Provider, error) {
	switch p := Provider(name); p {
	case "":
		return ProviderCPU, nil
	case ProviderCPU, ProviderCUDA, ProviderCoreML, ProviderOpenVINO:
		return p, nil
	default:
		return "", fmt.Errorf("unknown execution provider %q", name)
	}
}

// providerSettings returns the key/value options passed to providers that
// take a string map.
func providerSettings(p Provider, deviceID int) map[string]string {
	switch p {
	case ProviderCUDA:
		return map[string]string{"device_id": strconv.Itoa(deviceID)}
	case ProviderOpenVINO:
		return map[string]string{"device_type": "CPU", "device_id": strconv.Itoa(deviceID)}
	default:
		return nil
	}
}

// appendProvider enables the provider on the session options. The CPU
// provider is always present and needs no setup.
func appendProvider(options *ort.SessionOptions, p Provider, deviceID int) error {
	switch p {
	case ProviderCPU:
		return nil
	case ProviderCoreML:
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			return errors.Wrap(err, "error enabling CoreML")
		}
	case ProviderOpenVINO:
		if err := options.AppendExecutionProviderOpenVINO(providerSettings(p, deviceID)); err != nil {
			return errors.Wrap(err, "error enabling OpenVINO")
		}
	case ProviderCUDA:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return errors.Wrap(err, "error creating CUDA options")
		}
		defer cuda.Destroy()
		if err := cuda.Update(providerSettings(p, deviceID)); err != nil {
			return errors.Wrap(err, "error converting CUDA options")
		}
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return errors.Wrap(err, "error enabling CUDA")
		}
	default:
		return fmt.Errorf("unknown execution provider %q", p)
	}
	return nil
}
