package inference

import (
	"context"

	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-va/surface"
)

// Network is a loaded detection network.
type Network interface {
	// InputSize returns the spatial size of the network input.
	InputSize() (width, height int)
	// OutputName returns the name of the detection output.
	OutputName() string
	// SetInput binds img as the input of the next Infer call.
	SetInput(img *surface.Image) error
	// Infer runs the network synchronously on the bound input.
	Infer(ctx context.Context) error
	// Output returns a copy of the named output of the last Infer call.
	Output(name string) (*tensor.Dense, error)
	// Close releases the network.
	Close() error
}

// Config holds the inference settings.
type Config struct {
	// LibraryPath is the onnxruntime shared library. Empty uses the library
	// search path.
	LibraryPath string `json:"libraryPath" yaml:"libraryPath" mapstructure:"library_path"`
	// Device is the accelerator the network runs on. Only GPU is supported.
	Device string `json:"device" yaml:"device" mapstructure:"device"`
	// ConfidenceThreshold is the minimum confidence of a drawn detection.
	ConfidenceThreshold float32 `json:"confidenceThreshold" yaml:"confidenceThreshold" mapstructure:"confidence_threshold"`
	// OutputName selects the detection output. Empty selects the only output.
	OutputName string `json:"outputName" yaml:"outputName" mapstructure:"output_name"`
	// HighQuality selects the high quality scaler for input staging.
	HighQuality bool `json:"highQuality" yaml:"highQuality" mapstructure:"high_quality"`
	// OpenVINO configures the execution provider.
	OpenVINO OpenVINOOptions `json:"openvino" yaml:"openvino" mapstructure:"openvino"`
}

// DefaultConfig returns the default inference configuration.
func DefaultConfig() Config {
	return Config{
		Device:              DeviceGPU,
		ConfidenceThreshold: 0.5,
		OpenVINO:            DefaultOpenVINOOptions(),
	}
}
