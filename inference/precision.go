package inference

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-va/surface"
)

// Precision is the inference precision requested from the OpenVINO GPU plugin.
type Precision string

// Precision constants are the precisions the GPU plugin accepts. The empty
// Precision keeps the plugin default.
const (
	PrecisionFP32     Precision = "FP32"
	PrecisionFP16     Precision = "FP16"
	PrecisionAccuracy Precision = "ACCURACY"
)

// Validate reports ErrInvalidArgument for precisions the GPU plugin rejects.
func (p Precision) Validate() error {
	switch p {
	case "", PrecisionFP32, PrecisionFP16, PrecisionAccuracy:
		return nil
	default:
		return errors.Wrapf(surface.ErrInvalidArgument, "precision %q is not supported on %s", string(p), DeviceGPU)
	}
}
