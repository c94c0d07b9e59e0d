package inference

import (
	"strconv"
)

// DeviceGPU is the OpenVINO device the networks run on. Surfaces are bridged
// into the GPU plugin's remote context, so no other device is supported.
const DeviceGPU = "GPU"

// OpenVINOOptions contains arguments for the OpenVINO execution provider.
// See:
// https://onnxruntime.ai/docs/execution-providers/OpenVINO-ExecutionProvider.html#summary-of-options
type OpenVINOOptions struct {
	DeviceID string `json:"deviceID"             yaml:"deviceID"             mapstructure:"device_id"`
	// Supported precisions for GPU are FP32, FP16 and ACCURACY. Empty selects
	// the plugin default (FP16).
	Precision Precision `json:"precision"            yaml:"precision"            mapstructure:"precision"`
	// Overrides the number of inference threads. Zero keeps the default.
	NumOfThreads int `json:"numOfThreads"         yaml:"numOfThreads"         mapstructure:"num_of_threads"`
	// Overrides the number of streams. Zero keeps the default of 1, tuned for
	// latency.
	NumStreams int `json:"numStreams"           yaml:"numStreams"           mapstructure:"num_streams"`
	// Rewrites dynamic shaped models to static shape at runtime.
	DisableDynamicShapes bool `json:"disableDynamicShapes" yaml:"disableDynamicShapes" mapstructure:"disable_dynamic_shapes"`
	// Directory where compiled blobs are cached. Empty disables the cache.
	CacheDir string `json:"cacheDir"             yaml:"cacheDir"             mapstructure:"cache_dir"`
}

// DefaultOpenVINOOptions returns the provider options used for detection.
func DefaultOpenVINOOptions() OpenVINOOptions {
	return OpenVINOOptions{}
}

// providerOptions renders the options in the key/value form onnxruntime
// expects. The device type is always GPU.
func (o OpenVINOOptions) providerOptions() map[string]string {
	opts := map[string]string{
		"device_type": DeviceGPU,
	}
	if o.DeviceID != "" {
		opts["device_id"] = o.DeviceID
	}
	if o.Precision != "" {
		opts["precision"] = string(o.Precision)
	}
	if o.NumOfThreads > 0 {
		opts["num_of_threads"] = strconv.Itoa(o.NumOfThreads)
	}
	if o.NumStreams > 0 {
		opts["num_streams"] = strconv.Itoa(o.NumStreams)
	}
	if o.DisableDynamicShapes {
		opts["disable_dynamic_shapes"] = "true"
	}
	if o.CacheDir != "" {
		opts["cache_dir"] = o.CacheDir
	}
	return opts
}
