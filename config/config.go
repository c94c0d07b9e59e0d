// Package config loads the hello-va-detect configuration from defaults, an
// optional YAML file and HELLOVA_ environment variables, in increasing order of
// precedence.
package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/nvr-ai/go-va/decoder"
	"github.com/nvr-ai/go-va/inference"
	"github.com/nvr-ai/go-va/logging"
	"github.com/nvr-ai/go-va/render"
)

// EnvPrefix prefixes every environment override, e.g. HELLOVA_LOG_LEVEL.
const EnvPrefix = "HELLOVA"

// Driver names.
const (
	DriverVAAPI    = "vaapi"
	DriverSoftware = "software"
)

// Decoder kinds. DecoderAuto picks the synthetic source for synthetic:// paths
// and GStreamer otherwise.
const (
	DecoderAuto      = "auto"
	DecoderGStreamer = "gstreamer"
	DecoderSynthetic = "synthetic"
)

// Config is the complete runtime configuration.
type Config struct {
	Driver    string           `mapstructure:"driver"`
	Device    DeviceConfig     `mapstructure:"device"`
	Inference inference.Config `mapstructure:"inference"`
	Decoder   DecoderConfig    `mapstructure:"decoder"`
	Output    render.Config    `mapstructure:"output"`
	Log       logging.Config   `mapstructure:"log"`
	Pool      PoolConfig       `mapstructure:"pool"`
}

// DeviceConfig locates the VA-API device and libraries.
type DeviceConfig struct {
	RenderNode     string `mapstructure:"render_node"`
	LibVAPath      string `mapstructure:"libva_path"`
	DRMLibraryPath string `mapstructure:"drm_library_path"`
}

// DecoderConfig selects the decoder and its output negotiation. Width and
// Height of 0 select the network input size.
type DecoderConfig struct {
	Kind           string `mapstructure:"kind"`
	decoder.Config `mapstructure:",squash"`
}

// PoolConfig bounds the surface pool. MaxPerKey of 0 is unbounded.
type PoolConfig struct {
	MaxPerKey int `mapstructure:"max_per_key"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	inf := inference.DefaultConfig()
	dec := decoder.DefaultConfig()
	out := render.DefaultConfig()
	lg := logging.DefaultConfig()

	v.SetDefault("driver", DriverVAAPI)

	v.SetDefault("device.render_node", "/dev/dri/renderD128")
	v.SetDefault("device.libva_path", "")
	v.SetDefault("device.drm_library_path", "")

	v.SetDefault("inference.device", inf.Device)
	v.SetDefault("inference.library_path", "")
	v.SetDefault("inference.confidence_threshold", inf.ConfidenceThreshold)
	v.SetDefault("inference.output_name", "")
	v.SetDefault("inference.high_quality", false)
	v.SetDefault("inference.openvino.precision", string(inf.OpenVINO.Precision))
	v.SetDefault("inference.openvino.num_streams", inf.OpenVINO.NumStreams)
	v.SetDefault("inference.openvino.cache_dir", inf.OpenVINO.CacheDir)

	v.SetDefault("decoder.kind", DecoderAuto)
	v.SetDefault("decoder.width", 0)
	v.SetDefault("decoder.height", 0)
	v.SetDefault("decoder.frame_rate", dec.FrameRate)
	v.SetDefault("decoder.synthetic_frames", dec.Frames)

	v.SetDefault("output.path", out.Path)
	v.SetDefault("output.snapshots_dir", "")
	v.SetDefault("output.snapshot_quality", out.SnapshotQuality)

	v.SetDefault("log.level", lg.Level)
	v.SetDefault("log.json", lg.JSON)

	v.SetDefault("pool.max_per_key", 0)
}

// New returns a viper instance with defaults and environment binding, reading
// path when it is not empty.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
	}
	return v, nil
}

// Load reads the configuration, see New.
//
// Arguments:
//   - path: An optional YAML file.
//
// Returns:
//   - *Config: The validated configuration.
//   - error: An error if the file cannot be read or a value is invalid.
func Load(path string) (*Config, error) {
	v, err := New(path)
	if err != nil {
		return nil, err
	}
	return LoadWithViper(v)
}

// LoadWithViper unmarshals and validates the configuration held by v.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values that have a closed set or a range.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverVAAPI, DriverSoftware:
	default:
		return errors.Errorf("driver must be %q or %q, got %q", DriverVAAPI, DriverSoftware, c.Driver)
	}
	switch c.Decoder.Kind {
	case DecoderAuto, DecoderGStreamer, DecoderSynthetic:
	default:
		return errors.Errorf("decoder.kind must be %q, %q or %q, got %q",
			DecoderAuto, DecoderGStreamer, DecoderSynthetic, c.Decoder.Kind)
	}
	if c.Inference.Device != inference.DeviceGPU {
		return errors.Errorf("inference.device must be %q, got %q", inference.DeviceGPU, c.Inference.Device)
	}
	if c.Inference.ConfidenceThreshold < 0 || c.Inference.ConfidenceThreshold > 1 {
		return errors.Errorf("inference.confidence_threshold must be within [0,1], got %v", c.Inference.ConfidenceThreshold)
	}
	if c.Decoder.Width < 0 || c.Decoder.Height < 0 {
		return errors.Errorf("decoder size must not be negative, got %dx%d", c.Decoder.Width, c.Decoder.Height)
	}
	if c.Pool.MaxPerKey < 0 {
		return errors.Errorf("pool.max_per_key must not be negative, got %d", c.Pool.MaxPerKey)
	}
	return nil
}
