package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-va/inference"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hello-va.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DriverVAAPI, cfg.Driver)
	assert.Equal(t, "/dev/dri/renderD128", cfg.Device.RenderNode)
	assert.Equal(t, "GPU", cfg.Inference.Device)
	assert.InDelta(t, 0.5, cfg.Inference.ConfidenceThreshold, 1e-6)
	assert.Equal(t, DecoderAuto, cfg.Decoder.Kind)
	assert.Zero(t, cfg.Decoder.Width)
	assert.Equal(t, 30.0, cfg.Decoder.FrameRate)
	assert.Equal(t, 10, cfg.Decoder.Frames)
	assert.Equal(t, "out/hello_va_object_detection_output.avi", cfg.Output.Path)
	assert.Empty(t, cfg.Output.SnapshotsDir)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Zero(t, cfg.Pool.MaxPerKey)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
driver: software
inference:
  confidence_threshold: 0.7
  output_name: detection_out
  openvino:
    precision: FP16
decoder:
  kind: synthetic
  width: 300
  height: 300
  synthetic_frames: 25
output:
  path: /tmp/out.avi
  snapshots_dir: /tmp/snaps
log:
  level: debug
  json: true
pool:
  max_per_key: 4
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DriverSoftware, cfg.Driver)
	assert.InDelta(t, 0.7, cfg.Inference.ConfidenceThreshold, 1e-6)
	assert.Equal(t, "detection_out", cfg.Inference.OutputName)
	assert.Equal(t, inference.PrecisionFP16, cfg.Inference.OpenVINO.Precision)
	assert.Equal(t, DecoderSynthetic, cfg.Decoder.Kind)
	assert.Equal(t, 300, cfg.Decoder.Width)
	assert.Equal(t, 25, cfg.Decoder.Frames)
	assert.Equal(t, "/tmp/snaps", cfg.Output.SnapshotsDir)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, 4, cfg.Pool.MaxPerKey)
	assert.Equal(t, "GPU", cfg.Inference.Device, "unset keys keep their default")
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "log:\n  level: warn\n")
	t.Setenv("HELLOVA_LOG_LEVEL", "error")
	t.Setenv("HELLOVA_DRIVER", "software")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, DriverSoftware, cfg.Driver)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "driver", body: "driver: cuda\n"},
		{name: "decoder kind", body: "decoder:\n  kind: ffmpeg\n"},
		{name: "device", body: "inference:\n  device: CPU\n"},
		{name: "threshold", body: "inference:\n  confidence_threshold: 1.5\n"},
		{name: "negative size", body: "decoder:\n  width: -1\n"},
		{name: "pool", body: "pool:\n  max_per_key: -2\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}
