package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-va/config"
	"github.com/nvr-ai/go-va/decoder"
	"github.com/nvr-ai/go-va/surface"
	"github.com/nvr-ai/go-va/va"
)

func TestRootCommandRequiresTwoArgs(t *testing.T) {
	for _, args := range [][]string{nil, {"model.onnx"}, {"a", "b", "c"}} {
		cmd := newRootCommand()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs(args)
		assert.Error(t, cmd.Execute())
		assert.Contains(t, out.String(), "Usage:")
	}
}

func TestNewDecoder(t *testing.T) {
	ctx, err := surface.NewContext(va.NewSoftwareDriver(va.SoftwareOptions{}))
	require.NoError(t, err)
	defer ctx.Close()

	tests := []struct {
		name      string
		kind      string
		path      string
		synthetic bool
	}{
		{name: "auto synthetic", kind: config.DecoderAuto, path: "synthetic://3", synthetic: true},
		{name: "auto file", kind: config.DecoderAuto, path: "video.mp4"},
		{name: "forced gstreamer", kind: config.DecoderGStreamer, path: "synthetic://3"},
		{name: "forced synthetic", kind: config.DecoderSynthetic, path: "video.mp4", synthetic: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DecoderConfig{Kind: tt.kind, Config: decoder.DefaultConfig()}
			dec, err := newDecoder(cfg, tt.path, ctx, 300, 300, nil)
			require.NoError(t, err)
			defer dec.Close()

			_, isSynthetic := dec.(*decoder.Synthetic)
			assert.Equal(t, tt.synthetic, isSynthetic)
			assert.Same(t, ctx, dec.Context())
		})
	}

	_, err = newDecoder(config.DecoderConfig{Kind: "ffmpeg"}, "video.mp4", ctx, 300, 300, nil)
	assert.Error(t, err)
}

func TestNewDecoderTakesNetworkSize(t *testing.T) {
	ctx, err := surface.NewContext(va.NewSoftwareDriver(va.SoftwareOptions{}))
	require.NoError(t, err)
	defer ctx.Close()

	cfg := config.DecoderConfig{Kind: config.DecoderSynthetic, Config: decoder.DefaultConfig()}
	dec, err := newDecoder(cfg, "synthetic://1", ctx, 300, 200, nil)
	require.NoError(t, err)
	defer dec.Close()

	require.NoError(t, dec.Open("synthetic://1"))
	require.NoError(t, dec.Play())
	img, ok := dec.Read()
	require.True(t, ok)
	defer img.Close()
	assert.Equal(t, 300, img.Width())
	assert.Equal(t, 200, img.Height())
}

func TestNewDriverSoftware(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Driver = config.DriverSoftware

	drv, err := newDriver(cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	_, ok := drv.(*va.SoftwareDriver)
	assert.True(t, ok)
}
