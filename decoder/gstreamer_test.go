package decoder

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-va/fourcc"
	"github.com/nvr-ai/go-va/surface"
	"github.com/nvr-ai/go-va/va"
)

func TestLaunchLine(t *testing.T) {
	tests := []struct {
		name   string
		width  int
		height int
		vaapi  bool
		want   string
	}{
		{
			name:  "vaapi scaled",
			width: 300, height: 300, vaapi: true,
			want: "filesrc name=src ! decodebin ! vaapipostproc format=nv12 width=300 height=300 scale-method=2 ! videoconvert ! " +
				"video/x-raw,format=NV12,width=300,height=300 ! queue ! appsink name=sink sync=false max-buffers=4 drop=false",
		},
		{
			name: "software native size",
			want: "filesrc name=src ! decodebin ! videoconvert ! videoscale ! " +
				"video/x-raw,format=NV12 ! queue ! appsink name=sink sync=false max-buffers=4 drop=false",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, launchLine(tt.width, tt.height, tt.vaapi))
		})
	}
}

func TestParseFramerate(t *testing.T) {
	assert.Equal(t, 25.0, parseFramerate("video/x-raw, format=(string)NV12, width=(int)640, framerate=(fraction)25/1"))
	assert.InDelta(t, 29.97, parseFramerate("video/x-raw, framerate=(fraction)30000/1001"), 0.01)
	assert.Equal(t, 0.0, parseFramerate("video/x-raw, framerate=(fraction)0/1"))
	assert.Equal(t, 0.0, parseFramerate("video/x-raw, width=(int)640"))
}

func TestRawLayout(t *testing.T) {
	strides, offsets := rawLayout(fourcc.NV12, 640, 360)
	assert.Equal(t, [3]int{640, 640, 0}, strides)
	assert.Equal(t, [3]int{0, 640 * 360, 0}, offsets)

	strides, offsets = rawLayout(fourcc.NV12, 301, 301)
	assert.Equal(t, 304, strides[0])
	assert.Equal(t, 304, strides[1])
	assert.Equal(t, 304*302, offsets[1])

	strides, offsets = rawLayout(fourcc.I420, 300, 300)
	assert.Equal(t, [3]int{300, 152, 152}, strides)
	assert.Equal(t, [3]int{0, 300 * 300, 300*300 + 152*150}, offsets)

	strides, offsets = rawLayout(fourcc.I420, 301, 301)
	assert.Equal(t, [3]int{304, 152, 152}, strides)
	assert.Equal(t, [3]int{0, 304 * 302, 304*302 + 152*151}, offsets, "chroma starts after an even number of luma rows")
}

func TestGStreamerStateWithoutPipeline(t *testing.T) {
	drv := va.NewSoftwareDriver(va.SoftwareOptions{})
	ctx, err := surface.NewContext(drv)
	require.NoError(t, err)
	defer ctx.Close()

	dec := NewGStreamer(ctx, DefaultConfig(), nil)
	assert.True(t, errors.Is(dec.Play(), ErrInvalidState))

	err = dec.Open("/nonexistent/clip.mp4")
	assert.True(t, errors.Is(err, surface.ErrInvalidArgument))
	assert.Equal(t, StateUnopened, dec.State())

	require.NoError(t, dec.Close())
	require.NoError(t, dec.Close())
	assert.Equal(t, StateClosed, dec.State())
	_, ok := dec.Read()
	assert.False(t, ok)
	assert.NoError(t, dec.Err())
	assert.Equal(t, 1, ctx.References())
}
