package surface

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nvr-ai/go-va/fourcc"
	"github.com/nvr-ai/go-va/va"
)

// newTestContext returns a context on a fresh software driver and a log
// observer attached to it.
func newTestContext(t *testing.T, opts ...Option) (*va.SoftwareDriver, *Context, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	drv := va.NewSoftwareDriver(va.SoftwareOptions{})
	ctx, err := NewContext(drv, append([]Option{WithLogger(zap.New(core).Sugar())}, opts...)...)
	require.NoError(t, err)
	return drv, ctx, logs
}

// fillImage writes a uniform NV12 frame into img.
func fillImage(t *testing.T, img *Image, y, u, v byte) {
	t.Helper()
	w, h := img.Width(), img.Height()
	cw, ch := (w+1)/2, (h+1)/2
	buf := make([]byte, w*h+2*cw*ch)
	for n := 0; n < w*h; n++ {
		buf[n] = y
	}
	for n := w * h; n < len(buf); n += 2 {
		buf[n], buf[n+1] = u, v
	}
	planes, err := SplitPlanes(fourcc.NV12, w, h, buf, [3]int{}, [3]int{})
	require.NoError(t, err)
	require.NoError(t, img.WritePlanes(planes))
}

// lumaOf reads the luma plane of img row by row.
func lumaOf(t *testing.T, img *Image) [][]byte {
	t.Helper()
	var rows [][]byte
	err := img.withMapped("read luma", func(info va.ImageInfo, data []byte) error {
		for y := 0; y < img.Height(); y++ {
			start := info.Offsets[0] + y*info.Pitches[0]
			row := make([]byte, img.Width())
			copy(row, data[start:start+img.Width()])
			rows = append(rows, row)
		}
		return nil
	})
	require.NoError(t, err)
	return rows
}
