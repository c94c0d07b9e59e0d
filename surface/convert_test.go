package surface

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-va/fourcc"
	"github.com/nvr-ai/go-va/va"
)

func TestCopyToMatBGR(t *testing.T) {
	drv, ctx, _ := newTestContext(t)
	defer ctx.Close()

	img, err := NewImage(ctx, 64, 36, fourcc.NV12)
	require.NoError(t, err)
	defer img.Close()
	fillImage(t, img, 81, 90, 240)

	mat, err := img.CopyToMat(ConvertToBGR)
	require.NoError(t, err)
	defer mat.Close()

	assert.Equal(t, 36, mat.Rows())
	assert.Equal(t, 64, mat.Cols())
	assert.Equal(t, 3, mat.Channels())
	assert.Equal(t, 0, drv.LiveImages(ctx.Display()), "derived image released")

	// Y=81 U=90 V=240 is close to pure red.
	px := mat.GetVecbAt(10, 10)
	assert.Less(t, int(px[0]), 40)
	assert.Greater(t, int(px[2]), 200)
}

func TestCopyToMatIgnoresPaddedRows(t *testing.T) {
	_, ctx, _ := newTestContext(t)
	defer ctx.Close()

	img, err := NewImage(ctx, 64, 36, fourcc.NV12)
	require.NoError(t, err)
	defer img.Close()
	fillImage(t, img, 16, 128, 128)

	// The surface is 64 rows tall in memory; poison everything between the
	// logical height and the chroma plane.
	err = img.withMapped("poison", func(info va.ImageInfo, data []byte) error {
		require.Equal(t, 64, info.AlignedHeight())
		for n := info.Pitches[0] * img.Height(); n < info.Offsets[1]; n++ {
			data[n] = 255
		}
		return nil
	})
	require.NoError(t, err)

	mat, err := img.CopyToMat(ConvertToRGB)
	require.NoError(t, err)
	defer mat.Close()
	require.Equal(t, 36, mat.Rows())

	for _, row := range []int{0, 17, 35} {
		px := mat.GetVecbAt(row, 5)
		assert.Lessf(t, int(px[0]), 10, "row %d picked up padding", row)
		assert.Lessf(t, int(px[1]), 10, "row %d picked up padding", row)
	}
}

func TestCopyToMatNoConversion(t *testing.T) {
	_, ctx, _ := newTestContext(t)
	defer ctx.Close()

	for _, f := range []fourcc.FourCC{fourcc.NV12, fourcc.I420, fourcc.YV12} {
		t.Run(f.String(), func(t *testing.T) {
			img, err := NewImage(ctx, 64, 36, f)
			require.NoError(t, err)
			defer img.Close()

			mat, err := img.CopyToMat(ConvertNone)
			require.NoError(t, err)
			defer mat.Close()
			assert.Equal(t, 54, mat.Rows())
			assert.Equal(t, 64, mat.Cols())
			assert.Equal(t, 1, mat.Channels())
			assert.Equal(t, uint8(16), mat.GetUCharAt(0, 0))
		})
	}
}

func TestCopyToMatOddSize(t *testing.T) {
	_, ctx, _ := newTestContext(t)
	defer ctx.Close()

	img, err := NewImage(ctx, 33, 17, fourcc.NV12)
	require.NoError(t, err)
	defer img.Close()

	mat, err := img.CopyToMat(ConvertToBGR)
	require.NoError(t, err)
	defer mat.Close()
	assert.Equal(t, 17, mat.Rows())
	assert.Equal(t, 33, mat.Cols())
}

func TestCopyToMatUnmapFailureIsLogged(t *testing.T) {
	drv, ctx, logs := newTestContext(t)
	defer ctx.Close()

	img, err := NewImage(ctx, 32, 32, fourcc.NV12)
	require.NoError(t, err)
	defer img.Close()

	drv.FailNext(va.OpUnmapBuffer, va.StatusErrorInvalidBuffer)
	mat, err := img.CopyToMat(ConvertToBGR)
	require.NoError(t, err)
	defer mat.Close()
	assert.False(t, mat.Empty())
	assert.Equal(t, 1, logs.FilterMessage("failed to unmap surface buffer").Len())
	assert.Equal(t, 0, drv.LiveImages(ctx.Display()))
}

func TestCopyToMatMapFailure(t *testing.T) {
	drv, ctx, _ := newTestContext(t)
	defer ctx.Close()

	img, err := NewImage(ctx, 32, 32, fourcc.NV12)
	require.NoError(t, err)
	defer img.Close()

	drv.FailNext(va.OpMapBuffer, va.StatusErrorOperationFailed)
	mat, err := img.CopyToMat(ConvertToBGR)
	defer mat.Close()
	require.Error(t, err)
	assert.True(t, va.IsOp(err, va.OpMapBuffer))
	assert.Equal(t, 0, drv.LiveImages(ctx.Display()), "derived image destroyed on map failure")
}

func TestCopyToMatRejectsFormat(t *testing.T) {
	drv, ctx, _ := newTestContext(t)
	defer ctx.Close()

	img, err := NewImage(ctx, 32, 32, fourcc.BGRA)
	require.NoError(t, err)
	defer img.Close()

	before := drv.TotalCalls()
	mat, err := img.CopyToMat(ConvertToRGB)
	defer mat.Close()
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	assert.Equal(t, before, drv.TotalCalls())
}

func TestCopyToMatClosedImage(t *testing.T) {
	_, ctx, _ := newTestContext(t)
	defer ctx.Close()

	img, err := NewImage(ctx, 32, 32, fourcc.NV12)
	require.NoError(t, err)
	require.NoError(t, img.Close())

	mat, err := img.CopyToMat(ConvertNone)
	defer mat.Close()
	assert.True(t, errors.Is(err, ErrClosed))
}
