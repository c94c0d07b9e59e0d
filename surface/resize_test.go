package surface

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-va/fourcc"
	"github.com/nvr-ai/go-va/va"
)

func TestOutputRegion(t *testing.T) {
	tests := []struct {
		name string
		srcW int
		srcH int
		dstW int
		dstH int
		mode ResizeMode
		want va.Rect
	}{
		{name: "fill", srcW: 640, srcH: 480, dstW: 300, dstH: 300, mode: ResizeFill, want: va.Rect{Width: 300, Height: 300}},
		{name: "keep aspect wide source", srcW: 640, srcH: 480, dstW: 300, dstH: 300, mode: ResizeKeepAspect, want: va.Rect{Width: 300, Height: 224}},
		{name: "letterbox wide source", srcW: 640, srcH: 480, dstW: 300, dstH: 300, mode: ResizeKeepAspectLetterbox, want: va.Rect{X: 0, Y: 38, Width: 300, Height: 224}},
		{name: "letterbox tall source", srcW: 480, srcH: 640, dstW: 300, dstH: 300, mode: ResizeKeepAspectLetterbox, want: va.Rect{X: 38, Y: 0, Width: 224, Height: 300}},
		{name: "letterbox same aspect", srcW: 1920, srcH: 1080, dstW: 640, dstH: 360, mode: ResizeKeepAspectLetterbox, want: va.Rect{Width: 640, Height: 360}},
		{name: "letterbox odd destination width", srcW: 64, srcH: 36, dstW: 33, dstH: 32, mode: ResizeKeepAspectLetterbox, want: va.Rect{X: 0, Y: 6, Width: 33, Height: 18}},
		{name: "letterbox odd destination height", srcW: 64, srcH: 36, dstW: 32, dstH: 33, mode: ResizeKeepAspectLetterbox, want: va.Rect{X: 0, Y: 8, Width: 32, Height: 18}},
		{name: "keep aspect odd destination", srcW: 36, srcH: 64, dstW: 32, dstH: 33, mode: ResizeKeepAspect, want: va.Rect{Width: 18, Height: 33}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OutputRegion(tt.srcW, tt.srcH, tt.dstW, tt.dstH, tt.mode))
		})
	}
}

func TestParseResizeMode(t *testing.T) {
	for _, m := range []ResizeMode{ResizeFill, ResizeKeepAspect, ResizeKeepAspectLetterbox} {
		got, err := ParseResizeMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseResizeMode("stretch")
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestResizeFillCoversDestination(t *testing.T) {
	_, ctx, _ := newTestContext(t)
	defer ctx.Close()

	src, err := NewImage(ctx, 4, 4, fourcc.NV12)
	require.NoError(t, err)
	defer src.Close()
	fillImage(t, src, 200, 128, 128)

	dst, err := NewImage(ctx, 8, 4, fourcc.NV12)
	require.NoError(t, err)
	defer dst.Close()

	require.NoError(t, src.ResizeTo(dst, ResizeFill, false))
	for y, row := range lumaOf(t, dst) {
		for x, v := range row {
			assert.InDeltaf(t, 200, int(v), 1, "pixel (%d,%d) not covered", x, y)
		}
	}
}

func TestResizeLetterboxPadsOneAxis(t *testing.T) {
	_, ctx, _ := newTestContext(t)
	defer ctx.Close()

	src, err := NewImage(ctx, 4, 4, fourcc.NV12)
	require.NoError(t, err)
	defer src.Close()
	fillImage(t, src, 200, 128, 128)

	dst, err := NewImage(ctx, 8, 4, fourcc.NV12)
	require.NoError(t, err)
	defer dst.Close()
	fillImage(t, dst, 90, 60, 60)

	require.NoError(t, src.ResizeTo(dst, ResizeKeepAspectLetterbox, true))

	rows := lumaOf(t, dst)
	for y, row := range rows {
		assert.Equalf(t, []byte{16, 16}, row[:2], "left padding row %d", y)
		assert.Equalf(t, []byte{16, 16}, row[6:], "right padding row %d", y)
		for x := 2; x < 6; x++ {
			assert.InDeltaf(t, 200, int(row[x]), 1, "content pixel (%d,%d)", x, y)
		}
	}
}

func TestResizeLetterboxOddDestinationIsCentred(t *testing.T) {
	_, ctx, _ := newTestContext(t)
	defer ctx.Close()

	src, err := NewImage(ctx, 4, 4, fourcc.NV12)
	require.NoError(t, err)
	defer src.Close()
	fillImage(t, src, 200, 128, 128)

	dst, err := NewImage(ctx, 7, 4, fourcc.NV12)
	require.NoError(t, err)
	defer dst.Close()

	require.NoError(t, src.ResizeTo(dst, ResizeKeepAspectLetterbox, true))

	for y, row := range lumaOf(t, dst) {
		assert.Equalf(t, []byte{16, 16}, row[:2], "left padding row %d", y)
		assert.Equalf(t, byte(16), row[6], "right padding row %d", y)
		for x := 2; x < 6; x++ {
			assert.InDeltaf(t, 200, int(row[x]), 1, "content pixel (%d,%d)", x, y)
		}
	}
}

func TestResizeKeepAspectAnchorsOrigin(t *testing.T) {
	_, ctx, _ := newTestContext(t)
	defer ctx.Close()

	src, err := NewImage(ctx, 4, 4, fourcc.NV12)
	require.NoError(t, err)
	defer src.Close()
	fillImage(t, src, 200, 128, 128)

	dst, err := ctx.Pool().AcquireImage(ctx, 8, 4, fourcc.NV12)
	require.NoError(t, err)
	defer dst.Close()

	require.NoError(t, src.ResizeTo(dst, ResizeKeepAspect, false))
	for _, row := range lumaOf(t, dst) {
		assert.InDelta(t, 200, int(row[0]), 1)
		assert.Equal(t, byte(16), row[7])
	}
}

func TestResizeAcrossContextsRejected(t *testing.T) {
	drv, ctx, _ := newTestContext(t)
	defer ctx.Close()
	otherCtx, err := NewContext(drv)
	require.NoError(t, err)
	defer otherCtx.Close()

	src, err := NewImage(ctx, 16, 16, fourcc.NV12)
	require.NoError(t, err)
	defer src.Close()
	dst, err := NewImage(otherCtx, 16, 16, fourcc.NV12)
	require.NoError(t, err)
	defer dst.Close()

	before := drv.TotalCalls()
	err = src.ResizeTo(dst, ResizeFill, false)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	assert.Equal(t, before, drv.TotalCalls(), "no driver call was made")
}

func TestResizeSameDisplayDifferentContextRejected(t *testing.T) {
	drv := va.NewSoftwareDriver(va.SoftwareOptions{})
	d, err := drv.OpenDisplay()
	require.NoError(t, err)
	a, err := FromDisplay(drv, d)
	require.NoError(t, err)
	defer a.Close()
	b, err := FromDisplay(drv, d)
	require.NoError(t, err)
	defer b.Close()

	src, err := NewImage(a, 16, 16, fourcc.NV12)
	require.NoError(t, err)
	defer src.Close()
	dst, err := NewImage(b, 16, 16, fourcc.NV12)
	require.NoError(t, err)
	defer dst.Close()

	before := drv.TotalCalls()
	assert.True(t, errors.Is(src.ResizeTo(dst, ResizeFill, false), ErrInvalidArgument))
	assert.Equal(t, before, drv.TotalCalls())
}

func TestResizeDriverFailure(t *testing.T) {
	tests := []struct {
		op             string
		destroysBuffer bool
	}{
		{op: va.OpCreateBuffer},
		{op: va.OpBeginPicture, destroysBuffer: true},
		{op: va.OpRenderPicture, destroysBuffer: true},
		{op: va.OpEndPicture, destroysBuffer: true},
		{op: va.OpDestroyBuffer, destroysBuffer: true},
		{op: va.OpSyncSurface, destroysBuffer: true},
	}

	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			drv, ctx, _ := newTestContext(t)
			defer ctx.Close()

			src, err := NewImage(ctx, 16, 16, fourcc.NV12)
			require.NoError(t, err)
			defer src.Close()
			dst, err := NewImage(ctx, 8, 8, fourcc.NV12)
			require.NoError(t, err)
			defer dst.Close()

			drv.FailNext(tt.op, va.StatusErrorOperationFailed)
			err = src.ResizeTo(dst, ResizeFill, false)
			require.Error(t, err)
			assert.True(t, va.IsOp(err, tt.op))
			assert.Equal(t, va.StatusErrorOperationFailed, va.StatusOf(err))
			if tt.destroysBuffer {
				assert.GreaterOrEqual(t, drv.Calls(va.OpDestroyBuffer), 1)
			}
		})
	}
}

func TestResizeToPooled(t *testing.T) {
	_, ctx, _ := newTestContext(t)
	defer ctx.Close()

	src, err := NewImage(ctx, 64, 48, fourcc.NV12)
	require.NoError(t, err)
	defer src.Close()
	src.SetInfo(FrameInfo{Sequence: 7})

	out, err := src.ResizeToPooled(32, 32, ResizeKeepAspectLetterbox, false)
	require.NoError(t, err)
	assert.Equal(t, PoolManaged, out.Ownership())
	assert.Equal(t, 32, out.Width())
	assert.Equal(t, 7, out.Info().Sequence)
	assert.Equal(t, 1, ctx.Pool().Stats().InUse)

	require.NoError(t, out.Close())
	assert.Equal(t, 0, ctx.Pool().Stats().InUse)
}
