package surface

import (
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-va/fourcc"
	"github.com/nvr-ai/go-va/va"
)

func TestOwnedImageDestroysSurfaceOnce(t *testing.T) {
	drv, ctx, _ := newTestContext(t)
	defer ctx.Close()

	img, err := NewImage(ctx, 64, 64, fourcc.NV12)
	require.NoError(t, err)
	assert.Equal(t, Owned, img.Ownership())
	assert.Equal(t, 1, drv.LiveSurfaces(ctx.Display()))

	require.NoError(t, img.Close())
	require.NoError(t, img.Close())
	assert.Equal(t, 1, drv.Calls(va.OpDestroySurfaces))
	assert.Equal(t, 0, drv.LiveSurfaces(ctx.Display()))
}

func TestOwnedImageDestroyFailureIsLogged(t *testing.T) {
	drv, ctx, logs := newTestContext(t)
	defer ctx.Close()

	img, err := NewImage(ctx, 64, 64, fourcc.NV12)
	require.NoError(t, err)

	drv.FailNext(va.OpDestroySurfaces, va.StatusErrorInvalidSurface)
	assert.NoError(t, img.Close())
	assert.Equal(t, 1, logs.FilterMessage("failed to destroy surface").Len())
}

func TestWrapSurface(t *testing.T) {
	drv, ctx, _ := newTestContext(t)
	defer ctx.Close()

	id, err := drv.CreateSurface(ctx.Display(), 32, 32, fourcc.NV12)
	require.NoError(t, err)

	img, err := WrapSurface(ctx, id, 32, 32, fourcc.NV12)
	require.NoError(t, err)
	assert.Equal(t, id, img.Surface())
	require.NoError(t, img.Close())
	assert.Equal(t, 0, drv.LiveSurfaces(ctx.Display()), "wrapped surfaces are owned")

	_, err = WrapSurface(ctx, va.InvalidID, 32, 32, fourcc.NV12)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestPoolManagedImageReturnsToPool(t *testing.T) {
	drv, ctx, _ := newTestContext(t)
	defer ctx.Close()
	pool := ctx.Pool()

	img, err := pool.AcquireImage(ctx, 64, 64, fourcc.NV12)
	require.NoError(t, err)
	assert.Equal(t, PoolManaged, img.Ownership())
	assert.Equal(t, 1, pool.Stats().InUse)

	require.NoError(t, pool.Release(img))
	assert.Equal(t, 0, pool.Stats().InUse)
	assert.Equal(t, 0, drv.Calls(va.OpDestroySurfaces), "pool keeps the surface")
	assert.Equal(t, 1, drv.LiveSurfaces(ctx.Display()))

	err = pool.Release(img)
	assert.True(t, errors.Is(err, ErrNotInUse))
}

func TestReleaseImageOfOtherPool(t *testing.T) {
	_, ctx, _ := newTestContext(t)
	defer ctx.Close()

	img, err := ctx.Pool().AcquireImage(ctx, 64, 64, fourcc.NV12)
	require.NoError(t, err)
	defer img.Close()

	other := NewPool(ctx.Driver(), ctx.Display())
	err = other.Release(img)
	assert.True(t, errors.Is(err, ErrUnknownSurface))

	owned, err := NewImage(ctx, 16, 16, fourcc.NV12)
	require.NoError(t, err)
	defer owned.Close()
	err = ctx.Pool().Release(owned)
	assert.True(t, errors.Is(err, ErrUnknownSurface))
}

func TestImageKeepsContextAlive(t *testing.T) {
	drv, ctx, _ := newTestContext(t)

	img, err := NewImage(ctx, 64, 64, fourcc.NV12)
	require.NoError(t, err)
	assert.Equal(t, 2, ctx.References())

	require.NoError(t, ctx.Close())
	assert.Equal(t, 0, drv.Calls(va.OpTerminate), "context torn down while an image is alive")

	require.NoError(t, img.Close())
	assert.Equal(t, 1, drv.Calls(va.OpTerminate))
	assert.Equal(t, 1, drv.Calls(va.OpDestroyContext))
}

func TestImageInfo(t *testing.T) {
	_, ctx, _ := newTestContext(t)
	defer ctx.Close()

	img, err := NewImage(ctx, 16, 16, fourcc.NV12)
	require.NoError(t, err)
	defer img.Close()

	info := FrameInfo{Sequence: 3, TraceID: uuid.New()}
	img.SetInfo(info)
	assert.Equal(t, info, img.Info())
}

func TestWritePlanesRespectsPitch(t *testing.T) {
	_, ctx, _ := newTestContext(t)
	defer ctx.Close()

	img, err := NewImage(ctx, 10, 4, fourcc.NV12)
	require.NoError(t, err)
	defer img.Close()

	buf := make([]byte, 10*4+10*2)
	for i := range buf[:40] {
		buf[i] = byte(i)
	}
	planes, err := SplitPlanes(fourcc.NV12, 10, 4, buf, [3]int{}, [3]int{})
	require.NoError(t, err)
	require.NoError(t, img.WritePlanes(planes))

	rows := lumaOf(t, img)
	require.Len(t, rows, 4)
	assert.Equal(t, []byte{10, 11, 12, 13, 14, 15, 16, 17, 18, 19}, rows[1])

	wrong, err := SplitPlanes(fourcc.NV12, 8, 4, buf, [3]int{}, [3]int{})
	require.NoError(t, err)
	assert.True(t, errors.Is(img.WritePlanes(wrong), ErrInvalidArgument))
}

func TestSplitPlanes(t *testing.T) {
	buf := make([]byte, 64*48*3/2)
	p, err := SplitPlanes(fourcc.I420, 64, 48, buf, [3]int{}, [3]int{})
	require.NoError(t, err)
	assert.Len(t, p.Data[0], 64*48)
	assert.Len(t, p.Data[1], 32*24)
	assert.Len(t, p.Data[2], 32*24)

	_, err = SplitPlanes(fourcc.NV12, 64, 48, buf[:100], [3]int{}, [3]int{})
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = SplitPlanes(fourcc.BGRA, 64, 48, buf, [3]int{}, [3]int{})
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}
