package surface

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-va/fourcc"
	"github.com/nvr-ai/go-va/va"
)

// Ownership decides what Close does with an image's surface.
type Ownership int

const (
	// Owned images destroy their surface exactly once, on Close.
	Owned Ownership = iota
	// PoolManaged images return their surface to the pool on Close.
	PoolManaged
)

func (o Ownership) String() string {
	if o == PoolManaged {
		return "pool-managed"
	}
	return "owned"
}

// FrameInfo is decode metadata attached to an image by its producer.
type FrameInfo struct {
	// Sequence is the position of the frame in decode order, starting at 0.
	Sequence int
	// TraceID identifies the frame across logs and outputs.
	TraceID uuid.UUID
	// PTS is the presentation timestamp reported by the source.
	PTS time.Duration
}

// Image is a surface bound to a Context.
type Image struct {
	ctx       *Context
	pool      *Pool
	surface   va.SurfaceID
	width     int
	height    int
	format    fourcc.FourCC
	ownership Ownership

	mu     sync.Mutex
	closed bool
	info   FrameInfo
}

func newImage(ctx *Context, id va.SurfaceID, width, height int, format fourcc.FourCC, own Ownership, pool *Pool) *Image {
	return &Image{
		ctx:       ctx.Retain(),
		pool:      pool,
		surface:   id,
		width:     width,
		height:    height,
		format:    format,
		ownership: own,
	}
}

// NewImage allocates a new surface on ctx. The image owns the surface.
//
// Arguments:
//   - ctx: The context the surface is allocated on.
//   - width: The surface width.
//   - height: The surface height.
//   - format: The surface pixel format.
//
// Returns:
//   - *Image: The image.
//   - error: ErrInvalidArgument for bad sizes or formats, or the driver error.
func NewImage(ctx *Context, width, height int, format fourcc.FourCC) (*Image, error) {
	if ctx == nil {
		return nil, invalidArgument("nil context")
	}
	if err := validateSurface(width, height, format); err != nil {
		return nil, err
	}
	id, err := ctx.driver.CreateSurface(ctx.display, width, height, format)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create surface")
	}
	return newImage(ctx, id, width, height, format, Owned, nil), nil
}

// WrapSurface takes ownership of a surface created by the caller on ctx's
// display, for example by a hardware decoder.
func WrapSurface(ctx *Context, id va.SurfaceID, width, height int, format fourcc.FourCC) (*Image, error) {
	if ctx == nil {
		return nil, invalidArgument("nil context")
	}
	if id == va.InvalidID {
		return nil, invalidArgument("invalid surface id")
	}
	if err := validateSurface(width, height, format); err != nil {
		return nil, err
	}
	return newImage(ctx, id, width, height, format, Owned, nil), nil
}

// Context returns the context the image belongs to.
func (i *Image) Context() *Context { return i.ctx }

// Surface returns the surface handle.
func (i *Image) Surface() va.SurfaceID { return i.surface }

// Width returns the width in pixels.
func (i *Image) Width() int { return i.width }

// Height returns the height in pixels.
func (i *Image) Height() int { return i.height }

// Format returns the pixel format.
func (i *Image) Format() fourcc.FourCC { return i.format }

// Ownership returns the ownership tag.
func (i *Image) Ownership() Ownership { return i.ownership }

// Info returns the frame metadata.
func (i *Image) Info() FrameInfo {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.info
}

// SetInfo replaces the frame metadata.
func (i *Image) SetInfo(info FrameInfo) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.info = info
}

// Closed reports whether Close has run.
func (i *Image) Closed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.closed
}

// Close releases the surface according to the ownership tag and drops the
// image's context reference. It is idempotent. Destroy failures of owned
// surfaces are logged; release errors of pool-managed surfaces are returned.
func (i *Image) Close() error {
	_, err := i.close()
	return err
}

// close reports whether this call performed the release.
func (i *Image) close() (bool, error) {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return false, nil
	}
	i.closed = true
	i.mu.Unlock()

	var err error
	switch i.ownership {
	case Owned:
		if derr := i.ctx.driver.DestroySurface(i.ctx.display, i.surface); derr != nil {
			i.ctx.log.Errorw("failed to destroy surface", "surface", uint32(i.surface), "error", derr)
		}
	case PoolManaged:
		err = i.pool.ReleaseSurface(i.surface, i.width, i.height, i.format)
	}
	i.ctx.Close()
	return true, err
}

func (i *Image) checkOpen(op string) error {
	if i.Closed() {
		return errors.Wrapf(ErrClosed, "%s on surface %d", op, i.surface)
	}
	return nil
}

// ResizeTo scales and converts the image into dst with the processing context,
// synchronously. Both images must share the display and processing context;
// otherwise ErrInvalidArgument is returned before any driver call.
//
// Arguments:
//   - dst: The destination image.
//   - mode: Fill, keep-aspect or letterbox.
//   - highQuality: Selects the high quality scaling filter.
//
// Returns:
//   - error: ErrInvalidArgument on contract violations, or a *va.Error.
func (i *Image) ResizeTo(dst *Image, mode ResizeMode, highQuality bool) error {
	if dst == nil {
		return invalidArgument("nil destination")
	}
	if !i.ctx.sameAs(dst.ctx) {
		return invalidArgument("resize across contexts (display %d context %d -> display %d context %d)",
			i.ctx.display, i.ctx.id, dst.ctx.display, dst.ctx.id)
	}
	if err := i.checkOpen("resize"); err != nil {
		return err
	}
	if err := dst.checkOpen("resize"); err != nil {
		return err
	}

	region := OutputRegion(i.width, i.height, dst.width, dst.height, mode)
	params := va.ProcParams{
		Surface:         i.surface,
		SurfaceRegion:   &va.Rect{Width: i.width, Height: i.height},
		OutputRegion:    &region,
		BackgroundColor: BackgroundColor,
		FilterFlags:     va.FilterScalingFast,
	}
	if highQuality {
		params.FilterFlags = va.FilterScalingHQ
	}

	ctx := i.ctx
	ctx.procMu.Lock()
	defer ctx.procMu.Unlock()

	drv, dpy := ctx.driver, ctx.display
	buf, err := drv.CreateProcPipelineBuffer(dpy, ctx.id, params)
	if err != nil {
		return errors.Wrap(err, "resize")
	}
	if err := submit(drv, dpy, ctx.id, dst.surface, buf); err != nil {
		if derr := drv.DestroyBuffer(dpy, buf); derr != nil {
			ctx.log.Errorw("failed to destroy pipeline buffer", "buffer", uint32(buf), "error", derr)
		}
		return errors.Wrap(err, "resize")
	}
	if err := drv.DestroyBuffer(dpy, buf); err != nil {
		return errors.Wrap(err, "resize")
	}
	if err := drv.SyncSurface(dpy, dst.surface); err != nil {
		return errors.Wrap(err, "resize")
	}
	return nil
}

func submit(drv va.Driver, dpy va.Display, ctx va.ContextID, target va.SurfaceID, buf va.BufferID) error {
	if err := drv.BeginPicture(dpy, ctx, target); err != nil {
		return err
	}
	if err := drv.RenderPicture(dpy, ctx, buf); err != nil {
		return err
	}
	return drv.EndPicture(dpy, ctx)
}

// ResizeToPooled resizes into a surface acquired from the context's pool. The
// returned image is pool-managed and keeps the source format.
func (i *Image) ResizeToPooled(width, height int, mode ResizeMode, highQuality bool) (*Image, error) {
	dst, err := i.ctx.Pool().AcquireImage(i.ctx, width, height, i.format)
	if err != nil {
		return nil, err
	}
	if err := i.ResizeTo(dst, mode, highQuality); err != nil {
		if cerr := dst.Close(); cerr != nil {
			i.ctx.log.Errorw("failed to release resize target", "error", cerr)
		}
		return nil, err
	}
	dst.SetInfo(i.Info())
	return dst, nil
}
