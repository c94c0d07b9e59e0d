package surface

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-va/va"
)

// withMapped derives the surface into an image, maps it and runs fn on the
// mapped bytes. Unmap and image destroy failures after fn are logged and
// swallowed: whatever fn produced is already complete.
func (i *Image) withMapped(op string, fn func(info va.ImageInfo, data []byte) error) error {
	if err := i.checkOpen(op); err != nil {
		return err
	}
	drv, dpy, log := i.ctx.driver, i.ctx.display, i.ctx.log

	info, err := drv.DeriveImage(dpy, i.surface)
	if err != nil {
		return errors.Wrap(err, op)
	}
	data, err := drv.MapBuffer(dpy, info.Buffer, info.DataSize)
	if err != nil {
		if derr := drv.DestroyImage(dpy, info.ID); derr != nil {
			log.Errorw("failed to destroy derived image", "image", uint32(info.ID), "error", derr)
		}
		return errors.Wrap(err, op)
	}

	ferr := fn(info, data)

	if err := drv.UnmapBuffer(dpy, info.Buffer); err != nil {
		log.Errorw("failed to unmap surface buffer", "op", op, "buffer", uint32(info.Buffer), "error", err)
	}
	if err := drv.DestroyImage(dpy, info.ID); err != nil {
		log.Errorw("failed to destroy derived image", "op", op, "image", uint32(info.ID), "error", err)
	}
	return ferr
}
