package surface

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-va/fourcc"
	"github.com/nvr-ai/go-va/va"
)

// Planes is a host-memory 4:2:0 frame, one slice per plane in the plane order
// of the format (Y, UV for NV12; Y, U, V for I420; Y, V, U for YV12).
type Planes struct {
	Format  fourcc.FourCC
	Width   int
	Height  int
	Data    [3][]byte
	Strides [3]int
}

// SplitPlanes slices a contiguous frame buffer into planes. Zero strides and
// offsets select the tightly packed layout.
//
// Arguments:
//   - format: NV12, I420 or YV12.
//   - width: The frame width.
//   - height: The frame height.
//   - buf: The frame bytes.
//   - strides: Row stride of each plane, or zeros.
//   - offsets: Byte offset of each plane, or zeros.
//
// Returns:
//   - Planes: Views into buf.
//   - error: ErrInvalidArgument if the format is not 4:2:0 or buf is too short.
func SplitPlanes(format fourcc.FourCC, width, height int, buf []byte, strides, offsets [3]int) (Planes, error) {
	if !format.IsYUV420() {
		return Planes{}, invalidArgument("split planes: unsupported format %s", format)
	}
	if width <= 0 || height <= 0 {
		return Planes{}, invalidArgument("split planes: size %dx%d", width, height)
	}

	cw, ch := (width+1)/2, (height+1)/2
	if strides == ([3]int{}) {
		if format == fourcc.NV12 {
			strides = [3]int{width, 2 * cw}
		} else {
			strides = [3]int{width, cw, cw}
		}
	}
	if offsets == ([3]int{}) {
		offsets[1] = strides[0] * height
		offsets[2] = offsets[1] + strides[1]*ch
	}

	p := Planes{Format: format, Width: width, Height: height, Strides: strides}
	spans := [3]int{strides[0] * height, strides[1] * ch, strides[2] * ch}
	for n := 0; n < format.PlaneCount(); n++ {
		end := offsets[n] + spans[n]
		if offsets[n] < 0 || end > len(buf) {
			return Planes{}, invalidArgument("split planes: plane %d needs bytes [%d, %d), buffer has %d", n, offsets[n], end, len(buf))
		}
		p.Data[n] = buf[offsets[n]:end]
	}
	return p, nil
}

// rowBytes returns the visible bytes per row of plane n.
func (p Planes) rowBytes(n int) int {
	cw := (p.Width + 1) / 2
	switch {
	case n == 0:
		return p.Width
	case p.Format == fourcc.NV12:
		return 2 * cw
	default:
		return cw
	}
}

func (p Planes) rows(n int) int {
	if n == 0 {
		return p.Height
	}
	return (p.Height + 1) / 2
}

// WritePlanes uploads a host frame into the surface through a mapped derived
// image, respecting the mapped pitch of every plane.
func (i *Image) WritePlanes(src Planes) error {
	if src.Format != i.format {
		return invalidArgument("write planes: %s frame into %s surface", src.Format, i.format)
	}
	if src.Width != i.width || src.Height != i.height {
		return invalidArgument("write planes: %dx%d frame into %dx%d surface", src.Width, src.Height, i.width, i.height)
	}

	return i.withMapped("write planes", func(info va.ImageInfo, data []byte) error {
		for n := 0; n < src.Format.PlaneCount(); n++ {
			rowBytes, rows := src.rowBytes(n), src.rows(n)
			for y := 0; y < rows; y++ {
				from := y * src.Strides[n]
				to := info.Offsets[n] + y*info.Pitches[n]
				if from+rowBytes > len(src.Data[n]) || to+rowBytes > len(data) {
					return errors.Errorf("write planes: plane %d row %d out of range", n, y)
				}
				copy(data[to:to+rowBytes], src.Data[n][from:from+rowBytes])
			}
		}
		return nil
	})
}
