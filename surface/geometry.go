package surface

import (
	"fmt"

	"github.com/nvr-ai/go-va/va"
)

// ResizeMode selects how the source maps onto the destination in ResizeTo.
type ResizeMode int

const (
	// ResizeFill stretches the source to the full destination.
	ResizeFill ResizeMode = iota
	// ResizeKeepAspect scales preserving the aspect ratio with the content
	// anchored at the top-left corner.
	ResizeKeepAspect
	// ResizeKeepAspectLetterbox scales preserving the aspect ratio with the
	// content centred.
	ResizeKeepAspectLetterbox
)

func (m ResizeMode) String() string {
	switch m {
	case ResizeFill:
		return "fill"
	case ResizeKeepAspect:
		return "keep-aspect"
	case ResizeKeepAspectLetterbox:
		return "letterbox"
	default:
		return fmt.Sprintf("ResizeMode(%d)", int(m))
	}
}

// ParseResizeMode converts a name produced by ResizeMode.String.
func ParseResizeMode(s string) (ResizeMode, error) {
	for _, m := range []ResizeMode{ResizeFill, ResizeKeepAspect, ResizeKeepAspectLetterbox} {
		if m.String() == s {
			return m, nil
		}
	}
	return ResizeFill, invalidArgument("unknown resize mode %q", s)
}

// BackgroundColor is the ARGB fill for destination pixels not covered by the
// scaled source: opaque black, Y=16 U=V=128 in limited range YUV.
const BackgroundColor uint32 = 0xff000000

// OutputRegion returns the rectangle of a dstW x dstH destination that a srcW x
// srcH source is scaled into. Aspect preserving modes use integer arithmetic.
// The axis the source fills keeps the exact destination size; the scaled axis
// and its letterbox offset are even so 4:2:0 chroma stays aligned, with the
// offset rounded to the even value nearest the centre.
func OutputRegion(srcW, srcH, dstW, dstH int, mode ResizeMode) va.Rect {
	if mode == ResizeFill || srcW <= 0 || srcH <= 0 {
		return va.Rect{Width: dstW, Height: dstH}
	}

	r := va.Rect{Width: dstW, Height: dstH}
	if srcW*dstH >= srcH*dstW {
		r.Height = evenSize(srcH * dstW / srcW)
		if mode == ResizeKeepAspectLetterbox {
			r.Y = centreOffset(dstH - r.Height)
		}
	} else {
		r.Width = evenSize(srcW * dstH / srcH)
		if mode == ResizeKeepAspectLetterbox {
			r.X = centreOffset(dstW - r.Width)
		}
	}
	return r
}

// centreOffset splits gap padding pixels and returns the even leading share.
func centreOffset(gap int) int {
	if gap <= 0 {
		return 0
	}
	return (gap + 1) / 4 * 2
}

func evenSize(v int) int {
	if v <= 1 {
		return max(v, 1)
	}
	return v &^ 1
}
