package va

import (
	"image"
	"image/color"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-va/fourcc"
)

// process runs one video processing pipeline on the CPU: crop the source
// region, scale it into the output region of dst and paint the rest of dst
// with the background colour.
func process(src, dst *softSurface, p ProcParams) error {
	if !src.format.IsYUV420() || !dst.format.IsYUV420() {
		return errors.WithStack(&Error{Op: OpEndPicture, Status: StatusErrorUnsupportedRTFormat})
	}

	in := Rect{Width: src.width, Height: src.height}
	if p.SurfaceRegion != nil {
		in = clipRect(*p.SurfaceRegion, src.width, src.height)
	}
	out := Rect{Width: dst.width, Height: dst.height}
	if p.OutputRegion != nil {
		out = clipRect(*p.OutputRegion, dst.width, dst.height)
	}
	if in.Empty() || out.Empty() {
		return errors.WithStack(&Error{Op: OpEndPicture, Status: StatusErrorInvalidParameter})
	}

	if out != (Rect{Width: dst.width, Height: dst.height}) {
		y, u, v := argbToYUV(p.BackgroundColor)
		fill(dst.data[:dst.offsets[1]], y)
		dst.fillChroma(u, v)
	}

	filter := resize.Bilinear
	if p.FilterFlags&FilterScalingHQ != 0 {
		filter = resize.Lanczos3
	}
	scaled := resize.Resize(uint(out.Width), uint(out.Height), src.crop(in), filter)
	dst.blit(scaled, out)
	return nil
}

func clipRect(r Rect, width, height int) Rect {
	x0, y0 := max(r.X, 0), max(r.Y, 0)
	x1, y1 := min(r.X+r.Width, width), min(r.Y+r.Height, height)
	if x1 <= x0 || y1 <= y0 {
		return Rect{}
	}
	return Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// argbToYUV converts an ARGB colour to limited range BT.601.
func argbToYUV(argb uint32) (y, u, v byte) {
	r := int(argb>>16) & 0xff
	g := int(argb>>8) & 0xff
	b := int(argb) & 0xff
	y = byte(((66*r + 129*g + 25*b + 128) >> 8) + 16)
	u = byte(((-38*r - 74*g + 112*b + 128) >> 8) + 128)
	v = byte(((112*r - 94*g - 18*b + 128) >> 8) + 128)
	return y, u, v
}

func (s *softSurface) chromaRows() int {
	return (s.height + 1) / 2
}

func (s *softSurface) chromaCols() int {
	return (s.width + 1) / 2
}

func (s *softSurface) chroma(cx, cy int) (u, v byte) {
	switch s.format {
	case fourcc.NV12:
		o := s.offsets[1] + cy*s.pitches[1] + 2*cx
		return s.data[o], s.data[o+1]
	case fourcc.YV12:
		return s.data[s.offsets[2]+cy*s.pitches[2]+cx], s.data[s.offsets[1]+cy*s.pitches[1]+cx]
	default:
		return s.data[s.offsets[1]+cy*s.pitches[1]+cx], s.data[s.offsets[2]+cy*s.pitches[2]+cx]
	}
}

func (s *softSurface) setChroma(cx, cy int, u, v byte) {
	switch s.format {
	case fourcc.NV12:
		o := s.offsets[1] + cy*s.pitches[1] + 2*cx
		s.data[o], s.data[o+1] = u, v
	case fourcc.YV12:
		s.data[s.offsets[2]+cy*s.pitches[2]+cx] = u
		s.data[s.offsets[1]+cy*s.pitches[1]+cx] = v
	default:
		s.data[s.offsets[1]+cy*s.pitches[1]+cx] = u
		s.data[s.offsets[2]+cy*s.pitches[2]+cx] = v
	}
}

func (s *softSurface) fillChroma(u, v byte) {
	for cy := 0; cy < s.chromaRows(); cy++ {
		for cx := 0; cx < s.chromaCols(); cx++ {
			s.setChroma(cx, cy, u, v)
		}
	}
}

// crop copies a region of the surface into a 4:2:0 image.
func (s *softSurface) crop(r Rect) *image.YCbCr {
	img := image.NewYCbCr(image.Rect(0, 0, r.Width, r.Height), image.YCbCrSubsampleRatio420)
	for y := 0; y < r.Height; y++ {
		row := s.offsets[0] + (r.Y+y)*s.pitches[0] + r.X
		copy(img.Y[y*img.YStride:y*img.YStride+r.Width], s.data[row:row+r.Width])
	}
	for cy := 0; cy < (r.Height+1)/2; cy++ {
		sy := min(r.Y/2+cy, s.chromaRows()-1)
		for cx := 0; cx < (r.Width+1)/2; cx++ {
			sx := min(r.X/2+cx, s.chromaCols()-1)
			u, v := s.chroma(sx, sy)
			img.Cb[cy*img.CStride+cx] = u
			img.Cr[cy*img.CStride+cx] = v
		}
	}
	return img
}

// blit writes img into the out region of the surface. img has the size of out.
func (s *softSurface) blit(img image.Image, out Rect) {
	b := img.Bounds()
	yc, isYCbCr := img.(*image.YCbCr)

	for y := 0; y < out.Height; y++ {
		row := s.offsets[0] + (out.Y+y)*s.pitches[0] + out.X
		for x := 0; x < out.Width; x++ {
			if isYCbCr {
				s.data[row+x] = yc.Y[yc.YOffset(b.Min.X+x, b.Min.Y+y)]
				continue
			}
			s.data[row+x] = color.YCbCrModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.YCbCr).Y
		}
	}

	for cy := out.Y / 2; cy < (out.Y+out.Height+1)/2; cy++ {
		ly := clamp(2*cy-out.Y, 0, out.Height-1)
		for cx := out.X / 2; cx < (out.X+out.Width+1)/2; cx++ {
			lx := clamp(2*cx-out.X, 0, out.Width-1)
			if isYCbCr {
				ci := yc.COffset(b.Min.X+lx, b.Min.Y+ly)
				s.setChroma(cx, cy, yc.Cb[ci], yc.Cr[ci])
				continue
			}
			c := color.YCbCrModel.Convert(img.At(b.Min.X+lx, b.Min.Y+ly)).(color.YCbCr)
			s.setChroma(cx, cy, c.Cb, c.Cr)
		}
	}
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
