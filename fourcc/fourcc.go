// Package fourcc - Pixel format tags shared by the driver, surface and decoder layers.
package fourcc

import (
	"fmt"
	"strings"
)

// FourCC is a four character pixel format code packed little-endian into a uint32,
// matching the layout libva uses for VA_FOURCC.
type FourCC uint32

// New packs four characters into a FourCC.
func New(a, b, c, d byte) FourCC {
	return FourCC(uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24)
}

// Supported formats.
const (
	// None marks an image without an assigned format.
	None FourCC = 0
	// NV12 is 4:2:0 semi-planar: one luma plane followed by one interleaved CbCr plane.
	NV12 FourCC = 'N' | 'V'<<8 | '1'<<16 | '2'<<24
	// I420 is 4:2:0 planar: Y, then U, then V.
	I420 FourCC = 'I' | '4'<<8 | '2'<<16 | '0'<<24
	// YV12 is 4:2:0 planar with the chroma planes swapped: Y, then V, then U.
	YV12 FourCC = 'Y' | 'V'<<8 | '1'<<16 | '2'<<24
	// RGBP is planar 8-bit RGB.
	RGBP FourCC = 'R' | 'G'<<8 | 'B'<<16 | 'P'<<24
	// BGRA is packed 32-bit BGRA.
	BGRA FourCC = 'B' | 'G'<<8 | 'R'<<16 | 'A'<<24
	// RGBA is packed 32-bit RGBA.
	RGBA FourCC = 'R' | 'G'<<8 | 'B'<<16 | 'A'<<24
)

// VA render target format bits (VA_RT_FORMAT_*).
const (
	RTFormatYUV420 uint32 = 0x00000001
	RTFormatRGB32  uint32 = 0x00010000
	RTFormatRGBP   uint32 = 0x00100000
)

// String returns the four characters of the code, or "NONE".
func (f FourCC) String() string {
	if f == None {
		return "NONE"
	}
	b := []byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}
	return string(b)
}

// Parse converts a four character name (case-insensitive) into a FourCC.
//
// Arguments:
//   - s: The format name, e.g. "NV12" or "nv12".
//
// Returns:
//   - FourCC: The packed code.
//   - error: An error if the name is not exactly four characters.
func Parse(s string) (FourCC, error) {
	if strings.EqualFold(s, "none") {
		return None, nil
	}
	if len(s) != 4 {
		return None, fmt.Errorf("fourcc must be 4 characters, got %q", s)
	}
	u := strings.ToUpper(s)
	return New(u[0], u[1], u[2], u[3]), nil
}

// IsYUV420 reports whether the format is one of the 4:2:0 layouts.
func (f FourCC) IsYUV420() bool {
	switch f {
	case NV12, I420, YV12:
		return true
	default:
		return false
	}
}

// RTFormat returns the render target format a surface of this FourCC must be created with.
// Unknown formats return 0.
func (f FourCC) RTFormat() uint32 {
	switch f {
	case NV12, I420, YV12:
		return RTFormatYUV420
	case BGRA, RGBA:
		return RTFormatRGB32
	case RGBP:
		return RTFormatRGBP
	default:
		return 0
	}
}

// PlaneCount returns the number of planes of the format.
func (f FourCC) PlaneCount() int {
	switch f {
	case NV12:
		return 2
	case I420, YV12, RGBP:
		return 3
	case BGRA, RGBA:
		return 1
	default:
		return 0
	}
}

// FrameSize returns the byte size of a tightly packed frame of the given dimensions,
// or 0 for unknown formats.
func (f FourCC) FrameSize(width, height int) int {
	switch f {
	case NV12, I420, YV12:
		return width*height + 2*((width+1)/2)*((height+1)/2)
	case RGBP:
		return width * height * 3
	case BGRA, RGBA:
		return width * height * 4
	default:
		return 0
	}
}
