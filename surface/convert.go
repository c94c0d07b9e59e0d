package surface

import (
	"fmt"
	"image"
	"runtime"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-va/fourcc"
	"github.com/nvr-ai/go-va/va"
)

// Conversion selects the colour conversion applied by CopyToMat.
type Conversion int

const (
	// ConvertNone returns the raw 4:2:0 planes as a single channel Mat of
	// height*3/2 rows.
	ConvertNone Conversion = iota
	// ConvertToRGB returns a 3 channel RGB Mat.
	ConvertToRGB
	// ConvertToBGR returns a 3 channel BGR Mat.
	ConvertToBGR
)

func (c Conversion) String() string {
	switch c {
	case ConvertNone:
		return "none"
	case ConvertToRGB:
		return "rgb"
	case ConvertToBGR:
		return "bgr"
	default:
		return fmt.Sprintf("Conversion(%d)", int(c))
	}
}

var colorCodes = map[fourcc.FourCC][2]gocv.ColorConversionCode{
	fourcc.NV12: {gocv.ColorYUVToRGBNV12, gocv.ColorYUVToBGRNV12},
	fourcc.I420: {gocv.ColorYUVToRGBIYUV, gocv.ColorYUVToBGRIYUV},
	fourcc.YV12: {gocv.ColorYUVToRGBYV12, gocv.ColorYUVToBGRYV12},
}

// CopyToMat copies the surface into a new host Mat, converting the colour
// space as requested. Rows are read with the mapped pitch and the chroma plane
// from its mapped offset, so luma rows the driver padded beyond the logical
// height never reach the result, which is exactly Width x Height.
//
// Arguments:
//   - conv: The colour conversion.
//
// Returns:
//   - gocv.Mat: The copy. The caller closes it.
//   - error: ErrInvalidArgument for formats other than NV12, I420 and YV12, or
//     a driver error from deriving or mapping the surface.
func (i *Image) CopyToMat(conv Conversion) (gocv.Mat, error) {
	codes, ok := colorCodes[i.format]
	if !ok {
		return gocv.NewMat(), invalidArgument("copy to mat: unsupported format %s", i.format)
	}
	if conv < ConvertNone || conv > ConvertToBGR {
		return gocv.NewMat(), invalidArgument("copy to mat: unknown conversion %d", int(conv))
	}

	var packed []byte
	var packedW, packedH int
	err := i.withMapped("copy to mat", func(info va.ImageInfo, data []byte) error {
		var err error
		packed, packedW, packedH, err = pack420(info, data, i.width, i.height)
		return err
	})
	if err != nil {
		return gocv.NewMat(), err
	}

	yuv, err := gocv.NewMatFromBytes(packedH*3/2, packedW, gocv.MatTypeCV8UC1, packed)
	if err != nil {
		return gocv.NewMat(), errors.Wrap(err, "copy to mat")
	}
	defer runtime.KeepAlive(packed)
	defer yuv.Close()

	if conv == ConvertNone {
		return yuv.Clone(), nil
	}

	code := codes[0]
	if conv == ConvertToBGR {
		code = codes[1]
	}
	out := gocv.NewMat()
	gocv.CvtColor(yuv, &out, code)
	if out.Empty() {
		out.Close()
		return gocv.NewMat(), errors.Errorf("copy to mat: %s conversion of %s produced no output", conv, i.format)
	}

	if packedW == i.width && packedH == i.height {
		return out, nil
	}
	region := out.Region(image.Rect(0, 0, i.width, i.height))
	cropped := region.Clone()
	region.Close()
	out.Close()
	return cropped, nil
}

// pack420 copies a mapped 4:2:0 image into a contiguous buffer with even
// dimensions, honouring the pitch and offset of every plane.
func pack420(info va.ImageInfo, data []byte, width, height int) ([]byte, int, int, error) {
	w := (width + 1) &^ 1
	h := (height + 1) &^ 1
	packed := make([]byte, w*h*3/2)

	copyRows := func(dst []byte, off, pitch, rowBytes, rows int) error {
		for y := 0; y < rows; y++ {
			start := off + y*pitch
			if start+rowBytes > len(data) {
				return errors.Errorf("mapped buffer too small: need %d bytes, have %d", start+rowBytes, len(data))
			}
			copy(dst[y*rowBytes:(y+1)*rowBytes], data[start:start+rowBytes])
		}
		return nil
	}

	if err := copyRows(packed[:w*h], info.Offsets[0], info.Pitches[0], w, h); err != nil {
		return nil, 0, 0, err
	}
	chroma := packed[w*h:]
	switch info.Format {
	case fourcc.NV12:
		if err := copyRows(chroma, info.Offsets[1], info.Pitches[1], w, h/2); err != nil {
			return nil, 0, 0, err
		}
	case fourcc.I420, fourcc.YV12:
		quarter := (w / 2) * (h / 2)
		if err := copyRows(chroma[:quarter], info.Offsets[1], info.Pitches[1], w/2, h/2); err != nil {
			return nil, 0, 0, err
		}
		if err := copyRows(chroma[quarter:], info.Offsets[2], info.Pitches[2], w/2, h/2); err != nil {
			return nil, 0, 0, err
		}
	default:
		return nil, 0, 0, invalidArgument("mapped format %s", info.Format)
	}
	return packed, w, h, nil
}
