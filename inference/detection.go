// Package inference - SSD detection output parsing and the networks that
// produce it.
package inference

import (
	"fmt"
	"image"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-va/common"
	"github.com/nvr-ai/go-va/surface"
)

// ObjectSize is the number of values per detection record:
// [image_id, label, confidence, x_min, y_min, x_max, y_max].
const ObjectSize = 7

// Detection is one SSD detection record with coordinates normalised to [0,1].
type Detection struct {
	ImageID    int
	Label      int
	Confidence float32
	XMin       float32
	YMin       float32
	XMax       float32
	YMax       float32
}

// Rect returns the detection in pixels of a width x height frame.
func (d Detection) Rect(width, height int) image.Rectangle {
	w, h := float32(width), float32(height)
	return image.Rect(
		int(d.XMin*w), int(d.YMin*h),
		int(d.XMax*w), int(d.YMax*h),
	).Canon()
}

// BoundingBox returns the detection as a pixel-space box of a width x height
// frame, labelled with its class name.
func (d Detection) BoundingBox(width, height int) common.BoundingBox {
	w, h := float32(width), float32(height)
	return common.BoundingBox{
		Label:      LabelName(d.Label),
		Confidence: d.Confidence,
		X1:         d.XMin * w,
		Y1:         d.YMin * h,
		X2:         d.XMax * w,
		Y2:         d.YMax * h,
	}
}

func (d Detection) String() string {
	return fmt.Sprintf("label %d (%s) confidence %.3f box (%.3f, %.3f)-(%.3f, %.3f)",
		d.Label, LabelName(d.Label), d.Confidence, d.XMin, d.YMin, d.XMax, d.YMax)
}

// ParseDetections decodes an SSD DetectionOutput tensor of shape
// [1, 1, N, 7]. Records with a negative image id or zero confidence are
// skipped; coordinates are clamped to [0,1].
//
// Arguments:
//   - t: The output tensor.
//
// Returns:
//   - []Detection: The detections in output order.
//   - error: ErrInvalidArgument if the tensor is not 4-D with a last dimension of 7.
func ParseDetections(t *tensor.Dense) ([]Detection, error) {
	if t == nil {
		return nil, errors.Wrap(surface.ErrInvalidArgument, "nil output tensor")
	}
	shape := t.Shape()
	if len(shape) != 4 || shape[3] != ObjectSize {
		return nil, errors.Wrapf(surface.ErrInvalidArgument, "output shape %v, want [1 1 N %d]", shape, ObjectSize)
	}
	data, ok := t.Data().([]float32)
	if !ok {
		return nil, errors.Wrapf(surface.ErrInvalidArgument, "output type %v, want float32", t.Dtype())
	}
	return parseRecords(data), nil
}

func parseRecords(data []float32) []Detection {
	var out []Detection
	for i := 0; i+ObjectSize <= len(data); i += ObjectSize {
		rec := data[i : i+ObjectSize]
		imageID, confidence := int(rec[0]), rec[2]
		if rec[0] < 0 || confidence == 0 {
			continue
		}
		out = append(out, Detection{
			ImageID:    imageID,
			Label:      int(rec[1]),
			Confidence: confidence,
			XMin:       clamp01(rec[3]),
			YMin:       clamp01(rec[4]),
			XMax:       clamp01(rec[5]),
			YMax:       clamp01(rec[6]),
		})
	}
	return out
}

func clamp01(v float32) float32 {
	if math32.IsNaN(v) {
		return 0
	}
	return math32.Max(0, math32.Min(1, v))
}

// NewOutputTensor wraps detection records in a [1, 1, N, 7] tensor.
func NewOutputTensor(records []float32) *tensor.Dense {
	n := len(records) / ObjectSize
	return tensor.New(
		tensor.WithShape(1, 1, n, ObjectSize),
		tensor.Of(tensor.Float32),
		tensor.WithBacking(records[:n*ObjectSize]),
	)
}
