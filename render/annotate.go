// Package render - Frame annotation and output writers.
package render

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-va/common"
	"github.com/nvr-ai/go-va/inference"
)

var (
	// BoxColor is the colour of detection rectangles, pure red.
	BoxColor = color.RGBA{R: 255, G: 0, B: 0, A: 0}
	// BoxThickness is the line width of detection rectangles.
	BoxThickness = 2
)

// Annotate draws every detection whose confidence exceeds threshold onto mat.
//
// Arguments:
//   - mat: The BGR frame to draw on.
//   - dets: The detections with normalised coordinates.
//   - threshold: Detections at or below this confidence are not drawn.
//
// Returns:
//   - []common.BoundingBox: The drawn boxes in pixel coordinates of mat.
func Annotate(mat *gocv.Mat, dets []inference.Detection, threshold float32) []common.BoundingBox {
	width, height := mat.Cols(), mat.Rows()
	var drawn []common.BoundingBox
	for _, d := range dets {
		if d.Confidence <= threshold {
			continue
		}
		rect := d.Rect(width, height)
		gocv.Rectangle(mat, rect, BoxColor, BoxThickness)

		label := fmt.Sprintf("%s %.2f", inference.LabelName(d.Label), d.Confidence)
		org := image.Pt(rect.Min.X, max(rect.Min.Y-4, 12))
		gocv.PutText(mat, label, org, gocv.FontHersheyPlain, 1.0, BoxColor, 1)

		drawn = append(drawn, d.BoundingBox(width, height))
	}
	return drawn
}
