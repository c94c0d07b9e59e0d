package render

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/chai2010/webp"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-va/inference"
)

func TestAnnotateDrawsAboveThreshold(t *testing.T) {
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 360, 640, gocv.MatTypeCV8UC3)
	defer mat.Close()

	dets := []inference.Detection{
		{Label: 1, Confidence: 0.9, XMin: 0.1, YMin: 0.1, XMax: 0.5, YMax: 0.5},
		{Label: 3, Confidence: 0.5, XMin: 0.6, YMin: 0.6, XMax: 0.9, YMax: 0.9},
		{Label: 3, Confidence: 0.2, XMin: 0.6, YMin: 0.1, XMax: 0.9, YMax: 0.3},
	}
	boxes := Annotate(&mat, dets, 0.5)
	require.Len(t, boxes, 1)
	assert.Equal(t, "person", boxes[0].Label)
	assert.InDelta(t, 64, boxes[0].X1, 0.01)

	// Left edge of the drawn rectangle, BGR order.
	px := mat.GetVecbAt(100, 64)
	assert.Equal(t, uint8(0), px[0])
	assert.Equal(t, uint8(0), px[1])
	assert.Equal(t, uint8(255), px[2])

	// The filtered detection left its area untouched.
	px = mat.GetVecbAt(int(0.6*360), int(0.6*640))
	assert.Equal(t, uint8(0), px[2])
}

func TestAnnotateNothing(t *testing.T) {
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 36, 64, gocv.MatTypeCV8UC3)
	defer mat.Close()
	assert.Empty(t, Annotate(&mat, nil, 0.5))
}

type recordingWriter struct {
	frames []int
	closed int
	err    error
}

func (r *recordingWriter) Write(f Frame) error {
	if r.err != nil {
		return r.err
	}
	r.frames = append(r.frames, f.Index)
	return nil
}

func (r *recordingWriter) Close() error {
	r.closed++
	return r.err
}

func TestMultiWriter(t *testing.T) {
	a, b := &recordingWriter{}, &recordingWriter{}
	w := MultiWriter(a, b)
	require.NoError(t, w.Write(Frame{Index: 0}))
	require.NoError(t, w.Write(Frame{Index: 1}))
	assert.Equal(t, []int{0, 1}, a.frames)
	assert.Equal(t, []int{0, 1}, b.frames)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.Equal(t, 1, a.closed)
}

func TestMultiWriterErrors(t *testing.T) {
	boom := errors.New("disk full")
	a, b := &recordingWriter{err: boom}, &recordingWriter{}
	w := MultiWriter(a, b)

	assert.Equal(t, boom, w.Write(Frame{}))
	assert.Empty(t, b.frames, "write stops at the first failure")

	err := w.Close()
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, 1, b.closed, "every writer is closed")
}

func TestSnapshotWriter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snaps")
	sw, err := NewSnapshotWriter(dir, 0)
	require.NoError(t, err)

	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 24, 32, gocv.MatTypeCV8UC3)
	defer mat.Close()
	f := Frame{Mat: &mat, Index: 3, TraceID: uuid.New()}
	require.NoError(t, sw.Write(f))
	require.NoError(t, sw.Close())

	data, err := os.ReadFile(sw.Path(f))
	require.NoError(t, err)
	img, err := webp.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
	assert.Equal(t, 24, img.Bounds().Dy())

	assert.Error(t, sw.Write(Frame{Index: 4}))
}

func TestVideoWriterRejectsInvalidSize(t *testing.T) {
	_, err := NewVideoWriter(filepath.Join(t.TempDir(), "out.avi"), 0, 640, 360)
	assert.Error(t, err)
}

func TestOpenerWithoutOutputs(t *testing.T) {
	w, err := Opener(Config{}, nil)(25, 64, 36)
	require.NoError(t, err)
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 36, 64, gocv.MatTypeCV8UC3)
	defer mat.Close()
	assert.NoError(t, w.Write(Frame{Mat: &mat}))
	assert.NoError(t, w.Close())
}
