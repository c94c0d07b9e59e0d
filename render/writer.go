package render

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/chai2010/webp"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/nvr-ai/go-va/common"
)

// Frame is an annotated frame handed to a Writer. The writer does not take
// ownership of Mat.
type Frame struct {
	Mat     *gocv.Mat
	Index   int
	TraceID uuid.UUID
	Boxes   []common.BoundingBox
}

// Writer consumes annotated frames.
type Writer interface {
	Write(f Frame) error
	Close() error
}

// OpenFunc opens the outputs once the frame rate and frame size are known.
type OpenFunc func(fps float64, width, height int) (Writer, error)

// Config selects the outputs of a run.
type Config struct {
	// Path of the MJPG AVI output. Empty disables the video.
	Path string `json:"path" yaml:"path" mapstructure:"path"`
	// SnapshotsDir receives one WebP file per frame. Empty disables snapshots.
	SnapshotsDir string `json:"snapshotsDir" yaml:"snapshotsDir" mapstructure:"snapshots_dir"`
	// SnapshotQuality is the lossy WebP quality, 0 to 100.
	SnapshotQuality float32 `json:"snapshotQuality" yaml:"snapshotQuality" mapstructure:"snapshot_quality"`
}

// DefaultConfig returns the default output configuration.
func DefaultConfig() Config {
	return Config{
		Path:            "out/hello_va_object_detection_output.avi",
		SnapshotQuality: 80,
	}
}

// Opener returns an OpenFunc for the outputs selected by cfg.
func Opener(cfg Config, log *zap.SugaredLogger) OpenFunc {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return func(fps float64, width, height int) (Writer, error) {
		var writers []Writer
		if cfg.Path != "" {
			vw, err := NewVideoWriter(cfg.Path, fps, width, height)
			if err != nil {
				return nil, err
			}
			log.Infow("writing video", "path", cfg.Path, "fps", fps, "width", width, "height", height)
			writers = append(writers, vw)
		}
		if cfg.SnapshotsDir != "" {
			sw, err := NewSnapshotWriter(cfg.SnapshotsDir, cfg.SnapshotQuality)
			if err != nil {
				for _, w := range writers {
					w.Close()
				}
				return nil, err
			}
			log.Infow("writing snapshots", "dir", cfg.SnapshotsDir)
			writers = append(writers, sw)
		}
		return MultiWriter(writers...), nil
	}
}

// VideoWriter writes frames to an MJPG AVI container.
type VideoWriter struct {
	path string
	vw   *gocv.VideoWriter
}

// NewVideoWriter creates the output file, and its directory when missing.
//
// Arguments:
//   - path: The output file.
//   - fps: The container frame rate.
//   - width: The frame width.
//   - height: The frame height.
//
// Returns:
//   - *VideoWriter: The writer.
//   - error: An error if the directory or the container cannot be created.
func NewVideoWriter(path string, fps float64, width, height int) (*VideoWriter, error) {
	if fps <= 0 || width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid video output %dx%d at %.2f fps", width, height, fps)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create output directory for %s", path)
	}
	vw, err := gocv.VideoWriterFile(path, "MJPG", fps, width, height, true)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open video output %s", path)
	}
	if !vw.IsOpened() {
		vw.Close()
		return nil, errors.Errorf("failed to open video output %s", path)
	}
	return &VideoWriter{path: path, vw: vw}, nil
}

// Write implements Writer.
func (v *VideoWriter) Write(f Frame) error {
	if f.Mat == nil || f.Mat.Empty() {
		return errors.Errorf("frame %d is empty", f.Index)
	}
	if err := v.vw.Write(*f.Mat); err != nil {
		return errors.Wrapf(err, "failed to write frame %d to %s", f.Index, v.path)
	}
	return nil
}

// Close implements Writer.
func (v *VideoWriter) Close() error {
	return v.vw.Close()
}

// SnapshotWriter stores every frame as a WebP file.
type SnapshotWriter struct {
	dir     string
	quality float32
}

// NewSnapshotWriter creates dir when missing.
func NewSnapshotWriter(dir string, quality float32) (*SnapshotWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create snapshot directory %s", dir)
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultConfig().SnapshotQuality
	}
	return &SnapshotWriter{dir: dir, quality: quality}, nil
}

// Path returns the snapshot file of frame f.
func (s *SnapshotWriter) Path(f Frame) string {
	return filepath.Join(s.dir, fmt.Sprintf("frame_%06d_%s.webp", f.Index, f.TraceID))
}

// Write implements Writer.
func (s *SnapshotWriter) Write(f Frame) error {
	if f.Mat == nil || f.Mat.Empty() {
		return errors.Errorf("frame %d is empty", f.Index)
	}
	img, err := f.Mat.ToImage()
	if err != nil {
		return errors.Wrapf(err, "failed to convert frame %d", f.Index)
	}
	out, err := os.Create(s.Path(f))
	if err != nil {
		return errors.Wrap(err, "failed to create snapshot")
	}
	if err := webp.Encode(out, img, &webp.Options{Quality: s.quality}); err != nil {
		out.Close()
		return errors.Wrapf(err, "failed to encode frame %d", f.Index)
	}
	return out.Close()
}

// Close implements Writer.
func (s *SnapshotWriter) Close() error {
	return nil
}

type multiWriter struct {
	writers []Writer
	once    sync.Once
}

// MultiWriter fans every frame out to writers. Write stops at the first error;
// Close closes all writers and combines their errors.
func MultiWriter(writers ...Writer) Writer {
	return &multiWriter{writers: writers}
}

func (m *multiWriter) Write(f Frame) error {
	for _, w := range m.writers {
		if err := w.Write(f); err != nil {
			return err
		}
	}
	return nil
}

func (m *multiWriter) Close() error {
	var err error
	m.once.Do(func() {
		for _, w := range m.writers {
			err = multierr.Append(err, w.Close())
		}
	})
	return err
}
