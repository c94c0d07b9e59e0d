package decoder

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-va/fourcc"
	"github.com/nvr-ai/go-va/surface"
)

// SyntheticScheme prefixes paths handled by the synthetic decoder, as in
// "synthetic://10".
const SyntheticScheme = "synthetic://"

const (
	defaultSyntheticWidth  = 640
	defaultSyntheticHeight = 360
)

// Synthetic decodes a deterministic NV12 test pattern: a bright vertical bar
// moving across a grey background, one step per frame.
type Synthetic struct {
	machine

	ctx *surface.Context
	cfg Config
	log *zap.SugaredLogger

	closeOnce sync.Once
	frames    int
	seq       int
	width     int
	height    int
}

// NewSynthetic creates a synthetic decoder bound to ctx. The decoder holds a
// reference on ctx until Close.
func NewSynthetic(ctx *surface.Context, cfg Config, log *zap.SugaredLogger) *Synthetic {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = DefaultConfig().FrameRate
	}
	return &Synthetic{
		ctx: ctx.Retain(),
		cfg: cfg,
		log: log.With("decoder", "synthetic"),
	}
}

// IsSynthetic reports whether path names a synthetic source.
func IsSynthetic(path string) bool {
	return strings.HasPrefix(path, SyntheticScheme)
}

// ParseSyntheticPath returns the frame count of a "synthetic://N" path. An
// empty count selects fallback.
func ParseSyntheticPath(path string, fallback int) (int, error) {
	if !IsSynthetic(path) {
		return 0, errors.Wrapf(surface.ErrInvalidArgument, "not a synthetic source: %q", path)
	}
	rest := strings.TrimPrefix(path, SyntheticScheme)
	if rest == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, errors.Wrapf(surface.ErrInvalidArgument, "synthetic frame count %q", rest)
	}
	return n, nil
}

// Open implements Decoder.
func (s *Synthetic) Open(path string) error {
	frames, err := ParseSyntheticPath(path, s.cfg.Frames)
	if err != nil {
		return err
	}
	if err := s.transition("open", StateUnopened, StateOpened); err != nil {
		return err
	}
	s.frames = frames
	s.width, s.height = s.cfg.Width, s.cfg.Height
	if s.width <= 0 {
		s.width = defaultSyntheticWidth
	}
	if s.height <= 0 {
		s.height = defaultSyntheticHeight
	}
	s.log.Infow("opened synthetic source", "frames", s.frames, "width", s.width, "height", s.height)
	return nil
}

// Play implements Decoder.
func (s *Synthetic) Play() error {
	return s.transition("play", StateOpened, StatePlaying)
}

// Read implements Decoder.
func (s *Synthetic) Read() (*surface.Image, bool) {
	if !s.readable() {
		return nil, false
	}
	if s.seq >= s.frames {
		s.finish(nil)
		return nil, false
	}

	img, err := s.ctx.Pool().AcquireImage(s.ctx, s.width, s.height, fourcc.NV12)
	if err != nil {
		s.finish(errors.Wrap(err, "synthetic frame"))
		return nil, false
	}
	buf := pattern(s.width, s.height, s.seq)
	planes, err := surface.SplitPlanes(fourcc.NV12, s.width, s.height, buf, [3]int{}, [3]int{})
	if err == nil {
		err = img.WritePlanes(planes)
	}
	if err != nil {
		img.Close()
		s.finish(errors.Wrap(err, "synthetic frame"))
		return nil, false
	}

	img.SetInfo(surface.FrameInfo{
		Sequence: s.seq,
		TraceID:  uuid.New(),
		PTS:      time.Duration(float64(s.seq) / s.cfg.FrameRate * float64(time.Second)),
	})
	s.seq++
	return img, true
}

// pattern renders frame n of the test pattern as tightly packed NV12.
func pattern(width, height, n int) []byte {
	cw, ch := (width+1)/2, (height+1)/2
	buf := make([]byte, width*height+2*cw*ch)

	barWidth := max(width/8, 2)
	span := max(width-barWidth, 1)
	barX := (n * 8) % span
	for y := 0; y < height; y++ {
		row := buf[y*width : (y+1)*width]
		for x := range row {
			row[x] = 96
			if x >= barX && x < barX+barWidth {
				row[x] = 235
			}
		}
	}
	for i := width * height; i < len(buf); i++ {
		buf[i] = 128
	}
	return buf
}

// FPS implements Decoder.
func (s *Synthetic) FPS() float64 {
	return s.cfg.FrameRate
}

// Context implements Decoder.
func (s *Synthetic) Context() *surface.Context {
	return s.ctx
}

// Close implements Decoder.
func (s *Synthetic) Close() error {
	s.finish(nil)
	s.closeOnce.Do(func() {
		s.ctx.Close()
	})
	return nil
}
