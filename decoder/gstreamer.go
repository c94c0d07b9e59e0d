package decoder

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-va/fourcc"
	"github.com/nvr-ai/go-va/surface"
)

const (
	sourceName = "src"
	sinkName   = "sink"
)

// GStreamer decodes media files with a GStreamer pipeline. Decoding and
// scaling run in vaapipostproc when the VA-API plugins are installed and in
// videoconvert/videoscale otherwise; either way the appsink receives NV12 that
// is uploaded into pool surfaces of the decoder's context.
type GStreamer struct {
	machine

	ctx *surface.Context
	cfg Config
	log *zap.SugaredLogger

	closeOnce  sync.Once
	pipeline   *gst.Pipeline
	sink       *app.Sink
	usingVAAPI bool

	seq    int
	fps    float64
	width  int
	height int
	format fourcc.FourCC
}

// NewGStreamer creates a GStreamer decoder bound to ctx. The decoder holds a
// reference on ctx until Close.
func NewGStreamer(ctx *surface.Context, cfg Config, log *zap.SugaredLogger) *GStreamer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &GStreamer{
		ctx: ctx.Retain(),
		cfg: cfg,
		log: log.With("decoder", "gstreamer"),
	}
}

// launchLine returns the pipeline description for the given output size. Zero
// sizes keep the decoded size.
func launchLine(width, height int, vaapi bool) string {
	caps := "video/x-raw,format=NV12"
	if width > 0 {
		caps += fmt.Sprintf(",width=%d", width)
	}
	if height > 0 {
		caps += fmt.Sprintf(",height=%d", height)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "filesrc name=%s ! decodebin ! ", sourceName)
	if vaapi {
		b.WriteString("vaapipostproc format=nv12")
		if width > 0 {
			fmt.Fprintf(&b, " width=%d", width)
		}
		if height > 0 {
			fmt.Fprintf(&b, " height=%d", height)
		}
		b.WriteString(" scale-method=2 ! videoconvert ! ")
	} else {
		b.WriteString("videoconvert ! videoscale ! ")
	}
	fmt.Fprintf(&b, "%s ! queue ! appsink name=%s sync=false max-buffers=4 drop=false", caps, sinkName)
	return b.String()
}

// Open implements Decoder. The file must exist; the pipeline is built and
// paused so caps negotiation can start.
func (g *GStreamer) Open(path string) error {
	if g.State() != StateUnopened {
		return errors.Wrapf(ErrInvalidState, "open in state %s", g.State())
	}
	if _, err := os.Stat(path); err != nil {
		return errors.Wrapf(surface.ErrInvalidArgument, "open %q: %v", path, err)
	}

	gst.Init(nil)

	pipeline, vaapi, err := buildPipeline(g.cfg.Width, g.cfg.Height, g.log)
	if err != nil {
		return err
	}
	src, err := pipeline.GetElementByName(sourceName)
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return errors.Wrap(err, "failed to find file source")
	}
	if err := src.SetProperty("location", path); err != nil {
		pipeline.SetState(gst.StateNull)
		return errors.Wrap(err, "failed to set file location")
	}
	sinkElem, err := pipeline.GetElementByName(sinkName)
	if err != nil {
		pipeline.SetState(gst.StateNull)
		return errors.Wrap(err, "failed to find appsink")
	}

	if err := g.transition("open", StateUnopened, StateOpened); err != nil {
		pipeline.SetState(gst.StateNull)
		return err
	}
	g.pipeline = pipeline
	g.sink = app.SinkFromElement(sinkElem)
	g.usingVAAPI = vaapi

	if err := pipeline.SetState(gst.StatePaused); err != nil {
		g.log.Warnw("failed to pause pipeline", "error", err)
	}
	g.log.Infow("opened media pipeline", "path", path, "vaapi", vaapi,
		"width", g.cfg.Width, "height", g.cfg.Height)
	return nil
}

// buildPipeline parses the VA-API pipeline and falls back to the software one
// when the VA-API elements are missing.
func buildPipeline(width, height int, log *zap.SugaredLogger) (*gst.Pipeline, bool, error) {
	pipeline, err := gst.NewPipelineFromString(launchLine(width, height, true))
	if err == nil {
		return pipeline, true, nil
	}
	log.Warnw("vaapipostproc unavailable, using software conversion", "error", err)

	pipeline, err = gst.NewPipelineFromString(launchLine(width, height, false))
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to create decode pipeline")
	}
	return pipeline, false, nil
}

// Play implements Decoder.
func (g *GStreamer) Play() error {
	if err := g.transition("play", StateOpened, StatePlaying); err != nil {
		return err
	}
	if err := g.pipeline.SetState(gst.StatePlaying); err != nil {
		g.finish(errors.Wrap(err, "failed to start pipeline"))
		g.teardown()
		return g.Err()
	}
	return nil
}

// Read implements Decoder. A nil sample means end of stream unless the bus
// carries an error.
func (g *GStreamer) Read() (*surface.Image, bool) {
	if !g.readable() {
		return nil, false
	}

	sample := g.sink.PullSample()
	if sample == nil {
		err := g.busError()
		if err == nil {
			g.log.Infow("end of stream", "frames", g.seq)
		}
		g.stop(err)
		return nil, false
	}

	if g.seq == 0 {
		if err := g.negotiated(sample.GetCaps()); err != nil {
			g.stop(err)
			return nil, false
		}
	}

	img, err := g.upload(sample.GetBuffer())
	if err != nil {
		g.stop(errors.Wrapf(err, "frame %d", g.seq))
		return nil, false
	}
	img.SetInfo(surface.FrameInfo{
		Sequence: g.seq,
		TraceID:  uuid.New(),
		PTS:      time.Duration(float64(g.seq) / g.fps * float64(time.Second)),
	})
	g.seq++
	return img, true
}

// negotiated records the output size, format and frame rate from the caps of
// the first sample.
func (g *GStreamer) negotiated(caps *gst.Caps) error {
	if caps == nil || caps.GetSize() == 0 {
		return errors.New("first sample carries no caps")
	}
	st := caps.GetStructureAt(0)
	if v, err := st.GetValue("width"); err == nil {
		g.width, _ = v.(int)
	}
	if v, err := st.GetValue("height"); err == nil {
		g.height, _ = v.(int)
	}
	format := "NV12"
	if v, err := st.GetValue("format"); err == nil {
		if s, ok := v.(string); ok {
			format = s
		}
	}
	f, err := fourcc.Parse(format)
	if err != nil || !f.IsYUV420() {
		return errors.Wrapf(surface.ErrInvalidArgument, "negotiated format %s", format)
	}
	g.format = f
	if g.width <= 0 || g.height <= 0 {
		return errors.Errorf("negotiated size %dx%d", g.width, g.height)
	}

	g.fps = parseFramerate(caps.String())
	if g.fps <= 0 {
		g.fps = g.cfg.FrameRate
	}
	if g.fps <= 0 {
		g.fps = DefaultConfig().FrameRate
	}
	g.log.Infow("negotiated output", "width", g.width, "height", g.height,
		"format", g.format.String(), "fps", g.fps)
	return nil
}

var framerateRe = regexp.MustCompile(`framerate=\(fraction\)(\d+)/(\d+)`)

// parseFramerate extracts the frame rate from a caps string, or 0.
func parseFramerate(caps string) float64 {
	m := framerateRe.FindStringSubmatch(caps)
	if m == nil {
		return 0
	}
	num, _ := strconv.Atoi(m[1])
	den, _ := strconv.Atoi(m[2])
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// rawLayout returns the strides and plane offsets GStreamer uses for
// system-memory 4:2:0 video: rows padded to four bytes, the luma plane
// padded to an even row count, planes packed.
func rawLayout(format fourcc.FourCC, width, height int) (strides, offsets [3]int) {
	round4 := func(v int) int { return (v + 3) &^ 3 }
	cw, ch := (width+1)/2, (height+1)/2
	lumaRows := 2 * ch
	switch format {
	case fourcc.NV12:
		strides = [3]int{round4(width), round4(2 * cw)}
		offsets[1] = strides[0] * lumaRows
	default:
		strides = [3]int{round4(width), round4(cw), round4(cw)}
		offsets[1] = strides[0] * lumaRows
		offsets[2] = offsets[1] + strides[1]*ch
	}
	return strides, offsets
}

// upload copies a decoded buffer into a pool surface.
func (g *GStreamer) upload(buf *gst.Buffer) (*surface.Image, error) {
	if buf == nil {
		return nil, errors.New("sample carries no buffer")
	}
	info := buf.Map(gst.MapRead)
	defer buf.Unmap()
	data := info.Bytes()

	strides, offsets := rawLayout(g.format, g.width, g.height)
	planes, err := surface.SplitPlanes(g.format, g.width, g.height, data, strides, offsets)
	if err != nil {
		return nil, err
	}
	img, err := g.ctx.Pool().AcquireImage(g.ctx, g.width, g.height, g.format)
	if err != nil {
		return nil, err
	}
	if err := img.WritePlanes(planes); err != nil {
		img.Close()
		return nil, err
	}
	return img, nil
}

// busError drains pending bus messages and returns the first pipeline error.
func (g *GStreamer) busError() error {
	bus := g.pipeline.GetPipelineBus()
	for {
		msg := bus.TimedPop(0)
		if msg == nil {
			return nil
		}
		if msg.Type() == gst.MessageError {
			gerr := msg.ParseError()
			g.log.Errorw("pipeline error", "error", gerr.Error(), "debug", gerr.DebugString())
			return errors.Errorf("pipeline error: %s", gerr.Error())
		}
	}
}

// stop ends the stream and releases the pipeline.
func (g *GStreamer) stop(err error) {
	if g.finish(err) {
		g.teardown()
	}
}

func (g *GStreamer) teardown() {
	if g.pipeline == nil {
		return
	}
	if err := g.pipeline.SetState(gst.StateNull); err != nil {
		g.log.Warnw("failed to stop pipeline", "error", err)
	}
}

// FPS implements Decoder.
func (g *GStreamer) FPS() float64 {
	return g.fps
}

// Context implements Decoder.
func (g *GStreamer) Context() *surface.Context {
	return g.ctx
}

// UsingVAAPI reports whether the pipeline scales with vaapipostproc.
func (g *GStreamer) UsingVAAPI() bool {
	return g.usingVAAPI
}

// Close implements Decoder.
func (g *GStreamer) Close() error {
	if g.finish(nil) {
		g.teardown()
	}
	g.closeOnce.Do(func() {
		g.ctx.Close()
	})
	return nil
}
