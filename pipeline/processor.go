// Package pipeline runs decoded frames through a detection network and writes
// the annotated results.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-va/common"
	"github.com/nvr-ai/go-va/decoder"
	"github.com/nvr-ai/go-va/inference"
	"github.com/nvr-ai/go-va/profiler"
	"github.com/nvr-ai/go-va/render"
	"github.com/nvr-ai/go-va/surface"
)

// Config holds the loop settings.
type Config struct {
	// ConfidenceThreshold is the minimum confidence of a drawn detection.
	ConfidenceThreshold float32 `json:"confidenceThreshold" yaml:"confidenceThreshold"`
	// OverlapThreshold is the IoU at which a drawn detection is reported as
	// overlapping an earlier one of the same class. Zero disables the report.
	OverlapThreshold float32 `json:"overlapThreshold" yaml:"overlapThreshold"`
}

// DefaultConfig returns the default loop configuration.
func DefaultConfig() Config {
	return Config{ConfidenceThreshold: 0.5, OverlapThreshold: 0.5}
}

// Summary reports a finished run.
type Summary struct {
	// Frames is the number of frames written.
	Frames int
	// Detections is the number of drawn detections over all frames.
	Detections int
	// Overlapping counts drawn detections that overlap an earlier detection of
	// the same class in their frame by at least Config.OverlapThreshold.
	Overlapping int
	// FPS is the processing throughput in frames per second.
	FPS float64
	// Timings holds the per-stage durations of the loop.
	Timings []profiler.Timing
}

func (s Summary) String() string {
	return fmt.Sprintf("Processed %d frames.", s.Frames)
}

// Processor drives Decoder frames through Network into the outputs opened by
// Open. The caller owns Decoder and Network; they must be opened and playing
// before Run.
type Processor struct {
	Decoder decoder.Decoder
	Network inference.Network
	Open    render.OpenFunc
	Config  Config
	Logger  *zap.SugaredLogger
	// Profiler receives the stage timings. A nil Profiler is replaced by a
	// fresh one per run.
	Profiler *profiler.Profiler
}

// Run processes frames until the decoder reports end of stream or ctx is done.
//
// Arguments:
//   - ctx: Cancels the run between frames.
//
// Returns:
//   - Summary: The frames processed so far, also on error.
//   - error: The decoder failure, the first frame failure, or ctx.Err().
func (p *Processor) Run(ctx context.Context) (summary Summary, err error) {
	if p.Decoder == nil || p.Network == nil || p.Open == nil {
		return summary, errors.Wrap(surface.ErrInvalidArgument, "processor needs a decoder, a network and an output")
	}
	log := p.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	prof := p.Profiler
	if prof == nil {
		prof = profiler.New()
	}

	start := time.Now()
	defer func() {
		if elapsed := time.Since(start).Seconds(); elapsed > 0 {
			summary.FPS = float64(summary.Frames) / elapsed
		}
		summary.Timings = prof.Timings()
		prof.Report(log)
	}()

	img, ok := p.read(prof)
	if !ok {
		return summary, errors.Wrap(p.Decoder.Err(), "failed to read first frame")
	}

	if acc, ok := p.Network.(surface.Accelerator); ok {
		if err := p.Decoder.Context().CreateSharedContext(acc); err != nil {
			img.Close()
			return summary, err
		}
	}

	w, err := p.Open(p.Decoder.FPS(), img.Width(), img.Height())
	if err != nil {
		img.Close()
		return summary, errors.Wrap(err, "failed to open output")
	}
	defer func() {
		err = multierr.Append(err, w.Close())
	}()

	for {
		n, overlapping, err := p.process(ctx, log, prof, img, summary.Frames, w)
		if err != nil {
			return summary, err
		}
		summary.Frames++
		summary.Detections += n
		summary.Overlapping += overlapping

		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if img, ok = p.read(prof); !ok {
			break
		}
	}

	if err := p.Decoder.Err(); err != nil {
		return summary, errors.Wrapf(err, "decoding stopped after %d frames", summary.Frames)
	}
	log.Infow("end of stream",
		"frames", summary.Frames,
		"detections", summary.Detections,
		"overlapping", summary.Overlapping,
	)
	return summary, nil
}

func (p *Processor) read(prof *profiler.Profiler) (*surface.Image, bool) {
	defer prof.StartOperation("read")()
	return p.Decoder.Read()
}

// process runs one frame through the network and writes it. It returns the
// number of drawn and of overlapping detections. img is closed before
// returning.
func (p *Processor) process(ctx context.Context, log *zap.SugaredLogger, prof *profiler.Profiler, img *surface.Image, index int, w render.Writer) (int, int, error) {
	defer img.Close()

	done := prof.StartOperation("set_input")
	err := p.Network.SetInput(img)
	done()
	if err != nil {
		return 0, 0, errors.Wrapf(err, "frame %d: failed to set input", index)
	}

	done = prof.StartOperation("infer")
	err = p.Network.Infer(ctx)
	done()
	if err != nil {
		return 0, 0, errors.Wrapf(err, "frame %d: inference failed", index)
	}

	out, err := p.Network.Output(p.Network.OutputName())
	if err != nil {
		return 0, 0, errors.Wrapf(err, "frame %d", index)
	}
	dets, err := inference.ParseDetections(out)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "frame %d", index)
	}

	done = prof.StartOperation("copy_to_mat")
	mat, err := img.CopyToMat(surface.ConvertToBGR)
	done()
	if err != nil {
		return 0, 0, errors.Wrapf(err, "frame %d", index)
	}
	defer mat.Close()

	done = prof.StartOperation("annotate")
	boxes := render.Annotate(&mat, dets, p.Config.ConfidenceThreshold)
	done()
	prof.RecordMetric("detections", float64(len(boxes)))
	prof.RecordMetric("pool_in_use", float64(img.Context().Pool().Stats().InUse))
	info := img.Info()
	drawn, overlapping := 0, 0
	for i, d := range dets {
		if d.Confidence <= p.Config.ConfidenceThreshold {
			continue
		}
		b := boxes[drawn]
		iou := maxOverlap(boxes[:drawn], &b)
		drawn++
		if p.Config.OverlapThreshold > 0 && iou >= p.Config.OverlapThreshold {
			overlapping++
		}
		log.Infow("detection",
			"frame", index,
			"proposal", i,
			"label", d.Label,
			"class", b.Label,
			"confidence", d.Confidence,
			"box", b.ToRect().String(),
			"max_iou", iou,
			"trace_id", info.TraceID.String(),
		)
	}

	done = prof.StartOperation("write")
	err = w.Write(render.Frame{Mat: &mat, Index: index, TraceID: info.TraceID, Boxes: boxes})
	done()
	if err != nil {
		return 0, 0, errors.Wrapf(err, "frame %d", index)
	}
	return len(boxes), overlapping, nil
}

// maxOverlap returns the highest IoU of b with the boxes of the same class in
// earlier.
func maxOverlap(earlier []common.BoundingBox, b *common.BoundingBox) float32 {
	var best float32
	for i := range earlier {
		if earlier[i].Label != b.Label {
			continue
		}
		best = max(best, earlier[i].IoU(b))
	}
	return best
}
