package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/go-va/config"
	"github.com/nvr-ai/go-va/decoder"
	"github.com/nvr-ai/go-va/inference"
	"github.com/nvr-ai/go-va/logging"
	"github.com/nvr-ai/go-va/pipeline"
	"github.com/nvr-ai/go-va/render"
	"github.com/nvr-ai/go-va/surface"
	"github.com/nvr-ai/go-va/va"
)

// run loads the configuration, wires the collaborators and processes the
// video. It returns the summary and the video output path.
func run(ctx context.Context, configPath, modelPath, videoPath string) (pipeline.Summary, string, error) {
	var summary pipeline.Summary

	cfg, err := config.Load(configPath)
	if err != nil {
		return summary, "", err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return summary, "", err
	}
	defer log.Sync()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	net, err := inference.LoadONNX(modelPath, cfg.Inference, log.Named("inference"))
	if err != nil {
		return summary, "", err
	}
	defer net.Close()

	driver, err := newDriver(cfg, log)
	if err != nil {
		return summary, "", err
	}
	vactx, err := surface.NewContext(driver,
		surface.WithLogger(log.Named("va")),
		surface.WithPoolOptions(surface.WithMaxPerKey(cfg.Pool.MaxPerKey)),
	)
	if err != nil {
		return summary, "", errors.Wrap(err, "failed to create VA context")
	}
	defer vactx.Close()

	w, h := net.InputSize()
	dec, err := newDecoder(cfg.Decoder, videoPath, vactx, w, h, log.Named("decoder"))
	if err != nil {
		return summary, "", err
	}
	defer dec.Close()

	if err := dec.Open(videoPath); err != nil {
		return summary, "", err
	}
	if err := dec.Play(); err != nil {
		return summary, "", err
	}

	loop := pipeline.DefaultConfig()
	loop.ConfidenceThreshold = cfg.Inference.ConfidenceThreshold
	p := &pipeline.Processor{
		Decoder: dec,
		Network: net,
		Open:    render.Opener(cfg.Output, log.Named("render")),
		Config:  loop,
		Logger:  log.Named("pipeline"),
	}
	summary, err = p.Run(ctx)
	if err != nil {
		return summary, "", err
	}
	log.Infow("done",
		"frames", summary.Frames,
		"detections", summary.Detections,
		"overlapping", summary.Overlapping,
		"fps", summary.FPS,
	)
	return summary, cfg.Output.Path, nil
}

// newDriver returns the VA driver selected by cfg.Driver.
func newDriver(cfg *config.Config, log *zap.SugaredLogger) (va.Driver, error) {
	switch cfg.Driver {
	case config.DriverSoftware:
		log.Warnw("using the software VA driver, frames are processed on the CPU")
		return va.NewSoftwareDriver(va.DefaultSoftwareOptions()), nil
	case config.DriverVAAPI:
		drv, err := va.NewLibVA(va.LibVAOptions{
			LibraryPath:    cfg.Device.LibVAPath,
			DRMLibraryPath: cfg.Device.DRMLibraryPath,
			RenderNode:     cfg.Device.RenderNode,
			Logger:         log.Named("libva"),
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to load libva")
		}
		return drv, nil
	default:
		return nil, errors.Errorf("unknown driver %q", cfg.Driver)
	}
}

// newDecoder picks the decoder for path. A decoder size of 0 takes the
// network input size so that frames reach the network without a resize.
func newDecoder(cfg config.DecoderConfig, path string, ctx *surface.Context, netWidth, netHeight int, log *zap.SugaredLogger) (decoder.Decoder, error) {
	dc := cfg.Config
	if dc.Width == 0 {
		dc.Width = netWidth
	}
	if dc.Height == 0 {
		dc.Height = netHeight
	}

	kind := cfg.Kind
	if kind == config.DecoderAuto || kind == "" {
		kind = config.DecoderGStreamer
		if decoder.IsSynthetic(path) {
			kind = config.DecoderSynthetic
		}
	}

	switch kind {
	case config.DecoderSynthetic:
		return decoder.NewSynthetic(ctx, dc, log), nil
	case config.DecoderGStreamer:
		return decoder.NewGStreamer(ctx, dc, log), nil
	default:
		return nil, errors.Errorf("unknown decoder kind %q", cfg.Kind)
	}
}
