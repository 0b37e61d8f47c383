package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/eventshot/internal/archive"
	"github.com/MeKo-Tech/eventshot/internal/config"
	"github.com/MeKo-Tech/eventshot/internal/crop"
	"github.com/MeKo-Tech/eventshot/internal/delivery"
	"github.com/MeKo-Tech/eventshot/internal/enhance"
	"github.com/MeKo-Tech/eventshot/internal/face"
	"github.com/MeKo-Tech/eventshot/internal/lut"
	"github.com/MeKo-Tech/eventshot/internal/onnx"
	"github.com/MeKo-Tech/eventshot/internal/pipeline"
	"github.com/MeKo-Tech/eventshot/internal/watermark"
)

// errItemsFailed is returned by process when at least one item failed.
var errItemsFailed = errors.New("some items failed")

// exitCode maps errors to process exit codes: 2 for configuration and
// startup errors, 1 otherwise.
func exitCode(err error) int {
	if errors.Is(err, pipeline.ErrConfigInvalid) || pipeline.IsFatal(err) {
		return 2
	}
	return 1
}

// components are the long-lived collaborators of one run.
type components struct {
	detector  face.Detector
	processor *pipeline.Processor
	deliverer delivery.Deliverer
	archiver  archive.Archiver
	usesONNX  bool
}

func (c *components) Close() {
	switch {
	case c.processor != nil:
		_ = c.processor.Close()
	case c.detector != nil:
		_ = c.detector.Close()
	}
	if c.archiver != nil {
		_ = c.archiver.Close()
	}
	if c.usesONNX {
		_ = onnx.Shutdown()
	}
}

// buildComponents loads models and assets. Any failure here aborts before
// the first item is discovered.
func buildComponents(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *components, err error) {
	c := &components{}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	if err := cfg.Directories.EnsureDirs(); err != nil {
		return nil, pipeline.NewFatalStartup("directories", err)
	}

	if cfg.Face.Enabled {
		fc := cfg.Face.Config
		fc.ModelPath = cfg.FaceModelPath()
		d, err := face.NewDetector(fc, cfg.ONNXLibraryPath)
		if err != nil {
			return nil, pipeline.NewFatalStartup("face detector", err)
		}
		c.detector = d
		c.usesONNX = true
	}

	strategy, err := buildStrategy(cfg, logger)
	if err != nil {
		return nil, err
	}

	b := pipeline.NewBuilder().
		WithDetector(c.detector).
		WithEnhancer(strategy).
		WithMaskOptions(cfg.Mask).
		WithLogger(logger)

	if cfg.LUT.Path != "" {
		l, err := lut.Load(cfg.LUT.Path)
		if err != nil {
			return nil, pipeline.NewFatalStartup("lut", err)
		}
		b.WithLUT(l, cfg.LUT.Intensity)
	}

	cropper, err := crop.New(cfg.Crop)
	if err != nil {
		return nil, fmt.Errorf("%w: crop: %w", pipeline.ErrConfigInvalid, err)
	}
	b.WithCropper(cropper)

	if cfg.Watermark.Path != "" {
		asset, err := watermark.Load(cfg.Watermark.Path)
		if err != nil {
			return nil, pipeline.NewFatalStartup("watermark", err)
		}
		wm, err := watermark.New(asset, cfg.Watermark.Placement)
		if err != nil {
			return nil, pipeline.NewFatalStartup("watermark", err)
		}
		b.WithWatermark(wm)
	}

	c.processor, err = b.Build()
	if err != nil {
		return nil, err
	}

	c.deliverer, err = buildDeliverer(cfg)
	if err != nil {
		return nil, err
	}

	c.archiver, err = archive.Open(ctx, cfg.Archive)
	if err != nil {
		return nil, pipeline.NewFatalStartup("archive", err)
	}

	logger.Info("Pipeline ready",
		"enhancer", c.processor.EnhancerName(),
		"face_protection", cfg.Face.Enabled,
		"lut", cfg.LUT.Path != "",
		"watermark", cfg.Watermark.Path != "",
		"deliverer", c.deliverer.Name())
	return c, nil
}

func buildStrategy(cfg *config.Config, logger *slog.Logger) (enhance.Strategy, error) {
	mode, err := cfg.EnhanceMode()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrConfigInvalid, err)
	}
	var remote *enhance.Remote
	if mode.UsesNetwork() {
		client, err := enhance.NewHTTPClient(cfg.Enhancement.Remote, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: enhancement: %w", pipeline.ErrConfigInvalid, err)
		}
		remote = enhance.NewRemote(client, cfg.Enhancement.Remote, logger)
	}
	strategy, err := enhance.New(mode, remote, enhance.NewLocal(cfg.Enhancement.Local))
	if err != nil {
		return nil, fmt.Errorf("%w: enhancement: %w", pipeline.ErrConfigInvalid, err)
	}
	return strategy, nil
}

// buildDeliverer writes to the output directory first, then to print sheets
// and the upload endpoint when configured.
func buildDeliverer(cfg *config.Config) (delivery.Deliverer, error) {
	dlv := delivery.Multi{delivery.NewDirectoryDeliverer(cfg.Directories.Output, cfg.Delivery.Quality)}

	if cfg.Directories.Print != "" {
		long := cfg.Crop.PrintLongInches
		short := long * cfg.Crop.PortraitRatio.Value()
		p, err := delivery.NewPrintSheetDeliverer(cfg.Directories.Print, short, long)
		if err != nil {
			return nil, fmt.Errorf("%w: print: %w", pipeline.ErrConfigInvalid, err)
		}
		dlv = append(dlv, p)
	}
	if cfg.Delivery.Upload.Enabled {
		u, err := delivery.NewHTTPUploader(cfg.Delivery.Upload, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: upload: %w", pipeline.ErrConfigInvalid, err)
		}
		dlv = append(dlv, u)
	}
	if len(dlv) == 1 {
		return dlv[0], nil
	}
	return dlv, nil
}
