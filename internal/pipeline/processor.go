package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MeKo-Tech/eventshot/internal/composite"
	"github.com/MeKo-Tech/eventshot/internal/crop"
	"github.com/MeKo-Tech/eventshot/internal/enhance"
	"github.com/MeKo-Tech/eventshot/internal/face"
	"github.com/MeKo-Tech/eventshot/internal/lut"
	"github.com/MeKo-Tech/eventshot/internal/mask"
	"github.com/MeKo-Tech/eventshot/internal/utils"
	"github.com/MeKo-Tech/eventshot/internal/watermark"
)

// Result is the output of one successful pass through the image stages.
type Result struct {
	Image          *image.NRGBA
	Faces          []face.Region
	Crop           crop.Spec
	Candidate      string
	FellBack       bool
	MaskCoverage   float64
	StageDurations map[Stage]time.Duration
}

// Processor runs Enhancing through Watermarking for one image. It holds only
// read-only collaborators and may be shared by all workers.
type Processor struct {
	detector     face.Detector
	enhancer     enhance.Strategy
	maskOpts     mask.Options
	grade        *lut.CubeLUT
	lutIntensity float64
	cropper      *crop.Cropper
	watermark    *watermark.Compositor
	logger       *slog.Logger
}

// Builder assembles a Processor.
type Builder struct {
	p   Processor
	err error
}

// NewBuilder starts with no face protection, a disabled enhancer, no LUT,
// default print crop and no watermark.
func NewBuilder() *Builder {
	return &Builder{p: Processor{
		detector:     face.NoopDetector{},
		enhancer:     enhance.Disabled{},
		maskOpts:     mask.DefaultOptions(),
		lutIntensity: 1,
	}}
}

// WithDetector sets the face detector. nil disables face protection.
func (b *Builder) WithDetector(d face.Detector) *Builder {
	if d == nil {
		d = face.NoopDetector{}
	}
	b.p.detector = d
	return b
}

// WithEnhancer sets the candidate strategy.
func (b *Builder) WithEnhancer(s enhance.Strategy) *Builder {
	if s != nil {
		b.p.enhancer = s
	}
	return b
}

// WithMaskOptions sets padding and feather widths.
func (b *Builder) WithMaskOptions(o mask.Options) *Builder {
	if err := o.Validate(); err != nil && b.err == nil {
		b.err = fmt.Errorf("%w: mask: %w", ErrConfigInvalid, err)
	}
	b.p.maskOpts = o
	return b
}

// WithLUT enables grading with l at the given intensity in [0,1].
func (b *Builder) WithLUT(l *lut.CubeLUT, intensity float64) *Builder {
	if (intensity < 0 || intensity > 1) && b.err == nil {
		b.err = fmt.Errorf("%w: lut intensity must be in [0,1], got %g", ErrConfigInvalid, intensity)
	}
	b.p.grade = l
	b.p.lutIntensity = intensity
	return b
}

// WithCropper sets the auto-cropper.
func (b *Builder) WithCropper(c *crop.Cropper) *Builder {
	b.p.cropper = c
	return b
}

// WithWatermark enables the watermark stage.
func (b *Builder) WithWatermark(w *watermark.Compositor) *Builder {
	b.p.watermark = w
	return b
}

// WithLogger sets the logger.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.p.logger = l
	return b
}

// Build returns the configured Processor.
func (b *Builder) Build() (*Processor, error) {
	if b.err != nil {
		return nil, b.err
	}
	p := b.p
	if p.cropper == nil {
		c, err := crop.New(crop.DefaultConfig())
		if err != nil {
			return nil, fmt.Errorf("%w: crop: %w", ErrConfigInvalid, err)
		}
		p.cropper = c
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return &p, nil
}

// EnhancerName reports the configured strategy.
func (p *Processor) EnhancerName() string { return p.enhancer.Name() }

// Close releases the face detector.
func (p *Processor) Close() error { return p.detector.Close() }

// Process runs the image stages in order, calling onStage (if set) as each
// stage starts. Every error is a *StageError naming the failing stage.
func (p *Processor) Process(ctx context.Context, img image.Image, onStage func(Stage)) (*Result, error) {
	res := &Result{StageDurations: make(map[Stage]time.Duration, 5)}
	enter := func(s Stage) (func(), error) {
		if err := ctx.Err(); err != nil {
			return nil, NewStageError(s, err)
		}
		if onStage != nil {
			onStage(s)
		}
		start := time.Now()
		return func() { res.StageDurations[s] = time.Since(start) }, nil
	}

	done, err := enter(Enhancing)
	if err != nil {
		return nil, err
	}
	cand, m, err := p.enhance(ctx, img, res)
	if err != nil {
		return nil, NewStageError(Enhancing, err)
	}
	defer m.Release()
	done()

	if done, err = enter(Compositing); err != nil {
		return nil, err
	}
	var composited *image.NRGBA
	if cand.Identity {
		composited = utils.ToNRGBA(img)
	} else {
		composited, err = composite.Blend(img, cand.Image, m)
		if err != nil {
			return nil, NewStageError(Compositing, err)
		}
	}
	done()

	if done, err = enter(Grading); err != nil {
		return nil, err
	}
	graded := composited
	if p.grade != nil && p.lutIntensity > 0 {
		graded = p.grade.Apply(composited, p.lutIntensity)
	}
	done()

	if done, err = enter(Cropping); err != nil {
		return nil, err
	}
	cropped, spec, err := p.cropper.Apply(graded)
	if err != nil {
		return nil, NewStageError(Cropping, err)
	}
	res.Crop = spec
	done()

	if done, err = enter(Watermarking); err != nil {
		return nil, err
	}
	final := cropped
	if p.watermark != nil {
		final = p.watermark.Apply(cropped)
	}
	done()

	res.Image = final
	return res, nil
}

// enhance overlaps face detection and mask building with candidate
// production; both read the same immutable input.
func (p *Processor) enhance(ctx context.Context, img image.Image, res *Result) (enhance.Candidate, *mask.Mask, error) {
	b := img.Bounds()
	if b.Empty() {
		return enhance.Candidate{}, nil, errors.New("empty image")
	}

	if _, ok := p.enhancer.(enhance.Disabled); ok {
		// identity candidates skip compositing, so no mask is needed
		cand, err := p.enhancer.ProduceCandidate(ctx, img)
		if err != nil {
			return enhance.Candidate{}, nil, err
		}
		res.Candidate = cand.Source
		return cand, nil, nil
	}

	var (
		regions []face.Region
		m       *mask.Mask
		cand    enhance.Candidate
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		regions, err = p.detector.Detect(gctx, img)
		if err != nil {
			return fmt.Errorf("face detection: %w", err)
		}
		m = mask.Build(b.Dx(), b.Dy(), regions, p.maskOpts)
		return nil
	})
	g.Go(func() error {
		var err error
		cand, err = p.enhancer.ProduceCandidate(gctx, img)
		return err
	})
	if err := g.Wait(); err != nil {
		if m != nil {
			m.Release()
		}
		return enhance.Candidate{}, nil, err
	}

	res.Faces = regions
	res.Candidate = cand.Source
	res.FellBack = cand.FellBack
	res.MaskCoverage = m.Coverage()
	if len(regions) > 0 {
		p.logger.Debug("Faces protected", "faces", len(regions), "coverage", res.MaskCoverage)
	}
	return cand, m, nil
}
