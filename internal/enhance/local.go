package enhance

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/anthonynsimon/bild/adjust"
	"github.com/anthonynsimon/bild/effect"
	"github.com/anthonynsimon/bild/parallel"
	"github.com/disintegration/imaging"
	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/MeKo-Tech/eventshot/internal/utils"
)

// LocalConfig holds the fixed parameters of the offline enhancement.
type LocalConfig struct {
	// SharpenAmount weights the unsharp mask: out = img + amount·(img − blur).
	SharpenAmount float64 `mapstructure:"sharpen_amount" yaml:"sharpen_amount" json:"sharpen_amount"`
	// SharpenSigma is the standard deviation of the blur in pixels.
	SharpenSigma    float64 `mapstructure:"sharpen_sigma" yaml:"sharpen_sigma" json:"sharpen_sigma"`
	ContrastLow     float64 `mapstructure:"contrast_low_percentile" yaml:"contrast_low_percentile" json:"contrast_low_percentile"`
	ContrastHigh    float64 `mapstructure:"contrast_high_percentile" yaml:"contrast_high_percentile" json:"contrast_high_percentile"`
	DenoiseRadius   float64 `mapstructure:"denoise_radius" yaml:"denoise_radius" json:"denoise_radius"`
	Saturation      float64 `mapstructure:"saturation" yaml:"saturation" json:"saturation"`
	AnalysisMaxSide int     `mapstructure:"analysis_max_side" yaml:"analysis_max_side" json:"analysis_max_side"`
}

// DefaultLocalConfig returns 1.5·img − 0.5·gauss(σ=2), a 1..99 percentile
// luminance stretch, a 3×3 median and +20% saturation.
func DefaultLocalConfig() LocalConfig {
	return LocalConfig{
		SharpenAmount:   0.5,
		SharpenSigma:    2,
		ContrastLow:     1,
		ContrastHigh:    99,
		DenoiseRadius:   1,
		Saturation:      0.2,
		AnalysisMaxSide: 256,
	}
}

// Validate checks parameter ranges.
func (c LocalConfig) Validate() error {
	if c.SharpenAmount < 0 || c.SharpenAmount > 10 {
		return fmt.Errorf("sharpen_amount must be in [0,10], got %g", c.SharpenAmount)
	}
	if c.SharpenSigma < 0 {
		return fmt.Errorf("sharpen_sigma must not be negative, got %g", c.SharpenSigma)
	}
	if c.ContrastLow < 0 || c.ContrastHigh > 100 || c.ContrastLow >= c.ContrastHigh {
		return fmt.Errorf("contrast percentiles must satisfy 0 <= low < high <= 100, got %g..%g", c.ContrastLow, c.ContrastHigh)
	}
	if c.DenoiseRadius < 0 {
		return fmt.Errorf("denoise_radius must not be negative, got %g", c.DenoiseRadius)
	}
	if c.Saturation < -1 || c.Saturation > 1 {
		return fmt.Errorf("saturation must be in [-1,1], got %g", c.Saturation)
	}
	if c.AnalysisMaxSide < 16 {
		return fmt.Errorf("analysis_max_side must be at least 16, got %d", c.AnalysisMaxSide)
	}
	return nil
}

// Local is the deterministic offline enhancement. The same input always
// yields the same output.
type Local struct {
	cfg LocalConfig
}

// NewLocal returns a Local strategy.
func NewLocal(cfg LocalConfig) *Local { return &Local{cfg: cfg} }

func (l *Local) Name() string { return ModeLocalOnly.String() }

// ProduceCandidate sharpens, stretches luminance, denoises and boosts
// saturation. ctx is checked between steps.
func (l *Local) ProduceCandidate(ctx context.Context, img image.Image) (Candidate, error) {
	steps := []func(image.Image) image.Image{
		l.sharpen,
		l.stretchContrast,
		l.denoise,
		l.saturate,
	}
	var cur image.Image = img
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return Candidate{}, err
		}
		cur = step(cur)
	}
	return Candidate{Image: utils.ToNRGBA(cur), Source: "local"}, nil
}

func (l *Local) sharpen(img image.Image) image.Image {
	if l.cfg.SharpenAmount == 0 || l.cfg.SharpenSigma == 0 {
		return img
	}
	// bild blurs with a kernel of variance 2·(5·radius).
	radius := l.cfg.SharpenSigma * l.cfg.SharpenSigma / 10
	return effect.UnsharpMask(img, radius, l.cfg.SharpenAmount)
}

// stretchContrast maps the low..high percentiles of L* onto 0..100. The
// percentiles come from a thumbnail so the cost does not grow with the
// image size.
func (l *Local) stretchContrast(img image.Image) image.Image {
	lo, hi := l.luminanceRange(img)
	if hi-lo < 1 {
		return img
	}
	scale := 100 / (hi - lo)

	src := utils.ToNRGBA(img)
	dst := image.NewNRGBA(src.Rect)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	parallel.Line(h, func(start, end int) {
		for y := start; y < end; y++ {
			srow := src.Pix[y*src.Stride : y*src.Stride+w*4]
			drow := dst.Pix[y*dst.Stride : y*dst.Stride+w*4]
			for i := 0; i < len(srow); i += 4 {
				c := colorful.Color{R: float64(srow[i]) / 255, G: float64(srow[i+1]) / 255, B: float64(srow[i+2]) / 255}
				L, a, b := c.Lab()
				L = math.Min(math.Max((L*100-lo)*scale, 0), 100) / 100
				drow[i], drow[i+1], drow[i+2] = colorful.Lab(L, a, b).Clamped().RGB255()
				drow[i+3] = srow[i+3]
			}
		}
	})
	return dst
}

// luminanceRange returns the configured L* percentiles on a 0..100 scale.
func (l *Local) luminanceRange(img image.Image) (float64, float64) {
	thumb := imaging.Fit(img, l.cfg.AnalysisMaxSide, l.cfg.AnalysisMaxSide, imaging.Box)
	var hist [1001]int
	n := 0
	for i := 0; i < len(thumb.Pix); i += 4 {
		c := colorful.Color{R: float64(thumb.Pix[i]) / 255, G: float64(thumb.Pix[i+1]) / 255, B: float64(thumb.Pix[i+2]) / 255}
		L, _, _ := c.Lab()
		bin := int(math.Round(math.Min(math.Max(L, 0), 1) * 1000))
		hist[bin]++
		n++
	}
	if n == 0 {
		return 0, 100
	}
	return percentile(hist[:], n, l.cfg.ContrastLow) / 10, percentile(hist[:], n, l.cfg.ContrastHigh) / 10
}

func percentile(hist []int, total int, p float64) float64 {
	target := int(math.Ceil(p / 100 * float64(total)))
	target = max(target, 1)
	seen := 0
	for bin, count := range hist {
		seen += count
		if seen >= target {
			return float64(bin)
		}
	}
	return float64(len(hist) - 1)
}

func (l *Local) denoise(img image.Image) image.Image {
	if l.cfg.DenoiseRadius <= 0 {
		return img
	}
	return effect.Median(img, l.cfg.DenoiseRadius)
}

func (l *Local) saturate(img image.Image) image.Image {
	if l.cfg.Saturation == 0 {
		return img
	}
	return adjust.Saturation(img, l.cfg.Saturation)
}
