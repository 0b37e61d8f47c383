// Package crop fits graded images to print dimensions with a centered,
// orientation-aware crop followed by a resize.
package crop

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/eventshot/internal/utils"
)

// ErrUpscaleLimit is returned when reaching the print size would need more
// enlargement than the configured maximum factor.
var ErrUpscaleLimit = errors.New("upscale limit exceeded")

// Ratio is a width:height aspect ratio.
type Ratio struct {
	W float64 `mapstructure:"w" yaml:"w" json:"w"`
	H float64 `mapstructure:"h" yaml:"h" json:"h"`
}

// Value returns W/H.
func (r Ratio) Value() float64 { return r.W / r.H }

func (r Ratio) String() string { return fmt.Sprintf("%g:%g", r.W, r.H) }

// Config describes the print targets.
type Config struct {
	PortraitRatio   Ratio   `mapstructure:"portrait_ratio" yaml:"portrait_ratio" json:"portrait_ratio"`
	LandscapeRatio  Ratio   `mapstructure:"landscape_ratio" yaml:"landscape_ratio" json:"landscape_ratio"`
	PrintLongInches float64 `mapstructure:"print_long_inches" yaml:"print_long_inches" json:"print_long_inches"`
	DPI             int     `mapstructure:"dpi" yaml:"dpi" json:"dpi"`
	MaxUpscale      float64 `mapstructure:"max_upscale" yaml:"max_upscale" json:"max_upscale"`
	Tolerance       float64 `mapstructure:"tolerance" yaml:"tolerance" json:"tolerance"`
}

// DefaultConfig returns 5x7 inch prints at 300 DPI without enlargement.
func DefaultConfig() Config {
	return Config{
		PortraitRatio:   Ratio{W: 5, H: 7},
		LandscapeRatio:  Ratio{W: 7, H: 5},
		PrintLongInches: 7,
		DPI:             300,
		MaxUpscale:      1.0,
		Tolerance:       0.01,
	}
}

// Validate checks ratios and print parameters.
func (c Config) Validate() error {
	for name, r := range map[string]Ratio{"portrait_ratio": c.PortraitRatio, "landscape_ratio": c.LandscapeRatio} {
		if r.W <= 0 || r.H <= 0 || math.IsNaN(r.W) || math.IsNaN(r.H) {
			return fmt.Errorf("%s must have positive sides, got %s", name, r)
		}
	}
	if c.PortraitRatio.Value() > 1 {
		return fmt.Errorf("portrait_ratio must not be wider than tall, got %s", c.PortraitRatio)
	}
	if c.LandscapeRatio.Value() < 1 {
		return fmt.Errorf("landscape_ratio must not be taller than wide, got %s", c.LandscapeRatio)
	}
	if c.PrintLongInches <= 0 {
		return fmt.Errorf("print_long_inches must be positive, got %g", c.PrintLongInches)
	}
	if c.DPI <= 0 {
		return fmt.Errorf("dpi must be positive, got %d", c.DPI)
	}
	if c.MaxUpscale <= 0 {
		return fmt.Errorf("max_upscale must be positive, got %g", c.MaxUpscale)
	}
	if c.Tolerance < 0 || c.Tolerance >= 1 {
		return fmt.Errorf("tolerance must be in [0,1), got %g", c.Tolerance)
	}
	return nil
}

// Spec is the resolved target for one orientation.
type Spec struct {
	Orientation utils.Orientation `json:"orientation"`
	Ratio       Ratio             `json:"ratio"`
	Width       int               `json:"width"`
	Height      int               `json:"height"`
}

// Cropper applies a Config. It holds no mutable state.
type Cropper struct {
	cfg Config
}

// New returns a Cropper after validating cfg.
func New(cfg Config) (*Cropper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Cropper{cfg: cfg}, nil
}

// SpecFor returns the pixel target for an orientation. The long side is
// PrintLongInches·DPI and the short side follows from the ratio.
func (c *Cropper) SpecFor(o utils.Orientation) Spec {
	long := int(math.Round(c.cfg.PrintLongInches * float64(c.cfg.DPI)))
	if o == utils.Portrait {
		r := c.cfg.PortraitRatio
		return Spec{Orientation: o, Ratio: r, Width: int(math.Round(float64(long) * r.Value())), Height: long}
	}
	r := c.cfg.LandscapeRatio
	return Spec{Orientation: o, Ratio: r, Width: long, Height: int(math.Round(float64(long) / r.Value()))}
}

// Rect returns the largest centered rectangle with the target ratio inside
// a w×h image. Sources already within tolerance of the ratio are kept whole.
func (c *Cropper) Rect(w, h int) image.Rectangle {
	full := image.Rect(0, 0, w, h)
	if w <= 0 || h <= 0 {
		return full
	}
	target := c.SpecFor(utils.OrientationOf(w, h)).Ratio.Value()
	src := float64(w) / float64(h)
	if math.Abs(src-target)/target <= c.cfg.Tolerance {
		return full
	}
	if src > target {
		cw := min(int(math.Round(float64(h)*target)), w)
		x0 := (w - cw) / 2
		return image.Rect(x0, 0, x0+cw, h)
	}
	ch := min(int(math.Round(float64(w)/target)), h)
	y0 := (h - ch) / 2
	return image.Rect(0, y0, w, y0+ch)
}

// Apply crops and resizes img to the target for its orientation. The result
// always has exactly the target dimensions.
func (c *Cropper) Apply(img image.Image) (*image.NRGBA, Spec, error) {
	src := utils.ToNRGBA(img)
	w, h := src.Bounds().Dx(), src.Bounds().Dy()
	spec := c.SpecFor(utils.OrientationOf(w, h))
	if w == 0 || h == 0 {
		return nil, spec, fmt.Errorf("empty image")
	}

	rect := c.Rect(w, h)
	scale := math.Max(float64(spec.Width)/float64(rect.Dx()), float64(spec.Height)/float64(rect.Dy()))
	if scale > c.cfg.MaxUpscale+1e-9 {
		return nil, spec, fmt.Errorf("%w: %dx%d needs %.2fx to reach %dx%d (max %.2fx)",
			ErrUpscaleLimit, rect.Dx(), rect.Dy(), scale, spec.Width, spec.Height, c.cfg.MaxUpscale)
	}

	cropped := src
	if rect != src.Bounds() {
		cropped = imaging.Crop(src, rect)
	}
	if cropped.Bounds().Dx() == spec.Width && cropped.Bounds().Dy() == spec.Height {
		return utils.CloneNRGBA(cropped), spec, nil
	}
	return imaging.Resize(cropped, spec.Width, spec.Height, imaging.Lanczos), spec, nil
}
