// Package watermark alpha-blends a branding asset onto finished prints.
package watermark

import (
	"errors"
	"fmt"
	"image"
	"math"
	"strings"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/eventshot/internal/utils"
)

// Anchor selects the horizontal placement of the watermark.
type Anchor string

const (
	AnchorLeft   Anchor = "left"
	AnchorCenter Anchor = "center"
	AnchorRight  Anchor = "right"
)

// ParseAnchor accepts left, center (or centre) and right.
func ParseAnchor(s string) (Anchor, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left":
		return AnchorLeft, nil
	case "center", "centre", "":
		return AnchorCenter, nil
	case "right":
		return AnchorRight, nil
	}
	return "", fmt.Errorf("unknown watermark anchor %q", s)
}

// Placement controls size, position and opacity.
type Placement struct {
	// SizeRatio is the watermark width as a fraction of the image width.
	SizeRatio float64 `mapstructure:"size_ratio" yaml:"size_ratio" json:"size_ratio"`
	Anchor    Anchor  `mapstructure:"anchor" yaml:"anchor" json:"anchor"`
	// Vertical is the fraction of the image height where the watermark is centered.
	Vertical    float64 `mapstructure:"vertical" yaml:"vertical" json:"vertical"`
	Opacity     float64 `mapstructure:"opacity" yaml:"opacity" json:"opacity"`
	EdgePadding int     `mapstructure:"edge_padding" yaml:"edge_padding" json:"edge_padding"`
}

// DefaultPlacement centers a 15% wide mark at 85% of the height.
func DefaultPlacement() Placement {
	return Placement{SizeRatio: 0.15, Anchor: AnchorCenter, Vertical: 0.85, Opacity: 0.8, EdgePadding: 50}
}

// Validate checks ranges.
func (p Placement) Validate() error {
	if p.SizeRatio <= 0 || p.SizeRatio > 1 {
		return fmt.Errorf("size_ratio must be in (0,1], got %g", p.SizeRatio)
	}
	if _, err := ParseAnchor(string(p.Anchor)); err != nil {
		return err
	}
	if p.Vertical < 0 || p.Vertical > 1 {
		return fmt.Errorf("vertical must be in [0,1], got %g", p.Vertical)
	}
	if p.Opacity < 0 || p.Opacity > 1 {
		return fmt.Errorf("opacity must be in [0,1], got %g", p.Opacity)
	}
	if p.EdgePadding < 0 {
		return fmt.Errorf("edge_padding must not be negative, got %d", p.EdgePadding)
	}
	return nil
}

// Asset is a decoded RGBA watermark. It is read-only after Load and may be
// shared between workers; scaled copies are cached per target size.
type Asset struct {
	img *image.NRGBA

	mu     sync.Mutex
	scaled map[image.Point]*image.NRGBA
}

// Load decodes the watermark file.
func Load(path string) (*Asset, error) {
	img, _, err := utils.LoadImage(path)
	if err != nil {
		return nil, fmt.Errorf("load watermark: %w", err)
	}
	return NewAsset(img)
}

// NewAsset wraps an already decoded image.
func NewAsset(img image.Image) (*Asset, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, errors.New("watermark image is empty")
	}
	return &Asset{img: utils.CloneNRGBA(img), scaled: make(map[image.Point]*image.NRGBA)}, nil
}

// Size returns the native asset dimensions.
func (a *Asset) Size() image.Point { return a.img.Bounds().Size() }

func (a *Asset) scaledTo(w, h int) *image.NRGBA {
	key := image.Pt(w, h)
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.scaled[key]; ok {
		return s
	}
	s := a.img
	if a.img.Bounds().Size() != key {
		s = imaging.Resize(a.img, w, h, imaging.Lanczos)
	}
	a.scaled[key] = s
	return s
}

// Compositor places one Asset according to a Placement.
type Compositor struct {
	asset     *Asset
	placement Placement
}

// New returns a Compositor after validating p.
func New(asset *Asset, p Placement) (*Compositor, error) {
	if asset == nil {
		return nil, errors.New("watermark asset is nil")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p.Anchor, _ = ParseAnchor(string(p.Anchor))
	return &Compositor{asset: asset, placement: p}, nil
}

// Rect computes where the watermark lands on a width×height image. The
// size keeps the asset's aspect ratio and the rectangle is clamped inside
// the image.
func (c *Compositor) Rect(width, height int) image.Rectangle {
	if width <= 0 || height <= 0 {
		return image.Rectangle{}
	}
	as := c.asset.Size()
	aspect := float64(as.Y) / float64(as.X)

	w := max(int(math.Round(c.placement.SizeRatio*float64(width))), 1)
	h := max(int(math.Round(float64(w)*aspect)), 1)
	if h > height {
		h = height
		w = max(int(math.Round(float64(h)/aspect)), 1)
	}
	w = min(w, width)

	var x int
	switch c.placement.Anchor {
	case AnchorLeft:
		x = c.placement.EdgePadding
	case AnchorRight:
		x = width - w - c.placement.EdgePadding
	default:
		x = (width - w) / 2
	}
	y := int(math.Round(float64(height)*c.placement.Vertical - float64(h)/2))

	x = min(max(x, 0), width-w)
	y = min(max(y, 0), height-h)
	return image.Rect(x, y, x+w, y+h)
}

// Apply returns a copy of base with the watermark blended in. Pixels outside
// Rect are copied unchanged.
func (c *Compositor) Apply(base image.Image) *image.NRGBA {
	dst := utils.CloneNRGBA(base)
	r := c.Rect(dst.Bounds().Dx(), dst.Bounds().Dy())
	if r.Empty() || c.placement.Opacity == 0 {
		return dst
	}
	mark := c.asset.scaledTo(r.Dx(), r.Dy())
	opacity := float32(c.placement.Opacity)

	for y := 0; y < r.Dy(); y++ {
		mrow := mark.Pix[y*mark.Stride : y*mark.Stride+r.Dx()*4]
		off := dst.PixOffset(r.Min.X, r.Min.Y+y)
		drow := dst.Pix[off : off+r.Dx()*4]
		for i := 0; i < len(mrow); i += 4 {
			alpha := float32(mrow[i+3]) / 255 * opacity
			if alpha <= 0 {
				continue
			}
			inv := 1 - alpha
			for ch := range 3 {
				drow[i+ch] = utils.ClampByte(float32(drow[i+ch])*inv + float32(mrow[i+ch])*alpha)
			}
			drow[i+3] = utils.ClampByte(float32(drow[i+3])*inv + 255*alpha)
		}
	}
	return dst
}
