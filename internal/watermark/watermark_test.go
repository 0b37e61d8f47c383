package watermark

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/eventshot/internal/utils"
)

func solidAsset(t *testing.T, w, h int, c color.NRGBA) *Asset {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetNRGBA(x, y, c)
		}
	}
	a, err := NewAsset(img)
	require.NoError(t, err)
	return a
}

func base(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+3] = 255
	}
	return img
}

func TestRect_Anchors(t *testing.T) {
	asset := solidAsset(t, 200, 100, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	tests := []struct {
		name   string
		mutate func(*Placement)
		expect image.Rectangle
	}{
		{"center default", nil, image.Rect(892, 1196, 1207, 1354)},
		{"left", func(p *Placement) { p.Anchor = AnchorLeft }, image.Rect(50, 1196, 365, 1354)},
		{"right", func(p *Placement) { p.Anchor = AnchorRight }, image.Rect(1735, 1196, 2050, 1354)},
		{"clamped at bottom", func(p *Placement) { p.Vertical = 1 }, image.Rect(892, 1342, 1207, 1500)},
		{"clamped at top", func(p *Placement) { p.Vertical = 0 }, image.Rect(892, 0, 1207, 158)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPlacement()
			if tt.mutate != nil {
				tt.mutate(&p)
			}
			c, err := New(asset, p)
			require.NoError(t, err)
			assert.Equal(t, tt.expect, c.Rect(2100, 1500))
		})
	}
}

func TestApply_OnlyTouchesRect(t *testing.T) {
	asset := solidAsset(t, 40, 20, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	c, err := New(asset, DefaultPlacement())
	require.NoError(t, err)

	src := base(400, 300)
	out := c.Apply(src)
	r := c.Rect(400, 300)
	require.False(t, r.Empty())

	for y := range 300 {
		for x := range 400 {
			if image.Pt(x, y).In(r) {
				continue
			}
			require.Equal(t, src.NRGBAAt(x, y), out.NRGBAAt(x, y), "(%d,%d)", x, y)
		}
	}

	// white at 0.8 opacity over black
	mid := out.NRGBAAt(r.Min.X+r.Dx()/2, r.Min.Y+r.Dy()/2)
	assert.InDelta(t, 204, float64(mid.R), 1)
	assert.Equal(t, uint8(255), mid.A)

	// the input is never modified
	assert.Equal(t, uint8(0), src.NRGBAAt(r.Min.X, r.Min.Y).R)
}

func TestApply_TransparentAssetLeavesBaseUntouched(t *testing.T) {
	asset := solidAsset(t, 40, 20, color.NRGBA{R: 255, A: 0})
	c, err := New(asset, DefaultPlacement())
	require.NoError(t, err)

	src := base(400, 300)
	assert.Equal(t, src.Pix, c.Apply(src).Pix)
}

func TestApply_CachesScaledAsset(t *testing.T) {
	asset := solidAsset(t, 40, 20, color.NRGBA{G: 255, A: 255})
	c, err := New(asset, DefaultPlacement())
	require.NoError(t, err)

	c.Apply(base(400, 300))
	c.Apply(base(400, 300))
	c.Apply(base(800, 600))
	assert.Len(t, asset.scaled, 2)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mark.png")
	img := image.NewNRGBA(image.Rect(0, 0, 30, 10))
	require.NoError(t, utils.SavePNG(path, img))

	a, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, image.Pt(30, 10), a.Size())

	_, err = Load(filepath.Join(t.TempDir(), "missing.png"))
	require.Error(t, err)
}

func TestPlacementValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Placement)
	}{
		{"zero size", func(p *Placement) { p.SizeRatio = 0 }},
		{"oversized", func(p *Placement) { p.SizeRatio = 1.5 }},
		{"bad anchor", func(p *Placement) { p.Anchor = "top" }},
		{"vertical out of range", func(p *Placement) { p.Vertical = 1.2 }},
		{"negative opacity", func(p *Placement) { p.Opacity = -0.1 }},
		{"negative padding", func(p *Placement) { p.EdgePadding = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPlacement()
			tt.mutate(&p)
			require.Error(t, p.Validate())
		})
	}
}
