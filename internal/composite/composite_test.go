package composite

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/eventshot/internal/face"
	"github.com/MeKo-Tech/eventshot/internal/mask"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func noisy(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	seed := uint32(7)
	for i := range img.Pix {
		seed = seed*1664525 + 1013904223
		img.Pix[i] = uint8(seed >> 24)
	}
	return img
}

func TestBlend_ExactAtMaskExtremes(t *testing.T) {
	orig := noisy(120, 90)
	cand := noisy(120, 90)
	for i := range cand.Pix {
		cand.Pix[i] = 255 - cand.Pix[i]
	}
	m := mask.Build(120, 90, []face.Region{{X: 40, Y: 30, Width: 20, Height: 20}}, mask.Options{Padding: 5, Feather: 8})
	defer m.Release()

	out, err := Blend(orig, cand, m)
	require.NoError(t, err)

	for y := range 90 {
		for x := range 120 {
			w := m.At(x, y)
			switch w {
			case 1:
				require.Equal(t, orig.NRGBAAt(x, y), out.NRGBAAt(x, y), "(%d,%d)", x, y)
			case 0:
				require.Equal(t, cand.NRGBAAt(x, y), out.NRGBAAt(x, y), "(%d,%d)", x, y)
			}
		}
	}
}

func TestBlend_InterpolatesInFeather(t *testing.T) {
	orig := solid(40, 1, color.NRGBA{R: 200, G: 200, B: 200, A: 255})
	cand := solid(40, 1, color.NRGBA{R: 0, G: 100, B: 200, A: 255})
	m := mask.Build(40, 1, []face.Region{{X: 0, Y: 0, Width: 10, Height: 1}}, mask.Options{Padding: 0, Feather: 10})
	defer m.Release()

	out, err := Blend(orig, cand, m)
	require.NoError(t, err)

	// x=15 is 6px outside the core: weight 0.4
	px := out.NRGBAAt(15, 0)
	assert.Equal(t, uint8(80), px.R)
	assert.Equal(t, uint8(140), px.G)
	assert.Equal(t, uint8(200), px.B)
}

func TestBlend_ZeroMaskReturnsCandidateCopy(t *testing.T) {
	orig := noisy(16, 16)
	cand := noisy(16, 16)
	cand.Pix[0] ^= 0xff

	tests := []struct {
		name string
		m    *mask.Mask
	}{
		{"nil mask", nil},
		{"no regions", mask.Build(16, 16, nil, mask.DefaultOptions())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Blend(orig, cand, tt.m)
			require.NoError(t, err)
			assert.Equal(t, cand.Pix, out.Pix)
			assert.NotSame(t, cand, out)
		})
	}
}

func TestBlend_DimensionMismatch(t *testing.T) {
	_, err := Blend(noisy(10, 10), noisy(10, 11), nil)
	require.ErrorIs(t, err, ErrDimensionMismatch)

	m := mask.Build(5, 5, []face.Region{{X: 1, Y: 1, Width: 2, Height: 2}}, mask.DefaultOptions())
	defer m.Release()
	_, err = Blend(noisy(10, 10), noisy(10, 10), m)
	require.ErrorIs(t, err, ErrDimensionMismatch)
}
