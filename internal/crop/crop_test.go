package crop

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/eventshot/internal/utils"
)

func newCropper(t *testing.T, mutate func(*Config)) *Cropper {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func TestSpecFor_Defaults(t *testing.T) {
	c := newCropper(t, nil)

	p := c.SpecFor(utils.Portrait)
	assert.Equal(t, 1500, p.Width)
	assert.Equal(t, 2100, p.Height)

	l := c.SpecFor(utils.Landscape)
	assert.Equal(t, 2100, l.Width)
	assert.Equal(t, 1500, l.Height)
}

func TestRect(t *testing.T) {
	c := newCropper(t, nil)
	tests := []struct {
		name   string
		w, h   int
		expect image.Rectangle
	}{
		{"landscape 4:3 trims height", 4000, 3000, image.Rect(0, 71, 4000, 2928)},
		{"landscape 16:9 trims width", 3840, 2160, image.Rect(408, 0, 3432, 2160)},
		{"portrait 3:4 trims width", 3000, 4000, image.Rect(71, 0, 2928, 4000)},
		{"portrait 9:16 trims height", 2160, 3840, image.Rect(0, 408, 2160, 3432)},
		{"exact ratio kept whole", 2800, 2000, image.Rect(0, 0, 2800, 2000)},
		{"within tolerance kept whole", 2810, 2000, image.Rect(0, 0, 2810, 2000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, c.Rect(tt.w, tt.h))
		})
	}
}

func TestApply_OutputAlwaysMatchesTarget(t *testing.T) {
	c := newCropper(t, nil)
	sizes := [][2]int{{4000, 3000}, {3000, 4000}, {2100, 1500}, {2500, 2500}, {6000, 2000}, {1600, 4000}}
	for _, s := range sizes {
		img := image.NewNRGBA(image.Rect(0, 0, s[0], s[1]))
		out, spec, err := c.Apply(img)
		require.NoError(t, err, "%v", s)
		assert.Equal(t, spec.Width, out.Bounds().Dx(), "%v", s)
		assert.Equal(t, spec.Height, out.Bounds().Dy(), "%v", s)
		assert.Equal(t, utils.OrientationOf(s[0], s[1]), spec.Orientation)
	}
}

func TestApply_UpscaleLimit(t *testing.T) {
	c := newCropper(t, nil)
	_, _, err := c.Apply(image.NewNRGBA(image.Rect(0, 0, 1400, 1000)))
	require.ErrorIs(t, err, ErrUpscaleLimit)

	relaxed := newCropper(t, func(cfg *Config) { cfg.MaxUpscale = 2 })
	out, _, err := relaxed.Apply(image.NewNRGBA(image.Rect(0, 0, 1400, 1000)))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 2100, 1500), out.Bounds())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero ratio side", func(c *Config) { c.PortraitRatio = Ratio{W: 0, H: 7} }},
		{"portrait wider than tall", func(c *Config) { c.PortraitRatio = Ratio{W: 7, H: 5} }},
		{"landscape taller than wide", func(c *Config) { c.LandscapeRatio = Ratio{W: 5, H: 7} }},
		{"zero dpi", func(c *Config) { c.DPI = 0 }},
		{"no print size", func(c *Config) { c.PrintLongInches = 0 }},
		{"no upscale budget", func(c *Config) { c.MaxUpscale = 0 }},
		{"tolerance too big", func(c *Config) { c.Tolerance = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(cfg)
			require.Error(t, err)
		})
	}
	require.NoError(t, DefaultConfig().Validate())
}
