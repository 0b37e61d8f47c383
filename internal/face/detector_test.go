package face

import (
	"context"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero input width", func(c *Config) { c.InputWidth = 0 }},
		{"score threshold 1", func(c *Config) { c.ScoreThreshold = 1 }},
		{"nms zero", func(c *Config) { c.NMSThreshold = 0 }},
		{"negative min size", func(c *Config) { c.MinFaceSize = -1 }},
		{"no faces allowed", func(c *Config) { c.MaxFaces = 0 }},
		{"negative threads", func(c *Config) { c.NumThreads = -2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestNewDetector_MissingModelFails(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelPath = filepath.Join(t.TempDir(), "missing.onnx")
	_, err := NewDetector(cfg, "")
	require.Error(t, err)

	cfg.ModelPath = ""
	_, err = NewDetector(cfg, "")
	require.Error(t, err)
}

func TestDecode_FiltersScalesAndSuppresses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinFaceSize = 30

	// anchors: strong face, duplicate of it, weak detection, tiny box
	scores := []float32{
		0.05, 0.95,
		0.10, 0.90,
		0.60, 0.40,
		0.01, 0.99,
	}
	boxes := []float32{
		0.25, 0.25, 0.35, 0.40,
		0.251, 0.252, 0.351, 0.401,
		0.60, 0.60, 0.80, 0.80,
		0.50, 0.50, 0.502, 0.502,
	}
	regions := decode(scores, boxes, 4000, 3000, cfg)
	require.Len(t, regions, 1)
	r := regions[0]
	assert.Equal(t, 1000, r.X)
	assert.Equal(t, 750, r.Y)
	assert.Equal(t, 400, r.Width)
	assert.Equal(t, 450, r.Height)
	assert.InDelta(t, 0.95, r.Score, 1e-6)
}

func TestDecode_ZeroFacesIsEmpty(t *testing.T) {
	regions := decode([]float32{0.9, 0.1}, []float32{0, 0, 1, 1}, 640, 480, DefaultConfig())
	assert.Empty(t, regions)
	assert.Empty(t, decode(nil, nil, 640, 480, DefaultConfig()))
}

func TestDecode_ClampsAndCapsFaces(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFaces = 2
	cfg.MinFaceSize = 1
	var scores, boxes []float32
	for i := range 5 {
		scores = append(scores, 0, 0.8+float32(i)*0.01)
		off := float32(i) * 0.2
		boxes = append(boxes, off-0.1, -0.1, off+0.1, 0.1)
	}
	regions := decode(scores, boxes, 1000, 1000, cfg)
	require.Len(t, regions, 2)
	for _, r := range regions {
		assert.GreaterOrEqual(t, r.X, 0)
		assert.GreaterOrEqual(t, r.Y, 0)
		assert.LessOrEqual(t, r.X+r.Width, 1000)
	}
	assert.Greater(t, regions[0].Score, regions[1].Score)
}

func TestPreprocess_NormalizesPlanes(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 64, 48))
	for y := range 48 {
		for x := range 64 {
			img.SetNRGBA(x, y, color.NRGBA{R: 255, G: 127, B: 0, A: 255})
		}
	}
	w, h := 32, 24
	dst := make([]float32, 3*w*h)
	preprocess(img, w, h, dst)

	plane := w * h
	assert.InDelta(t, 1.0, dst[0], 1e-6)
	assert.InDelta(t, 0.0, dst[plane], 1e-6)
	assert.InDelta(t, -127.0/128.0, dst[2*plane], 1e-6)
}

func TestStaticAndNoopDetectors(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 10, 10))

	regions, err := NoopDetector{}.Detect(context.Background(), img)
	require.NoError(t, err)
	assert.Empty(t, regions)

	static := StaticDetector{Regions: []Region{{X: 1, Y: 2, Width: 3, Height: 4}}}
	got, err := static.Detect(context.Background(), img)
	require.NoError(t, err)
	require.Len(t, got, 1)
	got[0].X = 99
	assert.Equal(t, 1, static.Regions[0].X)
	assert.NoError(t, static.Close())
}
