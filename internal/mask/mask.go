// Package mask turns face regions into a soft-edged protection mask.
//
// A weight of 1 keeps the original pixel, 0 takes the enhanced candidate.
// Every region is grown by a fixed padding and clamped to the image. Inside
// the padded box the weight is 1; outside it falls linearly to 0 over the
// feather width, using the Chebyshev distance to the box. Overlapping
// regions combine by maximum.
package mask

import (
	"fmt"
	"image"

	"github.com/MeKo-Tech/eventshot/internal/face"
	"github.com/MeKo-Tech/eventshot/internal/mempool"
)

// Options controls region growth and edge softness, both in pixels.
type Options struct {
	Padding int `mapstructure:"padding" yaml:"padding" json:"padding"`
	Feather int `mapstructure:"feather" yaml:"feather" json:"feather"`
}

// DefaultOptions returns 20px padding with a 10px feather.
func DefaultOptions() Options {
	return Options{Padding: 20, Feather: 10}
}

// Validate rejects negative widths.
func (o Options) Validate() error {
	if o.Padding < 0 {
		return fmt.Errorf("padding must not be negative, got %d", o.Padding)
	}
	if o.Feather < 0 {
		return fmt.Errorf("feather must not be negative, got %d", o.Feather)
	}
	return nil
}

// Mask holds one weight in [0,1] per pixel, row-major.
type Mask struct {
	Width   int
	Height  int
	Weights []float32
	empty   bool
}

// Build creates the protection mask for an image of the given size.
func Build(width, height int, regions []face.Region, opts Options) *Mask {
	m := &Mask{Width: width, Height: height, empty: true}
	if width <= 0 || height <= 0 {
		return m
	}
	m.Weights = mempool.GetFloat32Zeroed(width * height)

	bounds := image.Rect(0, 0, width, height)
	for _, r := range regions {
		core := r.Rect().Inset(-opts.Padding).Intersect(bounds)
		if core.Empty() {
			continue
		}
		m.empty = false
		m.paint(core, opts.Feather)
	}
	return m
}

// paint writes the core box at weight 1 and the surrounding feather ramp.
func (m *Mask) paint(core image.Rectangle, feather int) {
	outer := core.Inset(-feather).Intersect(image.Rect(0, 0, m.Width, m.Height))
	for y := outer.Min.Y; y < outer.Max.Y; y++ {
		dy := axisDistance(y, core.Min.Y, core.Max.Y)
		row := m.Weights[y*m.Width : (y+1)*m.Width]
		for x := outer.Min.X; x < outer.Max.X; x++ {
			d := max(dy, axisDistance(x, core.Min.X, core.Max.X))
			w := ramp(d, feather)
			if w > row[x] {
				row[x] = w
			}
		}
	}
}

// axisDistance is how many pixels v lies outside [lo, hi).
func axisDistance(v, lo, hi int) int {
	switch {
	case v < lo:
		return lo - v
	case v >= hi:
		return v - hi + 1
	default:
		return 0
	}
}

func ramp(d, feather int) float32 {
	if d <= 0 {
		return 1
	}
	if d >= feather {
		return 0
	}
	return 1 - float32(d)/float32(feather)
}

// At returns the weight at (x, y); out-of-range coordinates read as 0.
func (m *Mask) At(x, y int) float32 {
	if m.Weights == nil || x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return 0
	}
	return m.Weights[y*m.Width+x]
}

// Row returns the weights of row y. Callers must not modify the slice.
func (m *Mask) Row(y int) []float32 {
	if m.Weights == nil {
		return nil
	}
	return m.Weights[y*m.Width : (y+1)*m.Width]
}

// IsZero reports whether no pixel is protected.
func (m *Mask) IsZero() bool { return m.empty }

// Coverage returns the fraction of pixels with a non-zero weight.
func (m *Mask) Coverage() float64 {
	if m == nil || m.empty || len(m.Weights) == 0 {
		return 0
	}
	n := 0
	for _, w := range m.Weights {
		if w > 0 {
			n++
		}
	}
	return float64(n) / float64(len(m.Weights))
}

// Release returns the weight buffer to the pool. The mask must not be used
// afterwards.
func (m *Mask) Release() {
	if m != nil && m.Weights != nil {
		mempool.PutFloat32(m.Weights)
		m.Weights = nil
	}
}
