package lut

import (
	"image"

	"github.com/anthonynsimon/bild/parallel"

	"github.com/MeKo-Tech/eventshot/internal/utils"
)

// Lookup maps a normalized RGB triple through the lattice using trilinear
// interpolation over the 8 surrounding vertices. Inputs outside the domain
// are clamped, never wrapped.
func (l *CubeLUT) Lookup(r, g, b float32) (float32, float32, float32) {
	ri, rf := l.cell(r, 0)
	gi, gf := l.cell(g, 1)
	bi, bf := l.cell(b, 2)

	var out [3]float32
	for corner := range 8 {
		dr, dg, db := corner&1, (corner>>1)&1, (corner>>2)&1
		w := weight(rf, dr) * weight(gf, dg) * weight(bf, db)
		if w == 0 {
			continue
		}
		vr, vg, vb := l.vertex(ri+dr, gi+dg, bi+db)
		out[0] += w * vr
		out[1] += w * vg
		out[2] += w * vb
	}
	return out[0], out[1], out[2]
}

// cell returns the lower lattice index, clamped to [0, N-2], and the
// fractional offset inside that cell.
func (l *CubeLUT) cell(v float32, ch int) (int, float32) {
	t := (v - l.DomainMin[ch]) / (l.DomainMax[ch] - l.DomainMin[ch])
	t = min(max(t, 0), 1)
	pos := t * float32(l.Size-1)
	i := int(pos)
	if i > l.Size-2 {
		i = l.Size - 2
	}
	f := pos - float32(i)
	return i, min(max(f, 0), 1)
}

func weight(frac float32, upper int) float32 {
	if upper == 1 {
		return frac
	}
	return 1 - frac
}

// Apply grades img and returns a new image of the same size. intensity in
// [0,1] blends the graded color with the input; 1 applies the LUT fully.
// Rows are processed in parallel; alpha is preserved.
func (l *CubeLUT) Apply(img image.Image, intensity float64) *image.NRGBA {
	src := utils.ToNRGBA(img)
	b := src.Bounds()
	dst := image.NewNRGBA(b)
	k := float32(min(max(intensity, 0), 1))

	parallel.Line(b.Dy(), func(start, end int) {
		for y := start; y < end; y++ {
			srow := src.Pix[y*src.Stride : y*src.Stride+b.Dx()*4]
			drow := dst.Pix[y*dst.Stride : y*dst.Stride+b.Dx()*4]
			for i := 0; i < len(srow); i += 4 {
				r := float32(srow[i]) / 255
				g := float32(srow[i+1]) / 255
				bl := float32(srow[i+2]) / 255
				or, og, ob := l.Lookup(r, g, bl)
				if k < 1 {
					or = r + (or-r)*k
					og = g + (og-g)*k
					ob = bl + (ob-bl)*k
				}
				drow[i] = utils.ClampByte(or * 255)
				drow[i+1] = utils.ClampByte(og * 255)
				drow[i+2] = utils.ClampByte(ob * 255)
				drow[i+3] = srow[i+3]
			}
		}
	})
	return dst
}
