// Package composite merges an enhanced candidate back over the original
// image through a protection mask.
package composite

import (
	"errors"
	"fmt"
	"image"

	"github.com/anthonynsimon/bild/parallel"

	"github.com/MeKo-Tech/eventshot/internal/mask"
	"github.com/MeKo-Tech/eventshot/internal/utils"
)

// ErrDimensionMismatch is returned when the inputs differ in size.
var ErrDimensionMismatch = errors.New("dimension mismatch")

// Blend computes original·m + candidate·(1−m) per channel in 8-bit space.
// Where m is exactly 1 the original bytes are copied, where it is 0 the
// candidate bytes are copied, so both ends are bit-identical to their source.
// A nil or zero mask returns a copy of the candidate.
func Blend(original, candidate image.Image, m *mask.Mask) (*image.NRGBA, error) {
	ob, cb := original.Bounds(), candidate.Bounds()
	if ob.Dx() != cb.Dx() || ob.Dy() != cb.Dy() {
		return nil, fmt.Errorf("%w: original %dx%d, candidate %dx%d",
			ErrDimensionMismatch, ob.Dx(), ob.Dy(), cb.Dx(), cb.Dy())
	}
	if m != nil && !m.IsZero() && (m.Width != ob.Dx() || m.Height != ob.Dy()) {
		return nil, fmt.Errorf("%w: image %dx%d, mask %dx%d",
			ErrDimensionMismatch, ob.Dx(), ob.Dy(), m.Width, m.Height)
	}

	orig := utils.ToNRGBA(original)
	cand := utils.ToNRGBA(candidate)
	if m == nil || m.IsZero() {
		return utils.CloneNRGBA(cand), nil
	}

	w, h := ob.Dx(), ob.Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	parallel.Line(h, func(start, end int) {
		for y := start; y < end; y++ {
			orow := orig.Pix[y*orig.Stride : y*orig.Stride+w*4]
			crow := cand.Pix[y*cand.Stride : y*cand.Stride+w*4]
			drow := dst.Pix[y*dst.Stride : y*dst.Stride+w*4]
			blendRow(drow, orow, crow, m.Row(y))
		}
	})
	return dst, nil
}

func blendRow(dst, orig, cand []uint8, weights []float32) {
	for x, wgt := range weights {
		i := x * 4
		switch {
		case wgt >= 1:
			copy(dst[i:i+4], orig[i:i+4])
		case wgt <= 0:
			copy(dst[i:i+4], cand[i:i+4])
		default:
			inv := 1 - wgt
			for c := range 4 {
				dst[i+c] = utils.ClampByte(float32(orig[i+c])*wgt + float32(cand[i+c])*inv)
			}
		}
	}
}
