package testutil

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ImageSize represents image dimensions.
type ImageSize struct {
	Width  int
	Height int
}

var (
	// SmallLandscape crops to a 70x50 print at 10 DPI without upscaling.
	SmallLandscape = ImageSize{70, 50}
	SmallPortrait  = ImageSize{50, 70}
	MediumSize     = ImageSize{640, 480}
)

// skin is the fill used for synthetic faces.
var skin = color.NRGBA{R: 224, G: 172, B: 105, A: 255}

// Gradient returns an opaque image whose red channel ramps left to right,
// green top to bottom, and blue carries seed.
func Gradient(size ImageSize, seed uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, size.Width, size.Height))
	for y := range size.Height {
		for x := range size.Width {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x * 255 / max(size.Width-1, 1)),
				G: uint8(y * 255 / max(size.Height-1, 1)),
				B: seed,
				A: 255,
			})
		}
	}
	return img
}

// Solid returns an opaque single-color image.
func Solid(size ImageSize, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, size.Width, size.Height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

// EventPhoto draws filled ellipses in skin tone over a gradient, one per
// face rectangle.
func EventPhoto(size ImageSize, faces ...image.Rectangle) *image.NRGBA {
	img := Gradient(size, 96)
	for _, f := range faces {
		f = f.Intersect(img.Bounds())
		cx, cy := float64(f.Min.X+f.Max.X)/2, float64(f.Min.Y+f.Max.Y)/2
		rx, ry := float64(f.Dx())/2, float64(f.Dy())/2
		if rx == 0 || ry == 0 {
			continue
		}
		for y := f.Min.Y; y < f.Max.Y; y++ {
			for x := f.Min.X; x < f.Max.X; x++ {
				dx, dy := (float64(x)+0.5-cx)/rx, (float64(y)+0.5-cy)/ry
				if dx*dx+dy*dy <= 1 {
					img.SetNRGBA(x, y, skin)
				}
			}
		}
	}
	return img
}

// Logo renders text in white on a transparent background, scaled to width.
func Logo(text string, width int) *image.NRGBA {
	face := basicfont.Face7x13
	w := font.MeasureString(face, text).Ceil() + 4
	h := face.Metrics().Height.Ceil() + 4
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.NRGBA{R: 255, G: 255, B: 255, A: 255}),
		Face: face,
		Dot:  fixed.P(2, h-2-face.Metrics().Descent.Ceil()),
	}
	d.DrawString(text)
	if width <= 0 || width == w {
		return img
	}
	return imaging.Resize(img, width, 0, imaging.NearestNeighbor)
}

// SavePNG writes img to dir/name and returns the path.
func SavePNG(t testing.TB, dir, name string, img image.Image) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, imaging.Save(img, path))
	return path
}

// WritePhotos writes n distinct gradient PNGs named <prefix>_NNN.png into dir.
func WritePhotos(t testing.TB, dir, prefix string, n int, size ImageSize) []string {
	t.Helper()
	paths := make([]string, 0, n)
	for i := range n {
		paths = append(paths, SavePNG(t, dir, fmt.Sprintf("%s_%03d.png", prefix, i), Gradient(size, uint8(i))))
	}
	return paths
}
