package face

import (
	"image"
	"sort"
)

// Region is a detected face bounding box in source image pixels.
type Region struct {
	X      int     `json:"x"`
	Y      int     `json:"y"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Score  float32 `json:"score"`
}

// Rect returns the region as an image.Rectangle.
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Area of the region in pixels.
func (r Region) Area() int { return r.Width * r.Height }

// IoU computes intersection-over-union of two regions.
func IoU(a, b Region) float64 {
	inter := a.Rect().Intersect(b.Rect())
	if inter.Empty() {
		return 0
	}
	i := float64(inter.Dx() * inter.Dy())
	union := float64(a.Area()+b.Area()) - i
	if union <= 0 {
		return 0
	}
	return i / union
}

// NonMaxSuppression keeps the highest scoring region of every overlapping
// cluster. The result is ordered by descending score.
func NonMaxSuppression(regions []Region, iouThreshold float64) []Region {
	if len(regions) <= 1 {
		return regions
	}
	sorted := make([]Region, len(regions))
	copy(sorted, regions)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	suppressed := make([]bool, len(sorted))
	kept := make([]Region, 0, len(sorted))
	for a := range sorted {
		if suppressed[a] {
			continue
		}
		kept = append(kept, sorted[a])
		for b := a + 1; b < len(sorted); b++ {
			if !suppressed[b] && IoU(sorted[a], sorted[b]) > iouThreshold {
				suppressed[b] = true
			}
		}
	}
	return kept
}
