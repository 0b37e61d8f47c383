package face

import (
	"context"
	"image"
)

// NoopDetector never finds faces. It is used when face protection is
// switched off, which turns the compositor into a pass-through of the
// enhanced candidate.
type NoopDetector struct{}

func (NoopDetector) Detect(context.Context, image.Image) ([]Region, error) { return nil, nil }
func (NoopDetector) Close() error                                          { return nil }

// StaticDetector returns the same regions for every image. Handy for
// reprocessing with known face boxes and for tests.
type StaticDetector struct {
	Regions []Region
}

func (s StaticDetector) Detect(context.Context, image.Image) ([]Region, error) {
	out := make([]Region, len(s.Regions))
	copy(out, s.Regions)
	return out, nil
}

func (StaticDetector) Close() error { return nil }
