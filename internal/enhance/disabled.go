package enhance

import (
	"context"
	"image"

	"github.com/MeKo-Tech/eventshot/internal/utils"
)

// Disabled returns a copy of the input, which makes compositing a no-op.
type Disabled struct{}

func (Disabled) Name() string { return ModeDisabled.String() }

func (Disabled) ProduceCandidate(_ context.Context, img image.Image) (Candidate, error) {
	return Candidate{Image: utils.CloneNRGBA(img), Source: "disabled", Identity: true}, nil
}
