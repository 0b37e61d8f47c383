package enhance

import (
	"context"
	"image"
	"log/slog"
)

// Auto tries Remote and falls back to Local on any remote failure. The
// fallback is expected behavior and is not reported as an error.
type Auto struct {
	remote *Remote
	local  *Local
	logger *slog.Logger
}

// NewAuto returns an Auto strategy. A nil logger uses slog.Default().
func NewAuto(remote *Remote, local *Local, logger *slog.Logger) *Auto {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auto{remote: remote, local: local, logger: logger}
}

func (a *Auto) Name() string { return ModeAuto.String() }

func (a *Auto) ProduceCandidate(ctx context.Context, img image.Image) (Candidate, error) {
	c, err := a.remote.ProduceCandidate(ctx, img)
	if err == nil {
		return c, nil
	}
	// A cancelled run must not start the local fallback.
	if ctx.Err() != nil {
		return Candidate{}, err
	}

	fallbacksTotal.Inc()
	a.logger.Info("Remote enhancement unavailable, using local enhancement",
		"kind", KindOf(err).String(), "error", err)

	c, err = a.local.ProduceCandidate(ctx, img)
	if err != nil {
		return Candidate{}, err
	}
	c.FellBack = true
	return c, nil
}
