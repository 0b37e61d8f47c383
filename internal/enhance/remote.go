package enhance

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"time"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/eventshot/internal/retry"
	"github.com/MeKo-Tech/eventshot/internal/utils"
)

// RemoteErrorKind classifies remote enhancement failures.
type RemoteErrorKind int

const (
	Timeout RemoteErrorKind = iota
	RateLimited
	Invalid
)

func (k RemoteErrorKind) String() string {
	switch k {
	case Timeout:
		return "timeout"
	case RateLimited:
		return "rate_limited"
	case Invalid:
		return "invalid"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// RemoteError is returned by RemoteClient implementations.
type RemoteError struct {
	Kind RemoteErrorKind
	Err  error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote enhancement %s: %v", e.Kind, e.Err)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// KindOf extracts the RemoteErrorKind from err. Deadline errors count as
// Timeout, anything else unclassified as Invalid.
func KindOf(err error) RemoteErrorKind {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return Invalid
}

// RemoteClient calls an external enhancement service. Implementations must
// return within timeout and honor ctx cancellation.
type RemoteClient interface {
	Enhance(ctx context.Context, img image.Image, timeout time.Duration) (image.Image, error)
}

// RemoteConfig configures the remote strategy and its HTTP client.
type RemoteConfig struct {
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint" json:"endpoint"`
	APIKey   string `mapstructure:"api_key" yaml:"api_key" json:"-"`
	Model    string `mapstructure:"model" yaml:"model" json:"model"`
	Prompt   string `mapstructure:"prompt" yaml:"prompt" json:"prompt"`
	// MaxWidth and MaxHeight bound the upload resolution.
	MaxWidth    int           `mapstructure:"max_width" yaml:"max_width" json:"max_width"`
	MaxHeight   int           `mapstructure:"max_height" yaml:"max_height" json:"max_height"`
	JPEGQuality int           `mapstructure:"jpeg_quality" yaml:"jpeg_quality" json:"jpeg_quality"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	Retry       retry.Policy  `mapstructure:"retry" yaml:"retry" json:"retry"`
	// AspectTolerance is the relative aspect ratio drift accepted in a response.
	AspectTolerance float64 `mapstructure:"aspect_tolerance" yaml:"aspect_tolerance" json:"aspect_tolerance"`
}

// DefaultPrompt asks the service to leave people untouched.
const DefaultPrompt = "Enhance this event photograph: improve exposure, contrast and sharpness. " +
	"Do not change faces, people, composition or the framing of the image."

// DefaultRemoteConfig returns 2048px uploads, a 60s timeout and the default
// retry policy.
func DefaultRemoteConfig() RemoteConfig {
	return RemoteConfig{
		Model:           "image-enhance-v1",
		Prompt:          DefaultPrompt,
		MaxWidth:        2048,
		MaxHeight:       2048,
		JPEGQuality:     90,
		Timeout:         60 * time.Second,
		Retry:           retry.DefaultPolicy(),
		AspectTolerance: 0.02,
	}
}

// Validate checks limits; Endpoint is only required when a network mode is
// selected, which the caller decides.
func (c RemoteConfig) Validate() error {
	if c.MaxWidth <= 0 || c.MaxHeight <= 0 {
		return fmt.Errorf("max_width and max_height must be positive, got %dx%d", c.MaxWidth, c.MaxHeight)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be in [1,100], got %d", c.JPEGQuality)
	}
	if c.AspectTolerance < 0 {
		return fmt.Errorf("aspect_tolerance must not be negative, got %g", c.AspectTolerance)
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	return nil
}

// Remote sends a downsampled copy to a RemoteClient and scales the answer
// back to the input size.
type Remote struct {
	client RemoteClient
	cfg    RemoteConfig
	logger *slog.Logger
}

// NewRemote returns a Remote strategy. A nil logger uses slog.Default().
func NewRemote(client RemoteClient, cfg RemoteConfig, logger *slog.Logger) *Remote {
	if logger == nil {
		logger = slog.Default()
	}
	return &Remote{client: client, cfg: cfg, logger: logger}
}

func (r *Remote) Name() string { return ModeRemoteOnly.String() }

// ProduceCandidate retries the remote call per the configured policy. The
// returned error wraps the last RemoteError when the budget is exhausted.
func (r *Remote) ProduceCandidate(ctx context.Context, img image.Image) (Candidate, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return Candidate{}, &RemoteError{Kind: Invalid, Err: errors.New("empty image")}
	}

	var upload image.Image = img
	if w > r.cfg.MaxWidth || h > r.cfg.MaxHeight {
		upload = imaging.Fit(img, r.cfg.MaxWidth, r.cfg.MaxHeight, imaging.Lanczos)
	}

	var result image.Image
	err := retry.Do(ctx, r.cfg.Retry, func(ctx context.Context, attempt int) error {
		start := time.Now()
		out, err := r.client.Enhance(ctx, upload, r.cfg.Timeout)
		remoteCallDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			kind := KindOf(err)
			remoteErrorsTotal.WithLabelValues(kind.String()).Inc()
			r.logger.Debug("Remote enhancement attempt failed",
				"attempt", attempt, "kind", kind.String(), "error", err)
			if ctx.Err() != nil {
				return retry.Permanent(err)
			}
			return err
		}
		if err := checkAspect(upload.Bounds(), out.Bounds(), r.cfg.AspectTolerance); err != nil {
			remoteErrorsTotal.WithLabelValues(Invalid.String()).Inc()
			return retry.Permanent(&RemoteError{Kind: Invalid, Err: err})
		}
		result = out
		return nil
	})
	if err != nil {
		return Candidate{}, fmt.Errorf("remote enhancement failed: %w", err)
	}

	if rb := result.Bounds(); rb.Dx() != w || rb.Dy() != h {
		result = imaging.Resize(result, w, h, imaging.Lanczos)
	}
	return Candidate{Image: utils.ToNRGBA(result), Source: "remote"}, nil
}

func checkAspect(sent, got image.Rectangle, tol float64) error {
	if got.Empty() {
		return errors.New("response image is empty")
	}
	want := float64(sent.Dx()) / float64(sent.Dy())
	have := float64(got.Dx()) / float64(got.Dy())
	if math.Abs(have-want)/want > tol {
		return fmt.Errorf("response is %dx%d, sent %dx%d", got.Dx(), got.Dy(), sent.Dx(), sent.Dy())
	}
	return nil
}
