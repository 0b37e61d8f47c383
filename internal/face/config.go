package face

import (
	"errors"
	"fmt"

	"github.com/MeKo-Tech/eventshot/internal/models"
)

// Config holds the fixed detection parameters. They are set once at startup
// and never negotiated per image.
type Config struct {
	ModelPath      string  `mapstructure:"model_path" yaml:"model_path" json:"model_path"`
	InputWidth     int     `mapstructure:"input_width" yaml:"input_width" json:"input_width"`
	InputHeight    int     `mapstructure:"input_height" yaml:"input_height" json:"input_height"`
	ScoreThreshold float32 `mapstructure:"score_threshold" yaml:"score_threshold" json:"score_threshold"`
	NMSThreshold   float64 `mapstructure:"nms_threshold" yaml:"nms_threshold" json:"nms_threshold"`
	MinFaceSize    int     `mapstructure:"min_face_size" yaml:"min_face_size" json:"min_face_size"`
	MaxFaces       int     `mapstructure:"max_faces" yaml:"max_faces" json:"max_faces"`
	NumThreads     int     `mapstructure:"num_threads" yaml:"num_threads" json:"num_threads"`
}

// DefaultConfig returns parameters tuned for group photos at events.
func DefaultConfig() Config {
	return Config{
		InputWidth:     320,
		InputHeight:    240,
		ScoreThreshold: 0.7,
		NMSThreshold:   0.3,
		MinFaceSize:    30,
		MaxFaces:       50,
		NumThreads:     1,
	}
}

// Validate checks ranges only; the model file is checked by validateModelFile.
func (c Config) Validate() error {
	if c.InputWidth <= 0 || c.InputHeight <= 0 {
		return fmt.Errorf("input size must be positive, got %dx%d", c.InputWidth, c.InputHeight)
	}
	if c.ScoreThreshold <= 0 || c.ScoreThreshold >= 1 {
		return fmt.Errorf("score_threshold must be in (0,1), got %.3f", c.ScoreThreshold)
	}
	if c.NMSThreshold <= 0 || c.NMSThreshold > 1 {
		return fmt.Errorf("nms_threshold must be in (0,1], got %.3f", c.NMSThreshold)
	}
	if c.MinFaceSize < 0 {
		return fmt.Errorf("min_face_size must not be negative, got %d", c.MinFaceSize)
	}
	if c.MaxFaces < 1 {
		return fmt.Errorf("max_faces must be at least 1, got %d", c.MaxFaces)
	}
	if c.NumThreads < 0 {
		return fmt.Errorf("num_threads must not be negative, got %d", c.NumThreads)
	}
	return nil
}

func validateModelFile(path string) error {
	if path == "" {
		return errors.New("model path is empty")
	}
	return models.ValidateModelExists(path)
}
