package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MeKo-Tech/eventshot/internal/archive"
	"github.com/MeKo-Tech/eventshot/internal/crop"
	"github.com/MeKo-Tech/eventshot/internal/delivery"
	"github.com/MeKo-Tech/eventshot/internal/enhance"
	"github.com/MeKo-Tech/eventshot/internal/face"
	"github.com/MeKo-Tech/eventshot/internal/mask"
	"github.com/MeKo-Tech/eventshot/internal/models"
	"github.com/MeKo-Tech/eventshot/internal/orchestrator"
	"github.com/MeKo-Tech/eventshot/internal/pipeline"
	"github.com/MeKo-Tech/eventshot/internal/retry"
	"github.com/MeKo-Tech/eventshot/internal/server"
	"github.com/MeKo-Tech/eventshot/internal/watermark"
)

// Config represents the complete configuration of an eventshot installation.
// It is loaded from a YAML file, EVENTSHOT_* environment variables and
// command-line flags, in increasing priority.
type Config struct {
	ModelsDir       string `mapstructure:"models_dir" yaml:"models_dir" json:"models_dir"`
	ONNXLibraryPath string `mapstructure:"onnx_library_path" yaml:"onnx_library_path" json:"onnx_library_path"`
	LogLevel        string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose         bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Directories delivery.Layout   `mapstructure:"directories" yaml:"directories" json:"directories"`
	Discovery   DiscoveryConfig   `mapstructure:"discovery" yaml:"discovery" json:"discovery"`
	Workers     WorkersConfig     `mapstructure:"workers" yaml:"workers" json:"workers"`
	Retry       retry.Policy      `mapstructure:"retry" yaml:"retry" json:"retry"`
	Shutdown    ShutdownConfig    `mapstructure:"shutdown" yaml:"shutdown" json:"shutdown"`
	Face        FaceConfig        `mapstructure:"face" yaml:"face" json:"face"`
	Mask        mask.Options      `mapstructure:"mask" yaml:"mask" json:"mask"`
	Enhancement EnhancementConfig `mapstructure:"enhancement" yaml:"enhancement" json:"enhancement"`
	LUT         LUTConfig         `mapstructure:"lut" yaml:"lut" json:"lut"`
	Crop        crop.Config       `mapstructure:"crop" yaml:"crop" json:"crop"`
	Watermark   WatermarkConfig   `mapstructure:"watermark" yaml:"watermark" json:"watermark"`
	Delivery    DeliveryConfig    `mapstructure:"delivery" yaml:"delivery" json:"delivery"`
	Archive     archive.Config    `mapstructure:"archive" yaml:"archive" json:"archive"`
	Server      server.Config     `mapstructure:"server" yaml:"server" json:"server"`
}

// DiscoveryConfig controls how the inbound directory is watched.
type DiscoveryConfig struct {
	ScanInterval time.Duration `mapstructure:"scan_interval" yaml:"scan_interval" json:"scan_interval"`
	// Settle is how long a file must stay unchanged before it is picked up.
	Settle time.Duration `mapstructure:"settle" yaml:"settle" json:"settle"`
	// Watch adds filesystem notifications on top of polling.
	Watch bool `mapstructure:"watch" yaml:"watch" json:"watch"`
}

// WorkersConfig sizes the worker pool and its queue.
type WorkersConfig struct {
	Count            int           `mapstructure:"count" yaml:"count" json:"count"`
	QueueSize        int           `mapstructure:"queue_size" yaml:"queue_size" json:"queue_size"`
	DispatchInterval time.Duration `mapstructure:"dispatch_interval" yaml:"dispatch_interval" json:"dispatch_interval"`
	StatsInterval    time.Duration `mapstructure:"stats_interval" yaml:"stats_interval" json:"stats_interval"`
}

// ShutdownConfig selects drain or abandon on shutdown.
type ShutdownConfig struct {
	Drain bool          `mapstructure:"drain" yaml:"drain" json:"drain"`
	Grace time.Duration `mapstructure:"grace" yaml:"grace" json:"grace"`
}

// FaceConfig enables face protection. ModelPath defaults to the RFB-320
// model below models_dir.
type FaceConfig struct {
	Enabled     bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	face.Config `mapstructure:",squash" yaml:",inline"`
}

// EnhancementConfig selects the fallback chain.
type EnhancementConfig struct {
	Mode   string               `mapstructure:"mode" yaml:"mode" json:"mode"`
	Remote enhance.RemoteConfig `mapstructure:"remote" yaml:"remote" json:"remote"`
	Local  enhance.LocalConfig  `mapstructure:"local" yaml:"local" json:"local"`
}

// LUTConfig names a .cube file; empty disables grading.
type LUTConfig struct {
	Path      string  `mapstructure:"path" yaml:"path" json:"path"`
	Intensity float64 `mapstructure:"intensity" yaml:"intensity" json:"intensity"`
}

// WatermarkConfig names an RGBA asset; empty disables the watermark.
type WatermarkConfig struct {
	Path                string `mapstructure:"path" yaml:"path" json:"path"`
	watermark.Placement `mapstructure:",squash" yaml:",inline"`
}

// DeliveryConfig configures the final-output JPEGs and the optional upload.
// Print sheets are written when directories.print is set.
type DeliveryConfig struct {
	Quality int                   `mapstructure:"quality" yaml:"quality" json:"quality"`
	Timeout time.Duration         `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	Upload  delivery.UploadConfig `mapstructure:"upload" yaml:"upload" json:"upload"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	orch := orchestrator.DefaultConfig()
	return Config{
		LogLevel:    "info",
		Directories: delivery.DefaultLayout(),
		Discovery: DiscoveryConfig{
			ScanInterval: orch.ScanInterval,
			Settle:       orch.Settle,
			Watch:        true,
		},
		Workers: WorkersConfig{
			Count:            orch.Workers,
			QueueSize:        orch.QueueSize,
			DispatchInterval: orch.DispatchInterval,
			StatsInterval:    orch.StatsInterval,
		},
		Retry:    orch.Retry,
		Shutdown: ShutdownConfig{Drain: orch.Drain, Grace: orch.Grace},
		Face:     FaceConfig{Enabled: true, Config: face.DefaultConfig()},
		Mask:     mask.DefaultOptions(),
		Enhancement: EnhancementConfig{
			Mode:   enhance.ModeLocalOnly.String(),
			Remote: enhance.DefaultRemoteConfig(),
			Local:  enhance.DefaultLocalConfig(),
		},
		LUT:       LUTConfig{Intensity: 1.0},
		Crop:      crop.DefaultConfig(),
		Watermark: WatermarkConfig{Placement: watermark.DefaultPlacement()},
		Delivery: DeliveryConfig{
			Quality: delivery.DefaultJPEGQuality,
			Timeout: orch.DeliveryTimeout,
			Upload:  delivery.DefaultUploadConfig(),
		},
		Archive: archive.Config{Kind: "none"},
		Server:  server.DefaultConfig(),
	}
}

// Validate checks every section. All failures wrap pipeline.ErrConfigInvalid.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %w", pipeline.ErrConfigInvalid, err)
	}
	return nil
}

func (c *Config) validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, strings.ToLower(c.LogLevel)) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}
	if err := c.Directories.Validate(); err != nil {
		return fmt.Errorf("directories: %w", err)
	}
	if err := c.ToOrchestratorConfig().Validate(); err != nil {
		return fmt.Errorf("workers: %w", err)
	}
	if c.Face.Enabled {
		if err := c.Face.Config.Validate(); err != nil {
			return fmt.Errorf("face: %w", err)
		}
	}
	if err := c.Mask.Validate(); err != nil {
		return fmt.Errorf("mask: %w", err)
	}

	mode, err := enhance.ParseMode(c.Enhancement.Mode)
	if err != nil {
		return fmt.Errorf("enhancement: %w", err)
	}
	if mode.UsesNetwork() {
		if c.Enhancement.Remote.Endpoint == "" {
			return fmt.Errorf("enhancement: remote.endpoint is required for mode %s", mode)
		}
		if err := c.Enhancement.Remote.Validate(); err != nil {
			return fmt.Errorf("enhancement.remote: %w", err)
		}
	}
	if mode != enhance.ModeDisabled && mode != enhance.ModeRemoteOnly {
		if err := c.Enhancement.Local.Validate(); err != nil {
			return fmt.Errorf("enhancement.local: %w", err)
		}
	}

	if c.LUT.Intensity < 0 || c.LUT.Intensity > 1 {
		return fmt.Errorf("lut: intensity must be in [0,1], got %g", c.LUT.Intensity)
	}
	if err := c.Crop.Validate(); err != nil {
		return fmt.Errorf("crop: %w", err)
	}
	if c.Watermark.Path != "" {
		if err := c.Watermark.Placement.Validate(); err != nil {
			return fmt.Errorf("watermark: %w", err)
		}
	}
	if c.Delivery.Quality < 1 || c.Delivery.Quality > 100 {
		return fmt.Errorf("delivery: quality must be in 1..100, got %d", c.Delivery.Quality)
	}
	if err := c.Delivery.Upload.Validate(); err != nil {
		return fmt.Errorf("delivery.upload: %w", err)
	}
	if err := c.Archive.Validate(); err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// EnhanceMode returns the parsed enhancement mode.
func (c *Config) EnhanceMode() (enhance.Mode, error) {
	return enhance.ParseMode(c.Enhancement.Mode)
}

// FaceModelPath returns the configured model or the default one below models_dir.
func (c *Config) FaceModelPath() string {
	if c.Face.ModelPath != "" {
		return c.Face.ModelPath
	}
	return models.ResolveModelPath(c.ModelsDir, models.FaceDetectorRFB320)
}

// ToOrchestratorConfig converts the worker, retry and shutdown sections.
func (c *Config) ToOrchestratorConfig() orchestrator.Config {
	return orchestrator.Config{
		Workers:          c.Workers.Count,
		QueueSize:        c.Workers.QueueSize,
		ScanInterval:     c.Discovery.ScanInterval,
		DispatchInterval: c.Workers.DispatchInterval,
		Settle:           c.Discovery.Settle,
		Retry:            c.Retry,
		DeliveryTimeout:  c.Delivery.Timeout,
		Drain:            c.Shutdown.Drain,
		Grace:            c.Shutdown.Grace,
		StatsInterval:    c.Workers.StatsInterval,
	}
}

const redacted = "********"

// Redacted returns a copy with credentials masked, for display.
func (c Config) Redacted() Config {
	if c.Enhancement.Remote.APIKey != "" {
		c.Enhancement.Remote.APIKey = redacted
	}
	if c.Delivery.Upload.Secret != "" {
		c.Delivery.Upload.Secret = redacted
	}
	if c.Archive.DSN != "" {
		c.Archive.DSN = redacted
	}
	return c
}
