package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "eventshot"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "EVENTSHOT"
)

// Loader handles loading configuration from various sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader on the global viper instance so that flags bound
// by the root command take effect.
func NewLoader() *Loader {
	return &Loader{v: viper.GetViper()}
}

// NewLoaderWith creates a loader on v.
func NewLoaderWith(v *viper.Viper) *Loader {
	return &Loader{v: v}
}

// Load reads the first eventshot.yaml found on the search path, applies
// environment overrides and defaults, and validates the result.
func (l *Loader) Load() (*Config, error) {
	return l.load("", true)
}

// LoadWithoutValidation is Load without the final Validate call.
func (l *Loader) LoadWithoutValidation() (*Config, error) {
	return l.load("", false)
}

// LoadWithFile loads configuration from a specific file path. An empty path
// falls back to the search path.
func (l *Loader) LoadWithFile(configFile string) (*Config, error) {
	return l.load(configFile, true)
}

// LoadWithFileWithoutValidation is LoadWithFile without validation.
func (l *Loader) LoadWithFileWithoutValidation(configFile string) (*Config, error) {
	return l.load(configFile, false)
}

func (l *Loader) load(configFile string, validate bool) (*Config, error) {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
	}
	l.setupEnvironmentVariables()
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env vars still apply.
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if validate {
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}
	return &config, nil
}

// GetConfigFileUsed returns the path of the config file used.
func (l *Loader) GetConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// GetViper returns the underlying viper instance.
func (l *Loader) GetViper() *viper.Viper {
	return l.v
}

func (l *Loader) addConfigPaths() {
	for _, p := range GetConfigSearchPaths() {
		l.v.AddConfigPath(p)
	}
}

func (l *Loader) setupEnvironmentVariables() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
	// directories.inbound -> EVENTSHOT_DIRECTORIES_INBOUND
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// setDefaults registers every key so that AutomaticEnv can override it.
func (l *Loader) setDefaults() {
	d := DefaultConfig()
	set := l.v.SetDefault

	set("models_dir", d.ModelsDir)
	set("onnx_library_path", d.ONNXLibraryPath)
	set("log_level", d.LogLevel)
	set("verbose", d.Verbose)

	set("directories.inbound", d.Directories.Inbound)
	set("directories.backup", d.Directories.Backup)
	set("directories.output", d.Directories.Output)
	set("directories.print", d.Directories.Print)

	set("discovery.scan_interval", d.Discovery.ScanInterval)
	set("discovery.settle", d.Discovery.Settle)
	set("discovery.watch", d.Discovery.Watch)

	set("workers.count", d.Workers.Count)
	set("workers.queue_size", d.Workers.QueueSize)
	set("workers.dispatch_interval", d.Workers.DispatchInterval)
	set("workers.stats_interval", d.Workers.StatsInterval)

	set("retry.max_attempts", d.Retry.MaxAttempts)
	set("retry.initial_delay", d.Retry.InitialDelay)
	set("retry.max_delay", d.Retry.MaxDelay)
	set("retry.multiplier", d.Retry.Multiplier)

	set("shutdown.drain", d.Shutdown.Drain)
	set("shutdown.grace", d.Shutdown.Grace)

	set("face.enabled", d.Face.Enabled)
	set("face.model_path", d.Face.ModelPath)
	set("face.input_width", d.Face.InputWidth)
	set("face.input_height", d.Face.InputHeight)
	set("face.score_threshold", d.Face.ScoreThreshold)
	set("face.nms_threshold", d.Face.NMSThreshold)
	set("face.min_face_size", d.Face.MinFaceSize)
	set("face.max_faces", d.Face.MaxFaces)
	set("face.num_threads", d.Face.NumThreads)

	set("mask.padding", d.Mask.Padding)
	set("mask.feather", d.Mask.Feather)

	r := d.Enhancement.Remote
	set("enhancement.mode", d.Enhancement.Mode)
	set("enhancement.remote.endpoint", r.Endpoint)
	set("enhancement.remote.api_key", r.APIKey)
	set("enhancement.remote.model", r.Model)
	set("enhancement.remote.prompt", r.Prompt)
	set("enhancement.remote.max_width", r.MaxWidth)
	set("enhancement.remote.max_height", r.MaxHeight)
	set("enhancement.remote.jpeg_quality", r.JPEGQuality)
	set("enhancement.remote.timeout", r.Timeout)
	set("enhancement.remote.aspect_tolerance", r.AspectTolerance)
	set("enhancement.remote.retry.max_attempts", r.Retry.MaxAttempts)
	set("enhancement.remote.retry.initial_delay", r.Retry.InitialDelay)
	set("enhancement.remote.retry.max_delay", r.Retry.MaxDelay)
	set("enhancement.remote.retry.multiplier", r.Retry.Multiplier)

	lc := d.Enhancement.Local
	set("enhancement.local.sharpen_amount", lc.SharpenAmount)
	set("enhancement.local.sharpen_sigma", lc.SharpenSigma)
	set("enhancement.local.contrast_low_percentile", lc.ContrastLow)
	set("enhancement.local.contrast_high_percentile", lc.ContrastHigh)
	set("enhancement.local.denoise_radius", lc.DenoiseRadius)
	set("enhancement.local.saturation", lc.Saturation)
	set("enhancement.local.analysis_max_side", lc.AnalysisMaxSide)

	set("lut.path", d.LUT.Path)
	set("lut.intensity", d.LUT.Intensity)

	set("crop.portrait_ratio.w", d.Crop.PortraitRatio.W)
	set("crop.portrait_ratio.h", d.Crop.PortraitRatio.H)
	set("crop.landscape_ratio.w", d.Crop.LandscapeRatio.W)
	set("crop.landscape_ratio.h", d.Crop.LandscapeRatio.H)
	set("crop.print_long_inches", d.Crop.PrintLongInches)
	set("crop.dpi", d.Crop.DPI)
	set("crop.max_upscale", d.Crop.MaxUpscale)
	set("crop.tolerance", d.Crop.Tolerance)

	set("watermark.path", d.Watermark.Path)
	set("watermark.size_ratio", d.Watermark.SizeRatio)
	set("watermark.anchor", string(d.Watermark.Anchor))
	set("watermark.vertical", d.Watermark.Vertical)
	set("watermark.opacity", d.Watermark.Opacity)
	set("watermark.edge_padding", d.Watermark.EdgePadding)

	u := d.Delivery.Upload
	set("delivery.quality", d.Delivery.Quality)
	set("delivery.timeout", d.Delivery.Timeout)
	set("delivery.upload.enabled", u.Enabled)
	set("delivery.upload.url", u.URL)
	set("delivery.upload.secret", u.Secret)
	set("delivery.upload.source", u.Source)
	set("delivery.upload.uploader_name", u.UploaderName)
	set("delivery.upload.album_name", u.AlbumName)
	set("delivery.upload.quality", u.Quality)
	set("delivery.upload.timeout", u.Timeout)
	set("delivery.upload.token_ttl", u.TokenTTL)

	set("archive.kind", d.Archive.Kind)
	set("archive.path", d.Archive.Path)
	set("archive.dsn", d.Archive.DSN)

	set("server.enabled", d.Server.Enabled)
	set("server.host", d.Server.Host)
	set("server.port", d.Server.Port)
	set("server.cors_origin", d.Server.CORSOrigin)
	set("server.stats_interval", d.Server.StatsInterval)
	set("server.rate_limit.enabled", d.Server.RateLimit.Enabled)
	set("server.rate_limit.requests_per_minute", d.Server.RateLimit.RequestsPerMinute)
	set("server.rate_limit.requests_per_hour", d.Server.RateLimit.RequestsPerHour)
}

// GetConfigSearchPaths returns the directories searched for eventshot.yaml.
func GetConfigSearchPaths() []string {
	paths := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home)
	}
	if configDir, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		paths = append(paths, filepath.Join(configDir, "eventshot"))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "eventshot"))
	}
	return append(paths, "/etc/eventshot")
}
