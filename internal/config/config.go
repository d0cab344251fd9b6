// Package config loads segmentpipe's runtime configuration from flags,
// environment variables, and an optional .env file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig configures the HTTP serving surface (component F).
type ServerConfig struct {
	Bind            string        `mapstructure:"bind"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// PipelineConfig configures the ingest pipeline and segment roller.
type PipelineConfig struct {
	Source      string        `mapstructure:"-"`
	OutputDir   string        `mapstructure:"output_dir"`
	RollSeconds time.Duration `mapstructure:"roll_seconds"`
	Prefix      string        `mapstructure:"prefix"`
}

// StorageConfig configures the local index database.
type StorageConfig struct {
	IndexFile string `mapstructure:"index_file"`
}

// LoggingConfig configures the slog handler built by the observability package.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	TimeFormat string `mapstructure:"time_format"`
	AddSource  bool   `mapstructure:"add_source"`
}

// UploadConfig configures the S3-backed uploader (component D).
//
// Bucket and credentials are read from the environment
// (AWS_BUCKET, AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY) rather than from
// mapstructure-bound config keys, so they never round-trip through a
// config file or get logged as part of a dumped Config struct.
type UploadConfig struct {
	Bucket            string
	AccessKeyID       string
	SecretAccessKey   string
	RetryAttempts     int           `mapstructure:"retry_attempts"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	RetryMaxDelay     time.Duration `mapstructure:"retry_max_delay"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
}

// FFmpegConfig configures the external ffmpeg/ffprobe subprocesses used to
// normalize the ingest source into an MPEG-TS elementary stream.
type FFmpegConfig struct {
	BinaryPath      string        `mapstructure:"binary_path"`
	ProbeBinaryPath string        `mapstructure:"probe_binary_path"`
	StartupTimeout  time.Duration `mapstructure:"startup_timeout"`
}

// Config is the fully assembled runtime configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Upload   UploadConfig   `mapstructure:"upload"`
	FFmpeg   FFmpegConfig   `mapstructure:"ffmpeg"`
}

const envPrefix = "SEGMENTPIPE"

// Default values, mirroring the reference pipeline's production settings.
const (
	defaultBind              = "127.0.0.1:3030"
	defaultOutputDir         = "recordings"
	defaultRollSeconds       = 15 * time.Second
	defaultPrefix            = "/"
	defaultIndexFile         = "v0.db"
	defaultLogLevel          = "info"
	defaultLogFormat         = "json"
	defaultRetryAttempts     = 10
	defaultRetryDelay        = 1 * time.Second
	defaultRetryMaxDelay     = 30 * time.Second
	defaultBackoffMultiplier = 2.0
	defaultFFmpegBinary      = "ffmpeg"
	defaultFFprobeBinary     = "ffprobe"
	defaultStartupTimeout    = 10 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
)

// Load reads configuration from viper (already populated with flag bindings
// by the caller), applying defaults and a .env file if present, then
// validates the result.
//
// dotenvPath is typically ".env"; a missing file is not an error, matching
// the CLI contract's "credentials read from environment, .env override
// permitted".
func Load(v *viper.Viper, dotenvPath string) (*Config, error) {
	if err := godotenv.Overload(dotenvPath); err != nil && !isNotExist(err) {
		return nil, fmt.Errorf("loading .env file: %w", err)
	}

	SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.Upload.Bucket = os.Getenv("AWS_BUCKET")
	cfg.Upload.AccessKeyID = os.Getenv("AWS_ACCESS_KEY_ID")
	cfg.Upload.SecretAccessKey = os.Getenv("AWS_SECRET_ACCESS_KEY")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// SetDefaults populates v with segmentpipe's default configuration values.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.bind", defaultBind)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	v.SetDefault("pipeline.output_dir", defaultOutputDir)
	v.SetDefault("pipeline.roll_seconds", defaultRollSeconds)
	v.SetDefault("pipeline.prefix", defaultPrefix)

	v.SetDefault("storage.index_file", defaultIndexFile)

	v.SetDefault("logging.level", defaultLogLevel)
	v.SetDefault("logging.format", defaultLogFormat)
	v.SetDefault("logging.add_source", false)

	v.SetDefault("upload.retry_attempts", defaultRetryAttempts)
	v.SetDefault("upload.retry_delay", defaultRetryDelay)
	v.SetDefault("upload.retry_max_delay", defaultRetryMaxDelay)
	v.SetDefault("upload.backoff_multiplier", defaultBackoffMultiplier)

	v.SetDefault("ffmpeg.binary_path", defaultFFmpegBinary)
	v.SetDefault("ffmpeg.probe_binary_path", defaultFFprobeBinary)
	v.SetDefault("ffmpeg.startup_timeout", defaultStartupTimeout)
}

// Validate checks the configuration for internally-inconsistent values.
func (c *Config) Validate() error {
	if c.Pipeline.RollSeconds <= 0 {
		return fmt.Errorf("pipeline.roll_seconds must be positive, got %s", c.Pipeline.RollSeconds)
	}
	if c.Pipeline.Source == "" {
		return fmt.Errorf("pipeline source is required")
	}
	if c.Storage.IndexFile == "" {
		return fmt.Errorf("storage.index_file must not be empty")
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}
	if c.Upload.Bucket == "" {
		return fmt.Errorf("AWS_BUCKET is required")
	}
	if c.Upload.RetryAttempts <= 0 {
		return fmt.Errorf("upload.retry_attempts must be positive")
	}
	if c.Upload.BackoffMultiplier <= 1 {
		return fmt.Errorf("upload.backoff_multiplier must be greater than 1")
	}
	return nil
}

// IndexPath returns the index database path, rooted under the output directory.
func (c *Config) IndexPath() string {
	return filepath.Join(c.Pipeline.OutputDir, c.Storage.IndexFile)
}

func isNotExist(err error) bool {
	return strings.Contains(err.Error(), "no such file") || strings.Contains(err.Error(), "cannot find the file")
}
