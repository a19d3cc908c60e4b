// Package config provides configuration management for streamcore using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort        = 8080
	defaultServerTimeout     = 30 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultMaxOpenConns      = 25
	defaultMaxIdleConns      = 10
	defaultConnMaxIdleTime   = 30 * time.Minute
	defaultMaxUploadSize     = 2 * 1024 * 1024 * 1024 // 2GB
	defaultChunkSize         = 8 * 1024 * 1024        // 8MB
	defaultSessionMaxAge     = 30 * time.Minute
	defaultReaperInterval    = 10 * time.Minute
	defaultSegmentSeconds    = 10
	defaultHLSFsyncDelay     = 2 * time.Second
	defaultStaleLockAge      = 30 * time.Minute
	defaultStaleReaperPeriod = 30 * time.Minute
	defaultMaxVoices         = 3
	defaultPopularMaxVoices  = 5
	defaultVoiceIdleTTL      = 6 * time.Hour
	defaultGrantTokenTTL     = 15 * time.Minute
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Upload     UploadConfig     `mapstructure:"upload"`
	StatusLock StatusLockConfig `mapstructure:"status_lock"`
	FFmpeg     FFmpegConfig     `mapstructure:"ffmpeg"`
	HLSPrep    HLSPrepConfig    `mapstructure:"hls_prep"`
	VoiceCache VoiceCacheConfig `mapstructure:"voice_cache"`
	Grant      GrantConfig      `mapstructure:"grant"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds object storage and local filesystem configuration.
type StorageConfig struct {
	// Backend selects the object-store adapter: "local" or "s3".
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
	TempDir string `mapstructure:"temp_dir"`

	S3Bucket     string `mapstructure:"s3_bucket"`
	S3Region     string `mapstructure:"s3_region"`
	S3Endpoint   string `mapstructure:"s3_endpoint"`
	S3CDNBaseURL string `mapstructure:"s3_cdn_base_url"`

	// MaxUploadSize is the maximum accepted total upload size.
	// Supports human-readable values like "2GB" or raw byte counts.
	MaxUploadSize ByteSize `mapstructure:"max_upload_size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// UploadConfig holds chunked-upload coordinator configuration.
type UploadConfig struct {
	// ChunkSize is the expected size of a single chunk, used to validate
	// uploaded chunk sizes (the final chunk may be smaller).
	ChunkSize ByteSize `mapstructure:"chunk_size"`
	// SessionMaxAge is how long an inactive upload session may live before
	// the reaper removes it and its chunk directory.
	SessionMaxAge time.Duration `mapstructure:"session_max_age"`
	// ReaperInterval is how often the session/stuck-track sweep runs.
	ReaperInterval time.Duration `mapstructure:"reaper_interval"`
}

// StatusLockConfig holds status-lock and HLS-validation configuration.
type StatusLockConfig struct {
	// FsyncDelay is the grace period before validating an HLS output tree,
	// to let the filesystem settle after the segmenter's final write.
	FsyncDelay time.Duration `mapstructure:"fsync_delay"`
	// StaleAge is how long a lock may be held before the reaper reclaims it.
	StaleAge time.Duration `mapstructure:"stale_age"`
	// ReaperInterval is how often the stale-lock reaper sweeps.
	ReaperInterval time.Duration `mapstructure:"reaper_interval"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path"` // Path to ffmpeg binary (empty = auto-detect)
	ProbePath  string `mapstructure:"probe_path"`  // Path to ffprobe binary (empty = auto-detect)
}

// HLSPrepConfig holds HLS preparation worker-pool configuration.
type HLSPrepConfig struct {
	// MaxConcurrent bounds the preparation worker pool. 0 means size it to
	// runtime.NumCPU()-1 (minimum 1).
	MaxConcurrent  int `mapstructure:"max_concurrent"`
	SegmentSeconds int `mapstructure:"segment_seconds"`
	QueueSize      int `mapstructure:"queue_size"`
}

// VoiceCacheConfig holds TTS voice-variant cache configuration.
type VoiceCacheConfig struct {
	MaxVoices        int           `mapstructure:"max_voices"`
	PopularMaxVoices int           `mapstructure:"popular_max_voices"`
	IdleTTL          time.Duration `mapstructure:"idle_ttl"`
	// PopularityServiceURL is the popular_tracks_service root used to size
	// a track's voice-cache budget. Empty disables the lookup and every
	// track uses MaxVoices.
	PopularityServiceURL string `mapstructure:"popularity_service_url"`
}

// GrantConfig holds grant-token authorization configuration.
type GrantConfig struct {
	// Secret is the HMAC signing key, normally supplied via
	// STREAMCORE_GRANT_SECRET rather than a config file.
	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with STREAMCORE_ and use underscores
// for nesting. Example: STREAMCORE_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/streamcore")
		v.AddConfigPath("$HOME/.streamcore")
	}

	v.SetEnvPrefix("STREAMCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "streamcore.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.temp_dir", "temp")
	v.SetDefault("storage.max_upload_size", defaultMaxUploadSize)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	v.SetDefault("upload.chunk_size", defaultChunkSize)
	v.SetDefault("upload.session_max_age", defaultSessionMaxAge)
	v.SetDefault("upload.reaper_interval", defaultReaperInterval)

	v.SetDefault("status_lock.fsync_delay", defaultHLSFsyncDelay)
	v.SetDefault("status_lock.stale_age", defaultStaleLockAge)
	v.SetDefault("status_lock.reaper_interval", defaultStaleReaperPeriod)

	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")

	v.SetDefault("hls_prep.max_concurrent", 0)
	v.SetDefault("hls_prep.segment_seconds", defaultSegmentSeconds)
	v.SetDefault("hls_prep.queue_size", 256)

	v.SetDefault("voice_cache.max_voices", defaultMaxVoices)
	v.SetDefault("voice_cache.popular_max_voices", defaultPopularMaxVoices)
	v.SetDefault("voice_cache.idle_ttl", defaultVoiceIdleTTL)
	v.SetDefault("voice_cache.popularity_service_url", "")

	v.SetDefault("grant.token_ttl", defaultGrantTokenTTL)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	validBackends := map[string]bool{"local": true, "s3": true}
	if !validBackends[c.Storage.Backend] {
		return fmt.Errorf("storage.backend must be one of: local, s3")
	}
	if c.Storage.Backend == "s3" && c.Storage.S3Bucket == "" {
		return fmt.Errorf("storage.s3_bucket is required when storage.backend is s3")
	}
	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.VoiceCache.MaxVoices < 1 {
		return fmt.Errorf("voice_cache.max_voices must be at least 1")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TempPath returns the full path to the temp directory.
func (c *StorageConfig) TempPath() string {
	return fmt.Sprintf("%s/%s", c.BaseDir, c.TempDir)
}
