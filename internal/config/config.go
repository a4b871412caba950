// Package config provides the configuration structure for the TTS bot.
package config

import (
	"fmt"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Defaults applied when the TOML omits a value.
const (
	DefaultMaxTextChars       = 2000
	DefaultDeleteDelaySeconds = 50
	DefaultCatalogTTLMinutes  = 5
	DefaultRetryMaxAttempts   = 3
	DefaultRetryBackoffBase   = 2.0
	DefaultSpeakingRate       = 1.0
	DefaultSampleRateHertz    = 48000
)

// InworldConfig holds the endpoints and synthesis defaults for the TTS
// service.
type InworldConfig struct {
	APIBaseURL           string  `toml:"api_base_url"`
	PortalBaseURL        string  `toml:"portal_base_url"`
	WorkspaceID          string  `toml:"workspace_id"`
	DefaultVoiceID       string  `toml:"default_voice_id"`
	DefaultModelID       string  `toml:"default_model_id"`
	SpeakingRate         float64 `toml:"speaking_rate"`
	Pitch                float64 `toml:"pitch"`
	SampleRateHertz      int     `toml:"sample_rate_hertz"`
	Temperature          float64 `toml:"temperature"`
	SynthesisTimeoutSecs int     `toml:"synthesis_timeout_seconds"`
	CloneTimeoutSecs     int     `toml:"clone_timeout_seconds"`
}

// IdentityConfig holds the two-hop credential exchange settings. The refresh
// secret is long-lived and rotated by the identity provider on every use.
type IdentityConfig struct {
	TokenEndpoint string `toml:"token_endpoint"`
	APIKey        string `toml:"api_key"`
	RefreshSecret string `toml:"refresh_secret"`
}

// RetryConfig parameterizes the resilient request executor.
type RetryConfig struct {
	MaxAttempts   int     `toml:"max_attempts"`
	BackoffBase   float64 `toml:"backoff_base"`
	BackoffUnitMS int     `toml:"backoff_unit_ms"`
}

// QueueConfig holds the NATS settings for the generation job stream.
type QueueConfig struct {
	URL          string `toml:"url"`
	Embedded     bool   `toml:"embedded"`
	StoreDir     string `toml:"store_dir"`
	StreamName   string `toml:"stream_name"`
	Subject      string `toml:"subject"`
	ConsumerName string `toml:"consumer_name"`
}

// CatalogConfig bounds the voice catalog cache.
type CatalogConfig struct {
	TTLMinutes int `toml:"ttl_minutes"`
}

// SessionsConfig holds the voice-cloning workflow settings.
type SessionsConfig struct {
	StagingDir string `toml:"staging_dir"`
}

// StorageConfig holds the per-user preference store settings. An empty path
// keeps preferences in memory only.
type StorageConfig struct {
	UserDBPath string `toml:"user_db_path"`
}

// PathsConfig holds the filesystem layout.
type PathsConfig struct {
	OutputDir   string `toml:"output_dir"`
	BaseLogsDir string `toml:"base_logs_dir"`
}

// LimitsConfig bounds user input and artifact lifetime.
type LimitsConfig struct {
	MaxTextChars       int `toml:"max_text_chars"`
	DeleteDelaySeconds int `toml:"delete_delay_seconds"`
}

// Config is the root configuration structure.
type Config struct {
	Inworld  InworldConfig  `toml:"inworld"`
	Identity IdentityConfig `toml:"identity"`
	Retry    RetryConfig    `toml:"retry"`
	Queue    QueueConfig    `toml:"queue"`
	Catalog  CatalogConfig  `toml:"catalog"`
	Sessions SessionsConfig `toml:"sessions"`
	Storage  StorageConfig  `toml:"storage"`
	Paths    PathsConfig    `toml:"paths"`
	Limits   LimitsConfig   `toml:"limits"`
}

// Load loads the configuration for the TTS bot and applies defaults for
// omitted values.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	return &cfg, nil
}

// ApplyDefaults fills any zero-valued tunables with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Limits.MaxTextChars <= 0 {
		c.Limits.MaxTextChars = DefaultMaxTextChars
	}

	if c.Limits.DeleteDelaySeconds <= 0 {
		c.Limits.DeleteDelaySeconds = DefaultDeleteDelaySeconds
	}

	if c.Catalog.TTLMinutes <= 0 {
		c.Catalog.TTLMinutes = DefaultCatalogTTLMinutes
	}

	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = DefaultRetryMaxAttempts
	}

	if c.Retry.BackoffBase <= 0 {
		c.Retry.BackoffBase = DefaultRetryBackoffBase
	}

	if c.Inworld.SpeakingRate <= 0 {
		c.Inworld.SpeakingRate = DefaultSpeakingRate
	}

	if c.Inworld.SampleRateHertz <= 0 {
		c.Inworld.SampleRateHertz = DefaultSampleRateHertz
	}
}
