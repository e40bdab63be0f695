// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/docket-pipeline/internal/docket"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendS3     = "s3"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Processing ProcessingConfig `mapstructure:"processing"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Storage    StorageConfig    `mapstructure:"storage"`
	DB         DBConfig         `mapstructure:"db"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// SchedulerConfig sizes the worker pool and its queue.
type SchedulerConfig struct {
	Workers    int `mapstructure:"workers"`
	QueueDepth int `mapstructure:"queue_depth"`
}

// ProcessingConfig bounds the per-case fan-out and lists jurisdictions served
// by the generic transformer in addition to the built-in ones.
type ProcessingConfig struct {
	FilingConcurrency     int      `mapstructure:"filing_concurrency"`
	AttachmentConcurrency int      `mapstructure:"attachment_concurrency"`
	ExtraJurisdictions    []string `mapstructure:"extra_jurisdictions"`
}

// FetchConfig configures attachment downloads.
type FetchConfig struct {
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxAttempts      int    `mapstructure:"max_attempts"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
	MaxBytes         int64  `mapstructure:"max_bytes"`
	SpoolMemoryBytes int64  `mapstructure:"spool_memory_bytes"`
	TempDir          string `mapstructure:"temp_dir"`
	UserAgent        string `mapstructure:"user_agent"`
	// HostRPS caps requests per second to any single attachment host. Zero
	// disables the limit.
	HostRPS   float64 `mapstructure:"host_rps"`
	HostBurst int     `mapstructure:"host_burst"`
}

// StorageConfig selects the object store backend.
type StorageConfig struct {
	Backend      string   `mapstructure:"backend"`
	BaseDir      string   `mapstructure:"base_dir"`
	GCSBucket    string   `mapstructure:"gcs_bucket"`
	ReadAttempts int      `mapstructure:"read_attempts"`
	S3           S3Config `mapstructure:"s3"`
}

// S3Config holds S3-compatible bucket settings.
type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// DBConfig controls access to the outcome mirror database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// EnrichmentConfig points at an OpenAI-compatible chat completions endpoint.
type EnrichmentConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DOCKETS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.queue_depth", 256)
	v.SetDefault("processing.filing_concurrency", 5)
	v.SetDefault("processing.attachment_concurrency", 10)
	v.SetDefault("processing.extra_jurisdictions", []string{})
	v.SetDefault("fetch.timeout_seconds", 60)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.backoff_initial_ms", 250)
	v.SetDefault("fetch.backoff_max_ms", 5000)
	v.SetDefault("fetch.max_bytes", int64(512<<20))
	v.SetDefault("fetch.spool_memory_bytes", int64(8<<20))
	v.SetDefault("fetch.temp_dir", "")
	v.SetDefault("fetch.user_agent", "docket-pipeline/0.1")
	v.SetDefault("fetch.host_rps", 4.0)
	v.SetDefault("fetch.host_burst", 4)
	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.base_dir", "")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.read_attempts", 3)
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.region", "")
	v.SetDefault("storage.s3.access_key", "")
	v.SetDefault("storage.s3.secret_key", "")
	v.SetDefault("storage.s3.bucket", "")
	v.SetDefault("storage.s3.use_ssl", true)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "case_outcomes")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("enrichment.enabled", false)
	v.SetDefault("enrichment.endpoint", "")
	v.SetDefault("enrichment.api_key", "")
	v.SetDefault("enrichment.model", "")
	v.SetDefault("enrichment.timeout_seconds", 20)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.workers must be > 0")
	}
	if c.Scheduler.QueueDepth <= 0 {
		return fmt.Errorf("scheduler.queue_depth must be > 0")
	}
	if c.Processing.FilingConcurrency <= 0 || c.Processing.AttachmentConcurrency <= 0 {
		return fmt.Errorf("processing concurrency limits must be > 0")
	}
	for _, k := range c.Processing.ExtraJurisdictions {
		if _, err := docket.ParseJurisdictionKey(k); err != nil {
			return fmt.Errorf("processing.extra_jurisdictions: %w", err)
		}
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	if c.Fetch.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.max_attempts must be > 0")
	}
	if c.Fetch.MaxBytes <= 0 {
		return fmt.Errorf("fetch.max_bytes must be > 0")
	}
	if c.Fetch.HostRPS < 0 {
		return fmt.Errorf("fetch.host_rps must be >= 0")
	}
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendLocal:
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	case BackendS3:
		if c.Storage.S3.Endpoint == "" || c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.endpoint and storage.s3.bucket must be set for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	if c.Enrichment.Enabled && (c.Enrichment.Endpoint == "" || c.Enrichment.Model == "") {
		return fmt.Errorf("enrichment.endpoint and enrichment.model must be set when enrichment is enabled")
	}
	return nil
}

// ExtraJurisdictionKeys parses Processing.ExtraJurisdictions. Call Validate
// first; invalid entries are skipped.
func (c Config) ExtraJurisdictionKeys() []docket.JurisdictionKey {
	keys := make([]docket.JurisdictionKey, 0, len(c.Processing.ExtraJurisdictions))
	for _, s := range c.Processing.ExtraJurisdictions {
		if k, err := docket.ParseJurisdictionKey(s); err == nil {
			keys = append(keys, k)
		}
	}
	return keys
}

// FetchTimeout is the per-attempt download timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}
