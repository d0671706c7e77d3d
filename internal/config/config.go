// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/gearshed/camsync/internal/catalog"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig     `mapstructure:"server"`
	DB      DBConfig         `mapstructure:"db"`
	Sync    SyncConfig       `mapstructure:"sync"`
	HTTP    HTTPConfig       `mapstructure:"http"`
	Assets  AssetsConfig     `mapstructure:"assets"`
	Backup  BackupConfig     `mapstructure:"backup"`
	Monitor MonitorConfig    `mapstructure:"monitor"`
	PubSub  PubSubConfig     `mapstructure:"pubsub"`
	Logging LoggingConfig    `mapstructure:"logging"`
	Sources []catalog.Source `mapstructure:"sources"`
}

// ServerConfig controls the operator HTTP surface.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls access to the catalog database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// SyncConfig governs the discovery cycle.
type SyncConfig struct {
	DiscoveryIntervalHours int  `mapstructure:"discovery_interval_hours"`
	RunDiscoveryOnStart    bool `mapstructure:"run_discovery_on_start"`
	UpsertRetries          int  `mapstructure:"upsert_retries"`
	EnrichBatchSize        int  `mapstructure:"enrich_batch_size"`
}

// HTTPConfig configures source fetch retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	MaxRetries       int     `mapstructure:"max_retries"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	UserAgent        string  `mapstructure:"user_agent"`
	DefaultSourceRPS float64 `mapstructure:"default_source_rps"`
}

// AssetsConfig sets paths and limits for the image cache.
type AssetsConfig struct {
	ImagesDir            string   `mapstructure:"images_dir"`
	MaxConcurrentFetches int      `mapstructure:"max_concurrent_fetches"`
	MaxBytes             int64    `mapstructure:"max_bytes"`
	ThumbnailWidth       int      `mapstructure:"thumbnail_width"`
	AllowedLicenses      []string `mapstructure:"allowed_licenses"`
}

// BackupConfig controls snapshotting and retention.
type BackupConfig struct {
	Dir            string `mapstructure:"dir"`
	TimeOfDay      string `mapstructure:"time_of_day"`
	RetentionCount int    `mapstructure:"retention_count"`
	GCSBucket      string `mapstructure:"gcs_bucket"`
	GCSPrefix      string `mapstructure:"gcs_prefix"`
}

// MonitorConfig controls the read-only stats reporter.
type MonitorConfig struct {
	IntervalMinutes int `mapstructure:"interval_minutes"`
}

// PubSubConfig holds metadata for downstream change notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CAMSYNC")
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
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("sync.discovery_interval_hours", 6)
	v.SetDefault("sync.run_discovery_on_start", true)
	v.SetDefault("sync.upsert_retries", 2)
	v.SetDefault("sync.enrich_batch_size", 50)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("http.user_agent", "camsync-bot/1.0")
	v.SetDefault("http.default_source_rps", 0.5)
	v.SetDefault("assets.images_dir", "data/images")
	v.SetDefault("assets.max_concurrent_fetches", 4)
	v.SetDefault("assets.max_bytes", 10*1024*1024)
	v.SetDefault("assets.thumbnail_width", 320)
	v.SetDefault("backup.dir", "data/backups")
	v.SetDefault("backup.time_of_day", "03:30")
	v.SetDefault("backup.retention_count", 5)
	v.SetDefault("monitor.interval_minutes", 15)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Sync.DiscoveryIntervalHours <= 0 {
		return fmt.Errorf("sync.discovery_interval_hours must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.Assets.MaxConcurrentFetches <= 0 {
		return fmt.Errorf("assets.max_concurrent_fetches must be > 0")
	}
	if c.Backup.RetentionCount <= 0 {
		return fmt.Errorf("backup.retention_count must be > 0")
	}
	if _, err := ParseTimeOfDay(c.Backup.TimeOfDay); err != nil {
		return fmt.Errorf("backup.time_of_day: %w", err)
	}
	for i, src := range c.Sources {
		if src.Name == "" || src.URL == "" {
			return fmt.Errorf("sources[%d]: name and url are required", i)
		}
	}
	return nil
}

// DiscoveryInterval converts the configured hours into a duration.
func (c Config) DiscoveryInterval() time.Duration {
	return time.Duration(c.Sync.DiscoveryIntervalHours) * time.Hour
}

// FetchTimeout converts the HTTP timeout config into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// ParseTimeOfDay parses an "HH:MM" wall-clock string into an offset from
// midnight.
func ParseTimeOfDay(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse %q as HH:MM: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
