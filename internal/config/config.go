// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Czech     CzechConfig     `mapstructure:"czech"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the admin HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls access to the entity database. An empty DSN selects the
// in-memory store, useful for local runs.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// PubSubConfig holds metadata for status-change notifications. Empty project
// or topic disables the Pub/Sub notifier.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// ArchiveConfig controls the raw response archive. An empty bucket disables it.
type ArchiveConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// SchedulerConfig governs the polling scheduler.
type SchedulerConfig struct {
	MaxConcurrent        int64  `mapstructure:"max_concurrent"`
	DefaultInterval      string `mapstructure:"default_interval"`
	ShutdownGraceSeconds int    `mapstructure:"shutdown_grace_seconds"`
}

// EngineConfig tunes poll result handling.
type EngineConfig struct {
	QueryTimeoutSeconds int  `mapstructure:"query_timeout_seconds"`
	AcceptSimulated     bool `mapstructure:"accept_simulated"`
	NotifyInitial       bool `mapstructure:"notify_initial"`
}

// HeadlessConfig configures the headless rendering fallback.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// CzechConfig overrides the Czech plugin endpoints.
type CzechConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	TestURL   string `mapstructure:"test_url"`
	UserAgent string `mapstructure:"user_agent"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("VISAWATCH")
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
	v.SetDefault("archive.prefix", "raw")
	v.SetDefault("scheduler.max_concurrent", 8)
	v.SetDefault("scheduler.default_interval", "1h")
	v.SetDefault("scheduler.shutdown_grace_seconds", 30)
	v.SetDefault("engine.query_timeout_seconds", 30)
	v.SetDefault("engine.accept_simulated", false)
	v.SetDefault("engine.notify_initial", false)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("czech.user_agent", "visawatch-bot/0.1")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scheduler.MaxConcurrent <= 0 {
		return fmt.Errorf("scheduler.max_concurrent must be > 0")
	}
	if c.Scheduler.DefaultInterval == "" {
		return fmt.Errorf("scheduler.default_interval is required")
	}
	if c.Engine.QueryTimeoutSeconds <= 0 {
		return fmt.Errorf("engine.query_timeout_seconds must be > 0")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicID == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_id must be set together")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	return nil
}
