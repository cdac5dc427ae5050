// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Scraper ScraperConfig `mapstructure:"scraper"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Writer  WriterConfig  `mapstructure:"writer"`
	Sink    SinkConfig    `mapstructure:"sink"`
	DB      DBConfig      `mapstructure:"db"`
	Events  EventsConfig  `mapstructure:"events"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the management HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// ScraperConfig governs the worker pool and item consumption. Type
// selects the record shape the scraper emits: "ps" for daily pricing,
// "meta" for product metadata.
type ScraperConfig struct {
	Name         string   `mapstructure:"name"`
	Retailer     string   `mapstructure:"retailer"`
	Type         string   `mapstructure:"type"`
	Concurrency  int      `mapstructure:"concurrency"`
	BatchSize    int      `mapstructure:"batch_size"`
	MaxRetries   int      `mapstructure:"max_retries"`
	IdleDelaySec int      `mapstructure:"idle_delay_seconds"`
	ProxyIDs     []string `mapstructure:"proxy_ids"`
}

// RedisConfig names the shared store and its keys.
type RedisConfig struct {
	URL           string `mapstructure:"url"`
	PendingKey    string `mapstructure:"pending_key"`
	DeadLetterKey string `mapstructure:"dead_letter_key"`
	SeenSetKey    string `mapstructure:"seen_set_key"`
	StateKey      string `mapstructure:"state_key"`
	OpTimeoutSec  int    `mapstructure:"op_timeout_seconds"`
}

// WriterConfig tunes the batch writer flush state machine.
type WriterConfig struct {
	BulkThreshold   int `mapstructure:"bulk_threshold"`
	MaxBuffer       int `mapstructure:"max_buffer"`
	MaxAttempts     int `mapstructure:"max_attempts"`
	RetryDelaySec   int `mapstructure:"retry_delay_seconds"`
	CooldownMinutes int `mapstructure:"cooldown_minutes"`
}

// SinkConfig selects and configures the durable blob sink.
type SinkConfig struct {
	Backend      string `mapstructure:"backend"`
	Bucket       string `mapstructure:"bucket"`
	SeenPrefix   string `mapstructure:"seen_prefix"`
	UnseenPrefix string `mapstructure:"unseen_prefix"`
}

// DBConfig controls access to the scraper configuration database.
type DBConfig struct {
	DSN     string `mapstructure:"dsn"`
	Enabled bool   `mapstructure:"enabled"`
}

// EventsConfig holds metadata for publish-subscribe notifications.
type EventsConfig struct {
	Backend   string `mapstructure:"backend"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// HTTPConfig configures the page fetcher.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
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
	v.SetDefault("scraper.type", "ps")
	v.SetDefault("scraper.concurrency", 4)
	v.SetDefault("scraper.batch_size", 20)
	v.SetDefault("scraper.max_retries", 2)
	v.SetDefault("scraper.idle_delay_seconds", 5)
	v.SetDefault("redis.pending_key", "source_urls_temp")
	v.SetDefault("redis.dead_letter_key", "source_urls_failed")
	v.SetDefault("redis.seen_set_key", "seen_product_urls")
	v.SetDefault("redis.op_timeout_seconds", 30)
	v.SetDefault("writer.bulk_threshold", 100)
	v.SetDefault("writer.max_buffer", 0)
	v.SetDefault("writer.max_attempts", 3)
	v.SetDefault("writer.retry_delay_seconds", 3)
	v.SetDefault("writer.cooldown_minutes", 10)
	v.SetDefault("sink.backend", "s3")
	v.SetDefault("sink.seen_prefix", "daily_pricing")
	v.SetDefault("events.backend", "noop")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.user_agent", "harvester-bot/1.0")
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scraper.Concurrency <= 0 {
		return fmt.Errorf("scraper.concurrency must be > 0")
	}
	if c.Scraper.BatchSize <= 0 {
		return fmt.Errorf("scraper.batch_size must be > 0")
	}
	if c.Scraper.MaxRetries < 0 {
		return fmt.Errorf("scraper.max_retries must be >= 0")
	}
	switch c.Scraper.Type {
	case "ps", "meta":
	default:
		return fmt.Errorf("scraper.type must be ps or meta, got %q", c.Scraper.Type)
	}
	if c.Writer.BulkThreshold <= 0 {
		return fmt.Errorf("writer.bulk_threshold must be > 0")
	}
	if c.Writer.MaxAttempts <= 0 {
		return fmt.Errorf("writer.max_attempts must be > 0")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("redis.url must be set")
	}
	if c.Redis.PendingKey == "" || c.Redis.SeenSetKey == "" {
		return fmt.Errorf("redis key names must be set")
	}
	switch c.Sink.Backend {
	case "s3", "gcs", "memory":
	default:
		return fmt.Errorf("unknown sink backend: %s", c.Sink.Backend)
	}
	if c.Sink.Backend != "memory" && c.Sink.Bucket == "" {
		return fmt.Errorf("sink.bucket must be set for backend %s", c.Sink.Backend)
	}
	if c.Events.Backend == "pubsub" && (c.Events.ProjectID == "" || c.Events.TopicName == "") {
		return fmt.Errorf("events.project_id and events.topic_name must be set for pubsub")
	}
	return nil
}

// OpTimeout converts the store timeout config into a duration.
func (c RedisConfig) OpTimeout() time.Duration {
	return time.Duration(c.OpTimeoutSec) * time.Second
}

// RetryDelay converts the writer retry delay config into a duration.
func (c WriterConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySec) * time.Second
}

// Cooldown converts the writer cooldown config into a duration.
func (c WriterConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownMinutes) * time.Minute
}
