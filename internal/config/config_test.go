package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Server:  ServerConfig{Port: 8080},
		Scraper: ScraperConfig{Name: "bigbox", Retailer: "BigBox", Type: "ps", Concurrency: 4, BatchSize: 20},
		Redis: RedisConfig{
			URL:        "redis://localhost:6379/0",
			PendingKey: "source_urls_temp",
			SeenSetKey: "seen_product_urls",
		},
		Writer: WriterConfig{BulkThreshold: 100, MaxAttempts: 3},
		Sink:   SinkConfig{Backend: "memory"},
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
scraper:
  name: bigbox
  retailer: BigBox
redis:
  url: redis://localhost:6379/0
sink:
  backend: memory
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "ps", cfg.Scraper.Type)
	require.Equal(t, 4, cfg.Scraper.Concurrency)
	require.Equal(t, 20, cfg.Scraper.BatchSize)
	require.Equal(t, 2, cfg.Scraper.MaxRetries)
	require.Equal(t, "source_urls_temp", cfg.Redis.PendingKey)
	require.Equal(t, "source_urls_failed", cfg.Redis.DeadLetterKey)
	require.Equal(t, "seen_product_urls", cfg.Redis.SeenSetKey)
	require.Equal(t, 100, cfg.Writer.BulkThreshold)
	require.Equal(t, 3, cfg.Writer.MaxAttempts)
	require.Equal(t, 3*time.Second, cfg.Writer.RetryDelay())
	require.Equal(t, 10*time.Minute, cfg.Writer.Cooldown())
	require.Equal(t, 30*time.Second, cfg.Redis.OpTimeout())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
scraper:
  name: bigbox
  retailer: BigBox
  concurrency: 8
  batch_size: 50
  max_retries: 5
redis:
  url: redis://shared:6379/2
  pending_key: custom_pending
writer:
  bulk_threshold: 250
  cooldown_minutes: 2
sink:
  backend: gcs
  bucket: harvest-output
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 8, cfg.Scraper.Concurrency)
	require.Equal(t, 50, cfg.Scraper.BatchSize)
	require.Equal(t, 5, cfg.Scraper.MaxRetries)
	require.Equal(t, "custom_pending", cfg.Redis.PendingKey)
	require.Equal(t, 250, cfg.Writer.BulkThreshold)
	require.Equal(t, 2*time.Minute, cfg.Writer.Cooldown())
	require.Equal(t, "gcs", cfg.Sink.Backend)
	require.Equal(t, "harvest-output", cfg.Sink.Bucket)
}

func TestLoad_MissingFileFails(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"zero port", func(c *Config) { c.Server.Port = 0 }, false},
		{"zero concurrency", func(c *Config) { c.Scraper.Concurrency = 0 }, false},
		{"zero batch size", func(c *Config) { c.Scraper.BatchSize = 0 }, false},
		{"negative retries", func(c *Config) { c.Scraper.MaxRetries = -1 }, false},
		{"meta scraper type", func(c *Config) { c.Scraper.Type = "meta" }, true},
		{"unknown scraper type", func(c *Config) { c.Scraper.Type = "pricing" }, false},
		{"empty scraper type", func(c *Config) { c.Scraper.Type = "" }, false},
		{"zero threshold", func(c *Config) { c.Writer.BulkThreshold = 0 }, false},
		{"zero attempts", func(c *Config) { c.Writer.MaxAttempts = 0 }, false},
		{"missing redis url", func(c *Config) { c.Redis.URL = "" }, false},
		{"missing seen set", func(c *Config) { c.Redis.SeenSetKey = "" }, false},
		{"unknown sink", func(c *Config) { c.Sink.Backend = "tape" }, false},
		{"s3 without bucket", func(c *Config) { c.Sink.Backend = "s3" }, false},
		{"s3 with bucket", func(c *Config) { c.Sink.Backend = "s3"; c.Sink.Bucket = "b" }, true},
		{"pubsub without project", func(c *Config) { c.Events.Backend = "pubsub" }, false},
		{"pubsub configured", func(c *Config) {
			c.Events = EventsConfig{Backend: "pubsub", ProjectID: "p", TopicName: "t"}
		}, true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}
