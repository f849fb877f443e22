package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"veracity-soc/internal/schema"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Kafka.Topic != "veracity.logs.raw" {
		t.Errorf("Kafka.Topic = %q", cfg.Kafka.Topic)
	}
	if cfg.ClickHouse.Database != "veracity" {
		t.Errorf("ClickHouse.Database = %q", cfg.ClickHouse.Database)
	}
	if cfg.Alerting.Dispatcher.MinSeverity != schema.SeverityHigh {
		t.Errorf("MinSeverity = %q", cfg.Alerting.Dispatcher.MinSeverity)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  http_port: 9090
clickhouse:
  hosts: ["ch1:9000", "ch2:9000"]
  database: veracity_test
scoring:
  pre_filter_bar: 0.3
deep_analysis:
  url: http://analysis:8000/v1/assess
  timeout: 500ms
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VERACITY_CONFIG_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.HTTPPort != 9090 {
		t.Errorf("HTTPPort = %d, want 9090", cfg.Server.HTTPPort)
	}
	if len(cfg.ClickHouse.Hosts) != 2 {
		t.Errorf("Hosts = %v", cfg.ClickHouse.Hosts)
	}
	if cfg.ClickHouse.Database != "veracity_test" {
		t.Errorf("Database = %q", cfg.ClickHouse.Database)
	}
	if cfg.Deep.Timeout != 500*time.Millisecond {
		t.Errorf("Deep.Timeout = %v", cfg.Deep.Timeout)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
	// Sections absent from the file keep their defaults.
	if cfg.Pipeline.Workers != 4 {
		t.Errorf("Pipeline.Workers = %d, want 4", cfg.Pipeline.Workers)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("VERACITY_CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("HTTPPort = %d, want default 8080", cfg.Server.HTTPPort)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("VERACITY_CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("CLICKHOUSE_HOST", "ch:9000")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("VERACITY_LOG_LEVEL", "warn")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[0] != "k1:9092" {
		t.Errorf("Brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.ClickHouse.Hosts[0] != "ch:9000" {
		t.Errorf("Hosts = %v", cfg.ClickHouse.Hosts)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "redis:6379" {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Level = %q", cfg.Logging.Level)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.HTTPPort = 0 }},
		{"no brokers", func(c *Config) { c.Kafka.Brokers = nil }},
		{"no clickhouse hosts", func(c *Config) { c.ClickHouse.Hosts = nil }},
		{"no workers", func(c *Config) { c.Pipeline.Workers = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}
