// Package config handles configuration loading for the veracity services.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"veracity-soc/internal/alerting"
	"veracity-soc/internal/groundtruth"
	"veracity-soc/internal/kafka"
	"veracity-soc/internal/scoring"
	"veracity-soc/internal/stats"
	"veracity-soc/internal/storage"
	"veracity-soc/internal/storage/s3"
)

// Config holds the complete application configuration.
type Config struct {
	Server      ServerConfig                 `yaml:"server"`
	Kafka       kafka.Config                 `yaml:"kafka"`
	ClickHouse  storage.ClickHouseConfig     `yaml:"clickhouse"`
	BatchWriter storage.BatchWriterConfig    `yaml:"batch_writer"`
	Redis       RedisConfig                  `yaml:"redis"`
	NATS        NATSConfig                   `yaml:"nats"`
	Scoring     scoring.ScorerConfig         `yaml:"scoring"`
	Deep        scoring.DeepConfig           `yaml:"deep_analysis"`
	Pipeline    PipelineConfig               `yaml:"pipeline"`
	Reconciler  groundtruth.ReconcilerConfig `yaml:"reconciler"`
	Feeds       groundtruth.FeedsConfig      `yaml:"feeds"`
	Stats       stats.EngineConfig           `yaml:"stats"`
	Alerting    AlertingConfig               `yaml:"alerting"`
	Retention   storage.RetentionConfig      `yaml:"retention"`
	Archive     ArchiveConfig                `yaml:"archive"`
	Logging     LoggingConfig                `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	HTTPPort     int           `yaml:"http_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// RedisConfig holds Redis connection settings for the scoring context.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NATSConfig holds NATS connection settings for the ground-truth feeds.
type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// PipelineConfig holds scoring pipeline settings.
type PipelineConfig struct {
	Workers      int           `yaml:"workers"`
	ShutdownWait time.Duration `yaml:"shutdown_wait"`
}

// AlertingConfig holds alert dispatch settings.
type AlertingConfig struct {
	Dispatcher alerting.DispatcherConfig `yaml:"dispatcher"`
	Webhooks   []WebhookConfig           `yaml:"webhooks"`
	Slack      SlackConfig               `yaml:"slack"`
	KafkaTopic string                    `yaml:"kafka_topic"`
	LogAlerts  bool                      `yaml:"log_alerts"`
}

// WebhookConfig describes one webhook alert destination.
type WebhookConfig struct {
	Name    string            `yaml:"name"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

// SlackConfig holds Slack alert destination settings.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
}

// ArchiveConfig holds cold-storage archival settings.
type ArchiveConfig struct {
	Enabled bool                        `yaml:"enabled"`
	S3      s3.Config                   `yaml:"s3"`
	Worker  storage.ArchiveWorkerConfig `yaml:"worker"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:     8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Kafka:       *kafka.DefaultConfig(),
		ClickHouse:  storage.DefaultClickHouseConfig(),
		BatchWriter: storage.DefaultBatchWriterConfig(),
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
		},
		NATS: NATSConfig{
			Enabled: false,
			URL:     "nats://localhost:4222",
		},
		Scoring: scoring.DefaultScorerConfig(),
		Deep:    scoring.DefaultDeepConfig(),
		Pipeline: PipelineConfig{
			Workers:      4,
			ShutdownWait: 30 * time.Second,
		},
		Reconciler: groundtruth.DefaultReconcilerConfig(),
		Feeds:      groundtruth.DefaultFeedsConfig(),
		Stats:      stats.DefaultEngineConfig(),
		Alerting: AlertingConfig{
			Dispatcher: alerting.DefaultDispatcherConfig(),
			KafkaTopic: "veracity.alerts",
			LogAlerts:  true,
		},
		Retention: storage.DefaultRetentionConfig(),
		Archive: ArchiveConfig{
			Enabled: false,
			S3:      *s3.DefaultConfig(),
			Worker:  storage.DefaultArchiveWorkerConfig(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a file or returns defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := os.Getenv("VERACITY_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("VERACITY_HTTP_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.Server.HTTPPort)
	}

	if level := os.Getenv("VERACITY_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = splitAndTrim(brokers, ",")
	}

	if host := os.Getenv("CLICKHOUSE_HOST"); host != "" {
		c.ClickHouse.Hosts = []string{host}
	}

	if db := os.Getenv("CLICKHOUSE_DATABASE"); db != "" {
		c.ClickHouse.Database = db
	}

	if user := os.Getenv("CLICKHOUSE_USER"); user != "" {
		c.ClickHouse.Username = user
	}

	if pass := os.Getenv("CLICKHOUSE_PASSWORD"); pass != "" {
		c.ClickHouse.Password = pass
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
		c.Redis.Enabled = true
	}

	if url := os.Getenv("NATS_URL"); url != "" {
		c.NATS.URL = url
		c.NATS.Enabled = true
	}

	if key := os.Getenv("VERACITY_DEEP_API_KEY"); key != "" {
		c.Deep.APIKey = key
	}

	if url := os.Getenv("VERACITY_DEEP_URL"); url != "" {
		c.Deep.URL = url
	}
}

// splitAndTrim splits a string by separator and drops empty parts.
func splitAndTrim(s, sep string) []string {
	parts := make([]string, 0)
	for _, part := range strings.Split(s, sep) {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.Server.HTTPPort)
	}

	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers must not be empty")
	}

	if len(c.ClickHouse.Hosts) == 0 {
		return fmt.Errorf("clickhouse hosts must not be empty")
	}

	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline workers must be positive")
	}

	if c.Archive.Enabled {
		if err := c.Archive.S3.Validate(); err != nil {
			return fmt.Errorf("archive s3: %w", err)
		}
	}

	return nil
}
