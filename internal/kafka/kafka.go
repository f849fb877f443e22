// Package kafka wraps segmentio/kafka-go with the configuration,
// consumer group, and topic management used by the log pipeline.
package kafka

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
)

// Config holds broker addresses, security settings, and tuning knobs
// shared by the producer, consumers, and admin client.
type Config struct {
	Brokers       []string `json:"brokers" yaml:"brokers"`
	Topic         string   `json:"topic" yaml:"topic"`
	ConsumerGroup string   `json:"consumer_group" yaml:"consumer_group"`

	// Topic creation parameters, used by EnsureTopic at startup.
	Partitions        int   `json:"partitions" yaml:"partitions"`
	ReplicationFactor int   `json:"replication_factor" yaml:"replication_factor"`
	RetentionMs       int64 `json:"retention_ms" yaml:"retention_ms"`

	// Compression is one of none, gzip, snappy, lz4, zstd.
	Compression string `json:"compression" yaml:"compression"`

	// SecurityProtocol is one of PLAINTEXT, SSL, SASL_PLAINTEXT, SASL_SSL.
	SecurityProtocol string `json:"security_protocol" yaml:"security_protocol"`
	SASLMechanism    string `json:"sasl_mechanism,omitempty" yaml:"sasl_mechanism,omitempty"`
	SASLUsername     string `json:"sasl_username,omitempty" yaml:"sasl_username,omitempty"`
	SASLPassword     string `json:"sasl_password,omitempty" yaml:"sasl_password,omitempty"`

	TLSCAFile     string `json:"tls_ca_file,omitempty" yaml:"tls_ca_file,omitempty"`
	TLSCertFile   string `json:"tls_cert_file,omitempty" yaml:"tls_cert_file,omitempty"`
	TLSKeyFile    string `json:"tls_key_file,omitempty" yaml:"tls_key_file,omitempty"`
	TLSSkipVerify bool   `json:"tls_skip_verify,omitempty" yaml:"tls_skip_verify,omitempty"`

	// Producer tuning.
	BatchSize    int           `json:"batch_size" yaml:"batch_size"`
	BatchTimeout time.Duration `json:"batch_timeout" yaml:"batch_timeout"`
	MaxRetries   int           `json:"max_retries" yaml:"max_retries"`
	RequiredAcks int           `json:"required_acks" yaml:"required_acks"`

	// Consumer tuning.
	MinBytes         int           `json:"min_bytes" yaml:"min_bytes"`
	MaxBytes         int           `json:"max_bytes" yaml:"max_bytes"`
	MaxWait          time.Duration `json:"max_wait" yaml:"max_wait"`
	CommitInterval   time.Duration `json:"commit_interval" yaml:"commit_interval"`
	StartOffset      int64         `json:"start_offset" yaml:"start_offset"`
	SessionTimeout   time.Duration `json:"session_timeout" yaml:"session_timeout"`
	RebalanceTimeout time.Duration `json:"rebalance_timeout" yaml:"rebalance_timeout"`

	DialTimeout  time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
}

// DefaultConfig returns a Config suitable for a local single-broker setup.
func DefaultConfig() *Config {
	return &Config{
		Brokers:           []string{"localhost:9092"},
		Topic:             "veracity.logs.raw",
		ConsumerGroup:     "veracity-pipeline",
		Partitions:        12,
		ReplicationFactor: 3,
		RetentionMs:       7 * 24 * 60 * 60 * 1000,
		Compression:       "lz4",
		SecurityProtocol:  "PLAINTEXT",
		BatchSize:         100,
		BatchTimeout:      10 * time.Millisecond,
		MaxRetries:        3,
		RequiredAcks:      -1,
		MinBytes:          1,
		MaxBytes:          10 * 1024 * 1024,
		MaxWait:           500 * time.Millisecond,
		CommitInterval:    time.Second,
		StartOffset:       kafka.LastOffset,
		SessionTimeout:    30 * time.Second,
		RebalanceTimeout:  60 * time.Second,
		DialTimeout:       10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka: at least one broker is required")
	}
	if c.Topic == "" {
		return errors.New("kafka: topic is required")
	}
	if c.Partitions < 1 {
		return errors.New("kafka: partitions must be at least 1")
	}
	if c.ReplicationFactor < 1 {
		return errors.New("kafka: replication factor must be at least 1")
	}

	switch c.SecurityProtocol {
	case "PLAINTEXT", "SSL":
	case "SASL_PLAINTEXT", "SASL_SSL":
		switch c.SASLMechanism {
		case "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512":
		default:
			return fmt.Errorf("kafka: unsupported SASL mechanism %q", c.SASLMechanism)
		}
		if c.SASLUsername == "" || c.SASLPassword == "" {
			return errors.New("kafka: SASL credentials are required")
		}
	default:
		return fmt.Errorf("kafka: unsupported security protocol %q", c.SecurityProtocol)
	}

	return nil
}

func (c *Config) useTLS() bool {
	return c.SecurityProtocol == "SSL" || c.SecurityProtocol == "SASL_SSL"
}

func (c *Config) useSASL() bool {
	return c.SecurityProtocol == "SASL_PLAINTEXT" || c.SecurityProtocol == "SASL_SSL"
}

func (c *Config) compression() kafka.Compression {
	switch c.Compression {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return 0
	}
}

// dialer builds a kafka.Dialer with TLS and SASL applied per the
// configured security protocol.
func (c *Config) dialer() (*kafka.Dialer, error) {
	d := &kafka.Dialer{
		Timeout:   c.DialTimeout,
		DualStack: true,
	}

	if c.useTLS() {
		tc, err := c.tlsConfig()
		if err != nil {
			return nil, fmt.Errorf("kafka: tls setup: %w", err)
		}
		d.TLS = tc
	}

	if c.useSASL() {
		mech, err := c.saslMechanism()
		if err != nil {
			return nil, fmt.Errorf("kafka: sasl setup: %w", err)
		}
		d.SASLMechanism = mech
	}

	return d, nil
}

func (c *Config) tlsConfig() (*tls.Config, error) {
	tc := &tls.Config{
		InsecureSkipVerify: c.TLSSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}

	if c.TLSCAFile != "" {
		pem, err := os.ReadFile(c.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("parse CA certificate")
		}
		tc.RootCAs = pool
	}

	if c.TLSCertFile != "" && c.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(c.TLSCertFile, c.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tc.Certificates = []tls.Certificate{cert}
	}

	return tc, nil
}

func (c *Config) saslMechanism() (sasl.Mechanism, error) {
	switch c.SASLMechanism {
	case "PLAIN":
		return plain.Mechanism{Username: c.SASLUsername, Password: c.SASLPassword}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, c.SASLUsername, c.SASLPassword)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, c.SASLUsername, c.SASLPassword)
	default:
		return nil, fmt.Errorf("unsupported SASL mechanism %q", c.SASLMechanism)
	}
}

// ErrProducerClosed is returned when producing after Close.
var ErrProducerClosed = errors.New("kafka: producer is closed")
