package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/segmentio/kafka-go"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Topic != "veracity.logs.raw" {
		t.Errorf("Topic = %q, want veracity.logs.raw", cfg.Topic)
	}
	if cfg.ConsumerGroup != "veracity-pipeline" {
		t.Errorf("ConsumerGroup = %q, want veracity-pipeline", cfg.ConsumerGroup)
	}
	if cfg.StartOffset != kafka.LastOffset {
		t.Errorf("StartOffset = %d, want LastOffset", cfg.StartOffset)
	}
	if cfg.RequiredAcks != -1 {
		t.Errorf("RequiredAcks = %d, want -1", cfg.RequiredAcks)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"no brokers", func(c *Config) { c.Brokers = nil }, true},
		{"no topic", func(c *Config) { c.Topic = "" }, true},
		{"zero partitions", func(c *Config) { c.Partitions = 0 }, true},
		{"zero replication", func(c *Config) { c.ReplicationFactor = 0 }, true},
		{"bad protocol", func(c *Config) { c.SecurityProtocol = "KERBEROS" }, true},
		{"sasl without mechanism", func(c *Config) {
			c.SecurityProtocol = "SASL_PLAINTEXT"
		}, true},
		{"sasl without credentials", func(c *Config) {
			c.SecurityProtocol = "SASL_PLAINTEXT"
			c.SASLMechanism = "PLAIN"
		}, true},
		{"sasl plain", func(c *Config) {
			c.SecurityProtocol = "SASL_SSL"
			c.SASLMechanism = "SCRAM-SHA-512"
			c.SASLUsername = "svc"
			c.SASLPassword = "secret"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCompressionMapping(t *testing.T) {
	tests := []struct {
		name string
		want kafka.Compression
	}{
		{"gzip", kafka.Gzip},
		{"snappy", kafka.Snappy},
		{"lz4", kafka.Lz4},
		{"zstd", kafka.Zstd},
		{"none", 0},
		{"", 0},
	}

	for _, tt := range tests {
		cfg := DefaultConfig()
		cfg.Compression = tt.name
		if got := cfg.compression(); got != tt.want {
			t.Errorf("compression(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestDialerSASLPlain(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SecurityProtocol = "SASL_PLAINTEXT"
	cfg.SASLMechanism = "PLAIN"
	cfg.SASLUsername = "svc"
	cfg.SASLPassword = "secret"

	d, err := cfg.dialer()
	if err != nil {
		t.Fatalf("dialer() error: %v", err)
	}
	if d.SASLMechanism == nil {
		t.Error("expected SASL mechanism on dialer")
	}
	if d.TLS != nil {
		t.Error("SASL_PLAINTEXT should not enable TLS")
	}
}

func TestDialerTLS(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SecurityProtocol = "SSL"
	cfg.TLSSkipVerify = true

	d, err := cfg.dialer()
	if err != nil {
		t.Fatalf("dialer() error: %v", err)
	}
	if d.TLS == nil {
		t.Fatal("expected TLS config on dialer")
	}
	if !d.TLS.InsecureSkipVerify {
		t.Error("expected InsecureSkipVerify to carry through")
	}
	if d.TLS.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion = %d, want TLS 1.2", d.TLS.MinVersion)
	}
}

func TestDialerRejectsUnknownMechanism(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SecurityProtocol = "SASL_PLAINTEXT"
	cfg.SASLMechanism = "GSSAPI"

	if _, err := cfg.dialer(); err == nil {
		t.Error("expected error for unknown SASL mechanism")
	}
}

func TestProducerClosed(t *testing.T) {
	p, err := NewProducer(DefaultConfig(), testLogger())
	if err != nil {
		t.Fatalf("NewProducer error: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}

	err = p.Produce(context.Background(), []byte("k"), []byte("v"))
	if !errors.Is(err, ErrProducerClosed) {
		t.Errorf("Produce after Close = %v, want ErrProducerClosed", err)
	}
	err = p.ProduceWithTopic(context.Background(), "other", []byte("k"), []byte("v"))
	if !errors.Is(err, ErrProducerClosed) {
		t.Errorf("ProduceWithTopic after Close = %v, want ErrProducerClosed", err)
	}
}

func TestNewConsumerValidation(t *testing.T) {
	handler := func(ctx context.Context, msg Message) error { return nil }

	if _, err := NewConsumer(DefaultConfig(), nil, testLogger()); err == nil {
		t.Error("expected error for nil handler")
	}

	cfg := DefaultConfig()
	cfg.ConsumerGroup = ""
	if _, err := NewConsumer(cfg, handler, testLogger()); err == nil {
		t.Error("expected error for empty consumer group")
	}

	cfg = DefaultConfig()
	cfg.Brokers = nil
	if _, err := NewConsumer(cfg, handler, testLogger()); err == nil {
		t.Error("expected error for empty brokers")
	}
}

func TestConsumerGroupLifecycle(t *testing.T) {
	handler := func(ctx context.Context, msg Message) error { return nil }

	if _, err := NewConsumerGroup(DefaultConfig(), 0, handler, testLogger()); err == nil {
		t.Error("expected error for zero size")
	}

	g, err := NewConsumerGroup(DefaultConfig(), 3, handler, testLogger())
	if err != nil {
		t.Fatalf("NewConsumerGroup error: %v", err)
	}
	if len(g.consumers) != 3 {
		t.Errorf("consumers = %d, want 3", len(g.consumers))
	}

	// Stop before Start is a no-op and must not panic or close readers.
	g.Stop()
}
