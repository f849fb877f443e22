package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/segmentio/kafka-go"
)

// Admin performs topic management against the cluster controller.
type Admin struct {
	cfg    *Config
	logger *slog.Logger
}

// NewAdmin builds an admin client from the shared config.
func NewAdmin(cfg *Config, logger *slog.Logger) (*Admin, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Admin{cfg: cfg, logger: logger.With("component", "kafka-admin")}, nil
}

// TopicConfig describes a topic to create.
type TopicConfig struct {
	Name              string
	Partitions        int
	ReplicationFactor int
	RetentionMs       int64
	CleanupPolicy     string
}

// EnsureTopic creates the topic unless it already exists.
func (a *Admin) EnsureTopic(ctx context.Context, tc TopicConfig) error {
	dialer, err := a.cfg.dialer()
	if err != nil {
		return err
	}

	conn, err := dialer.DialContext(ctx, "tcp", a.cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("kafka: connect to broker: %w", err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return fmt.Errorf("kafka: read partitions: %w", err)
	}
	for _, p := range partitions {
		if p.Topic == tc.Name {
			a.logger.Debug("topic exists", "topic", tc.Name)
			return nil
		}
	}

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("kafka: resolve controller: %w", err)
	}
	addr := net.JoinHostPort(controller.Host, fmt.Sprintf("%d", controller.Port))

	ctrl, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("kafka: connect to controller: %w", err)
	}
	defer ctrl.Close()

	entries := []kafka.ConfigEntry{
		{ConfigName: "retention.ms", ConfigValue: fmt.Sprintf("%d", tc.RetentionMs)},
	}
	if tc.CleanupPolicy != "" {
		entries = append(entries, kafka.ConfigEntry{
			ConfigName:  "cleanup.policy",
			ConfigValue: tc.CleanupPolicy,
		})
	}

	err = ctrl.CreateTopics(kafka.TopicConfig{
		Topic:             tc.Name,
		NumPartitions:     tc.Partitions,
		ReplicationFactor: tc.ReplicationFactor,
		ConfigEntries:     entries,
	})
	if err != nil {
		return fmt.Errorf("kafka: create topic %s: %w", tc.Name, err)
	}

	a.logger.Info("topic created",
		"topic", tc.Name,
		"partitions", tc.Partitions,
		"replication_factor", tc.ReplicationFactor,
	)
	return nil
}
