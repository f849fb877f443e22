// Package main is the entry point for the veracity detection service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"veracity-soc/internal/alerting"
	"veracity-soc/internal/config"
	"veracity-soc/internal/groundtruth"
	"veracity-soc/internal/kafka"
	"veracity-soc/internal/normalize"
	"veracity-soc/internal/pipeline"
	"veracity-soc/internal/schema"
	"veracity-soc/internal/scoring"
	"veracity-soc/internal/storage"
	"veracity-soc/internal/storage/s3"
	"veracity-soc/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := setupLogging(cfg.Logging)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"http_port", cfg.Server.HTTPPort,
		"kafka_topic", cfg.Kafka.Topic,
		"clickhouse_hosts", cfg.ClickHouse.Hosts,
		"redis_enabled", cfg.Redis.Enabled,
		"nats_enabled", cfg.NATS.Enabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	chClient, err := storage.NewClickHouseClient(cfg.ClickHouse)
	if err != nil {
		slog.Error("failed to connect to ClickHouse", "error", err)
		os.Exit(1)
	}

	slog.Info("running database migrations")
	if err := storage.NewMigrator(chClient).Run(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	batchWriter := storage.NewBatchWriter(chClient, cfg.BatchWriter)
	detectionStore := storage.NewDetectionStore(chClient, logger)
	groundTruthStore := storage.NewGroundTruthStore(chClient, logger)

	// Scoring
	provider, redisClient, err := buildContextProvider(ctx, cfg)
	if err != nil {
		slog.Error("failed to build scoring context provider", "error", err)
		os.Exit(1)
	}

	var deep scoring.DeepAnalyzer
	if cfg.Deep.URL != "" {
		deep = scoring.NewHTTPDeepAnalyzer(cfg.Deep)
	}

	scorer, err := scoring.NewScorer(cfg.Scoring, scoring.DefaultPatterns(),
		scoring.DefaultThresholdPolicy(), provider, deep, logger)
	if err != nil {
		slog.Error("failed to build scorer", "error", err)
		os.Exit(1)
	}

	// Alerting
	producer, err := kafka.NewProducer(&cfg.Kafka, logger)
	if err != nil {
		slog.Error("failed to create kafka producer", "error", err)
		os.Exit(1)
	}

	dispatcher := alerting.NewDispatcher(cfg.Alerting.Dispatcher,
		buildAlertChannels(cfg, producer, logger), logger)
	dispatcher.Start()

	// Pipeline
	metrics := telemetry.NewMetrics()
	pipe := pipeline.New(
		normalize.NewNormalizer(normalize.DefaultNormalizerConfig()),
		schema.NewValidator(),
		scorer,
		scoring.DefaultThresholdPolicy(),
		batchWriter,
		detectionStore,
		dispatcher,
		metrics,
		logger,
	)

	admin, err := kafka.NewAdmin(&cfg.Kafka, logger)
	if err != nil {
		slog.Error("failed to create kafka admin", "error", err)
		os.Exit(1)
	}
	if err := admin.EnsureTopic(ctx, kafka.TopicConfig{
		Name:              cfg.Kafka.Topic,
		Partitions:        cfg.Kafka.Partitions,
		ReplicationFactor: cfg.Kafka.ReplicationFactor,
		RetentionMs:       cfg.Kafka.RetentionMs,
	}); err != nil {
		slog.Error("failed to ensure kafka topic", "error", err)
		os.Exit(1)
	}

	consumers, err := kafka.NewConsumerGroup(&cfg.Kafka, cfg.Pipeline.Workers, pipe.Handler(), logger)
	if err != nil {
		slog.Error("failed to create consumer group", "error", err)
		os.Exit(1)
	}
	if err := consumers.Start(); err != nil {
		slog.Error("failed to start consumer group", "error", err)
		os.Exit(1)
	}

	// Ground truth
	reconciler := groundtruth.NewReconciler(cfg.Reconciler, groundTruthStore, detectionStore, logger)
	reconciler.Start(ctx)

	var natsConn *nats.Conn
	var feeds *groundtruth.Feeds
	if cfg.NATS.Enabled {
		natsConn, err = nats.Connect(cfg.NATS.URL, nats.Name("veracity-server"))
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		feeds = groundtruth.NewFeeds(cfg.Feeds, natsConn, groundTruthStore, schema.NewValidator(), logger)
		if err := feeds.Subscribe(); err != nil {
			slog.Error("failed to subscribe to ground-truth feeds", "error", err)
			os.Exit(1)
		}
	}

	// Retention and archival
	var archiver *s3.Archiver
	if cfg.Archive.Enabled {
		s3Client, err := s3.NewClient(ctx, &cfg.Archive.S3, logger)
		if err != nil {
			slog.Error("failed to create s3 client", "error", err)
			os.Exit(1)
		}
		archiver = s3.NewArchiver(s3Client, logger)
	}
	retention := storage.NewRetentionManager(chClient, cfg.Retention)
	archiveWorker := newArchiveWorker(cfg, detectionStore, retention, archiver, logger)
	archiveWorker.Start(ctx)

	// HTTP: health and telemetry only
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := chClient.Ping(r.Context()); err != nil {
			http.Error(w, "clickhouse unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("starting http server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Pipeline.ShutdownWait)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	consumers.Stop()
	archiveWorker.Stop()
	reconciler.Stop()
	if feeds != nil {
		feeds.Close()
	}
	if natsConn != nil {
		natsConn.Close()
	}
	dispatcher.Stop()
	producer.Close()
	cancel()

	if err := batchWriter.Close(); err != nil {
		slog.Error("batch writer close error", "error", err)
	}
	if redisClient != nil {
		redisClient.Close()
	}
	if err := chClient.Close(); err != nil {
		slog.Error("clickhouse close error", "error", err)
	}

	bwMetrics := batchWriter.Metrics()
	slog.Info("shutdown complete",
		"entries_written", bwMetrics.Written,
		"entries_failed", bwMetrics.Failed,
		"batches", bwMetrics.Batches,
	)
}

func setupLogging(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// buildContextProvider prefers Redis and falls back to the in-process LRU.
func buildContextProvider(ctx context.Context, cfg *config.Config) (scoring.ContextProvider, *redis.Client, error) {
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, nil, fmt.Errorf("redis ping failed: %w", err)
		}
		return scoring.NewRedisContext(client), client, nil
	}

	memory, err := scoring.NewMemoryContext(cfg.Scoring.RepeatCacheSize)
	if err != nil {
		return nil, nil, err
	}
	return memory, nil, nil
}

func buildAlertChannels(cfg *config.Config, producer *kafka.Producer, logger *slog.Logger) []alerting.Channel {
	var channels []alerting.Channel

	for _, hook := range cfg.Alerting.Webhooks {
		channels = append(channels, alerting.NewWebhookChannel(hook.Name, hook.URL, hook.Headers))
	}
	if cfg.Alerting.Slack.Enabled {
		channels = append(channels, alerting.NewSlackChannel(
			cfg.Alerting.Slack.WebhookURL,
			cfg.Alerting.Slack.Channel,
			cfg.Alerting.Slack.Username,
		))
	}
	if cfg.Alerting.KafkaTopic != "" {
		channels = append(channels, alerting.NewKafkaChannel(producer, cfg.Alerting.KafkaTopic))
	}
	if cfg.Alerting.LogAlerts {
		channels = append(channels, alerting.NewLogChannel(logger))
	}

	return channels
}

func newArchiveWorker(cfg *config.Config, detections *storage.DetectionStore, retention *storage.RetentionManager, archiver *s3.Archiver, logger *slog.Logger) *storage.ArchiveWorker {
	if archiver == nil {
		return storage.NewArchiveWorker(cfg.Archive.Worker, detections, retention, nil, logger)
	}
	return storage.NewArchiveWorker(cfg.Archive.Worker, detections, retention, archiver, logger)
}
