package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
)

// Message is a consumed record handed to a MessageHandler.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   []Header
	Time      time.Time
}

// Header is a single Kafka record header.
type Header struct {
	Key   string
	Value []byte
}

// MessageHandler processes one record. A nil return commits the offset;
// an error leaves it uncommitted so the broker redelivers.
type MessageHandler func(ctx context.Context, msg Message) error

const handleTimeout = 30 * time.Second

// Consumer reads from a topic as part of a consumer group and feeds
// each record through a handler before committing.
type Consumer struct {
	reader  *kafka.Reader
	handler MessageHandler
	logger  *slog.Logger
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	processed atomic.Int64
	failed    atomic.Int64
}

// NewConsumer builds a consumer for the configured topic and group.
func NewConsumer(cfg *Config, handler MessageHandler, logger *slog.Logger) (*Consumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, errors.New("kafka: handler is required")
	}
	if cfg.ConsumerGroup == "" {
		return nil, errors.New("kafka: consumer group is required")
	}

	dialer, err := cfg.dialer()
	if err != nil {
		return nil, err
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:          cfg.Brokers,
		Topic:            cfg.Topic,
		GroupID:          cfg.ConsumerGroup,
		Dialer:           dialer,
		MinBytes:         cfg.MinBytes,
		MaxBytes:         cfg.MaxBytes,
		MaxWait:          cfg.MaxWait,
		CommitInterval:   cfg.CommitInterval,
		StartOffset:      cfg.StartOffset,
		SessionTimeout:   cfg.SessionTimeout,
		RebalanceTimeout: cfg.RebalanceTimeout,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "kafka-reader")
		}),
	})

	return &Consumer{
		reader:  reader,
		handler: handler,
		logger:  logger.With("component", "kafka-consumer"),
	}, nil
}

// Start begins consuming in a background goroutine.
func (c *Consumer) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	go c.run(ctx)
}

func (c *Consumer) run(ctx context.Context) {
	defer c.wg.Done()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return
			}
			c.logger.Error("fetch failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		if err := c.handle(ctx, msg); err != nil {
			c.failed.Add(1)
			c.logger.Warn("message left uncommitted",
				"error", err,
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
			continue
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("commit failed", "error", err, "offset", msg.Offset)
			continue
		}
		c.processed.Add(1)
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	headers := make([]Header, len(msg.Headers))
	for i, h := range msg.Headers {
		headers[i] = Header{Key: h.Key, Value: h.Value}
	}

	hctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	return c.handler(hctx, Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     msg.Value,
		Headers:   headers,
		Time:      msg.Time,
	})
}

// Stop cancels the consume loop and closes the reader.
func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	if err := c.reader.Close(); err != nil {
		c.logger.Error("reader close failed", "error", err)
	}
}

// ConsumerGroup runs several consumers against the same group so that
// partitions are spread across them.
type ConsumerGroup struct {
	consumers []*Consumer
	logger    *slog.Logger
	mu        sync.Mutex
	started   bool
}

// NewConsumerGroup builds size consumers sharing one group ID.
func NewConsumerGroup(cfg *Config, size int, handler MessageHandler, logger *slog.Logger) (*ConsumerGroup, error) {
	if size < 1 {
		return nil, errors.New("kafka: consumer group size must be at least 1")
	}

	consumers := make([]*Consumer, 0, size)
	for i := 0; i < size; i++ {
		c, err := NewConsumer(cfg, handler, logger)
		if err != nil {
			for _, prev := range consumers {
				prev.Stop()
			}
			return nil, fmt.Errorf("kafka: consumer %d: %w", i, err)
		}
		consumers = append(consumers, c)
	}

	return &ConsumerGroup{
		consumers: consumers,
		logger:    logger.With("component", "kafka-consumer-group"),
	}, nil
}

// Start launches every consumer in the group.
func (g *ConsumerGroup) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return errors.New("kafka: consumer group already started")
	}
	g.started = true

	for _, c := range g.consumers {
		c.Start()
	}
	g.logger.Info("consumer group started", "consumers", len(g.consumers))
	return nil
}

// Stop shuts down every consumer and logs final counts.
func (g *ConsumerGroup) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.started {
		return
	}
	g.started = false

	var processed, failed int64
	for _, c := range g.consumers {
		c.Stop()
		processed += c.processed.Load()
		failed += c.failed.Load()
	}
	g.logger.Info("consumer group stopped", "processed", processed, "failed", failed)
}
