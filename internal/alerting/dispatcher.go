// Package alerting turns positive detections into notifications.
//
// Dispatch is fire and forget: alerts are handed to a bounded queue and
// delivered by background workers, so a slow or failing channel never
// blocks the scoring pipeline.
package alerting

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"veracity-soc/internal/schema"
)

// Alert is the notification payload built from a detection.
type Alert struct {
	ID         uuid.UUID       `json:"id"`
	AgentID    string          `json:"agent_id"`
	Source     string          `json:"source"`
	Severity   schema.Severity `json:"severity"`
	ThreatType string          `json:"threat_type"`
	Score      float64         `json:"threat_score"`
	Indicators []string        `json:"indicators"`
	Message    string          `json:"message"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NewAlert builds the notification payload for a positive detection.
func NewAlert(result *schema.DetectionResult, entry *schema.LogEntry) *Alert {
	alert := &Alert{
		ID:         result.ID,
		AgentID:    result.AgentID,
		Severity:   result.Assessment.Severity,
		ThreatType: result.Assessment.ThreatType,
		Score:      result.Assessment.ThreatScore,
		Indicators: result.Assessment.Indicators,
		CreatedAt:  result.DetectedAt,
	}
	if entry != nil {
		alert.Source = entry.Source
		alert.Message = entry.Message
	}
	return alert
}

// Channel delivers alerts to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, alert *Alert) error
}

// DispatcherConfig controls alert delivery.
type DispatcherConfig struct {
	// MinSeverity gates dispatch; alerts below it are dropped silently.
	MinSeverity schema.Severity `yaml:"min_severity"`
	QueueSize   int             `yaml:"queue_size"`
	Workers     int             `yaml:"workers"`
	SendTimeout time.Duration   `yaml:"send_timeout"`
}

// DefaultDispatcherConfig returns the default dispatcher configuration.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		MinSeverity: schema.SeverityHigh,
		QueueSize:   1024,
		Workers:     4,
		SendTimeout: 10 * time.Second,
	}
}

// Dispatcher fans alerts out to the configured channels.
type Dispatcher struct {
	config   DispatcherConfig
	channels []Channel
	logger   *slog.Logger

	queue   chan *Alert
	stopCh  chan struct{}
	wg      sync.WaitGroup
	startMu sync.Mutex
	started bool

	mu      sync.Mutex
	sent    uint64
	dropped uint64
	failed  uint64
}

// NewDispatcher creates a dispatcher over the given channels.
func NewDispatcher(config DispatcherConfig, channels []Channel, logger *slog.Logger) *Dispatcher {
	if config.QueueSize <= 0 {
		config.QueueSize = 1024
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = 10 * time.Second
	}
	if !config.MinSeverity.IsValid() {
		config.MinSeverity = schema.SeverityHigh
	}
	return &Dispatcher{
		config:   config,
		channels: channels,
		logger:   logger.With("component", "alert_dispatcher"),
		queue:    make(chan *Alert, config.QueueSize),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the delivery workers.
func (d *Dispatcher) Start() {
	d.startMu.Lock()
	defer d.startMu.Unlock()
	if d.started {
		return
	}
	d.started = true

	for i := 0; i < d.config.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	d.logger.Info("alert dispatcher started",
		"workers", d.config.Workers,
		"min_severity", string(d.config.MinSeverity))
}

// Stop drains in-flight deliveries and shuts the workers down.
func (d *Dispatcher) Stop() {
	d.startMu.Lock()
	defer d.startMu.Unlock()
	if !d.started {
		return
	}
	d.started = false

	close(d.stopCh)
	d.wg.Wait()
	d.logger.Info("alert dispatcher stopped")
}

// Dispatch enqueues an alert for delivery. It never blocks: when the
// queue is full the alert is dropped and counted.
func (d *Dispatcher) Dispatch(alert *Alert) {
	if alert == nil || !alert.Severity.AtLeast(d.config.MinSeverity) {
		return
	}

	select {
	case d.queue <- alert:
	default:
		d.mu.Lock()
		d.dropped++
		d.mu.Unlock()
		d.logger.Warn("alert queue full, dropping alert",
			"alert_id", alert.ID,
			"severity", string(alert.Severity))
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.stopCh:
			// Drain what is already queued before exiting.
			for {
				select {
				case alert := <-d.queue:
					d.deliver(alert)
				default:
					return
				}
			}
		case alert := <-d.queue:
			d.deliver(alert)
		}
	}
}

func (d *Dispatcher) deliver(alert *Alert) {
	for _, ch := range d.channels {
		ctx, cancel := context.WithTimeout(context.Background(), d.config.SendTimeout)
		err := ch.Send(ctx, alert)
		cancel()

		d.mu.Lock()
		if err != nil {
			d.failed++
		} else {
			d.sent++
		}
		d.mu.Unlock()

		if err != nil {
			d.logger.Error("alert delivery failed",
				"channel", ch.Name(),
				"alert_id", alert.ID,
				"error", err)
		}
	}
}

// DispatcherMetrics is a snapshot of delivery counters.
type DispatcherMetrics struct {
	Sent    uint64
	Dropped uint64
	Failed  uint64
}

// Metrics returns the current delivery counters.
func (d *Dispatcher) Metrics() DispatcherMetrics {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DispatcherMetrics{Sent: d.sent, Dropped: d.dropped, Failed: d.failed}
}
