// Package pipeline wires the Kafka firehose into normalization, scoring,
// persistence and alerting.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"veracity-soc/internal/alerting"
	"veracity-soc/internal/kafka"
	"veracity-soc/internal/normalize"
	"veracity-soc/internal/schema"
	"veracity-soc/internal/scoring"
	"veracity-soc/internal/telemetry"
)

// entryWriter persists normalized log entries.
type entryWriter interface {
	Write(entry *schema.LogEntry) error
}

// detectionAppender persists detection results.
type detectionAppender interface {
	Append(ctx context.Context, result *schema.DetectionResult) error
}

// threatScorer assesses a single entry.
type threatScorer interface {
	Score(ctx context.Context, entry *schema.LogEntry) schema.ThreatAssessment
}

// alertSink receives alerts for positive detections.
type alertSink interface {
	Dispatch(alert *alerting.Alert)
}

// Pipeline processes raw log messages end to end. Malformed input is
// dropped and counted; storage failures are returned to the consumer so
// the message is redelivered.
type Pipeline struct {
	normalizer *normalize.Normalizer
	validator  *schema.Validator
	scorer     threatScorer
	policy     *scoring.ThresholdPolicy
	entries    entryWriter
	detections detectionAppender
	alerts     alertSink
	metrics    *telemetry.Metrics
	logger     *slog.Logger
}

// New creates a pipeline over the given stages.
func New(
	normalizer *normalize.Normalizer,
	validator *schema.Validator,
	scorer threatScorer,
	policy *scoring.ThresholdPolicy,
	entries entryWriter,
	detections detectionAppender,
	alerts alertSink,
	metrics *telemetry.Metrics,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		normalizer: normalizer,
		validator:  validator,
		scorer:     scorer,
		policy:     policy,
		entries:    entries,
		detections: detections,
		alerts:     alerts,
		metrics:    metrics,
		logger:     logger.With("component", "pipeline"),
	}
}

// Handler returns the Kafka message handler for this pipeline.
func (p *Pipeline) Handler() kafka.MessageHandler {
	return func(ctx context.Context, msg kafka.Message) error {
		return p.Process(ctx, msg.Value)
	}
}

// Process runs one raw message through the pipeline.
func (p *Pipeline) Process(ctx context.Context, raw []byte) error {
	p.metrics.EntriesTotal.Inc()

	entry, err := p.decode(raw)
	if err != nil {
		p.metrics.EntriesInvalidTotal.Inc()
		p.logger.Warn("dropping malformed entry", "error", err)
		return nil
	}

	// Persist failures propagate so the broker redelivers; everything
	// up to this point is deterministic and safe to repeat.
	if err := p.entries.Write(entry); err != nil {
		return err
	}

	start := time.Now()
	assessment := p.scorer.Score(ctx, entry)
	p.metrics.ScoreDuration.Observe(time.Since(start).Seconds())
	if assessment.AnalysisType == schema.AnalysisFallback {
		p.metrics.DeepFallbacksTotal.Inc()
	}

	result := &schema.DetectionResult{
		ID:             schema.DetectionID(entry.ID),
		LogEntryID:     entry.ID,
		AgentID:        entry.AgentID,
		ThreatDetected: p.policy.Detected(assessment.ThreatScore, entry.Source, entry.Level),
		Assessment:     assessment,
		DetectedAt:     time.Now().UTC(),
	}

	if err := p.detections.Append(ctx, result); err != nil {
		return err
	}

	p.metrics.RecordDetection(string(assessment.Severity))

	if result.ThreatDetected && p.alerts != nil {
		p.metrics.AlertsTotal.Inc()
		p.alerts.Dispatch(alerting.NewAlert(result, entry))
	}

	return nil
}

func (p *Pipeline) decode(raw []byte) (*schema.LogEntry, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}

	entry, err := p.normalizer.Normalize(fields)
	if err != nil {
		return nil, err
	}

	if err := p.validator.ValidateEntry(entry); err != nil {
		return nil, err
	}

	return entry, nil
}
