// Package stats derives detection-accuracy metrics from stored detection
// results and the ground-truth missed counts.
package stats

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"veracity-soc/internal/schema"
	"veracity-soc/internal/storage"
)

// detectionSource is the slice of the detection store the engine reads.
type detectionSource interface {
	Counts(ctx context.Context, since time.Time) (storage.DetectionCounts, error)
	HourlyTrend(ctx context.Context, since time.Time) ([]schema.HourlyTrendPoint, error)
	TypeBreakdown(ctx context.Context, since time.Time) ([]schema.TypeBreakdown, error)
	Recent(ctx context.Context, limit int) ([]schema.RecentDetection, error)
}

// missedSource supplies the missed-threat breakdown for a window.
type missedSource interface {
	Breakdown(ctx context.Context, window time.Duration) (schema.MissedBreakdown, error)
}

// EngineConfig holds the stats engine settings.
type EngineConfig struct {
	// CacheTTL bounds how stale a served aggregate may be. Zero disables
	// caching.
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// DefaultEngineConfig returns the default engine settings.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		CacheTTL: 30 * time.Second,
	}
}

// Engine computes detection-accuracy aggregates. Aggregates are derived and
// read only; nothing here writes back to storage. When any underlying read
// fails the engine returns zero-valued stats together with the error, so
// callers can always tell "no data" apart from "unavailable".
type Engine struct {
	detections detectionSource
	missed     missedSource
	cache      *expirable.LRU[int, schema.DetectionStats]
	logger     *slog.Logger
}

// NewEngine creates a stats engine.
func NewEngine(config EngineConfig, detections detectionSource, missed missedSource, logger *slog.Logger) *Engine {
	var cache *expirable.LRU[int, schema.DetectionStats]
	if config.CacheTTL > 0 {
		cache = expirable.NewLRU[int, schema.DetectionStats](16, nil, config.CacheTTL)
	}
	return &Engine{
		detections: detections,
		missed:     missed,
		cache:      cache,
		logger:     logger.With("component", "stats_engine"),
	}
}

// ComputeStats builds the accuracy aggregate for the trailing window.
func (e *Engine) ComputeStats(ctx context.Context, window time.Duration) (schema.DetectionStats, error) {
	hours := int(window.Hours())
	if e.cache != nil {
		if cached, ok := e.cache.Get(hours); ok {
			return cached, nil
		}
	}

	since := time.Now().UTC().Add(-window)

	counts, err := e.detections.Counts(ctx, since)
	if err != nil {
		return schema.DetectionStats{}, err
	}

	breakdown, err := e.missed.Breakdown(ctx, window)
	if err != nil {
		return schema.DetectionStats{}, err
	}

	stats := derive(counts, breakdown, hours)

	if e.cache != nil {
		e.cache.Add(hours, stats)
	}
	return stats, nil
}

// derive computes the rate metrics from raw tallies.
//
// True positives are detections an analyst verified; false positives are
// detections flagged wrong; missed comes from the ground-truth breakdown.
// Each rate defines its own zero-denominator value: accuracy and detection
// rate read 100 when there was nothing to get wrong, while false positive
// rate and precision read 0 when there is no evidence of correctness.
func derive(counts storage.DetectionCounts, breakdown schema.MissedBreakdown, hours int) schema.DetectionStats {
	missed := breakdown.Total

	accuracy := 100.0
	if denom := counts.TruePositives + counts.FalsePositives + missed; denom > 0 {
		accuracy = float64(counts.TruePositives) / float64(denom) * 100
	}

	fpRate := 0.0
	if counts.Detected > 0 {
		fpRate = float64(counts.FalsePositives) / float64(counts.Detected) * 100
	}

	detectionRate := 100.0
	if denom := counts.Detected + missed; denom > 0 {
		detectionRate = float64(counts.Detected) / float64(denom) * 100
	}

	precision := 0.0
	if denom := counts.TruePositives + counts.FalsePositives; denom > 0 {
		precision = float64(counts.TruePositives) / float64(denom) * 100
	}

	f1 := 0.0
	if precision+detectionRate > 0 {
		f1 = 2 * precision * detectionRate / (precision + detectionRate)
	}

	return schema.DetectionStats{
		TotalDetections:   counts.Total,
		ThreatsDetected:   counts.Detected,
		ThreatsMissed:     missed,
		FalsePositives:    counts.FalsePositives,
		TruePositives:     counts.TruePositives,
		DetectionAccuracy: round2(accuracy),
		FalsePositiveRate: round2(fpRate),
		DetectionRate:     round2(detectionRate),
		Precision:         round2(precision),
		F1Score:           round2(f1),
		Missed:            breakdown,
		TimeRangeHours:    hours,
		LastUpdated:       time.Now().UTC(),
	}
}

// HourlyTrend returns the per-hour detection buckets for the window.
func (e *Engine) HourlyTrend(ctx context.Context, window time.Duration) ([]schema.HourlyTrendPoint, error) {
	return e.detections.HourlyTrend(ctx, time.Now().UTC().Add(-window))
}

// TypeBreakdown returns per-threat-type aggregates for the window.
func (e *Engine) TypeBreakdown(ctx context.Context, window time.Duration) ([]schema.TypeBreakdown, error) {
	return e.detections.TypeBreakdown(ctx, time.Now().UTC().Add(-window))
}

// RecentDetections lists the latest positive detections.
func (e *Engine) RecentDetections(ctx context.Context, limit int) ([]schema.RecentDetection, error) {
	return e.detections.Recent(ctx, limit)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
