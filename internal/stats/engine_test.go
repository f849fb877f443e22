package stats

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"veracity-soc/internal/schema"
	"veracity-soc/internal/storage"
)

type fakeDetections struct {
	counts storage.DetectionCounts
	err    error
	calls  int
}

func (f *fakeDetections) Counts(context.Context, time.Time) (storage.DetectionCounts, error) {
	f.calls++
	return f.counts, f.err
}

func (f *fakeDetections) HourlyTrend(context.Context, time.Time) ([]schema.HourlyTrendPoint, error) {
	return nil, nil
}

func (f *fakeDetections) TypeBreakdown(context.Context, time.Time) ([]schema.TypeBreakdown, error) {
	return nil, nil
}

func (f *fakeDetections) Recent(context.Context, int) ([]schema.RecentDetection, error) {
	return nil, nil
}

type fakeMissed struct {
	breakdown schema.MissedBreakdown
	err       error
}

func (f *fakeMissed) Breakdown(context.Context, time.Duration) (schema.MissedBreakdown, error) {
	return f.breakdown, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(d *fakeDetections, m *fakeMissed, ttl time.Duration) *Engine {
	return NewEngine(EngineConfig{CacheTTL: ttl}, d, m, testLogger())
}

func TestComputeStatsRates(t *testing.T) {
	detections := &fakeDetections{counts: storage.DetectionCounts{
		Total:          40,
		Detected:       10,
		TruePositives:  8,
		FalsePositives: 2,
	}}
	missed := &fakeMissed{breakdown: schema.MissedBreakdown{Confidence: schema.ConfidenceUnknown}}

	got, err := newTestEngine(detections, missed, 0).ComputeStats(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("ComputeStats failed: %v", err)
	}

	if got.Precision != 80.0 {
		t.Errorf("precision = %v, want 80", got.Precision)
	}
	if got.DetectionRate != 100.0 {
		t.Errorf("detection rate = %v, want 100 with no misses", got.DetectionRate)
	}
	if got.F1Score != 88.89 {
		t.Errorf("f1 = %v, want 88.89", got.F1Score)
	}
	if got.DetectionAccuracy != 80.0 {
		t.Errorf("accuracy = %v, want 80", got.DetectionAccuracy)
	}
	if got.FalsePositiveRate != 20.0 {
		t.Errorf("fp rate = %v, want 20", got.FalsePositiveRate)
	}
	if got.TimeRangeHours != 24 {
		t.Errorf("time range = %d, want 24", got.TimeRangeHours)
	}
}

func TestComputeStatsZeroDenominators(t *testing.T) {
	detections := &fakeDetections{}
	missed := &fakeMissed{breakdown: schema.MissedBreakdown{Confidence: schema.ConfidenceUnknown}}

	got, err := newTestEngine(detections, missed, 0).ComputeStats(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("ComputeStats failed: %v", err)
	}

	if got.DetectionAccuracy != 100.0 {
		t.Errorf("accuracy = %v, want 100 with nothing to get wrong", got.DetectionAccuracy)
	}
	if got.DetectionRate != 100.0 {
		t.Errorf("detection rate = %v, want 100 with nothing to detect", got.DetectionRate)
	}
	if got.FalsePositiveRate != 0.0 {
		t.Errorf("fp rate = %v, want 0", got.FalsePositiveRate)
	}
	if got.Precision != 0.0 {
		t.Errorf("precision = %v, want 0 with no positives", got.Precision)
	}
	if got.F1Score != 0.0 {
		t.Errorf("f1 = %v, want 0", got.F1Score)
	}
}

func TestComputeStatsIncludesMissed(t *testing.T) {
	detections := &fakeDetections{counts: storage.DetectionCounts{
		Total:          20,
		Detected:       5,
		TruePositives:  5,
		FalsePositives: 0,
	}}
	missed := &fakeMissed{breakdown: schema.MissedBreakdown{
		RedTeam:     3,
		Heuristic:   2,
		Total:       5,
		Confidence:  schema.ConfidenceVeryHigh,
		GroundTruth: true,
	}}

	got, err := newTestEngine(detections, missed, 0).ComputeStats(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("ComputeStats failed: %v", err)
	}

	if got.ThreatsMissed != 5 {
		t.Errorf("missed = %d, want 5", got.ThreatsMissed)
	}
	// accuracy = 5 / (5 + 0 + 5)
	if got.DetectionAccuracy != 50.0 {
		t.Errorf("accuracy = %v, want 50", got.DetectionAccuracy)
	}
	// recall = 5 / (5 + 5)
	if got.DetectionRate != 50.0 {
		t.Errorf("detection rate = %v, want 50", got.DetectionRate)
	}
	if got.Missed.Confidence != schema.ConfidenceVeryHigh {
		t.Errorf("breakdown confidence = %q, want very_high", got.Missed.Confidence)
	}
}

func TestComputeStatsFailureIsDistinguishable(t *testing.T) {
	detections := &fakeDetections{err: errors.New("clickhouse down")}
	missed := &fakeMissed{}

	got, err := newTestEngine(detections, missed, 0).ComputeStats(context.Background(), time.Hour)
	if err == nil {
		t.Fatal("expected an error when storage is unavailable")
	}
	if got.TotalDetections != 0 || got.DetectionAccuracy != 0 {
		t.Errorf("stats should be zero valued on failure, got %+v", got)
	}
}

func TestComputeStatsCaching(t *testing.T) {
	detections := &fakeDetections{counts: storage.DetectionCounts{Total: 1}}
	missed := &fakeMissed{breakdown: schema.MissedBreakdown{Confidence: schema.ConfidenceUnknown}}

	engine := newTestEngine(detections, missed, time.Minute)
	for i := 0; i < 3; i++ {
		if _, err := engine.ComputeStats(context.Background(), time.Hour); err != nil {
			t.Fatalf("ComputeStats failed: %v", err)
		}
	}

	if detections.calls != 1 {
		t.Errorf("expected 1 storage read with caching, got %d", detections.calls)
	}
}
