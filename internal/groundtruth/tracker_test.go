package groundtruth

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

type fakeCounter struct {
	counts storage.MissedCounts
	err    error
}

func (f *fakeCounter) CountMissed(context.Context, time.Time) (storage.MissedCounts, error) {
	return f.counts, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBreakdownSumsWithoutDeduplication(t *testing.T) {
	tracker := NewTracker(&fakeCounter{counts: storage.MissedCounts{
		RedTeam:   2,
		Analyst:   3,
		KnownIOCs: 1,
		Heuristic: 4,
	}}, testLogger())

	got, err := tracker.Breakdown(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("Breakdown failed: %v", err)
	}

	if got.Total != 10 {
		t.Errorf("total = %d, want 10 (plain sum of all sources)", got.Total)
	}
	if got.Confidence != schema.ConfidenceVeryHigh {
		t.Errorf("confidence = %q, want very_high with red-team data", got.Confidence)
	}
	if !got.GroundTruth {
		t.Error("GroundTruth should be true when red-team misses exist")
	}
	if got.Estimated {
		t.Error("Estimated should be false when stronger sources reported")
	}
}

func TestBreakdownConfidenceLadder(t *testing.T) {
	tests := []struct {
		name      string
		counts    storage.MissedCounts
		want      schema.MissedConfidence
		estimated bool
	}{
		{"red team wins", storage.MissedCounts{RedTeam: 1, Analyst: 5}, schema.ConfidenceVeryHigh, false},
		{"red team anchors heuristic", storage.MissedCounts{RedTeam: 1, Heuristic: 4}, schema.ConfidenceVeryHigh, false},
		{"analyst next", storage.MissedCounts{Analyst: 2, KnownIOCs: 7}, schema.ConfidenceHigh, false},
		{"analyst with heuristic is estimated", storage.MissedCounts{Analyst: 2, Heuristic: 3}, schema.ConfidenceHigh, true},
		{"iocs next", storage.MissedCounts{KnownIOCs: 1, Heuristic: 9}, schema.ConfidenceMedium, true},
		{"heuristic only", storage.MissedCounts{Heuristic: 3}, schema.ConfidenceLow, true},
		{"nothing missed", storage.MissedCounts{}, schema.ConfidenceUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := NewTracker(&fakeCounter{counts: tt.counts}, testLogger())
			got, err := tracker.Breakdown(context.Background(), time.Hour)
			if err != nil {
				t.Fatalf("Breakdown failed: %v", err)
			}
			if got.Confidence != tt.want {
				t.Errorf("confidence = %q, want %q", got.Confidence, tt.want)
			}
			if got.Estimated != tt.estimated {
				t.Errorf("estimated = %v, want %v", got.Estimated, tt.estimated)
			}
		})
	}
}

func TestBreakdownStoreFailure(t *testing.T) {
	tracker := NewTracker(&fakeCounter{err: errors.New("clickhouse down")}, testLogger())

	got, err := tracker.Breakdown(context.Background(), time.Hour)
	if err == nil {
		t.Fatal("expected an error when the store fails")
	}
	if got.Confidence != schema.ConfidenceUnknown {
		t.Errorf("confidence = %q, want unknown on failure", got.Confidence)
	}
	if got.Total != 0 {
		t.Errorf("total = %d, want 0 on failure", got.Total)
	}
}
