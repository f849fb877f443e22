package storage

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"veracity-soc/internal/schema"
	"veracity-soc/internal/storage/s3"
)

type fakeLister struct {
	detections []*schema.DetectionResult
	filters    []DetectionFilter
}

func (f *fakeLister) List(ctx context.Context, filter DetectionFilter) ([]*schema.DetectionResult, error) {
	f.filters = append(f.filters, filter)
	return f.detections, nil
}

type fakeSink struct {
	calls   int
	records int
}

func (f *fakeSink) Archive(ctx context.Context, dataType string, start, end time.Time, records []any) (*s3.ArchiveManifest, error) {
	f.calls++
	f.records += len(records)
	return &s3.ArchiveManifest{DataType: dataType, Key: "archives/test", RecordCount: len(records)}, nil
}

type fakeTTL struct {
	calls int
}

func (f *fakeTTL) ApplyTTLs(ctx context.Context) error {
	f.calls++
	return nil
}

func TestArchiveWorkerRunOncePerDay(t *testing.T) {
	lister := &fakeLister{detections: []*schema.DetectionResult{
		{ID: uuid.New()},
		{ID: uuid.New()},
	}}
	sink := &fakeSink{}
	ttl := &fakeTTL{}
	w := NewArchiveWorker(DefaultArchiveWorkerConfig(), lister, ttl, sink, slog.Default())

	for i := 0; i < 3; i++ {
		if err := w.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce() error: %v", err)
		}
	}

	// The same day is archived once; TTLs apply on every run.
	if sink.calls != 1 {
		t.Errorf("archive calls = %d, want 1", sink.calls)
	}
	if sink.records != 2 {
		t.Errorf("archived records = %d, want 2", sink.records)
	}
	if ttl.calls != 3 {
		t.Errorf("ApplyTTLs calls = %d, want 3", ttl.calls)
	}

	filter := lister.filters[0]
	if filter.End.Sub(filter.Start) != 24*time.Hour {
		t.Errorf("archive window = %v..%v, want one day", filter.Start, filter.End)
	}
}

func TestArchiveWorkerSkipsEmptyDay(t *testing.T) {
	sink := &fakeSink{}
	w := NewArchiveWorker(DefaultArchiveWorkerConfig(), &fakeLister{}, nil, sink, slog.Default())

	if err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce() error: %v", err)
	}
	if sink.calls != 0 {
		t.Errorf("archive calls = %d, want 0", sink.calls)
	}
}
