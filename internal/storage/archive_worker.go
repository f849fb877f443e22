package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"veracity-soc/internal/schema"
	"veracity-soc/internal/storage/s3"
)

// archiveSink exports a batch of records to cold storage.
type archiveSink interface {
	Archive(ctx context.Context, dataType string, start, end time.Time, records []any) (*s3.ArchiveManifest, error)
}

// detectionLister reads detections for an archival window.
type detectionLister interface {
	List(ctx context.Context, filter DetectionFilter) ([]*schema.DetectionResult, error)
}

// ttlApplier enforces the retention TTLs after archival.
type ttlApplier interface {
	ApplyTTLs(ctx context.Context) error
}

// ArchiveWorkerConfig controls the retention/archive loop.
type ArchiveWorkerConfig struct {
	Interval time.Duration `yaml:"interval"`
	// MaxBatch bounds how many detections one day's archive may hold.
	MaxBatch int `yaml:"max_batch"`
}

// DefaultArchiveWorkerConfig returns the default archive worker configuration.
func DefaultArchiveWorkerConfig() ArchiveWorkerConfig {
	return ArchiveWorkerConfig{
		Interval: time.Hour,
		MaxBatch: 100000,
	}
}

// ArchiveWorker periodically exports the previous day's detections to S3
// and applies the retention TTLs. Archival is idempotent per day: re-runs
// overwrite the same object key.
type ArchiveWorker struct {
	config     ArchiveWorkerConfig
	detections detectionLister
	retention  ttlApplier
	archiver   archiveSink
	logger     *slog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	lastDay time.Time
}

// NewArchiveWorker creates the retention/archive worker.
func NewArchiveWorker(config ArchiveWorkerConfig, detections detectionLister, retention ttlApplier, archiver archiveSink, logger *slog.Logger) *ArchiveWorker {
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if config.MaxBatch <= 0 {
		config.MaxBatch = 100000
	}
	return &ArchiveWorker{
		config:     config,
		detections: detections,
		retention:  retention,
		archiver:   archiver,
		logger:     logger.With("component", "archive_worker"),
	}
}

// Start launches the background loop.
func (w *ArchiveWorker) Start(ctx context.Context) {
	w.stopCh = make(chan struct{})
	w.wg.Add(1)
	go w.run(ctx)
	w.logger.Info("archive worker started", "interval", w.config.Interval)
}

// Stop shuts the loop down.
func (w *ArchiveWorker) Stop() {
	if w.stopCh == nil {
		return
	}
	close(w.stopCh)
	w.wg.Wait()
	w.logger.Info("archive worker stopped")
}

func (w *ArchiveWorker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.logger.Error("archive run failed", "error", err)
			}
		}
	}
}

// RunOnce archives the previous UTC day once per day and applies TTLs.
func (w *ArchiveWorker) RunOnce(ctx context.Context) error {
	day := time.Now().UTC().Truncate(24 * time.Hour).Add(-24 * time.Hour)
	if !day.Equal(w.lastDay) {
		if err := w.archiveDay(ctx, day); err != nil {
			return err
		}
		w.lastDay = day
	}

	if w.retention != nil {
		return w.retention.ApplyTTLs(ctx)
	}
	return nil
}

func (w *ArchiveWorker) archiveDay(ctx context.Context, day time.Time) error {
	if w.archiver == nil {
		return nil
	}

	start := day
	end := day.Add(24 * time.Hour)

	detections, err := w.detections.List(ctx, DetectionFilter{
		Start: start,
		End:   end,
		Limit: w.config.MaxBatch,
	})
	if err != nil {
		return err
	}
	if len(detections) == 0 {
		return nil
	}

	records := make([]any, len(detections))
	for i, d := range detections {
		records[i] = d
	}

	manifest, err := w.archiver.Archive(ctx, "detections", start, end, records)
	if err != nil {
		return err
	}

	w.logger.Info("archived detections",
		"day", day.Format("2006-01-02"),
		"records", manifest.RecordCount,
		"key", manifest.Key)
	return nil
}
