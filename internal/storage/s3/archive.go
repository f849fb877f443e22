package s3

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ArchiveManifest describes one uploaded archive object.
type ArchiveManifest struct {
	ID              string    `json:"archive_id"`
	DataType        string    `json:"data_type"`
	Key             string    `json:"key"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	RecordCount     int       `json:"record_count"`
	UncompressedLen int64     `json:"uncompressed_bytes"`
	CompressedLen   int64     `json:"compressed_bytes"`
	CreatedAt       time.Time `json:"created_at"`
}

// Archiver writes batches of records to S3 as gzipped NDJSON, one object
// per time window plus a manifest. Archives are laid out by data type and
// day so restores can address a window without listing the whole bucket.
type Archiver struct {
	client *Client
	logger *slog.Logger
}

// NewArchiver creates an archiver over an S3 client.
func NewArchiver(client *Client, logger *slog.Logger) *Archiver {
	return &Archiver{
		client: client,
		logger: logger.With("component", "archiver"),
	}
}

// Archive uploads the given records covering [start, end) as one archive
// object and returns its manifest. Records must be JSON-marshalable.
func (a *Archiver) Archive(ctx context.Context, dataType string, start, end time.Time, records []any) (*ArchiveManifest, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("s3: nothing to archive for %s", dataType)
	}

	var raw bytes.Buffer
	enc := json.NewEncoder(&raw)
	for _, record := range records {
		if err := enc.Encode(record); err != nil {
			return nil, fmt.Errorf("s3: failed to encode archive record: %w", err)
		}
	}

	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	if _, err := gz.Write(raw.Bytes()); err != nil {
		return nil, fmt.Errorf("s3: failed to compress archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("s3: failed to finalize archive: %w", err)
	}

	key := archiveKey(dataType, start, end)
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(key)).String()

	if err := a.client.Upload(ctx, key, compressed.Bytes(), "application/gzip"); err != nil {
		return nil, err
	}

	manifest := &ArchiveManifest{
		ID:              id,
		DataType:        dataType,
		Key:             key,
		StartTime:       start,
		EndTime:         end,
		RecordCount:     len(records),
		UncompressedLen: int64(raw.Len()),
		CompressedLen:   int64(compressed.Len()),
		CreatedAt:       time.Now().UTC(),
	}

	manifestBody, err := json.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("s3: failed to marshal manifest: %w", err)
	}
	if err := a.client.Upload(ctx, key+".manifest.json", manifestBody, "application/json"); err != nil {
		return nil, err
	}

	a.logger.Info("archived batch",
		"data_type", dataType,
		"key", key,
		"records", manifest.RecordCount,
		"compressed_bytes", manifest.CompressedLen,
	)

	return manifest, nil
}

// Restore downloads and decompresses an archive object into raw NDJSON.
func (a *Archiver) Restore(ctx context.Context, key string) ([]byte, error) {
	compressed, err := a.client.Download(ctx, key)
	if err != nil {
		return nil, err
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("s3: failed to open archive %s: %w", key, err)
	}
	defer gz.Close()

	var raw bytes.Buffer
	if _, err := raw.ReadFrom(gz); err != nil {
		return nil, fmt.Errorf("s3: failed to decompress archive %s: %w", key, err)
	}
	return raw.Bytes(), nil
}

// archiveKey is deterministic per (dataType, window): re-archiving the
// same window overwrites the previous object instead of duplicating it.
func archiveKey(dataType string, start, end time.Time) string {
	return fmt.Sprintf("archives/%s/%s/%s-%s.ndjson.gz",
		dataType,
		start.UTC().Format("2006-01-02"),
		start.UTC().Format("20060102T150405Z"),
		end.UTC().Format("20060102T150405Z"),
	)
}
