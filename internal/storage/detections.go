package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"veracity-soc/internal/schema"
)

const detectionsTable = "detection_results"

// DetectionStore persists detection results. Appends are idempotent: the
// deterministic detection id plus the replacing merge engine collapse
// redelivered results to one row. Review flag updates for the same record
// are serialized through a striped lock so concurrent analysts cannot race
// the read-validate-write cycle.
type DetectionStore struct {
	client *ClickHouseClient
	logger *slog.Logger
	locks  [64]sync.Mutex
}

// NewDetectionStore creates a new DetectionStore.
func NewDetectionStore(client *ClickHouseClient, logger *slog.Logger) *DetectionStore {
	return &DetectionStore{
		client: client,
		logger: logger.With("component", "detection_store"),
	}
}

func (s *DetectionStore) lockFor(id uuid.UUID) *sync.Mutex {
	return &s.locks[int(id[0])%len(s.locks)]
}

// Append writes a detection result. Writing the same result again is a
// no-op on merge.
func (s *DetectionStore) Append(ctx context.Context, result *schema.DetectionResult) error {
	if result.Verified && result.FalsePositive {
		return &StorageError{Op: "Append", Table: detectionsTable,
			Err: fmt.Errorf("%w: verified and false_positive are mutually exclusive", ErrInvalidData)}
	}

	err := s.client.Exec(ctx, `
		INSERT INTO detection_results (
			id, log_entry_id, agent_id, threat_detected,
			threat_score, threat_type, indicators, severity, analysis_type,
			verified, false_positive, detected_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		result.ID,
		result.LogEntryID,
		result.AgentID,
		boolToUInt8(result.ThreatDetected),
		result.Assessment.ThreatScore,
		result.Assessment.ThreatType,
		result.Assessment.Indicators,
		string(result.Assessment.Severity),
		string(result.Assessment.AnalysisType),
		boolToUInt8(result.Verified),
		boolToUInt8(result.FalsePositive),
		result.DetectedAt,
		result.DetectedAt,
	)
	if err != nil {
		return WrapQueryError("Append", detectionsTable, err)
	}
	return nil
}

// Get returns the current version of a detection result.
func (s *DetectionStore) Get(ctx context.Context, id uuid.UUID) (*schema.DetectionResult, error) {
	row := s.client.QueryRow(ctx, `
		SELECT id, log_entry_id, agent_id, threat_detected,
		       threat_score, threat_type, indicators, severity, analysis_type,
		       verified, false_positive, detected_at
		FROM detection_results FINAL
		WHERE id = ?
	`, id)

	result, err := scanDetection(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, WrapNotFoundError("Get", detectionsTable, id.String())
		}
		return nil, WrapQueryError("Get", detectionsTable, err)
	}
	return result, nil
}

// MarkVerified sets the verified flag on a detection. Idempotent. Returns
// ErrConflict if the detection is already flagged as a false positive.
func (s *DetectionStore) MarkVerified(ctx context.Context, id uuid.UUID) error {
	return s.setFlag(ctx, id, true)
}

// MarkFalsePositive sets the false positive flag on a detection.
// Idempotent. Returns ErrConflict if the detection is already verified.
func (s *DetectionStore) MarkFalsePositive(ctx context.Context, id uuid.UUID) error {
	return s.setFlag(ctx, id, false)
}

func (s *DetectionStore) setFlag(ctx context.Context, id uuid.UUID, verified bool) error {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	op := "MarkFalsePositive"
	if verified {
		op = "MarkVerified"
	}

	if verified {
		if current.FalsePositive {
			return &StorageError{Op: op, Table: detectionsTable,
				Err: fmt.Errorf("%w: detection %s is flagged false positive", ErrConflict, id)}
		}
		if current.Verified {
			return nil
		}
		current.Verified = true
	} else {
		if current.Verified {
			return &StorageError{Op: op, Table: detectionsTable,
				Err: fmt.Errorf("%w: detection %s is verified", ErrConflict, id)}
		}
		if current.FalsePositive {
			return nil
		}
		current.FalsePositive = true
	}

	err = s.client.Exec(ctx, `
		INSERT INTO detection_results (
			id, log_entry_id, agent_id, threat_detected,
			threat_score, threat_type, indicators, severity, analysis_type,
			verified, false_positive, detected_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		current.ID,
		current.LogEntryID,
		current.AgentID,
		boolToUInt8(current.ThreatDetected),
		current.Assessment.ThreatScore,
		current.Assessment.ThreatType,
		current.Assessment.Indicators,
		string(current.Assessment.Severity),
		string(current.Assessment.AnalysisType),
		boolToUInt8(current.Verified),
		boolToUInt8(current.FalsePositive),
		current.DetectedAt,
		time.Now().UTC(),
	)
	if err != nil {
		return WrapQueryError(op, detectionsTable, err)
	}

	s.logger.Info("detection review recorded",
		"detection_id", id,
		"verified", current.Verified,
		"false_positive", current.FalsePositive,
	)
	return nil
}

// DetectionFilter narrows List queries. Zero values mean no constraint.
type DetectionFilter struct {
	Start        time.Time
	End          time.Time
	AgentID      string
	ThreatType   string
	Severity     schema.Severity
	DetectedOnly bool
	Limit        int
}

// List returns detection results matching the filter, newest first.
func (s *DetectionStore) List(ctx context.Context, filter DetectionFilter) ([]*schema.DetectionResult, error) {
	query := `
		SELECT id, log_entry_id, agent_id, threat_detected,
		       threat_score, threat_type, indicators, severity, analysis_type,
		       verified, false_positive, detected_at
		FROM detection_results FINAL
		WHERE 1 = 1
	`
	var args []any

	if !filter.Start.IsZero() {
		query += " AND detected_at >= ?"
		args = append(args, filter.Start)
	}
	if !filter.End.IsZero() {
		query += " AND detected_at < ?"
		args = append(args, filter.End)
	}
	if filter.AgentID != "" {
		query += " AND agent_id = ?"
		args = append(args, filter.AgentID)
	}
	if filter.ThreatType != "" {
		query += " AND threat_type = ?"
		args = append(args, filter.ThreatType)
	}
	if filter.Severity != "" {
		query += " AND severity = ?"
		args = append(args, string(filter.Severity))
	}
	if filter.DetectedOnly {
		query += " AND threat_detected = 1"
	}

	query += " ORDER BY detected_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := s.client.Query(ctx, query, args...)
	if err != nil {
		return nil, WrapQueryError("List", detectionsTable, err)
	}
	defer rows.Close()

	var results []*schema.DetectionResult
	for rows.Next() {
		result, err := scanDetection(rows)
		if err != nil {
			return nil, WrapQueryError("List", detectionsTable, err)
		}
		results = append(results, result)
	}
	return results, nil
}

// Recent returns the latest positive detections joined with their source
// entries, formatted for operator listings.
func (s *DetectionStore) Recent(ctx context.Context, limit int) ([]schema.RecentDetection, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.client.Query(ctx, `
		SELECT d.id, d.threat_type, d.severity, d.threat_score, d.detected_at,
		       d.verified, d.false_positive,
		       le.source, le.message, le.hostname
		FROM detection_results AS d FINAL
		LEFT JOIN log_entries AS le ON d.log_entry_id = le.id
		WHERE d.threat_detected = 1
		ORDER BY d.detected_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, WrapQueryError("Recent", detectionsTable, err)
	}
	defer rows.Close()

	var recent []schema.RecentDetection
	for rows.Next() {
		var (
			rd       schema.RecentDetection
			id       uuid.UUID
			severity string
			verified uint8
			falsePos uint8
		)
		if err := rows.Scan(&id, &rd.ThreatType, &severity, &rd.Score, &rd.DetectedAt,
			&verified, &falsePos, &rd.Source, &rd.Message, &rd.Hostname); err != nil {
			return nil, WrapQueryError("Recent", detectionsTable, err)
		}
		rd.ID = id.String()
		rd.Severity = schema.Severity(severity)
		switch {
		case verified == 1:
			rd.Status = "Verified"
		case falsePos == 1:
			rd.Status = "False Positive"
		default:
			rd.Status = "Pending Review"
		}
		if len(rd.Message) > 200 {
			rd.Message = rd.Message[:200]
		}
		recent = append(recent, rd)
	}
	return recent, nil
}

// A result only counts as a false positive when it was actually reported
// as a detection. Analysts can flag non-detected results too, but those
// never alerted anyone and must not deflate accuracy.
const hourlyTrendQuery = `
	SELECT toStartOfHour(detected_at) AS hour,
	       count() AS total,
	       countIf(threat_detected = 1) AS detected,
	       countIf(threat_detected = 1 AND false_positive = 1) AS false_positives
	FROM detection_results FINAL
	WHERE detected_at >= ?
	GROUP BY hour
	ORDER BY hour
`

const countsQuery = `
	SELECT count() AS total,
	       countIf(threat_detected = 1) AS detected,
	       countIf(threat_detected = 1 AND verified = 1) AS true_positives,
	       countIf(threat_detected = 1 AND false_positive = 1) AS false_positives
	FROM detection_results FINAL
	WHERE detected_at >= ?
`

// HourlyTrend buckets detections per hour over the trailing window.
func (s *DetectionStore) HourlyTrend(ctx context.Context, since time.Time) ([]schema.HourlyTrendPoint, error) {
	rows, err := s.client.Query(ctx, hourlyTrendQuery, since)
	if err != nil {
		return nil, WrapQueryError("HourlyTrend", detectionsTable, err)
	}
	defer rows.Close()

	var points []schema.HourlyTrendPoint
	for rows.Next() {
		var p schema.HourlyTrendPoint
		var total, detected, falsePositives uint64
		if err := rows.Scan(&p.Hour, &total, &detected, &falsePositives); err != nil {
			return nil, WrapQueryError("HourlyTrend", detectionsTable, err)
		}
		p.Total = int(total)
		p.Detected = int(detected)
		p.FalsePositives = int(falsePositives)
		points = append(points, p)
	}
	return points, nil
}

// TypeBreakdown aggregates positive detections by threat type.
func (s *DetectionStore) TypeBreakdown(ctx context.Context, since time.Time) ([]schema.TypeBreakdown, error) {
	rows, err := s.client.Query(ctx, `
		SELECT threat_type,
		       count() AS cnt,
		       avg(threat_score) AS avg_score,
		       countIf(false_positive = 1) AS false_positives
		FROM detection_results FINAL
		WHERE threat_detected = 1 AND detected_at >= ?
		GROUP BY threat_type
		ORDER BY cnt DESC
	`, since)
	if err != nil {
		return nil, WrapQueryError("TypeBreakdown", detectionsTable, err)
	}
	defer rows.Close()

	var breakdown []schema.TypeBreakdown
	for rows.Next() {
		var tb schema.TypeBreakdown
		var count, falsePositives uint64
		if err := rows.Scan(&tb.ThreatType, &count, &tb.AvgScore, &falsePositives); err != nil {
			return nil, WrapQueryError("TypeBreakdown", detectionsTable, err)
		}
		tb.Count = int(count)
		tb.FalsePositives = int(falsePositives)
		breakdown = append(breakdown, tb)
	}
	return breakdown, nil
}

// DetectionCounts are the raw tallies the metrics engine works from.
type DetectionCounts struct {
	Total          int
	Detected       int
	TruePositives  int
	FalsePositives int
}

// Counts tallies detections over the trailing window.
func (s *DetectionStore) Counts(ctx context.Context, since time.Time) (DetectionCounts, error) {
	row := s.client.QueryRow(ctx, countsQuery, since)

	var total, detected, truePositives, falsePositives uint64
	if err := row.Scan(&total, &detected, &truePositives, &falsePositives); err != nil {
		return DetectionCounts{}, WrapQueryError("Counts", detectionsTable, err)
	}
	return DetectionCounts{
		Total:          int(total),
		Detected:       int(detected),
		TruePositives:  int(truePositives),
		FalsePositives: int(falsePositives),
	}, nil
}

type detectionScanner interface {
	Scan(dest ...any) error
}

func scanDetection(row detectionScanner) (*schema.DetectionResult, error) {
	var (
		result     schema.DetectionResult
		detected   uint8
		severity   string
		analysis   string
		verified   uint8
		falsePos   uint8
		indicators []string
	)
	err := row.Scan(
		&result.ID,
		&result.LogEntryID,
		&result.AgentID,
		&detected,
		&result.Assessment.ThreatScore,
		&result.Assessment.ThreatType,
		&indicators,
		&severity,
		&analysis,
		&verified,
		&falsePos,
		&result.DetectedAt,
	)
	if err != nil {
		return nil, err
	}
	result.ThreatDetected = detected == 1
	result.Assessment.Indicators = indicators
	result.Assessment.Severity = schema.Severity(severity)
	result.Assessment.AnalysisType = schema.AnalysisType(analysis)
	result.Verified = verified == 1
	result.FalsePositive = falsePos == 1
	return &result, nil
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
