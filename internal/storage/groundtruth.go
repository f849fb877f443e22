package storage

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"veracity-soc/internal/schema"
)

// heuristicTerms is the lexicon used to estimate missed threats from entry
// text when no stronger ground truth covers an entry.
var heuristicTerms = []string{
	"failed", "error", "attack", "malicious", "suspicious",
	"breach", "unauthorized", "exploit", "intrusion",
}

// GroundTruthStore persists the three authoritative ground-truth sources:
// red-team attack simulations, analyst reviews and known attack indicators.
// It also runs the missed-threat counting queries the tracker aggregates.
type GroundTruthStore struct {
	client *ClickHouseClient
	logger *slog.Logger

	// attackMu serializes the read-check-write cycle of
	// MarkAttackDetected so the flip stays at-most-once under
	// concurrent correlation.
	attackMu sync.Mutex
}

// NewGroundTruthStore creates a new GroundTruthStore.
func NewGroundTruthStore(client *ClickHouseClient, logger *slog.Logger) *GroundTruthStore {
	return &GroundTruthStore{
		client: client,
		logger: logger.With("component", "groundtruth_store"),
	}
}

// RecordAttack registers a dispatched red-team attack simulation.
func (s *GroundTruthStore) RecordAttack(ctx context.Context, attack *schema.RedTeamAttack) error {
	err := s.client.Exec(ctx, `
		INSERT INTO red_team_attacks (
			id, scenario_id, attack_type, target_agent_id, attack_timestamp,
			expected_detection, was_detected, detection_id, notes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		attack.ID,
		attack.ScenarioID,
		attack.AttackType,
		attack.TargetAgentID,
		attack.AttackTimestamp,
		boolToUInt8(attack.ExpectedDetection),
		boolToUInt8(attack.WasDetected),
		attack.DetectionID,
		attack.Notes,
		attack.CreatedAt,
		attack.CreatedAt,
	)
	if err != nil {
		return WrapQueryError("RecordAttack", "red_team_attacks", err)
	}
	return nil
}

// GetAttack returns the current version of a red-team attack record.
func (s *GroundTruthStore) GetAttack(ctx context.Context, id uuid.UUID) (*schema.RedTeamAttack, error) {
	row := s.client.QueryRow(ctx, `
		SELECT id, scenario_id, attack_type, target_agent_id, attack_timestamp,
		       expected_detection, was_detected, detection_id, notes, created_at
		FROM red_team_attacks FINAL
		WHERE id = ?
	`, id)

	attack, err := scanAttack(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, WrapNotFoundError("GetAttack", "red_team_attacks", id.String())
		}
		return nil, WrapQueryError("GetAttack", "red_team_attacks", err)
	}
	return attack, nil
}

// MarkAttackDetected flips was_detected to true and links the detection
// that caught the attack. At most once: if the attack is already marked,
// the original link is kept and the call is a no-op.
func (s *GroundTruthStore) MarkAttackDetected(ctx context.Context, attackID, detectionID uuid.UUID) error {
	s.attackMu.Lock()
	defer s.attackMu.Unlock()

	attack, err := s.GetAttack(ctx, attackID)
	if err != nil {
		return err
	}
	if attack.WasDetected {
		return nil
	}

	err = s.client.Exec(ctx, `
		INSERT INTO red_team_attacks (
			id, scenario_id, attack_type, target_agent_id, attack_timestamp,
			expected_detection, was_detected, detection_id, notes, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?)
	`,
		attack.ID,
		attack.ScenarioID,
		attack.AttackType,
		attack.TargetAgentID,
		attack.AttackTimestamp,
		boolToUInt8(attack.ExpectedDetection),
		detectionID,
		attack.Notes,
		attack.CreatedAt,
		time.Now().UTC(),
	)
	if err != nil {
		return WrapQueryError("MarkAttackDetected", "red_team_attacks", err)
	}

	s.logger.Info("red-team attack marked detected",
		"attack_id", attackID,
		"detection_id", detectionID,
	)
	return nil
}

// UndetectedAttacks returns attacks not yet linked to a detection, oldest
// first. The reconciler polls this to correlate late detections.
func (s *GroundTruthStore) UndetectedAttacks(ctx context.Context, since time.Time) ([]*schema.RedTeamAttack, error) {
	rows, err := s.client.Query(ctx, `
		SELECT id, scenario_id, attack_type, target_agent_id, attack_timestamp,
		       expected_detection, was_detected, detection_id, notes, created_at
		FROM red_team_attacks FINAL
		WHERE was_detected = 0 AND attack_timestamp >= ?
		ORDER BY attack_timestamp
	`, since)
	if err != nil {
		return nil, WrapQueryError("UndetectedAttacks", "red_team_attacks", err)
	}
	defer rows.Close()

	var attacks []*schema.RedTeamAttack
	for rows.Next() {
		attack, err := scanAttack(rows)
		if err != nil {
			return nil, WrapQueryError("UndetectedAttacks", "red_team_attacks", err)
		}
		attacks = append(attacks, attack)
	}
	return attacks, nil
}

// RecordReview stores an analyst review. Reviews are append only.
func (s *GroundTruthStore) RecordReview(ctx context.Context, review *schema.AnalystReview) error {
	err := s.client.Exec(ctx, `
		INSERT INTO analyst_reviews (
			id, log_entry_id, detection_result_id, verdict, confidence,
			threat_type, notes, reviewed_by, reviewed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		review.ID,
		review.LogEntryID,
		review.DetectionResultID,
		string(review.Verdict),
		uint8(review.Confidence),
		review.ThreatType,
		review.Notes,
		review.ReviewedBy,
		review.ReviewedAt,
	)
	if err != nil {
		return WrapQueryError("RecordReview", "analyst_reviews", err)
	}
	return nil
}

// UpsertIndicator registers or refreshes an attack indicator. The natural
// key is (indicator_type, indicator_value); re-registering refreshes
// last_seen and keeps first_seen from the existing row when present.
func (s *GroundTruthStore) UpsertIndicator(ctx context.Context, ind *schema.AttackIndicator) error {
	firstSeen := ind.FirstSeen
	row := s.client.QueryRow(ctx, `
		SELECT min(first_seen)
		FROM attack_indicators
		WHERE indicator_type = ? AND indicator_value = ?
	`, ind.IndicatorType, ind.IndicatorValue)

	var existing time.Time
	if err := row.Scan(&existing); err == nil && !existing.IsZero() && existing.Before(firstSeen) {
		firstSeen = existing
	}

	err := s.client.Exec(ctx, `
		INSERT INTO attack_indicators (
			id, indicator_type, indicator_value, threat_type, severity,
			source, active, first_seen, last_seen
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ind.ID,
		ind.IndicatorType,
		ind.IndicatorValue,
		ind.ThreatType,
		string(ind.Severity),
		ind.Source,
		boolToUInt8(ind.Active),
		firstSeen,
		ind.LastSeen,
	)
	if err != nil {
		return WrapQueryError("UpsertIndicator", "attack_indicators", err)
	}
	return nil
}

// ActiveIndicators returns all currently active indicators.
func (s *GroundTruthStore) ActiveIndicators(ctx context.Context) ([]schema.AttackIndicator, error) {
	rows, err := s.client.Query(ctx, `
		SELECT id, indicator_type, indicator_value, threat_type, severity,
		       source, active, first_seen, last_seen
		FROM attack_indicators FINAL
		WHERE active = 1
		ORDER BY indicator_type, indicator_value
	`)
	if err != nil {
		return nil, WrapQueryError("ActiveIndicators", "attack_indicators", err)
	}
	defer rows.Close()

	var indicators []schema.AttackIndicator
	for rows.Next() {
		var (
			ind      schema.AttackIndicator
			severity string
			active   uint8
		)
		if err := rows.Scan(&ind.ID, &ind.IndicatorType, &ind.IndicatorValue,
			&ind.ThreatType, &severity, &ind.Source, &active,
			&ind.FirstSeen, &ind.LastSeen); err != nil {
			return nil, WrapQueryError("ActiveIndicators", "attack_indicators", err)
		}
		ind.Severity = schema.Severity(severity)
		ind.Active = active == 1
		indicators = append(indicators, ind)
	}
	return indicators, nil
}

// MissedCounts are the per-source missed-threat tallies for one window.
// The sources are counted independently and may overlap.
type MissedCounts struct {
	RedTeam   int
	Analyst   int
	KnownIOCs int
	Heuristic int
}

// CountMissed runs the four missed-threat queries over the trailing window.
func (s *GroundTruthStore) CountMissed(ctx context.Context, since time.Time) (MissedCounts, error) {
	var counts MissedCounts
	var err error

	if counts.RedTeam, err = s.countMissedRedTeam(ctx, since); err != nil {
		return counts, err
	}
	if counts.Analyst, err = s.countMissedAnalyst(ctx, since); err != nil {
		return counts, err
	}
	if counts.KnownIOCs, err = s.countMissedIOCs(ctx, since); err != nil {
		return counts, err
	}
	if counts.Heuristic, err = s.countMissedHeuristic(ctx, since); err != nil {
		return counts, err
	}
	return counts, nil
}

// countMissedRedTeam counts attacks that should have been detected and were
// not. This is the only count backed by known-malicious ground truth.
func (s *GroundTruthStore) countMissedRedTeam(ctx context.Context, since time.Time) (int, error) {
	row := s.client.QueryRow(ctx, `
		SELECT count()
		FROM red_team_attacks FINAL
		WHERE expected_detection = 1
		  AND was_detected = 0
		  AND attack_timestamp >= ?
	`, since)

	var count uint64
	if err := row.Scan(&count); err != nil {
		return 0, WrapQueryError("CountMissed", "red_team_attacks", err)
	}
	return int(count), nil
}

// countMissedAnalyst counts entries an analyst judged to be threats where
// the pipeline produced no positive detection.
func (s *GroundTruthStore) countMissedAnalyst(ctx context.Context, since time.Time) (int, error) {
	row := s.client.QueryRow(ctx, `
		SELECT count(DISTINCT r.log_entry_id)
		FROM analyst_reviews AS r
		LEFT JOIN (
			SELECT log_entry_id, max(threat_detected) AS threat_detected
			FROM detection_results FINAL
			GROUP BY log_entry_id
		) AS d ON r.log_entry_id = d.log_entry_id
		WHERE r.verdict = 'threat'
		  AND r.reviewed_at >= ?
		  AND (d.log_entry_id IS NULL OR d.threat_detected = 0)
	`, since)

	var count uint64
	if err := row.Scan(&count); err != nil {
		return 0, WrapQueryError("CountMissed", "analyst_reviews", err)
	}
	return int(count), nil
}

// countMissedIOCs counts entries whose message contains an active known
// indicator but that produced no positive detection.
func (s *GroundTruthStore) countMissedIOCs(ctx context.Context, since time.Time) (int, error) {
	indicators, err := s.ActiveIndicators(ctx)
	if err != nil {
		return 0, err
	}
	if len(indicators) == 0 {
		return 0, nil
	}

	values := make([]string, 0, len(indicators))
	for _, ind := range indicators {
		values = append(values, ind.IndicatorValue)
	}

	row := s.client.QueryRow(ctx, `
		SELECT count()
		FROM log_entries AS le
		WHERE le.timestamp >= ?
		  AND multiSearchAnyCaseInsensitive(le.message, ?) = 1
		  AND le.id NOT IN (
			SELECT log_entry_id FROM detection_results FINAL WHERE threat_detected = 1
		  )
	`, since, values)

	var count uint64
	if err := row.Scan(&count); err != nil {
		return 0, WrapQueryError("CountMissed", "attack_indicators", err)
	}
	return int(count), nil
}

// countMissedHeuristic estimates misses from failure-grade entries whose
// text looks threatening. Entries already reviewed by an analyst as threats
// are excluded so this count stays a residual estimate, not a duplicate of
// the analyst count.
func (s *GroundTruthStore) countMissedHeuristic(ctx context.Context, since time.Time) (int, error) {
	row := s.client.QueryRow(ctx, `
		SELECT count()
		FROM log_entries AS le
		WHERE le.timestamp >= ?
		  AND le.level IN ('error', 'critical', 'warning')
		  AND multiSearchAnyCaseInsensitive(le.message, ?) = 1
		  AND le.id NOT IN (
			SELECT log_entry_id FROM detection_results FINAL WHERE threat_detected = 1
		  )
		  AND le.id NOT IN (
			SELECT log_entry_id FROM analyst_reviews WHERE verdict = 'threat'
		  )
	`, since, heuristicTerms)

	var count uint64
	if err := row.Scan(&count); err != nil {
		return 0, WrapQueryError("CountMissed", "log_entries", err)
	}
	return int(count), nil
}

type attackScanner interface {
	Scan(dest ...any) error
}

func scanAttack(row attackScanner) (*schema.RedTeamAttack, error) {
	var (
		attack   schema.RedTeamAttack
		expected uint8
		detected uint8
	)
	err := row.Scan(
		&attack.ID,
		&attack.ScenarioID,
		&attack.AttackType,
		&attack.TargetAgentID,
		&attack.AttackTimestamp,
		&expected,
		&detected,
		&attack.DetectionID,
		&attack.Notes,
		&attack.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	attack.ExpectedDetection = expected == 1
	attack.WasDetected = detected == 1
	return &attack, nil
}
