package schema

import (
	"time"

	"github.com/google/uuid"
)

// RedTeamAttack records an authorized attack simulation dispatched to a
// target agent. It is the only ground-truth source derived from a known
// malicious action. WasDetected transitions false to true at most once.
type RedTeamAttack struct {
	ID                uuid.UUID  `json:"id"`
	ScenarioID        string     `json:"scenario_id"`
	AttackType        string     `json:"attack_type"`
	TargetAgentID     string     `json:"target_agent_id"`
	AttackTimestamp   time.Time  `json:"attack_timestamp"`
	ExpectedDetection bool       `json:"expected_detection"`
	WasDetected       bool       `json:"was_detected"`
	DetectionID       *uuid.UUID `json:"detection_id,omitempty"`
	Notes             string     `json:"notes,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Verdict is an analyst's judgment on a log entry.
type Verdict string

const (
	VerdictThreat  Verdict = "threat"
	VerdictBenign  Verdict = "benign"
	VerdictUnclear Verdict = "unclear"
)

// IsValid checks if the verdict is a valid value.
func (v Verdict) IsValid() bool {
	switch v {
	case VerdictThreat, VerdictBenign, VerdictUnclear:
		return true
	}
	return false
}

// AnalystReview is a human judgment on a log entry and, optionally, the
// detection result produced for it. Immutable once submitted; corrections
// are new records.
type AnalystReview struct {
	ID                uuid.UUID  `json:"id"`
	LogEntryID        uuid.UUID  `json:"log_entry_id"`
	DetectionResultID *uuid.UUID `json:"detection_result_id,omitempty"`
	Verdict           Verdict    `json:"verdict" validate:"required"`
	Confidence        int        `json:"confidence" validate:"min=1,max=5"`
	ThreatType        string     `json:"threat_type,omitempty"`
	Notes             string     `json:"notes,omitempty"`
	ReviewedBy        string     `json:"reviewed_by"`
	ReviewedAt        time.Time  `json:"reviewed_at"`
}

// AttackIndicator is a known indicator of compromise matched as a
// substring against log messages.
type AttackIndicator struct {
	ID             uuid.UUID `json:"id"`
	IndicatorType  string    `json:"indicator_type"` // ip, hash, domain, pattern
	IndicatorValue string    `json:"indicator_value" validate:"required"`
	ThreatType     string    `json:"threat_type"`
	Severity       Severity  `json:"severity"`
	Source         string    `json:"source"` // threat_intel, manual, ml
	Active         bool      `json:"active"`
	FirstSeen      time.Time `json:"first_seen"`
	LastSeen       time.Time `json:"last_seen"`
}
