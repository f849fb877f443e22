package schema

import (
	"time"

	"github.com/google/uuid"
)

// Severity is the tiered severity assigned by the scorer.
type Severity string

const (
	SeverityBenign   Severity = "benign"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid checks if the severity is a valid value.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityBenign, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// severityRank orders severities for comparison. Unknown values rank lowest.
var severityRank = map[Severity]int{
	SeverityBenign:   0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// AnalysisType identifies which scoring path produced an assessment.
type AnalysisType string

const (
	// AnalysisRuleBased means the rule pass alone produced the result
	// (the event never cleared the deep-analysis pre-filter).
	AnalysisRuleBased AnalysisType = "rule_based"

	// AnalysisHybrid means a deep contextual pass refined the rule score.
	AnalysisHybrid AnalysisType = "ai_hybrid"

	// AnalysisFallback means the deep pass was attempted but failed or
	// timed out, and the rule-based score stands.
	AnalysisFallback AnalysisType = "rule_fallback"
)

// ThreatAssessment is the scorer output for one LogEntry. Never mutated.
type ThreatAssessment struct {
	ThreatScore  float64      `json:"threat_score"`
	ThreatType   string       `json:"threat_type"`
	Indicators   []string     `json:"indicators"`
	Severity     Severity     `json:"severity"`
	AnalysisType AnalysisType `json:"analysis_type"`
}

// ThreatTypeBenign is the threat type assigned when nothing matched.
const ThreatTypeBenign = "benign"

// DetectionResult persists a scored entry together with its verdict.
// The two analyst flags are the only fields mutated after creation.
type DetectionResult struct {
	ID             uuid.UUID        `json:"id"`
	LogEntryID     uuid.UUID        `json:"log_entry_id"`
	AgentID        string           `json:"agent_id"`
	ThreatDetected bool             `json:"threat_detected"`
	Assessment     ThreatAssessment `json:"assessment"`
	Verified       bool             `json:"verified"`
	FalsePositive  bool             `json:"false_positive"`
	DetectedAt     time.Time        `json:"detected_at"`
}

// detectionNamespace seeds deterministic detection ids so that re-scoring
// the same log entry upserts rather than duplicates.
var detectionNamespace = uuid.MustParse("7f1c2ad4-9e6b-4b83-b1f2-5a0c9d6e4f21")

// DetectionID derives the deterministic detection id for a log entry.
func DetectionID(logEntryID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(detectionNamespace, logEntryID[:])
}
