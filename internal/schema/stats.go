package schema

import "time"

// MissedConfidence labels how trustworthy a missed-threat estimate is,
// based on which ground-truth sources contributed to it.
type MissedConfidence string

const (
	ConfidenceVeryHigh MissedConfidence = "very_high" // red-team ground truth present
	ConfidenceHigh     MissedConfidence = "high"      // analyst confirmed
	ConfidenceMedium   MissedConfidence = "medium"    // known IOC matches
	ConfidenceLow      MissedConfidence = "low"       // heuristic estimate only
	ConfidenceUnknown  MissedConfidence = "unknown"   // no source reported a miss
)

// MissedBreakdown holds the per-source missed-threat counts.
//
// Total is the plain sum of the four counts. The sources are not
// deduplicated against each other (only the heuristic source excludes
// entries already reviewed as threats), so the total can overcount an
// event visible to more than one source. This matches the established
// arithmetic and is a known limitation, not a bug to fix here.
type MissedBreakdown struct {
	RedTeam     int              `json:"red_team"`
	Analyst     int              `json:"analyst_confirmed"`
	KnownIOCs   int              `json:"known_iocs"`
	Heuristic   int              `json:"heuristic"`
	Total       int              `json:"total"`
	Confidence  MissedConfidence `json:"confidence"`
	GroundTruth bool             `json:"has_ground_truth"` // red-team data present
	Estimated   bool             `json:"is_estimated"`     // heuristic only
}

// DetectionStats is a derived, read-only aggregate over a time window.
// All rates are percentages rounded to two decimals.
type DetectionStats struct {
	TotalDetections   int             `json:"total_detections"`
	ThreatsDetected   int             `json:"threats_detected"`
	ThreatsMissed     int             `json:"threats_missed"`
	FalsePositives    int             `json:"false_positives"`
	TruePositives     int             `json:"true_positives"`
	DetectionAccuracy float64         `json:"detection_accuracy"`
	FalsePositiveRate float64         `json:"false_positive_rate"`
	DetectionRate     float64         `json:"detection_rate"` // recall
	Precision         float64         `json:"precision"`
	F1Score           float64         `json:"f1_score"`
	Missed            MissedBreakdown `json:"missed_breakdown"`
	TimeRangeHours    int             `json:"time_range_hours"`
	LastUpdated       time.Time       `json:"last_updated"`
}

// HourlyTrendPoint is one bucket of the hourly detection trend.
type HourlyTrendPoint struct {
	Hour           time.Time `json:"hour"`
	Total          int       `json:"total"`
	Detected       int       `json:"detected"`
	FalsePositives int       `json:"false_positives"`
}

// TypeBreakdown aggregates positive detections for one threat type.
type TypeBreakdown struct {
	ThreatType     string  `json:"threat_type"`
	Count          int     `json:"count"`
	AvgScore       float64 `json:"avg_score"`
	FalsePositives int     `json:"false_positives"`
}

// RecentDetection is a compact listing row for the latest positive
// detections, including review status.
type RecentDetection struct {
	ID         string    `json:"id"`
	ThreatType string    `json:"threat_type"`
	Severity   Severity  `json:"severity"`
	Score      float64   `json:"score"`
	DetectedAt time.Time `json:"detected_at"`
	Source     string    `json:"source"`
	Message    string    `json:"message"`
	Hostname   string    `json:"hostname"`
	Status     string    `json:"status"` // Verified, False Positive, Pending Review
}
