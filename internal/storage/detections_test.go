package storage

import (
	"strings"
	"testing"
)

func TestCountQueriesScopeReviewFlagsToDetections(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"counts", countsQuery},
		{"hourly trend", hourlyTrendQuery},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.Contains(tt.query, "countIf(threat_detected = 1 AND false_positive = 1)") {
				t.Error("false positives must be tallied only among reported detections")
			}
			if strings.Contains(tt.query, "countIf(false_positive = 1)") {
				t.Error("false positives must not be tallied across non-detected results")
			}
		})
	}

	if !strings.Contains(countsQuery, "countIf(threat_detected = 1 AND verified = 1)") {
		t.Error("true positives must be tallied only among reported detections")
	}
}
