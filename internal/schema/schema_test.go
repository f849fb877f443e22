package schema

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestLevelIsValid(t *testing.T) {
	tests := []struct {
		level    Level
		expected bool
	}{
		{LevelDebug, true},
		{LevelInfo, true},
		{LevelWarning, true},
		{LevelError, true},
		{LevelCritical, true},
		{LevelFatal, true},
		{Level("trace"), false},
		{Level(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			if got := tt.level.IsValid(); got != tt.expected {
				t.Errorf("IsValid() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestSeverityAtLeast(t *testing.T) {
	tests := []struct {
		name     string
		s        Severity
		other    Severity
		expected bool
	}{
		{"critical over high", SeverityCritical, SeverityHigh, true},
		{"high over high", SeverityHigh, SeverityHigh, true},
		{"medium under high", SeverityMedium, SeverityHigh, false},
		{"benign under low", SeverityBenign, SeverityLow, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.s.AtLeast(tt.other); got != tt.expected {
				t.Errorf("AtLeast() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestDetectionIDDeterministic(t *testing.T) {
	entryID := uuid.New()

	first := DetectionID(entryID)
	second := DetectionID(entryID)

	if first != second {
		t.Errorf("DetectionID not deterministic: %s != %s", first, second)
	}

	other := DetectionID(uuid.New())
	if first == other {
		t.Error("DetectionID collides for distinct entries")
	}
}

func TestValidateEntry(t *testing.T) {
	v := NewValidator()

	valid := &LogEntry{
		ID:        uuid.New(),
		AgentID:   "agent-1",
		Source:    "security",
		Level:     LevelInfo,
		Message:   "user logged in",
		Timestamp: time.Now().UTC(),
	}
	if err := v.ValidateEntry(valid); err != nil {
		t.Errorf("valid entry rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*LogEntry)
	}{
		{"missing message", func(e *LogEntry) { e.Message = "" }},
		{"missing source", func(e *LogEntry) { e.Source = "" }},
		{"bad level", func(e *LogEntry) { e.Level = "verbose" }},
		{"bad ip", func(e *LogEntry) { e.IPAddress = "not-an-ip" }},
		{"stale timestamp", func(e *LogEntry) { e.Timestamp = time.Now().Add(-30 * 24 * time.Hour) }},
		{"future timestamp", func(e *LogEntry) { e.Timestamp = time.Now().Add(time.Hour) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := *valid
			tt.mutate(&entry)
			if err := v.ValidateEntry(&entry); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestValidateReview(t *testing.T) {
	v := NewValidator()

	review := &AnalystReview{
		ID:         uuid.New(),
		LogEntryID: uuid.New(),
		Verdict:    VerdictThreat,
		Confidence: 4,
		ReviewedBy: "analyst-1",
		ReviewedAt: time.Now().UTC(),
	}
	if err := v.ValidateReview(review); err != nil {
		t.Errorf("valid review rejected: %v", err)
	}

	bad := *review
	bad.Confidence = 9
	if err := v.ValidateReview(&bad); err == nil {
		t.Error("expected error for confidence out of range")
	}

	bad = *review
	bad.Verdict = "maybe"
	if err := v.ValidateReview(&bad); err == nil {
		t.Error("expected error for invalid verdict")
	}
}
