package normalize

import (
	"testing"
	"time"

	"veracity-soc/internal/schema"
)

func TestNormalizeDefaults(t *testing.T) {
	n := NewNormalizer(DefaultNormalizerConfig())

	entry, err := n.Normalize(map[string]any{
		"message": "user logged in",
	})
	if err != nil {
		t.Fatalf("Normalize() error: %v", err)
	}

	if entry.Source != "unknown" {
		t.Errorf("Source = %q, want %q", entry.Source, "unknown")
	}
	if entry.Level != schema.LevelInfo {
		t.Errorf("Level = %q, want %q", entry.Level, schema.LevelInfo)
	}
	if entry.ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("ID was not generated")
	}
	if entry.Timestamp.IsZero() {
		t.Error("Timestamp was not defaulted")
	}
	if time.Since(entry.Timestamp) > time.Minute {
		t.Errorf("defaulted Timestamp too old: %v", entry.Timestamp)
	}
}

func TestNormalizeMissingMessage(t *testing.T) {
	n := NewNormalizer(DefaultNormalizerConfig())

	if _, err := n.Normalize(map[string]any{"level": "info"}); err == nil {
		t.Error("expected error for payload without message")
	}
}

func TestNormalizeAliases(t *testing.T) {
	n := NewNormalizer(DefaultNormalizerConfig())

	entry, err := n.Normalize(map[string]any{
		"msg":       "nmap -sS 10.0.0.0/24",
		"agentId":   "agent-7",
		"logger":    "process",
		"host":      "ws-042",
		"ipAddress": "10.1.2.3",
		"severity":  "warn",
		"timestamp": "2026-08-01T10:00:00Z",
	})
	if err != nil {
		t.Fatalf("Normalize() error: %v", err)
	}

	if entry.AgentID != "agent-7" {
		t.Errorf("AgentID = %q, want %q", entry.AgentID, "agent-7")
	}
	if entry.Source != "process" {
		t.Errorf("Source = %q, want %q", entry.Source, "process")
	}
	if entry.Hostname != "ws-042" {
		t.Errorf("Hostname = %q, want %q", entry.Hostname, "ws-042")
	}
	if entry.IPAddress != "10.1.2.3" {
		t.Errorf("IPAddress = %q, want %q", entry.IPAddress, "10.1.2.3")
	}
	if entry.Level != schema.LevelWarning {
		t.Errorf("Level = %q, want %q", entry.Level, schema.LevelWarning)
	}
	want := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	if !entry.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", entry.Timestamp, want)
	}
}

func TestNormalizeStableIDForRedelivery(t *testing.T) {
	n := NewNormalizer(DefaultNormalizerConfig())

	payload := map[string]any{
		"message": "failed login for root",
		"id":      "agent-7-seq-991",
	}

	first, err := n.Normalize(payload)
	if err != nil {
		t.Fatalf("Normalize() error: %v", err)
	}
	second, err := n.Normalize(payload)
	if err != nil {
		t.Fatalf("Normalize() error: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("redelivered payload produced a new ID: %s != %s", first.ID, second.ID)
	}
}

func TestNormalizeLevelMapping(t *testing.T) {
	tests := []struct {
		raw      string
		expected schema.Level
	}{
		{"DEBUG", schema.LevelDebug},
		{"notice", schema.LevelInfo},
		{"warn", schema.LevelWarning},
		{"err", schema.LevelError},
		{"crit", schema.LevelCritical},
		{"panic", schema.LevelFatal},
		{"nonsense", schema.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := normalizeLevel(tt.raw, "info"); got != tt.expected {
				t.Errorf("normalizeLevel(%q) = %q, want %q", tt.raw, got, tt.expected)
			}
		})
	}
}
