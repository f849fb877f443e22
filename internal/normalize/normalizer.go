// Package normalize converts arbitrary ingested log payloads into the
// canonical schema.LogEntry.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"veracity-soc/internal/schema"
)

// NormalizerConfig holds configuration for the normalizer.
type NormalizerConfig struct {
	DefaultSource string `yaml:"default_source"`
	DefaultLevel  string `yaml:"default_level"`
}

// DefaultNormalizerConfig returns the default normalizer configuration.
func DefaultNormalizerConfig() NormalizerConfig {
	return NormalizerConfig{
		DefaultSource: "unknown",
		DefaultLevel:  "info",
	}
}

// Normalizer converts raw key/value payloads to canonical log entries.
// Senders disagree on key naming, so common aliases are accepted.
type Normalizer struct {
	config NormalizerConfig
}

// NewNormalizer creates a new normalizer with the given configuration.
func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	if cfg.DefaultSource == "" {
		cfg.DefaultSource = "unknown"
	}
	if cfg.DefaultLevel == "" {
		cfg.DefaultLevel = "info"
	}
	return &Normalizer{config: cfg}
}

// Normalize converts a raw payload to a LogEntry, substituting defaults
// for missing optional fields. Only the message is mandatory.
func (n *Normalizer) Normalize(raw map[string]any) (*schema.LogEntry, error) {
	message := stringField(raw, "message", "msg", "log")
	if message == "" {
		return nil, fmt.Errorf("normalize: payload has no message")
	}

	entry := &schema.LogEntry{
		Message:   message,
		AgentID:   stringField(raw, "agent_id", "agentId"),
		Source:    stringField(raw, "source", "logger"),
		Hostname:  stringField(raw, "hostname", "host"),
		IPAddress: stringField(raw, "ip_address", "ipAddress", "ip"),
	}

	if id := stringField(raw, "id", "log_id", "logId"); id != "" {
		parsed, err := uuid.Parse(id)
		if err != nil {
			// Sender-assigned ids that are not UUIDs get a derived one so
			// re-deliveries of the same record stay idempotent.
			parsed = uuid.NewSHA1(uuid.NameSpaceOID, []byte(id))
		}
		entry.ID = parsed
	} else {
		entry.ID = uuid.New()
	}

	if entry.Source == "" {
		entry.Source = n.config.DefaultSource
	}

	entry.Level = normalizeLevel(stringField(raw, "level", "severity"), n.config.DefaultLevel)

	entry.Timestamp = parseTimestamp(raw)
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	return entry, nil
}

// normalizeLevel maps loosely spelled levels onto the schema enum.
func normalizeLevel(raw, fallback string) schema.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug", "trace":
		return schema.LevelDebug
	case "info", "information", "notice":
		return schema.LevelInfo
	case "warning", "warn":
		return schema.LevelWarning
	case "error", "err":
		return schema.LevelError
	case "critical", "crit":
		return schema.LevelCritical
	case "fatal", "panic":
		return schema.LevelFatal
	case "":
		return schema.Level(fallback)
	default:
		return schema.Level(fallback)
	}
}

func parseTimestamp(raw map[string]any) time.Time {
	v, ok := firstOf(raw, "timestamp", "time", "@timestamp")
	if !ok {
		return time.Time{}
	}

	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC()
			}
		}
	case float64:
		// Epoch seconds, as emitted by several agent builds.
		return time.Unix(int64(t), 0).UTC()
	case int64:
		return time.Unix(t, 0).UTC()
	}
	return time.Time{}
}

func stringField(raw map[string]any, keys ...string) string {
	v, ok := firstOf(raw, keys...)
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Sprintf("%v", v)
	}
	return strings.TrimSpace(s)
}

func firstOf(raw map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}
