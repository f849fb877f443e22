// Package schema defines the canonical data model for Veracity.
// All ingested logs are normalized to LogEntry before scoring and storage.
package schema

import (
	"time"

	"github.com/google/uuid"
)

// LogEntry is one observed log record. Immutable once created.
type LogEntry struct {
	ID        uuid.UUID `json:"id" validate:"required"`
	AgentID   string    `json:"agent_id" validate:"max=256"`
	Source    string    `json:"source" validate:"required,max=256"`
	Level     Level     `json:"level" validate:"required"`
	Message   string    `json:"message" validate:"required,max=65536"`
	Timestamp time.Time `json:"timestamp" validate:"required"`
	Hostname  string    `json:"hostname,omitempty" validate:"max=256"`
	IPAddress string    `json:"ip_address,omitempty" validate:"omitempty,ip"`
}

// Level is the log severity level reported by the emitting source.
type Level string

const (
	LevelDebug    Level = "debug"
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
	LevelFatal    Level = "fatal"
)

// IsValid checks if the level is a valid value.
func (l Level) IsValid() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarning, LevelError, LevelCritical, LevelFatal:
		return true
	}
	return false
}

// IsHigh reports whether the level indicates a failure-grade record.
func (l Level) IsHigh() bool {
	switch l {
	case LevelError, LevelCritical, LevelFatal:
		return true
	}
	return false
}
