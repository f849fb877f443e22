package schema

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Validator handles validation of normalized entries against the schema.
type Validator struct {
	validate  *validator.Validate
	maxAge    time.Duration
	maxFuture time.Duration
}

// ValidatorConfig holds configuration for the validator.
type ValidatorConfig struct {
	MaxAge    time.Duration
	MaxFuture time.Duration
}

// DefaultValidatorConfig returns the default validator configuration.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxAge:    7 * 24 * time.Hour,
		MaxFuture: 5 * time.Minute,
	}
}

// NewValidator creates a new Validator with default configuration.
func NewValidator() *Validator {
	return NewValidatorWithConfig(DefaultValidatorConfig())
}

// NewValidatorWithConfig creates a new Validator with the specified configuration.
func NewValidatorWithConfig(cfg ValidatorConfig) *Validator {
	return &Validator{
		validate:  validator.New(),
		maxAge:    cfg.MaxAge,
		maxFuture: cfg.MaxFuture,
	}
}

// ValidateEntry validates a normalized log entry.
func (v *Validator) ValidateEntry(entry *LogEntry) error {
	if err := v.validate.Struct(entry); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if !entry.Level.IsValid() {
		return fmt.Errorf("invalid level: %q", entry.Level)
	}

	now := time.Now().UTC()
	if entry.Timestamp.Before(now.Add(-v.maxAge)) {
		return fmt.Errorf("timestamp too old: %v (max age: %v)", entry.Timestamp, v.maxAge)
	}
	if entry.Timestamp.After(now.Add(v.maxFuture)) {
		return fmt.Errorf("timestamp in future: %v (max future: %v)", entry.Timestamp, v.maxFuture)
	}

	return nil
}

// ValidateReview validates an analyst review before it is recorded.
func (v *Validator) ValidateReview(review *AnalystReview) error {
	if err := v.validate.Struct(review); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if !review.Verdict.IsValid() {
		return fmt.Errorf("invalid verdict: %q", review.Verdict)
	}
	return nil
}

// ValidateIndicator validates an attack indicator before it is recorded.
func (v *Validator) ValidateIndicator(ind *AttackIndicator) error {
	if err := v.validate.Struct(ind); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if ind.Severity != "" && !ind.Severity.IsValid() {
		return fmt.Errorf("invalid severity: %q", ind.Severity)
	}
	return nil
}
