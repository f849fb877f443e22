package scoring

import (
	"strings"

	"veracity-soc/internal/schema"
)

// Thresholds holds the severity cut points and the detection threshold for
// one (source, level) class. Critical through Low must be monotonically
// decreasing; a score below Low maps to benign.
type Thresholds struct {
	Critical  float64 `yaml:"critical"`
	High      float64 `yaml:"high"`
	Medium    float64 `yaml:"medium"`
	Low       float64 `yaml:"low"`
	Detection float64 `yaml:"detection"`
}

// SourceThresholds binds a threshold table to source names containing Tag.
type SourceThresholds struct {
	Tag    string     `yaml:"tag"`
	Limits Thresholds `yaml:"limits"`
}

// ThresholdPolicy resolves the threshold table for a log entry. Resolution
// order: high-urgency levels first (critical, error and fatal always use the
// most sensitive table regardless of source), then source tables in
// declaration order by substring match, then the base table.
type ThresholdPolicy struct {
	Base      Thresholds         `yaml:"base"`
	HighLevel Thresholds         `yaml:"high_level"`
	Sources   []SourceThresholds `yaml:"sources"`
}

// DefaultThresholdPolicy returns the built-in adaptive tables. Security
// sources run hotter than the base, process sources colder, and critical or
// error level entries are always scored against the most sensitive table.
func DefaultThresholdPolicy() *ThresholdPolicy {
	return &ThresholdPolicy{
		Base:      Thresholds{Critical: 1.0, High: 0.7, Medium: 0.5, Low: 0.3, Detection: 0.3},
		HighLevel: Thresholds{Critical: 0.7, High: 0.5, Medium: 0.3, Low: 0.2, Detection: 0.2},
		Sources: []SourceThresholds{
			{Tag: "security", Limits: Thresholds{Critical: 0.8, High: 0.6, Medium: 0.4, Low: 0.2, Detection: 0.2}},
			{Tag: "system", Limits: Thresholds{Critical: 0.9, High: 0.65, Medium: 0.45, Low: 0.25, Detection: 0.25}},
			{Tag: "process", Limits: Thresholds{Critical: 1.1, High: 0.75, Medium: 0.55, Low: 0.35, Detection: 0.35}},
		},
	}
}

// For resolves the threshold table for the given source and level.
func (p *ThresholdPolicy) For(source string, level schema.Level) Thresholds {
	if level.IsHigh() {
		return p.HighLevel
	}
	src := strings.ToLower(source)
	for _, st := range p.Sources {
		if strings.Contains(src, st.Tag) {
			return st.Limits
		}
	}
	return p.Base
}

// Severity maps a score onto the severity ladder for the entry's class.
func (p *ThresholdPolicy) Severity(score float64, source string, level schema.Level) schema.Severity {
	t := p.For(source, level)
	switch {
	case score >= t.Critical:
		return schema.SeverityCritical
	case score >= t.High:
		return schema.SeverityHigh
	case score >= t.Medium:
		return schema.SeverityMedium
	case score >= t.Low:
		return schema.SeverityLow
	default:
		return schema.SeverityBenign
	}
}

// Detected reports whether the score clears the detection threshold for the
// entry's class.
func (p *ThresholdPolicy) Detected(score float64, source string, level schema.Level) bool {
	return score >= p.For(source, level).Detection
}
