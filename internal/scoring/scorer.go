package scoring

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"veracity-soc/internal/schema"
)

// ScorerConfig holds the tunable weights of the hybrid scorer. All score
// contributions are additive and the final score is clamped to [0, 1].
type ScorerConfig struct {
	// LevelHighBonus is added for error, critical and fatal entries.
	LevelHighBonus float64 `yaml:"level_high_bonus"`
	// LevelWarnBonus is added for warning entries.
	LevelWarnBonus float64 `yaml:"level_warn_bonus"`

	// Source bonuses apply by substring match on the lowercased source.
	SourceSecurityBonus float64 `yaml:"source_security_bonus"`
	SourceSystemBonus   float64 `yaml:"source_system_bonus"`
	SourceProcessBonus  float64 `yaml:"source_process_bonus"`

	// Connection flood adjustments keyed on the fleet-wide count of
	// connection-related entries in the last hour.
	ConnFloodHighCount int     `yaml:"conn_flood_high_count"`
	ConnFloodHighBonus float64 `yaml:"conn_flood_high_bonus"`
	ConnFloodLowCount  int     `yaml:"conn_flood_low_count"`
	ConnFloodLowBonus  float64 `yaml:"conn_flood_low_bonus"`

	// NoveltyBonus applies when the agent has never emitted this
	// (source, level) pair before.
	NoveltyBonus float64 `yaml:"novelty_bonus"`

	// RepeatBonus applies once an agent repeats the same threat pattern
	// more than RepeatCount times within RepeatWindow.
	RepeatBonus  float64       `yaml:"repeat_bonus"`
	RepeatCount  int           `yaml:"repeat_count"`
	RepeatWindow time.Duration `yaml:"repeat_window"`

	// PreFilterBar is the minimum rule-based score required before the
	// deep contextual pass is consulted. Everything below it is decided
	// by rules alone.
	PreFilterBar float64 `yaml:"pre_filter_bar"`

	// DeepTimeout bounds a single deep analysis call.
	DeepTimeout time.Duration `yaml:"deep_timeout"`

	// RepeatCacheSize bounds the per-agent repeat tracking cache.
	RepeatCacheSize int `yaml:"repeat_cache_size"`
}

// DefaultScorerConfig returns the default scoring weights.
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		LevelHighBonus:      0.3,
		LevelWarnBonus:      0.2,
		SourceSecurityBonus: 0.4,
		SourceSystemBonus:   0.2,
		SourceProcessBonus:  0.1,
		ConnFloodHighCount:  100,
		ConnFloodHighBonus:  0.3,
		ConnFloodLowCount:   50,
		ConnFloodLowBonus:   0.2,
		NoveltyBonus:        0.4,
		RepeatBonus:         0.1,
		RepeatCount:         10,
		RepeatWindow:        time.Hour,
		PreFilterBar:        0.2,
		DeepTimeout:         300 * time.Millisecond,
		RepeatCacheSize:     4096,
	}
}

type repeatWindow struct {
	start time.Time
	count int
}

// Scorer produces a ThreatAssessment for each normalized log entry. The
// rule pass always runs; entries clearing the pre-filter additionally get
// the deep contextual pass when an analyzer is configured. The scorer never
// fails an entry: any deep or context error degrades to the rule verdict.
type Scorer struct {
	config   ScorerConfig
	patterns []PatternCategory
	policy   *ThresholdPolicy
	provider ContextProvider
	deep     DeepAnalyzer
	repeats  *lru.Cache[string, repeatWindow]
	logger   *slog.Logger
}

// NewScorer creates a scorer. provider and deep may be nil, in which case
// the corresponding adjustments are skipped.
func NewScorer(config ScorerConfig, patterns []PatternCategory, policy *ThresholdPolicy, provider ContextProvider, deep DeepAnalyzer, logger *slog.Logger) (*Scorer, error) {
	size := config.RepeatCacheSize
	if size <= 0 {
		size = DefaultScorerConfig().RepeatCacheSize
	}
	repeats, err := lru.New[string, repeatWindow](size)
	if err != nil {
		return nil, err
	}
	return &Scorer{
		config:   config,
		patterns: patterns,
		policy:   policy,
		provider: provider,
		deep:     deep,
		repeats:  repeats,
		logger:   logger.With("component", "scorer"),
	}, nil
}

type patternMatch struct {
	category PatternCategory
	patterns []string
}

func (s *Scorer) matchPatterns(message string) []patternMatch {
	msg := strings.ToLower(message)
	var matches []patternMatch
	for _, cat := range s.patterns {
		var hit []string
		for _, p := range cat.Patterns {
			if strings.Contains(msg, p) {
				hit = append(hit, p)
			}
		}
		if len(hit) > 0 {
			matches = append(matches, patternMatch{category: cat, patterns: hit})
		}
	}
	return matches
}

// Score assesses one entry. The returned assessment is complete; callers
// decide detection separately against the threshold policy.
func (s *Scorer) Score(ctx context.Context, entry *schema.LogEntry) schema.ThreatAssessment {
	if s.provider != nil {
		if err := s.provider.ObserveEntry(ctx, entry); err != nil {
			s.logger.Debug("context observation failed", "error", err)
		}
	}

	matches := s.matchPatterns(entry.Message)
	if len(matches) == 0 {
		// Benign fast path. Level and source contributions apply only
		// to entries with at least one pattern match, so clean traffic
		// from noisy sources stays at exactly zero.
		return schema.ThreatAssessment{
			ThreatScore:  0,
			ThreatType:   schema.ThreatTypeBenign,
			Severity:     schema.SeverityBenign,
			AnalysisType: schema.AnalysisRuleBased,
		}
	}

	score := 0.0
	threatType := schema.ThreatTypeBenign
	bestWeight := 0.0
	var indicators []string
	var categories []string
	for _, m := range matches {
		score += m.category.Weight
		categories = append(categories, m.category.Name)
		for _, p := range m.patterns {
			indicators = append(indicators, m.category.Name+": "+p)
		}
		// Later categories win ties, matching the lexicon order.
		if m.category.Weight >= bestWeight {
			bestWeight = m.category.Weight
			threatType = m.category.ThreatType
		}
	}

	if entry.Level.IsHigh() {
		score += s.config.LevelHighBonus
	} else if entry.Level == schema.LevelWarning {
		score += s.config.LevelWarnBonus
	}

	src := strings.ToLower(entry.Source)
	switch {
	case strings.Contains(src, "security"):
		score += s.config.SourceSecurityBonus
	case strings.Contains(src, "system"):
		score += s.config.SourceSystemBonus
	case strings.Contains(src, "process"):
		score += s.config.SourceProcessBonus
	}

	score += s.contextAdjustments(ctx, entry, &indicators)
	score += s.repeatAdjustment(entry, threatType, &indicators)
	ruleScore := clamp(score)

	finalScore := ruleScore
	analysisType := schema.AnalysisRuleBased
	if s.deep != nil && ruleScore >= s.config.PreFilterBar {
		finalScore, threatType, indicators, analysisType = s.deepPass(ctx, entry, ruleScore, threatType, indicators, categories)
	}

	sort.Strings(indicators)
	return schema.ThreatAssessment{
		ThreatScore:  finalScore,
		ThreatType:   threatType,
		Indicators:   indicators,
		Severity:     s.policy.Severity(finalScore, entry.Source, entry.Level),
		AnalysisType: analysisType,
	}
}

func (s *Scorer) contextAdjustments(ctx context.Context, entry *schema.LogEntry, indicators *[]string) float64 {
	if s.provider == nil {
		return 0
	}
	adj := 0.0

	conns, err := s.provider.RecentConnections(ctx)
	if err != nil {
		s.logger.Debug("connection count unavailable", "error", err)
	} else if conns > s.config.ConnFloodHighCount {
		adj += s.config.ConnFloodHighBonus
		*indicators = append(*indicators, "context: connection_flood")
	} else if conns > s.config.ConnFloodLowCount {
		adj += s.config.ConnFloodLowBonus
		*indicators = append(*indicators, "context: elevated_connections")
	}

	novel, err := s.provider.NovelBehavior(ctx, entry.AgentID, entry.Source, entry.Level)
	if err != nil {
		s.logger.Debug("behavior baseline unavailable", "error", err)
	} else if novel {
		adj += s.config.NoveltyBonus
		*indicators = append(*indicators, "context: novel_behavior")
	}
	return adj
}

func (s *Scorer) repeatAdjustment(entry *schema.LogEntry, threatType string, indicators *[]string) float64 {
	key := entry.AgentID + "|" + threatType
	now := time.Now()
	win, ok := s.repeats.Get(key)
	if !ok || now.Sub(win.start) > s.config.RepeatWindow {
		win = repeatWindow{start: now}
	}
	win.count++
	s.repeats.Add(key, win)
	if win.count > s.config.RepeatCount {
		*indicators = append(*indicators, "context: repeated_pattern")
		return s.config.RepeatBonus
	}
	return 0
}

func (s *Scorer) deepPass(ctx context.Context, entry *schema.LogEntry, ruleScore float64, threatType string, indicators []string, categories []string) (float64, string, []string, schema.AnalysisType) {
	timeout := s.config.DeepTimeout
	if timeout <= 0 {
		timeout = DefaultScorerConfig().DeepTimeout
	}
	deepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	finding, err := s.deep.Analyze(deepCtx, &DeepRequest{
		Entry:      entry,
		RuleScore:  ruleScore,
		ThreatType: threatType,
		Indicators: indicators,
		Categories: categories,
	})
	if err != nil {
		s.logger.Warn("deep analysis failed, keeping rule verdict",
			"entry_id", entry.ID,
			"rule_score", ruleScore,
			"error", err)
		return ruleScore, threatType, indicators, schema.AnalysisFallback
	}

	score := ruleScore
	if finding.ThreatScore != nil {
		score = clamp(*finding.ThreatScore)
	}
	if finding.ThreatType != "" {
		threatType = finding.ThreatType
	}
	if len(finding.Indicators) > 0 {
		indicators = append(indicators, finding.Indicators...)
	}
	return score, threatType, indicators, schema.AnalysisHybrid
}

func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
