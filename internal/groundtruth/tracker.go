// Package groundtruth reconciles what the detection pipeline reported with
// what actually happened, using red-team simulations, analyst reviews,
// known indicators and a heuristic text estimate.
package groundtruth

import (
	"context"
	"log/slog"
	"time"

	"veracity-soc/internal/schema"
	"veracity-soc/internal/storage"
)

// MissedCounter runs the per-source missed-threat queries.
type MissedCounter interface {
	CountMissed(ctx context.Context, since time.Time) (storage.MissedCounts, error)
}

// Tracker assembles the missed-threat breakdown from the ground-truth
// sources, ordered by trust: red-team attacks, then analyst reviews, then
// known indicators, then the heuristic estimate.
type Tracker struct {
	counter MissedCounter
	logger  *slog.Logger
}

// NewTracker creates a new Tracker.
func NewTracker(counter MissedCounter, logger *slog.Logger) *Tracker {
	return &Tracker{
		counter: counter,
		logger:  logger.With("component", "groundtruth_tracker"),
	}
}

// Breakdown computes the missed-threat breakdown over the trailing window.
//
// The total is a plain sum of the four counts; sources are not deduplicated
// against each other, so an event visible to more than one source counts
// more than once. The confidence label comes from the most trusted source
// that reported anything.
func (t *Tracker) Breakdown(ctx context.Context, window time.Duration) (schema.MissedBreakdown, error) {
	since := time.Now().UTC().Add(-window)

	counts, err := t.counter.CountMissed(ctx, since)
	if err != nil {
		return schema.MissedBreakdown{Confidence: schema.ConfidenceUnknown}, err
	}

	breakdown := schema.MissedBreakdown{
		RedTeam:     counts.RedTeam,
		Analyst:     counts.Analyst,
		KnownIOCs:   counts.KnownIOCs,
		Heuristic:   counts.Heuristic,
		Total:       counts.RedTeam + counts.Analyst + counts.KnownIOCs + counts.Heuristic,
		GroundTruth: counts.RedTeam > 0,
	}

	switch {
	case counts.RedTeam > 0:
		breakdown.Confidence = schema.ConfidenceVeryHigh
	case counts.Analyst > 0:
		breakdown.Confidence = schema.ConfidenceHigh
	case counts.KnownIOCs > 0:
		breakdown.Confidence = schema.ConfidenceMedium
	case counts.Heuristic > 0:
		breakdown.Confidence = schema.ConfidenceLow
	default:
		breakdown.Confidence = schema.ConfidenceUnknown
	}

	// The heuristic estimate taints the numbers whenever it contributes
	// and no red-team ground truth anchors them.
	breakdown.Estimated = counts.Heuristic > 0 && counts.RedTeam == 0

	t.logger.Debug("missed breakdown computed",
		"window_hours", int(window.Hours()),
		"total", breakdown.Total,
		"confidence", breakdown.Confidence,
	)

	return breakdown, nil
}
