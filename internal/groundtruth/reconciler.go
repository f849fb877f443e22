package groundtruth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"veracity-soc/internal/schema"
	"veracity-soc/internal/storage"
)

// attackStore is the slice of the ground-truth store the reconciler needs.
type attackStore interface {
	UndetectedAttacks(ctx context.Context, since time.Time) ([]*schema.RedTeamAttack, error)
	MarkAttackDetected(ctx context.Context, attackID, detectionID uuid.UUID) error
}

// detectionLister is the slice of the detection store the reconciler needs.
type detectionLister interface {
	List(ctx context.Context, filter storage.DetectionFilter) ([]*schema.DetectionResult, error)
}

// ReconcilerConfig holds the correlation worker settings.
type ReconcilerConfig struct {
	// Interval between correlation sweeps.
	Interval time.Duration `yaml:"interval"`

	// Lookback bounds how far back undetected attacks are considered.
	Lookback time.Duration `yaml:"lookback"`

	// MatchWindow is how long after the attack timestamp a positive
	// detection on the target agent still counts as catching it.
	MatchWindow time.Duration `yaml:"match_window"`
}

// DefaultReconcilerConfig returns the default reconciler settings.
func DefaultReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Interval:    time.Minute,
		Lookback:    24 * time.Hour,
		MatchWindow: 10 * time.Minute,
	}
}

// Reconciler periodically correlates undetected red-team attacks with
// positive detections on the target agent inside the match window. The
// attack link flips at most once; sweeps are idempotent.
type Reconciler struct {
	config     ReconcilerConfig
	attacks    attackStore
	detections detectionLister
	logger     *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewReconciler creates a new Reconciler.
func NewReconciler(config ReconcilerConfig, attacks attackStore, detections detectionLister, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		config:     config,
		attacks:    attacks,
		detections: detections,
		logger:     logger.With("component", "reconciler"),
		stopCh:     make(chan struct{}),
	}
}

// Start launches the correlation loop.
func (r *Reconciler) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.run(ctx)
	r.logger.Info("reconciler started",
		"interval", r.config.Interval,
		"match_window", r.config.MatchWindow,
	)
}

// Stop signals the loop to exit and waits for it.
func (r *Reconciler) Stop() {
	close(r.stopCh)
	r.wg.Wait()
	r.logger.Info("reconciler stopped")
}

func (r *Reconciler) run(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Sweep(ctx); err != nil {
				r.logger.Error("correlation sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one correlation pass. Exported so dispatched attacks can be
// reconciled on demand as well as on the timer.
func (r *Reconciler) Sweep(ctx context.Context) error {
	since := time.Now().UTC().Add(-r.config.Lookback)

	attacks, err := r.attacks.UndetectedAttacks(ctx, since)
	if err != nil {
		return err
	}

	matched := 0
	for _, attack := range attacks {
		detection, err := r.findDetection(ctx, attack)
		if err != nil {
			r.logger.Warn("detection lookup failed",
				"attack_id", attack.ID,
				"error", err,
			)
			continue
		}
		if detection == nil {
			continue
		}

		if err := r.attacks.MarkAttackDetected(ctx, attack.ID, detection.ID); err != nil {
			r.logger.Warn("failed to link attack to detection",
				"attack_id", attack.ID,
				"detection_id", detection.ID,
				"error", err,
			)
			continue
		}
		matched++
	}

	if matched > 0 {
		r.logger.Info("correlation sweep linked attacks",
			"checked", len(attacks),
			"matched", matched,
		)
	}
	return nil
}

// findDetection returns the earliest positive detection on the attack's
// target agent within the match window, or nil if none exists yet.
func (r *Reconciler) findDetection(ctx context.Context, attack *schema.RedTeamAttack) (*schema.DetectionResult, error) {
	results, err := r.detections.List(ctx, storage.DetectionFilter{
		Start:        attack.AttackTimestamp,
		End:          attack.AttackTimestamp.Add(r.config.MatchWindow),
		AgentID:      attack.TargetAgentID,
		DetectedOnly: true,
	})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}

	earliest := results[0]
	for _, result := range results[1:] {
		if result.DetectedAt.Before(earliest.DetectedAt) {
			earliest = result
		}
	}
	return earliest, nil
}
