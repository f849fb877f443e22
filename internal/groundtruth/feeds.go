package groundtruth

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"veracity-soc/internal/schema"
)

// NATS subjects the ground-truth feeds listen on.
const (
	SubjectAttackDispatched = "veracity.attacks.dispatched"
	SubjectReviewSubmitted  = "veracity.reviews.submitted"
	SubjectIndicatorUpdated = "veracity.indicators.updated"
)

// feedStore is the slice of the ground-truth store the feeds write to.
type feedStore interface {
	RecordAttack(ctx context.Context, attack *schema.RedTeamAttack) error
	RecordReview(ctx context.Context, review *schema.AnalystReview) error
	UpsertIndicator(ctx context.Context, ind *schema.AttackIndicator) error
}

// FeedsConfig holds the NATS feed settings.
type FeedsConfig struct {
	Queue          string        `yaml:"queue"`
	HandlerTimeout time.Duration `yaml:"handler_timeout"`
}

// DefaultFeedsConfig returns the default feed settings.
func DefaultFeedsConfig() FeedsConfig {
	return FeedsConfig{
		Queue:          "veracity-groundtruth",
		HandlerTimeout: 10 * time.Second,
	}
}

// Feeds subscribes to the ground-truth subjects and persists incoming
// records. Malformed messages are logged and dropped; they are operator
// input, not pipeline traffic, so there is no redelivery contract.
type Feeds struct {
	config    FeedsConfig
	nc        *nats.Conn
	store     feedStore
	validator *schema.Validator
	logger    *slog.Logger

	subs []*nats.Subscription
}

// NewFeeds creates the ground-truth feeds over an existing NATS connection.
func NewFeeds(config FeedsConfig, nc *nats.Conn, store feedStore, validator *schema.Validator, logger *slog.Logger) *Feeds {
	return &Feeds{
		config:    config,
		nc:        nc,
		store:     store,
		validator: validator,
		logger:    logger.With("component", "groundtruth_feeds"),
	}
}

// Subscribe starts the queue subscriptions.
func (f *Feeds) Subscribe() error {
	subjects := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{SubjectAttackDispatched, f.handleAttack},
		{SubjectReviewSubmitted, f.handleReview},
		{SubjectIndicatorUpdated, f.handleIndicator},
	}

	for _, s := range subjects {
		sub, err := f.nc.QueueSubscribe(s.subject, f.config.Queue, s.handler)
		if err != nil {
			f.drain()
			return err
		}
		f.subs = append(f.subs, sub)
		f.logger.Info("subscribed", "subject", s.subject, "queue", f.config.Queue)
	}
	return nil
}

// Close drains all subscriptions.
func (f *Feeds) Close() {
	f.drain()
	f.logger.Info("groundtruth feeds closed")
}

func (f *Feeds) drain() {
	for _, sub := range f.subs {
		if err := sub.Drain(); err != nil {
			f.logger.Warn("failed to drain subscription", "error", err)
		}
	}
	f.subs = nil
}

func (f *Feeds) handlerContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), f.config.HandlerTimeout)
}

func (f *Feeds) handleAttack(msg *nats.Msg) {
	var attack schema.RedTeamAttack
	if err := json.Unmarshal(msg.Data, &attack); err != nil {
		f.logger.Error("malformed attack dispatch", "subject", msg.Subject, "error", err)
		return
	}

	if attack.ID == uuid.Nil {
		attack.ID = uuid.New()
	}
	if attack.AttackTimestamp.IsZero() {
		attack.AttackTimestamp = time.Now().UTC()
	}
	if attack.CreatedAt.IsZero() {
		attack.CreatedAt = time.Now().UTC()
	}
	// Dispatches always arrive undetected; the reconciler links them.
	attack.WasDetected = false
	attack.DetectionID = nil

	ctx, cancel := f.handlerContext()
	defer cancel()

	if err := f.store.RecordAttack(ctx, &attack); err != nil {
		f.logger.Error("failed to record attack", "attack_id", attack.ID, "error", err)
		return
	}

	f.logger.Info("red-team attack recorded",
		"attack_id", attack.ID,
		"attack_type", attack.AttackType,
		"target_agent", attack.TargetAgentID,
	)
}

func (f *Feeds) handleReview(msg *nats.Msg) {
	var review schema.AnalystReview
	if err := json.Unmarshal(msg.Data, &review); err != nil {
		f.logger.Error("malformed analyst review", "subject", msg.Subject, "error", err)
		return
	}

	if review.ID == uuid.Nil {
		review.ID = uuid.New()
	}
	if review.ReviewedAt.IsZero() {
		review.ReviewedAt = time.Now().UTC()
	}

	if err := f.validator.ValidateReview(&review); err != nil {
		f.logger.Error("invalid analyst review", "review_id", review.ID, "error", err)
		return
	}

	ctx, cancel := f.handlerContext()
	defer cancel()

	if err := f.store.RecordReview(ctx, &review); err != nil {
		f.logger.Error("failed to record review", "review_id", review.ID, "error", err)
		return
	}

	f.logger.Info("analyst review recorded",
		"review_id", review.ID,
		"verdict", review.Verdict,
		"log_entry_id", review.LogEntryID,
	)
}

func (f *Feeds) handleIndicator(msg *nats.Msg) {
	var ind schema.AttackIndicator
	if err := json.Unmarshal(msg.Data, &ind); err != nil {
		f.logger.Error("malformed indicator", "subject", msg.Subject, "error", err)
		return
	}

	if ind.ID == uuid.Nil {
		ind.ID = uuid.New()
	}
	now := time.Now().UTC()
	if ind.FirstSeen.IsZero() {
		ind.FirstSeen = now
	}
	if ind.LastSeen.IsZero() {
		ind.LastSeen = now
	}

	if err := f.validator.ValidateIndicator(&ind); err != nil {
		f.logger.Error("invalid indicator", "indicator_id", ind.ID, "error", err)
		return
	}

	ctx, cancel := f.handlerContext()
	defer cancel()

	if err := f.store.UpsertIndicator(ctx, &ind); err != nil {
		f.logger.Error("failed to upsert indicator", "indicator_id", ind.ID, "error", err)
		return
	}

	f.logger.Info("attack indicator upserted",
		"indicator_id", ind.ID,
		"type", ind.IndicatorType,
		"active", ind.Active,
	)
}
