// Package registry owns condition identity and subscription lifecycle.
// Registration is idempotent get-or-create keyed by the canonical hash, so
// equivalent specs from different bots always share one condition.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"TriggerHub/internal/condition"
	"TriggerHub/internal/domain/models"
	domrepo "TriggerHub/internal/domain/repository"
	applogger "TriggerHub/pkg/logger"
)

// Registry coordinates the condition and subscription stores.
type Registry struct {
	conditions domrepo.ConditionStore
	subs       domrepo.SubscriptionStore
	logger     *applogger.Logger
	metrics    domrepo.Metrics

	// Serializes get-or-create for a hash; stores stay free of
	// upsert semantics.
	mu sync.Mutex

	retention time.Duration
}

// Option configures the Registry.
type Option func(*Registry)

// WithRetention sets how long a condition with zero active subscribers is
// kept evaluating before SweepInactive deactivates it.
func WithRetention(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.retention = d
		}
	}
}

func New(conditions domrepo.ConditionStore, subs domrepo.SubscriptionStore, logger *applogger.Logger, metrics domrepo.Metrics, opts ...Option) *Registry {
	r := &Registry{
		conditions: conditions,
		subs:       subs,
		logger:     logger,
		metrics:    metrics,
		retention:  24 * time.Hour,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterResult reports the resolved condition and whether this call
// created it.
type RegisterResult struct {
	Condition *models.Condition
	Created   bool
}

// Register normalizes raw, derives the canonical ID and returns the
// existing condition or creates a new one. A hash collision (same ID,
// different canonical form) flags the stored condition and fails the call;
// flagged conditions are excluded from evaluation until reviewed.
func (r *Registry) Register(ctx context.Context, raw *models.RawConditionSpec) (*RegisterResult, error) {
	spec, err := condition.Normalize(raw)
	if err != nil {
		return nil, err
	}
	id := condition.ID(spec)
	canonical := condition.CanonicalString(spec)

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.conditions.Get(ctx, id)
	if err != nil && !models.IsNotFound(err) {
		return nil, fmt.Errorf("lookup condition %s: %w", id, err)
	}

	if existing != nil {
		if condition.CanonicalString(&existing.Spec) != canonical {
			if ferr := r.conditions.SetFlagged(ctx, id, "canonical mismatch on re-register"); ferr != nil {
				r.logger.Error("flagging collided condition failed", applogger.String("condition_id", id), applogger.Error(ferr))
			}
			r.metrics.RecordError("hash_collision")
			r.logger.Error("canonical hash collision", applogger.String("condition_id", id))
			return nil, fmt.Errorf("condition %s: %w", id, models.ErrHashCollision)
		}
		if existing.Flagged {
			return nil, fmt.Errorf("condition %s is flagged: %w", id, models.ErrHashCollision)
		}
		if !existing.Active {
			if err := r.conditions.SetActive(ctx, id, true, time.Now()); err != nil {
				return nil, fmt.Errorf("reactivate condition %s: %w", id, err)
			}
			existing.Active = true
			existing.DeactivatedAt = nil
			r.logger.Info("condition reactivated", applogger.String("condition_id", id))
		}
		return &RegisterResult{Condition: existing}, nil
	}

	cond := &models.Condition{
		ID:        id,
		Symbol:    spec.Symbol,
		Timeframe: spec.Timeframe,
		Kind:      spec.Kind,
		Spec:      *spec,
		Active:    true,
		CreatedAt: time.Now(),
	}
	if err := r.conditions.Insert(ctx, cond); err != nil {
		return nil, fmt.Errorf("insert condition %s: %w", id, err)
	}

	r.logger.Info("condition registered",
		applogger.String("condition_id", id),
		applogger.String("symbol", cond.Symbol),
		applogger.String("timeframe", cond.Timeframe),
		applogger.String("kind", string(cond.Kind)))
	return &RegisterResult{Condition: cond, Created: true}, nil
}

// Subscribe attaches a bot to an existing condition. One active
// subscription per (bot, condition); duplicates are a conflict.
func (r *Registry) Subscribe(ctx context.Context, botID string, botType models.BotType, conditionID string, config json.RawMessage) (*models.Subscription, error) {
	if botID == "" {
		return nil, fmt.Errorf("bot id required: %w", models.ErrValidation)
	}
	if !botType.Valid() {
		return nil, fmt.Errorf("bot type %q: %w", botType, models.ErrValidation)
	}

	cond, err := r.conditions.Get(ctx, conditionID)
	if err != nil {
		return nil, fmt.Errorf("condition %s: %w", conditionID, err)
	}
	if cond.Flagged {
		return nil, fmt.Errorf("condition %s is flagged: %w", conditionID, models.ErrHashCollision)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	active, err := r.subs.ListActiveByCondition(ctx, conditionID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions for %s: %w", conditionID, err)
	}
	for _, s := range active {
		if s.BotID == botID {
			return nil, fmt.Errorf("bot %s already subscribed to %s: %w", botID, conditionID, models.ErrConflict)
		}
	}

	if !cond.Active {
		if err := r.conditions.SetActive(ctx, conditionID, true, time.Now()); err != nil {
			return nil, fmt.Errorf("reactivate condition %s: %w", conditionID, err)
		}
	}

	sub := &models.Subscription{
		ID:          uuid.NewString(),
		BotID:       botID,
		BotType:     botType,
		ConditionID: conditionID,
		Config:      config,
		Active:      true,
		CreatedAt:   time.Now(),
	}
	if err := r.subs.Insert(ctx, sub); err != nil {
		return nil, fmt.Errorf("insert subscription: %w", err)
	}

	r.logger.Info("subscription created",
		applogger.String("subscription_id", sub.ID),
		applogger.String("bot_id", botID),
		applogger.String("condition_id", conditionID))
	return sub, nil
}

// Unsubscribe soft-deactivates a subscription. Only the owning bot may do
// it. The condition itself stays active even at zero subscribers; the
// sweep reclaims it later.
func (r *Registry) Unsubscribe(ctx context.Context, botID, subscriptionID string) error {
	sub, err := r.subs.Get(ctx, subscriptionID)
	if err != nil {
		return fmt.Errorf("subscription %s: %w", subscriptionID, err)
	}
	if sub.BotID != botID {
		return fmt.Errorf("subscription %s is not owned by bot %s: %w", subscriptionID, botID, models.ErrForbidden)
	}
	if !sub.Active {
		return nil
	}

	if err := r.subs.Deactivate(ctx, subscriptionID, time.Now()); err != nil {
		return fmt.Errorf("deactivate subscription %s: %w", subscriptionID, err)
	}
	r.logger.Info("subscription deactivated",
		applogger.String("subscription_id", subscriptionID),
		applogger.String("bot_id", botID))
	return nil
}

// Status returns the public status view for a condition.
func (r *Registry) Status(ctx context.Context, conditionID string) (*models.ConditionStatus, error) {
	cond, err := r.conditions.Get(ctx, conditionID)
	if err != nil {
		return nil, fmt.Errorf("condition %s: %w", conditionID, err)
	}
	n, err := r.subs.CountActiveByCondition(ctx, conditionID)
	if err != nil {
		return nil, fmt.Errorf("count subscribers for %s: %w", conditionID, err)
	}
	return &models.ConditionStatus{
		ConditionID:     cond.ID,
		Active:          cond.Active,
		SubscriberCount: n,
	}, nil
}

// Stats aggregates registry-wide counters.
func (r *Registry) Stats(ctx context.Context) (*models.RegistryStats, error) {
	conds, err := r.conditions.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count conditions: %w", err)
	}
	subs, err := r.subs.CountActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("count subscriptions: %w", err)
	}
	stats := &models.RegistryStats{TotalConditions: conds, TotalSubscriptions: subs}
	if conds > 0 {
		stats.AvgSubscribersPerCondRaw = float64(subs) / float64(conds)
	}
	return stats, nil
}

// SubscriptionsFor lists a bot's subscriptions, active and inactive.
func (r *Registry) SubscriptionsFor(ctx context.Context, botID string) ([]*models.Subscription, error) {
	if botID == "" {
		return nil, fmt.Errorf("bot id required: %w", models.ErrValidation)
	}
	return r.subs.ListByBot(ctx, botID)
}

// ActiveConditions returns the evaluation set: active, unflagged.
func (r *Registry) ActiveConditions(ctx context.Context) ([]*models.Condition, error) {
	conds, err := r.conditions.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	out := conds[:0]
	for _, c := range conds {
		if !c.Flagged {
			out = append(out, c)
		}
	}
	return out, nil
}

// SubscribersFor returns the active subscriptions a trigger must fan out to.
func (r *Registry) SubscribersFor(ctx context.Context, conditionID string) ([]*models.Subscription, error) {
	return r.subs.ListActiveByCondition(ctx, conditionID)
}

// SweepInactive deactivates conditions that have had zero active
// subscribers for longer than the retention window. Returns how many were
// deactivated.
func (r *Registry) SweepInactive(ctx context.Context, now time.Time) (int, error) {
	conds, err := r.conditions.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active conditions: %w", err)
	}

	swept := 0
	for _, c := range conds {
		n, err := r.subs.CountActiveByCondition(ctx, c.ID)
		if err != nil {
			return swept, fmt.Errorf("count subscribers for %s: %w", c.ID, err)
		}
		if n > 0 {
			continue
		}

		idleSince, err := r.subs.LastDeactivationFor(ctx, c.ID)
		if err != nil {
			return swept, fmt.Errorf("last deactivation for %s: %w", c.ID, err)
		}
		if idleSince.IsZero() {
			idleSince = c.CreatedAt
		}
		if now.Sub(idleSince) < r.retention {
			continue
		}

		if err := r.conditions.SetActive(ctx, c.ID, false, now); err != nil {
			return swept, fmt.Errorf("deactivate condition %s: %w", c.ID, err)
		}
		swept++
		r.logger.Info("idle condition deactivated", applogger.String("condition_id", c.ID))
	}
	return swept, nil
}
