// Package repository provides the persistent implementations of the domain
// store interfaces: ClickHouse for conditions, subscriptions and the event
// audit trail, Kafka for the trigger bus, Redis for delivery idempotency.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"TriggerHub/internal/domain/models"
	domrepo "TriggerHub/internal/domain/repository"
	pkgch "TriggerHub/pkg/clickhouse"
	applogger "TriggerHub/pkg/logger"
)

// Schema returns the DDL for all engine tables. Tables are append-only;
// the latest row per key wins via argMax, so soft-deletes are just newer
// rows with different flags.
func Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS trighub_conditions (
			condition_id String,
			symbol       String,
			timeframe    String,
			kind         String,
			spec_json    String,
			active       UInt8,
			flagged      UInt8,
			flag_reason  String,
			created_at   DateTime64(3, 'UTC'),
			updated_at   DateTime64(3, 'UTC')
		) ENGINE = MergeTree()
		ORDER BY (condition_id, updated_at)`,

		`CREATE TABLE IF NOT EXISTS trighub_subscriptions (
			subscription_id String,
			bot_id          String,
			bot_type        String,
			condition_id    String,
			config_json     String,
			active          UInt8,
			created_at      DateTime64(3, 'UTC'),
			deactivated_at  DateTime64(3, 'UTC'),
			updated_at      DateTime64(3, 'UTC')
		) ENGINE = MergeTree()
		ORDER BY (subscription_id, updated_at)`,

		`CREATE TABLE IF NOT EXISTS trighub_trigger_events (
			event_id              String,
			condition_id          String,
			subscription_ids_json String,
			symbol                String,
			timeframe             String,
			snapshot_json         String,
			occurred_at           DateTime64(3, 'UTC')
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(occurred_at)
		ORDER BY (symbol, occurred_at)`,
	}
}

const conditionLatest = `
	SELECT condition_id,
	       argMax(symbol, updated_at),
	       argMax(timeframe, updated_at),
	       argMax(kind, updated_at),
	       argMax(spec_json, updated_at),
	       argMax(active, updated_at),
	       argMax(flagged, updated_at),
	       argMax(created_at, updated_at),
	       argMax(deact, updated_at)
	FROM (
		SELECT *, if(active = 0, updated_at, toDateTime64(0, 3, 'UTC')) AS deact
		FROM trighub_conditions
	)
`

// CHConditionStore implements ConditionStore on ClickHouse.
type CHConditionStore struct {
	db *sql.DB
	l  *applogger.Logger
}

func NewCHConditionStore(ch *pkgch.Client, l *applogger.Logger) *CHConditionStore {
	return &CHConditionStore{db: ch.DB(), l: l}
}

func (s *CHConditionStore) Insert(ctx context.Context, c *models.Condition) error {
	spec, err := json.Marshal(c.Spec)
	if err != nil {
		return fmt.Errorf("marshal spec: %w", err)
	}
	const q = `
		INSERT INTO trighub_conditions
			(condition_id, symbol, timeframe, kind, spec_json, active, flagged, flag_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q,
		c.ID, c.Symbol, c.Timeframe, string(c.Kind), string(spec),
		boolToUInt8(c.Active), boolToUInt8(c.Flagged), "", c.CreatedAt.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert condition: %w", err)
	}
	return nil
}

func (s *CHConditionStore) Get(ctx context.Context, id string) (*models.Condition, error) {
	q := conditionLatest + ` WHERE condition_id = ? GROUP BY condition_id`
	row := s.db.QueryRowContext(ctx, q, id)

	c, err := scanCondition(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("condition %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get condition: %w", err)
	}
	return c, nil
}

func (s *CHConditionStore) ListActive(ctx context.Context) ([]*models.Condition, error) {
	q := conditionLatest + ` GROUP BY condition_id HAVING argMax(active, updated_at) = 1 ORDER BY condition_id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list active conditions: %w", err)
	}
	defer rows.Close()

	var out []*models.Condition
	for rows.Next() {
		c, err := scanCondition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan condition: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *CHConditionStore) SetActive(ctx context.Context, id string, active bool, at time.Time) error {
	return s.rewrite(ctx, id, func(c *models.Condition) {
		c.Active = active
		if active {
			c.DeactivatedAt = nil
		} else {
			c.DeactivatedAt = &at
		}
	}, "")
}

func (s *CHConditionStore) SetFlagged(ctx context.Context, id string, reason string) error {
	return s.rewrite(ctx, id, func(c *models.Condition) {
		c.Flagged = true
	}, reason)
}

// rewrite appends a fresh row carrying the mutated flags; history stays.
func (s *CHConditionStore) rewrite(ctx context.Context, id string, mutate func(*models.Condition), flagReason string) error {
	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	mutate(c)

	spec, err := json.Marshal(c.Spec)
	if err != nil {
		return fmt.Errorf("marshal spec: %w", err)
	}
	const q = `
		INSERT INTO trighub_conditions
			(condition_id, symbol, timeframe, kind, spec_json, active, flagged, flag_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q,
		c.ID, c.Symbol, c.Timeframe, string(c.Kind), string(spec),
		boolToUInt8(c.Active), boolToUInt8(c.Flagged), flagReason, c.CreatedAt.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("rewrite condition: %w", err)
	}
	return nil
}

func (s *CHConditionStore) Count(ctx context.Context) (int64, error) {
	const q = `SELECT uniqExact(condition_id) FROM trighub_conditions`
	var n int64
	if err := s.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("count conditions: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCondition(r rowScanner) (*models.Condition, error) {
	var (
		c               models.Condition
		kind, spec      string
		active, flagged uint8
		deact           time.Time
	)
	if err := r.Scan(&c.ID, &c.Symbol, &c.Timeframe, &kind, &spec, &active, &flagged, &c.CreatedAt, &deact); err != nil {
		return nil, err
	}
	c.Kind = models.Kind(kind)
	c.Active = active == 1
	c.Flagged = flagged == 1
	if err := json.Unmarshal([]byte(spec), &c.Spec); err != nil {
		return nil, fmt.Errorf("unmarshal spec: %w", err)
	}
	if !c.Active && deact.Unix() > 0 {
		d := deact
		c.DeactivatedAt = &d
	}
	return &c, nil
}

const subscriptionLatest = `
	SELECT subscription_id,
	       argMax(bot_id, updated_at),
	       argMax(bot_type, updated_at),
	       argMax(condition_id, updated_at),
	       argMax(config_json, updated_at),
	       argMax(active, updated_at),
	       argMax(created_at, updated_at),
	       argMax(deactivated_at, updated_at)
	FROM trighub_subscriptions
`

// CHSubscriptionStore implements SubscriptionStore on ClickHouse.
type CHSubscriptionStore struct {
	db *sql.DB
	l  *applogger.Logger
}

func NewCHSubscriptionStore(ch *pkgch.Client, l *applogger.Logger) *CHSubscriptionStore {
	return &CHSubscriptionStore{db: ch.DB(), l: l}
}

func (s *CHSubscriptionStore) Insert(ctx context.Context, sub *models.Subscription) error {
	const q = `
		INSERT INTO trighub_subscriptions
			(subscription_id, bot_id, bot_type, condition_id, config_json, active, created_at, deactivated_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		sub.ID, sub.BotID, string(sub.BotType), sub.ConditionID, string(sub.Config),
		boolToUInt8(sub.Active), sub.CreatedAt.UTC(), time.Unix(0, 0).UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	return nil
}

func (s *CHSubscriptionStore) Get(ctx context.Context, id string) (*models.Subscription, error) {
	q := subscriptionLatest + ` WHERE subscription_id = ? GROUP BY subscription_id`
	sub, err := scanSubscription(s.db.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("subscription %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

func (s *CHSubscriptionStore) ListByBot(ctx context.Context, botID string) ([]*models.Subscription, error) {
	q := subscriptionLatest + ` GROUP BY subscription_id HAVING argMax(bot_id, updated_at) = ? ORDER BY subscription_id`
	return s.list(ctx, q, botID)
}

func (s *CHSubscriptionStore) ListActiveByCondition(ctx context.Context, conditionID string) ([]*models.Subscription, error) {
	q := subscriptionLatest + `
		GROUP BY subscription_id
		HAVING argMax(condition_id, updated_at) = ? AND argMax(active, updated_at) = 1
		ORDER BY subscription_id`
	return s.list(ctx, q, conditionID)
}

func (s *CHSubscriptionStore) list(ctx context.Context, q string, args ...interface{}) ([]*models.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *CHSubscriptionStore) CountActiveByCondition(ctx context.Context, conditionID string) (int, error) {
	subs, err := s.ListActiveByCondition(ctx, conditionID)
	if err != nil {
		return 0, err
	}
	return len(subs), nil
}

func (s *CHSubscriptionStore) Deactivate(ctx context.Context, id string, at time.Time) error {
	sub, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO trighub_subscriptions
			(subscription_id, bot_id, bot_type, condition_id, config_json, active, created_at, deactivated_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q,
		sub.ID, sub.BotID, string(sub.BotType), sub.ConditionID, string(sub.Config),
		uint8(0), sub.CreatedAt.UTC(), at.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("deactivate subscription: %w", err)
	}
	return nil
}

func (s *CHSubscriptionStore) CountActive(ctx context.Context) (int64, error) {
	const q = `
		SELECT count() FROM (
			SELECT subscription_id FROM trighub_subscriptions
			GROUP BY subscription_id
			HAVING argMax(active, updated_at) = 1
		)`
	var n int64
	if err := s.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("count subscriptions: %w", err)
	}
	return n, nil
}

func (s *CHSubscriptionStore) LastDeactivationFor(ctx context.Context, conditionID string) (time.Time, error) {
	const q = `
		SELECT max(deactivated_at) FROM trighub_subscriptions
		WHERE condition_id = ? AND active = 0`
	var last time.Time
	err := s.db.QueryRowContext(ctx, q, conditionID).Scan(&last)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("last deactivation: %w", err)
	}
	if last.Unix() <= 0 {
		return time.Time{}, nil
	}
	return last, nil
}

func scanSubscription(r rowScanner) (*models.Subscription, error) {
	var (
		sub     models.Subscription
		botType string
		config  string
		active  uint8
		deact   time.Time
	)
	if err := r.Scan(&sub.ID, &sub.BotID, &botType, &sub.ConditionID, &config, &active, &sub.CreatedAt, &deact); err != nil {
		return nil, err
	}
	sub.BotType = models.BotType(botType)
	sub.Active = active == 1
	if config != "" {
		sub.Config = json.RawMessage(config)
	}
	if !sub.Active && deact.Unix() > 0 {
		d := deact
		sub.DeactivatedAt = &d
	}
	return &sub, nil
}

// CHEventStore implements the append-only trigger event audit trail.
type CHEventStore struct {
	db *sql.DB
	l  *applogger.Logger
}

func NewCHEventStore(ch *pkgch.Client, l *applogger.Logger) *CHEventStore {
	return &CHEventStore{db: ch.DB(), l: l}
}

func (s *CHEventStore) Append(ctx context.Context, ev *models.TriggerEvent) error {
	subIDs, err := json.Marshal(ev.SubscriptionIDs)
	if err != nil {
		return fmt.Errorf("marshal subscription ids: %w", err)
	}
	snapshot, err := json.Marshal(ev.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	const q = `
		INSERT INTO trighub_trigger_events
			(event_id, condition_id, subscription_ids_json, symbol, timeframe, snapshot_json, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q,
		ev.EventID, ev.ConditionID, string(subIDs), ev.Symbol, ev.Timeframe,
		string(snapshot), ev.OccurredAt.UTC()); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (s *CHEventStore) Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]models.TriggerEvent, error) {
	if limit <= 0 || limit > 10000 {
		limit = 1000
	}
	const q = `
		SELECT event_id, condition_id, subscription_ids_json, symbol, timeframe, snapshot_json, occurred_at
		FROM trighub_trigger_events
		WHERE symbol = ? AND occurred_at >= ? AND occurred_at <= ?
		ORDER BY occurred_at DESC
		LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, symbol, from.UTC(), to.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []models.TriggerEvent
	for rows.Next() {
		var (
			ev             models.TriggerEvent
			subIDs, snapJS string
		)
		if err := rows.Scan(&ev.EventID, &ev.ConditionID, &subIDs, &ev.Symbol, &ev.Timeframe, &snapJS, &ev.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(subIDs), &ev.SubscriptionIDs); err != nil {
			return nil, fmt.Errorf("unmarshal subscription ids: %w", err)
		}
		if err := json.Unmarshal([]byte(snapJS), &ev.Snapshot); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

var (
	_ domrepo.ConditionStore    = (*CHConditionStore)(nil)
	_ domrepo.SubscriptionStore = (*CHSubscriptionStore)(nil)
	_ domrepo.EventStore        = (*CHEventStore)(nil)
)
