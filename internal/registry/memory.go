package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"TriggerHub/internal/domain/models"
	domrepo "TriggerHub/internal/domain/repository"
)

// MemoryConditionStore is an in-memory ConditionStore used in tests and as
// the bootstrap store before persistence is configured.
type MemoryConditionStore struct {
	mu    sync.RWMutex
	conds map[string]*models.Condition
}

func NewMemoryConditionStore() *MemoryConditionStore {
	return &MemoryConditionStore{conds: make(map[string]*models.Condition)}
}

func (s *MemoryConditionStore) Insert(_ context.Context, c *models.Condition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conds[c.ID]; ok {
		return fmt.Errorf("condition %s exists: %w", c.ID, models.ErrConflict)
	}
	cp := *c
	s.conds[c.ID] = &cp
	return nil
}

func (s *MemoryConditionStore) Get(_ context.Context, id string) (*models.Condition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conds[id]
	if !ok {
		return nil, fmt.Errorf("condition %s: %w", id, models.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryConditionStore) ListActive(_ context.Context) ([]*models.Condition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Condition, 0, len(s.conds))
	for _, c := range s.conds {
		if c.Active {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryConditionStore) SetActive(_ context.Context, id string, active bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conds[id]
	if !ok {
		return fmt.Errorf("condition %s: %w", id, models.ErrNotFound)
	}
	c.Active = active
	if active {
		c.DeactivatedAt = nil
	} else {
		c.DeactivatedAt = &at
	}
	return nil
}

func (s *MemoryConditionStore) SetFlagged(_ context.Context, id string, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conds[id]
	if !ok {
		return fmt.Errorf("condition %s: %w", id, models.ErrNotFound)
	}
	c.Flagged = true
	return nil
}

func (s *MemoryConditionStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.conds)), nil
}

// MemorySubscriptionStore is an in-memory SubscriptionStore.
type MemorySubscriptionStore struct {
	mu   sync.RWMutex
	subs map[string]*models.Subscription
}

func NewMemorySubscriptionStore() *MemorySubscriptionStore {
	return &MemorySubscriptionStore{subs: make(map[string]*models.Subscription)}
}

func (s *MemorySubscriptionStore) Insert(_ context.Context, sub *models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub.ID]; ok {
		return fmt.Errorf("subscription %s exists: %w", sub.ID, models.ErrConflict)
	}
	cp := *sub
	s.subs[sub.ID] = &cp
	return nil
}

func (s *MemorySubscriptionStore) Get(_ context.Context, id string) (*models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, fmt.Errorf("subscription %s: %w", id, models.ErrNotFound)
	}
	cp := *sub
	return &cp, nil
}

func (s *MemorySubscriptionStore) ListByBot(_ context.Context, botID string) ([]*models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Subscription
	for _, sub := range s.subs {
		if sub.BotID == botID {
			cp := *sub
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemorySubscriptionStore) ListActiveByCondition(_ context.Context, conditionID string) ([]*models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Subscription
	for _, sub := range s.subs {
		if sub.ConditionID == conditionID && sub.Active {
			cp := *sub
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemorySubscriptionStore) CountActiveByCondition(ctx context.Context, conditionID string) (int, error) {
	subs, err := s.ListActiveByCondition(ctx, conditionID)
	if err != nil {
		return 0, err
	}
	return len(subs), nil
}

func (s *MemorySubscriptionStore) Deactivate(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return fmt.Errorf("subscription %s: %w", id, models.ErrNotFound)
	}
	sub.Active = false
	sub.DeactivatedAt = &at
	return nil
}

func (s *MemorySubscriptionStore) CountActive(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, sub := range s.subs {
		if sub.Active {
			n++
		}
	}
	return n, nil
}

func (s *MemorySubscriptionStore) LastDeactivationFor(_ context.Context, conditionID string) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last time.Time
	for _, sub := range s.subs {
		if sub.ConditionID == conditionID && sub.DeactivatedAt != nil && sub.DeactivatedAt.After(last) {
			last = *sub.DeactivatedAt
		}
	}
	return last, nil
}

var (
	_ domrepo.ConditionStore    = (*MemoryConditionStore)(nil)
	_ domrepo.SubscriptionStore = (*MemorySubscriptionStore)(nil)
)
