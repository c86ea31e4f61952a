package evaluator

import (
	"hash/fnv"
	"sync"
	"time"
)

// legState tracks one playbook sub-condition's hot window and the previous
// comparison sign for cross operators.
type legState struct {
	EverTrue bool
	TrueAt   time.Time
	TrueBar  int64

	prevDiff float64
	hasPrev  bool
}

// EvaluationState is the per-condition evaluation memory. Mutated only
// under its own lock; updated all-or-nothing per tick.
type EvaluationState struct {
	mu sync.Mutex

	LastBool      bool
	LastTrueAt    time.Time
	DebounceUntil time.Time
	LastValue     float64

	prevDiff float64
	hasPrev  bool

	Legs []legState
}

const stateShards = 64

type stateShard struct {
	mu sync.Mutex
	m  map[string]*EvaluationState
}

// StateStore holds EvaluationState partitioned by condition ID so
// unrelated conditions never contend on one lock.
type StateStore struct {
	shards [stateShards]stateShard
}

func NewStateStore() *StateStore {
	s := &StateStore{}
	for i := range s.shards {
		s.shards[i].m = make(map[string]*EvaluationState)
	}
	return s
}

func (s *StateStore) shard(id string) *stateShard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &s.shards[h.Sum32()%stateShards]
}

// Acquire returns the state for a condition, creating it on first use, with
// its lock held. The caller must invoke the returned release function.
func (s *StateStore) Acquire(conditionID string, legs int) (*EvaluationState, func()) {
	sh := s.shard(conditionID)

	sh.mu.Lock()
	st, ok := sh.m[conditionID]
	if !ok {
		st = &EvaluationState{}
		if legs > 0 {
			st.Legs = make([]legState, legs)
		}
		sh.m[conditionID] = st
	}
	sh.mu.Unlock()

	st.mu.Lock()
	if legs > len(st.Legs) {
		st.Legs = append(st.Legs, make([]legState, legs-len(st.Legs))...)
	}
	return st, st.mu.Unlock
}

// Drop discards the state for a condition that left the active set.
func (s *StateStore) Drop(conditionID string) {
	sh := s.shard(conditionID)
	sh.mu.Lock()
	delete(sh.m, conditionID)
	sh.mu.Unlock()
}

// LegCheckpoint is the serializable form of one leg's state.
type LegCheckpoint struct {
	EverTrue bool      `json:"ever_true"`
	TrueAt   time.Time `json:"true_at"`
	TrueBar  int64     `json:"true_bar"`
	PrevDiff float64   `json:"prev_diff"`
	HasPrev  bool      `json:"has_prev"`
}

// StateCheckpoint is the serializable form of one condition's state,
// persisted across restarts so debounce windows and hot legs survive.
type StateCheckpoint struct {
	ConditionID   string          `json:"condition_id"`
	LastBool      bool            `json:"last_bool"`
	LastTrueAt    time.Time       `json:"last_true_at"`
	DebounceUntil time.Time       `json:"debounce_until"`
	LastValue     float64         `json:"last_value"`
	PrevDiff      float64         `json:"prev_diff"`
	HasPrev       bool            `json:"has_prev"`
	Legs          []LegCheckpoint `json:"legs,omitempty"`
}

// Checkpoint snapshots every tracked condition state.
func (s *StateStore) Checkpoint() []StateCheckpoint {
	var out []StateCheckpoint
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for id, st := range sh.m {
			st.mu.Lock()
			cp := StateCheckpoint{
				ConditionID:   id,
				LastBool:      st.LastBool,
				LastTrueAt:    st.LastTrueAt,
				DebounceUntil: st.DebounceUntil,
				LastValue:     st.LastValue,
				PrevDiff:      st.prevDiff,
				HasPrev:       st.hasPrev,
			}
			for _, leg := range st.Legs {
				cp.Legs = append(cp.Legs, LegCheckpoint{
					EverTrue: leg.EverTrue,
					TrueAt:   leg.TrueAt,
					TrueBar:  leg.TrueBar,
					PrevDiff: leg.prevDiff,
					HasPrev:  leg.hasPrev,
				})
			}
			st.mu.Unlock()
			out = append(out, cp)
		}
		sh.mu.Unlock()
	}
	return out
}

// RestoreCheckpoint seeds states from a prior checkpoint. Existing entries
// are left untouched; returns the number restored.
func (s *StateStore) RestoreCheckpoint(entries []StateCheckpoint) int {
	restored := 0
	for _, cp := range entries {
		if cp.ConditionID == "" {
			continue
		}
		sh := s.shard(cp.ConditionID)
		sh.mu.Lock()
		if _, ok := sh.m[cp.ConditionID]; ok {
			sh.mu.Unlock()
			continue
		}
		st := &EvaluationState{
			LastBool:      cp.LastBool,
			LastTrueAt:    cp.LastTrueAt,
			DebounceUntil: cp.DebounceUntil,
			LastValue:     cp.LastValue,
			prevDiff:      cp.PrevDiff,
			hasPrev:       cp.HasPrev,
		}
		for _, leg := range cp.Legs {
			st.Legs = append(st.Legs, legState{
				EverTrue: leg.EverTrue,
				TrueAt:   leg.TrueAt,
				TrueBar:  leg.TrueBar,
				prevDiff: leg.PrevDiff,
				hasPrev:  leg.HasPrev,
			})
		}
		sh.m[cp.ConditionID] = st
		sh.mu.Unlock()
		restored++
	}
	return restored
}
