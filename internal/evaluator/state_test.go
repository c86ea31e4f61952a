package evaluator

import (
	"testing"
	"time"
)

func TestStateCheckpointRoundTrip(t *testing.T) {
	store := NewStateStore()
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	st, release := store.Acquire("cond-a", 2)
	st.LastBool = true
	st.LastTrueAt = now
	st.DebounceUntil = now.Add(30 * time.Second)
	st.LastValue = 27.5
	st.Legs[0] = legState{EverTrue: true, TrueAt: now, TrueBar: 7}
	release()

	st, release = store.Acquire("cond-b", 0)
	st.LastBool = false
	st.LastValue = 101.0
	release()

	entries := store.Checkpoint()
	if len(entries) != 2 {
		t.Fatalf("checkpoint entries = %d, want 2", len(entries))
	}

	fresh := NewStateStore()
	if n := fresh.RestoreCheckpoint(entries); n != 2 {
		t.Fatalf("restored = %d, want 2", n)
	}

	st, release = fresh.Acquire("cond-a", 2)
	defer release()
	if !st.LastBool {
		t.Fatal("LastBool lost in round trip")
	}
	if !st.DebounceUntil.Equal(now.Add(30 * time.Second)) {
		t.Fatalf("DebounceUntil = %v", st.DebounceUntil)
	}
	if st.LastValue != 27.5 {
		t.Fatalf("LastValue = %v", st.LastValue)
	}
	if len(st.Legs) != 2 || !st.Legs[0].EverTrue || st.Legs[0].TrueBar != 7 {
		t.Fatalf("leg state lost: %+v", st.Legs)
	}
}

func TestRestoreCheckpointKeepsExistingState(t *testing.T) {
	store := NewStateStore()

	st, release := store.Acquire("cond-a", 0)
	st.LastValue = 55
	release()

	n := store.RestoreCheckpoint([]StateCheckpoint{{ConditionID: "cond-a", LastValue: 99}})
	if n != 0 {
		t.Fatalf("restored = %d, want 0", n)
	}

	st, release = store.Acquire("cond-a", 0)
	defer release()
	if st.LastValue != 55 {
		t.Fatalf("existing state overwritten: LastValue = %v", st.LastValue)
	}
}

func TestAcquireGrowsRestoredLegs(t *testing.T) {
	store := NewStateStore()
	store.RestoreCheckpoint([]StateCheckpoint{{
		ConditionID: "pb-1",
		Legs:        []LegCheckpoint{{EverTrue: true, TrueBar: 3}},
	}})

	st, release := store.Acquire("pb-1", 3)
	defer release()
	if len(st.Legs) != 3 {
		t.Fatalf("legs = %d, want 3", len(st.Legs))
	}
	if !st.Legs[0].EverTrue || st.Legs[0].TrueBar != 3 {
		t.Fatalf("restored leg lost: %+v", st.Legs[0])
	}
}
