package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/flowcraft/stategraph/flow"
)

func TestStoreLoadMissingReturnsErrNotFound(t *testing.T) {
	s := New()
	_, err := s.Load(context.Background(), "tenant", "app-1")
	if !errors.Is(err, flow.ErrNotFound) {
		t.Fatalf("expected flow.ErrNotFound, got %v", err)
	}
}

func TestStoreSaveThenLoadRoundTrips(t *testing.T) {
	s := New()
	rec := &flow.PersistedState{
		PartitionKey: "tenant",
		AppID:        "app-1",
		State:        map[string]any{"count": 3},
		SeqCounter:   2,
	}
	if err := s.Save(context.Background(), rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Load(context.Background(), "tenant", "app-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.SeqCounter != 2 {
		t.Errorf("seqCounter = %d, want 2", got.SeqCounter)
	}
	if got.State["count"] != 3 {
		t.Errorf("state[count] = %v, want 3", got.State["count"])
	}
}

func TestStoreSaveMutationDoesNotLeakIntoStoredRecord(t *testing.T) {
	s := New()
	data := map[string]any{"count": 1}
	rec := &flow.PersistedState{PartitionKey: "t", AppID: "a", State: data}
	if err := s.Save(context.Background(), rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	data["count"] = 999

	got, err := s.Load(context.Background(), "t", "a")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.State["count"] != 1 {
		t.Errorf("stored state mutated via caller's map: got %v", got.State["count"])
	}
}

func TestStoreCheckpointRoundTrips(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.SaveCheckpoint(ctx, "t", "a", "before_summary", "key-1", map[string]any{"step": 1}); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}

	got, err := s.LoadCheckpoint(ctx, "t", "a", "before_summary")
	if err != nil {
		t.Fatalf("load checkpoint: %v", err)
	}
	if got["step"] != 1 {
		t.Errorf("checkpoint state[step] = %v, want 1", got["step"])
	}
}

func TestStoreLoadCheckpointMissingReturnsErrNotFound(t *testing.T) {
	s := New()
	_, err := s.LoadCheckpoint(context.Background(), "t", "a", "missing")
	if !errors.Is(err, flow.ErrNotFound) {
		t.Fatalf("expected flow.ErrNotFound, got %v", err)
	}
}

func TestStoreSaveCheckpointDuplicateIdempotencyKeyIsNoop(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.SaveCheckpoint(ctx, "t", "a", "cp", "key-1", map[string]any{"n": 1}); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}
	if err := s.SaveCheckpoint(ctx, "t", "a", "cp", "key-1", map[string]any{"n": 2}); err != nil {
		t.Fatalf("save checkpoint (dup key): %v", err)
	}

	got, err := s.LoadCheckpoint(ctx, "t", "a", "cp")
	if err != nil {
		t.Fatalf("load checkpoint: %v", err)
	}
	if got["n"] != 1 {
		t.Errorf("checkpoint state[n] = %v, want 1 (duplicate idempotency key should be a no-op)", got["n"])
	}
}

func TestStoreList(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.Save(ctx, &flow.PersistedState{PartitionKey: "t", AppID: "a1", State: map[string]any{}})
	_ = s.Save(ctx, &flow.PersistedState{PartitionKey: "t", AppID: "a2", State: map[string]any{}})
	_ = s.Save(ctx, &flow.PersistedState{PartitionKey: "other", AppID: "a3", State: map[string]any{}})

	ids, err := s.List(ctx, "t")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("list returned %d ids, want 2: %v", len(ids), ids)
	}
}
