package flow

import (
	"context"
	"errors"
	"testing"
)

// checkpointingPersister is a tiny in-test CheckpointPersister, exercising
// Application.Checkpoint/RestoreCheckpoint without pulling in a sibling
// package.
type checkpointingPersister struct {
	memoryPersister
	checkpoints map[string]map[string]any
	lastKey     map[string]string
}

func (p *checkpointingPersister) SaveCheckpoint(_ context.Context, _, _, name, idempotencyKey string, state map[string]any) error {
	if p.checkpoints == nil {
		p.checkpoints = map[string]map[string]any{}
		p.lastKey = map[string]string{}
	}
	if idempotencyKey != "" && p.lastKey[name] == idempotencyKey {
		return nil
	}
	p.checkpoints[name] = state
	p.lastKey[name] = idempotencyKey
	return nil
}

func (p *checkpointingPersister) LoadCheckpoint(_ context.Context, _, _, name string) (map[string]any, error) {
	state, ok := p.checkpoints[name]
	if !ok {
		return nil, ErrNotFound
	}
	return state, nil
}

func TestCheckpointAndRestoreRoundTrip(t *testing.T) {
	persister := &checkpointingPersister{}
	app, err := NewBuilder().
		WithActions(noopTwoPhase("A", nil, nil)).
		WithEntrypoint("A").
		WithInitialState(map[string]any{"count": 1}).
		WithPersister(persister).
		Build(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if err := app.Checkpoint(context.Background(), "before_summary", "key-1"); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}

	// Mutate state past what was checkpointed.
	if _, err := app.Step(context.Background(), nil); err != nil {
		t.Fatalf("step: %v", err)
	}
	app.mu.Lock()
	app.state = app.state.Update(map[string]any{"count": 99})
	app.mu.Unlock()

	if err := app.RestoreCheckpoint(context.Background(), "before_summary"); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if v, _ := app.State().Get("count"); v != 1 {
		t.Errorf("count = %v after restore, want 1", v)
	}
}

func TestCheckpointUnsupportedByPlainPersister(t *testing.T) {
	persister := &memoryPersister{}
	app, err := NewBuilder().
		WithActions(noopTwoPhase("A", nil, nil)).
		WithEntrypoint("A").
		WithInitialState(map[string]any{}).
		WithPersister(persister).
		Build(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if err := app.Checkpoint(context.Background(), "x", ""); !errors.Is(err, ErrCheckpointingUnsupported) {
		t.Fatalf("expected ErrCheckpointingUnsupported, got %v", err)
	}
	if err := app.RestoreCheckpoint(context.Background(), "x"); !errors.Is(err, ErrCheckpointingUnsupported) {
		t.Fatalf("expected ErrCheckpointingUnsupported, got %v", err)
	}
}

func TestRestoreCheckpointMissingReturnsErrNotFound(t *testing.T) {
	persister := &checkpointingPersister{}
	app, err := NewBuilder().
		WithActions(noopTwoPhase("A", nil, nil)).
		WithEntrypoint("A").
		WithInitialState(map[string]any{}).
		WithPersister(persister).
		Build(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := app.RestoreCheckpoint(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCheckpointDuplicateIdempotencyKeyIsNoop(t *testing.T) {
	persister := &checkpointingPersister{}
	app, err := NewBuilder().
		WithActions(noopTwoPhase("A", nil, nil)).
		WithEntrypoint("A").
		WithInitialState(map[string]any{"count": 1}).
		WithPersister(persister).
		Build(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := app.Checkpoint(context.Background(), "cp", "key-1"); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}

	app.mu.Lock()
	app.state = app.state.Update(map[string]any{"count": 2})
	app.mu.Unlock()
	if err := app.Checkpoint(context.Background(), "cp", "key-1"); err != nil {
		t.Fatalf("checkpoint (dup key): %v", err)
	}

	if err := app.RestoreCheckpoint(context.Background(), "cp"); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if v, _ := app.State().Get("count"); v != 1 {
		t.Errorf("count = %v after restore, want 1 (duplicate idempotency key should be a no-op)", v)
	}
}
