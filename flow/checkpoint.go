package flow

import (
	"context"
	"errors"
	"fmt"
)

// ErrCheckpointingUnsupported is returned by Application.Checkpoint and
// Application.RestoreCheckpoint when the attached Persister does not
// implement CheckpointPersister.
var ErrCheckpointingUnsupported = errors.New("flow: persister does not support named checkpoints")

// CheckpointPersister is the optional capability a Persister may add on
// top of its required latest-state Load/Save: named, idempotency-keyed
// snapshots a caller takes deliberately (e.g. "before_summary",
// "after_validation") rather than the automatic per-step save every
// Persister already does. Builder.WithPersister accepts any Persister;
// Application.Checkpoint/RestoreCheckpoint type-assert for this interface
// at call time, following the same optional-capability-via-type-assertion
// idiom flow.Registry.Register uses for hooks.
type CheckpointPersister interface {
	Persister
	// SaveCheckpoint durably records state under name for partitionKey/
	// appID. A call whose idempotencyKey matches the most recent call
	// already recorded for that name is a no-op: this lets a caller retry
	// Checkpoint after an ambiguous failure without risking a duplicate or
	// out-of-order overwrite.
	SaveCheckpoint(ctx context.Context, partitionKey, appID, name, idempotencyKey string, state map[string]any) error
	// LoadCheckpoint returns the state most recently saved under name for
	// partitionKey/appID, or ErrNotFound if none exists.
	LoadCheckpoint(ctx context.Context, partitionKey, appID, name string) (map[string]any, error)
}

// Checkpoint takes a named, idempotency-keyed snapshot of the
// Application's current state, in addition to (not instead of) the
// automatic per-step save every Persister performs. It returns
// ErrCheckpointingUnsupported if the attached Persister does not
// implement CheckpointPersister.
func (app *Application) Checkpoint(ctx context.Context, name, idempotencyKey string) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	cp, ok := app.persister.(CheckpointPersister)
	if !ok {
		return ErrCheckpointingUnsupported
	}
	data, err := app.state.Serialize(app.serde)
	if err != nil {
		return fmt.Errorf("flow: serializing state for checkpoint: %w", err)
	}
	return cp.SaveCheckpoint(ctx, app.partitionKey, app.appID, name, idempotencyKey, data)
}

// RestoreCheckpoint replaces the Application's current state with the
// state saved under name, without touching the sequence counter: spans
// and step sequencing keep counting from wherever they were, so resuming
// from a checkpoint never reuses a UID already emitted in this process.
// It returns ErrCheckpointingUnsupported if the attached Persister does
// not implement CheckpointPersister.
func (app *Application) RestoreCheckpoint(ctx context.Context, name string) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	cp, ok := app.persister.(CheckpointPersister)
	if !ok {
		return ErrCheckpointingUnsupported
	}
	data, err := cp.LoadCheckpoint(ctx, app.partitionKey, app.appID, name)
	if err != nil {
		return err
	}
	state, err := Deserialize(app.serde, data)
	if err != nil {
		return fmt.Errorf("flow: deserializing checkpoint %q: %w", name, err)
	}
	app.state = state
	return nil
}
