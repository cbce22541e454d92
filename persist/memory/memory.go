// Package memory provides an in-process flow.Persister for tests and small
// single-process deployments, grounded on the reference architecture's
// store.MemoryStore (an RWMutex-guarded map keyed by run id).
package memory

import (
	"context"
	"sync"

	"github.com/flowcraft/stategraph/flow"
)

type record struct {
	state         map[string]any
	lastAction    string
	lastInputHash string
	seqCounter    int
}

type checkpoint struct {
	state          map[string]any
	idempotencyKey string
}

// Store is a flow.Persister backed by an in-process map. Zero value is
// ready to use; safe for concurrent use by multiple goroutines. Store also
// implements flow.CheckpointPersister, keeping named checkpoints in a
// second map alongside the per-step latest-state record.
type Store struct {
	mu          sync.RWMutex
	recs        map[string]map[string]record               // partitionKey -> appID -> record
	checkpoints map[string]map[string]map[string]checkpoint // partitionKey -> appID -> name -> checkpoint
}

// New returns an empty Store.
func New() *Store {
	return &Store{recs: make(map[string]map[string]record)}
}

// Load implements flow.Persister.
func (s *Store) Load(_ context.Context, partitionKey, appID string) (*flow.PersistedState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byApp, ok := s.recs[partitionKey]
	if !ok {
		return nil, flow.ErrNotFound
	}
	rec, ok := byApp[appID]
	if !ok {
		return nil, flow.ErrNotFound
	}
	return &flow.PersistedState{
		PartitionKey:  partitionKey,
		AppID:         appID,
		State:         cloneData(rec.state),
		SeqCounter:    rec.seqCounter,
		LastAction:    rec.lastAction,
		LastInputHash: rec.lastInputHash,
	}, nil
}

// Save implements flow.Persister.
func (s *Store) Save(_ context.Context, rec *flow.PersistedState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recs == nil {
		s.recs = make(map[string]map[string]record)
	}
	byApp, ok := s.recs[rec.PartitionKey]
	if !ok {
		byApp = make(map[string]record)
		s.recs[rec.PartitionKey] = byApp
	}
	byApp[rec.AppID] = record{
		state:         cloneData(rec.State),
		lastAction:    rec.LastAction,
		lastInputHash: rec.LastInputHash,
		seqCounter:    rec.SeqCounter,
	}
	return nil
}

// List implements flow.Persister. Store keeps no save times, so the order
// of the returned IDs is not defined.
func (s *Store) List(_ context.Context, partitionKey string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byApp, ok := s.recs[partitionKey]
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(byApp))
	for id := range byApp {
		out = append(out, id)
	}
	return out, nil
}

// SaveCheckpoint implements flow.CheckpointPersister. A call whose
// idempotencyKey matches the checkpoint already recorded under name is a
// no-op.
func (s *Store) SaveCheckpoint(_ context.Context, partitionKey, appID, name, idempotencyKey string, state map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkpoints == nil {
		s.checkpoints = make(map[string]map[string]map[string]checkpoint)
	}
	byApp, ok := s.checkpoints[partitionKey]
	if !ok {
		byApp = make(map[string]map[string]checkpoint)
		s.checkpoints[partitionKey] = byApp
	}
	byName, ok := byApp[appID]
	if !ok {
		byName = make(map[string]checkpoint)
		byApp[appID] = byName
	}
	if existing, ok := byName[name]; ok && idempotencyKey != "" && existing.idempotencyKey == idempotencyKey {
		return nil
	}
	byName[name] = checkpoint{state: cloneData(state), idempotencyKey: idempotencyKey}
	return nil
}

// LoadCheckpoint implements flow.CheckpointPersister.
func (s *Store) LoadCheckpoint(_ context.Context, partitionKey, appID, name string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byApp, ok := s.checkpoints[partitionKey]
	if !ok {
		return nil, flow.ErrNotFound
	}
	byName, ok := byApp[appID]
	if !ok {
		return nil, flow.ErrNotFound
	}
	cp, ok := byName[name]
	if !ok {
		return nil, flow.ErrNotFound
	}
	return cloneData(cp.state), nil
}

func cloneData(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
