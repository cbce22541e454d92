// Package sqlite implements flow.Persister against a single-file SQLite
// database, grounded on the reference architecture's store.SQLiteStore:
// zero-cgo driver, WAL mode, busy-timeout tuning, auto-migration on first
// use.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/flowcraft/stategraph/flow"
	_ "modernc.org/sqlite"
)

// Store is a SQLite-backed flow.Persister. Designed for development,
// single-process deployments, and local workflows that need state to
// survive a process restart without standing up a server.
type Store struct {
	db *sql.DB
}

// Open creates (or reuses) a SQLite database at path and ensures its
// schema exists. path may be ":memory:" for an ephemeral database, useful
// in tests that want to exercise the real driver instead of persist/memory.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("flow/persist/sqlite: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("flow/persist/sqlite: %s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createTables(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS application_state (
			partition_key TEXT NOT NULL,
			app_id TEXT NOT NULL,
			state TEXT NOT NULL,
			last_action TEXT NOT NULL DEFAULT '',
			last_input_hash TEXT NOT NULL DEFAULT '',
			seq_counter INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (partition_key, app_id)
		)
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("flow/persist/sqlite: create application_state: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_application_state_partition ON application_state(partition_key)"); err != nil {
		return fmt.Errorf("flow/persist/sqlite: create index: %w", err)
	}

	const checkpointSchema = `
		CREATE TABLE IF NOT EXISTS checkpoints (
			partition_key TEXT NOT NULL,
			app_id TEXT NOT NULL,
			name TEXT NOT NULL,
			state TEXT NOT NULL,
			idempotency_key TEXT NOT NULL DEFAULT '',
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (partition_key, app_id, name)
		)
	`
	if _, err := s.db.ExecContext(ctx, checkpointSchema); err != nil {
		return fmt.Errorf("flow/persist/sqlite: create checkpoints: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Load implements flow.Persister.
func (s *Store) Load(ctx context.Context, partitionKey, appID string) (*flow.PersistedState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT state, last_action, last_input_hash, seq_counter FROM application_state WHERE partition_key = ? AND app_id = ?`,
		partitionKey, appID)

	var raw, lastAction, lastInputHash string
	var seqCounter int
	if err := row.Scan(&raw, &lastAction, &lastInputHash, &seqCounter); err != nil {
		if err == sql.ErrNoRows {
			return nil, flow.ErrNotFound
		}
		return nil, fmt.Errorf("flow/persist/sqlite: load: %w", err)
	}

	var state map[string]any
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("flow/persist/sqlite: decode state: %w", err)
	}
	return &flow.PersistedState{
		PartitionKey:  partitionKey,
		AppID:         appID,
		State:         state,
		SeqCounter:    seqCounter,
		LastAction:    lastAction,
		LastInputHash: lastInputHash,
	}, nil
}

// Save implements flow.Persister.
func (s *Store) Save(ctx context.Context, rec *flow.PersistedState) error {
	raw, err := json.Marshal(rec.State)
	if err != nil {
		return fmt.Errorf("flow/persist/sqlite: encode state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO application_state (partition_key, app_id, state, last_action, last_input_hash, seq_counter, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(partition_key, app_id) DO UPDATE SET
			state = excluded.state,
			last_action = excluded.last_action,
			last_input_hash = excluded.last_input_hash,
			seq_counter = excluded.seq_counter,
			updated_at = CURRENT_TIMESTAMP
	`, rec.PartitionKey, rec.AppID, string(raw), rec.LastAction, rec.LastInputHash, rec.SeqCounter)
	if err != nil {
		return fmt.Errorf("flow/persist/sqlite: save: %w", err)
	}
	return nil
}

// SaveCheckpoint implements flow.CheckpointPersister. A call whose
// idempotencyKey matches the checkpoint already recorded under name is a
// no-op.
func (s *Store) SaveCheckpoint(ctx context.Context, partitionKey, appID, name, idempotencyKey string, state map[string]any) error {
	if idempotencyKey != "" {
		var existing string
		row := s.db.QueryRowContext(ctx,
			`SELECT idempotency_key FROM checkpoints WHERE partition_key = ? AND app_id = ? AND name = ?`,
			partitionKey, appID, name)
		switch err := row.Scan(&existing); {
		case err == nil && existing == idempotencyKey:
			return nil
		case err != nil && err != sql.ErrNoRows:
			return fmt.Errorf("flow/persist/sqlite: checkpoint lookup: %w", err)
		}
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("flow/persist/sqlite: encode checkpoint: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (partition_key, app_id, name, state, idempotency_key, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(partition_key, app_id, name) DO UPDATE SET
			state = excluded.state,
			idempotency_key = excluded.idempotency_key,
			updated_at = CURRENT_TIMESTAMP
	`, partitionKey, appID, name, string(raw), idempotencyKey)
	if err != nil {
		return fmt.Errorf("flow/persist/sqlite: save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint implements flow.CheckpointPersister.
func (s *Store) LoadCheckpoint(ctx context.Context, partitionKey, appID, name string) (map[string]any, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT state FROM checkpoints WHERE partition_key = ? AND app_id = ? AND name = ?`,
		partitionKey, appID, name)

	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, flow.ErrNotFound
		}
		return nil, fmt.Errorf("flow/persist/sqlite: load checkpoint: %w", err)
	}
	var state map[string]any
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("flow/persist/sqlite: decode checkpoint: %w", err)
	}
	return state, nil
}

// List implements flow.Persister.
func (s *Store) List(ctx context.Context, partitionKey string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT app_id FROM application_state WHERE partition_key = ? ORDER BY updated_at DESC`,
		partitionKey)
	if err != nil {
		return nil, fmt.Errorf("flow/persist/sqlite: list: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("flow/persist/sqlite: list scan: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
