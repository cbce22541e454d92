// Package mysql implements flow.Persister against MySQL/MariaDB, grounded
// on the reference architecture's store.MySQLStore: pooled connections,
// conservative lifetimes, auto-migration on first use. Intended for
// deployments that already run a MySQL fleet and need an Application's
// state to survive a process restart shared across workers.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flowcraft/stategraph/flow"
	_ "github.com/go-sql-driver/mysql"
)

// Store is a MySQL-backed flow.Persister.
type Store struct {
	db *sql.DB
}

// Open connects to dsn (the go-sql-driver/mysql DSN format,
// "user:pass@tcp(host:3306)/dbname?parseTime=true") and ensures the schema
// exists. Credentials belong in the DSN the caller supplies, never hardcoded
// here.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("flow/persist/mysql: open: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("flow/persist/mysql: ping: %w", err)
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
			partition_key VARCHAR(255) NOT NULL,
			app_id VARCHAR(255) NOT NULL,
			state LONGTEXT NOT NULL,
			last_action VARCHAR(255) NOT NULL DEFAULT '',
			last_input_hash VARCHAR(64) NOT NULL DEFAULT '',
			seq_counter INT NOT NULL DEFAULT 0,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			PRIMARY KEY (partition_key, app_id),
			INDEX idx_application_state_partition (partition_key)
		) ENGINE=InnoDB
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("flow/persist/mysql: create application_state: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
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
		return nil, fmt.Errorf("flow/persist/mysql: load: %w", err)
	}

	var state map[string]any
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("flow/persist/mysql: decode state: %w", err)
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
		return fmt.Errorf("flow/persist/mysql: encode state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO application_state (partition_key, app_id, state, last_action, last_input_hash, seq_counter)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE state = VALUES(state), last_action = VALUES(last_action),
			last_input_hash = VALUES(last_input_hash), seq_counter = VALUES(seq_counter)
	`, rec.PartitionKey, rec.AppID, string(raw), rec.LastAction, rec.LastInputHash, rec.SeqCounter)
	if err != nil {
		return fmt.Errorf("flow/persist/mysql: save: %w", err)
	}
	return nil
}

// List implements flow.Persister.
func (s *Store) List(ctx context.Context, partitionKey string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT app_id FROM application_state WHERE partition_key = ? ORDER BY updated_at DESC`,
		partitionKey)
	if err != nil {
		return nil, fmt.Errorf("flow/persist/mysql: list: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("flow/persist/mysql: list scan: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
