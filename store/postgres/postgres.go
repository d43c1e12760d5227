// Package postgres implements agentcore.Checkpointer and agentcore.TaskStore
// using PostgreSQL.
//
// Store and TaskStore each accept an externally-owned *pgxpool.Pool via
// constructor injection. The caller creates and closes the pool; share one
// pool between Store and TaskStore to keep checkpoints and tasks in the
// same database.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	agentcore "github.com/agentcore/runtime"
)

// Store implements agentcore.Checkpointer backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ agentcore.Checkpointer = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool returns the underlying pgxpool.Pool for sharing with a TaskStore.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Init creates the checkpoints table and its index.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS checkpoints (
			namespace TEXT NOT NULL,
			thread_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			messages JSONB NOT NULL,
			state JSONB NOT NULL,
			interrupts JSONB NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			PRIMARY KEY (namespace, thread_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_namespace_updated
			ON checkpoints (namespace, updated_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// --- Checkpointer ---

// Save inserts or replaces the checkpoint for a thread within namespace.
func (s *Store) Save(ctx context.Context, namespace string, cp agentcore.Checkpoint) error {
	messages, err := json.Marshal(cp.Messages)
	if err != nil {
		return fmt.Errorf("postgres: marshal messages: %w", err)
	}
	state, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("postgres: marshal state: %w", err)
	}
	interrupts, err := json.Marshal(cp.Interrupts)
	if err != nil {
		return fmt.Errorf("postgres: marshal interrupts: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO checkpoints (namespace, thread_id, step, messages, state, interrupts, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (namespace, thread_id) DO UPDATE SET
			step = EXCLUDED.step,
			messages = EXCLUDED.messages,
			state = EXCLUDED.state,
			interrupts = EXCLUDED.interrupts,
			updated_at = EXCLUDED.updated_at`,
		namespace, cp.ThreadID, cp.Step, messages, state, interrupts, cp.CreatedAt, cp.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save checkpoint: %w", err)
	}
	return nil
}

// Load returns the checkpoint for threadID within namespace, or ok=false
// if none exists.
func (s *Store) Load(ctx context.Context, namespace, threadID string) (agentcore.Checkpoint, bool, error) {
	var cp agentcore.Checkpoint
	var messages, state, interrupts []byte
	err := s.pool.QueryRow(ctx,
		`SELECT step, messages, state, interrupts, created_at, updated_at
		 FROM checkpoints WHERE namespace = $1 AND thread_id = $2`,
		namespace, threadID,
	).Scan(&cp.Step, &messages, &state, &interrupts, &cp.CreatedAt, &cp.UpdatedAt)
	if err == pgx.ErrNoRows {
		return agentcore.Checkpoint{}, false, nil
	}
	if err != nil {
		return agentcore.Checkpoint{}, false, fmt.Errorf("postgres: load checkpoint: %w", err)
	}
	cp.ThreadID = threadID
	if err := json.Unmarshal(messages, &cp.Messages); err != nil {
		return agentcore.Checkpoint{}, false, fmt.Errorf("postgres: unmarshal messages: %w", err)
	}
	if err := json.Unmarshal(state, &cp.State); err != nil {
		return agentcore.Checkpoint{}, false, fmt.Errorf("postgres: unmarshal state: %w", err)
	}
	if err := json.Unmarshal(interrupts, &cp.Interrupts); err != nil {
		return agentcore.Checkpoint{}, false, fmt.Errorf("postgres: unmarshal interrupts: %w", err)
	}
	return cp, true, nil
}

// List returns the thread IDs with a stored checkpoint within namespace.
func (s *Store) List(ctx context.Context, namespace string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT thread_id FROM checkpoints WHERE namespace = $1 ORDER BY updated_at DESC`, namespace)
	if err != nil {
		return nil, fmt.Errorf("postgres: list checkpoints: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan thread id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes the checkpoint for threadID within namespace.
func (s *Store) Delete(ctx context.Context, namespace, threadID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM checkpoints WHERE namespace = $1 AND thread_id = $2`, namespace, threadID)
	if err != nil {
		return fmt.Errorf("postgres: delete checkpoint: %w", err)
	}
	return nil
}

// Exists reports whether a checkpoint exists for threadID within namespace.
func (s *Store) Exists(ctx context.Context, namespace, threadID string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM checkpoints WHERE namespace = $1 AND thread_id = $2`, namespace, threadID,
	).Scan(&one)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("postgres: exists checkpoint: %w", err)
	}
	return true, nil
}

