// Package libsql implements agentcore.Checkpointer and agentcore.TaskStore
// on a local SQLite file. Stores created for a remote Turso URL return an
// error from every operation.
package libsql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	agentcore "github.com/agentcore/runtime"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Store implements agentcore.Checkpointer backed by libSQL / Turso.
//
// It uses fresh connections per call to avoid STREAM_EXPIRED errors on
// remote Turso databases.
type Store struct {
	dbPath string
	dbURL  string // for Turso remote
	token  string // for Turso auth
}

var _ agentcore.Checkpointer = (*Store)(nil)

// New creates a Store that uses a local SQLite file at dbPath.
func New(dbPath string) *Store {
	return &Store{dbPath: dbPath}
}

// NewRemote creates a Store for a remote Turso database. No remote driver is
// linked, so every operation on it returns an error.
func NewRemote(url, token string) *Store {
	return &Store{dbURL: url, token: token}
}

// openDB opens a fresh database connection.
// For local mode it uses the pure-Go modernc.org/sqlite driver.
// For a remote URL it returns an error; no remote connection is made.
func (s *Store) openDB() (*sql.DB, error) {
	if s.dbURL != "" {
		return nil, fmt.Errorf("libsql: remote Turso connections require the go-libsql driver; use New() for local databases")
	}
	db, err := sql.Open("sqlite", s.dbPath)
	if err != nil {
		return nil, fmt.Errorf("libsql: open database: %w", err)
	}
	return db, nil
}

// Init creates the checkpoints table.
func (s *Store) Init(ctx context.Context) error {
	db, err := s.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS checkpoints (
		namespace TEXT NOT NULL,
		thread_id TEXT NOT NULL,
		step INTEGER NOT NULL,
		messages TEXT NOT NULL,
		state TEXT NOT NULL,
		interrupts TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (namespace, thread_id)
	)`)
	if err != nil {
		return fmt.Errorf("libsql: create checkpoints table: %w", err)
	}
	return nil
}

// Save inserts or replaces the checkpoint for a thread within namespace.
func (s *Store) Save(ctx context.Context, namespace string, cp agentcore.Checkpoint) error {
	db, err := s.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	messages, err := json.Marshal(cp.Messages)
	if err != nil {
		return fmt.Errorf("libsql: marshal messages: %w", err)
	}
	state, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("libsql: marshal state: %w", err)
	}
	interrupts, err := json.Marshal(cp.Interrupts)
	if err != nil {
		return fmt.Errorf("libsql: marshal interrupts: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`INSERT OR REPLACE INTO checkpoints (namespace, thread_id, step, messages, state, interrupts, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		namespace, cp.ThreadID, cp.Step, string(messages), string(state), string(interrupts), cp.CreatedAt, cp.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("libsql: save checkpoint: %w", err)
	}
	return nil
}

// Load returns the checkpoint for threadID within namespace, or ok=false
// if none exists.
func (s *Store) Load(ctx context.Context, namespace, threadID string) (agentcore.Checkpoint, bool, error) {
	db, err := s.openDB()
	if err != nil {
		return agentcore.Checkpoint{}, false, err
	}
	defer db.Close()

	var cp agentcore.Checkpoint
	var messages, state, interrupts string
	err = db.QueryRowContext(ctx,
		`SELECT step, messages, state, interrupts, created_at, updated_at
		 FROM checkpoints WHERE namespace = ? AND thread_id = ?`,
		namespace, threadID,
	).Scan(&cp.Step, &messages, &state, &interrupts, &cp.CreatedAt, &cp.UpdatedAt)
	if err == sql.ErrNoRows {
		return agentcore.Checkpoint{}, false, nil
	}
	if err != nil {
		return agentcore.Checkpoint{}, false, fmt.Errorf("libsql: load checkpoint: %w", err)
	}
	cp.ThreadID = threadID
	if err := json.Unmarshal([]byte(messages), &cp.Messages); err != nil {
		return agentcore.Checkpoint{}, false, fmt.Errorf("libsql: unmarshal messages: %w", err)
	}
	if err := json.Unmarshal([]byte(state), &cp.State); err != nil {
		return agentcore.Checkpoint{}, false, fmt.Errorf("libsql: unmarshal state: %w", err)
	}
	if err := json.Unmarshal([]byte(interrupts), &cp.Interrupts); err != nil {
		return agentcore.Checkpoint{}, false, fmt.Errorf("libsql: unmarshal interrupts: %w", err)
	}
	return cp, true, nil
}

// List returns the thread IDs with a stored checkpoint within namespace.
func (s *Store) List(ctx context.Context, namespace string) ([]string, error) {
	db, err := s.openDB()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx,
		`SELECT thread_id FROM checkpoints WHERE namespace = ? ORDER BY updated_at DESC`, namespace)
	if err != nil {
		return nil, fmt.Errorf("libsql: list checkpoints: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("libsql: scan thread id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete removes the checkpoint for threadID within namespace.
func (s *Store) Delete(ctx context.Context, namespace, threadID string) error {
	db, err := s.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE namespace = ? AND thread_id = ?`, namespace, threadID)
	if err != nil {
		return fmt.Errorf("libsql: delete checkpoint: %w", err)
	}
	return nil
}

// Exists reports whether a checkpoint exists for threadID within namespace.
func (s *Store) Exists(ctx context.Context, namespace, threadID string) (bool, error) {
	db, err := s.openDB()
	if err != nil {
		return false, err
	}
	defer db.Close()

	var one int
	err = db.QueryRowContext(ctx,
		`SELECT 1 FROM checkpoints WHERE namespace = ? AND thread_id = ?`, namespace, threadID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("libsql: exists checkpoint: %w", err)
	}
	return true, nil
}
