// Package sqlite implements agentcore.Checkpointer and agentcore.TaskStore
// using pure-Go SQLite. Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	agentcore "github.com/agentcore/runtime"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// When set, the store emits debug logs with timing and key parameters for
// its operations except Exists, which is not logged; Init logs its completion
// at Info. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements agentcore.Checkpointer backed by a local SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ agentcore.Checkpointer = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// DB returns the underlying *sql.DB for sharing with a TaskStore.
func (s *Store) DB() *sql.DB { return s.db }

// Init creates the checkpoints table.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS checkpoints (
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
		return fmt.Errorf("create checkpoints table: %w", err)
	}
	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.logger.Debug("sqlite: closing store")
	err := s.db.Close()
	if err != nil {
		s.logger.Error("sqlite: close failed", "error", err)
	}
	return err
}

// Save inserts or replaces the checkpoint for a thread within namespace.
func (s *Store) Save(ctx context.Context, namespace string, cp agentcore.Checkpoint) error {
	start := time.Now()
	s.logger.Debug("sqlite: save checkpoint", "namespace", namespace, "thread_id", cp.ThreadID, "step", cp.Step)

	messages, err := json.Marshal(cp.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	state, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	interrupts, err := json.Marshal(cp.Interrupts)
	if err != nil {
		return fmt.Errorf("marshal interrupts: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO checkpoints (namespace, thread_id, step, messages, state, interrupts, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		namespace, cp.ThreadID, cp.Step, string(messages), string(state), string(interrupts), cp.CreatedAt, cp.UpdatedAt,
	)
	if err != nil {
		s.logger.Error("sqlite: save checkpoint failed", "thread_id", cp.ThreadID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("save checkpoint: %w", err)
	}
	s.logger.Debug("sqlite: save checkpoint ok", "thread_id", cp.ThreadID, "duration", time.Since(start))
	return nil
}

// Load returns the checkpoint for threadID within namespace, or ok=false
// if none exists.
func (s *Store) Load(ctx context.Context, namespace, threadID string) (agentcore.Checkpoint, bool, error) {
	start := time.Now()
	s.logger.Debug("sqlite: load checkpoint", "namespace", namespace, "thread_id", threadID)

	var cp agentcore.Checkpoint
	var messages, state, interrupts string
	err := s.db.QueryRowContext(ctx,
		`SELECT step, messages, state, interrupts, created_at, updated_at
		 FROM checkpoints WHERE namespace = ? AND thread_id = ?`,
		namespace, threadID,
	).Scan(&cp.Step, &messages, &state, &interrupts, &cp.CreatedAt, &cp.UpdatedAt)
	if err == sql.ErrNoRows {
		s.logger.Debug("sqlite: load checkpoint not found", "thread_id", threadID, "duration", time.Since(start))
		return agentcore.Checkpoint{}, false, nil
	}
	if err != nil {
		s.logger.Error("sqlite: load checkpoint failed", "thread_id", threadID, "error", err, "duration", time.Since(start))
		return agentcore.Checkpoint{}, false, fmt.Errorf("load checkpoint: %w", err)
	}
	cp.ThreadID = threadID
	if err := json.Unmarshal([]byte(messages), &cp.Messages); err != nil {
		return agentcore.Checkpoint{}, false, fmt.Errorf("unmarshal messages: %w", err)
	}
	if err := json.Unmarshal([]byte(state), &cp.State); err != nil {
		return agentcore.Checkpoint{}, false, fmt.Errorf("unmarshal state: %w", err)
	}
	if err := json.Unmarshal([]byte(interrupts), &cp.Interrupts); err != nil {
		return agentcore.Checkpoint{}, false, fmt.Errorf("unmarshal interrupts: %w", err)
	}
	s.logger.Debug("sqlite: load checkpoint ok", "thread_id", threadID, "step", cp.Step, "duration", time.Since(start))
	return cp, true, nil
}

// List returns the thread IDs with a stored checkpoint within namespace.
func (s *Store) List(ctx context.Context, namespace string) ([]string, error) {
	start := time.Now()
	s.logger.Debug("sqlite: list checkpoints", "namespace", namespace)

	rows, err := s.db.QueryContext(ctx,
		`SELECT thread_id FROM checkpoints WHERE namespace = ? ORDER BY updated_at DESC`, namespace)
	if err != nil {
		s.logger.Error("sqlite: list checkpoints failed", "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan thread id: %w", err)
		}
		ids = append(ids, id)
	}
	s.logger.Debug("sqlite: list checkpoints ok", "count", len(ids), "duration", time.Since(start))
	return ids, rows.Err()
}

// Delete removes the checkpoint for threadID within namespace.
func (s *Store) Delete(ctx context.Context, namespace, threadID string) error {
	start := time.Now()
	s.logger.Debug("sqlite: delete checkpoint", "namespace", namespace, "thread_id", threadID)

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM checkpoints WHERE namespace = ? AND thread_id = ?`, namespace, threadID)
	if err != nil {
		s.logger.Error("sqlite: delete checkpoint failed", "thread_id", threadID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	s.logger.Debug("sqlite: delete checkpoint ok", "thread_id", threadID, "duration", time.Since(start))
	return nil
}

// Exists reports whether a checkpoint exists for threadID within namespace.
func (s *Store) Exists(ctx context.Context, namespace, threadID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM checkpoints WHERE namespace = ? AND thread_id = ?`, namespace, threadID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists checkpoint: %w", err)
	}
	return true, nil
}
