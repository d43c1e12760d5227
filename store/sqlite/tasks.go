package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	agentcore "github.com/agentcore/runtime"
)

// TaskStoreOption configures a TaskStore.
type TaskStoreOption func(*TaskStore)

// WithTaskLogger sets a structured logger for the task store.
func WithTaskLogger(l *slog.Logger) TaskStoreOption {
	return func(t *TaskStore) { t.logger = l }
}

// TaskStore implements agentcore.TaskStore, sharing the *sql.DB of a Store
// so checkpoints and background tasks live in the same SQLite file.
type TaskStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ agentcore.TaskStore = (*TaskStore)(nil)

// NewTaskStore creates a TaskStore sharing db with a Store. Pass (*Store).DB()
// to keep checkpoints and tasks in one file.
func NewTaskStore(db *sql.DB, opts ...TaskStoreOption) *TaskStore {
	t := &TaskStore{db: db, logger: nopLogger}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Init creates the tasks table.
func (t *TaskStore) Init(ctx context.Context) error {
	start := time.Now()
	t.logger.Debug("sqlite: task store init started")
	_, err := t.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		subagent_type TEXT NOT NULL,
		description TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		completed_at INTEGER,
		result TEXT,
		error TEXT,
		parent_checkpoint_id TEXT NOT NULL DEFAULT ''
	)`)
	if err != nil {
		return fmt.Errorf("create tasks table: %w", err)
	}
	_, err = t.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks (status)`)
	if err != nil {
		return fmt.Errorf("create tasks status index: %w", err)
	}
	t.logger.Info("sqlite: task store init completed", "duration", time.Since(start))
	return nil
}

// Close closes the underlying database connection.
func (t *TaskStore) Close() error {
	t.logger.Debug("sqlite: closing task store")
	err := t.db.Close()
	if err != nil {
		t.logger.Error("sqlite: task store close failed", "error", err)
	}
	return err
}

// Save inserts or replaces a background task.
func (t *TaskStore) Save(ctx context.Context, task agentcore.BackgroundTask) error {
	start := time.Now()
	t.logger.Debug("sqlite: save task", "id", task.ID, "status", task.Status.String())

	_, err := t.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO tasks (id, subagent_type, description, status, created_at, updated_at, completed_at, result, error, parent_checkpoint_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.SubagentType, task.Description, task.Status.String(),
		task.CreatedAt, task.UpdatedAt, task.CompletedAt, task.Result, task.Error, task.ParentCheckpointID,
	)
	if err != nil {
		t.logger.Error("sqlite: save task failed", "id", task.ID, "error", err, "duration", time.Since(start))
		return fmt.Errorf("save task: %w", err)
	}
	t.logger.Debug("sqlite: save task ok", "id", task.ID, "duration", time.Since(start))
	return nil
}

// Load returns the background task with the given id.
func (t *TaskStore) Load(ctx context.Context, id string) (agentcore.BackgroundTask, error) {
	start := time.Now()
	t.logger.Debug("sqlite: load task", "id", id)

	var task agentcore.BackgroundTask
	var status string
	err := t.db.QueryRowContext(ctx,
		`SELECT id, subagent_type, description, status, created_at, updated_at, completed_at, result, error, parent_checkpoint_id
		 FROM tasks WHERE id = ?`, id,
	).Scan(&task.ID, &task.SubagentType, &task.Description, &status,
		&task.CreatedAt, &task.UpdatedAt, &task.CompletedAt, &task.Result, &task.Error, &task.ParentCheckpointID)
	if err == sql.ErrNoRows {
		t.logger.Debug("sqlite: load task not found", "id", id, "duration", time.Since(start))
		return agentcore.BackgroundTask{}, fmt.Errorf("load task %s: %w", id, sql.ErrNoRows)
	}
	if err != nil {
		t.logger.Error("sqlite: load task failed", "id", id, "error", err, "duration", time.Since(start))
		return agentcore.BackgroundTask{}, fmt.Errorf("load task: %w", err)
	}
	task.Status = parseTaskStatus(status)
	t.logger.Debug("sqlite: load task ok", "id", id, "duration", time.Since(start))
	return task, nil
}

// List returns all background tasks matching status. Pass the zero value of
// agentcore.TaskStatus-typed filter via an empty string sentinel is not
// supported; callers wanting all tasks should query each status they need.
func (t *TaskStore) List(ctx context.Context, status agentcore.TaskStatus) ([]agentcore.BackgroundTask, error) {
	start := time.Now()
	t.logger.Debug("sqlite: list tasks", "status", status.String())

	rows, err := t.db.QueryContext(ctx,
		`SELECT id, subagent_type, description, status, created_at, updated_at, completed_at, result, error, parent_checkpoint_id
		 FROM tasks WHERE status = ? ORDER BY created_at DESC`, status.String())
	if err != nil {
		t.logger.Error("sqlite: list tasks failed", "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []agentcore.BackgroundTask
	for rows.Next() {
		var task agentcore.BackgroundTask
		var s string
		if err := rows.Scan(&task.ID, &task.SubagentType, &task.Description, &s,
			&task.CreatedAt, &task.UpdatedAt, &task.CompletedAt, &task.Result, &task.Error, &task.ParentCheckpointID); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		task.Status = parseTaskStatus(s)
		tasks = append(tasks, task)
	}
	t.logger.Debug("sqlite: list tasks ok", "count", len(tasks), "duration", time.Since(start))
	return tasks, rows.Err()
}

// Delete removes the background task with the given id.
func (t *TaskStore) Delete(ctx context.Context, id string) error {
	start := time.Now()
	t.logger.Debug("sqlite: delete task", "id", id)

	_, err := t.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		t.logger.Error("sqlite: delete task failed", "id", id, "error", err, "duration", time.Since(start))
		return fmt.Errorf("delete task: %w", err)
	}
	t.logger.Debug("sqlite: delete task ok", "id", id, "duration", time.Since(start))
	return nil
}

// Cleanup removes terminal tasks updated before olderThanUnix and returns the
// number removed.
func (t *TaskStore) Cleanup(ctx context.Context, olderThanUnix int64) (int, error) {
	start := time.Now()
	t.logger.Debug("sqlite: cleanup tasks", "older_than", olderThanUnix)

	res, err := t.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE updated_at < ? AND status IN (?, ?, ?)`,
		olderThanUnix,
		agentcore.TaskCompleted.String(), agentcore.TaskFailed.String(), agentcore.TaskKilled.String(),
	)
	if err != nil {
		t.logger.Error("sqlite: cleanup tasks failed", "error", err, "duration", time.Since(start))
		return 0, fmt.Errorf("cleanup tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup tasks rows affected: %w", err)
	}
	t.logger.Debug("sqlite: cleanup tasks ok", "removed", n, "duration", time.Since(start))
	return int(n), nil
}

func parseTaskStatus(s string) agentcore.TaskStatus {
	switch s {
	case agentcore.TaskPending.String():
		return agentcore.TaskPending
	case agentcore.TaskRunning.String():
		return agentcore.TaskRunning
	case agentcore.TaskCompleted.String():
		return agentcore.TaskCompleted
	case agentcore.TaskFailed.String():
		return agentcore.TaskFailed
	case agentcore.TaskKilled.String():
		return agentcore.TaskKilled
	default:
		return agentcore.TaskPending
	}
}
