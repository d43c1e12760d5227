package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	agentcore "github.com/agentcore/runtime"
)

// TaskStore implements agentcore.TaskStore, sharing the *pgxpool.Pool of a
// Store so checkpoints and background tasks live in the same database.
type TaskStore struct {
	pool *pgxpool.Pool
}

var _ agentcore.TaskStore = (*TaskStore)(nil)

// NewTaskStore creates a TaskStore sharing pool with a Store. Pass
// (*Store).Pool() to keep checkpoints and tasks in one database.
func NewTaskStore(pool *pgxpool.Pool) *TaskStore {
	return &TaskStore{pool: pool}
}

// Init creates the tasks table and its index. Safe to call multiple times.
func (t *TaskStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			subagent_type TEXT NOT NULL,
			description TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			completed_at BIGINT,
			result TEXT,
			error TEXT,
			parent_checkpoint_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks (status)`,
	}
	for _, stmt := range stmts {
		if _, err := t.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init tasks: %w", err)
		}
	}
	return nil
}

// Close closes the underlying connection pool.
func (t *TaskStore) Close() error {
	t.pool.Close()
	return nil
}

// Save inserts or replaces a background task.
func (t *TaskStore) Save(ctx context.Context, task agentcore.BackgroundTask) error {
	_, err := t.pool.Exec(ctx,
		`INSERT INTO tasks (id, subagent_type, description, status, created_at, updated_at, completed_at, result, error, parent_checkpoint_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
			subagent_type = EXCLUDED.subagent_type,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at,
			completed_at = EXCLUDED.completed_at,
			result = EXCLUDED.result,
			error = EXCLUDED.error,
			parent_checkpoint_id = EXCLUDED.parent_checkpoint_id`,
		task.ID, task.SubagentType, task.Description, task.Status.String(),
		task.CreatedAt, task.UpdatedAt, task.CompletedAt, task.Result, task.Error, task.ParentCheckpointID,
	)
	if err != nil {
		return fmt.Errorf("postgres: save task: %w", err)
	}
	return nil
}

// Load returns the background task with the given id.
func (t *TaskStore) Load(ctx context.Context, id string) (agentcore.BackgroundTask, error) {
	var task agentcore.BackgroundTask
	var status string
	err := t.pool.QueryRow(ctx,
		`SELECT id, subagent_type, description, status, created_at, updated_at, completed_at, result, error, parent_checkpoint_id
		 FROM tasks WHERE id = $1`, id,
	).Scan(&task.ID, &task.SubagentType, &task.Description, &status,
		&task.CreatedAt, &task.UpdatedAt, &task.CompletedAt, &task.Result, &task.Error, &task.ParentCheckpointID)
	if err == pgx.ErrNoRows {
		return agentcore.BackgroundTask{}, fmt.Errorf("postgres: load task %s: %w", id, pgx.ErrNoRows)
	}
	if err != nil {
		return agentcore.BackgroundTask{}, fmt.Errorf("postgres: load task: %w", err)
	}
	task.Status = parsePostgresTaskStatus(status)
	return task, nil
}

// List returns all background tasks matching status.
func (t *TaskStore) List(ctx context.Context, status agentcore.TaskStatus) ([]agentcore.BackgroundTask, error) {
	rows, err := t.pool.Query(ctx,
		`SELECT id, subagent_type, description, status, created_at, updated_at, completed_at, result, error, parent_checkpoint_id
		 FROM tasks WHERE status = $1 ORDER BY created_at DESC`, status.String())
	if err != nil {
		return nil, fmt.Errorf("postgres: list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []agentcore.BackgroundTask
	for rows.Next() {
		var task agentcore.BackgroundTask
		var s string
		if err := rows.Scan(&task.ID, &task.SubagentType, &task.Description, &s,
			&task.CreatedAt, &task.UpdatedAt, &task.CompletedAt, &task.Result, &task.Error, &task.ParentCheckpointID); err != nil {
			return nil, fmt.Errorf("postgres: scan task: %w", err)
		}
		task.Status = parsePostgresTaskStatus(s)
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// Delete removes the background task with the given id.
func (t *TaskStore) Delete(ctx context.Context, id string) error {
	_, err := t.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete task: %w", err)
	}
	return nil
}

// Cleanup removes terminal tasks updated before olderThanUnix and returns the
// number removed.
func (t *TaskStore) Cleanup(ctx context.Context, olderThanUnix int64) (int, error) {
	tag, err := t.pool.Exec(ctx,
		`DELETE FROM tasks WHERE updated_at < $1 AND status IN ($2, $3, $4)`,
		olderThanUnix,
		agentcore.TaskCompleted.String(), agentcore.TaskFailed.String(), agentcore.TaskKilled.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: cleanup tasks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func parsePostgresTaskStatus(s string) agentcore.TaskStatus {
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
