package libsql

import (
	"context"
	"database/sql"
	"fmt"

	agentcore "github.com/agentcore/runtime"
)

// TaskStore implements agentcore.TaskStore backed by libSQL / Turso,
// mirroring Store's fresh-connection-per-call approach.
type TaskStore struct {
	dbPath string
	dbURL  string
	token  string
}

var _ agentcore.TaskStore = (*TaskStore)(nil)

// NewTaskStore creates a TaskStore that uses a local SQLite file at dbPath.
func NewTaskStore(dbPath string) *TaskStore {
	return &TaskStore{dbPath: dbPath}
}

// NewRemoteTaskStore creates a TaskStore for a remote Turso database. No
// remote driver is linked, so every operation on it returns an error.
func NewRemoteTaskStore(url, token string) *TaskStore {
	return &TaskStore{dbURL: url, token: token}
}

func (t *TaskStore) openDB() (*sql.DB, error) {
	if t.dbURL != "" {
		return nil, fmt.Errorf("libsql: remote Turso connections require the go-libsql driver; use NewTaskStore() for local databases")
	}
	db, err := sql.Open("sqlite", t.dbPath)
	if err != nil {
		return nil, fmt.Errorf("libsql: open database: %w", err)
	}
	return db, nil
}

// Init creates the tasks table.
func (t *TaskStore) Init(ctx context.Context) error {
	db, err := t.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS tasks (
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
		return fmt.Errorf("libsql: create tasks table: %w", err)
	}
	return nil
}

// Close is a no-op: each call opens and closes its own connection.
func (t *TaskStore) Close() error { return nil }

// Save inserts or replaces a background task.
func (t *TaskStore) Save(ctx context.Context, task agentcore.BackgroundTask) error {
	db, err := t.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.ExecContext(ctx,
		`INSERT OR REPLACE INTO tasks (id, subagent_type, description, status, created_at, updated_at, completed_at, result, error, parent_checkpoint_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.SubagentType, task.Description, task.Status.String(),
		task.CreatedAt, task.UpdatedAt, task.CompletedAt, task.Result, task.Error, task.ParentCheckpointID,
	)
	if err != nil {
		return fmt.Errorf("libsql: save task: %w", err)
	}
	return nil
}

// Load returns the background task with the given id.
func (t *TaskStore) Load(ctx context.Context, id string) (agentcore.BackgroundTask, error) {
	db, err := t.openDB()
	if err != nil {
		return agentcore.BackgroundTask{}, err
	}
	defer db.Close()

	var task agentcore.BackgroundTask
	var status string
	err = db.QueryRowContext(ctx,
		`SELECT id, subagent_type, description, status, created_at, updated_at, completed_at, result, error, parent_checkpoint_id
		 FROM tasks WHERE id = ?`, id,
	).Scan(&task.ID, &task.SubagentType, &task.Description, &status,
		&task.CreatedAt, &task.UpdatedAt, &task.CompletedAt, &task.Result, &task.Error, &task.ParentCheckpointID)
	if err == sql.ErrNoRows {
		return agentcore.BackgroundTask{}, fmt.Errorf("libsql: load task %s: %w", id, sql.ErrNoRows)
	}
	if err != nil {
		return agentcore.BackgroundTask{}, fmt.Errorf("libsql: load task: %w", err)
	}
	task.Status = parseLibsqlTaskStatus(status)
	return task, nil
}

// List returns all background tasks matching status.
func (t *TaskStore) List(ctx context.Context, status agentcore.TaskStatus) ([]agentcore.BackgroundTask, error) {
	db, err := t.openDB()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx,
		`SELECT id, subagent_type, description, status, created_at, updated_at, completed_at, result, error, parent_checkpoint_id
		 FROM tasks WHERE status = ? ORDER BY created_at DESC`, status.String())
	if err != nil {
		return nil, fmt.Errorf("libsql: list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []agentcore.BackgroundTask
	for rows.Next() {
		var task agentcore.BackgroundTask
		var s string
		if err := rows.Scan(&task.ID, &task.SubagentType, &task.Description, &s,
			&task.CreatedAt, &task.UpdatedAt, &task.CompletedAt, &task.Result, &task.Error, &task.ParentCheckpointID); err != nil {
			return nil, fmt.Errorf("libsql: scan task: %w", err)
		}
		task.Status = parseLibsqlTaskStatus(s)
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// Delete removes the background task with the given id.
func (t *TaskStore) Delete(ctx context.Context, id string) error {
	db, err := t.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("libsql: delete task: %w", err)
	}
	return nil
}

// Cleanup removes terminal tasks updated before olderThanUnix and returns the
// number removed.
func (t *TaskStore) Cleanup(ctx context.Context, olderThanUnix int64) (int, error) {
	db, err := t.openDB()
	if err != nil {
		return 0, err
	}
	defer db.Close()

	res, err := db.ExecContext(ctx,
		`DELETE FROM tasks WHERE updated_at < ? AND status IN (?, ?, ?)`,
		olderThanUnix,
		agentcore.TaskCompleted.String(), agentcore.TaskFailed.String(), agentcore.TaskKilled.String(),
	)
	if err != nil {
		return 0, fmt.Errorf("libsql: cleanup tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("libsql: cleanup tasks rows affected: %w", err)
	}
	return int(n), nil
}

func parseLibsqlTaskStatus(s string) agentcore.TaskStatus {
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
