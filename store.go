package agentcore

import "context"

// TaskStore persists BackgroundTask records so queued and running work
// survives process restarts. Backends: store/sqlite, store/libsql,
// store/postgres, repurposed from conversation/document storage to a
// single `tasks` table.
type TaskStore interface {
	Save(ctx context.Context, task BackgroundTask) error
	Load(ctx context.Context, id string) (BackgroundTask, error)
	// List returns the tasks whose status equals status; no value of status
	// selects every task.
	List(ctx context.Context, status TaskStatus) ([]BackgroundTask, error)
	Delete(ctx context.Context, id string) error
	// Cleanup deletes terminal-status tasks whose UpdatedAt is older than
	// olderThanUnix, returning the number removed.
	Cleanup(ctx context.Context, olderThanUnix int64) (int, error)

	Init(ctx context.Context) error
	Close() error
}
