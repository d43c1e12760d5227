package agentcore

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// TaskStatus is the lifecycle state of a BackgroundTask.
type TaskStatus int32

const (
	// TaskPending indicates the task has been recorded but Execute has not started.
	TaskPending TaskStatus = iota
	// TaskRunning indicates Execute is in progress.
	TaskRunning
	// TaskCompleted indicates Execute finished successfully.
	TaskCompleted
	// TaskFailed indicates Execute returned an error.
	TaskFailed
	// TaskKilled indicates the task was cancelled via Cancel() or parent
	// context cancellation.
	TaskKilled
)

// String returns the status name, matching the wire value persisted by TaskStore.
func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	case TaskKilled:
		return "killed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the status is a final state (completed,
// failed, or killed). Terminal statuses are immutable except for deletion
// by Cleanup.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskKilled
}

// BackgroundTask is a durable record of an out-of-band subagent execution,
// persisted via TaskStore so it survives process restarts.
type BackgroundTask struct {
	ID                 string     `json:"id"`
	SubagentType       string     `json:"subagentType"`
	Description        string     `json:"description"`
	Status             TaskStatus `json:"status"`
	CreatedAt          int64      `json:"createdAt"`
	UpdatedAt          int64      `json:"updatedAt"`
	CompletedAt        *int64     `json:"completedAt,omitempty"`
	Result             *string    `json:"result,omitempty"`
	Error              *string    `json:"error,omitempty"`
	ParentCheckpointID string     `json:"parentCheckpointId,omitempty"`
}

// SpawnOption configures a SpawnTask call.
type SpawnOption func(*spawnConfig)

type spawnConfig struct {
	logger *slog.Logger
}

// SpawnLogger sets the structured logger for task lifecycle events.
// When set, SpawnTask logs start, completion, failure, cancellation, and
// panic recovery.
func SpawnLogger(l *slog.Logger) SpawnOption {
	return func(c *spawnConfig) { c.logger = l }
}

// BackgroundTaskHandle tracks one in-process execution of a BackgroundTask,
// mirroring its status into TaskStore as it progresses. All methods are
// safe for concurrent use.
type BackgroundTaskHandle struct {
	id     string
	agent  Agent
	store  TaskStore
	state  atomic.Int32
	result AgentResult
	err    error
	done   chan struct{}
	cancel context.CancelFunc
}

// SpawnTask records a pending BackgroundTask in store and launches
// agent.Execute(ctx, task) in a background goroutine, persisting status
// transitions as it runs. Returns immediately with a handle for tracking,
// awaiting, and cancelling. The parent ctx controls the task's lifetime —
// cancelling it cancels the background execution.
func SpawnTask(ctx context.Context, store TaskStore, agent Agent, task AgentTask, subagentType, description, parentCheckpointID string, opts ...SpawnOption) (*BackgroundTaskHandle, error) {
	var cfg spawnConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = nopLogger
	}
	logger := cfg.logger

	now := time.Now().UnixMilli()
	record := BackgroundTask{
		ID:                 NewID(),
		SubagentType:       subagentType,
		Description:        description,
		Status:             TaskPending,
		CreatedAt:          now,
		UpdatedAt:          now,
		ParentCheckpointID: parentCheckpointID,
	}
	if err := store.Save(ctx, record); err != nil {
		return nil, fmt.Errorf("agentcore: save pending task: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	h := &BackgroundTaskHandle{
		id:     record.ID,
		agent:  agent,
		store:  store,
		done:   make(chan struct{}),
		cancel: cancel,
	}
	h.state.Store(int32(TaskPending))

	logger.Info("background task spawned", "agent", agent.Name(), "task_id", h.id, "subagent_type", subagentType)

	transition := func(status TaskStatus, result *string, taskErr *string) {
		h.state.Store(int32(status))
		rec := record
		rec.Status = status
		rec.UpdatedAt = time.Now().UnixMilli()
		if status.IsTerminal() {
			completedAt := rec.UpdatedAt
			rec.CompletedAt = &completedAt
		}
		rec.Result = result
		rec.Error = taskErr
		if err := store.Save(context.Background(), rec); err != nil {
			logger.Error("background task status persist failed", "task_id", h.id, "status", status, "error", err)
		}
	}

	go func() {
		defer cancel() // release context resources on completion
		defer func() {
			if p := recover(); p != nil {
				logger.Error("background task panic", "agent", agent.Name(), "task_id", h.id, "panic", fmt.Sprintf("%v", p))
				msg := fmt.Sprintf("agent panic: %v", p)
				h.result = AgentResult{}
				h.err = fmt.Errorf("%s", msg)
				transition(TaskFailed, nil, &msg)
				close(h.done)
			}
		}()

		transition(TaskRunning, nil, nil)
		start := time.Now()
		result, execErr := agent.Execute(ctx, task)

		// Write result/err before close(done). The channel close is the
		// happens-before barrier: all readers (<-h.done in Await, State,
		// Result) are guaranteed to see these writes after the close.
		h.result = result
		h.err = execErr

		switch {
		case ctx.Err() != nil && execErr != nil:
			msg := execErr.Error()
			transition(TaskKilled, nil, &msg)
			logger.Info("background task cancelled", "agent", agent.Name(), "task_id", h.id, "duration", time.Since(start))
		case execErr != nil:
			msg := execErr.Error()
			transition(TaskFailed, nil, &msg)
			logger.Error("background task failed", "agent", agent.Name(), "task_id", h.id, "error", execErr, "duration", time.Since(start))
		default:
			out := result.Output
			transition(TaskCompleted, &out, nil)
			logger.Info("background task completed", "agent", agent.Name(), "task_id", h.id,
				"duration", time.Since(start),
				"tokens.input", result.Usage.InputTokens,
				"tokens.output", result.Usage.OutputTokens)
		}
		close(h.done)
	}()

	return h, nil
}

// ID returns the BackgroundTask's unique identifier.
func (h *BackgroundTaskHandle) ID() string { return h.id }

// Agent returns the agent being executed.
func (h *BackgroundTaskHandle) Agent() Agent { return h.agent }

// State returns the current execution status. If the status is terminal,
// State blocks until Done() is closed (nanoseconds) to guarantee that
// Result() returns valid data when State().IsTerminal() is true.
func (h *BackgroundTaskHandle) State() TaskStatus {
	s := TaskStatus(h.state.Load())
	if s.IsTerminal() {
		<-h.done
	}
	return s
}

// Done returns a channel closed when execution finishes (any terminal status).
// Composable with select for multiplexing multiple handles.
func (h *BackgroundTaskHandle) Done() <-chan struct{} { return h.done }

// Await blocks until the task completes or ctx is cancelled.
// Returns the agent's result and error on completion.
// Returns zero AgentResult and ctx.Err() if ctx is cancelled before completion.
func (h *BackgroundTaskHandle) Await(ctx context.Context) (AgentResult, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return AgentResult{}, ctx.Err()
	}
}

// Result returns the result and error. Only meaningful after Done() is closed.
// Before completion, returns zero AgentResult and nil error.
func (h *BackgroundTaskHandle) Result() (AgentResult, error) {
	select {
	case <-h.done:
		return h.result, h.err
	default:
		return AgentResult{}, nil
	}
}

// Cancel requests cancellation. Non-blocking. The agent receives a
// cancelled context. Status transitions to TaskKilled once Execute returns.
func (h *BackgroundTaskHandle) Cancel() { h.cancel() }

// RecoverRunningTasks transitions every task in store with status Running
// to Failed, with a synthetic "interrupted-by-restart" error, and returns
// the count transitioned. Call once at process startup before accepting
// new work, since a Running task with no live goroutine is orphaned —
// the process that started it is gone.
func RecoverRunningTasks(ctx context.Context, store TaskStore) (int, error) {
	running, err := store.List(ctx, TaskRunning)
	if err != nil {
		return 0, fmt.Errorf("agentcore: list running tasks: %w", err)
	}

	n := 0
	now := time.Now().UnixMilli()
	for _, task := range running {
		msg := "interrupted-by-restart"
		task.Status = TaskFailed
		task.UpdatedAt = now
		task.CompletedAt = &now
		task.Error = &msg
		if err := store.Save(ctx, task); err != nil {
			return n, fmt.Errorf("agentcore: recover task %s: %w", task.ID, err)
		}
		n++
	}
	return n, nil
}
