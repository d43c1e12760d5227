package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	agentcore "github.com/agentcore/runtime"
)

func testTaskStore(t *testing.T) *TaskStore {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "tasks.db"))
	ts := NewTaskStore(s.DB())
	if err := ts.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return ts
}

func TestTaskStoreInitIdempotent(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "tasks.db"))
	ts := NewTaskStore(s.DB())
	ctx := context.Background()
	if err := ts.Init(ctx); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	if err := ts.Init(ctx); err != nil {
		t.Fatalf("second Init: %v", err)
	}
}

func TestTaskSaveAndLoad(t *testing.T) {
	ts := testTaskStore(t)
	ctx := context.Background()

	task := agentcore.BackgroundTask{
		ID:           "task-1",
		SubagentType: "researcher",
		Description:  "look into the bug",
		Status:       agentcore.TaskRunning,
		CreatedAt:    100,
		UpdatedAt:    100,
	}
	if err := ts.Save(ctx, task); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := ts.Load(ctx, "task-1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.SubagentType != "researcher" || got.Status != agentcore.TaskRunning {
		t.Fatalf("Load returned mismatched task: %+v", got)
	}
}

func TestTaskLoadMissing(t *testing.T) {
	ts := testTaskStore(t)
	if _, err := ts.Load(context.Background(), "nonexistent"); err == nil {
		t.Fatal("expected error loading nonexistent task")
	}
}

func TestTaskSaveUpdatesStatus(t *testing.T) {
	ts := testTaskStore(t)
	ctx := context.Background()

	task := agentcore.BackgroundTask{ID: "t1", Status: agentcore.TaskPending, CreatedAt: 1, UpdatedAt: 1}
	if err := ts.Save(ctx, task); err != nil {
		t.Fatalf("Save: %v", err)
	}

	completedAt := int64(5)
	result := "done"
	task.Status = agentcore.TaskCompleted
	task.UpdatedAt = 5
	task.CompletedAt = &completedAt
	task.Result = &result
	if err := ts.Save(ctx, task); err != nil {
		t.Fatalf("Save update: %v", err)
	}

	got, err := ts.Load(ctx, "t1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Status != agentcore.TaskCompleted || got.Result == nil || *got.Result != "done" {
		t.Fatalf("expected completed task with result, got %+v", got)
	}
}

func TestTaskList(t *testing.T) {
	ts := testTaskStore(t)
	ctx := context.Background()

	statuses := []agentcore.TaskStatus{agentcore.TaskPending, agentcore.TaskRunning, agentcore.TaskPending}
	for i, st := range statuses {
		task := agentcore.BackgroundTask{ID: agentcore.NewID(), Status: st, CreatedAt: int64(i), UpdatedAt: int64(i)}
		if err := ts.Save(ctx, task); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	pending, err := ts.List(ctx, agentcore.TaskPending)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending tasks, got %d", len(pending))
	}

	running, err := ts.List(ctx, agentcore.TaskRunning)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(running) != 1 {
		t.Fatalf("expected 1 running task, got %d", len(running))
	}
}

func TestTaskDelete(t *testing.T) {
	ts := testTaskStore(t)
	ctx := context.Background()

	task := agentcore.BackgroundTask{ID: "t1", Status: agentcore.TaskPending}
	if err := ts.Save(ctx, task); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := ts.Delete(ctx, "t1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := ts.Load(ctx, "t1"); err == nil {
		t.Fatal("expected error loading deleted task")
	}
}

func TestTaskCleanup(t *testing.T) {
	ts := testTaskStore(t)
	ctx := context.Background()

	old := agentcore.BackgroundTask{ID: "old", Status: agentcore.TaskCompleted, UpdatedAt: 10}
	recent := agentcore.BackgroundTask{ID: "recent", Status: agentcore.TaskCompleted, UpdatedAt: 1000}
	running := agentcore.BackgroundTask{ID: "running", Status: agentcore.TaskRunning, UpdatedAt: 10}
	for _, task := range []agentcore.BackgroundTask{old, recent, running} {
		if err := ts.Save(ctx, task); err != nil {
			t.Fatalf("Save %s: %v", task.ID, err)
		}
	}

	n, err := ts.Cleanup(ctx, 500)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 task cleaned up, got %d", n)
	}

	if _, err := ts.Load(ctx, "old"); err == nil {
		t.Fatal("expected old completed task to be removed")
	}
	if _, err := ts.Load(ctx, "running"); err != nil {
		t.Fatalf("expected running task to survive cleanup: %v", err)
	}
}
