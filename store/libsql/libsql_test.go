package libsql

import (
	"context"
	"path/filepath"
	"testing"

	agentcore "github.com/agentcore/runtime"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "test.db"))
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return s
}

func TestRemoteOpenFails(t *testing.T) {
	s := NewRemote("libsql://example.turso.io", "token")
	if err := s.Init(context.Background()); err == nil {
		t.Fatal("expected error opening remote Turso store without go-libsql driver")
	}
}

func TestInitIdempotent(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "init.db"))
	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	if err := s.Init(ctx); err != nil {
		t.Fatalf("second Init: %v", err)
	}
}

func TestSaveAndLoad(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	cp := agentcore.Checkpoint{
		ThreadID:  "thread-1",
		Step:      2,
		Messages:  []agentcore.ChatMessage{{Role: "user", Content: "hi"}},
		CreatedAt: 10,
		UpdatedAt: 20,
	}
	if err := s.Save(ctx, "ns", cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := s.Load(ctx, "ns", "thread-1")
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if got.Step != 2 || len(got.Messages) != 1 {
		t.Fatalf("Load returned mismatched checkpoint: %+v", got)
	}
}

func TestLoadMissing(t *testing.T) {
	s := testStore(t)
	_, ok, err := s.Load(context.Background(), "ns", "nope")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for missing checkpoint")
	}
}

func TestListAndDelete(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := s.Save(ctx, "ns", agentcore.Checkpoint{ThreadID: id}); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}

	ids, err := s.List(ctx, "ns")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %d", len(ids))
	}

	if err := s.Delete(ctx, "ns", "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	exists, err := s.Exists(ctx, "ns", "a")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Fatal("expected checkpoint to be deleted")
	}
}
