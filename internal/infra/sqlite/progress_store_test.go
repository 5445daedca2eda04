package sqlite

import (
	"context"
	"path/filepath"
	"testing"
)

func openTempStore(t *testing.T) *ProgressStore {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "progress.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(" "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestProgressStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTempStore(t)

	if _, ok, err := store.Get(ctx, "u1", "quizAnswers"); err != nil || ok {
		t.Fatalf("expected miss, ok=%v err=%v", ok, err)
	}
	if err := store.Set(ctx, "u1", "quizAnswers", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set(ctx, "u1", "quizAnswers", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := store.Set(ctx, "u2", "manualMasteryOverrides", []byte(`{}`)); err != nil {
		t.Fatalf("set u2: %v", err)
	}

	value, ok, err := store.Get(ctx, "u1", "quizAnswers")
	if err != nil || !ok || string(value) != `{"v":2}` {
		t.Fatalf("get: value=%s ok=%v err=%v", value, ok, err)
	}

	users, err := store.Users(ctx)
	if err != nil {
		t.Fatalf("users: %v", err)
	}
	if len(users) != 2 || users[0] != "u1" || users[1] != "u2" {
		t.Fatalf("unexpected users %v", users)
	}

	if err := store.Delete(ctx, "u1", "quizAnswers"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "u1", "quizAnswers"); ok {
		t.Fatalf("expected key deleted")
	}

	if err := store.Clear(ctx, "u2"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "u2", "manualMasteryOverrides"); ok {
		t.Fatalf("expected u2 cleared")
	}
}

func TestProgressStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "progress.db")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Set(ctx, "u1", "quizAttemptHistory", []byte(`{"q":[]}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	_ = store.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if _, ok, err := reopened.Get(ctx, "u1", "quizAttemptHistory"); err != nil || !ok {
		t.Fatalf("expected value persisted, ok=%v err=%v", ok, err)
	}
}
