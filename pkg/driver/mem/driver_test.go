package mem

import (
	"context"
	"errors"
	"testing"
)

func TestAutocommitPutGet(t *testing.T) {
	store := NewStore()
	d := store.Open()
	ctx := context.Background()

	n, err := d.Exec(ctx, "PUT", "k", "v1")
	if err != nil {
		t.Fatalf("Failed to exec PUT: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 affected row, got %d", n)
	}

	rows, err := d.Query(ctx, "GET", "k")
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if len(rows) != 1 || rows[0][0] != "v1" {
		t.Errorf("Expected [[v1]], got %v", rows)
	}

	if v, ok := store.Committed("k"); !ok || v != "v1" {
		t.Errorf("Autocommit write should be committed, got %q %v", v, ok)
	}
}

func TestTransactionIsolationBetweenConnections(t *testing.T) {
	store := NewStore()
	a := store.Open()
	b := store.Open()
	ctx := context.Background()

	if err := a.Begin(ctx); err != nil {
		t.Fatalf("Failed to begin: %v", err)
	}
	if _, err := a.Exec(ctx, "PUT", "k", "uncommitted"); err != nil {
		t.Fatalf("Failed to exec: %v", err)
	}

	// Uncommitted write visible on A
	rows, err := a.Query(ctx, "GET", "k")
	if err != nil {
		t.Fatalf("Failed to query A: %v", err)
	}
	if len(rows) != 1 || rows[0][0] != "uncommitted" {
		t.Errorf("Connection A should see its own write, got %v", rows)
	}

	// Not visible on B
	rows, err = b.Query(ctx, "GET", "k")
	if err != nil {
		t.Fatalf("Failed to query B: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("Connection B should not see uncommitted writes, got %v", rows)
	}

	if err := a.Commit(ctx); err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}

	rows, err = b.Query(ctx, "GET", "k")
	if err != nil {
		t.Fatalf("Failed to query B after commit: %v", err)
	}
	if len(rows) != 1 || rows[0][0] != "uncommitted" {
		t.Errorf("Connection B should see committed value, got %v", rows)
	}
}

func TestRollbackDropsWrites(t *testing.T) {
	store := NewStore()
	d := store.Open()
	ctx := context.Background()

	if _, err := d.Exec(ctx, "PUT", "k", "original"); err != nil {
		t.Fatalf("Failed to seed: %v", err)
	}

	if err := d.Begin(ctx); err != nil {
		t.Fatalf("Failed to begin: %v", err)
	}
	if _, err := d.Exec(ctx, "PUT", "k", "changed"); err != nil {
		t.Fatalf("Failed to exec: %v", err)
	}
	if err := d.Rollback(ctx); err != nil {
		t.Fatalf("Failed to rollback: %v", err)
	}

	if v, _ := store.Committed("k"); v != "original" {
		t.Errorf("Expected original after rollback, got %q", v)
	}
}

func TestSavepointRollbackKeepsEarlierWrites(t *testing.T) {
	store := NewStore()
	d := store.Open()
	ctx := context.Background()

	if err := d.Begin(ctx); err != nil {
		t.Fatalf("Failed to begin: %v", err)
	}
	if _, err := d.Exec(ctx, "PUT", "a", "1"); err != nil {
		t.Fatalf("Failed to exec: %v", err)
	}
	if err := d.SavepointCreate(ctx, "sp1"); err != nil {
		t.Fatalf("Failed to create savepoint: %v", err)
	}
	if _, err := d.Exec(ctx, "PUT", "b", "2"); err != nil {
		t.Fatalf("Failed to exec: %v", err)
	}
	if err := d.SavepointRollback(ctx, "sp1"); err != nil {
		t.Fatalf("Failed to rollback to savepoint: %v", err)
	}
	if err := d.Commit(ctx); err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}

	if v, ok := store.Committed("a"); !ok || v != "1" {
		t.Errorf("Write before savepoint should survive, got %q %v", v, ok)
	}
	if _, ok := store.Committed("b"); ok {
		t.Error("Write after savepoint should be discarded")
	}
}

func TestSavepointReleaseMergesWrites(t *testing.T) {
	store := NewStore()
	d := store.Open()
	ctx := context.Background()

	if err := d.Begin(ctx); err != nil {
		t.Fatalf("Failed to begin: %v", err)
	}
	if err := d.SavepointCreate(ctx, "sp1"); err != nil {
		t.Fatalf("Failed to create savepoint: %v", err)
	}
	if _, err := d.Exec(ctx, "PUT", "k", "nested"); err != nil {
		t.Fatalf("Failed to exec: %v", err)
	}
	if err := d.SavepointRelease(ctx, "sp1"); err != nil {
		t.Fatalf("Failed to release savepoint: %v", err)
	}
	if err := d.Commit(ctx); err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}

	if v, _ := store.Committed("k"); v != "nested" {
		t.Errorf("Released savepoint write should commit, got %q", v)
	}
}

func TestFailBeforeHasNoEffect(t *testing.T) {
	store := NewStore()
	d := store.Open()
	ctx := context.Background()

	boom := errors.New("boom")
	d.FailNext("begin", FailBefore, boom)

	if err := d.Begin(ctx); !errors.Is(err, boom) {
		t.Fatalf("Expected scripted error, got %v", err)
	}
	if d.InTransaction() {
		t.Error("FailBefore begin should not open a transaction")
	}

	// Next begin succeeds
	if err := d.Begin(ctx); err != nil {
		t.Fatalf("Unscripted begin should succeed: %v", err)
	}
}

func TestFailAfterAppliesEffect(t *testing.T) {
	store := NewStore()
	d := store.Open()
	ctx := context.Background()

	boom := errors.New("boom")
	d.FailNext("begin", FailAfter, boom)

	if err := d.Begin(ctx); !errors.Is(err, boom) {
		t.Fatalf("Expected scripted error, got %v", err)
	}
	if !d.InTransaction() {
		t.Error("FailAfter begin should have opened the transaction server-side")
	}
}

func TestFailAfterCommitPersists(t *testing.T) {
	store := NewStore()
	d := store.Open()
	ctx := context.Background()

	if err := d.Begin(ctx); err != nil {
		t.Fatalf("Failed to begin: %v", err)
	}
	if _, err := d.Exec(ctx, "PUT", "k", "v"); err != nil {
		t.Fatalf("Failed to exec: %v", err)
	}

	boom := errors.New("boom")
	d.FailNext("commit", FailAfter, boom)

	if err := d.Commit(ctx); !errors.Is(err, boom) {
		t.Fatalf("Expected scripted error, got %v", err)
	}
	if v, _ := store.Committed("k"); v != "v" {
		t.Errorf("FailAfter commit should have persisted, got %q", v)
	}
}

func TestCloseIdempotent(t *testing.T) {
	store := NewStore()
	d := store.Open()
	ctx := context.Background()

	if err := d.Close(ctx); err != nil {
		t.Fatalf("First close failed: %v", err)
	}
	if err := d.Close(ctx); err != nil {
		t.Fatalf("Second close failed: %v", err)
	}
	if !d.Closed() {
		t.Error("Connection should be closed")
	}
}

func TestCloseDropsUncommittedState(t *testing.T) {
	store := NewStore()
	d := store.Open()
	ctx := context.Background()

	if err := d.Begin(ctx); err != nil {
		t.Fatalf("Failed to begin: %v", err)
	}
	if _, err := d.Exec(ctx, "PUT", "k", "lost"); err != nil {
		t.Fatalf("Failed to exec: %v", err)
	}
	if err := d.Close(ctx); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}

	if _, ok := store.Committed("k"); ok {
		t.Error("Uncommitted writes must not survive a close")
	}
}

func TestCanceledContextRejected(t *testing.T) {
	store := NewStore()
	d := store.Open()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := d.Begin(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
