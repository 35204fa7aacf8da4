package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/agrosync/harvest/internal/model"
	"github.com/agrosync/harvest/internal/project"
	"github.com/agrosync/harvest/internal/store"
)

// setupOutbox creates a temporary store with an outbox on top.
func setupOutbox(t *testing.T) (*store.DB, *Outbox) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return db, New(db, project.New(nil), nil)
}

// TestEnqueue_ProjectsImmediately tests that a queued mutation's effect
// is visible in the store before any upload.
func TestEnqueue_ProjectsImmediately(t *testing.T) {
	db, ob := setupOutbox(t)
	ctx := context.Background()

	m, err := ob.Enqueue(ctx, model.MutationEnsureCrate, &model.EnsureCratePayload{Code: "042"})
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	if m.ID == 0 {
		t.Error("queued mutation has no id")
	}

	err = db.WithTx(ctx, func(tx *store.Tx) error {
		crate, err := store.GetEntity[model.Crate](tx, model.ColCrates, "local-crate-42")
		if err != nil {
			return err
		}
		if !crate.Pending {
			t.Error("placeholder not marked pending")
		}
		return nil
	})
	if err != nil {
		t.Errorf("placeholder not visible after enqueue: %v", err)
	}

	depth, err := ob.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth() failed: %v", err)
	}
	if depth != 1 {
		t.Errorf("depth = %d, want 1", depth)
	}
}

// TestEnqueue_UnknownTypeRejected tests the closed mutation type set.
func TestEnqueue_UnknownTypeRejected(t *testing.T) {
	_, ob := setupOutbox(t)

	_, err := ob.Enqueue(context.Background(), "rename-plot", map[string]string{"name": "x"})
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("err = %v, want ErrUnknownType", err)
	}
}

// TestEnqueue_FailedProjectionRollsBack tests that a payload the
// projector rejects leaves neither a queue entry nor store changes.
func TestEnqueue_FailedProjectionRollsBack(t *testing.T) {
	db, ob := setupOutbox(t)
	ctx := context.Background()

	// Missing PickKey fails projection-time validation.
	_, err := ob.Enqueue(ctx, model.MutationCreatePick, &model.CreatePickPayload{
		PlotID: 7, CrateCode: "42", CreatedAt: time.Now(),
	})
	if err == nil {
		t.Fatal("Enqueue() succeeded with invalid payload")
	}

	depth, err := ob.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth() failed: %v", err)
	}
	if depth != 0 {
		t.Errorf("depth = %d, want 0 after rollback", depth)
	}

	err = db.WithTx(ctx, func(tx *store.Tx) error {
		n, err := tx.Count(model.ColPicks)
		if err != nil {
			return err
		}
		if n != 0 {
			t.Errorf("pick count = %d, want 0 after rollback", n)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

// TestList_OldestFirst tests queue ordering.
func TestList_OldestFirst(t *testing.T) {
	_, ob := setupOutbox(t)
	ctx := context.Background()

	for _, code := range []string{"1", "2", "3"} {
		if _, err := ob.Enqueue(ctx, model.MutationEnsureCrate, &model.EnsureCratePayload{Code: code}); err != nil {
			t.Fatalf("Enqueue(%s) failed: %v", code, err)
		}
	}

	muts, err := ob.List(ctx)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(muts) != 3 {
		t.Fatalf("len = %d, want 3", len(muts))
	}
	for i := 1; i < len(muts); i++ {
		if muts[i].ID <= muts[i-1].ID {
			t.Errorf("queue out of order: %d before %d", muts[i-1].ID, muts[i].ID)
		}
	}
}

// TestRemove_RetractsEffects tests that discarding a mutation removes
// both the queue entry and the placeholder it projected.
func TestRemove_RetractsEffects(t *testing.T) {
	db, ob := setupOutbox(t)
	ctx := context.Background()

	m, err := ob.Enqueue(ctx, model.MutationEnsureCrate, &model.EnsureCratePayload{Code: "42"})
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	if err := ob.Remove(ctx, m.ID); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}

	depth, _ := ob.Depth(ctx)
	if depth != 0 {
		t.Errorf("depth = %d, want 0", depth)
	}

	err = db.WithTx(ctx, func(tx *store.Tx) error {
		n, err := tx.Count(model.ColCrates)
		if err != nil {
			return err
		}
		if n != 0 {
			t.Errorf("crate placeholder survived discard")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

// TestRemove_Missing tests discarding an id that does not exist.
func TestRemove_Missing(t *testing.T) {
	_, ob := setupOutbox(t)

	err := ob.Remove(context.Background(), 12345)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want store.ErrNotFound", err)
	}
}
