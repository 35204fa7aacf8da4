package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/agrosync/harvest/internal/model"
)

// setupTestDB creates a temporary store with schema initialized.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return db
}

// TestInitSchema_Idempotent tests that schema initialization is safe to
// repeat without destroying existing records.
func TestInitSchema_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	err := db.WithTx(ctx, func(tx *Tx) error {
		return tx.Put("crates", "srv-1", []byte(`{"id":1}`), nil)
	})
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if err := db.InitSchema(ctx); err != nil {
		t.Fatalf("Second InitSchema() failed: %v", err)
	}

	err = db.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.Get("crates", "srv-1"); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		t.Errorf("record lost after schema re-init: %v", err)
	}
}

// TestPutGet_Roundtrip tests basic keyed access.
func TestPutGet_Roundtrip(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	err := db.WithTx(ctx, func(tx *Tx) error {
		if err := tx.Put("crates", "srv-7", []byte(`{"id":7,"code":"00007"}`), nil); err != nil {
			return err
		}
		body, err := tx.Get("crates", "srv-7")
		if err != nil {
			return err
		}
		if string(body) != `{"id":7,"code":"00007"}` {
			t.Errorf("body = %s, want original", body)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx failed: %v", err)
	}
}

// TestGet_NotFound tests the missing-record sentinel.
func TestGet_NotFound(t *testing.T) {
	db := setupTestDB(t)

	err := db.WithTx(context.Background(), func(tx *Tx) error {
		_, err := tx.Get("crates", "srv-404")
		return err
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get on missing key = %v, want ErrNotFound", err)
	}
}

// TestGetByIndex tests secondary index maintenance, including rewrite
// on Put and removal on Delete.
func TestGetByIndex(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	err := db.WithTx(ctx, func(tx *Tx) error {
		if err := tx.Put("crates", "srv-1", []byte(`{"code":"A"}`), map[string]string{"code": "A"}); err != nil {
			return err
		}
		if err := tx.Put("crates", "srv-2", []byte(`{"code":"A"}`), map[string]string{"code": "A"}); err != nil {
			return err
		}

		recs, err := tx.GetByIndex("crates", "code", "A")
		if err != nil {
			return err
		}
		if len(recs) != 2 {
			t.Fatalf("GetByIndex returned %d records, want 2", len(recs))
		}

		// Re-put srv-2 under a new code; the old index entry must go away.
		if err := tx.Put("crates", "srv-2", []byte(`{"code":"B"}`), map[string]string{"code": "B"}); err != nil {
			return err
		}
		recs, err = tx.GetByIndex("crates", "code", "A")
		if err != nil {
			return err
		}
		if len(recs) != 1 || recs[0].Key != "srv-1" {
			t.Fatalf("after reindex GetByIndex = %v, want only srv-1", recs)
		}

		// Delete removes index entries too.
		if err := tx.Delete("crates", "srv-1"); err != nil {
			return err
		}
		recs, err = tx.GetByIndex("crates", "code", "A")
		if err != nil {
			return err
		}
		if len(recs) != 0 {
			t.Fatalf("after delete GetByIndex = %v, want empty", recs)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx failed: %v", err)
	}
}

// TestWithTx_RollbackOnError tests that a failed transaction leaves no
// partial state visible.
func TestWithTx_RollbackOnError(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	wantErr := fmt.Errorf("boom")
	err := db.WithTx(ctx, func(tx *Tx) error {
		if err := tx.Put("crates", "srv-1", []byte(`{}`), nil); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("WithTx = %v, want wrapped boom", err)
	}

	err = db.WithTx(ctx, func(tx *Tx) error {
		_, err := tx.Get("crates", "srv-1")
		return err
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("record visible after rollback: %v", err)
	}
}

// TestClearAll tests that reset wipes records, indexes, outbox, and
// metadata.
func TestClearAll(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	err := db.WithTx(ctx, func(tx *Tx) error {
		if err := tx.Put("plots", "srv-1", []byte(`{}`), map[string]string{"code": "X"}); err != nil {
			return err
		}
		if err := tx.SetMeta("last_snapshot_at", "2026-01-01T00:00:00Z"); err != nil {
			return err
		}
		_, err := tx.AppendMutation(model.MutationEnsureCrate, []byte(`{"code":"1"}`), time.Now())
		return err
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if err := db.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll() failed: %v", err)
	}

	err = db.WithTx(ctx, func(tx *Tx) error {
		if n, err := tx.Count("plots"); err != nil || n != 0 {
			t.Errorf("plots count = %d (%v), want 0", n, err)
		}
		if n, err := tx.CountMutations(); err != nil || n != 0 {
			t.Errorf("outbox count = %d (%v), want 0", n, err)
		}
		if _, err := tx.GetMeta("last_snapshot_at"); !errors.Is(err, ErrNotFound) {
			t.Errorf("meta survived ClearAll: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
}

// TestMutations_Ordering tests FIFO ordering by created_at with queue id
// as tie-break.
func TestMutations_Ordering(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	err := db.WithTx(ctx, func(tx *Tx) error {
		// Same timestamp on purpose: id breaks the tie.
		if _, err := tx.AppendMutation(model.MutationEnsureCrate, []byte(`{"code":"1"}`), base); err != nil {
			return err
		}
		if _, err := tx.AppendMutation(model.MutationEnsureCrate, []byte(`{"code":"2"}`), base); err != nil {
			return err
		}
		_, err := tx.AppendMutation(model.MutationEnsureCrate, []byte(`{"code":"0"}`), base.Add(-time.Minute))
		return err
	})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}

	err = db.WithTx(ctx, func(tx *Tx) error {
		muts, err := tx.Mutations()
		if err != nil {
			return err
		}
		if len(muts) != 3 {
			t.Fatalf("got %d mutations, want 3", len(muts))
		}
		var codes []string
		for _, m := range muts {
			codes = append(codes, string(m.Payload))
		}
		if codes[0] != `{"code":"0"}` || codes[1] != `{"code":"1"}` || codes[2] != `{"code":"2"}` {
			t.Errorf("order = %v, want oldest first with id tie-break", codes)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
}

// TestEntityHelpers tests the typed put/get layer.
func TestEntityHelpers(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	crate := &model.Crate{
		ID:         9,
		Key:        model.ServerKey(9),
		Code:       "00009",
		Provenance: model.ProvenanceServer,
	}

	err := db.WithTx(ctx, func(tx *Tx) error {
		if err := PutEntity(tx, model.ColCrates, crate); err != nil {
			return err
		}

		got, err := GetEntity[model.Crate](tx, model.ColCrates, "srv-9")
		if err != nil {
			return err
		}
		if got.Code != "00009" || got.Provenance != model.ProvenanceServer {
			t.Errorf("GetEntity = %+v, want stored crate", got)
		}

		// Indexed on both literal and normalized code.
		byNorm, err := EntitiesByIndex[model.Crate](tx, model.ColCrates, model.IndexNormCode, "9")
		if err != nil {
			return err
		}
		if len(byNorm) != 1 || byNorm[0].ID != 9 {
			t.Errorf("EntitiesByIndex(norm_code, 9) = %v, want crate 9", byNorm)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx failed: %v", err)
	}
}
