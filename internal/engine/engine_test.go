package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agrosync/harvest/internal/model"
	"github.com/agrosync/harvest/internal/outbox"
	"github.com/agrosync/harvest/internal/project"
	"github.com/agrosync/harvest/internal/remote"
	"github.com/agrosync/harvest/internal/snapshot"
	"github.com/agrosync/harvest/internal/store"
	"github.com/agrosync/harvest/internal/upload"
)

// fakeRemote plays the remote service with in-memory server state, so a
// cycle's upload results show up in the snapshot that follows.
type fakeRemote struct {
	plots  []model.Plot
	crates []model.Crate
	picks  []model.Pick
	nextID int64

	authBroken bool
	fetchCalls int
}

func (f *fakeRemote) FetchSnapshot(ctx context.Context) (*model.Snapshot, error) {
	f.fetchCalls++
	if f.authBroken {
		return nil, &remote.AuthError{Status: 401}
	}
	return &model.Snapshot{
		Plots:  append([]model.Plot(nil), f.plots...),
		Crates: append([]model.Crate(nil), f.crates...),
		Picks:  append([]model.Pick(nil), f.picks...),
	}, nil
}

func (f *fakeRemote) ListCrates(ctx context.Context) ([]model.Crate, error) {
	if f.authBroken {
		return nil, &remote.AuthError{Status: 401}
	}
	return f.crates, nil
}

func (f *fakeRemote) CreateCrate(ctx context.Context, code string) (*model.Crate, error) {
	if f.authBroken {
		return nil, &remote.AuthError{Status: 401}
	}
	f.nextID++
	crate := model.Crate{ID: f.nextID, Code: code}
	f.crates = append(f.crates, crate)
	return &crate, nil
}

func (f *fakeRemote) CreatePick(ctx context.Context, req remote.CreatePickRequest) (*model.Pick, error) {
	if f.authBroken {
		return nil, &remote.AuthError{Status: 401}
	}
	f.nextID++
	pick := model.Pick{
		ID:       f.nextID,
		CrateID:  req.CrateID,
		PlotID:   req.PlotID,
		WeightKg: req.WeightKg,
	}
	f.picks = append(f.picks, pick)
	return &pick, nil
}

func (f *fakeRemote) CreateActivity(ctx context.Context, req remote.CreateActivityRequest) (*model.Activity, error) {
	f.nextID++
	return &model.Activity{ID: f.nextID, PlotID: req.PlotID, TypeID: req.TypeID, StartedAt: req.StartedAt}, nil
}

// recordingSink captures engine events.
type recordingSink struct {
	started   int
	completed []error
}

func (s *recordingSink) SyncStarted() { s.started++ }

func (s *recordingSink) SyncCompleted(result SyncResult, err error) {
	s.completed = append(s.completed, err)
}

func setupEngine(t *testing.T, rem *fakeRemote, sink EventSink) (*store.DB, *outbox.Outbox, *Engine) {
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

	proj := project.New(nil)
	ob := outbox.New(db, proj, nil)
	eng := New(upload.New(db, rem, proj, nil), snapshot.New(db, rem, proj, nil), nil, sink, nil)
	return db, ob, eng
}

// TestRunSync_FullCycle walks the whole offline-to-online story: work
// queued offline uploads, the follow-up snapshot reflects it, and no
// placeholder or duplicate survives.
func TestRunSync_FullCycle(t *testing.T) {
	rem := &fakeRemote{plots: []model.Plot{{ID: 7, Name: "North"}}}
	sink := &recordingSink{}
	db, ob, eng := setupEngine(t, rem, sink)
	ctx := context.Background()

	// Offline: operator enters crate PAL-9 and assigns it to plot 7.
	if _, err := ob.Enqueue(ctx, model.MutationEnsureCrate, &model.EnsureCratePayload{Code: "PAL-9"}); err != nil {
		t.Fatal(err)
	}
	pickPayload := &model.CreatePickPayload{
		PickKey: model.NewLocalKey(), PlotID: 7, CrateCode: "PAL-9",
		WeightKg: 18.2, CreatedAt: time.Now(),
	}
	if _, err := ob.Enqueue(ctx, model.MutationCreatePick, pickPayload); err != nil {
		t.Fatal(err)
	}

	result, err := eng.RunSync(ctx)
	if err != nil {
		t.Fatalf("RunSync() failed: %v", err)
	}
	if result.Uploaded != 2 || result.Remaining != 0 {
		t.Errorf("result = %+v, want 2 uploaded, 0 remaining", result)
	}
	if result.Replayed != 0 {
		t.Errorf("replayed = %d, want 0 after full drain", result.Replayed)
	}

	if sink.started != 1 || len(sink.completed) != 1 || sink.completed[0] != nil {
		t.Errorf("events = started %d, completed %v", sink.started, sink.completed)
	}

	err = db.WithTx(ctx, func(tx *store.Tx) error {
		crates, err := store.AllEntities[model.Crate](tx, model.ColCrates)
		if err != nil {
			return err
		}
		if len(crates) != 1 {
			t.Fatalf("crate count = %d, want 1 (no duplicate after snapshot)", len(crates))
		}
		if crates[0].Code != "PAL-9" || crates[0].Provenance != model.ProvenanceServer {
			t.Errorf("crate = %+v", crates[0])
		}

		picks, err := store.AllEntities[model.Pick](tx, model.ColPicks)
		if err != nil {
			return err
		}
		if len(picks) != 1 {
			t.Fatalf("pick count = %d, want 1", len(picks))
		}
		if picks[0].Provenance != model.ProvenanceServer || picks[0].Pending {
			t.Errorf("pick = %+v", picks[0])
		}
		if strings.HasPrefix(picks[0].Key, "local-") {
			t.Errorf("pick key %q still local", picks[0].Key)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	depth, err := ob.Depth(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if depth != 0 {
		t.Errorf("queue depth = %d, want 0", depth)
	}
}

// TestRunSync_AuthFailureSkipsDownload tests that a pass-fatal upload
// error short-circuits the cycle and still reports a result.
func TestRunSync_AuthFailureSkipsDownload(t *testing.T) {
	rem := &fakeRemote{authBroken: true}
	sink := &recordingSink{}
	_, ob, eng := setupEngine(t, rem, sink)
	ctx := context.Background()

	if _, err := ob.Enqueue(ctx, model.MutationEnsureCrate, &model.EnsureCratePayload{Code: "1"}); err != nil {
		t.Fatal(err)
	}

	result, err := eng.RunSync(ctx)
	if err == nil {
		t.Fatal("RunSync() succeeded despite auth failure")
	}
	var authErr *remote.AuthError
	if !errors.As(err, &authErr) {
		t.Errorf("err = %v, want AuthError", err)
	}
	if result == nil || !result.Aborted {
		t.Errorf("result = %+v, want aborted", result)
	}
	if rem.fetchCalls != 0 {
		t.Errorf("snapshot fetched %d times after aborted upload, want 0", rem.fetchCalls)
	}
	if len(sink.completed) != 1 || sink.completed[0] == nil {
		t.Errorf("completion event missing the error: %v", sink.completed)
	}

	depth, err := ob.Depth(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if depth != 1 {
		t.Errorf("queue depth = %d, want 1 (nothing lost)", depth)
	}
}

// TestRunSync_OfflineKeepsStoreUsable tests that a transport failure
// leaves queued work and local reads intact.
func TestRunSync_OfflineKeepsStoreUsable(t *testing.T) {
	rem := &fakeRemote{}
	db, ob, eng := setupEngine(t, rem, nil)
	ctx := context.Background()

	if _, err := ob.Enqueue(ctx, model.MutationEnsureCrate, &model.EnsureCratePayload{Code: "42"}); err != nil {
		t.Fatal(err)
	}

	// Simulate a dead network for the snapshot leg only: the upload leg
	// sees an empty crate list and creates the crate, then the fetch
	// fails.
	brokenFetch := &fetchFails{fakeRemote: rem}
	proj := project.New(nil)
	eng = New(upload.New(db, rem, proj, nil), snapshot.New(db, brokenFetch, proj, nil), nil, nil, nil)

	result, err := eng.RunSync(ctx)
	if err == nil {
		t.Fatal("RunSync() succeeded despite fetch failure")
	}
	if result.Uploaded != 1 {
		t.Errorf("uploaded = %d, want 1 (upload leg completed)", result.Uploaded)
	}

	// The confirmed crate from the upload leg is still readable.
	err = db.WithTx(ctx, func(tx *store.Tx) error {
		if _, err := store.GetEntity[model.Crate](tx, model.ColCrates, "srv-1"); err != nil {
			t.Errorf("confirmed crate unreadable after failed cycle: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

// fetchFails fails every snapshot fetch while delegating nothing else.
type fetchFails struct {
	*fakeRemote
}

func (f *fetchFails) FetchSnapshot(ctx context.Context) (*model.Snapshot, error) {
	return nil, errors.New("connection refused")
}
