// Package upload implements the mutation uploader.
//
// An upload pass walks the outbox oldest first, translates each
// mutation into remote calls, and on success reconciles the local
// placeholder with the server-confirmed record and removes the
// mutation — placeholder deletion, confirmed write, and queue removal
// happen in one store transaction. One mutation's failure never stops
// later independent mutations, except authentication failures, which
// abort the pass immediately.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/agrosync/harvest/internal/model"
	"github.com/agrosync/harvest/internal/project"
	"github.com/agrosync/harvest/internal/refcode"
	"github.com/agrosync/harvest/internal/remote"
	"github.com/agrosync/harvest/internal/store"
)

// API is the remote surface the uploader consumes.
type API interface {
	ListCrates(ctx context.Context) ([]model.Crate, error)
	CreateCrate(ctx context.Context, code string) (*model.Crate, error)
	CreatePick(ctx context.Context, req remote.CreatePickRequest) (*model.Pick, error)
	CreateActivity(ctx context.Context, req remote.CreateActivityRequest) (*model.Activity, error)
}

// Failure describes one mutation that could not be uploaded in this
// pass. The mutation stays queued.
type Failure struct {
	MutationID int64
	Type       model.MutationType
	Reason     string
	Validation bool // remote rejected the payload, not the transport
}

// Result summarizes one upload pass.
type Result struct {
	Uploaded  int
	Failed    int
	Remaining int
	Aborted   bool // pass stopped early on an authentication failure
	Failures  []Failure
	Duration  time.Duration
}

// Uploader drains the outbox against the remote service.
type Uploader struct {
	db     *store.DB
	client API
	proj   *project.Projector
	logger *log.Logger
}

// New creates an Uploader. If logger is nil, a default logger writing
// to stderr is used.
func New(db *store.DB, client API, proj *project.Projector, logger *log.Logger) *Uploader {
	if logger == nil {
		logger = log.New(os.Stderr, "[upload] ", log.LstdFlags)
	}
	return &Uploader{db: db, client: client, proj: proj, logger: logger}
}

// crateCache caches human-code to server-crate resolutions for the
// duration of one pass, so two mutations referencing the same code
// confirm the crate exactly once.
type crateCache struct {
	loaded bool
	byCode map[string]*model.Crate // keyed by normalized code
}

// Run performs one upload pass. The returned error is non-nil only for
// pass-fatal conditions (authentication failure, local store failure);
// per-mutation errors are reported in the Result.
func (u *Uploader) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	result := &Result{}

	muts, err := u.listMutations(ctx)
	if err != nil {
		return nil, err
	}

	if code, ok, err := u.inflightCrate(ctx); err != nil {
		return nil, err
	} else if ok {
		// A previous pass may have died between "create crate" and queue
		// removal; the fresh list below reconciles it without creating a
		// duplicate.
		u.logger.Printf("Previous pass left crate %q in flight, reconciling", code)
	}

	cache := &crateCache{byCode: make(map[string]*model.Crate)}

	for _, m := range muts {
		err := u.process(ctx, m, cache)
		if err == nil {
			result.Uploaded++
			continue
		}

		var authErr *remote.AuthError
		if errors.As(err, &authErr) {
			u.logger.Printf("Aborting pass: %v", err)
			result.Aborted = true
			result.Remaining, _ = u.countMutations(ctx)
			result.Duration = time.Since(start)
			return result, err
		}

		var valErr *remote.ValidationError
		failure := Failure{
			MutationID: m.ID,
			Type:       m.Type,
			Reason:     err.Error(),
			Validation: errors.As(err, &valErr),
		}
		u.logger.Printf("Mutation #%d (%s) failed: %v", m.ID, m.Type, err)
		result.Failed++
		result.Failures = append(result.Failures, failure)
	}

	result.Remaining, err = u.countMutations(ctx)
	if err != nil {
		return nil, err
	}
	result.Duration = time.Since(start)

	u.logger.Printf("Upload pass complete: uploaded=%d, failed=%d, remaining=%d",
		result.Uploaded, result.Failed, result.Remaining)
	return result, nil
}

func (u *Uploader) process(ctx context.Context, m *model.Mutation, cache *crateCache) error {
	payload, err := m.DecodePayload()
	if err != nil {
		return err
	}

	switch pl := payload.(type) {
	case *model.EnsureCratePayload:
		return u.uploadEnsureCrate(ctx, m, pl, cache)
	case *model.CreatePickPayload:
		return u.uploadCreatePick(ctx, m, pl, cache)
	case *model.CreateActivityPayload:
		return u.uploadCreateActivity(ctx, m, pl)
	default:
		return fmt.Errorf("unknown mutation type %q", m.Type)
	}
}

// ensureCrate resolves a human code to a server-confirmed crate,
// creating it remotely only when the full crate list doesn't know it.
func (u *Uploader) ensureCrate(ctx context.Context, code string, cache *crateCache) (*model.Crate, error) {
	norm := normCode(code)
	if crate, ok := cache.byCode[norm]; ok {
		return crate, nil
	}

	if !cache.loaded {
		crates, err := u.client.ListCrates(ctx)
		if err != nil {
			return nil, err
		}
		for i := range crates {
			crate := crates[i]
			cache.byCode[normCode(crate.Code)] = &crate
		}
		cache.loaded = true

		if crate, ok := cache.byCode[norm]; ok {
			return crate, nil
		}
	}

	// Unknown remotely: create it. The in-flight marker lets a pass
	// interrupted after this call reconcile on retry instead of
	// creating a duplicate.
	if err := u.setInflightCrate(ctx, code); err != nil {
		return nil, err
	}
	crate, err := u.client.CreateCrate(ctx, code)
	if err != nil {
		return nil, err
	}
	cache.byCode[norm] = crate
	return crate, nil
}

func (u *Uploader) uploadEnsureCrate(ctx context.Context, m *model.Mutation, pl *model.EnsureCratePayload, cache *crateCache) error {
	crate, err := u.ensureCrate(ctx, pl.Code, cache)
	if err != nil {
		return err
	}

	return u.db.WithTx(ctx, func(tx *store.Tx) error {
		if err := confirmCrate(tx, crate); err != nil {
			return err
		}
		if err := tx.DeleteMeta(model.MetaInflightCrateCode); err != nil {
			return err
		}
		return tx.DeleteMutation(m.ID)
	})
}

func (u *Uploader) uploadCreatePick(ctx context.Context, m *model.Mutation, pl *model.CreatePickPayload, cache *crateCache) error {
	// A pick may depend on a crate not yet confirmed; resolve it through
	// the same ensure path so the shared code confirms exactly once.
	crate, err := u.ensureCrate(ctx, pl.CrateCode, cache)
	if err != nil {
		return err
	}

	var tagIDs []int64
	for _, ref := range pl.Tags {
		if ref.ID > 0 {
			tagIDs = append(tagIDs, ref.ID)
		}
	}

	pick, err := u.client.CreatePick(ctx, remote.CreatePickRequest{
		CrateID:  crate.ID,
		PlotID:   pl.PlotID,
		WeightKg: pl.WeightKg,
		Reserved: pl.Reserved,
		Notes:    pl.Notes,
		TagIDs:   tagIDs,
	})
	if err != nil {
		return err
	}

	return u.db.WithTx(ctx, func(tx *store.Tx) error {
		if err := confirmCrate(tx, crate); err != nil {
			return err
		}
		if err := tx.DeleteMeta(model.MetaInflightCrateCode); err != nil {
			return err
		}

		// Replace the placeholder with the server-confirmed record.
		if err := tx.Delete(model.ColPicks, pl.PickKey); err != nil {
			return err
		}
		pick.Key = model.ServerKey(pick.ID)
		pick.PlotKey = model.ServerKey(pick.PlotID)
		pick.Provenance = model.ProvenanceServer
		pick.Pending = false
		if err := store.PutEntity(tx, model.ColPicks, pick); err != nil {
			return err
		}

		if err := tx.DeleteMutation(m.ID); err != nil {
			return err
		}
		return u.proj.RecomputePlot(tx, pick.PlotKey)
	})
}

func (u *Uploader) uploadCreateActivity(ctx context.Context, m *model.Mutation, pl *model.CreateActivityPayload) error {
	act, err := u.client.CreateActivity(ctx, remote.CreateActivityRequest{
		PlotID:       pl.PlotID,
		TreeID:       pl.TreeID,
		TypeID:       pl.TypeID,
		StartedAt:    pl.StartedAt,
		DurationSecs: pl.DurationSecs,
		Notes:        pl.Notes,
	})
	if err != nil {
		return err
	}

	return u.db.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.Delete(model.ColActivities, pl.ActivityKey); err != nil {
			return err
		}
		act.Key = model.ServerKey(act.ID)
		act.PlotKey = model.ServerKey(act.PlotID)
		act.Provenance = model.ProvenanceServer
		act.Pending = false
		if err := store.PutEntity(tx, model.ColActivities, act); err != nil {
			return err
		}
		return tx.DeleteMutation(m.ID)
	})
}

// confirmCrate replaces any local placeholder matching the crate's code
// with the server-confirmed record.
func confirmCrate(tx *store.Tx, crate *model.Crate) error {
	local, err := project.FindCrateByCode(tx, crate.Code)
	if err != nil {
		return err
	}
	serverKey := model.ServerKey(crate.ID)
	if local != nil && local.Key != serverKey {
		if err := tx.Delete(model.ColCrates, local.Key); err != nil {
			return err
		}
	}

	confirmed := *crate
	confirmed.Key = serverKey
	confirmed.Provenance = model.ProvenanceServer
	confirmed.Pending = false
	return store.PutEntity(tx, model.ColCrates, &confirmed)
}

func (u *Uploader) listMutations(ctx context.Context) ([]*model.Mutation, error) {
	var muts []*model.Mutation
	err := u.db.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		muts, err = tx.Mutations()
		return err
	})
	if err != nil {
		return nil, err
	}
	return muts, nil
}

func (u *Uploader) countMutations(ctx context.Context) (int, error) {
	var n int
	err := u.db.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		n, err = tx.CountMutations()
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// normCode is the pass-cache key for a human-entered crate code.
func normCode(code string) string {
	return refcode.Normalize(code)
}

func (u *Uploader) inflightCrate(ctx context.Context) (string, bool, error) {
	var code string
	err := u.db.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		code, err = tx.GetMeta(model.MetaInflightCrateCode)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return code, true, nil
}

func (u *Uploader) setInflightCrate(ctx context.Context, code string) error {
	return u.db.WithTx(ctx, func(tx *store.Tx) error {
		return tx.SetMeta(model.MetaInflightCrateCode, code)
	})
}
