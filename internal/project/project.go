// Package project implements the optimistic projector.
//
// The projector turns one queued mutation into visible local-store state
// so the UI reflects an edit before the remote service confirms it, and
// can undo exactly that effect later. Every mutation type has a
// symmetric apply/retract pair: applying a mutation and immediately
// retracting it leaves the store identical to before, which is what
// makes discard safe and lets the snapshot downloader re-apply the
// whole queue after a rebuild.
//
// Apply is idempotent. Placeholder keys are either carried in the
// payload (picks, activities) or derived deterministically from the
// payload (crates, tag and landscape stubs), so re-applying the same
// mutation never creates a duplicate.
package project

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/agrosync/harvest/internal/model"
	"github.com/agrosync/harvest/internal/refcode"
	"github.com/agrosync/harvest/internal/store"
)

// Projector applies and retracts mutations against a store transaction.
type Projector struct {
	logger *log.Logger
}

// New creates a Projector. If logger is nil, a default logger writing
// to stderr is used.
func New(logger *log.Logger) *Projector {
	if logger == nil {
		logger = log.New(os.Stderr, "[project] ", log.LstdFlags)
	}
	return &Projector{logger: logger}
}

// Apply projects one mutation's effect into the store within the
// caller's transaction.
func (p *Projector) Apply(tx *store.Tx, m *model.Mutation) error {
	payload, err := m.DecodePayload()
	if err != nil {
		return err
	}

	switch pl := payload.(type) {
	case *model.EnsureCratePayload:
		return p.applyEnsureCrate(tx, pl)
	case *model.CreatePickPayload:
		return p.applyCreatePick(tx, pl)
	case *model.CreateActivityPayload:
		return p.applyCreateActivity(tx, pl)
	default:
		return fmt.Errorf("unknown mutation type %q", m.Type)
	}
}

// Retract undoes the placeholder effects of one mutation within the
// caller's transaction. Effects already confirmed by a snapshot or the
// uploader are left alone: a retraction only ever deletes records whose
// provenance is still local.
//
// When retracting on behalf of a queue removal, the caller must delete
// the outbox row first so the recomputation below sees only the
// mutations that remain.
func (p *Projector) Retract(tx *store.Tx, m *model.Mutation) error {
	payload, err := m.DecodePayload()
	if err != nil {
		return err
	}

	switch pl := payload.(type) {
	case *model.EnsureCratePayload:
		return p.retractEnsureCrate(tx, pl)
	case *model.CreatePickPayload:
		return p.retractCreatePick(tx, pl)
	case *model.CreateActivityPayload:
		return p.retractCreateActivity(tx, pl)
	default:
		return fmt.Errorf("unknown mutation type %q", m.Type)
	}
}

func (p *Projector) applyEnsureCrate(tx *store.Tx, pl *model.EnsureCratePayload) error {
	if err := pl.Validate(); err != nil {
		return fmt.Errorf("invalid ensure-crate payload: %w", err)
	}

	existing, err := FindCrateByCode(tx, pl.Code)
	if err != nil {
		return err
	}
	if existing != nil {
		// Idempotent against duplicate enqueues and re-projection.
		return nil
	}

	crate := &model.Crate{
		Key:        "local-crate-" + refcode.Normalize(pl.Code),
		Code:       pl.Code,
		Provenance: model.ProvenanceLocal,
		Pending:    true,
	}
	return store.PutEntity(tx, model.ColCrates, crate)
}

func (p *Projector) retractEnsureCrate(tx *store.Tx, pl *model.EnsureCratePayload) error {
	crate, err := FindCrateByCode(tx, pl.Code)
	if err != nil {
		return err
	}
	if crate == nil || crate.Provenance != model.ProvenanceLocal {
		return nil
	}
	return tx.Delete(model.ColCrates, crate.Key)
}

func (p *Projector) applyCreatePick(tx *store.Tx, pl *model.CreatePickPayload) error {
	if err := pl.Validate(); err != nil {
		return fmt.Errorf("invalid create-pick payload: %w", err)
	}

	plot, err := getPlot(tx, pl.PlotID)
	if err != nil {
		return err
	}

	for _, ref := range pl.Tags {
		if err := ensureTagStub(tx, ref); err != nil {
			return err
		}
	}
	if pl.Landscape != nil {
		if err := ensureLandscapeStub(tx, *pl.Landscape); err != nil {
			return err
		}
	}

	pick := &model.Pick{
		Key:        pl.PickKey,
		CrateCode:  pl.CrateCode,
		PlotID:     pl.PlotID,
		PlotKey:    model.ServerKey(pl.PlotID),
		WeightKg:   pl.WeightKg,
		Reserved:   pl.Reserved,
		Notes:      pl.Notes,
		Tags:       pl.Tags,
		CreatedAt:  pl.CreatedAt,
		Provenance: model.ProvenanceLocal,
		Pending:    true,
	}
	if plot != nil {
		pick.PlotName = plot.Name
	}
	if err := store.PutEntity(tx, model.ColPicks, pick); err != nil {
		return err
	}

	if plot == nil {
		return nil
	}
	return p.RecomputePlot(tx, pick.PlotKey)
}

func (p *Projector) retractCreatePick(tx *store.Tx, pl *model.CreatePickPayload) error {
	pick, err := store.GetEntity[model.Pick](tx, model.ColPicks, pl.PickKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if pick.Provenance != model.ProvenanceLocal {
		return nil
	}

	if err := tx.Delete(model.ColPicks, pick.Key); err != nil {
		return err
	}
	if err := p.RecomputePlot(tx, pick.PlotKey); err != nil {
		return err
	}
	return p.CleanupLocalStubs(tx)
}

func (p *Projector) applyCreateActivity(tx *store.Tx, pl *model.CreateActivityPayload) error {
	if err := pl.Validate(); err != nil {
		return fmt.Errorf("invalid create-activity payload: %w", err)
	}

	act := &model.Activity{
		Key:          pl.ActivityKey,
		PlotID:       pl.PlotID,
		PlotKey:      model.ServerKey(pl.PlotID),
		TreeID:       pl.TreeID,
		TypeID:       pl.TypeID,
		TypeName:     pl.TypeName,
		TypeIcon:     pl.TypeIcon,
		StartedAt:    pl.StartedAt,
		DurationSecs: pl.DurationSecs,
		Notes:        pl.Notes,
		Provenance:   model.ProvenanceLocal,
		Pending:      true,
	}

	if act.TypeName == "" && pl.TypeID > 0 {
		typ, err := store.GetEntity[model.ActivityType](tx, model.ColActivityTypes, model.ServerKey(pl.TypeID))
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if typ != nil {
			act.TypeName = typ.Name
			act.TypeIcon = typ.Icon
		}
	}

	if plot, err := getPlot(tx, pl.PlotID); err != nil {
		return err
	} else if plot != nil {
		act.PlotName = plot.Name
	}

	if pl.TreeID > 0 {
		tree, err := store.GetEntity[model.Tree](tx, model.ColTrees, model.ServerKey(pl.TreeID))
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if tree != nil {
			act.TreeCode = tree.Code
		}
	}

	return store.PutEntity(tx, model.ColActivities, act)
}

func (p *Projector) retractCreateActivity(tx *store.Tx, pl *model.CreateActivityPayload) error {
	act, err := store.GetEntity[model.Activity](tx, model.ColActivities, pl.ActivityKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if act.Provenance != model.ProvenanceLocal {
		return nil
	}
	return tx.Delete(model.ColActivities, act.Key)
}

// RecomputePlot rebuilds one plot's denormalized tag and landscape
// fields from the join-table links, the plot's current picks, and any
// landscape reference still carried by a queued pick mutation.
func (p *Projector) RecomputePlot(tx *store.Tx, plotKey string) error {
	plot, err := store.GetEntity[model.Plot](tx, model.ColPlots, plotKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	links, err := store.EntitiesByIndex[model.PlotTagLink](tx, model.ColPlotTags, model.IndexPlot, plotKey)
	if err != nil {
		return err
	}
	linkIDs := make([]int64, 0, len(links))
	for _, l := range links {
		linkIDs = append(linkIDs, l.TagID)
	}

	allTags, err := store.AllEntities[model.Tag](tx, model.ColTags)
	if err != nil {
		return err
	}
	tagsByID := make(map[int64]string, len(allTags))
	for _, tag := range allTags {
		if tag.ID > 0 {
			tagsByID[tag.ID] = tag.Name
		}
	}

	picks, err := store.EntitiesByIndex[model.Pick](tx, model.ColPicks, model.IndexPlot, plotKey)
	if err != nil {
		return err
	}

	landscape, err := queuedLandscapeRef(tx, plot.ID)
	if err != nil {
		return err
	}

	merged := MergeDenormalizedFields(plot, Lookups{
		LinkTagIDs: linkIDs,
		TagsByID:   tagsByID,
		Picks:      picks,
		Landscape:  landscape,
	})
	return store.PutEntity(tx, model.ColPlots, merged)
}

// CleanupLocalStubs removes local tag and landscape stub entries no
// longer referenced by any pick, link, or plot. Confirmed records are
// never touched.
func (p *Projector) CleanupLocalStubs(tx *store.Tx) error {
	picks, err := store.AllEntities[model.Pick](tx, model.ColPicks)
	if err != nil {
		return err
	}
	links, err := store.AllEntities[model.PlotTagLink](tx, model.ColPlotTags)
	if err != nil {
		return err
	}
	plots, err := store.AllEntities[model.Plot](tx, model.ColPlots)
	if err != nil {
		return err
	}

	usedTagIDs := make(map[int64]bool)
	usedTagNames := make(map[string]bool)
	for _, pick := range picks {
		for _, ref := range pick.Tags {
			if ref.ID > 0 {
				usedTagIDs[ref.ID] = true
			} else {
				usedTagNames[ref.Name] = true
			}
		}
	}
	for _, l := range links {
		usedTagIDs[l.TagID] = true
	}

	tags, err := store.AllEntities[model.Tag](tx, model.ColTags)
	if err != nil {
		return err
	}
	for _, tag := range tags {
		if tag.Provenance != model.ProvenanceLocal || !tag.Pending {
			continue
		}
		if tag.ID > 0 && usedTagIDs[tag.ID] {
			continue
		}
		if tag.ID == 0 && usedTagNames[tag.Name] {
			continue
		}
		if err := tx.Delete(model.ColTags, tag.Key); err != nil {
			return err
		}
	}

	usedLandscapeIDs := make(map[int64]bool)
	usedLandscapeNames := make(map[string]bool)
	for _, plot := range plots {
		if plot.LandscapeID > 0 {
			usedLandscapeIDs[plot.LandscapeID] = true
		}
		if plot.LandscapeName != "" {
			usedLandscapeNames[plot.LandscapeName] = true
		}
	}

	landscapes, err := store.AllEntities[model.Landscape](tx, model.ColLandscapes)
	if err != nil {
		return err
	}
	for _, l := range landscapes {
		if l.Provenance != model.ProvenanceLocal || !l.Pending {
			continue
		}
		if l.ID > 0 && usedLandscapeIDs[l.ID] {
			continue
		}
		if l.ID == 0 && usedLandscapeNames[l.Name] {
			continue
		}
		if err := tx.Delete(model.ColLandscapes, l.Key); err != nil {
			return err
		}
	}

	return nil
}

// queuedLandscapeRef returns the landscape reference of the first
// still-queued create-pick mutation targeting the plot, if any.
func queuedLandscapeRef(tx *store.Tx, plotID int64) (*model.LandscapeRef, error) {
	muts, err := tx.Mutations()
	if err != nil {
		return nil, err
	}
	for _, m := range muts {
		if m.Type != model.MutationCreatePick {
			continue
		}
		payload, err := m.DecodePayload()
		if err != nil {
			return nil, err
		}
		pl := payload.(*model.CreatePickPayload)
		if pl.PlotID == plotID && pl.Landscape != nil {
			return pl.Landscape, nil
		}
	}
	return nil, nil
}

func ensureTagStub(tx *store.Tx, ref model.TagRef) error {
	key := localTagKey(ref.Name)
	if ref.ID > 0 {
		key = model.ServerKey(ref.ID)
	}

	_, err := store.GetEntity[model.Tag](tx, model.ColTags, key)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	stub := &model.Tag{
		ID:         ref.ID,
		Key:        key,
		Name:       ref.Name,
		Provenance: model.ProvenanceLocal,
		Pending:    true,
	}
	return store.PutEntity(tx, model.ColTags, stub)
}

func ensureLandscapeStub(tx *store.Tx, ref model.LandscapeRef) error {
	key := localLandscapeKey(ref.Name)
	if ref.ID > 0 {
		key = model.ServerKey(ref.ID)
	}

	_, err := store.GetEntity[model.Landscape](tx, model.ColLandscapes, key)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	stub := &model.Landscape{
		ID:         ref.ID,
		Key:        key,
		Name:       ref.Name,
		Provenance: model.ProvenanceLocal,
		Pending:    true,
	}
	return store.PutEntity(tx, model.ColLandscapes, stub)
}
