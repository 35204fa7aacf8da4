// Package snapshot implements the snapshot downloader.
//
// A download replaces the local store's server-backed state with a
// fresh authoritative copy while preserving pending offline work: every
// server collection is cleared and repopulated, denormalized fields are
// rebuilt from the snapshot's join tables, and every still-queued
// mutation is re-applied on top — all within one store transaction, so
// a failed fetch or rebuild leaves the store exactly as before.
package snapshot

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/agrosync/harvest/internal/model"
	"github.com/agrosync/harvest/internal/project"
	"github.com/agrosync/harvest/internal/store"
)

// Fetcher fetches the authoritative dataset from the remote service.
type Fetcher interface {
	FetchSnapshot(ctx context.Context) (*model.Snapshot, error)
}

// Stats summarizes one completed download.
type Stats struct {
	Records  int           // server records written
	Replayed int           // queued mutations re-applied on top
	Duration time.Duration
}

// Downloader rebuilds the local store from remote snapshots.
type Downloader struct {
	db     *store.DB
	client Fetcher
	proj   *project.Projector
	logger *log.Logger
}

// New creates a Downloader. If logger is nil, a default logger writing
// to stderr is used.
func New(db *store.DB, client Fetcher, proj *project.Projector, logger *log.Logger) *Downloader {
	if logger == nil {
		logger = log.New(os.Stderr, "[snapshot] ", log.LstdFlags)
	}
	return &Downloader{db: db, client: client, proj: proj, logger: logger}
}

// Run fetches a snapshot and rebuilds the store. If the fetch fails,
// no transaction starts and the store is untouched.
func (d *Downloader) Run(ctx context.Context) (*Stats, error) {
	start := time.Now()

	snap, err := d.client.FetchSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{}
	err = d.db.WithTx(ctx, func(tx *store.Tx) error {
		for _, collection := range model.ServerCollections {
			if err := tx.ClearCollection(collection); err != nil {
				return err
			}
		}

		if err := d.rebuild(tx, snap, stats); err != nil {
			return err
		}

		// Re-apply the queue so local-only edits survive the rebuild.
		muts, err := tx.Mutations()
		if err != nil {
			return err
		}
		for _, m := range muts {
			if err := d.proj.Apply(tx, m); err != nil {
				return fmt.Errorf("failed to re-project mutation #%d: %w", m.ID, err)
			}
			stats.Replayed++
		}

		return tx.SetMeta(model.MetaLastSnapshotAt, time.Now().UTC().Format(time.RFC3339))
	})
	if err != nil {
		return nil, err
	}

	stats.Duration = time.Since(start)
	d.logger.Printf("Snapshot complete: records=%d, replayed=%d, took=%s",
		stats.Records, stats.Replayed, stats.Duration.Round(time.Millisecond))
	return stats, nil
}

// rebuild writes every snapshot collection with server provenance and
// denormalizes the plot-to-tag join table onto the plots.
func (d *Downloader) rebuild(tx *store.Tx, snap *model.Snapshot, stats *Stats) error {
	tagsByID := make(map[int64]string, len(snap.Tags))
	for i := range snap.Tags {
		tag := snap.Tags[i]
		tag.Key = model.ServerKey(tag.ID)
		tag.Provenance = model.ProvenanceServer
		tag.Pending = false
		if err := store.PutEntity(tx, model.ColTags, &tag); err != nil {
			return err
		}
		tagsByID[tag.ID] = tag.Name
		stats.Records++
	}

	landscapesByID := make(map[int64]string, len(snap.Landscapes))
	for i := range snap.Landscapes {
		l := snap.Landscapes[i]
		l.Key = model.ServerKey(l.ID)
		l.Provenance = model.ProvenanceServer
		l.Pending = false
		if err := store.PutEntity(tx, model.ColLandscapes, &l); err != nil {
			return err
		}
		landscapesByID[l.ID] = l.Name
		stats.Records++
	}

	linksByPlot := make(map[int64][]int64, len(snap.PlotTags))
	for i := range snap.PlotTags {
		link := snap.PlotTags[i]
		if err := store.PutEntity(tx, model.ColPlotTags, &link); err != nil {
			return err
		}
		linksByPlot[link.PlotID] = append(linksByPlot[link.PlotID], link.TagID)
		stats.Records++
	}

	for i := range snap.Plots {
		plot := snap.Plots[i]
		plot.Key = model.ServerKey(plot.ID)
		plot.Provenance = model.ProvenanceServer
		plot.Pending = false
		plot.LandscapeLocal = false
		if plot.LandscapeID > 0 && plot.LandscapeName == "" {
			plot.LandscapeName = landscapesByID[plot.LandscapeID]
		}
		merged := project.MergeDenormalizedFields(&plot, project.Lookups{
			LinkTagIDs: linksByPlot[plot.ID],
			TagsByID:   tagsByID,
		})
		if err := store.PutEntity(tx, model.ColPlots, merged); err != nil {
			return err
		}
		stats.Records++
	}

	for i := range snap.Trees {
		tree := snap.Trees[i]
		tree.Key = model.ServerKey(tree.ID)
		tree.Provenance = model.ProvenanceServer
		tree.Pending = false
		if err := store.PutEntity(tx, model.ColTrees, &tree); err != nil {
			return err
		}
		stats.Records++
	}

	for i := range snap.Crates {
		crate := snap.Crates[i]
		crate.Key = model.ServerKey(crate.ID)
		crate.Provenance = model.ProvenanceServer
		crate.Pending = false
		if err := store.PutEntity(tx, model.ColCrates, &crate); err != nil {
			return err
		}
		stats.Records++
	}

	for i := range snap.Picks {
		pick := snap.Picks[i]
		pick.Key = model.ServerKey(pick.ID)
		pick.PlotKey = model.ServerKey(pick.PlotID)
		pick.Provenance = model.ProvenanceServer
		pick.Pending = false
		if err := store.PutEntity(tx, model.ColPicks, &pick); err != nil {
			return err
		}
		stats.Records++
	}

	for i := range snap.ActivityTypes {
		typ := snap.ActivityTypes[i]
		typ.Key = model.ServerKey(typ.ID)
		typ.Provenance = model.ProvenanceServer
		typ.Pending = false
		if err := store.PutEntity(tx, model.ColActivityTypes, &typ); err != nil {
			return err
		}
		stats.Records++
	}

	for i := range snap.Activities {
		act := snap.Activities[i]
		act.Key = model.ServerKey(act.ID)
		act.PlotKey = model.ServerKey(act.PlotID)
		act.Provenance = model.ProvenanceServer
		act.Pending = false
		if err := store.PutEntity(tx, model.ColActivities, &act); err != nil {
			return err
		}
		stats.Records++
	}

	return nil
}
