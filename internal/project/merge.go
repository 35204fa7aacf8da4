package project

import (
	"strings"

	"github.com/agrosync/harvest/internal/model"
)

// Lookups carries the related records needed to rebuild a plot's
// denormalized display fields. Callers gather these from the store (or
// construct them directly in tests); the merge itself touches no
// storage.
type Lookups struct {
	// LinkTagIDs are the tag ids linked to the plot in the snapshot's
	// join table, in link order.
	LinkTagIDs []int64

	// TagsByID resolves tag ids to display names.
	TagsByID map[int64]string

	// Picks are the plot's current crate assignments (placeholders and
	// confirmed), in store order. Their embedded tag refs contribute to
	// the plot's tag list.
	Picks []*model.Pick

	// Landscape is a landscape reference contributed by a still-queued
	// pick mutation, or nil when none remains.
	Landscape *model.LandscapeRef
}

// MergeDenormalizedFields returns a copy of the plot with its
// denormalized tag list and landscape fields rebuilt from the given
// lookups.
//
// Tag order is deterministic: join-table tags first in link order, then
// tags carried by each pick in pick order. Duplicates are removed by
// canonical id, or by name for tags that only exist locally. A
// landscape set by the snapshot is never overridden; one merged from a
// queued pick is kept while such a pick remains and cleared otherwise.
func MergeDenormalizedFields(plot *model.Plot, lk Lookups) *model.Plot {
	merged := *plot

	var tags []model.TagRef
	seenID := make(map[int64]bool)
	seenName := make(map[string]bool)
	add := func(ref model.TagRef) {
		if ref.ID > 0 {
			if seenID[ref.ID] {
				return
			}
			seenID[ref.ID] = true
		} else {
			if ref.Name == "" || seenName[ref.Name] {
				return
			}
			seenName[ref.Name] = true
		}
		tags = append(tags, ref)
	}

	for _, id := range lk.LinkTagIDs {
		name, ok := lk.TagsByID[id]
		if !ok {
			continue
		}
		add(model.TagRef{ID: id, Name: name})
	}
	for _, pick := range lk.Picks {
		for _, ref := range pick.Tags {
			add(ref)
		}
	}
	merged.Tags = tags

	if merged.LandscapeLocal || merged.LandscapeID == 0 && merged.LandscapeName == "" {
		switch {
		case lk.Landscape != nil:
			merged.LandscapeID = lk.Landscape.ID
			merged.LandscapeName = lk.Landscape.Name
			merged.LandscapeLocal = true
		case merged.LandscapeLocal:
			merged.LandscapeID = 0
			merged.LandscapeName = ""
			merged.LandscapeLocal = false
		}
	}

	return &merged
}

// localSlug derives the deterministic token used in local stub keys for
// tags and landscapes, so re-applying the same payload after a snapshot
// rebuild recreates the same stub instead of a duplicate.
func localSlug(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
	}
	return b.String()
}

func localTagKey(name string) string {
	return "local-tag-" + localSlug(name)
}

func localLandscapeKey(name string) string {
	return "local-area-" + localSlug(name)
}
