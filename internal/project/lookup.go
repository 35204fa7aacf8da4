package project

import (
	"errors"
	"fmt"

	"github.com/agrosync/harvest/internal/model"
	"github.com/agrosync/harvest/internal/refcode"
	"github.com/agrosync/harvest/internal/store"
)

// FindCrateByCode resolves a human-entered crate code against the local
// store using the shared reference-matching scheme: each candidate form
// of the code is tried against the code index, then the normalized-code
// index, and finally a full-collection scan compares zero-stripped
// codes. Returns (nil, nil) when no crate matches.
func FindCrateByCode(tx *store.Tx, code string) (*model.Crate, error) {
	for _, candidate := range refcode.Candidates(code) {
		crates, err := store.EntitiesByIndex[model.Crate](tx, model.ColCrates, model.IndexCode, candidate)
		if err != nil {
			return nil, fmt.Errorf("failed to look up crate by code %q: %w", candidate, err)
		}
		if len(crates) > 0 {
			return crates[0], nil
		}
	}

	if norm := refcode.Normalize(code); norm != "" {
		crates, err := store.EntitiesByIndex[model.Crate](tx, model.ColCrates, model.IndexNormCode, norm)
		if err != nil {
			return nil, fmt.Errorf("failed to look up crate by normalized code %q: %w", norm, err)
		}
		if len(crates) > 0 {
			return crates[0], nil
		}
	}

	// Fallback scan for codes the indexes cannot serve.
	crates, err := store.AllEntities[model.Crate](tx, model.ColCrates)
	if err != nil {
		return nil, fmt.Errorf("failed to scan crates: %w", err)
	}
	for _, crate := range crates {
		if refcode.Equal(crate.Code, code) {
			return crate, nil
		}
	}
	return nil, nil
}

func getPlot(tx *store.Tx, plotID int64) (*model.Plot, error) {
	plot, err := store.GetEntity[model.Plot](tx, model.ColPlots, model.ServerKey(plotID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return plot, nil
}
