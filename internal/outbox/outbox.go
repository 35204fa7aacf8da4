// Package outbox provides the durable queue of unconfirmed mutations.
//
// Enqueueing a mutation persists it and projects its optimistic effect
// in one store transaction, so the caller's next read sees the change
// before any network round trip. Removing a mutation retracts exactly
// the placeholder effects it produced, unless a snapshot or the
// uploader has confirmed them in the meantime.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/agrosync/harvest/internal/model"
	"github.com/agrosync/harvest/internal/project"
	"github.com/agrosync/harvest/internal/store"
)

// ErrUnknownType is returned when enqueueing a mutation type outside
// the closed set.
var ErrUnknownType = errors.New("outbox: unknown mutation type")

// Outbox layers queue semantics over the store's outbox table.
type Outbox struct {
	db     *store.DB
	proj   *project.Projector
	logger *log.Logger
}

// New creates an Outbox. If logger is nil, a default logger writing to
// stderr is used.
func New(db *store.DB, proj *project.Projector, logger *log.Logger) *Outbox {
	if logger == nil {
		logger = log.New(os.Stderr, "[outbox] ", log.LstdFlags)
	}
	return &Outbox{db: db, proj: proj, logger: logger}
}

// Enqueue appends a mutation to the queue and synchronously projects
// its placeholder effect. Queuing and projection are one atomic
// transaction: if projection fails, the queue entry does not land.
func (o *Outbox) Enqueue(ctx context.Context, typ model.MutationType, payload any) (*model.Mutation, error) {
	switch typ {
	case model.MutationEnsureCrate, model.MutationCreatePick, model.MutationCreateActivity:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", typ, err)
	}

	var queued *model.Mutation
	err = o.db.WithTx(ctx, func(tx *store.Tx) error {
		m, err := tx.AppendMutation(typ, raw, time.Now())
		if err != nil {
			return err
		}
		if err := o.proj.Apply(tx, m); err != nil {
			return err
		}
		queued = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	o.logger.Printf("Queued %s mutation #%d", queued.Type, queued.ID)
	return queued, nil
}

// List returns all queued mutations, oldest first.
func (o *Outbox) List(ctx context.Context) ([]*model.Mutation, error) {
	var muts []*model.Mutation
	err := o.db.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		muts, err = tx.Mutations()
		return err
	})
	if err != nil {
		return nil, err
	}
	return muts, nil
}

// Depth returns the number of queued mutations.
func (o *Outbox) Depth(ctx context.Context) (int, error) {
	var n int
	err := o.db.WithTx(ctx, func(tx *store.Tx) error {
		var err error
		n, err = tx.CountMutations()
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Remove discards a queued mutation and retracts its placeholder
// effects in the same transaction. Effects already confirmed by a
// snapshot or upload pass are left alone. Returns store.ErrNotFound if
// the mutation does not exist.
func (o *Outbox) Remove(ctx context.Context, id int64) error {
	err := o.db.WithTx(ctx, func(tx *store.Tx) error {
		m, err := tx.GetMutation(id)
		if err != nil {
			return err
		}
		// Delete the queue entry first so retraction recomputes
		// denormalized fields against what remains.
		if err := tx.DeleteMutation(id); err != nil {
			return err
		}
		return o.proj.Retract(tx, m)
	})
	if err != nil {
		return err
	}

	o.logger.Printf("Discarded mutation #%d", id)
	return nil
}
