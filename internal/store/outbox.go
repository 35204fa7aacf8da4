package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/agrosync/harvest/internal/model"
)

// Outbox row persistence. The outbox package layers enqueue/discard
// semantics (atomic projection, retraction) on top of these primitives;
// the uploader and snapshot downloader use them directly inside their
// own transactions.

// AppendMutation persists a new outbox entry and returns it with the
// assigned queue id.
func (tx *Tx) AppendMutation(typ model.MutationType, payload []byte, createdAt time.Time) (*model.Mutation, error) {
	res, err := tx.tx.ExecContext(tx.ctx,
		`INSERT INTO outbox (type, payload, status, created_at) VALUES (?, ?, ?, ?)`,
		string(typ), string(payload), model.MutationStatusPending, createdAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("failed to append mutation: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read mutation id: %w", err)
	}

	return &model.Mutation{
		ID:        id,
		Type:      typ,
		Payload:   payload,
		Status:    model.MutationStatusPending,
		CreatedAt: createdAt.UTC(),
	}, nil
}

// Mutations returns every outbox entry ordered by creation time
// ascending, queue id as tie-break.
func (tx *Tx) Mutations() ([]*model.Mutation, error) {
	rows, err := tx.tx.QueryContext(tx.ctx,
		`SELECT id, type, payload, status, created_at
		 FROM outbox ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list mutations: %w", err)
	}
	defer rows.Close()

	var out []*model.Mutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mutations: %w", err)
	}
	return out, nil
}

// GetMutation retrieves one outbox entry by queue id. Returns
// ErrNotFound if it does not exist.
func (tx *Tx) GetMutation(id int64) (*model.Mutation, error) {
	row := tx.tx.QueryRowContext(tx.ctx,
		`SELECT id, type, payload, status, created_at FROM outbox WHERE id = ?`, id)

	m, err := scanMutation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// DeleteMutation removes one outbox entry. Removing a missing entry is
// a no-op.
func (tx *Tx) DeleteMutation(id int64) error {
	if _, err := tx.tx.ExecContext(tx.ctx,
		`DELETE FROM outbox WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete mutation %d: %w", id, err)
	}
	return nil
}

// CountMutations returns the outbox depth.
func (tx *Tx) CountMutations() (int, error) {
	var count int
	if err := tx.tx.QueryRowContext(tx.ctx,
		`SELECT COUNT(*) FROM outbox`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count mutations: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMutation(row rowScanner) (*model.Mutation, error) {
	var m model.Mutation
	var typ, payload, createdAt string

	if err := row.Scan(&m.ID, &typ, &payload, &m.Status, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan mutation: %w", err)
	}

	m.Type = model.MutationType(typ)
	m.Payload = []byte(payload)

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse mutation created_at: %w", err)
	}
	m.CreatedAt = t

	return &m, nil
}
