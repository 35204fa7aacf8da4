// Package store provides the durable local store backing the offline
// harvest client.
//
// The store is an embedded SQLite database (via ncruces/go-sqlite3) in
// WAL mode holding one keyed collection per entity type, a secondary
// index table, a metadata slot for sync bookkeeping, and the outbox of
// not-yet-confirmed mutations.
//
// All multi-record writes of one logical operation run inside a single
// transaction through WithTx: either every write lands or none does,
// and readers never observe a partial state. The store handle is passed
// explicitly to every component; there is no package-level singleton,
// so isolated sessions and tests can each open their own database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNotFound is returned when a record or metadata slot does not exist.
var ErrNotFound = errors.New("store: not found")

// DB wraps the SQLite connection with store-specific functionality.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent
// reads. If the database doesn't exist, it is created; call InitSchema
// before first use. The caller MUST call Close when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// Path returns the filesystem path of the database file.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection after checkpointing the WAL.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
//
// Idempotent: safe to call multiple times, and adding a collection or
// index in a later version never destroys existing records.
func (db *DB) InitSchema(ctx context.Context) error {
	schema := `
	-- Keyed collections: one row per (collection, key)
	CREATE TABLE IF NOT EXISTS records (
		collection TEXT NOT NULL,
		key        TEXT NOT NULL,
		body       TEXT NOT NULL,
		PRIMARY KEY (collection, key)
	);

	-- Secondary indexes maintained on every Put
	CREATE TABLE IF NOT EXISTS record_index (
		collection TEXT NOT NULL,
		name       TEXT NOT NULL,
		value      TEXT NOT NULL,
		key        TEXT NOT NULL,
		PRIMARY KEY (collection, name, key)
	);

	CREATE INDEX IF NOT EXISTS idx_record_index_lookup
	    ON record_index(collection, name, value);

	-- Metadata slot for session/sync bookkeeping
	CREATE TABLE IF NOT EXISTS meta (
		k TEXT PRIMARY KEY,
		v TEXT NOT NULL
	);

	-- Outbox of unconfirmed mutations, FIFO by creation order
	CREATE TABLE IF NOT EXISTS outbox (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		type       TEXT NOT NULL,
		payload    TEXT NOT NULL,
		status     TEXT NOT NULL DEFAULT 'pending',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_outbox_created ON outbox(created_at, id);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// ClearAll wipes every collection, the outbox, and the metadata slot in
// one transaction. Used for logout/reset.
func (db *DB) ClearAll(ctx context.Context) error {
	return db.WithTx(ctx, func(tx *Tx) error {
		for _, stmt := range []string{
			"DELETE FROM records",
			"DELETE FROM record_index",
			"DELETE FROM outbox",
			"DELETE FROM meta",
		} {
			if _, err := tx.tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to clear store: %w", err)
			}
		}
		return nil
	})
}

// Tx is one atomic unit of work against the store.
type Tx struct {
	tx  *sql.Tx
	ctx context.Context
}

// WithTx runs fn inside a transaction. If fn returns an error the
// transaction rolls back and no writes are visible; otherwise it
// commits.
func (db *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Tx{tx: tx, ctx: ctx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Record is one raw keyed record of a collection.
type Record struct {
	Key  string
	Body []byte
}

// Put inserts or replaces a record and rewrites its secondary index
// entries.
func (tx *Tx) Put(collection, key string, body []byte, indexes map[string]string) error {
	if _, err := tx.tx.ExecContext(tx.ctx,
		`INSERT INTO records (collection, key, body) VALUES (?, ?, ?)
		 ON CONFLICT(collection, key) DO UPDATE SET body = excluded.body`,
		collection, key, string(body)); err != nil {
		return fmt.Errorf("failed to put record %s/%s: %w", collection, key, err)
	}

	if _, err := tx.tx.ExecContext(tx.ctx,
		`DELETE FROM record_index WHERE collection = ? AND key = ?`,
		collection, key); err != nil {
		return fmt.Errorf("failed to clear index entries for %s/%s: %w", collection, key, err)
	}

	for name, value := range indexes {
		if value == "" {
			continue
		}
		if _, err := tx.tx.ExecContext(tx.ctx,
			`INSERT INTO record_index (collection, name, value, key) VALUES (?, ?, ?, ?)`,
			collection, name, value, key); err != nil {
			return fmt.Errorf("failed to index %s/%s on %s: %w", collection, key, name, err)
		}
	}

	return nil
}

// Get retrieves a record body by key. Returns ErrNotFound if the record
// does not exist.
func (tx *Tx) Get(collection, key string) ([]byte, error) {
	var body string
	err := tx.tx.QueryRowContext(tx.ctx,
		`SELECT body FROM records WHERE collection = ? AND key = ?`,
		collection, key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s/%s: %w", collection, key, err)
	}
	return []byte(body), nil
}

// GetAll retrieves every record of a collection ordered by key.
func (tx *Tx) GetAll(collection string) ([]Record, error) {
	rows, err := tx.tx.QueryContext(tx.ctx,
		`SELECT key, body FROM records WHERE collection = ? ORDER BY key`,
		collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list records of %s: %w", collection, err)
	}
	defer rows.Close()

	return scanRecords(rows, collection)
}

// GetByIndex retrieves the records of a collection whose named index
// entry equals value, ordered by key.
func (tx *Tx) GetByIndex(collection, name, value string) ([]Record, error) {
	rows, err := tx.tx.QueryContext(tx.ctx,
		`SELECT r.key, r.body
		 FROM record_index i
		 JOIN records r ON r.collection = i.collection AND r.key = i.key
		 WHERE i.collection = ? AND i.name = ? AND i.value = ?
		 ORDER BY r.key`,
		collection, name, value)
	if err != nil {
		return nil, fmt.Errorf("failed to query index %s/%s: %w", collection, name, err)
	}
	defer rows.Close()

	return scanRecords(rows, collection)
}

// Delete removes a record and its index entries. Deleting a missing
// record is a no-op.
func (tx *Tx) Delete(collection, key string) error {
	if _, err := tx.tx.ExecContext(tx.ctx,
		`DELETE FROM records WHERE collection = ? AND key = ?`,
		collection, key); err != nil {
		return fmt.Errorf("failed to delete record %s/%s: %w", collection, key, err)
	}
	if _, err := tx.tx.ExecContext(tx.ctx,
		`DELETE FROM record_index WHERE collection = ? AND key = ?`,
		collection, key); err != nil {
		return fmt.Errorf("failed to delete index entries for %s/%s: %w", collection, key, err)
	}
	return nil
}

// ClearCollection removes every record of one collection and its index
// entries.
func (tx *Tx) ClearCollection(collection string) error {
	if _, err := tx.tx.ExecContext(tx.ctx,
		`DELETE FROM records WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("failed to clear collection %s: %w", collection, err)
	}
	if _, err := tx.tx.ExecContext(tx.ctx,
		`DELETE FROM record_index WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("failed to clear indexes of %s: %w", collection, err)
	}
	return nil
}

// Count returns the number of records in a collection.
func (tx *Tx) Count(collection string) (int, error) {
	var count int
	err := tx.tx.QueryRowContext(tx.ctx,
		`SELECT COUNT(*) FROM records WHERE collection = ?`, collection).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", collection, err)
	}
	return count, nil
}

// SetMeta stores a value in the metadata slot.
func (tx *Tx) SetMeta(key, value string) error {
	if _, err := tx.tx.ExecContext(tx.ctx,
		`INSERT INTO meta (k, v) VALUES (?, ?)
		 ON CONFLICT(k) DO UPDATE SET v = excluded.v`,
		key, value); err != nil {
		return fmt.Errorf("failed to set meta %s: %w", key, err)
	}
	return nil
}

// GetMeta retrieves a metadata value. Returns ErrNotFound if the slot
// is empty.
func (tx *Tx) GetMeta(key string) (string, error) {
	var value string
	err := tx.tx.QueryRowContext(tx.ctx,
		`SELECT v FROM meta WHERE k = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get meta %s: %w", key, err)
	}
	return value, nil
}

// DeleteMeta removes a metadata slot. Removing a missing slot is a
// no-op.
func (tx *Tx) DeleteMeta(key string) error {
	if _, err := tx.tx.ExecContext(tx.ctx,
		`DELETE FROM meta WHERE k = ?`, key); err != nil {
		return fmt.Errorf("failed to delete meta %s: %w", key, err)
	}
	return nil
}

func scanRecords(rows *sql.Rows, collection string) ([]Record, error) {
	var out []Record
	for rows.Next() {
		var rec Record
		var body string
		if err := rows.Scan(&rec.Key, &body); err != nil {
			return nil, fmt.Errorf("failed to scan record of %s: %w", collection, err)
		}
		rec.Body = []byte(body)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", collection, err)
	}
	return out, nil
}
