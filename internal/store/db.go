// Package store is the SQLite metadata backend for single-node deployments
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"go-anomaly-pipeline/internal/metastore"
)

// DB implements metastore.Store on a SQLite table. Revisions come from a
// single counter row so a key that is deleted and created again never reuses
// a revision.
type DB struct {
	db  *sql.DB
	hub *metastore.Hub
	// mu orders commits with their watch notifications
	mu sync.Mutex
}

// Open opens or creates the database at dbPath
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	// one writer keeps the revision counter and the CAS check in one
	// serialized transaction
	db.SetMaxOpenConns(1)

	// Create tables if not exists
	kvTable := `
	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		revision INTEGER NOT NULL,
		updated_at DATETIME
	);
	`
	revisionTable := `
	CREATE TABLE IF NOT EXISTS metadata_revision (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		value INTEGER NOT NULL
	);
	`
	seedRevision := `INSERT OR IGNORE INTO metadata_revision (id, value) VALUES (1, 0)`

	for _, stmt := range []string{kvTable, revisionTable, seedRevision} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("init schema: %w", err)
		}
	}
	return &DB{db: db, hub: metastore.NewHub()}, nil
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Get(ctx context.Context, key string) (metastore.Entry, error) {
	e := metastore.Entry{Key: key}
	err := d.db.QueryRowContext(ctx, `SELECT value, revision FROM metadata WHERE key = ?`, key).
		Scan(&e.Value, &e.Revision)
	if errors.Is(err, sql.ErrNoRows) {
		return metastore.Entry{}, metastore.ErrKeyNotFound
	}
	if err != nil {
		return metastore.Entry{}, err
	}
	return e, nil
}

func (d *DB) Create(ctx context.Context, key string, value []byte) (uint64, error) {
	return d.write(ctx, key, func(tx *sql.Tx, exists bool, _ uint64, rev uint64) error {
		if exists {
			return metastore.ErrKeyExists
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO metadata (key, value, revision, updated_at) VALUES (?, ?, ?, ?)`,
			key, value, rev, time.Now().UTC())
		return err
	}, value, false)
}

func (d *DB) Update(ctx context.Context, key string, value []byte, expected uint64) (uint64, error) {
	return d.write(ctx, key, func(tx *sql.Tx, exists bool, current uint64, rev uint64) error {
		if !exists {
			return metastore.ErrKeyNotFound
		}
		if current != expected {
			return metastore.ErrRevisionMismatch
		}
		_, err := tx.ExecContext(ctx, `UPDATE metadata SET value = ?, revision = ?, updated_at = ? WHERE key = ?`,
			value, rev, time.Now().UTC(), key)
		return err
	}, value, false)
}

func (d *DB) Delete(ctx context.Context, key string, expected uint64) error {
	_, err := d.write(ctx, key, func(tx *sql.Tx, exists bool, current uint64, _ uint64) error {
		if !exists {
			return metastore.ErrKeyNotFound
		}
		if expected != 0 && current != expected {
			return metastore.ErrRevisionMismatch
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM metadata WHERE key = ?`, key)
		return err
	}, nil, true)
	return err
}

func (d *DB) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT key FROM metadata WHERE substr(key, 1, ?) = ? ORDER BY key`,
		len(prefix), prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (d *DB) Watch(ctx context.Context, key string) (<-chan metastore.Event, error) {
	var initial *metastore.Event
	e, err := d.Get(ctx, key)
	switch {
	case err == nil:
		initial = &metastore.Event{Kind: metastore.EventPut, Entry: e}
	case !errors.Is(err, metastore.ErrKeyNotFound):
		return nil, err
	}
	return d.hub.Subscribe(ctx, key, initial), nil
}

type mutation func(tx *sql.Tx, exists bool, current uint64, next uint64) error

// write runs fn in a transaction with the key's current revision and the
// next store revision, then notifies watchers
func (d *DB) write(ctx context.Context, key string, fn mutation, value []byte, deleted bool) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var current uint64
	exists := true
	err = tx.QueryRowContext(ctx, `SELECT revision FROM metadata WHERE key = ?`, key).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return 0, err
	}

	var next uint64
	if err := tx.QueryRowContext(ctx, `UPDATE metadata_revision SET value = value + 1 WHERE id = 1 RETURNING value`).
		Scan(&next); err != nil {
		return 0, fmt.Errorf("next revision: %w", err)
	}

	if err := fn(tx, exists, current, next); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	ev := metastore.Event{Kind: metastore.EventPut, Entry: metastore.Entry{Key: key, Value: value, Revision: next}}
	if deleted {
		ev.Kind = metastore.EventDelete
	}
	d.hub.Publish(ev)
	return next, nil
}
