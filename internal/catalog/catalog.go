// Package catalog implements the Catalog Store: relational persistence for
// shows, recordings, webhook subscriptions and their delivery history, and
// admin-entered song metadata, backed by modernc.org/sqlite (pure Go, no
// cgo), the same driver ManuGH-xg2g's library store wires up.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store is a single sqlite-backed connection to the catalog database. All
// mutations go through a *sql.Tx.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and runs
// migrations. WAL mode plus a busy timeout follow the same read-heavy-
// workload pragmas ManuGH-xg2g's library store sets.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping catalog database: %w", err)
	}
	// A single writer connection avoids SQLITE_BUSY from concurrent
	// writers stepping on each other; WAL still allows concurrent reads.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate catalog database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS shows (
	show_id    TEXT PRIMARY KEY,
	show_name  TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS recordings (
	id               TEXT PRIMARY KEY,
	show_id          TEXT REFERENCES shows(show_id),
	session_id       TEXT NOT NULL,
	created_at       TEXT NOT NULL,
	title            TEXT NOT NULL DEFAULT '',
	artist           TEXT NOT NULL DEFAULT '',
	genre            TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	file_path        TEXT NOT NULL,
	duration_seconds INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_recordings_show_id    ON recordings(show_id);
CREATE INDEX IF NOT EXISTS idx_recordings_created_at ON recordings(created_at DESC);

-- Token-overlap search shadow table: one row per (recording_id, token).
-- Populated from (title, artist, genre, description) on every insert and
-- update, since the pure-Go sqlite driver's FTS5 availability is not
-- assumed.
CREATE TABLE IF NOT EXISTS recordings_search_tokens (
	recording_id TEXT NOT NULL REFERENCES recordings(id) ON DELETE CASCADE,
	token        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_recordings_search_tokens_token ON recordings_search_tokens(token);
CREATE INDEX IF NOT EXISTS idx_recordings_search_tokens_rec   ON recordings_search_tokens(recording_id);

CREATE TABLE IF NOT EXISTS webhooks (
	webhook_id  TEXT PRIMARY KEY,
	url         TEXT NOT NULL,
	events      TEXT NOT NULL, -- comma-joined EventType list
	signing_key TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	UNIQUE(url, events)
);

CREATE TABLE IF NOT EXISTS webhook_deliveries (
	webhook_id  TEXT NOT NULL REFERENCES webhooks(webhook_id) ON DELETE CASCADE,
	timestamp   TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	url         TEXT NOT NULL,
	status      TEXT NOT NULL,
	status_code INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	latency_ms  INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_webhook_ts ON webhook_deliveries(webhook_id, timestamp DESC);

-- songs_admin_metadata: admin-entered overrides for fallback-queue songs
-- (title/artist/genre the uploader didn't supply and dhowden/tag couldn't
-- extract), keyed by the song's content fingerprint so it survives the
-- song being re-queued later.
CREATE TABLE IF NOT EXISTS songs_admin_metadata (
	fingerprint TEXT PRIMARY KEY,
	title       TEXT NOT NULL DEFAULT '',
	artist      TEXT NOT NULL DEFAULT '',
	genre       TEXT NOT NULL DEFAULT '',
	updated_at  TEXT NOT NULL
);

-- users / pending_users: carried for schema completeness (spec's persisted
-- state layout names them) though account management is out of scope; the
-- core never writes to these tables.
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	email      TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS pending_users (
	token      TEXT PRIMARY KEY UNIQUE,
	email      TEXT NOT NULL,
	created_at TEXT NOT NULL
);
`

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

func nowString() string { return time.Now().UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// isUniqueConstraintErr reports whether err is a sqlite UNIQUE constraint
// violation. modernc.org/sqlite doesn't expose a typed sentinel for this,
// so match on the driver's error text the way its own tests do.
func isUniqueConstraintErr(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// withTx runs fn inside a transaction, committing on success and rolling
// back on any error (including a panic, which it re-raises after rollback).
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	err = fn(tx)
	return err
}
