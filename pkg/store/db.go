// Package store owns the relational schema and every repository query used
// by the rest of the service: accounts, auth challenges, content items,
// deliveries, and the transient album buffer.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store wraps a single sqlite connection. The pool is capped at one open
// connection: sqlite serializes writers anyway, and a single connection
// keeps the album-flush transaction (a plain BEGIN) free of SQLITE_BUSY
// races against any other in-process writer.
type Store struct {
	db *sql.DB
}

// Open creates the database file's parent directory if needed, opens the
// sqlite file, and runs the idempotent migration.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying sqlite connection.
func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	label TEXT NOT NULL UNIQUE,
	open_id TEXT,
	access_token TEXT,
	refresh_token TEXT,
	expires_at DATETIME,
	granted_scopes TEXT,
	posting_mode TEXT NOT NULL DEFAULT 'draft',
	needs_reauth INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS auth_challenges (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	token TEXT NOT NULL UNIQUE,
	account_label TEXT NOT NULL,
	mode TEXT NOT NULL,
	used INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS content_items (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	source_chat_id INTEGER NOT NULL,
	source_message_id INTEGER NOT NULL,
	album_id TEXT,
	caption TEXT NOT NULL DEFAULT '',
	source_text TEXT NOT NULL DEFAULT '',
	file_handles_json TEXT NOT NULL DEFAULT '[]',
	local_paths_json TEXT NOT NULL DEFAULT '[]',
	raw_update_json TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL,
	processed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_content_items_chat ON content_items (source_chat_id);
CREATE INDEX IF NOT EXISTS idx_content_items_album ON content_items (album_id);

CREATE TABLE IF NOT EXISTS deliveries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	content_item_id INTEGER NOT NULL REFERENCES content_items(id),
	source_key TEXT NOT NULL,
	account_label TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	error_text TEXT,
	post_id TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE (source_key, account_label)
);
CREATE INDEX IF NOT EXISTS idx_deliveries_content_item ON deliveries (content_item_id);

CREATE TABLE IF NOT EXISTS album_buffer (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	album_id TEXT NOT NULL,
	source_chat_id INTEGER NOT NULL,
	source_message_id INTEGER NOT NULL,
	kind TEXT NOT NULL,
	file_handle TEXT NOT NULL,
	caption TEXT NOT NULL DEFAULT '',
	source_text TEXT NOT NULL DEFAULT '',
	raw_message_json TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME NOT NULL,
	UNIQUE (album_id, source_message_id, file_handle)
);
CREATE INDEX IF NOT EXISTS idx_album_buffer_album ON album_buffer (album_id);
`

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}
