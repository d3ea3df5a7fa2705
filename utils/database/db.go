package database

import (
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrNotFound is returned when no row exists for the requested key.
	ErrNotFound = errors.New("record not found")
	// ErrExists is returned by create-if-absent operations when the key is taken.
	ErrExists = errors.New("record already exists")
)

const schema = `
CREATE TABLE IF NOT EXISTS chat_info (
    user_id TEXT NOT NULL PRIMARY KEY,
    channel_id TEXT NOT NULL DEFAULT '',
    start_time INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_chat_info_channel ON chat_info (channel_id);

CREATE TABLE IF NOT EXISTS chat_message_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    message TEXT NOT NULL,
    timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_message_log_user ON chat_message_log (user_id, timestamp);

CREATE TABLE IF NOT EXISTS muted (
    user_id TEXT NOT NULL PRIMARY KEY,
    end_time INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS quoted_messages (
    message_id TEXT NOT NULL PRIMARY KEY,
    channel_id TEXT NOT NULL,
    quoted_at INTEGER NOT NULL
);`

// Store is the bot's durable keyed storage. Every write is committed before
// the method returns.
type Store struct {
	db *sqlx.DB
}

// Open connects to the sqlite database at dbPath and ensures all tables exist.
func Open(dbPath string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	// sqlite allows one writer; a single connection keeps writers from
	// failing with SQLITE_BUSY under concurrent event handlers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
