// Package cache persists the last confirmed snapshot per user so the client
// can show conversations immediately on startup, before the first poll
// completes. The in-memory store stays authoritative; the cache is replaced
// wholesale after every successful merge and never read back mid-session.
package cache

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kaanbt/pazar/internal/store"
)

const metaLastSyncedAt = "last_synced_at"

// DB wraps the SQLite connection for the session-owned cache.db.
type DB struct {
	*sql.DB
}

// Open creates a SQLite connection with WAL mode and a busy timeout.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping cache db: %w", err)
	}
	return &DB{db}, nil
}

// SaveSnapshot replaces the cached snapshot for username with the given
// confirmed messages. Pending entries are skipped: an optimistic send must
// not survive a restart as if the server had accepted it.
func (db *DB) SaveSnapshot(username string, msgs []store.Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE username = ?`, username); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}

	for _, m := range msgs {
		if m.Pending {
			continue
		}
		if _, err := tx.Exec(`
			INSERT INTO messages (username, msg_id, sender, receiver, product_id, body, file_path, created_at, read)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(username, msg_id) DO UPDATE SET
				body = excluded.body,
				file_path = excluded.file_path,
				created_at = excluded.created_at,
				read = excluded.read`,
			username, m.ID, m.Sender, m.Receiver, m.ProductID, m.Body, m.FilePath, m.CreatedAt, m.Read); err != nil {
			return fmt.Errorf("insert snapshot row: %w", err)
		}
	}

	now := time.Now().UnixMilli()
	if _, err := tx.Exec(`
		INSERT INTO meta (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		metaLastSyncedAt, time.Now().UTC().Format(time.RFC3339), now); err != nil {
		return fmt.Errorf("update meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns the cached confirmed messages for username, newest
// first. An empty cache yields an empty slice, not an error.
func (db *DB) LoadSnapshot(username string) ([]store.Message, error) {
	rows, err := db.Query(`
		SELECT msg_id, sender, receiver, product_id, body, file_path, created_at, read
		FROM messages
		WHERE username = ?
		ORDER BY created_at DESC`, username)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []store.Message
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.ID, &m.Sender, &m.Receiver, &m.ProductID, &m.Body, &m.FilePath, &m.CreatedAt, &m.Read); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// LastSyncedAt returns when a snapshot was last written, or zero time when
// the cache has never been populated.
func (db *DB) LastSyncedAt() (time.Time, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM meta WHERE key = ?`, metaLastSyncedAt).Scan(&value)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, value)
}
