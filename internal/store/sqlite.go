package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
)`

// SQLiteStore is a Backend on a local SQLite database file.
// Expired rows are invisible to Get and removed lazily.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// schema exists. Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single writer keeps ":memory:" databases coherent and avoids
	// SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Get returns the stored value if present and not expired.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value     []byte
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM kv WHERE key = ?`, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, unavailable("sqlite get", err)
	}
	if expiresAt > 0 && time.Now().UnixNano() > expiresAt {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ? AND expires_at = ?`, key, expiresAt)
		return nil, false, nil
	}
	return value, true, nil
}

// Set upserts value.
func (s *SQLiteStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).UnixNano()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt)
	if err != nil {
		return unavailable("sqlite set", err)
	}
	return nil
}

// CompareAndSwap runs the check and the write as one statement. Expired rows
// count as absent.
func (s *SQLiteStore) CompareAndSwap(ctx context.Context, key string, old, value []byte, ttl time.Duration) error {
	now := time.Now().UnixNano()
	var expiresAt int64
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).UnixNano()
	}

	var (
		res sql.Result
		err error
	)
	if old == nil {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
			 WHERE kv.expires_at != 0 AND kv.expires_at < ?`,
			key, value, expiresAt, now)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE kv SET value = ?, expires_at = ?
			 WHERE key = ? AND value = ? AND (expires_at = 0 OR expires_at >= ?)`,
			value, expiresAt, key, old, now)
	}
	if err != nil {
		return unavailable("sqlite cas", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("sqlite cas", err)
	}
	if n > 0 {
		return nil
	}

	current, found, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if !found {
		current = nil
	}
	if err := swapAllowed(current, old, value); err != nil {
		return fmt.Errorf("sqlite cas: %w", err)
	}
	return nil
}

// Delete removes key. Expired rows count as absent.
func (s *SQLiteStore) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM kv WHERE key = ? AND (expires_at = 0 OR expires_at >= ?)`,
		key, time.Now().UnixNano())
	if err != nil {
		return false, unavailable("sqlite delete", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("sqlite delete", err)
	}
	if n == 0 {
		// Drop any expired leftover.
		_, _ = s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	}
	return n > 0, nil
}

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("sqlite ping", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var (
	_ Backend = (*SQLiteStore)(nil)
	_ Swapper = (*SQLiteStore)(nil)
)
