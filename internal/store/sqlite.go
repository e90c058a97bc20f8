package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS pastes (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	preview    TEXT NOT NULL DEFAULT '',
	syntax     TEXT NOT NULL,
	body       TEXT NOT NULL,
	html       TEXT NOT NULL,
	source_url TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_pastes_expires_at ON pastes(expires_at) WHERE expires_at > 0;
`

// SQLite stores records in a single table. Times are unix nanoseconds; expires_at 0 means never.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens the database file and creates the schema if missing.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("create data directory %s: %w", dir, err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// modernc sqlite serializes writers; one connection keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Put implements Store.
func (s *SQLite) Put(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pastes (id, title, preview, syntax, body, html, source_url, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title, preview = excluded.preview, syntax = excluded.syntax,
			body = excluded.body, html = excluded.html, source_url = excluded.source_url,
			created_at = excluded.created_at, expires_at = excluded.expires_at`,
		rec.ID, rec.Title, rec.Preview, rec.Syntax, rec.Text, rec.HTML, rec.SourceURL,
		rec.CreatedAt.UnixNano(), toUnixNano(rec.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("insert paste %s: %w", rec.ID, err)
	}
	return nil
}

// Get implements Store.
func (s *SQLite) Get(ctx context.Context, id string) (Record, error) {
	var (
		rec              Record
		created, expires int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, preview, syntax, body, html, source_url, created_at, expires_at
		FROM pastes WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.Title, &rec.Preview, &rec.Syntax, &rec.Text, &rec.HTML, &rec.SourceURL, &created, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("select paste %s: %w", id, err)
	}
	rec.CreatedAt = time.Unix(0, created).UTC()
	if expires > 0 {
		rec.ExpiresAt = time.Unix(0, expires).UTC()
	}
	return rec, nil
}

// Exists implements Store.
func (s *SQLite) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM pastes WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup paste %s: %w", id, err)
	}
	return true, nil
}

// Delete implements Store.
func (s *SQLite) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM pastes WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete paste %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete paste %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpired implements Store.
func (s *SQLite) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM pastes WHERE expires_at > 0 AND expires_at <= ?", now.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete expired pastes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired pastes: %w", err)
	}
	return int(n), nil
}

// Close implements Store.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
