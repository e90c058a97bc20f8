// Package store persists pastes behind a small key/value style interface.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no record exists for an id.
	ErrNotFound = errors.New("store: record not found")
	// ErrLocked is returned when another process holds the bolt file.
	ErrLocked = errors.New("store: database is locked by another process")
)

// Record is the persisted form of a paste.
type Record struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Preview   string    `json:"preview,omitempty"`
	Syntax    string    `json:"syntax"`
	Text      string    `json:"text"`
	HTML      string    `json:"html"`
	SourceURL string    `json:"sourceUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
}

// Expired reports whether the record has a deadline at or before now.
func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !r.ExpiresAt.After(now)
}

// Store is implemented by every persistence backend.
type Store interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (Record, error)
	Delete(ctx context.Context, id string) error
	Exists(ctx context.Context, id string) (bool, error)
	// DeleteExpired removes records whose deadline is at or before now and reports how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	Close() error
}

// OpenOption adjusts how Open connects to a backend.
type OpenOption func(*openOptions)

type openOptions struct {
	readOnly bool
}

// ReadOnly opens bolt files without write access, so several readers can share
// the file. SQLite and redis are unaffected.
func ReadOnly() OpenOption {
	return func(o *openOptions) { o.readOnly = true }
}

// Open parses a "<type>:<config>" spec and opens the matching backend.
func Open(ctx context.Context, spec string, opts ...OpenOption) (Store, error) {
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}
	kind, conf, ok := strings.Cut(strings.TrimSpace(spec), ":")
	if !ok || conf == "" {
		return nil, fmt.Errorf("invalid storage spec %q: expected '<type>:<config>'", spec)
	}
	switch strings.ToLower(kind) {
	case "bolt":
		if o.readOnly {
			return OpenBoltReadOnly(conf)
		}
		return OpenBolt(conf)
	case "sqlite":
		return OpenSQLite(ctx, conf)
	case "redis":
		return OpenRedis(ctx, conf)
	default:
		return nil, fmt.Errorf("unknown storage type %q (supported: bolt, sqlite, redis)", kind)
	}
}
