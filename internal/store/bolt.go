package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"
)

var (
	pastesBucket = []byte("pastes")
	expiryBucket = []byte("expiry")
)

const boltFileName = "pastes.db"

// Bolt stores records in a single bbolt file. Expiry is indexed by big-endian unix seconds followed by the id.
type Bolt struct {
	path string
	db   *bolt.DB
}

// OpenBolt opens (or creates) a bolt database. A path without extension is treated as a directory.
func OpenBolt(path string) (*Bolt, error) {
	if filepath.Ext(path) == "" {
		if err := os.MkdirAll(path, 0o750); err != nil {
			return nil, fmt.Errorf("create data directory %s: %w", path, err)
		}
		path = filepath.Join(path, boltFileName)
	}

	db, err := openBoltFile(path, false)
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{pastesBucket, expiryBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize bolt %s: %w", path, err)
	}

	return &Bolt{path: path, db: db}, nil
}

// OpenBoltReadOnly opens an existing bolt database for reading. Writes fail with
// bolt's read-only error. A writer holding the file makes this fail with ErrLocked.
func OpenBoltReadOnly(path string) (*Bolt, error) {
	if filepath.Ext(path) == "" {
		path = filepath.Join(path, boltFileName)
	}
	db, err := openBoltFile(path, true)
	if err != nil {
		return nil, err
	}
	return &Bolt{path: path, db: db}, nil
}

func openBoltFile(path string, readOnly bool) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second, ReadOnly: readOnly})
	switch {
	case errors.Is(err, berrors.ErrTimeout):
		return nil, fmt.Errorf("open bolt %s: %w", path, ErrLocked)
	case err != nil:
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	return db, nil
}

// Path returns the database file location.
func (b *Bolt) Path() string {
	return b.path
}

// Put implements Store.
func (b *Bolt) Put(_ context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		pastes := tx.Bucket(pastesBucket)
		expiry := tx.Bucket(expiryBucket)

		if prev := pastes.Get([]byte(rec.ID)); prev != nil {
			var old Record
			if err := json.Unmarshal(prev, &old); err == nil && !old.ExpiresAt.IsZero() {
				if err := expiry.Delete(expiryKey(old.ExpiresAt, old.ID)); err != nil {
					return err
				}
			}
		}

		if err := pastes.Put([]byte(rec.ID), data); err != nil {
			return fmt.Errorf("put %s: %w", rec.ID, err)
		}
		if !rec.ExpiresAt.IsZero() {
			if err := expiry.Put(expiryKey(rec.ExpiresAt, rec.ID), nil); err != nil {
				return fmt.Errorf("index expiry %s: %w", rec.ID, err)
			}
		}
		return nil
	})
}

// Get implements Store.
func (b *Bolt) Get(_ context.Context, id string) (Record, error) {
	var rec Record
	err := b.db.View(func(tx *bolt.Tx) error {
		pastes := tx.Bucket(pastesBucket)
		if pastes == nil {
			return ErrNotFound
		}
		data := pastes.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Exists implements Store.
func (b *Bolt) Exists(_ context.Context, id string) (bool, error) {
	var found bool
	err := b.db.View(func(tx *bolt.Tx) error {
		pastes := tx.Bucket(pastesBucket)
		found = pastes != nil && pastes.Get([]byte(id)) != nil
		return nil
	})
	return found, err
}

// Delete implements Store.
func (b *Bolt) Delete(_ context.Context, id string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		pastes := tx.Bucket(pastesBucket)
		data := pastes.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err == nil && !rec.ExpiresAt.IsZero() {
			if err := tx.Bucket(expiryBucket).Delete(expiryKey(rec.ExpiresAt, id)); err != nil {
				return err
			}
		}
		return pastes.Delete([]byte(id))
	})
}

// DeleteExpired walks the expiry index in order and stops at the first deadline after now.
func (b *Bolt) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	limit := expiryPrefix(now)
	err := b.db.Update(func(tx *bolt.Tx) error {
		pastes := tx.Bucket(pastesBucket)
		expiry := tx.Bucket(expiryBucket)

		var due [][]byte
		c := expiry.Cursor()
		for k, _ := c.First(); k != nil && bytes.Compare(k[:8], limit) <= 0; k, _ = c.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			due = append(due, bytes.Clone(k))
		}
		for _, k := range due {
			if err := expiry.Delete(k); err != nil {
				return err
			}
			id := k[8:]
			if pastes.Get(id) == nil {
				continue
			}
			if err := pastes.Delete(id); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Close implements Store.
func (b *Bolt) Close() error {
	return b.db.Close()
}

func expiryPrefix(t time.Time) []byte {
	return unixBytes(t.Unix())
}

// expiryKey rounds the deadline up to whole seconds so a key at or below expiryPrefix(now) is always due.
func expiryKey(t time.Time, id string) []byte {
	sec := t.Unix()
	if t.Nanosecond() > 0 {
		sec++
	}
	return append(unixBytes(sec), id...)
}

func unixBytes(sec int64) []byte {
	buf := make([]byte, 8, 8+16)
	binary.BigEndian.PutUint64(buf, uint64(sec)) //nolint:gosec // deadlines are after 1970
	return buf
}
