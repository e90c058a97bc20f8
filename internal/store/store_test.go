package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openBackends(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()

	bolt, err := OpenBolt(filepath.Join(t.TempDir(), "data"))
	require.NoError(t, err)

	sqlite, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "pastes.sqlite"))
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb, err := OpenRedis(ctx, mr.Addr())
	require.NoError(t, err)

	backends := map[string]Store{"bolt": bolt, "sqlite": sqlite, "redis": rdb}
	t.Cleanup(func() {
		for _, s := range backends {
			_ = s.Close()
		}
	})
	return backends
}

func sampleRecord(id string) Record {
	return Record{
		ID:        id,
		Title:     "Hello",
		Preview:   "first paragraph",
		Syntax:    "markdown",
		Text:      "# Hello\n\nfirst paragraph",
		HTML:      "<h1 id=\"hello\">Hello</h1>\n<p>first paragraph</p>\n",
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestStoreContract(t *testing.T) {
	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.Get(ctx, "missing")
			require.ErrorIs(t, err, ErrNotFound)

			ok, err := s.Exists(ctx, "abc")
			require.NoError(t, err)
			assert.False(t, ok)

			rec := sampleRecord("abc")
			require.NoError(t, s.Put(ctx, rec))

			ok, err = s.Exists(ctx, "abc")
			require.NoError(t, err)
			assert.True(t, ok)

			got, err := s.Get(ctx, "abc")
			require.NoError(t, err)
			assert.Equal(t, rec.Title, got.Title)
			assert.Equal(t, rec.Preview, got.Preview)
			assert.Equal(t, rec.Text, got.Text)
			assert.Equal(t, rec.HTML, got.HTML)
			assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))
			assert.True(t, got.ExpiresAt.IsZero())

			require.NoError(t, s.Delete(ctx, "abc"))
			require.ErrorIs(t, s.Delete(ctx, "abc"), ErrNotFound)
			_, err = s.Get(ctx, "abc")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestDeleteExpiredLocalBackends(t *testing.T) {
	backends := openBackends(t)
	for _, name := range []string{"bolt", "sqlite"} {
		s := backends[name]
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()

			expired := sampleRecord("old")
			expired.ExpiresAt = now.Add(-time.Minute)
			alive := sampleRecord("new")
			alive.ExpiresAt = now.Add(time.Hour)
			forever := sampleRecord("keep")

			for _, rec := range []Record{expired, alive, forever} {
				require.NoError(t, s.Put(ctx, rec))
			}

			n, err := s.DeleteExpired(ctx, now)
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			_, err = s.Get(ctx, "old")
			require.ErrorIs(t, err, ErrNotFound)
			for _, id := range []string{"new", "keep"} {
				_, err = s.Get(ctx, id)
				require.NoError(t, err, id)
			}

			n, err = s.DeleteExpired(ctx, now.Add(2*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

func TestBoltReplaceUpdatesExpiryIndex(t *testing.T) {
	ctx := context.Background()
	s, err := OpenBolt(filepath.Join(t.TempDir(), "pastes.db"))
	require.NoError(t, err)
	defer s.Close()

	now := time.Now()
	rec := sampleRecord("abc")
	rec.ExpiresAt = now.Add(-time.Second)
	require.NoError(t, s.Put(ctx, rec))

	rec.ExpiresAt = time.Time{}
	require.NoError(t, s.Put(ctx, rec))

	n, err := s.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.Get(ctx, "abc")
	require.NoError(t, err)
}

func TestRedisUsesNativeTTL(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	s, err := OpenRedis(ctx, mr.Addr()+"/0")
	require.NoError(t, err)
	defer s.Close()

	rec := sampleRecord("ttl")
	rec.ExpiresAt = time.Now().Add(time.Hour)
	require.NoError(t, s.Put(ctx, rec))

	ttl := mr.TTL(redisKeyPrefix + "ttl")
	assert.Greater(t, ttl, 59*time.Minute)

	n, err := s.DeleteExpired(ctx, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	mr.FastForward(2 * time.Hour)
	_, err = s.Get(ctx, "ttl")
	require.ErrorIs(t, err, ErrNotFound)

	past := sampleRecord("past")
	past.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, s.Put(ctx, past))
	assert.False(t, mr.Exists(redisKeyPrefix+"past"))
}

func TestParseRedisConf(t *testing.T) {
	opts, err := parseRedisConf("localhost:6379/3")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 3, opts.DB)

	opts, err = parseRedisConf("redis://cache:6380/1")
	require.NoError(t, err)
	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, 1, opts.DB)

	_, err = parseRedisConf("localhost:6379/x")
	require.Error(t, err)
	_, err = parseRedisConf("/2")
	require.Error(t, err)
}

func TestOpenSpec(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, "sqlite:"+filepath.Join(t.TempDir(), "p.db"))
	require.NoError(t, err)
	require.IsType(t, &SQLite{}, s)
	require.NoError(t, s.Close())

	s, err = Open(ctx, "bolt:"+t.TempDir())
	require.NoError(t, err)
	require.IsType(t, &Bolt{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, "s3:bucket")
	require.ErrorContains(t, err, "supported: bolt, sqlite, redis")

	_, err = Open(ctx, "bolt")
	require.ErrorContains(t, err, "invalid storage spec")
}

func TestBoltReadOnly(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	w, err := OpenBolt(dir)
	require.NoError(t, err)
	require.NoError(t, w.Put(ctx, Record{ID: "abcdefghij", Title: "t", Syntax: "markdown", Text: "x", HTML: "<p>x</p>", CreatedAt: time.Now()}))

	_, err = Open(ctx, "bolt:"+dir, ReadOnly())
	require.ErrorIs(t, err, ErrLocked, "a writer holds the file")
	require.NoError(t, w.Close())

	r1, err := Open(ctx, "bolt:"+dir, ReadOnly())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r1.Close() })
	r2, err := Open(ctx, "bolt:"+dir, ReadOnly())
	require.NoError(t, err, "readers share the file")
	t.Cleanup(func() { _ = r2.Close() })

	rec, err := r1.Get(ctx, "abcdefghij")
	require.NoError(t, err)
	assert.Equal(t, "t", rec.Title)
	require.Error(t, r2.Put(ctx, Record{ID: "other"}))

	_, err = OpenBoltReadOnly(filepath.Join(t.TempDir(), "missing.db"))
	require.Error(t, err)
}

func TestRecordExpired(t *testing.T) {
	now := time.Now()
	rec := Record{}
	assert.False(t, rec.Expired(now))
	rec.ExpiresAt = now
	assert.True(t, rec.Expired(now))
	rec.ExpiresAt = now.Add(time.Second)
	assert.False(t, rec.Expired(now))
}
