package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "paste:"

// Redis stores each record as a JSON string under "paste:<id>" and lets redis expire it.
type Redis struct {
	rdb *redis.Client
}

// OpenRedis connects to "<addr>[/db]" or a redis:// URL and verifies the connection.
func OpenRedis(ctx context.Context, conf string) (*Redis, error) {
	opts, err := parseRedisConf(conf)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", opts.Addr, err)
	}
	return &Redis{rdb: rdb}, nil
}

// NewRedis wraps an existing client.
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb}
}

func parseRedisConf(conf string) (*redis.Options, error) {
	if strings.HasPrefix(conf, "redis://") || strings.HasPrefix(conf, "rediss://") {
		opts, err := redis.ParseURL(conf)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return opts, nil
	}
	addr, dbPart, hasDB := strings.Cut(conf, "/")
	opts := &redis.Options{Addr: addr}
	if hasDB {
		db, err := strconv.Atoi(dbPart)
		if err != nil || db < 0 {
			return nil, fmt.Errorf("invalid redis database %q", dbPart)
		}
		opts.DB = db
	}
	if opts.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	return opts, nil
}

// Put implements Store. A record whose deadline already passed is removed instead of written.
func (r *Redis) Put(ctx context.Context, rec Record) error {
	var ttl time.Duration
	if !rec.ExpiresAt.IsZero() {
		ttl = time.Until(rec.ExpiresAt)
		if ttl <= 0 {
			return r.rdb.Del(ctx, redisKeyPrefix+rec.ID).Err()
		}
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	if err := r.rdb.Set(ctx, redisKeyPrefix+rec.ID, data, ttl).Err(); err != nil {
		return fmt.Errorf("set paste %s: %w", rec.ID, err)
	}
	return nil
}

// Get implements Store.
func (r *Redis) Get(ctx context.Context, id string) (Record, error) {
	data, err := r.rdb.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get paste %s: %w", id, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("decode paste %s: %w", id, err)
	}
	return rec, nil
}

// Exists implements Store.
func (r *Redis) Exists(ctx context.Context, id string) (bool, error) {
	n, err := r.rdb.Exists(ctx, redisKeyPrefix+id).Result()
	if err != nil {
		return false, fmt.Errorf("lookup paste %s: %w", id, err)
	}
	return n > 0, nil
}

// Delete implements Store.
func (r *Redis) Delete(ctx context.Context, id string) error {
	n, err := r.rdb.Del(ctx, redisKeyPrefix+id).Result()
	if err != nil {
		return fmt.Errorf("delete paste %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteExpired is a no-op: redis evicts keys on its own.
func (r *Redis) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}

// Close implements Store.
func (r *Redis) Close() error {
	return r.rdb.Close()
}
