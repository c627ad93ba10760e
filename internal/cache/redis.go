package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the Redis-backed store.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Redis stores each entry as a hash and tracks collection membership in sets
// so a whole collection can be dropped on activation.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis creates a Redis-backed Store.
func NewRedis(opts RedisOptions) *Redis {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})
	return NewRedisWithClient(rdb, opts.Prefix)
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(rdb *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "rioforms"
	}
	return &Redis{client: rdb, prefix: prefix}
}

// Ping tests the Redis connection
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) collectionsKey() string { return r.prefix + ":collections" }

func (r *Redis) keysKey(collection string) string { return r.prefix + ":keys:" + collection }

func (r *Redis) entryKey(collection, key string) string {
	return r.prefix + ":entry:" + collection + ":" + key
}

func (r *Redis) Put(ctx context.Context, collection, key string, e *Entry) error {
	hdr, err := json.Marshal(e.Header)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.entryKey(collection, key),
			"status", e.Status,
			"header", string(hdr),
			"body", e.Body,
			"stored_at", e.StoredAt.UnixMilli(),
		)
		pipe.SAdd(ctx, r.keysKey(collection), key)
		pipe.SAdd(ctx, r.collectionsKey(), collection)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache put %s: %w", collection, err)
	}
	return nil
}

func (r *Redis) Match(ctx context.Context, collection, key string) (*Entry, error) {
	fields, err := r.client.HGetAll(ctx, r.entryKey(collection, key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("cache match %s: %w", collection, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	status, err := strconv.Atoi(fields["status"])
	if err != nil {
		return nil, fmt.Errorf("cache match %s: bad status: %w", collection, err)
	}
	hdr := http.Header{}
	if err := json.Unmarshal([]byte(fields["header"]), &hdr); err != nil {
		return nil, fmt.Errorf("cache match %s: bad header: %w", collection, err)
	}
	storedAt, _ := strconv.ParseInt(fields["stored_at"], 10, 64)

	return &Entry{
		Status:   status,
		Header:   hdr,
		Body:     []byte(fields["body"]),
		StoredAt: time.UnixMilli(storedAt).UTC(),
	}, nil
}

func (r *Redis) Collections(ctx context.Context) ([]string, error) {
	names, err := r.client.SMembers(ctx, r.collectionsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (r *Redis) DeleteCollection(ctx context.Context, name string) error {
	keys, err := r.client.SMembers(ctx, r.keysKey(name)).Result()
	if err != nil {
		return fmt.Errorf("delete collection %s: %w", name, err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range keys {
			pipe.Del(ctx, r.entryKey(name, k))
		}
		pipe.Del(ctx, r.keysKey(name))
		pipe.SRem(ctx, r.collectionsKey(), name)
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete collection %s: %w", name, err)
	}
	return nil
}
