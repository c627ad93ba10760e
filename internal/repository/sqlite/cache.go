package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/garnizeh/rioforms/internal/cache"
	"github.com/garnizeh/rioforms/internal/db"
)

// CacheStore keeps the intermediary's response collections in the
// cache_entries table.
type CacheStore struct {
	conn *db.DB
}

func NewCacheStore(conn *db.DB) *CacheStore {
	return &CacheStore{conn: conn}
}

func (c *CacheStore) Put(ctx context.Context, collection, key string, e *cache.Entry) error {
	hdr, err := json.Marshal(e.Header)
	if err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	_, err = c.conn.Exec(ctx, `INSERT INTO cache_entries (collection, key, status, header, body, stored_at) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, key) DO UPDATE SET status = excluded.status, header = excluded.header, body = excluded.body, stored_at = excluded.stored_at`,
		collection, key, e.Status, string(hdr), e.Body, e.StoredAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("cache put %s: %w", collection, err)
	}
	return nil
}

func (c *CacheStore) Match(ctx context.Context, collection, key string) (*cache.Entry, error) {
	var (
		e        cache.Entry
		hdr      string
		storedAt int64
	)
	row := c.conn.QueryRow(ctx, `SELECT status, header, body, stored_at FROM cache_entries WHERE collection = ? AND key = ?`, collection, key)
	if err := row.Scan(&e.Status, &hdr, &e.Body, &storedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("cache match %s: %w", collection, err)
	}
	e.Header = http.Header{}
	if err := json.Unmarshal([]byte(hdr), &e.Header); err != nil {
		return nil, fmt.Errorf("cache match %s: bad header: %w", collection, err)
	}
	e.StoredAt = time.UnixMilli(storedAt).UTC()
	return &e, nil
}

func (c *CacheStore) Collections(ctx context.Context) ([]string, error) {
	rows, err := c.conn.QueryRows(ctx, `SELECT DISTINCT collection FROM cache_entries ORDER BY collection`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (c *CacheStore) DeleteCollection(ctx context.Context, name string) error {
	if _, err := c.conn.Exec(ctx, `DELETE FROM cache_entries WHERE collection = ?`, name); err != nil {
		return fmt.Errorf("delete collection %s: %w", name, err)
	}
	return nil
}
