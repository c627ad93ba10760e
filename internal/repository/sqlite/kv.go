package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

func (r *SQLiteRepo) GetValue(ctx context.Context, key string) (string, bool, error) {
	var v string
	if err := r.conn.QueryRow(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return v, true, nil
}

func (r *SQLiteRepo) SetValue(ctx context.Context, key, value string) error {
	_, err := r.conn.Exec(ctx, `INSERT INTO kv (key, value, updated) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated = excluded.updated`, key, value, now())
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (r *SQLiteRepo) ClearValues(ctx context.Context) error {
	if _, err := r.conn.Exec(ctx, `DELETE FROM kv`); err != nil {
		return fmt.Errorf("clear kv: %w", err)
	}
	return nil
}
