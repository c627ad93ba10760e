package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/garnizeh/rioforms/pkg/models"
)

// Enqueue stores a pending submission and returns its sequence key.
func (r *SQLiteRepo) Enqueue(ctx context.Context, payload models.QueuedSubmission) (int64, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encode submission: %w", err)
	}

	var key int64
	err = r.conn.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO queue (enqueued_at, payload) VALUES (?, ?)`, now(), string(b))
		if err != nil {
			return err
		}
		key, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("enqueue: %w", err)
	}

	r.logger.Debug("submission queued", "key", key, "form_id", payload.FormID)
	return key, nil
}

func (r *SQLiteRepo) ListQueue(ctx context.Context) ([]models.QueueRow, error) {
	rows, err := r.conn.QueryRows(ctx, `SELECT id, enqueued_at, payload FROM queue ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	defer rows.Close()

	out := []models.QueueRow{}
	for rows.Next() {
		var (
			row models.QueueRow
			ts  int64
			raw string
		)
		if err := rows.Scan(&row.Key, &ts, &raw); err != nil {
			return nil, fmt.Errorf("scan queue row: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &row.Payload); err != nil {
			return nil, fmt.Errorf("decode queue row %d: %w", row.Key, err)
		}
		row.EnqueuedAt = time.UnixMilli(ts).UTC()
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	return out, nil
}

// UpdatePayload rewrites a row in place, keeping its key and enqueue time.
func (r *SQLiteRepo) UpdatePayload(ctx context.Context, key int64, payload models.QueuedSubmission) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode submission: %w", err)
	}

	err = r.conn.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE queue SET payload = ? WHERE id = ?`, string(b), key)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("queue row %d not found", key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("update queued payload: %w", err)
	}
	return nil
}

func (r *SQLiteRepo) DeleteQueued(ctx context.Context, key int64) error {
	err := r.conn.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM queue WHERE id = ?`, key)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete queued %d: %w", key, err)
	}
	return nil
}

func (r *SQLiteRepo) CountQueued(ctx context.Context) (int64, error) {
	var cnt int64
	if err := r.conn.QueryRow(ctx, `SELECT COUNT(*) FROM queue`).Scan(&cnt); err != nil {
		return 0, fmt.Errorf("count queue: %w", err)
	}
	return cnt, nil
}
