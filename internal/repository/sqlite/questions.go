package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/garnizeh/rioforms/pkg/models"
)

func (r *SQLiteRepo) SaveQuestions(ctx context.Context, formID string, items []models.Question) error {
	if items == nil {
		items = []models.Question{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode questions: %w", err)
	}

	err = r.conn.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO questions (form_id, items, updated) VALUES (?, ?, ?)
			ON CONFLICT(form_id) DO UPDATE SET items = excluded.items, updated = excluded.updated`,
			formID, string(b), now())
		return err
	})
	if err != nil {
		return fmt.Errorf("save questions for %s: %w", formID, err)
	}
	return nil
}

// GetQuestions returns the cached list for formID, or an empty list when the
// form was never cached.
func (r *SQLiteRepo) GetQuestions(ctx context.Context, formID string) ([]models.Question, error) {
	var raw string
	row := r.conn.QueryRow(ctx, `SELECT items FROM questions WHERE form_id = ?`, formID)
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return []models.Question{}, nil
		}
		return nil, fmt.Errorf("get questions for %s: %w", formID, err)
	}

	out := []models.Question{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode questions for %s: %w", formID, err)
	}
	return out, nil
}
