package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garnizeh/rioforms/pkg/models"
)

// SaveForms replaces the cached form list. The clear and the inserts share one
// transaction, so readers see either the old list or the new one.
func (r *SQLiteRepo) SaveForms(ctx context.Context, forms []models.Form) error {
	err := r.conn.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM forms`); err != nil {
			return err
		}
		for _, f := range forms {
			if _, err := tx.ExecContext(ctx, `INSERT INTO forms (id, form_name, active) VALUES (?, ?, ?)`, f.ID, f.FormName, f.Active); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save forms: %w", err)
	}
	return nil
}

func (r *SQLiteRepo) GetForms(ctx context.Context) ([]models.Form, error) {
	rows, err := r.conn.QueryRows(ctx, `SELECT id, form_name, active FROM forms ORDER BY form_name, id`)
	if err != nil {
		return nil, fmt.Errorf("get forms: %w", err)
	}
	defer rows.Close()

	out := []models.Form{}
	for rows.Next() {
		var f models.Form
		if err := rows.Scan(&f.ID, &f.FormName, &f.Active); err != nil {
			return nil, fmt.Errorf("scan form: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
