package sqlite

import (
	"log/slog"
	"time"

	"github.com/garnizeh/rioforms/internal/cache"
	"github.com/garnizeh/rioforms/internal/db"
	"github.com/garnizeh/rioforms/pkg/repository"
)

// SQLiteRepo implements repository interfaces using the internal DB wrapper.
type SQLiteRepo struct {
	conn   *db.DB
	logger *slog.Logger
}

// Ensure SQLiteRepo implements the public interfaces.
var _ repository.CatalogRepo = (*SQLiteRepo)(nil)
var _ repository.QueueRepo = (*SQLiteRepo)(nil)
var _ repository.KVRepo = (*SQLiteRepo)(nil)
var _ cache.Store = (*CacheStore)(nil)

func New(conn *db.DB, logger *slog.Logger) *SQLiteRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteRepo{conn: conn, logger: logger}
}

func now() int64 {
	return time.Now().UTC().UnixMilli()
}
