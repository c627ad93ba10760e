package repository

import (
	"context"

	"github.com/garnizeh/rioforms/pkg/models"
)

// Repository interfaces for the local durable store. These are the public
// contracts consumers should depend on; concrete implementations live under
// internal/.

type CatalogRepo interface {
	// SaveForms replaces the whole form collection atomically.
	SaveForms(ctx context.Context, forms []models.Form) error
	GetForms(ctx context.Context) ([]models.Form, error)
	// SaveQuestions upserts the question list of one form only.
	SaveQuestions(ctx context.Context, formID string, items []models.Question) error
	GetQuestions(ctx context.Context, formID string) ([]models.Question, error)
}

type QueueRepo interface {
	Enqueue(ctx context.Context, payload models.QueuedSubmission) (int64, error)
	// ListQueue returns every pending row in ascending sequence order.
	ListQueue(ctx context.Context) ([]models.QueueRow, error)
	UpdatePayload(ctx context.Context, key int64, payload models.QueuedSubmission) error
	DeleteQueued(ctx context.Context, key int64) error
	CountQueued(ctx context.Context) (int64, error)
}

type KVRepo interface {
	GetValue(ctx context.Context, key string) (string, bool, error)
	SetValue(ctx context.Context, key, value string) error
	ClearValues(ctx context.Context) error
}

// Well-known kv keys.
const (
	KeyLastSyncAt    = "last_sync_at"
	KeyLastSyncCount = "last_sync_count"
	KeyLastPreloadAt = "last_preload_at"
)
