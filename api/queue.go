package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/garnizeh/rioforms/internal/notify"
	"github.com/garnizeh/rioforms/pkg/models"
	"github.com/garnizeh/rioforms/pkg/repository"
)

type QueueHandler struct {
	queue  repository.QueueRepo
	kv     repository.KVRepo
	sync   Syncer
	online OnlineChecker
	toasts *notify.Toasts
}

type statusResponse struct {
	Online        bool           `json:"online"`
	Queued        int64          `json:"queued"`
	LastSyncAt    string         `json:"last_sync_at,omitempty"`
	LastSyncCount int            `json:"last_sync_count"`
	LastPreloadAt string         `json:"last_preload_at,omitempty"`
	Toasts        []notify.Toast `json:"toasts"`
}

func (h *QueueHandler) Status(w http.ResponseWriter, r *http.Request) {
	n, err := h.queue.CountQueued(r.Context())
	if err != nil {
		logger.Error("count queue", slog.Any("err", err))
		http.Error(w, "failed to read queue", http.StatusInternalServerError)
		return
	}

	resp := statusResponse{Queued: n, Toasts: []notify.Toast{}}
	if h.online != nil {
		resp.Online = h.online.Online()
	}
	if h.toasts != nil {
		resp.Toasts = h.toasts.List()
	}

	ctx := r.Context()
	if v, ok, err := h.kv.GetValue(ctx, repository.KeyLastSyncAt); err == nil && ok {
		resp.LastSyncAt = v
	}
	if v, ok, err := h.kv.GetValue(ctx, repository.KeyLastSyncCount); err == nil && ok {
		resp.LastSyncCount, _ = strconv.Atoi(v)
	}
	if v, ok, err := h.kv.GetValue(ctx, repository.KeyLastPreloadAt); err == nil && ok {
		resp.LastPreloadAt = v
	}

	writeJSON(w, resp, http.StatusOK)
}

func (h *QueueHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	rows, err := h.queue.ListQueue(r.Context())
	if err != nil {
		logger.Error("list queue", slog.Any("err", err))
		http.Error(w, "failed to list queue", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []models.QueueRow{}
	}
	writeJSON(w, envelope[models.QueueRow]{Value: rows}, http.StatusOK)
}

func (h *QueueHandler) Sync(w http.ResponseWriter, r *http.Request) {
	n, err := h.sync.Sync(r.Context())
	if err != nil {
		logger.Error("sync", slog.Any("err", err))
		http.Error(w, "sync failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]int{"applied": n}, http.StatusOK)
}
