package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/garnizeh/rioforms/pkg/repository"
)

// SchemaFunc reports the migration version applied to the local store.
type SchemaFunc func(ctx context.Context) (string, error)

type SystemHandler struct {
	schema SchemaFunc
	queue  repository.QueueRepo
}

// NewSystemHandler builds the health and version endpoints. Either source may
// be nil, in which case its field is left out of the health report.
func NewSystemHandler(schema SchemaFunc, queue repository.QueueRepo) *SystemHandler {
	return &SystemHandler{schema: schema, queue: queue}
}

type healthReport struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Schema  string `json:"schema,omitempty"`
	Queued  *int64 `json:"queued,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthHandler answers 503 when the local store cannot be read; the
// browser shell cannot work offline without it.
func (h *SystemHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	rep := healthReport{Status: "ok", Service: "rioforms"}
	ctx := r.Context()

	var err error
	if h.schema != nil {
		rep.Schema, err = h.schema(ctx)
	}
	if err == nil && h.queue != nil {
		var n int64
		if n, err = h.queue.CountQueued(ctx); err == nil {
			rep.Queued = &n
		}
	}
	if err != nil {
		logger.Error("health check failed", slog.Any("err", err))
		rep.Status = "degraded"
		rep.Error = err.Error()
		writeJSON(w, rep, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, rep, http.StatusOK)
}

func (h *SystemHandler) VersionHandler(version, buildTime string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"version":"%s","buildTime":"%s"}`, version, buildTime)
	}
}
