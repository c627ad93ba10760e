package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/garnizeh/rioforms/internal/notify"
	"github.com/garnizeh/rioforms/internal/submission"
	"github.com/garnizeh/rioforms/pkg/models"
	"github.com/garnizeh/rioforms/pkg/repository"
)

// Prefix is where the local API lives. Everything outside it belongs to the
// upstream origin and goes through the cache intermediary.
const Prefix = "/_offline"

type Catalog interface {
	Forms(ctx context.Context) ([]models.Form, error)
	Questions(ctx context.Context, formID string) ([]models.Question, error)
}

type Submitter interface {
	Submit(ctx context.Context, req submission.Request) (submission.Outcome, error)
}

type Syncer interface {
	Sync(ctx context.Context) (int, error)
}

type OnlineChecker interface {
	Online() bool
}

type Session interface {
	Logout(ctx context.Context) (string, error)
	Ended() bool
}

// Deps groups what the handlers need. Fallback receives every request that
// no local route claims; nil leaves those requests at 404.
type Deps struct {
	Catalog  Catalog
	Submit   Submitter
	Queue    repository.QueueRepo
	KV       repository.KVRepo
	Sync     Syncer
	Online   OnlineChecker
	Toasts   *notify.Toasts
	Session  Session
	Schema   SchemaFunc
	Fallback http.Handler
}

func SetupRoutes(d Deps, version, buildTime string) *mux.Router {
	r := mux.NewRouter()

	// Middleware chain
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)
	r.Use(SessionGuard(d.Session))

	systemHandler := NewSystemHandler(d.Schema, d.Queue)
	formsHandler := &FormsHandler{catalog: d.Catalog, submit: d.Submit}
	queueHandler := &QueueHandler{queue: d.Queue, kv: d.KV, sync: d.Sync, online: d.Online, toasts: d.Toasts}
	sessionHandler := &SessionHandler{session: d.Session}

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	local := r.PathPrefix(Prefix).Subrouter()
	local.HandleFunc("/health", systemHandler.HealthHandler).Methods("GET")
	local.HandleFunc("/version", systemHandler.VersionHandler(version, buildTime)).Methods("GET")
	local.HandleFunc("/status", queueHandler.Status).Methods("GET")

	local.HandleFunc("/forms", formsHandler.ListForms).Methods("GET")
	local.HandleFunc("/forms/{id}/questions", formsHandler.ListQuestions).Methods("GET")
	local.HandleFunc("/forms/{id}/submissions", formsHandler.CreateSubmission).Methods("POST")

	local.HandleFunc("/queue", queueHandler.ListQueue).Methods("GET")
	local.HandleFunc("/sync", queueHandler.Sync).Methods("POST")
	local.HandleFunc("/logout", sessionHandler.Logout).Methods("POST")
	local.PathPrefix("/").HandlerFunc(http.NotFound)

	if d.Fallback != nil {
		r.PathPrefix("/").Handler(d.Fallback)
	}

	return r
}
