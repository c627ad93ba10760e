package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/garnizeh/rioforms/internal/submission"
	"github.com/garnizeh/rioforms/pkg/formservice"
	"github.com/garnizeh/rioforms/pkg/models"
)

type FormsHandler struct {
	catalog Catalog
	submit  Submitter
}

func (h *FormsHandler) ListForms(w http.ResponseWriter, r *http.Request) {
	forms, err := h.catalog.Forms(r.Context())
	if err != nil {
		logger.Warn("list forms", slog.Any("err", err))
		http.Error(w, "forms unavailable: "+err.Error(), http.StatusBadGateway)
		return
	}
	if forms == nil {
		forms = []models.Form{}
	}
	writeJSON(w, envelope[models.Form]{Value: forms}, http.StatusOK)
}

func (h *FormsHandler) ListQuestions(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	qs, err := h.catalog.Questions(r.Context(), id)
	if err != nil {
		logger.Warn("list questions", slog.String("form", id), slog.Any("err", err))
		http.Error(w, "questions unavailable: "+err.Error(), http.StatusBadGateway)
		return
	}
	if qs == nil {
		qs = []models.Question{}
	}
	writeJSON(w, envelope[models.Question]{Value: qs}, http.StatusOK)
}

type postSubmissionRequest struct {
	FirstName string         `json:"firstName"`
	LastName  string         `json:"lastName"`
	Values    map[string]any `json:"values"`
}

func (h *FormsHandler) CreateSubmission(w http.ResponseWriter, r *http.Request) {
	var req postSubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	out, err := h.submit.Submit(r.Context(), submission.Request{
		FormID:    mux.Vars(r)["id"],
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Values:    req.Values,
	})
	if err != nil {
		status := http.StatusInternalServerError
		var se *formservice.StatusError
		switch {
		case errors.Is(err, submission.ErrInvalid):
			status = http.StatusBadRequest
		case errors.As(err, &se) && se.Status >= 400 && se.Status < 500:
			status = se.Status
		case errors.Is(err, submission.ErrRejected), errors.Is(err, formservice.ErrHTMLResponse):
			status = http.StatusBadGateway
		}
		logger.Warn("submission failed", slog.Int("status", status), slog.Any("err", err))
		http.Error(w, err.Error(), status)
		return
	}

	if out.Status == submission.StatusQueued {
		writeJSON(w, out, http.StatusAccepted)
		return
	}
	writeJSON(w, out, http.StatusCreated)
}
