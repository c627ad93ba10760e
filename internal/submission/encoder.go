// Package submission turns user input into replay-safe deep-insert payloads
// and routes them either straight to the form service or into the local queue.
package submission

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/garnizeh/rioforms/pkg/models"
)

var logger = slog.Default()

// SetLogger replaces the package logger.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

// Encode builds a submission for formID. values maps question IDs to the raw
// user input; questions without a value are answered with false or "".
// Every record and answer gets a fresh ID here, before anything is sent.
func Encode(formID, firstName, lastName string, questions []models.Question, values map[string]any) models.QueuedSubmission {
	answers := make([]models.AnswerRecord, 0, len(questions))
	for _, q := range questions {
		a := models.AnswerRecord{ID: NewID(), QuestionID: q.ID}
		v := values[q.ID]
		if q.IsBool() {
			b := truthy(v)
			a.BoolAnswer = &b
		} else {
			s := text(v)
			a.TextAnswer = &s
		}
		answers = append(answers, a)
	}

	return models.QueuedSubmission{
		ID:            NewID(),
		FormID:        formID,
		FirstName:     firstName,
		LastName:      lastName,
		AnswerRecords: answers,
	}
}

// Backfill assigns IDs to a payload queued before IDs were assigned at
// enqueue time. Existing IDs are kept. It reports whether anything changed.
func Backfill(p *models.QueuedSubmission) bool {
	if p.ID != "" {
		return false
	}
	p.ID = NewID()
	for i := range p.AnswerRecords {
		if p.AnswerRecords[i].ID == "" {
			p.AnswerRecords[i].ID = NewID()
		}
	}
	return true
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "on", "1", "yes":
			return true
		}
		return false
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return false
	}
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
