package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/garnizeh/rioforms/pkg/formservice"
	"github.com/garnizeh/rioforms/pkg/models"
	"github.com/garnizeh/rioforms/pkg/repository"
)

// ErrRejected wraps a definitive refusal by the form service.
var ErrRejected = errors.New("submission rejected")

const (
	StatusSent   = "sent"
	StatusQueued = "queued"
)

type Sender interface {
	DeepInsert(ctx context.Context, payload models.QueuedSubmission, tolerateConflict bool) (formservice.Result, error)
}

type QuestionSource interface {
	Questions(ctx context.Context, formID string) ([]models.Question, error)
}

type OnlineChecker interface {
	Online() bool
}

// Request is the raw user input for one form.
type Request struct {
	FormID    string         `json:"form_ID"`
	FirstName string         `json:"firstName"`
	LastName  string         `json:"lastName"`
	Values    map[string]any `json:"values"`
}

// Outcome says where a submission ended up.
type Outcome struct {
	Status   string `json:"status"`
	ID       string `json:"id"`
	QueueKey int64  `json:"queue_key,omitempty"`
}

type Service struct {
	questions QuestionSource
	sender    Sender
	queue     repository.QueueRepo
	online    OnlineChecker
	tolerate  bool
	logger    *slog.Logger
}

func NewService(questions QuestionSource, sender Sender, queue repository.QueueRepo, online OnlineChecker, tolerateDuplicates bool, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		questions: questions,
		sender:    sender,
		queue:     queue,
		online:    online,
		tolerate:  tolerateDuplicates,
		logger:    logger,
	}
}

// Submit encodes req and sends it when online. When offline, or when the send
// fails before reaching the server, the payload is queued for replay with
// its IDs already fixed.
func (s *Service) Submit(ctx context.Context, req Request) (Outcome, error) {
	if strings.TrimSpace(req.FormID) == "" {
		return Outcome{}, fmt.Errorf("%w: form id is required", ErrInvalid)
	}
	if strings.TrimSpace(req.FirstName) == "" || strings.TrimSpace(req.LastName) == "" {
		return Outcome{}, fmt.Errorf("%w: first and last name are required", ErrInvalid)
	}

	qs, err := s.questions.Questions(ctx, req.FormID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load questions: %w", err)
	}

	payload := Encode(req.FormID, req.FirstName, req.LastName, qs, req.Values)
	if err := Validate(ctx, payload); err != nil {
		return Outcome{}, err
	}

	if !s.online.Online() {
		return s.enqueue(ctx, payload)
	}

	res, err := s.sender.DeepInsert(ctx, payload, s.tolerate)
	if err != nil {
		if formservice.IsUnconfirmed(err) {
			s.logger.Warn("send failed, queueing submission", slog.String("id", payload.ID), slog.Any("err", err))
			return s.enqueue(ctx, payload)
		}
		return Outcome{}, fmt.Errorf("send submission: %w", err)
	}
	if !res.OK {
		return Outcome{}, fmt.Errorf("%w: %w", ErrRejected, res.Err())
	}

	s.logger.Info("submission sent", slog.String("id", res.ID), slog.Bool("duplicate", res.Duplicate))
	return Outcome{Status: StatusSent, ID: res.ID}, nil
}

func (s *Service) enqueue(ctx context.Context, payload models.QueuedSubmission) (Outcome, error) {
	key, err := s.queue.Enqueue(ctx, payload)
	if err != nil {
		return Outcome{}, fmt.Errorf("queue submission: %w", err)
	}
	s.logger.Info("submission queued", slog.String("id", payload.ID), slog.Int64("key", key))
	return Outcome{Status: StatusQueued, ID: payload.ID, QueueKey: key}, nil
}
