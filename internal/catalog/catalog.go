// Package catalog serves the form list and question lists, preferring the
// remote service and falling back to the local snapshot when it is
// unreachable.
package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/garnizeh/rioforms/internal/metrics"
	"github.com/garnizeh/rioforms/pkg/models"
	"github.com/garnizeh/rioforms/pkg/repository"
)

// Remote is the read side of the form service.
type Remote interface {
	ListActiveForms(ctx context.Context) ([]models.Form, error)
	ListQuestions(ctx context.Context, formID string) ([]models.Question, error)
}

type Service struct {
	remote Remote
	repo   repository.CatalogRepo
	logger *slog.Logger
}

// PreloadResult counts what a preload stored locally.
type PreloadResult struct {
	Forms        int
	QuestionSets int
}

func New(remote Remote, repo repository.CatalogRepo, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{remote: remote, repo: repo, logger: logger}
}

// Forms returns the active forms. A successful fetch replaces the local
// snapshot; a failed one falls back to it. The fetch error is returned only
// when nothing is cached.
func (s *Service) Forms(ctx context.Context) ([]models.Form, error) {
	forms, err := s.remote.ListActiveForms(ctx)
	if err == nil {
		if serr := s.repo.SaveForms(ctx, forms); serr != nil {
			s.logger.Error("failed to cache forms", slog.Any("err", serr))
		}
		return forms, nil
	}

	cached, cerr := s.repo.GetForms(ctx)
	if cerr != nil {
		return nil, fmt.Errorf("%w (cache: %v)", err, cerr)
	}
	if len(cached) == 0 {
		return nil, err
	}
	s.logger.Info("serving cached forms", slog.Int("count", len(cached)), slog.Any("fetch_err", err))
	return cached, nil
}

// Questions is Forms for one form's question list.
func (s *Service) Questions(ctx context.Context, formID string) ([]models.Question, error) {
	qs, err := s.remote.ListQuestions(ctx, formID)
	if err == nil {
		if serr := s.repo.SaveQuestions(ctx, formID, qs); serr != nil {
			s.logger.Error("failed to cache questions", slog.String("form_id", formID), slog.Any("err", serr))
		}
		return qs, nil
	}

	cached, cerr := s.repo.GetQuestions(ctx, formID)
	if cerr != nil {
		return nil, fmt.Errorf("%w (cache: %v)", err, cerr)
	}
	if len(cached) == 0 {
		return nil, err
	}
	s.logger.Info("serving cached questions", slog.String("form_id", formID), slog.Int("count", len(cached)))
	return cached, nil
}

// Preload stores every active form and, one form at a time, its questions.
// A form whose questions cannot be fetched is skipped. The error is non-nil
// only when the form list itself could not be fetched or stored.
func (s *Service) Preload(ctx context.Context) (PreloadResult, error) {
	var res PreloadResult

	forms, err := s.remote.ListActiveForms(ctx)
	if err != nil {
		metrics.PreloadRuns.WithLabelValues("failed").Inc()
		return res, fmt.Errorf("preload forms: %w", err)
	}
	if err := s.repo.SaveForms(ctx, forms); err != nil {
		metrics.PreloadRuns.WithLabelValues("failed").Inc()
		return res, fmt.Errorf("preload forms: %w", err)
	}
	res.Forms = len(forms)

	for _, f := range forms {
		if ctx.Err() != nil {
			break
		}
		qs, err := s.remote.ListQuestions(ctx, f.ID)
		if err != nil {
			s.logger.Warn("preload: skipping questions", slog.String("form_id", f.ID), slog.Any("err", err))
			continue
		}
		if err := s.repo.SaveQuestions(ctx, f.ID, qs); err != nil {
			s.logger.Warn("preload: failed to store questions", slog.String("form_id", f.ID), slog.Any("err", err))
			continue
		}
		res.QuestionSets++
	}

	metrics.PreloadRuns.WithLabelValues("ok").Inc()
	s.logger.Info("catalog preloaded", slog.Int("forms", res.Forms), slog.Int("question_sets", res.QuestionSets))
	return res, nil
}
