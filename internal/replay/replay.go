// Package replay drains the local submission queue through the form service.
//
// Rows are sent one at a time in ascending sequence order. A row leaves the
// queue only when the service accepted it or reported it as an already
// applied duplicate; the first failure stops the drain so later rows never
// overtake an earlier one.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/garnizeh/rioforms/internal/metrics"
	"github.com/garnizeh/rioforms/internal/submission"
	"github.com/garnizeh/rioforms/pkg/formservice"
	"github.com/garnizeh/rioforms/pkg/models"
	"github.com/garnizeh/rioforms/pkg/repository"
)

// Outcome is the final state of one replay attempt.
type Outcome string

const (
	Applied            Outcome = "applied"
	DuplicateTolerated Outcome = "duplicate_tolerated"
	ErrorRetryable     Outcome = "error_retryable"
	ErrorTerminal      Outcome = "error_terminal"
)

type Sender interface {
	DeepInsert(ctx context.Context, payload models.QueuedSubmission, tolerateConflict bool) (formservice.Result, error)
}

type OnlineChecker interface {
	Online() bool
}

type Engine struct {
	queue    repository.QueueRepo
	sender   Sender
	online   OnlineChecker
	tolerate bool
	logger   *slog.Logger

	draining atomic.Bool

	mu      sync.Mutex
	lastErr error
}

func New(queue repository.QueueRepo, sender Sender, online OnlineChecker, tolerateDuplicates bool, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{queue: queue, sender: sender, online: online, tolerate: tolerateDuplicates, logger: logger}
}

// Drain replays the queue and returns how many rows were removed. It is a
// no-op returning 0 while offline or while another drain is running. The
// error is non-nil only for local store failures; the reason a drain
// stopped early is available from LastError.
func (e *Engine) Drain(ctx context.Context) (int, error) {
	if !e.online.Online() {
		return 0, nil
	}
	if !e.draining.CompareAndSwap(false, true) {
		e.logger.Debug("drain already in progress")
		return 0, nil
	}
	defer e.draining.Store(false)

	start := time.Now()
	defer func() { metrics.ReplayDuration.Observe(time.Since(start).Seconds()) }()

	rows, err := e.queue.ListQueue(ctx)
	if err != nil {
		return 0, fmt.Errorf("replay: %w", err)
	}

	applied := 0
	var stopErr error
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			stopErr = err
			break
		}

		outcome, err := e.replayRow(ctx, row)
		metrics.ReplayOutcomes.WithLabelValues(string(outcome)).Inc()
		if outcome == Applied || outcome == DuplicateTolerated {
			if derr := e.queue.DeleteQueued(ctx, row.Key); derr != nil {
				e.finish(applied, derr)
				return applied, fmt.Errorf("replay: %w", derr)
			}
			applied++
			continue
		}
		if err != nil && isStoreError(err) {
			e.finish(applied, err)
			return applied, fmt.Errorf("replay: %w", err)
		}

		e.logger.Warn("replay stopped",
			slog.Int64("key", row.Key),
			slog.String("id", row.Payload.ID),
			slog.String("outcome", string(outcome)),
			slog.Any("err", err))
		stopErr = err
		break
	}

	e.finish(applied, stopErr)
	return applied, nil
}

// storeError marks failures of the local queue, as opposed to the remote.
type storeError struct{ err error }

func (s *storeError) Error() string { return s.err.Error() }
func (s *storeError) Unwrap() error { return s.err }

func isStoreError(err error) bool {
	_, ok := err.(*storeError)
	return ok
}

func (e *Engine) replayRow(ctx context.Context, row models.QueueRow) (Outcome, error) {
	p := row.Payload
	if submission.Backfill(&p) {
		if err := e.queue.UpdatePayload(ctx, row.Key, p); err != nil {
			return ErrorRetryable, &storeError{err}
		}
		e.logger.Info("assigned ids to legacy submission", slog.Int64("key", row.Key), slog.String("id", p.ID))
	}

	if err := submission.Validate(ctx, p); err != nil {
		return ErrorTerminal, err
	}

	res, err := e.sender.DeepInsert(ctx, p, e.tolerate)
	if err != nil {
		return ErrorRetryable, err
	}
	if !res.OK {
		return ErrorRetryable, res.Err()
	}
	if res.Duplicate {
		e.logger.Info("duplicate tolerated", slog.Int64("key", row.Key), slog.String("id", p.ID), slog.Int("status", res.Status))
		return DuplicateTolerated, nil
	}
	return Applied, nil
}

func (e *Engine) finish(applied int, err error) {
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()

	if n, cerr := e.queue.CountQueued(context.Background()); cerr == nil {
		metrics.QueueDepth.Set(float64(n))
	}
	if applied > 0 {
		e.logger.Info("queue drained", slog.Int("applied", applied))
	}
}

// LastError is the reason the most recent drain stopped before the end of
// the queue, or nil.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Draining reports whether a drain is running.
func (e *Engine) Draining() bool {
	return e.draining.Load()
}
