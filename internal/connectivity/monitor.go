package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/garnizeh/rioforms/internal/catalog"
	"github.com/garnizeh/rioforms/internal/notify"
	"github.com/garnizeh/rioforms/pkg/repository"
)

type Drainer interface {
	Drain(ctx context.Context) (int, error)
}

type Preloader interface {
	Preload(ctx context.Context) (catalog.PreloadResult, error)
}

// Monitor drains the queue whenever the signal reports online, and preloads
// the catalog the first time it does.
type Monitor struct {
	signal    Signal
	drainer   Drainer
	preloader Preloader
	kv        repository.KVRepo
	toasts    *notify.Toasts
	logger    *slog.Logger

	preloaded atomic.Bool
}

func NewMonitor(signal Signal, drainer Drainer, preloader Preloader, kv repository.KVRepo, toasts *notify.Toasts, logger *slog.Logger) *Monitor {
	if toasts == nil {
		toasts = &notify.Toasts{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{signal: signal, drainer: drainer, preloader: preloader, kv: kv, toasts: toasts, logger: logger}
}

// Run evaluates the current state once and then every transition until ctx
// ends.
func (m *Monitor) Run(ctx context.Context) error {
	ch := m.signal.Subscribe(ctx)
	m.evaluate(ctx, m.signal.Online())
	for {
		select {
		case <-ctx.Done():
			return nil
		case online, ok := <-ch:
			if !ok {
				return nil
			}
			m.evaluate(ctx, online)
		}
	}
}

func (m *Monitor) evaluate(ctx context.Context, online bool) {
	if !online {
		m.logger.Info("offline: submissions will be queued")
		return
	}
	if _, err := m.Sync(ctx); err != nil {
		m.logger.Error("sync failed", slog.Any("err", err))
	}
	m.preloadOnce(ctx)
}

// Sync drains the queue now and records the outcome.
func (m *Monitor) Sync(ctx context.Context) (int, error) {
	n, err := m.drainer.Drain(ctx)
	if err != nil {
		return n, err
	}
	if n > 0 {
		m.toasts.Push(fmt.Sprintf("Synced %d submission(s)", n))
		m.stamp(ctx, repository.KeyLastSyncAt, time.Now().UTC().Format(time.RFC3339))
		m.stamp(ctx, repository.KeyLastSyncCount, strconv.Itoa(n))
	}
	return n, nil
}

// preloadOnce runs the catalog preload on the first online observation. A
// run that could not fetch the form list is retried on the next one.
func (m *Monitor) preloadOnce(ctx context.Context) {
	if m.preloader == nil || m.preloaded.Load() {
		return
	}
	res, err := m.preloader.Preload(ctx)
	if err != nil {
		m.logger.Warn("preload failed, will retry when next online", slog.Any("err", err))
		return
	}
	m.preloaded.Store(true)
	if res.Forms > 0 {
		m.toasts.Push(fmt.Sprintf("Preloaded %d form(s), %d question set(s)", res.Forms, res.QuestionSets))
	}
	m.stamp(ctx, repository.KeyLastPreloadAt, time.Now().UTC().Format(time.RFC3339))
}

// Preloaded reports whether the one-shot preload has completed.
func (m *Monitor) Preloaded() bool {
	return m.preloaded.Load()
}

func (m *Monitor) stamp(ctx context.Context, key, value string) {
	if m.kv == nil {
		return
	}
	if err := m.kv.SetValue(ctx, key, value); err != nil {
		m.logger.Warn("failed to record status", slog.String("key", key), slog.Any("err", err))
	}
}
