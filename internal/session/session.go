// Package session ends a device session: it removes every trace of local
// state before handing the browser to the upstream logout page.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/garnizeh/rioforms/internal/cache"
	"github.com/garnizeh/rioforms/pkg/repository"
)

// ErrOffline is returned when logout is attempted without connectivity; the
// upstream logout page would not load and queued work would be lost.
var ErrOffline = errors.New("logout requires a connection")

type Unregisterer interface {
	Unregister()
}

type Destroyer interface {
	Destroy() error
}

type OnlineChecker interface {
	Online() bool
}

type Wiper struct {
	intermediary Unregisterer
	caches       cache.Store
	kv           repository.KVRepo
	store        Destroyer
	online       OnlineChecker
	logger       *slog.Logger
	now          func() time.Time

	ended atomic.Bool
}

func NewWiper(intermediary Unregisterer, caches cache.Store, kv repository.KVRepo, store Destroyer, online OnlineChecker, logger *slog.Logger) *Wiper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Wiper{
		intermediary: intermediary,
		caches:       caches,
		kv:           kv,
		store:        store,
		online:       online,
		logger:       logger,
		now:          time.Now,
	}
}

// WithClock replaces the time source used for the cache-busting parameter.
func (w *Wiper) WithClock(now func() time.Time) *Wiper {
	w.now = now
	return w
}

// Ended reports whether Logout already ran.
func (w *Wiper) Ended() bool {
	return w.ended.Load()
}

// Logout wipes local state and returns the upstream logout target. Each step
// runs even when an earlier one failed; failures are logged, and the
// redirect target is returned regardless.
func (w *Wiper) Logout(ctx context.Context) (string, error) {
	if w.online != nil && !w.online.Online() {
		return "", ErrOffline
	}
	w.ended.Store(true)

	if w.intermediary != nil {
		w.intermediary.Unregister()
	}

	if w.caches != nil {
		names, err := w.caches.Collections(ctx)
		if err != nil {
			w.logger.Error("list cache collections", slog.Any("err", err))
		}
		for _, n := range names {
			if err := w.caches.DeleteCollection(ctx, n); err != nil {
				w.logger.Error("delete cache collection", slog.String("collection", n), slog.Any("err", err))
			}
		}
	}

	if w.kv != nil {
		if err := w.kv.ClearValues(ctx); err != nil {
			w.logger.Error("clear kv", slog.Any("err", err))
		}
	}

	if w.store != nil {
		if err := w.store.Destroy(); err != nil {
			w.logger.Error("destroy local database", slog.Any("err", err))
		}
	}

	target := fmt.Sprintf("/logout?cb=%d", w.now().UnixMilli())
	w.logger.Info("session ended", slog.String("redirect", target))
	return target, nil
}
