package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/garnizeh/rioforms/api"
	dbfs "github.com/garnizeh/rioforms/db"
	"github.com/garnizeh/rioforms/internal/cache"
	"github.com/garnizeh/rioforms/internal/catalog"
	"github.com/garnizeh/rioforms/internal/config"
	"github.com/garnizeh/rioforms/internal/connectivity"
	"github.com/garnizeh/rioforms/internal/db"
	"github.com/garnizeh/rioforms/internal/notify"
	"github.com/garnizeh/rioforms/internal/proxy"
	"github.com/garnizeh/rioforms/internal/replay"
	"github.com/garnizeh/rioforms/internal/repository/sqlite"
	"github.com/garnizeh/rioforms/internal/session"
	"github.com/garnizeh/rioforms/internal/submission"
	"github.com/garnizeh/rioforms/pkg/formservice"
)

// app holds every long-lived component of one process.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	conn   *db.DB
	repo   *sqlite.SQLiteRepo
	caches cache.Store
	redis  *cache.Redis
	remote *formservice.Client

	prober  *connectivity.Prober
	catalog *catalog.Service
	engine  *replay.Engine
	monitor *connectivity.Monitor
	submit  *submission.Service
	toasts  *notify.Toasts
	proxy   *proxy.Intermediary
	wiper   *session.Wiper
}

// openStore opens the local database and brings its layout up to date.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*db.DB, error) {
	conn, err := db.New(ctx, cfg.DatabasePath, logger)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx, conn, dbfs.Migrations); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return conn, nil
}

func newApp(ctx context.Context, cfg *config.Config, version string, logger *slog.Logger) (*app, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &app{cfg: cfg, logger: logger, toasts: &notify.Toasts{}}
	if err := a.build(ctx, version); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context, version string) (err error) {
	cfg, logger := a.cfg, a.logger
	if a.conn, err = openStore(ctx, cfg, logger); err != nil {
		return err
	}
	a.repo = sqlite.New(a.conn, logger)

	switch cfg.Cache.Backend {
	case "redis":
		a.redis = cache.NewRedis(cache.RedisOptions{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			Prefix:   cfg.Cache.Redis.Prefix,
		})
		if err = a.redis.Ping(ctx); err != nil {
			return err
		}
		a.caches = a.redis
	case "memory":
		a.caches = cache.NewMemory()
	default:
		a.caches = sqlite.NewCacheStore(a.conn)
	}

	if a.remote, err = formservice.NewDefaultClient(cfg.Remote); err != nil {
		return err
	}
	if cfg.Replay.DuplicatePattern != "" {
		a.remote.WithDuplicatePattern(regexp.MustCompile(cfg.Replay.DuplicatePattern))
	}

	probeURL := strings.TrimRight(cfg.Remote.BaseURL, "/") + cfg.Probe.Path
	a.prober = connectivity.NewProber(probeURL, cfg.Probe.Interval, cfg.Probe.Timeout, nil, logger)

	tolerate := cfg.Replay.TolerateDuplicates
	a.catalog = catalog.New(a.remote, a.repo, logger)
	a.engine = replay.New(a.repo, a.remote, a.prober, tolerate, logger)
	a.monitor = connectivity.NewMonitor(a.prober, a.engine, a.catalog, a.repo, a.toasts, logger)
	a.submit = submission.NewService(a.catalog, a.remote, a.repo, a.prober, tolerate, logger)

	upstream, err := url.Parse(cfg.Remote.BaseURL)
	if err != nil {
		return fmt.Errorf("upstream url: %w", err)
	}
	cacheVersion := cfg.Cache.Version
	if cacheVersion == "" {
		cacheVersion = version
	}
	if a.proxy, err = proxy.New(a.caches, proxy.Options{
		Upstream: upstream,
		Version:  cacheVersion,
		Precache: cfg.Cache.Precache,
		Timeout:  cfg.Remote.Timeout,
		Logger:   logger,
	}); err != nil {
		return err
	}

	a.wiper = session.NewWiper(a.proxy, a.caches, a.repo, a.conn, a.prober, logger)
	return nil
}

func (a *app) handler(version, buildTime string) http.Handler {
	return api.SetupRoutes(api.Deps{
		Catalog: a.catalog,
		Submit:  a.submit,
		Queue:   a.repo,
		KV:      a.repo,
		Sync:    a.monitor,
		Online:  a.prober,
		Toasts:  a.toasts,
		Session: a.wiper,
		Schema: func(ctx context.Context) (string, error) {
			return db.Version(ctx, a.conn)
		},
		Fallback: a.proxy,
	}, version, buildTime)
}

// Close releases everything newApp opened. Safe on a partially built app.
func (a *app) Close() {
	if a.proxy != nil {
		a.proxy.Close()
	}
	if a.remote != nil {
		_ = a.remote.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("close redis", slog.Any("err", err))
		}
	}
	if a.conn != nil && (a.wiper == nil || !a.wiper.Ended()) {
		if err := a.conn.Close(); err != nil {
			a.logger.Warn("close db", slog.Any("err", err))
		}
	}
}
