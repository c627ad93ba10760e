// Package proxy is the cache intermediary between the browser and the
// upstream origin. Every same-origin request goes through it; each resource
// class gets its own caching policy so the app shell, its assets and the last
// catalog reads stay usable while the device is offline.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/singleflight"

	"github.com/garnizeh/rioforms/internal/cache"
	"github.com/garnizeh/rioforms/internal/metrics"
)

// CacheHeader tells the client where a response came from.
const CacheHeader = "X-Rioforms-Cache"

// DefaultMaxBody bounds the responses the intermediary buffers and caches.
const DefaultMaxBody = 32 << 20

var errTooLarge = errors.New("response too large to cache")

var emptyResult = []byte(`{"value":[]}`)

// request headers that are not forwarded on fetches we issue ourselves
var skipRequestHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Connection":    true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Host":                true,
	"Accept-Encoding":     true,
}

type Options struct {
	// Upstream is the origin the browser would otherwise talk to.
	Upstream *url.URL
	// Version namespaces the cache collections.
	Version string
	// Precache lists shell paths fetched by Install.
	Precache []string
	// Timeout bounds background refreshes.
	Timeout time.Duration
	// Transport is used for every upstream request. Defaults to
	// http.DefaultTransport.
	Transport http.RoundTripper
	// MaxBody is the largest response that is cached. Bigger responses are
	// streamed through uncached. Defaults to DefaultMaxBody.
	MaxBody int64
	Logger  *slog.Logger
}

type Intermediary struct {
	upstream *url.URL
	store    cache.Store
	client   *http.Client
	rp       *httputil.ReverseProxy
	router   *mux.Router
	logger   *slog.Logger
	timeout  time.Duration
	maxBody  int64
	precache []string

	shell, api, static string

	unregistered atomic.Bool
	closed       atomic.Bool
	refresh      singleflight.Group
	wg           sync.WaitGroup
}

func New(store cache.Store, opts Options) (*Intermediary, error) {
	if opts.Upstream == nil || opts.Upstream.Host == "" {
		return nil, errors.New("proxy: upstream url is required")
	}
	if opts.Version == "" {
		return nil, errors.New("proxy: cache version is required")
	}
	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MaxBody <= 0 {
		opts.MaxBody = DefaultMaxBody
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	i := &Intermediary{
		upstream: opts.Upstream,
		store:    store,
		client: &http.Client{
			Transport: opts.Transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:   opts.Logger,
		timeout:  opts.Timeout,
		maxBody:  opts.MaxBody,
		precache: opts.Precache,
		shell:    "rioforms-shell-" + opts.Version,
		api:      "rioforms-api-" + opts.Version,
		static:   "rioforms-static-" + opts.Version,
	}

	upstream := opts.Upstream
	i.rp = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.SetXForwarded()
		},
		Transport: opts.Transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			i.logger.Warn("upstream unreachable", slog.String("path", r.URL.Path), slog.Any("err", err))
			http.Error(w, "upstream unreachable", http.StatusBadGateway)
		},
	}

	i.router = i.routes()
	return i, nil
}

func (i *Intermediary) routes() *mux.Router {
	r := mux.NewRouter()
	r.SkipClean(true)

	// authentication flow stays in control of the upstream
	r.Path("/logout").Handler(i.rp)
	r.PathPrefix("/login").Handler(i.rp)
	r.Path("/logged-out.html").Handler(i.rp)

	r.MatcherFunc(isNavigation).MatcherFunc(isRead).HandlerFunc(i.navigate)
	r.PathPrefix("/assets/").MatcherFunc(isRead).HandlerFunc(i.asset)
	r.PathPrefix("/api/").MatcherFunc(isRead).HandlerFunc(i.apiRead)

	r.PathPrefix("/").Handler(i.rp)
	return r
}

func (i *Intermediary) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if i.unregistered.Load() {
		i.rp.ServeHTTP(w, r)
		return
	}
	i.router.ServeHTTP(w, r)
}

// Collections returns the shell, api and static collection names of the
// running version.
func (i *Intermediary) Collections() (shell, api, static string) {
	return i.shell, i.api, i.static
}

func isRead(r *http.Request, _ *mux.RouteMatch) bool {
	return r.Method == http.MethodGet
}

// isNavigation matches page loads. Form posts that navigate are matched too;
// the route pairs it with isRead so only GETs are cached.
func isNavigation(r *http.Request, _ *mux.RouteMatch) bool {
	return r.Header.Get("Sec-Fetch-Mode") == "navigate" || strings.Contains(r.Header.Get("Accept"), "text/html")
}

// Install precaches the shell paths. Paths that fail are reported together;
// the ones that succeeded stay cached.
func (i *Intermediary) Install(ctx context.Context) error {
	var errs []error
	for _, p := range i.precache {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p, nil)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		req.Header.Set("Accept", "text/html,*/*")
		e, err := i.fetch(ctx, req)
		if err != nil {
			errs = append(errs, fmt.Errorf("precache %s: %w", p, err))
			continue
		}
		if !e.OK() {
			errs = append(errs, fmt.Errorf("precache %s: status %d", p, e.Status))
			continue
		}
		if err := i.store.Put(ctx, i.shell, p, cache.NewEntry(e.Status, e.Header, e.Body)); err != nil {
			errs = append(errs, fmt.Errorf("precache %s: %w", p, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	i.logger.Info("shell precached", slog.String("collection", i.shell), slog.Int("files", len(i.precache)))
	return nil
}

// Activate drops every cache collection that does not belong to the running
// version.
func (i *Intermediary) Activate(ctx context.Context) error {
	names, err := i.store.Collections(ctx)
	if err != nil {
		return fmt.Errorf("activate: %w", err)
	}
	for _, n := range names {
		if n == i.shell || n == i.api || n == i.static {
			continue
		}
		if err := i.store.DeleteCollection(ctx, n); err != nil {
			return fmt.Errorf("activate: %w", err)
		}
		i.logger.Info("dropped stale cache collection", slog.String("collection", n))
	}
	return nil
}

// Unregister switches the intermediary to plain pass-through.
func (i *Intermediary) Unregister() {
	i.unregistered.Store(true)
}

func (i *Intermediary) Registered() bool {
	return !i.unregistered.Load()
}

// Close stops scheduling background refreshes and waits for running ones.
func (i *Intermediary) Close() {
	i.closed.Store(true)
	i.wg.Wait()
	i.client.CloseIdleConnections()
}

func (i *Intermediary) navigate(w http.ResponseWriter, r *http.Request) {
	const class = "navigation"
	key := r.URL.Path

	e, err := i.fetch(r.Context(), r)
	if err == nil {
		if e.OK() {
			i.put(r.Context(), i.shell, key, e)
		}
		i.write(w, e, class, "network")
		return
	}
	if errors.Is(err, errTooLarge) {
		i.bypass(w, r, class)
		return
	}
	i.logger.Debug("navigation fetch failed", slog.String("path", key), slog.Any("err", err))

	if c := i.match(r.Context(), i.shell, key); c != nil {
		i.write(w, c, class, "hit")
		return
	}
	if c := i.match(r.Context(), i.shell, "/index.html"); c != nil {
		i.write(w, c, class, "fallback")
		return
	}
	metrics.CacheRequests.WithLabelValues(class, "miss").Inc()
	http.Error(w, "offline and no cached page", http.StatusBadGateway)
}

func (i *Intermediary) asset(w http.ResponseWriter, r *http.Request) {
	const class = "static"
	key := r.URL.RequestURI()

	if c := i.match(r.Context(), i.static, key); c != nil {
		i.write(w, c, class, "hit")
		return
	}
	e, err := i.fetch(r.Context(), r)
	if errors.Is(err, errTooLarge) {
		i.bypass(w, r, class)
		return
	}
	if err != nil {
		metrics.CacheRequests.WithLabelValues(class, "miss").Inc()
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
		return
	}
	if e.OK() {
		i.put(r.Context(), i.static, key, e)
	}
	i.write(w, e, class, "network")
}

func (i *Intermediary) apiRead(w http.ResponseWriter, r *http.Request) {
	const class = "api"
	key := r.URL.RequestURI()

	if c := i.match(r.Context(), i.api, key); c != nil {
		i.revalidate(key, r)
		i.write(w, c, class, "stale")
		return
	}

	e, err := i.fetch(r.Context(), r)
	if errors.Is(err, errTooLarge) {
		i.bypass(w, r, class)
		return
	}
	if err != nil {
		i.logger.Debug("api read offline, answering empty result", slog.String("key", key), slog.Any("err", err))
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(CacheHeader, "synthetic")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(emptyResult)
		metrics.CacheRequests.WithLabelValues(class, "synthetic").Inc()
		return
	}
	if e.OK() {
		i.put(r.Context(), i.api, key, e)
	}
	i.write(w, e, class, "network")
}

// revalidate refreshes one API entry in the background. Concurrent refreshes
// of the same key share one upstream request.
func (i *Intermediary) revalidate(key string, r *http.Request) {
	if i.closed.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), i.timeout)
	req := r.Clone(ctx)

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		defer cancel()
		_, _, _ = i.refresh.Do(key, func() (any, error) {
			e, err := i.fetch(ctx, req)
			if err != nil {
				return nil, err
			}
			if e.OK() {
				i.put(ctx, i.api, key, e)
			}
			return nil, nil
		})
	}()
}

// fetch issues the GET r against the upstream and buffers the response. A
// body over the size limit is discarded and reported as errTooLarge.
func (i *Intermediary) fetch(ctx context.Context, r *http.Request) (*cache.Entry, error) {
	u := *i.upstream
	u.Path = strings.TrimRight(u.Path, "/") + r.URL.Path
	u.RawPath = ""
	u.RawQuery = r.URL.RawQuery

	out, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	for k, vv := range r.Header {
		if skipRequestHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		for _, v := range vv {
			out.Header.Add(k, v)
		}
	}

	resp, err := i.client.Do(out)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.ContentLength > i.maxBody {
		return nil, errTooLarge
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, i.maxBody+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > i.maxBody {
		return nil, errTooLarge
	}
	hdr := resp.Header.Clone()
	hdr.Del("Content-Length")
	hdr.Del("Transfer-Encoding")
	hdr.Del("Connection")
	return &cache.Entry{Status: resp.StatusCode, Header: hdr, Body: body, StoredAt: time.Now().UTC()}, nil
}

// bypass streams r through the reverse proxy without caching.
func (i *Intermediary) bypass(w http.ResponseWriter, r *http.Request, class string) {
	i.logger.Info("response over cache limit, streaming uncached", slog.String("path", r.URL.Path), slog.Int64("limit", i.maxBody))
	metrics.CacheRequests.WithLabelValues(class, "bypass").Inc()
	w.Header().Set(CacheHeader, "bypass")
	i.rp.ServeHTTP(w, r)
}

func (i *Intermediary) match(ctx context.Context, collection, key string) *cache.Entry {
	e, err := i.store.Match(ctx, collection, key)
	if err != nil {
		i.logger.Error("cache match failed", slog.String("collection", collection), slog.String("key", key), slog.Any("err", err))
		return nil
	}
	return e
}

func (i *Intermediary) put(ctx context.Context, collection, key string, e *cache.Entry) {
	if err := i.store.Put(ctx, collection, key, cache.NewEntry(e.Status, e.Header, e.Body)); err != nil {
		i.logger.Error("cache put failed", slog.String("collection", collection), slog.String("key", key), slog.Any("err", err))
	}
}

func (i *Intermediary) write(w http.ResponseWriter, e *cache.Entry, class, result string) {
	metrics.CacheRequests.WithLabelValues(class, result).Inc()
	w.Header().Set(CacheHeader, result)
	e.WriteTo(w)
}
