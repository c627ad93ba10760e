package proxy_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garnizeh/rioforms/internal/cache"
	"github.com/garnizeh/rioforms/internal/proxy"
)

// switchable fails every round trip while down is set.
type switchable struct {
	down atomic.Bool
	next http.RoundTripper
}

func (s *switchable) RoundTrip(r *http.Request) (*http.Response, error) {
	if s.down.Load() {
		return nil, errors.New("dial tcp: network is unreachable")
	}
	return s.next.RoundTrip(r)
}

type origin struct {
	srv   *httptest.Server
	hits  atomic.Int32
	body  atomic.Value
	rt    *switchable
	store *cache.Memory
	ix    *proxy.Intermediary
}

func newOrigin(t *testing.T) *origin {
	t.Helper()
	o := &origin{store: cache.NewMemory()}
	o.body.Store("v1")
	o.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.hits.Add(1)
		switch {
		case r.URL.Path == "/api/broken":
			http.Error(w, "boom", http.StatusInternalServerError)
		case strings.HasPrefix(r.URL.Path, "/api/"):
			w.Header().Set("Content-Type", "application/json")
			http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc"})
			_, _ = io.WriteString(w, `{"value":["`+o.body.Load().(string)+`"]}`)
		case r.URL.Path == "/missing":
			http.NotFound(w, r)
		case r.Method == http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, "posted")
		default:
			w.Header().Set("Content-Type", "text/html")
			_, _ = io.WriteString(w, "page "+r.URL.Path+" "+o.body.Load().(string))
		}
	}))
	t.Cleanup(o.srv.Close)

	o.rt = &switchable{next: http.DefaultTransport}
	u, err := url.Parse(o.srv.URL)
	require.NoError(t, err)
	o.ix, err = proxy.New(o.store, proxy.Options{
		Upstream:  u,
		Version:   "v7",
		Precache:  []string{"/", "/index.html"},
		Timeout:   time.Second,
		Transport: o.rt,
	})
	require.NoError(t, err)
	t.Cleanup(o.ix.Close)
	return o
}

func (o *origin) do(t *testing.T, method, target string, html bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if html {
		req.Header.Set("Accept", "text/html,application/xhtml+xml")
	}
	rec := httptest.NewRecorder()
	o.ix.ServeHTTP(rec, req)
	return rec
}

func TestNew_Validation(t *testing.T) {
	_, err := proxy.New(cache.NewMemory(), proxy.Options{Version: "v1"})
	assert.Error(t, err)
	u, _ := url.Parse("http://origin")
	_, err = proxy.New(cache.NewMemory(), proxy.Options{Upstream: u})
	assert.Error(t, err)
}

func TestNavigation_NetworkFirstWithFallback(t *testing.T) {
	o := newOrigin(t)

	rec := o.do(t, http.MethodGet, "/forms", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "page /forms v1", rec.Body.String())
	assert.Equal(t, "network", rec.Header().Get(proxy.CacheHeader))

	rec = o.do(t, http.MethodGet, "/index.html", true)
	require.Equal(t, http.StatusOK, rec.Code)

	o.rt.down.Store(true)

	rec = o.do(t, http.MethodGet, "/forms", true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "page /forms v1", rec.Body.String())
	assert.Equal(t, "hit", rec.Header().Get(proxy.CacheHeader))

	rec = o.do(t, http.MethodGet, "/somewhere/else", true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "page /index.html v1", rec.Body.String())
	assert.Equal(t, "fallback", rec.Header().Get(proxy.CacheHeader))
}

func TestNavigation_OfflineWithoutCache(t *testing.T) {
	o := newOrigin(t)
	o.rt.down.Store(true)

	rec := o.do(t, http.MethodGet, "/forms", true)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestNavigation_ErrorsAreNotCached(t *testing.T) {
	o := newOrigin(t)

	rec := o.do(t, http.MethodGet, "/missing", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	shell, _, _ := o.ix.Collections()
	e, err := o.store.Match(context.Background(), shell, "/missing")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestAssets_CacheFirst(t *testing.T) {
	o := newOrigin(t)

	rec := o.do(t, http.MethodGet, "/assets/app.js?h=1", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(1), o.hits.Load())

	o.body.Store("v2")
	rec = o.do(t, http.MethodGet, "/assets/app.js?h=1", false)
	assert.Equal(t, "hit", rec.Header().Get(proxy.CacheHeader))
	assert.Contains(t, rec.Body.String(), "v1")
	assert.Equal(t, int32(1), o.hits.Load())

	o.rt.down.Store(true)
	rec = o.do(t, http.MethodGet, "/assets/other.css", false)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestAPI_StaleWhileRevalidate(t *testing.T) {
	o := newOrigin(t)

	rec := o.do(t, http.MethodGet, "/api/service/Forms?$top=5", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"value":["v1"]}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Values("Set-Cookie"), "live response keeps cookies")

	o.body.Store("v2")
	rec = o.do(t, http.MethodGet, "/api/service/Forms?$top=5", false)
	assert.Equal(t, "stale", rec.Header().Get(proxy.CacheHeader))
	assert.JSONEq(t, `{"value":["v1"]}`, rec.Body.String())
	assert.Empty(t, rec.Header().Values("Set-Cookie"), "cached response never replays cookies")

	require.Eventually(t, func() bool {
		rec := o.do(t, http.MethodGet, "/api/service/Forms?$top=5", false)
		return strings.Contains(rec.Body.String(), "v2")
	}, 2*time.Second, 20*time.Millisecond)

	o.rt.down.Store(true)
	rec = o.do(t, http.MethodGet, "/api/service/Forms?$top=5", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "stale", rec.Header().Get(proxy.CacheHeader))
}

func TestAPI_SyntheticEmptyResult(t *testing.T) {
	o := newOrigin(t)
	o.rt.down.Store(true)

	rec := o.do(t, http.MethodGet, "/api/service/Questions", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"value":[]}`, rec.Body.String())
	assert.Equal(t, "synthetic", rec.Header().Get(proxy.CacheHeader))
}

func TestAPI_FailuresAreNotCached(t *testing.T) {
	o := newOrigin(t)

	rec := o.do(t, http.MethodGet, "/api/broken", false)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	_, api, _ := o.ix.Collections()
	e, err := o.store.Match(context.Background(), api, "/api/broken")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestPassthrough(t *testing.T) {
	o := newOrigin(t)

	rec := o.do(t, http.MethodPost, "/api/service/$batch", false)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "posted", rec.Body.String())

	for _, p := range []string{"/logout", "/login?next=/", "/logged-out.html"} {
		rec = o.do(t, http.MethodGet, p, true)
		assert.Equal(t, http.StatusOK, rec.Code, p)
		assert.Empty(t, rec.Header().Get(proxy.CacheHeader), p)
	}

	names, err := o.store.Collections(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestInstallAndActivate(t *testing.T) {
	o := newOrigin(t)
	ctx := context.Background()

	require.NoError(t, o.store.Put(ctx, "rioforms-shell-v6", "/", cache.NewEntry(200, nil, []byte("old"))))
	require.NoError(t, o.ix.Install(ctx))
	require.NoError(t, o.ix.Activate(ctx))

	names, err := o.store.Collections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"rioforms-shell-v7"}, names)

	o.rt.down.Store(true)
	rec := o.do(t, http.MethodGet, "/", true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "page / v1", rec.Body.String())
}

func TestInstall_ReportsFailures(t *testing.T) {
	o := newOrigin(t)
	o.rt.down.Store(true)
	assert.Error(t, o.ix.Install(context.Background()))
}

func TestUnregister(t *testing.T) {
	o := newOrigin(t)
	assert.True(t, o.ix.Registered())

	o.ix.Unregister()
	assert.False(t, o.ix.Registered())

	rec := o.do(t, http.MethodGet, "/forms", true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get(proxy.CacheHeader))

	names, err := o.store.Collections(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
}

func newIntermediary(t *testing.T, h http.Handler, opts proxy.Options) (*proxy.Intermediary, *cache.Memory) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	store := cache.NewMemory()
	opts.Upstream = u
	opts.Version = "v7"
	ix, err := proxy.New(store, opts)
	require.NoError(t, err)
	t.Cleanup(ix.Close)
	return ix, store
}

func TestNavigation_FormPostIsForwardedUncached(t *testing.T) {
	var got atomic.Value
	ix, store := newIntermediary(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got.Store(r.Method + " " + string(b))
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "thanks")
	}), proxy.Options{})

	req := httptest.NewRequest(http.MethodPost, "/feedback", strings.NewReader("a=1&b=2"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Accept", "text/html")
	rec := httptest.NewRecorder()
	ix.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "thanks", rec.Body.String())
	assert.Equal(t, "POST a=1&b=2", got.Load())

	names, err := store.Collections(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names, "a POST answer is never cached")
}

func TestOversizedResponsesAreStreamedUncached(t *testing.T) {
	big := strings.Repeat("x", 64)
	ix, store := newIntermediary(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			// no Content-Length: the limit is found while reading
			_, _ = io.WriteString(w, big[:32])
			w.(http.Flusher).Flush()
			_, _ = io.WriteString(w, big[32:])
			return
		}
		_, _ = io.WriteString(w, big)
	}), proxy.Options{MaxBody: 16})

	tests := []struct {
		name   string
		target string
		html   bool
	}{
		{"navigation", "/big", true},
		{"asset", "/assets/big.js", false},
		{"api", "/api/big", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.html {
				req.Header.Set("Accept", "text/html")
			}
			rec := httptest.NewRecorder()
			ix.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, big, rec.Body.String(), "body must not be truncated")
			assert.Equal(t, "bypass", rec.Header().Get(proxy.CacheHeader))
		})
	}

	names, err := store.Collections(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
}
