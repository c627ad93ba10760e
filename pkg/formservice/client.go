// Package formservice is the HTTP client for the remote form service: the
// OData-style catalog reads, the CSRF handshake and the deep insert of a form
// record with its answers.
package formservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/garnizeh/rioforms/internal/config"
	"github.com/garnizeh/rioforms/pkg/models"
)

const csrfHeader = "x-csrf-token"

// Client wraps an http.Client and adds retries, timeout, and circuit breaker.
type Client struct {
	cfg    config.RemoteConfig
	client *http.Client
	post   *http.Client // never follows redirects
	dup    *regexp.Regexp

	// simple circuit breaker state
	failures  int32
	openUntil int64 // unix nano
	closed    int32 // atomic flag for Close()
}

// Result is the outcome of a deep insert that reached the server.
type Result struct {
	OK        bool
	Status    int
	ID        string
	Body      string
	Duplicate bool
}

// Err returns the rejection as a *StatusError, or nil when the insert was
// accepted.
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	return &StatusError{Status: r.Status, Body: truncate(r.Body, 200)}
}

// package-level logger for pkg/formservice; can be replaced by callers
var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger sets the logger used by pkg/formservice. Passing nil is a no-op.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

// NewClient creates a form service client. A cookie jar is attached when
// httpClient has none so session cookies from the upstream login survive
// between calls.
func NewClient(cfg config.RemoteConfig, httpClient *http.Client) (*Client, error) {
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if cfg.CircuitFailureThreshold <= 0 {
		cfg.CircuitFailureThreshold = config.DefaultRemoteConfig().CircuitFailureThreshold
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("cookie jar: %w", err)
		}
		hc := *httpClient
		hc.Jar = jar
		httpClient = &hc
	}

	post := *httpClient
	post.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	c := &Client{
		cfg:    cfg,
		client: httpClient,
		post:   &post,
		dup:    regexp.MustCompile(config.DefaultDuplicatePattern),
	}
	logger.Info("formservice: NewClient created", slog.String("base_url", cfg.BaseURL), slog.Duration("timeout", cfg.Timeout))
	return c, nil
}

func NewDefaultClient(cfg config.RemoteConfig) (*Client, error) {
	defaultClient := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 15 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}

	return NewClient(cfg, defaultClient)
}

// WithDuplicatePattern replaces the body pattern that marks a rejection as an
// already-applied record.
func (c *Client) WithDuplicatePattern(re *regexp.Regexp) *Client {
	if re != nil {
		c.dup = re
	}
	return c
}

func (c *Client) isCircuitOpen() bool {
	if atomic.LoadInt32(&c.failures) < int32(c.cfg.CircuitFailureThreshold) {
		return false
	}

	if time.Now().UnixNano() < atomic.LoadInt64(&c.openUntil) {
		return true
	}

	// attempt half-open: reset failures and allow a request
	atomic.StoreInt32(&c.failures, 0)
	return false
}

func (c *Client) recordFailure() {
	v := atomic.AddInt32(&c.failures, 1)
	if v >= int32(c.cfg.CircuitFailureThreshold) {
		atomic.StoreInt64(&c.openUntil, time.Now().Add(c.cfg.CircuitReset).UnixNano())
	}
}

func (c *Client) recordSuccess() {
	atomic.StoreInt32(&c.failures, 0)
}

// Close releases idle connections held by the underlying transport. Close is
// idempotent and safe to call multiple times.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	if !atomic.CompareAndSwapInt32(&c.closed, 0, 1) {
		return nil
	}
	c.client.CloseIdleConnections()
	logger.Debug("formservice: client closed")
	return nil
}

// entityURL builds {base}{service}/{entity}?{query}.
func (c *Client) entityURL(entity, rawQuery string) string {
	u := c.cfg.BaseURL + c.cfg.ServicePath + "/" + entity
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	return u
}

// odataValue escapes a query option value, spaces as %20.
func odataValue(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// odataString quotes s as an OData string literal.
func odataString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (c *Client) newRequest(ctx context.Context, method, u string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.Authorization != "" {
		req.Header.Set("Authorization", c.cfg.Authorization)
	}
	return req, nil
}

type listEnvelope[T any] struct {
	Value []T `json:"value"`
}

// ListActiveForms returns the active forms ordered by name.
func (c *Client) ListActiveForms(ctx context.Context) ([]models.Form, error) {
	q := "$filter=" + odataValue("active eq true") + "&$select=ID,formName,active&$orderby=formName"
	var env listEnvelope[models.Form]
	if err := c.getJSON(ctx, c.entityURL("Form", q), &env); err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}
	if env.Value == nil {
		env.Value = []models.Form{}
	}
	return env.Value, nil
}

// ListQuestions returns the questions of one form ordered by ID.
func (c *Client) ListQuestions(ctx context.Context, formID string) ([]models.Question, error) {
	q := "$filter=" + odataValue("form_ID eq "+odataString(formID)) + "&$select=ID,form_ID,question,type_code&$orderby=ID"
	var env listEnvelope[models.Question]
	if err := c.getJSON(ctx, c.entityURL("Questions", q), &env); err != nil {
		return nil, fmt.Errorf("list questions for %s: %w", formID, err)
	}
	if env.Value == nil {
		env.Value = []models.Question{}
	}
	return env.Value, nil
}

// getJSON performs a GET with retries on transport failures. Definitive
// answers (status and decode errors) are returned without retrying.
func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	if c.isCircuitOpen() {
		return ErrCircuitOpen
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		err := c.getOnce(ctx, u, out)
		if err == nil {
			c.recordSuccess()
			return nil
		}
		if !IsTransport(err) {
			c.recordSuccess()
			return err
		}

		lastErr = err
		c.recordFailure()
		if attempt == c.cfg.Retries {
			break
		}

		// backoff
		select {
		case <-ctx.Done():
			return &TransportError{Op: "GET", Err: ctx.Err()}
		case <-time.After(c.cfg.Backoff * time.Duration(attempt+1)):
		}
		if c.isCircuitOpen() {
			return ErrCircuitOpen
		}
	}

	return lastErr
}

func (c *Client) getOnce(ctx context.Context, u string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return &TransportError{Op: "GET " + req.URL.Path, Err: err}
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: "read " + req.URL.Path, Err: err}
	}
	text := string(b)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Status: resp.StatusCode, Body: truncate(text, 200)}
	}
	if looksHTML(resp.Header.Get("Content-Type"), strings.TrimSpace(text)) {
		return ErrHTMLResponse
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func looksHTML(contentType, body string) bool {
	if strings.Contains(contentType, "text/html") {
		return true
	}
	return !strings.Contains(contentType, "application/json") && strings.HasPrefix(body, "<")
}

// FetchCSRF asks the service for a CSRF token. An empty token is not an
// error: some deployments do not enforce CSRF.
func (c *Client) FetchCSRF(ctx context.Context) (string, error) {
	if c.isCircuitOpen() {
		return "", ErrCircuitOpen
	}
	req, err := c.newRequest(ctx, http.MethodGet, c.entityURL("$metadata", ""), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set(csrfHeader, "Fetch")

	resp, err := c.client.Do(req)
	if err != nil {
		c.recordFailure()
		return "", &TransportError{Op: "fetch csrf", Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.Header.Get(csrfHeader), nil
}

// DeepInsert posts a form record together with its answers in one request.
// With tolerateConflict a 409, or a body that reads like a unique-key
// violation, is reported as OK with Duplicate set. A rejection is a Result
// with OK false. Transport failures, redirects and 2xx answers that are not
// JSON return an error: the server never confirmed the record was stored.
func (c *Client) DeepInsert(ctx context.Context, payload models.QueuedSubmission, tolerateConflict bool) (Result, error) {
	token, err := c.FetchCSRF(ctx)
	if err != nil {
		return Result{}, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("encode payload: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, c.entityURL("FormRecord", ""), bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(csrfHeader, token)

	start := time.Now()
	resp, err := c.post.Do(req)
	if err != nil {
		c.recordFailure()
		return Result{}, &TransportError{Op: "POST FormRecord", Err: err}
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		c.recordFailure()
		return Result{}, &TransportError{Op: "read FormRecord", Err: err}
	}
	c.recordSuccess()

	text := string(b)
	res := Result{Status: resp.StatusCode, Body: text}
	logger.Debug("formservice: deep insert", slog.String("id", payload.ID), slog.Int("status", resp.StatusCode), slog.Duration("latency", time.Since(start)))

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		return res, fmt.Errorf("%w: %d to %q", ErrRedirected, resp.StatusCode, resp.Header.Get("Location"))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		trimmed := strings.TrimSpace(text)
		if looksHTML(resp.Header.Get("Content-Type"), trimmed) {
			return res, ErrHTMLResponse
		}
		if trimmed != "" {
			var obj struct {
				ID string `json:"ID"`
			}
			if err := json.Unmarshal(b, &obj); err != nil {
				return res, fmt.Errorf("decode FormRecord response: %w", err)
			}
			res.ID = obj.ID
		}
		if res.ID == "" {
			res.ID = payload.ID
		}
		res.OK = true
		return res, nil
	}

	if tolerateConflict && (resp.StatusCode == http.StatusConflict || c.dup.MatchString(text)) {
		res.OK = true
		res.Duplicate = true
		res.ID = payload.ID
		return res, nil
	}
	return res, nil
}
