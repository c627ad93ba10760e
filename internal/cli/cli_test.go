package cli

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garnizeh/rioforms/internal/config"
	"github.com/garnizeh/rioforms/internal/repository/sqlite"
	"github.com/garnizeh/rioforms/pkg/models"
)

// testEnv points the configuration at a temp database and the given origin.
func testEnv(t *testing.T, origin string) string {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "rioforms.db")
	t.Setenv("RIOFORMS_DATABASE_PATH", dbPath)
	t.Setenv("RIOFORMS_LOG_LEVEL", "error")
	t.Setenv("RIOFORMS_CACHE_BACKEND", "memory")
	t.Setenv("RIOFORMS_REMOTE_URL", origin)
	return dbPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd("test", "now")
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "missing.env")))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func enqueue(t *testing.T, payload models.QueuedSubmission) int64 {
	t.Helper()
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	conn, err := openStore(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer conn.Close()
	key, err := sqlite.New(conn, nil).Enqueue(context.Background(), payload)
	require.NoError(t, err)
	return key
}

func sample(id string) models.QueuedSubmission {
	text := "ok"
	return models.QueuedSubmission{
		ID:        id,
		FormID:    "f1",
		FirstName: "Ana",
		LastName:  "Lima",
		AnswerRecords: []models.AnswerRecord{
			{ID: id + "-a1", QuestionID: "q1", TextAnswer: &text},
		},
	}
}

func TestVersionCmd(t *testing.T) {
	testEnv(t, "http://127.0.0.1:1")
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "rioforms test (built now)\n", out)
}

func TestDBInitBackupRestore(t *testing.T) {
	dbPath := testEnv(t, "http://127.0.0.1:1")

	out, err := run(t, "db", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Database initialized successfully")

	enqueue(t, sample("r1"))

	out, err = run(t, "db", "backup")
	require.NoError(t, err)
	assert.Contains(t, out, dbPath+".bak")

	_, err = run(t, "db", "backup")
	assert.Error(t, err, "existing backup is not overwritten without --force")
	_, err = run(t, "db", "backup", "--force")
	require.NoError(t, err)

	enqueue(t, sample("r2"))
	out, err = run(t, "queue", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "r2")

	out, err = run(t, "db", "restore")
	require.NoError(t, err)
	assert.Contains(t, out, "restore completed")

	out, err = run(t, "queue", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "KEY")
	assert.Contains(t, out, "r1")
	assert.NotContains(t, out, "r2")
}

func TestQueue_ListAndDelete(t *testing.T) {
	testEnv(t, "http://127.0.0.1:1")
	k1 := enqueue(t, sample("r1"))
	k2 := enqueue(t, sample("r2"))

	out, err := run(t, "queue", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "r1")
	assert.Contains(t, out, "r2")

	out, err = run(t, "queue", "delete", strconv.FormatInt(k1, 10))
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted queued submission")

	out, err = run(t, "queue", "list")
	require.NoError(t, err)
	assert.NotContains(t, out, "r1")
	assert.Contains(t, out, strconv.FormatInt(k2, 10))

	_, err = run(t, "queue", "delete", strconv.FormatInt(k1, 10))
	assert.ErrorContains(t, err, "no queued submission")

	_, err = run(t, "queue", "delete", "abc")
	assert.ErrorContains(t, err, "invalid queue key")
}

func TestSync_Offline(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	testEnv(t, srv.URL)
	enqueue(t, sample("r1"))

	out, err := run(t, "sync")
	require.NoError(t, err)
	assert.Equal(t, "offline: 1 submission(s) left in queue\n", out)
}

func TestSync_Online(t *testing.T) {
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/FormRecord") {
			posts.Add(1)
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"ID":"r1"}`)
			return
		}
		w.Header().Set("x-csrf-token", "tok")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	testEnv(t, srv.URL)
	enqueue(t, sample("r1"))
	enqueue(t, sample("r2"))

	out, err := run(t, "sync")
	require.NoError(t, err)
	assert.Equal(t, "Synced 2 submission(s)\n", out)
	assert.Equal(t, int32(2), posts.Load())

	out, err = run(t, "queue", "list")
	require.NoError(t, err)
	assert.NotContains(t, out, "r1")
}

func TestPreload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/Form"):
			_, _ = io.WriteString(w, `{"value":[{"ID":"f1","formName":"Pump check","active":true}]}`)
		case strings.HasSuffix(r.URL.Path, "/Questions"):
			_, _ = io.WriteString(w, `{"value":[{"ID":"q1","form_ID":"f1","question":"Valve ok?","type_code":2}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	testEnv(t, srv.URL)

	out, err := run(t, "preload")
	require.NoError(t, err)
	assert.Equal(t, "Preloaded 1 form(s), 1 question set(s)\n", out)
}

func TestApp_Handler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "shell")
	}))
	defer srv.Close()
	testEnv(t, srv.URL)

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	a, err := newApp(context.Background(), cfg, "test", nil)
	require.NoError(t, err)
	defer a.Close()

	h := a.handler("test", "now")

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/_offline/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/index.html", nil)
	req.Header.Set("Accept", "text/html")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "shell", w.Body.String())
}
