package db_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	dbpkg "github.com/garnizeh/rioforms/internal/db"
)

func TestNew_Close_GetConn(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Use in-memory SQLite
	d, err := dbpkg.New(ctx, "file::memory:?cache=shared", nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	conn := d.GetConn()
	if conn == nil {
		t.Fatalf("expected non-nil sql.DB from GetConn")
	}

	// Close should not error
	if err := d.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
}

func TestExec_QueryRow(t *testing.T) {
	ctx := context.Background()
	d, err := dbpkg.New(ctx, "file::memory:?cache=shared", nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	defer d.Close()

	// create table
	_, err = d.Exec(ctx, `CREATE TABLE IF NOT EXISTS items (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT);`)
	if err != nil {
		t.Fatalf("Exec create table returned error: %v", err)
	}

	// insert
	res, err := d.Exec(ctx, `INSERT INTO items (name) VALUES (?)`, "foo")
	if err != nil {
		t.Fatalf("Exec insert returned error: %v", err)
	}
	lastID, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("LastInsertId returned error: %v", err)
	}
	if lastID == 0 {
		t.Fatalf("expected last insert id > 0")
	}

	// query
	row := d.QueryRow(ctx, `SELECT name FROM items WHERE id = ?`, lastID)
	var name string
	if err := row.Scan(&name); err != nil {
		t.Fatalf("QueryRow scan returned error: %v", err)
	}
	if name != "foo" {
		t.Fatalf("expected name 'foo' got %q", name)
	}
}

func TestNew_BadDSN(t *testing.T) {
	ctx := context.Background()
	// the parent directory does not exist, so opening the file fails on ping
	_, err := dbpkg.New(ctx, filepath.Join(t.TempDir(), "missing", "x.db"), nil)
	if err == nil {
		t.Fatalf("expected error for bad DSN, got nil")
	}
}

func TestWithTx_CommitAndRollback(t *testing.T) {
	ctx := context.Background()
	d, err := dbpkg.New(ctx, ":memory:", nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	defer d.Close()

	if _, err := d.Exec(ctx, `CREATE TABLE items (name TEXT NOT NULL)`); err != nil {
		t.Fatalf("create table: %v", err)
	}

	err = d.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO items (name) VALUES ('kept')`)
		return err
	})
	if err != nil {
		t.Fatalf("commit path returned error: %v", err)
	}

	boom := errors.New("boom")
	err = d.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO items (name) VALUES ('dropped')`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}

	var count int
	if err := d.QueryRow(ctx, `SELECT COUNT(1) FROM items`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row after rollback, got %d", count)
	}
}

func TestDestroy_RemovesFiles(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "local.db")
	d, err := dbpkg.New(ctx, "file:"+path+"?_pragma=busy_timeout(1000)", nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if _, err := d.Exec(ctx, `CREATE TABLE t (v TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected database file: %v", err)
	}

	if err := d.Destroy(); err != nil {
		t.Fatalf("Destroy returned error: %v", err)
	}
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Fatalf("expected %s to be removed, stat err %v", p, err)
		}
	}
}

func TestDestroy_InMemory(t *testing.T) {
	d, err := dbpkg.New(context.Background(), ":memory:", nil)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	if err := d.Destroy(); err != nil {
		t.Fatalf("Destroy returned error: %v", err)
	}
}
