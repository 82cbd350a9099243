// Package testutil provides shared test helpers for setting up stores and ledgers.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/aldevik/skrift/internal/history"
	"github.com/aldevik/skrift/internal/kv"
	"github.com/aldevik/skrift/internal/localstore"
)

// TestDB creates a temporary SQLite store that is automatically cleaned up.
func TestDB(t *testing.T) *localstore.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "skrift-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := localstore.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestLedger creates a file-backed sync history ledger in a temp dir.
func TestLedger(t *testing.T) *history.Ledger {
	t.Helper()
	l, err := history.Open(kv.NewFile(filepath.Join(t.TempDir(), "sync.json")), DiscardLogger())
	if err != nil {
		t.Fatal(err)
	}
	return l
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
