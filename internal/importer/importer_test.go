package importer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aldevik/skrift/internal/localstore"
	"github.com/aldevik/skrift/internal/models"
	"github.com/aldevik/skrift/internal/testutil"
)

type fakePusher struct {
	mu      sync.Mutex
	batches [][]models.Note
	err     error
}

func (f *fakePusher) PushNoteBatch(_ context.Context, notes []models.Note) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, notes)
	return nil
}

func (f *fakePusher) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

func startImporter(t *testing.T, db *localstore.DB, pusher *fakePusher, inbox string) {
	t.Helper()
	imp := New(db, pusher, inbox, testutil.DiscardLogger())
	imp.settle = 50 * time.Millisecond // keep the test fast

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = imp.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("condition not met in time")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func noteCount(t *testing.T, db *localstore.DB) int {
	t.Helper()
	_, total, err := db.ListNotes(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	return total
}

func TestImportExistingFilesAsOneBatch(t *testing.T) {
	db := testutil.TestDB(t)
	pusher := &fakePusher{}
	inbox := t.TempDir()

	for _, name := range []string{"alpha.md", "beta.md", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(inbox, name), []byte("content of "+name), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	startImporter(t, db, pusher, inbox)

	waitFor(t, func() bool { return noteCount(t, db) == 2 })
	waitFor(t, func() bool { return pusher.batchCount() == 1 })

	pusher.mu.Lock()
	batch := pusher.batches[0]
	pusher.mu.Unlock()
	if len(batch) != 2 {
		t.Errorf("batch size = %d, want 2 (.txt must be skipped)", len(batch))
	}

	// Imported files leave the inbox; the .txt straggler stays.
	entries, err := os.ReadDir(inbox)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "notes.txt" {
		t.Errorf("inbox after import = %v", entries)
	}
}

func TestImportDroppedFile(t *testing.T) {
	db := testutil.TestDB(t)
	pusher := &fakePusher{}
	inbox := t.TempDir()
	startImporter(t, db, pusher, inbox)

	path := filepath.Join(inbox, "dropped.md")
	if err := os.WriteFile(path, []byte("dropped body"), 0o644); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return noteCount(t, db) == 1 })

	notes, _, err := db.ListNotes(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if notes[0].Title != "dropped" || notes[0].Content != "dropped body" {
		t.Errorf("imported note = %+v", notes[0])
	}
	waitFor(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	})
}

func TestImportSurvivesPushFailure(t *testing.T) {
	db := testutil.TestDB(t)
	pusher := &fakePusher{err: context.DeadlineExceeded}
	inbox := t.TempDir()
	startImporter(t, db, pusher, inbox)

	if err := os.WriteFile(filepath.Join(inbox, "offline.md"), []byte("body"), 0o644); err != nil {
		t.Fatal(err)
	}

	// The note commits locally even though the batch push fails.
	waitFor(t, func() bool { return noteCount(t, db) == 1 })
}

func TestCreatesInboxDirectory(t *testing.T) {
	db := testutil.TestDB(t)
	inbox := filepath.Join(t.TempDir(), "nested", "inbox")
	startImporter(t, db, &fakePusher{}, inbox)

	waitFor(t, func() bool {
		info, err := os.Stat(inbox)
		return err == nil && info.IsDir()
	})
}
