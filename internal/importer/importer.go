// Package importer turns markdown files dropped into an inbox directory
// into notes. Imported files are removed from the inbox; the note store
// is their new home.
package importer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/aldevik/skrift/internal/localstore"
	"github.com/aldevik/skrift/internal/models"
)

// Pusher mirrors imported notes to the remote store. A push failure is
// not an import failure; the note is already committed locally.
type Pusher interface {
	PushNoteBatch(ctx context.Context, notes []models.Note) error
}

// Importer watches an inbox directory and imports .md files as notes.
type Importer struct {
	db     *localstore.DB
	pusher Pusher
	inbox  string
	logger *slog.Logger

	// settle is how long a file must be quiet before import, so half
	// written files are not picked up.
	settle time.Duration
}

// New creates an Importer for the given inbox directory.
func New(db *localstore.DB, pusher Pusher, inbox string, logger *slog.Logger) *Importer {
	return &Importer{
		db:     db,
		pusher: pusher,
		inbox:  inbox,
		logger: logger,
		settle: 200 * time.Millisecond,
	}
}

// Run imports pre-existing inbox files as one batch, then watches for
// new drops until ctx is cancelled.
func (i *Importer) Run(ctx context.Context) error {
	if err := os.MkdirAll(i.inbox, 0o755); err != nil {
		return fmt.Errorf("importer: create inbox: %w", err)
	}
	if err := i.importExisting(ctx); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("importer: %w", err)
	}
	defer w.Close()

	if err := w.Add(i.inbox); err != nil {
		return fmt.Errorf("importer: watch inbox: %w", err)
	}
	i.logger.Info("importer: started", slog.String("inbox", i.inbox))

	// Pending paths accumulate until the settle timer fires, so a burst
	// of writes to one file imports it once.
	pending := map[string]struct{}{}
	var settleTimer *time.Timer
	var settleCh <-chan time.Time

	schedule := func() {
		if settleTimer == nil {
			settleTimer = time.NewTimer(i.settle)
			settleCh = settleTimer.C
		} else {
			settleTimer.Reset(i.settle)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if settleTimer != nil {
				settleTimer.Stop()
			}
			i.logger.Info("importer: stopped")
			return nil

		case <-settleCh:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			pending = map[string]struct{}{}
			i.importPaths(ctx, paths)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !strings.HasSuffix(ev.Name, ".md") {
				continue
			}
			pending[ev.Name] = struct{}{}
			schedule()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			i.logger.Error("importer: watch error", slog.String("error", watchErr.Error()))
		}
	}
}

// importExisting sweeps files already in the inbox at startup and pushes
// them remotely as a single batch.
func (i *Importer) importExisting(ctx context.Context) error {
	entries, err := os.ReadDir(i.inbox)
	if err != nil {
		return fmt.Errorf("importer: read inbox: %w", err)
	}

	var notes []models.Note
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		n, err := i.importFile(filepath.Join(i.inbox, e.Name()))
		if err != nil {
			i.logger.Warn("importer: skip file", slog.String("file", e.Name()), slog.String("error", err.Error()))
			continue
		}
		notes = append(notes, n)
	}
	if len(notes) == 0 {
		return nil
	}
	i.logger.Info("importer: imported existing inbox files", slog.Int("count", len(notes)))
	if err := i.pusher.PushNoteBatch(ctx, notes); err != nil {
		i.logger.Warn("importer: batch push failed, queued for next sync", slog.String("error", err.Error()))
	}
	return nil
}

func (i *Importer) importPaths(ctx context.Context, paths []string) {
	var notes []models.Note
	for _, p := range paths {
		n, err := i.importFile(p)
		if err != nil {
			i.logger.Warn("importer: skip file", slog.String("file", p), slog.String("error", err.Error()))
			continue
		}
		i.logger.Info("importer: imported", slog.String("file", filepath.Base(p)), slog.String("note", n.ID))
		notes = append(notes, n)
	}
	if len(notes) == 0 {
		return
	}
	if err := i.pusher.PushNoteBatch(ctx, notes); err != nil {
		i.logger.Warn("importer: batch push failed, queued for next sync", slog.String("error", err.Error()))
	}
}

// importFile commits one inbox file as a note and removes the file.
// Title comes from the filename, content from the body.
func (i *Importer) importFile(path string) (models.Note, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Note{}, err
	}
	title := strings.TrimSuffix(filepath.Base(path), ".md")
	now := time.Now().UTC()
	n := models.Note{
		ID:         models.NewID(),
		Title:      title,
		Content:    string(data),
		CreatedAt:  now,
		ModifiedAt: now,
	}
	if err := i.db.UpsertNote(n); err != nil {
		return models.Note{}, err
	}
	if err := os.Remove(path); err != nil {
		i.logger.Warn("importer: remove failed", slog.String("file", path), slog.String("error", err.Error()))
	}
	return n, nil
}
