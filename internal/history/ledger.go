// Package history keeps an append-only, bounded log of sync outcomes
// for observability.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aldevik/skrift/internal/apperr"
	"github.com/aldevik/skrift/internal/kv"
)

// MaxEntries is the ledger bound; appending past it evicts oldest-first.
const MaxEntries = 100

// storeKey is the well-known key the serialized ledger lives under.
const storeKey = "sync_history"

// Entry records the outcome of one sync attempt. Entries are never
// mutated after creation, only evicted.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
	Success   bool      `json:"success"`
	Cause     string    `json:"cause,omitempty"`
	Kinds     string    `json:"kinds"`
}

// Stats is the aggregate view over the current ledger contents.
type Stats struct {
	Total       int       `json:"total"`
	Successes   int       `json:"successes"`
	Failures    int       `json:"failures"`
	SuccessRate float64   `json:"success_rate"`
	LastSyncAt  time.Time `json:"last_sync_at"`
}

// Ledger is a bounded FIFO log persisted wholesale on each append.
type Ledger struct {
	store  kv.Store
	logger *slog.Logger

	mu      sync.Mutex
	entries []Entry
}

// Open loads the ledger from store, starting empty when nothing is
// persisted yet.
func Open(store kv.Store, logger *slog.Logger) (*Ledger, error) {
	l := &Ledger{store: store, logger: logger}

	raw, err := store.Get(storeKey)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return l, nil
		}
		return nil, fmt.Errorf("history: load: %w", err)
	}
	if err := json.Unmarshal(raw, &l.entries); err != nil {
		return nil, fmt.Errorf("history: parse: %w", err)
	}
	if len(l.entries) > MaxEntries {
		l.entries = l.entries[len(l.entries)-MaxEntries:]
	}
	return l, nil
}

// Record appends an entry, evicting the oldest when the bound is hit.
// Persistence failures are logged, not propagated: losing an
// observability record must never fail the sync operation it describes.
func (l *Ledger) Record(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, e)
	if len(l.entries) > MaxEntries {
		l.entries = l.entries[len(l.entries)-MaxEntries:]
	}
	if err := l.store.Put(storeKey, l.entries); err != nil {
		l.logger.Warn("history: persist failed", slog.String("error", err.Error()))
	}
}

// Entries returns a copy of the current log, oldest first.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Stats aggregates the current log. Rate is 0.0 for an empty ledger.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Stats{Total: len(l.entries)}
	for _, e := range l.entries {
		if e.Success {
			s.Successes++
			if e.Timestamp.After(s.LastSyncAt) {
				s.LastSyncAt = e.Timestamp
			}
		} else {
			s.Failures++
		}
	}
	if s.Total > 0 {
		s.SuccessRate = float64(s.Successes) / float64(s.Total)
	}
	return s
}
