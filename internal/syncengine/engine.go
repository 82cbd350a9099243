// Package syncengine reconciles the local store with the remote document
// store and tracks sync state.
package syncengine

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aldevik/skrift/internal/codec"
	"github.com/aldevik/skrift/internal/connectivity"
	"github.com/aldevik/skrift/internal/history"
	"github.com/aldevik/skrift/internal/localstore"
	"github.com/aldevik/skrift/internal/remote"
)

// Kind names an entity category a pass can reconcile.
type Kind string

const (
	KindNotes Kind = "notes"
	KindTags  Kind = "tags"
	KindLinks Kind = "links"
)

// kindOrder is the dependency order stages run in: links reference notes,
// attachments reference tags.
var kindOrder = []Kind{KindNotes, KindTags, KindLinks}

// Status is the engine's lifecycle state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusSyncing   Status = "syncing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Snapshot is a point-in-time view of the engine state.
type Snapshot struct {
	Status     Status    `json:"status"`
	Progress   float64   `json:"progress"`
	LastError  string    `json:"last_error,omitempty"`
	LastSyncAt time.Time `json:"last_sync_at,omitzero"`
}

// Config wires an Engine's collaborators.
type Config struct {
	Local   *localstore.DB
	Remote  remote.Store
	Codec   *codec.Codec
	Monitor connectivity.Monitor
	Ledger  *history.Ledger
	Logger  *slog.Logger

	// Notify, when set, receives lifecycle events (started, completed,
	// failed) with the snapshot at that moment. Called from the engine
	// loop; must not block.
	Notify func(event string, snap Snapshot)
}

// Engine owns sync execution. All status and progress state lives in the
// run loop goroutine; public methods communicate over channels.
type Engine struct {
	local   *localstore.DB
	remote  remote.Store
	codec   *codec.Codec
	monitor connectivity.Monitor
	ledger  *history.Ledger
	logger  *slog.Logger
	notify  func(string, Snapshot)

	requests    chan request
	snapshotCh  chan chan Snapshot
	stopCh      chan struct{}
	stopped     chan struct{}
	closed      atomic.Bool
	unsubscribe func()

	// dirty is set when a push is attempted offline; the next online
	// transition triggers a full pass to drain the backlog.
	dirty atomic.Bool

	cancelPasses context.CancelFunc
	passCtx      context.Context
}

type request struct {
	kinds []Kind
	reply chan error // nil for fire-and-forget
}

// New creates and starts an engine. Close releases it.
func New(cfg Config) *Engine {
	e := &Engine{
		local:      cfg.Local,
		remote:     cfg.Remote,
		codec:      cfg.Codec,
		monitor:    cfg.Monitor,
		ledger:     cfg.Ledger,
		logger:     cfg.Logger,
		notify:     cfg.Notify,
		requests:   make(chan request),
		snapshotCh: make(chan chan Snapshot),
		stopCh:     make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	if e.notify == nil {
		e.notify = func(string, Snapshot) {}
	}
	e.passCtx, e.cancelPasses = context.WithCancel(context.Background())

	go e.run()

	e.unsubscribe = e.monitor.Subscribe(func(online bool) {
		if online && e.dirty.Load() {
			e.logger.Info("back online with local changes pending, scheduling full sync")
			e.TriggerFull()
		}
	})
	return e
}

// activePass tracks the pass currently executing in a worker goroutine.
type activePass struct {
	kinds    []Kind
	waiters  []chan error
	progress chan float64
	done     chan error
}

// pendingPass accumulates requests that arrived while a pass was running.
// All coalesced waiters receive the pending pass's single result.
type pendingPass struct {
	kinds   map[Kind]bool
	waiters []chan error
}

func (e *Engine) run() {
	defer close(e.stopped)

	snap := Snapshot{Status: StatusIdle}
	var active *activePass
	var pending *pendingPass

	start := func(kinds []Kind, waiters []chan error) {
		active = &activePass{
			kinds:    kinds,
			waiters:  waiters,
			progress: make(chan float64, 8),
			done:     make(chan error, 1),
		}
		snap.Status = StatusSyncing
		snap.Progress = 0
		snap.LastError = ""
		e.notify("sync.started", snap)
		go func(p *activePass) {
			p.done <- e.executePass(e.passCtx, p.kinds, p.progress)
		}(active)
	}

	finish := func(err error) {
		for _, w := range active.waiters {
			w <- err
		}
		if err != nil {
			snap.Status = StatusFailed
			snap.LastError = err.Error()
			e.notify("sync.failed", snap)
		} else {
			snap.Status = StatusCompleted
			snap.Progress = 1
			snap.LastSyncAt = time.Now().UTC()
			e.notify("sync.completed", snap)
		}
		active = nil
		if pending != nil {
			next := pending
			pending = nil
			start(orderKinds(next.kinds), next.waiters)
		} else {
			snap.Status = StatusIdle
		}
	}

	for {
		// The active pass's channels are nil-safe: receiving from a nil
		// channel blocks forever, so the select only watches them while
		// a pass is running.
		var progressCh chan float64
		var doneCh chan error
		if active != nil {
			progressCh = active.progress
			doneCh = active.done
		}

		select {
		case <-e.stopCh:
			if active != nil {
				err := <-active.done
				finish(err)
			}
			if pending != nil {
				for _, w := range pending.waiters {
					w <- context.Canceled
				}
			}
			return

		case req := <-e.requests:
			var waiters []chan error
			if req.reply != nil {
				waiters = append(waiters, req.reply)
			}
			if active == nil {
				start(req.kinds, waiters)
				continue
			}
			if pending == nil {
				pending = &pendingPass{kinds: map[Kind]bool{}}
			}
			for _, k := range req.kinds {
				pending.kinds[k] = true
			}
			pending.waiters = append(pending.waiters, waiters...)

		case p := <-progressCh:
			if p > snap.Progress {
				snap.Progress = p
				e.notify("sync.progress", snap)
			}

		case err := <-doneCh:
			finish(err)

		case reply := <-e.snapshotCh:
			reply <- snap
		}
	}
}

// SyncFull runs a full pass over all entity kinds and waits for its
// result. Concurrent calls coalesce onto the same pass.
func (e *Engine) SyncFull(ctx context.Context) error {
	return e.SyncKinds(ctx, kindOrder...)
}

// SyncKinds runs a pass over the given kinds, normalized to dependency
// order, and waits for the result.
func (e *Engine) SyncKinds(ctx context.Context, kinds ...Kind) error {
	reply := make(chan error, 1)
	req := request{kinds: normalizeKinds(kinds), reply: reply}
	select {
	case e.requests <- req:
	case <-e.stopped:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TriggerFull schedules a full pass without waiting. Safe to call from
// callbacks that must not block.
func (e *Engine) TriggerFull() {
	select {
	case e.requests <- request{kinds: kindOrder}:
	case <-e.stopped:
	}
}

// Status returns the current snapshot.
func (e *Engine) Status() Snapshot {
	reply := make(chan Snapshot, 1)
	select {
	case e.snapshotCh <- reply:
		return <-reply
	case <-e.stopped:
		return Snapshot{Status: StatusIdle}
	}
}

// Close stops the engine, waiting for any in-flight pass to settle.
func (e *Engine) Close() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}
	e.unsubscribe()
	e.cancelPasses()
	close(e.stopCh)
	<-e.stopped
}

func normalizeKinds(kinds []Kind) []Kind {
	set := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	if len(set) == 0 {
		return kindOrder
	}
	return orderKinds(set)
}

func orderKinds(set map[Kind]bool) []Kind {
	var out []Kind
	for _, k := range kindOrder {
		if set[k] {
			out = append(out, k)
		}
	}
	return out
}

func kindsLabel(kinds []Kind) string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}
