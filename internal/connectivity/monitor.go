// Package connectivity tracks whether the remote sync service is
// reachable and notifies subscribers on transitions.
package connectivity

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Monitor answers the single question the sync engine asks before any
// remote I/O: are we online right now?
type Monitor interface {
	// Online reports the last observed connectivity state.
	Online() bool
	// Subscribe registers fn to run on every online/offline transition.
	// The returned cancel func removes the subscription.
	Subscribe(fn func(online bool)) (cancel func())
}

// ProbeFunc checks reachability once. Implementations should bound their
// own timeout; the monitor calls it from a single goroutine.
type ProbeFunc func(ctx context.Context) bool

// Probe is a polling Monitor. All state is owned by the run loop, which
// starts with the Probe itself; queries, subscriptions and probe results
// travel over channels. Callers that subscribe during wiring never block
// on a loop that has yet to start.
type Probe struct {
	probe    ProbeFunc
	interval time.Duration
	logger   *slog.Logger

	queries chan chan bool
	subs    chan subscription
	unsubs  chan int
	force   chan chan bool
	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

type subscription struct {
	fn    func(bool)
	reply chan int
}

// NewProbe creates a monitor that polls probe every interval and starts
// its run loop immediately. Close stops it.
func NewProbe(probe ProbeFunc, interval time.Duration, logger *slog.Logger) *Probe {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	p := &Probe{
		probe:    probe,
		interval: interval,
		logger:   logger,
		queries:  make(chan chan bool),
		subs:     make(chan subscription),
		unsubs:   make(chan int),
		force:    make(chan chan bool),
		stopCh:   make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go p.run()
	return p
}

// run owns the monitor state. The first probe runs immediately so callers
// never act on a default value for long.
func (p *Probe) run() {
	defer close(p.stopped)
	ctx := context.Background()

	subscribers := map[int]func(bool){}
	nextID := 0
	online := p.probe(ctx)
	p.logger.Info("connectivity monitor started", "online", online, "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	apply := func(next bool) {
		if next == online {
			return
		}
		online = next
		p.logger.Info("connectivity changed", "online", online)
		for _, fn := range subscribers {
			fn(online)
		}
	}

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			apply(p.probe(ctx))
		case reply := <-p.force:
			apply(p.probe(ctx))
			reply <- online
		case reply := <-p.queries:
			reply <- online
		case sub := <-p.subs:
			id := nextID
			nextID++
			subscribers[id] = sub.fn
			sub.reply <- id
		case id := <-p.unsubs:
			delete(subscribers, id)
		}
	}
}

// Close stops the run loop and waits for it to exit. Safe to call twice.
func (p *Probe) Close() {
	if p.closed.CompareAndSwap(false, true) {
		close(p.stopCh)
	}
	<-p.stopped
}

// Online implements Monitor.
func (p *Probe) Online() bool {
	reply := make(chan bool, 1)
	select {
	case p.queries <- reply:
		return <-reply
	case <-p.stopped:
		return false
	}
}

// Subscribe implements Monitor. Callbacks run on the monitor goroutine
// and must not block.
func (p *Probe) Subscribe(fn func(online bool)) (cancel func()) {
	sub := subscription{fn: fn, reply: make(chan int, 1)}
	select {
	case p.subs <- sub:
	case <-p.stopped:
		return func() {}
	}
	id := <-sub.reply
	return func() {
		select {
		case p.unsubs <- id:
		case <-p.stopped:
		}
	}
}

// ForceCheck probes immediately instead of waiting for the next tick and
// returns the observed state.
func (p *Probe) ForceCheck() bool {
	reply := make(chan bool, 1)
	select {
	case p.force <- reply:
		return <-reply
	case <-p.stopped:
		return false
	}
}

// Static is a fixed-state Monitor for tests and offline-only setups.
type Static bool

func (s Static) Online() bool                         { return bool(s) }
func (s Static) Subscribe(func(bool)) (cancel func()) { return func() {} }
