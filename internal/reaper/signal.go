// Package reaper implements the reaper (C7, §4.6): observing SIGCHLD,
// calling wait, updating process/job status, and firing exit events. The
// generation-counter design is the Go-idiomatic rendering of §5's "handlers
// set atomic flags/counters only": os/signal already delivers off the
// actual signal-handler context, so Watcher's job is just the atomic bump.
package reaper

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// Watcher tracks sigchld_generation_count (§4.6): a single monotonically
// increasing counter bumped once per SIGCHLD delivery.
type Watcher struct {
	generation atomic.Uint32
}

// NewWatcher constructs a Watcher. Call Run in its own goroutine to start
// counting; Run returns when ctx is done.
func NewWatcher() *Watcher {
	return &Watcher{}
}

// Run subscribes to SIGCHLD and increments the generation counter on every
// delivery until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) {
	ch := make(chan os.Signal, 8)
	signal.Notify(ch, syscall.SIGCHLD)
	defer signal.Stop(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			w.generation.Add(1)
		}
	}
}

// Generation returns the current generation count, an atomic read safe from
// any goroutine.
func (w *Watcher) Generation() uint32 { return w.generation.Load() }
