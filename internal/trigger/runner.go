// Package trigger starts pipeline cycles from a cron schedule or from file
// arrivals in a watched directory.
package trigger

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"github.com/arkilian/flowgraph/internal/lifecycle"
)

// RunFunc runs one cycle.
type RunFunc func(ctx context.Context) error

// Runner serializes cycles started by triggers. A trigger firing while a
// cycle is in flight queues exactly one follow-up cycle; further firings
// coalesce into it.
type Runner struct {
	run  RunFunc
	life *lifecycle.Manager

	mu      sync.Mutex
	running bool
	pending bool
	wg      sync.WaitGroup

	cycles atomic.Int64
	failed atomic.Int64
}

// NewRunner creates a runner. Cycles are admitted through life, which may be nil.
func NewRunner(run RunFunc, life *lifecycle.Manager) *Runner {
	return &Runner{run: run, life: life}
}

// Fire requests a cycle. It never blocks on the cycle itself.
func (r *Runner) Fire(ctx context.Context, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		r.pending = true
		return
	}
	end := func() {}
	if r.life != nil {
		var ok bool
		if end, ok = r.life.BeginCycle(); !ok {
			log.Printf("trigger: %s ignored, shutting down", reason)
			return
		}
	}
	r.running = true
	r.wg.Add(1)
	go r.loop(ctx, reason, end)
}

func (r *Runner) loop(ctx context.Context, reason string, end func()) {
	defer r.wg.Done()
	defer end()

	for {
		log.Printf("trigger: starting cycle (%s)", reason)
		if err := r.run(ctx); err != nil {
			r.failed.Add(1)
			log.Printf("trigger: cycle failed: %v", err)
		}
		r.cycles.Add(1)

		r.mu.Lock()
		if !r.pending || ctx.Err() != nil || (r.life != nil && r.life.Stopping()) {
			r.running = false
			r.pending = false
			r.mu.Unlock()
			return
		}
		r.pending = false
		r.mu.Unlock()
		reason = "queued"
	}
}

// Wait blocks until no cycle is running.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Cycles returns the number of cycles run so far.
func (r *Runner) Cycles() int64 { return r.cycles.Load() }

// Failed returns the number of cycles whose RunFunc returned an error.
func (r *Runner) Failed() int64 { return r.failed.Load() }
