// Package lifecycle stops a long-running flowgraph process in order: new
// cycles are refused, the in-flight cycle finishes, then owned resources
// (triggers, metrics, the catalog) close in reverse order of acquisition.
package lifecycle

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// DefaultDrainTimeout bounds how long Stop waits for an in-flight cycle.
const DefaultDrainTimeout = 30 * time.Second

type resource struct {
	name   string
	closer io.Closer
}

// Manager gates cycle admission and owns process resources.
type Manager struct {
	drainTimeout time.Duration

	mu       sync.Mutex
	stopping bool
	active   int
	cycles   sync.WaitGroup
	owned    []resource

	done     chan struct{}
	stopOnce sync.Once
	stopErr  error
}

// New creates a manager. A zero drainTimeout uses DefaultDrainTimeout.
func New(drainTimeout time.Duration) *Manager {
	if drainTimeout <= 0 {
		drainTimeout = DefaultDrainTimeout
	}
	return &Manager{
		drainTimeout: drainTimeout,
		done:         make(chan struct{}),
	}
}

// Own registers a resource to close once cycles have drained.
func (m *Manager) Own(name string, c io.Closer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owned = append(m.owned, resource{name: name, closer: c})
}

// BeginCycle admits one cycle. It returns false once Stop has begun;
// otherwise the caller must call end when the cycle finishes.
func (m *Manager) BeginCycle() (end func(), ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopping {
		return nil, false
	}
	m.active++
	m.cycles.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.active--
			m.mu.Unlock()
			m.cycles.Done()
		})
	}, true
}

// Active returns the number of admitted cycles still running.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Stopping reports whether Stop has begun.
func (m *Manager) Stopping() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopping
}

// Done is closed when Stop begins.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Wait blocks until SIGINT or SIGTERM arrives, ctx is cancelled or Stop is
// called elsewhere, and returns the result of Stop.
func (m *Manager) Wait(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		return m.Stop(context.Background(), fmt.Sprintf("signal %v", sig))
	case <-ctx.Done():
		return m.Stop(context.Background(), "context cancelled")
	case <-m.done:
		return m.Stop(context.Background(), "")
	}
}

// Stop refuses new cycles, waits for admitted ones and closes owned
// resources. Only the first call does work; later calls return its result.
// Resources are closed even when draining times out.
func (m *Manager) Stop(ctx context.Context, reason string) error {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopping = true
		owned := m.owned
		m.mu.Unlock()
		close(m.done)
		log.Printf("lifecycle: stopping (%s)", reason)

		if err := m.drain(ctx); err != nil {
			m.stopErr = err
		}

		for i := len(owned) - 1; i >= 0; i-- {
			r := owned[i]
			if err := r.closer.Close(); err != nil {
				log.Printf("lifecycle: close %s: %v", r.name, err)
				if m.stopErr == nil {
					m.stopErr = fmt.Errorf("lifecycle: close %s: %w", r.name, err)
				}
			}
		}
	})
	return m.stopErr
}

func (m *Manager) drain(ctx context.Context) error {
	drained := make(chan struct{})
	go func() {
		m.cycles.Wait()
		close(drained)
	}()

	ctx, cancel := context.WithTimeout(ctx, m.drainTimeout)
	defer cancel()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("lifecycle: %d cycle(s) still running after %s", m.Active(), m.drainTimeout)
	}
}

// CloseFunc adapts a function to io.Closer.
type CloseFunc func() error

// Close calls f.
func (f CloseFunc) Close() error { return f() }
