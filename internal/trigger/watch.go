package trigger

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after the last file event before a
// cycle is fired.
const DefaultDebounce = 500 * time.Millisecond

// Watcher fires a runner when files are created in or written to a directory.
type Watcher struct {
	fsw      *fsnotify.Watcher
	dir      string
	debounce time.Duration
	runner   *Runner

	mu    sync.Mutex
	timer *time.Timer

	done chan struct{}
}

// Watch starts watching dir. Bursts of events within debounce coalesce into
// one Fire. Hidden and temporary files are ignored.
func Watch(ctx context.Context, dir string, debounce time.Duration, r *Runner) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		fsw.Close()
		return nil, err
	}
	if err := fsw.Add(abs); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", abs, err)
	}

	w := &Watcher{fsw: fsw, dir: abs, debounce: debounce, runner: r, done: make(chan struct{})}
	go w.loop(ctx)
	log.Printf("trigger: watching %s", abs)
	return w, nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if ignored(event.Name) {
				continue
			}
			w.schedule(ctx, filepath.Base(event.Name))
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("trigger: watch error: %v", err)
		}
	}
}

func (w *Watcher) schedule(ctx context.Context, name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.runner.Fire(ctx, "file "+name)
	})
}

func ignored(name string) bool {
	base := filepath.Base(name)
	return strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".tmp") || strings.HasSuffix(base, "~")
}

// Close stops watching. A debounced fire that has not started is cancelled.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	err := w.fsw.Close()
	<-w.done
	return err
}
