// Package app wires configuration, storage, the catalog, the traffic pipeline,
// metrics and triggers into one process lifecycle.
package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/arkilian/flowgraph/internal/catalog"
	"github.com/arkilian/flowgraph/internal/config"
	"github.com/arkilian/flowgraph/internal/lifecycle"
	"github.com/arkilian/flowgraph/internal/observability"
	"github.com/arkilian/flowgraph/internal/pipeline"
	"github.com/arkilian/flowgraph/internal/storage"
	"github.com/arkilian/flowgraph/internal/traffic"
	"github.com/arkilian/flowgraph/internal/trigger"
)

// statsWindow is how long per-flow statistics survive without a run.
const statsWindow = 24 * time.Hour

// App manages one flowgraph process.
type App struct {
	cfg *config.Config

	// Shared resources
	storage  storage.ObjectStorage
	catalog  *catalog.SQLiteCatalog
	pipeline *pipeline.Context
	metrics  *observability.Metrics
	stats    *observability.FlowStats
	life     *lifecycle.Manager

	// Triggers (long-running modes)
	runner *trigger.Runner

	// Report output; nil discards
	out io.Writer

	// Lifecycle
	mu         sync.Mutex
	running    bool
	cancel     context.CancelFunc
	lastReport *pipeline.Report
}

// New creates a new App with the given configuration.
func New(cfg *config.Config, out io.Writer) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	if out == nil {
		out = io.Discard
	}
	return &App{cfg: cfg, out: out}, nil
}

// Start initializes shared resources, declares the pipeline and restores
// persisted state. It generates sample input when configured and the input
// prefix is empty.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.life = lifecycle.New(a.cfg.Schedule.ShutdownTimeout)

	if err := a.start(ctx); err != nil {
		a.life.Stop(context.Background(), "start failed")
		cancel()
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
		return err
	}

	log.Printf("flowgraph started in %s mode (input %s)", a.cfg.Mode, a.cfg.Input.Prefix)
	return nil
}

func (a *App) start(ctx context.Context) error {
	if err := a.initSharedResources(ctx); err != nil {
		return fmt.Errorf("failed to initialize shared resources: %w", err)
	}

	a.pipeline = pipeline.NewDurableContext(a.storage, a.catalog)
	a.pipeline.Metrics = a.metrics
	if err := traffic.Define(a.pipeline, a.cfg.Input.Prefix); err != nil {
		return fmt.Errorf("failed to define pipeline: %w", err)
	}
	if err := a.pipeline.Restore(ctx); err != nil {
		return fmt.Errorf("failed to restore pipeline state: %w", err)
	}

	if a.cfg.Input.Generate {
		if _, err := traffic.EnsureSample(ctx, a.storage, a.cfg.Input.Prefix,
			a.cfg.Input.Files, a.cfg.Input.RecordsPerFile); err != nil {
			return fmt.Errorf("failed to generate sample input: %w", err)
		}
	}
	return nil
}

// initSharedResources initializes storage, the catalog and metrics. Each
// resource needing release is owned by the lifecycle manager.
func (a *App) initSharedResources(ctx context.Context) error {
	var err error

	switch a.cfg.Storage.Type {
	case "local":
		a.storage, err = storage.NewLocalStorage(a.cfg.Storage.Path)
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if a.cfg.Storage.S3.Region != "" {
			s3Cfg.Region = a.cfg.Storage.S3.Region
		}
		if a.cfg.Storage.S3.Endpoint != "" {
			s3Cfg.Endpoint = a.cfg.Storage.S3.Endpoint
			s3Cfg.UsePathStyle = true
		}
		a.storage, err = storage.NewS3Storage(ctx, a.cfg.Storage.S3.Bucket, s3Cfg)
	default:
		return fmt.Errorf("unsupported storage type: %s", a.cfg.Storage.Type)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	log.Printf("Storage initialized: type=%s", a.cfg.Storage.Type)
	if a.cfg.Storage.Type == "s3" {
		log.Printf("S3 Config: Bucket=%s, Region=%s, Endpoint=%s",
			a.cfg.Storage.S3.Bucket, a.cfg.Storage.S3.Region, a.cfg.Storage.S3.Endpoint)
	}

	a.catalog, err = catalog.Open(a.cfg.CatalogPath())
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	a.life.Own("catalog", a.catalog)
	log.Printf("Catalog initialized: %s", a.cfg.CatalogPath())

	a.metrics, err = observability.NewMetrics()
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	a.stats = observability.NewFlowStats(statsWindow)

	if url := a.cfg.Metrics.PushURL; url != "" {
		// final push once the last cycle has drained
		a.life.Own("metrics push", lifecycle.CloseFunc(func() error {
			if err := a.metrics.Push(context.Background(), url, a.cfg.Metrics.Job); err != nil {
				log.Printf("final metrics push failed: %v", err)
			}
			return nil
		}))
	}
	return nil
}

// RunOptions returns the cycle options derived from the configuration.
func (a *App) RunOptions() pipeline.RunOptions {
	return pipeline.RunOptions{
		Concurrency:      a.cfg.Execution.Concurrency,
		FetchConcurrency: a.cfg.Execution.FetchConcurrency,
		SourceTimeout:    a.cfg.Execution.SourceTimeout,
	}
}

// RunOnce runs one cycle, prints its report, records per-flow statistics and
// pushes metrics when a Pushgateway is configured.
func (a *App) RunOnce(ctx context.Context, opts pipeline.RunOptions) (*pipeline.Report, error) {
	report, err := a.pipeline.Run(ctx, opts)
	if err != nil {
		return nil, err
	}

	if _, err := report.WriteTo(a.out); err != nil {
		log.Printf("failed to write cycle report: %v", err)
	}
	for _, o := range report.Outcomes {
		a.stats.Record(o)
	}
	a.stats.Prune()

	if a.cfg.Metrics.PushURL != "" {
		if err := a.metrics.Push(ctx, a.cfg.Metrics.PushURL, a.cfg.Metrics.Job); err != nil {
			log.Printf("metrics push failed: %v", err)
		}
	}

	a.mu.Lock()
	a.lastReport = report
	a.mu.Unlock()
	return report, nil
}

// StartTriggers starts the schedule or watch trigger of long-running modes.
// Each triggered cycle runs with opts.
func (a *App) StartTriggers(ctx context.Context, opts pipeline.RunOptions) error {
	if !a.cfg.LongRunning() {
		return nil
	}

	a.runner = trigger.NewRunner(func(ctx context.Context) error {
		_, err := a.RunOnce(ctx, opts)
		return err
	}, a.life)

	switch a.cfg.Mode {
	case config.ModeSchedule:
		scheduler, err := trigger.Schedule(ctx, a.cfg.Schedule.Cron, a.runner)
		if err != nil {
			return fmt.Errorf("failed to start %s trigger: %w", a.cfg.Mode, err)
		}
		a.life.Own("scheduler", lifecycle.CloseFunc(func() error {
			<-scheduler.Stop().Done()
			return nil
		}))
	case config.ModeWatch:
		watcher, err := trigger.Watch(ctx, a.cfg.InputDir(), a.cfg.Schedule.Debounce, a.runner)
		if err != nil {
			return fmt.Errorf("failed to start %s trigger: %w", a.cfg.Mode, err)
		}
		a.life.Own("watcher", watcher)
	}
	return nil
}

// Pipeline returns the pipeline context.
func (a *App) Pipeline() *pipeline.Context { return a.pipeline }

// Stats returns per-flow statistics accumulated by RunOnce.
func (a *App) Stats() *observability.FlowStats { return a.stats }

// LastReport returns the report of the most recent cycle, or nil.
func (a *App) LastReport() *pipeline.Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastReport
}

// WaitForShutdown blocks until a shutdown signal is received or ctx is done,
// then stops the lifecycle.
func (a *App) WaitForShutdown(ctx context.Context) error {
	return a.life.Wait(ctx)
}

// Stop refuses new cycles, waits for an in-flight cycle and closes owned
// resources in reverse order: triggers, the final metrics push, the catalog.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	err := a.life.Stop(ctx, "stop")
	a.cancel()
	if a.runner != nil {
		a.runner.Wait()
	}

	for _, s := range a.stats.TopByRows(5) {
		log.Printf("flow %s: %d run(s), %d row(s), %d failure(s), last %s",
			s.Flow, s.Runs, s.RowsAppended, s.Failures, s.LastState)
	}
	log.Printf("flowgraph stopped")
	return err
}
