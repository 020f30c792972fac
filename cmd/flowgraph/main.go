// Package main implements the flowgraph binary. It runs the bundled
// web-traffic pipeline once, or keeps running it on a cron schedule or on
// file arrival.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/arkilian/flowgraph/internal/app"
	"github.com/arkilian/flowgraph/internal/config"
	"github.com/arkilian/flowgraph/internal/pipeline"
)

var (
	version = "dev"
	commit  = "unknown"
)

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	configFile     string
	dataDir        string
	input          string
	storageType    string
	fullRefresh    string
	fullRefreshAll bool
	refresh        string
	dryRun         bool
	schedule       string
	watch          bool
	showVersion    bool
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("flowgraph", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var o options
	fs.StringVar(&o.configFile, "config", "", "Path to configuration file (YAML or JSON)")
	fs.StringVar(&o.dataDir, "data-dir", "", "Base directory for storage and the pipeline catalog")
	fs.StringVar(&o.input, "input", "", "Object storage prefix holding the input log files")
	fs.StringVar(&o.storageType, "storage", "", "Storage type: local, s3")
	fs.StringVar(&o.fullRefresh, "full-refresh", "", "Comma-separated tables to clear and rebuild")
	fs.BoolVar(&o.fullRefreshAll, "full-refresh-all", false, "Clear and rebuild every table")
	fs.StringVar(&o.refresh, "refresh", "", "Comma-separated tables to update; other flows are not run")
	fs.BoolVar(&o.dryRun, "dry-run", false, "Validate the graph and report pending input without running flows")
	fs.StringVar(&o.schedule, "schedule", "", "Cron spec; keep running and start a cycle on each activation")
	fs.BoolVar(&o.watch, "watch", false, "Keep running and start a cycle when input files arrive")
	fs.BoolVar(&o.showVersion, "version", false, "Show version information")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "flowgraph - incremental dataflow pipeline runner\n\n")
		fmt.Fprintf(stderr, "Usage: flowgraph [options]\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  flowgraph --data-dir /data/flowgraph\n")
		fmt.Fprintf(stderr, "  flowgraph --full-refresh-all\n")
		fmt.Fprintf(stderr, "  flowgraph --schedule '*/5 * * * *'\n")
		fmt.Fprintf(stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(stderr, "  FLOWGRAPH_MODE          Run mode (once, schedule, watch)\n")
		fmt.Fprintf(stderr, "  FLOWGRAPH_DATA_DIR      Base directory for data files\n")
		fmt.Fprintf(stderr, "  FLOWGRAPH_INPUT_PREFIX  Input prefix\n")
		fmt.Fprintf(stderr, "  FLOWGRAPH_STORAGE_TYPE  Storage type (local, s3)\n")
		fmt.Fprintf(stderr, "  FLOWGRAPH_S3_*          S3 bucket, region, endpoint\n")
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitConfig
	}

	if o.showVersion {
		fmt.Fprintf(stdout, "flowgraph version %s (commit: %s)\n", version, commit)
		return exitOK
	}

	if o.watch && o.schedule != "" {
		log.Printf("-watch and -schedule are mutually exclusive")
		return exitConfig
	}

	// a missing .env is fine
	_ = godotenv.Load()

	cfg, err := loadConfig(o)
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		return exitConfig
	}

	printBanner(cfg)

	application, err := app.New(cfg, stdout)
	if err != nil {
		log.Printf("Failed to create application: %v", err)
		return exitConfig
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.Printf("Failed to start application: %v", err)
		return exitConfig
	}

	first := application.RunOptions()
	first.Dry = o.dryRun
	first.FullRefresh = splitList(o.fullRefresh)
	first.FullRefreshAll = o.fullRefreshAll
	first.Refresh = splitList(o.refresh)

	report, err := application.RunOnce(ctx, first)
	if err != nil {
		log.Printf("Cycle aborted: %v", err)
		application.Stop(context.Background())
		return exitConfig
	}
	code := exitCode(report)

	if cfg.LongRunning() && !o.dryRun {
		next := application.RunOptions()
		next.Refresh = first.Refresh
		if err := application.StartTriggers(ctx, next); err != nil {
			log.Printf("Failed to start triggers: %v", err)
			application.Stop(context.Background())
			return exitConfig
		}
		if err := application.WaitForShutdown(ctx); err != nil {
			log.Printf("Shutdown error: %v", err)
		}
		if last := application.LastReport(); last != nil {
			code = exitCode(last)
		}
	}

	if err := application.Stop(context.Background()); err != nil {
		log.Printf("Shutdown error: %v", err)
		return exitFailed
	}
	return code
}

// exitCode is 0 iff no flow failed or was skipped and no unit was malformed.
func exitCode(r *pipeline.Report) int {
	if r.Failed() {
		return exitFailed
	}
	return exitOK
}

// loadConfig loads configuration from file, environment, and command line flags.
func loadConfig(o options) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if o.configFile != "" {
		cfg, err = config.LoadFromFile(o.configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	// Command line flags have the highest priority
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}
	if o.input != "" {
		cfg.Input.Prefix = o.input
	}
	if o.storageType != "" {
		cfg.Storage.Type = o.storageType
	}
	if o.schedule != "" {
		cfg.Mode = config.ModeSchedule
		cfg.Schedule.Cron = o.schedule
	}
	if o.watch {
		cfg.Mode = config.ModeWatch
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// printBanner prints the startup banner with configuration summary.
func printBanner(cfg *config.Config) {
	log.Printf("flowgraph %s", version)
	log.Printf("Configuration:")
	log.Printf("  Mode:     %s", cfg.Mode)
	log.Printf("  Data Dir: %s", cfg.DataDir)
	log.Printf("  Storage:  %s", cfg.Storage.Type)
	log.Printf("  Input:    %s", cfg.Input.Prefix)
	switch cfg.Mode {
	case config.ModeSchedule:
		log.Printf("  Schedule: %s", cfg.Schedule.Cron)
	case config.ModeWatch:
		log.Printf("  Watch debounce: %v", cfg.Schedule.Debounce)
	}
	if cfg.Metrics.PushURL != "" {
		log.Printf("  Pushgateway: %s (job %s)", cfg.Metrics.PushURL, cfg.Metrics.Job)
	}
}
