// Package config provides configuration for the flowgraph CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Mode selects how cycles are started.
type Mode string

const (
	ModeOnce     Mode = "once"
	ModeSchedule Mode = "schedule"
	ModeWatch    Mode = "watch"
)

// CatalogFileName is the SQLite file holding checkpoints, table rows and cycle history.
const CatalogFileName = "pipeline.db"

// Config holds the configuration of one flowgraph process.
type Config struct {
	// Mode is once, schedule or watch
	Mode Mode `json:"mode" yaml:"mode"`

	// DataDir is the base directory for local storage and the catalog
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Input configuration
	Input InputConfig `json:"input" yaml:"input"`

	// Execution configuration
	Execution ExecutionConfig `json:"execution" yaml:"execution"`

	// Schedule configuration (schedule and watch modes)
	Schedule ScheduleConfig `json:"schedule" yaml:"schedule"`

	// Metrics configuration
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// InputConfig locates the source units and controls sample generation.
type InputConfig struct {
	// Prefix is the object storage prefix the ingest flow reads
	Prefix string `json:"prefix" yaml:"prefix"`

	// Generate writes sample log files when the prefix is empty
	Generate bool `json:"generate" yaml:"generate"`

	// Files is the number of sample files generated
	Files int `json:"files" yaml:"files"`

	// RecordsPerFile is the number of events per sample file
	RecordsPerFile int `json:"records_per_file" yaml:"records_per_file"`
}

// ExecutionConfig bounds one cycle.
type ExecutionConfig struct {
	// Concurrency is the number of flows of one stage run at once
	Concurrency int `json:"concurrency" yaml:"concurrency"`

	// FetchConcurrency is the number of units a Source-Flow fetches at once
	FetchConcurrency int `json:"fetch_concurrency" yaml:"fetch_concurrency"`

	// SourceTimeout bounds reading of each Source-Flow (0 disables)
	SourceTimeout time.Duration `json:"source_timeout" yaml:"source_timeout"`
}

// ScheduleConfig holds long-running trigger configuration.
type ScheduleConfig struct {
	// Cron is a standard five-field cron spec (schedule mode)
	Cron string `json:"cron" yaml:"cron"`

	// Debounce coalesces bursts of file events (watch mode)
	Debounce time.Duration `json:"debounce" yaml:"debounce"`

	// ShutdownTimeout bounds waiting for an in-flight cycle on shutdown
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// MetricsConfig holds Prometheus Pushgateway configuration.
type MetricsConfig struct {
	// PushURL is the Pushgateway URL; empty disables pushing
	PushURL string `json:"push_url" yaml:"push_url"`

	// Job is the Pushgateway job label
	Job string `json:"job" yaml:"job"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		Mode:    ModeOnce,
		DataDir: "./data/flowgraph",
		Input: InputConfig{
			Prefix:         "web_traffic_logs",
			Generate:       true,
			Files:          5,
			RecordsPerFile: 100,
		},
		Execution: ExecutionConfig{
			Concurrency:      4,
			FetchConcurrency: 4,
			SourceTimeout:    2 * time.Minute,
		},
		Schedule: ScheduleConfig{
			Cron:            "*/5 * * * *",
			Debounce:        2 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Job: "flowgraph",
		},
		Storage: StorageConfig{
			Type: "local",
			Path: "",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/flowgraph"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "storage")
	}
	c.Input.Prefix = strings.Trim(c.Input.Prefix, "/")
	if c.Input.Prefix == "" {
		c.Input.Prefix = "web_traffic_logs"
	}
}

// CatalogPath returns the path to the pipeline catalog database.
func (c *Config) CatalogPath() string {
	return filepath.Join(c.DataDir, CatalogFileName)
}

// InputDir returns the local directory holding the input units, or "" for
// non-local storage.
func (c *Config) InputDir() string {
	if c.Storage.Type != "local" {
		return ""
	}
	return filepath.Join(c.Storage.Path, filepath.FromSlash(c.Input.Prefix))
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeOnce, ModeSchedule, ModeWatch:
		// Valid modes
	default:
		return fmt.Errorf("invalid mode: %s (must be once, schedule, or watch)", c.Mode)
	}

	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}

	if c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	if c.Mode == ModeWatch && c.Storage.Type != "local" {
		return fmt.Errorf("watch mode requires local storage")
	}

	if c.Mode == ModeSchedule {
		if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
			return fmt.Errorf("invalid schedule.cron %q: %w", c.Schedule.Cron, err)
		}
	}

	if c.Execution.Concurrency < 1 {
		return fmt.Errorf("execution.concurrency must be at least 1, got %d", c.Execution.Concurrency)
	}
	if c.Execution.FetchConcurrency < 1 {
		return fmt.Errorf("execution.fetch_concurrency must be at least 1, got %d", c.Execution.FetchConcurrency)
	}
	if c.Execution.SourceTimeout < 0 {
		return fmt.Errorf("execution.source_timeout cannot be negative")
	}

	if c.Input.Generate && (c.Input.Files < 1 || c.Input.RecordsPerFile < 1) {
		return fmt.Errorf("input.files and input.records_per_file must be positive when generate is enabled")
	}

	return nil
}

// LongRunning reports whether the process keeps starting cycles after the first.
func (c *Config) LongRunning() bool {
	return c.Mode == ModeSchedule || c.Mode == ModeWatch
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the FLOWGRAPH_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("FLOWGRAPH_MODE"); v != "" {
		cfg.Mode = Mode(v)
	}
	if v := os.Getenv("FLOWGRAPH_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// Input configuration
	if v := os.Getenv("FLOWGRAPH_INPUT_PREFIX"); v != "" {
		cfg.Input.Prefix = v
	}
	if v := os.Getenv("FLOWGRAPH_INPUT_GENERATE"); v != "" {
		cfg.Input.Generate = v == "true" || v == "1"
	}
	if v := os.Getenv("FLOWGRAPH_INPUT_FILES"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Input.Files)
	}
	if v := os.Getenv("FLOWGRAPH_INPUT_RECORDS_PER_FILE"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Input.RecordsPerFile)
	}

	// Execution configuration
	if v := os.Getenv("FLOWGRAPH_EXECUTION_CONCURRENCY"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Execution.Concurrency)
	}
	if v := os.Getenv("FLOWGRAPH_EXECUTION_FETCH_CONCURRENCY"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Execution.FetchConcurrency)
	}
	if v := os.Getenv("FLOWGRAPH_EXECUTION_SOURCE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Execution.SourceTimeout = d
		}
	}

	// Schedule configuration
	if v := os.Getenv("FLOWGRAPH_SCHEDULE_CRON"); v != "" {
		cfg.Schedule.Cron = v
	}
	if v := os.Getenv("FLOWGRAPH_SCHEDULE_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Schedule.Debounce = d
		}
	}

	// Metrics configuration
	if v := os.Getenv("FLOWGRAPH_METRICS_PUSH_URL"); v != "" {
		cfg.Metrics.PushURL = v
	}
	if v := os.Getenv("FLOWGRAPH_METRICS_JOB"); v != "" {
		cfg.Metrics.Job = v
	}

	// Storage configuration
	if v := os.Getenv("FLOWGRAPH_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("FLOWGRAPH_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("FLOWGRAPH_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("FLOWGRAPH_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("FLOWGRAPH_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path, c.InputDir())
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
