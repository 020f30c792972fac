// Package pipeline owns the explicit pipeline context (table and flow
// registries, checkpoint store, source storage) and runs execution cycles
// over it.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/arkilian/flowgraph/internal/catalog"
	"github.com/arkilian/flowgraph/internal/checkpoint"
	flowerr "github.com/arkilian/flowgraph/internal/errors"
	"github.com/arkilian/flowgraph/internal/executor"
	"github.com/arkilian/flowgraph/internal/flow"
	"github.com/arkilian/flowgraph/internal/graph"
	"github.com/arkilian/flowgraph/internal/observability"
	"github.com/arkilian/flowgraph/internal/source"
	"github.com/arkilian/flowgraph/internal/storage"
	"github.com/arkilian/flowgraph/internal/table"
	"github.com/arkilian/flowgraph/pkg/types"
)

// DefaultConcurrency bounds the flows of one stage running at once.
const DefaultConcurrency = 4

// Context is the explicit state a pipeline is declared against and run in.
// Declarations are ordinary method calls; nothing is registered globally.
type Context struct {
	Tables      *table.Registry
	Flows       *flow.Registry
	Checkpoints checkpoint.Store
	Storage     storage.ObjectStorage

	// Catalog is set for durable contexts; it records schemas and cycle history.
	Catalog *catalog.SQLiteCatalog

	// Metrics is optional.
	Metrics *observability.Metrics

	// runMu serializes cycles on one context.
	runMu sync.Mutex
}

// NewContext creates an in-memory context reading units from store.
// Tables and checkpoints do not survive the process.
func NewContext(store storage.ObjectStorage) *Context {
	cps := checkpoint.NewMemoryStore()
	tables := table.NewRegistry(table.NewEphemeralStore(cps))
	return &Context{
		Tables:      tables,
		Flows:       flow.NewRegistry(tables),
		Checkpoints: cps,
		Storage:     store,
	}
}

// NewDurableContext creates a context whose table rows and checkpoints are
// committed to cat. Call Restore after declaring tables.
func NewDurableContext(store storage.ObjectStorage, cat *catalog.SQLiteCatalog) *Context {
	tables := table.NewRegistry(cat)
	return &Context{
		Tables:      tables,
		Flows:       flow.NewRegistry(tables),
		Checkpoints: cat,
		Storage:     store,
		Catalog:     cat,
	}
}

// DeclareTable declares a table on the context.
func (c *Context) DeclareTable(name string, schema types.Schema) (*table.Table, error) {
	return c.Tables.DeclareTable(name, schema)
}

// RegisterFlow registers a flow on the context.
func (c *Context) RegisterFlow(f flow.Flow) (*flow.Flow, error) {
	return c.Flows.Register(f)
}

// Restore reloads persisted table rows. For durable contexts it also records
// each declared schema and logs schemas that changed since the last run.
func (c *Context) Restore(ctx context.Context) error {
	if c.Catalog != nil {
		for _, t := range c.Tables.Tables() {
			prev, err := c.Catalog.RegisterSchema(ctx, t.Name(), t.Schema())
			if err != nil {
				return err
			}
			if prev != "" && prev != t.Schema().String() {
				log.Printf("pipeline: schema of %s changed since last run (was %s)", t.Name(), prev)
			}
		}
	}
	if err := c.Tables.Load(ctx); err != nil {
		return err
	}
	for _, t := range c.Tables.Tables() {
		if wm := t.Watermark(); wm > 0 {
			log.Printf("pipeline: restored %d rows of %s", wm, t.Name())
		}
	}
	return nil
}

// Plan builds the dataflow graph of the current declarations.
func (c *Context) Plan() (*graph.Plan, error) {
	tables := c.Tables.Tables()
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = t.Name()
	}
	return graph.Build(names, c.Flows.Flows())
}

// RunOptions selects the run mode of one cycle.
type RunOptions struct {
	// Dry validates the graph and reports the plan without executing flows
	Dry bool

	// FullRefresh lists tables cleared (and whose flow checkpoints are
	// reset) before the cycle; FullRefreshAll applies it to every table
	FullRefresh    []string
	FullRefreshAll bool

	// Refresh restricts the cycle to flows targeting these tables
	Refresh []string

	// Concurrency bounds flows running at once within a stage
	Concurrency int

	// FetchConcurrency bounds parallel unit fetches of one Source-Flow
	FetchConcurrency int

	// SourceTimeout bounds discovery and reading of each Source-Flow
	SourceTimeout time.Duration
}

// Run executes one cycle. Graph errors and invalid options abort the cycle
// before any flow runs and are returned as errors; flow failures are
// reported in the Report.
func (c *Context) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	report := &Report{
		CycleID:      uuid.NewString(),
		Started:      time.Now(),
		DryRun:       opts.Dry,
		RowsAppended: make(map[string]int64),
	}

	plan, err := c.Plan()
	if err != nil {
		return nil, err
	}

	refreshTables, err := c.tableSet(opts.FullRefresh)
	if err != nil {
		return nil, err
	}
	if opts.FullRefreshAll {
		refreshTables = make(map[string]bool)
		for _, t := range plan.Tables() {
			refreshTables[t] = true
		}
	}
	onlyTables, err := c.tableSet(opts.Refresh)
	if err != nil {
		return nil, err
	}

	var selected []*flow.Flow
	for _, f := range plan.Order() {
		if len(onlyTables) == 0 || onlyTables[f.Target] {
			selected = append(selected, f)
			report.Planned = append(report.Planned, f.Name)
		}
	}
	isSelected := make(map[string]bool, len(selected))
	for _, f := range selected {
		isSelected[f.Name] = true
	}
	for _, t := range plan.Tables() {
		if refreshTables[t] {
			report.Refreshed = append(report.Refreshed, t)
		}
	}

	reader := source.NewReader(c.Storage, opts.FetchConcurrency)

	if opts.Dry {
		report.PendingUnits = make(map[string]int)
		for _, f := range selected {
			if f.Kind != flow.SourceFlow {
				continue
			}
			var cp *types.Checkpoint
			if !refreshTables[f.Target] {
				if cp, err = c.Checkpoints.Get(ctx, f.Name); err != nil {
					return nil, flowerr.NewCheckpointError(flowerr.CodeCheckpointRead,
						fmt.Sprintf("read checkpoint of %q", f.Name), err)
				}
			}
			units, err := reader.Pending(ctx, f.Source, cp)
			if err != nil {
				return nil, err
			}
			report.PendingUnits[f.Name] = len(units)
		}
		report.Finished = time.Now()
		log.Printf("pipeline: dry run %s planned %d flow(s): %v", report.CycleID, len(report.Planned), report.Planned)
		c.observeCycle(report)
		return report, nil
	}

	if err := c.fullRefresh(ctx, plan, report.Refreshed); err != nil {
		return nil, err
	}

	var observer executor.Observer
	if c.Metrics != nil {
		observer = c.Metrics
	}
	exec := executor.New(executor.Config{
		Tables:        c.Tables,
		Checkpoints:   c.Checkpoints,
		Reader:        reader,
		SourceTimeout: opts.SourceTimeout,
		Observer:      observer,
	})

	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}

	log.Printf("pipeline: cycle %s started: %d flow(s) in %d stage(s)",
		report.CycleID, len(selected), len(plan.Stages()))

	outcomes := make(map[string]*executor.Outcome, len(selected))
	var mu sync.Mutex
	record := func(out *executor.Outcome) {
		mu.Lock()
		outcomes[out.Flow] = out
		mu.Unlock()
	}

	for _, stage := range plan.Stages() {
		sem := semaphore.NewWeighted(int64(concurrency))
		var wg sync.WaitGroup

		for _, group := range groupByTarget(plan, stage) {
			var runnable []*flow.Flow
			for _, f := range group {
				if !isSelected[f.Name] {
					continue
				}
				mu.Lock()
				blocker := blockingProducer(plan, f, outcomes)
				mu.Unlock()
				if blocker != "" {
					log.Printf("pipeline: flow %s skipped: upstream %s did not complete", f.Name, blocker)
					record(executor.Skipped(f, blocker))
					continue
				}
				runnable = append(runnable, f)
			}
			if len(runnable) == 0 {
				continue
			}

			if err := sem.Acquire(ctx, 1); err != nil {
				for _, f := range runnable {
					record(&executor.Outcome{
						Flow: f.Name, Target: f.Target, Kind: f.Kind, State: executor.StateFailed,
						Err: flowerr.NewExecutionError(flowerr.CodeTimeout, "cycle cancelled before flow started", err),
					})
				}
				continue
			}
			wg.Add(1)
			go func(flows []*flow.Flow) {
				defer sem.Release(1)
				defer wg.Done()

				// writers of one table append in declaration order
				for _, f := range flows {
					record(exec.Execute(ctx, f))
				}
			}(runnable)
		}
		wg.Wait()
	}

	for _, f := range selected {
		out := outcomes[f.Name]
		report.Outcomes = append(report.Outcomes, out)
		if out.RowsAppended > 0 {
			report.RowsAppended[out.Target] += int64(out.RowsAppended)
		}
		if c.Metrics != nil {
			c.Metrics.ObserveOutcome(out)
		}
	}
	report.Finished = time.Now()

	log.Printf("pipeline: cycle %s finished in %s: %d row(s) appended, %d failed flow(s), %d parse error(s)",
		report.CycleID, report.Duration().Round(time.Millisecond), report.TotalRows(),
		len(report.FailedFlows()), len(report.ParseErrors()))

	c.observeCycle(report)
	if c.Catalog != nil {
		err := c.Catalog.RecordCycle(ctx, catalog.CycleRecord{
			ID:           report.CycleID,
			StartedAt:    report.Started,
			FinishedAt:   report.Finished,
			RowsAppended: report.TotalRows(),
			FailedFlows:  len(report.FailedFlows()),
			ParseErrors:  len(report.ParseErrors()),
		})
		if err != nil {
			log.Printf("pipeline: failed to record cycle %s: %v", report.CycleID, err)
		}
	}
	return report, nil
}

// blockingProducer returns the first upstream flow of f that ran this cycle
// without completing, or "".
func blockingProducer(plan *graph.Plan, f *flow.Flow, outcomes map[string]*executor.Outcome) string {
	for _, producer := range plan.Upstream(f.Name) {
		out, ran := outcomes[producer]
		if ran && out.State != executor.StateDone {
			return producer
		}
	}
	return ""
}

// groupByTarget splits a stage into groups of flows sharing a target table.
// Groups keep stage order; flows within a group follow declaration order.
func groupByTarget(plan *graph.Plan, stage []*flow.Flow) [][]*flow.Flow {
	index := make(map[string]int)
	var groups [][]*flow.Flow
	for _, f := range stage {
		i, ok := index[f.Target]
		if !ok {
			i = len(groups)
			index[f.Target] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], f)
	}
	for _, g := range groups {
		if len(g) < 2 {
			continue
		}
		rank := make(map[string]int)
		for i, name := range plan.Writers(g[0].Target) {
			rank[name] = i
		}
		sort.SliceStable(g, func(i, j int) bool { return rank[g[i].Name] < rank[g[j].Name] })
	}
	return groups
}

// fullRefresh clears tables and resets, in the same commit, the checkpoints
// of every flow writing them and of every Derived-Flow reading them.
func (c *Context) fullRefresh(ctx context.Context, plan *graph.Plan, tables []string) error {
	if len(tables) == 0 {
		return nil
	}
	refreshed := make(map[string]bool, len(tables))
	var reset []string
	for _, t := range tables {
		refreshed[t] = true
		reset = append(reset, plan.Writers(t)...)
	}
	for _, f := range plan.Order() {
		if f.Kind == flow.DerivedFlow && refreshed[f.Upstream] && !refreshed[f.Target] {
			reset = append(reset, f.Name)
		}
	}

	if err := c.Tables.Truncate(ctx, tables, reset); err != nil {
		return err
	}
	log.Printf("pipeline: full refresh cleared %v and reset %d checkpoint(s)", tables, len(reset))
	return nil
}

func (c *Context) tableSet(names []string) (map[string]bool, error) {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		if !c.Tables.Has(n) {
			return nil, flowerr.NewGraphError(flowerr.CodeUnknownTable, fmt.Sprintf("table %q is not declared", n))
		}
		set[n] = true
	}
	return set, nil
}

func (c *Context) observeCycle(r *Report) {
	if c.Metrics == nil {
		return
	}
	result := "ok"
	switch {
	case r.DryRun:
		result = "dry_run"
	case r.Failed():
		result = "failed"
	}
	c.Metrics.ObserveCycle(result, r.Duration().Seconds(), c.Tables.Watermarks())
}
