// Package executor runs one flow for one cycle:
//
//	Pending -> Reading -> Transforming -> Appending -> Done | Failed
//
// A failure at any stage leaves the target table and the flow's checkpoint
// unchanged. Skipped is assigned by the pipeline runner, never by Execute.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/arkilian/flowgraph/internal/checkpoint"
	flowerr "github.com/arkilian/flowgraph/internal/errors"
	"github.com/arkilian/flowgraph/internal/flow"
	"github.com/arkilian/flowgraph/internal/source"
	"github.com/arkilian/flowgraph/internal/table"
	"github.com/arkilian/flowgraph/pkg/types"
)

// State is the lifecycle state of a flow within a cycle.
type State int

const (
	StatePending State = iota
	StateReading
	StateTransforming
	StateAppending
	StateDone
	StateFailed
	StateSkipped
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateReading:
		return "Reading"
	case StateTransforming:
		return "Transforming"
	case StateAppending:
		return "Appending"
	case StateDone:
		return "Done"
	case StateFailed:
		return "Failed"
	case StateSkipped:
		return "Skipped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed || s == StateSkipped
}

// Outcome is the result of one flow in one cycle.
type Outcome struct {
	Flow   string
	Target string
	Kind   flow.Kind
	State  State

	// FailedIn is the last non-terminal state reached before failing
	FailedIn State

	RowsRead      int
	RowsAppended  int
	UnitsConsumed int
	ParseErrors   []error
	Err           error

	// Checkpoint is the checkpoint committed with the append, if any
	Checkpoint *types.Checkpoint

	Started  time.Time
	Finished time.Time
}

// Duration returns how long the flow ran.
func (o *Outcome) Duration() time.Duration {
	if o.Finished.IsZero() {
		return 0
	}
	return o.Finished.Sub(o.Started)
}

// Skipped returns the outcome of a flow that did not run because cause failed.
func Skipped(f *flow.Flow, cause string) *Outcome {
	now := time.Now()
	return &Outcome{
		Flow:   f.Name,
		Target: f.Target,
		Kind:   f.Kind,
		State:  StateSkipped,
		Err: flowerr.NewExecutionError(flowerr.CodeDependencyFailed,
			fmt.Sprintf("flow %q skipped: upstream %q did not complete", f.Name, cause), nil),
		Started:  now,
		Finished: now,
	}
}

// Observer receives state transitions. Implementations must be safe for concurrent use.
type Observer interface {
	Transition(flowName string, from, to State)
}

// Executor runs flows against shared registries and stores.
type Executor struct {
	tables        *table.Registry
	checkpoints   checkpoint.Store
	reader        *source.Reader
	sourceTimeout time.Duration
	observer      Observer
}

// Config holds the dependencies of an Executor.
type Config struct {
	Tables        *table.Registry
	Checkpoints   checkpoint.Store
	Reader        *source.Reader
	SourceTimeout time.Duration // zero means no limit
	Observer      Observer      // optional
}

// New creates an executor.
func New(cfg Config) *Executor {
	return &Executor{
		tables:        cfg.Tables,
		checkpoints:   cfg.Checkpoints,
		reader:        cfg.Reader,
		sourceTimeout: cfg.SourceTimeout,
		observer:      cfg.Observer,
	}
}

// run tracks the state of one execution.
type run struct {
	e   *Executor
	out *Outcome
}

func (r *run) to(s State) {
	if r.e.observer != nil {
		r.e.observer.Transition(r.out.Flow, r.out.State, s)
	}
	r.out.State = s
}

func (r *run) fail(err error) *Outcome {
	r.out.FailedIn = r.out.State
	r.out.Err = err
	r.to(StateFailed)
	r.out.Finished = time.Now()
	log.Printf("executor: flow %s failed in %s: %v", r.out.Flow, r.out.FailedIn, err)
	return r.out
}

// Execute runs f once. A SourceFlow reads the units its checkpoint does not
// cover; a DerivedFlow reads the upstream rows between its checkpointed
// position and the upstream's current watermark. Either checkpoint advances
// only together with the append.
func (e *Executor) Execute(ctx context.Context, f *flow.Flow) *Outcome {
	r := &run{e: e, out: &Outcome{
		Flow:    f.Name,
		Target:  f.Target,
		Kind:    f.Kind,
		State:   StatePending,
		Started: time.Now(),
	}}

	target, err := e.tables.GetTable(f.Target)
	if err != nil {
		return r.fail(err)
	}

	r.to(StateReading)
	var input types.Batch
	var srcResult *source.Result
	var next *types.Checkpoint

	prev, err := e.checkpoints.Get(ctx, f.Name)
	if err != nil {
		return r.fail(flowerr.NewCheckpointError(flowerr.CodeCheckpointRead,
			fmt.Sprintf("read checkpoint of %q", f.Name), err))
	}

	switch f.Kind {
	case flow.SourceFlow:
		srcResult, err = e.readSource(ctx, f, target.Schema(), prev)
		if err != nil {
			return r.fail(err)
		}
		input = srcResult.Rows()
		r.out.ParseErrors = srcResult.ParseErrors
		r.out.UnitsConsumed = srcResult.Consumed

	case flow.DerivedFlow:
		upstream, err := e.tables.GetTable(f.Upstream)
		if err != nil {
			return r.fail(err)
		}
		from, to := prev.ConsumedUpTo(), upstream.Watermark()
		if from > to {
			log.Printf("executor: flow %s position %d is past %s watermark %d, rereading from 0",
				f.Name, from, f.Upstream, to)
			from = 0
		}
		rows := upstream.RowsSince(from, to)
		if to != prev.ConsumedUpTo() {
			next = &types.Checkpoint{Flow: f.Name, Position: to}
			if prev != nil {
				next.UnitsConsumed = prev.UnitsConsumed
			}
		}
		// Transforms must not be able to reach table-owned rows.
		input = make(types.Batch, len(rows))
		for i, row := range rows {
			input[i] = row.Clone()
		}

	default:
		return r.fail(flowerr.NewInternalError(fmt.Sprintf("flow %q has unknown kind %v", f.Name, f.Kind), nil))
	}
	r.out.RowsRead = len(input)

	r.to(StateTransforming)
	output, err := e.transform(ctx, f, input)
	if err != nil {
		return r.fail(err)
	}

	r.to(StateAppending)
	if srcResult != nil {
		next = srcResult.Advance(f.Name, prev)
	}
	if next != nil {
		next.UpdatedAt = time.Now().UTC()
	}
	if len(output) > 0 || next != nil {
		res, err := e.tables.AppendRows(ctx, f.Target, output, next)
		if err != nil {
			return r.fail(err)
		}
		r.out.RowsAppended = res.Count
		r.out.Checkpoint = next
	}

	r.to(StateDone)
	r.out.Finished = time.Now()
	if len(r.out.ParseErrors) > 0 {
		log.Printf("executor: flow %s done with %d skipped unit(s)", f.Name, len(r.out.ParseErrors))
	}
	return r.out
}

func (e *Executor) readSource(ctx context.Context, f *flow.Flow, schema types.Schema, prev *types.Checkpoint) (*source.Result, error) {
	readCtx := ctx
	if e.sourceTimeout > 0 {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(ctx, e.sourceTimeout)
		defer cancel()
	}

	res, err := e.reader.Read(readCtx, f.Source, schema, prev)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, flowerr.NewExecutionError(flowerr.CodeTimeout,
				fmt.Sprintf("flow %q: source read exceeded %s", f.Name, e.sourceTimeout), err)
		}
		return nil, err
	}
	return res, nil
}

func (e *Executor) transform(ctx context.Context, f *flow.Flow, input types.Batch) (out types.Batch, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = flowerr.NewExecutionError(flowerr.CodeTransformFailed,
				fmt.Sprintf("flow %q: transform panicked: %v", f.Name, p), nil)
		}
	}()

	out, err = f.Transform(ctx, input)
	if err != nil {
		return nil, flowerr.NewExecutionError(flowerr.CodeTransformFailed,
			fmt.Sprintf("flow %q: transform failed", f.Name), err)
	}
	return out, nil
}
