package pipeline

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/arkilian/flowgraph/internal/executor"
)

// Report summarizes one cycle.
type Report struct {
	CycleID  string
	Started  time.Time
	Finished time.Time
	DryRun   bool

	// Planned lists the flows selected for the cycle in execution order
	Planned []string

	// PendingUnits is the number of new units per Source-Flow (dry runs only)
	PendingUnits map[string]int

	// Refreshed lists tables cleared by a full refresh before the cycle
	Refreshed []string

	// Outcomes holds one entry per planned flow, in execution order
	Outcomes []*executor.Outcome

	// RowsAppended per table
	RowsAppended map[string]int64
}

// Duration returns the wall time of the cycle.
func (r *Report) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Outcome returns the outcome of the named flow.
func (r *Report) Outcome(name string) (*executor.Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Flow == name {
			return o, true
		}
	}
	return nil, false
}

// FailedFlows lists flows that failed or were skipped.
func (r *Report) FailedFlows() []string {
	var out []string
	for _, o := range r.Outcomes {
		if o.State == executor.StateFailed || o.State == executor.StateSkipped {
			out = append(out, o.Flow)
		}
	}
	return out
}

// ParseErrors collects the malformed units skipped by every flow.
func (r *Report) ParseErrors() []error {
	var out []error
	for _, o := range r.Outcomes {
		out = append(out, o.ParseErrors...)
	}
	return out
}

// Failed reports whether any flow failed or any unit was malformed.
func (r *Report) Failed() bool {
	return len(r.FailedFlows()) > 0 || len(r.ParseErrors()) > 0
}

// TotalRows returns the rows appended across all tables.
func (r *Report) TotalRows() int64 {
	var n int64
	for _, c := range r.RowsAppended {
		n += c
	}
	return n
}

// TablesTouched lists tables that received rows, sorted.
func (r *Report) TablesTouched() []string {
	var out []string
	for t, n := range r.RowsAppended {
		if n > 0 {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// WriteTo prints a human-readable summary.
func (r *Report) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	tw := tabwriter.NewWriter(cw, 0, 4, 2, ' ', 0)

	mode := "cycle"
	if r.DryRun {
		mode = "dry run"
	}
	fmt.Fprintf(tw, "%s %s (%s)\n", mode, r.CycleID, r.Duration().Round(time.Millisecond))
	for _, t := range r.Refreshed {
		fmt.Fprintf(tw, "full refresh:\t%s\n", t)
	}

	if r.DryRun {
		fmt.Fprintln(tw, "FLOW\tPENDING UNITS")
		for _, name := range r.Planned {
			pending := "-"
			if n, ok := r.PendingUnits[name]; ok {
				pending = fmt.Sprint(n)
			}
			fmt.Fprintf(tw, "%s\t%s\n", name, pending)
		}
		tw.Flush()
		return cw.n, cw.err
	}

	fmt.Fprintln(tw, "FLOW\tTARGET\tSTATE\tREAD\tAPPENDED\tUNITS\tPARSE ERRORS\tDURATION")
	for _, o := range r.Outcomes {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			o.Flow, o.Target, o.State, o.RowsRead, o.RowsAppended, o.UnitsConsumed,
			len(o.ParseErrors), o.Duration().Round(time.Millisecond))
	}
	for _, o := range r.Outcomes {
		if o.Err != nil {
			fmt.Fprintf(tw, "error:\t%s: %v\n", o.Flow, o.Err)
		}
		for _, pe := range o.ParseErrors {
			fmt.Fprintf(tw, "skipped:\t%s: %v\n", o.Flow, pe)
		}
	}
	for _, t := range r.TablesTouched() {
		fmt.Fprintf(tw, "table:\t%s\t+%d rows\n", t, r.RowsAppended[t])
	}
	tw.Flush()
	return cw.n, cw.err
}

type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	if err != nil && c.err == nil {
		c.err = err
	}
	return n, err
}
