package observability

import (
	"sort"
	"sync"
	"time"

	"github.com/arkilian/flowgraph/internal/executor"
)

// FlowStats accumulates per-flow results across cycles of a long-running process.
type FlowStats struct {
	mu     sync.RWMutex
	flows  map[string]*FlowSummary
	window time.Duration
}

// FlowSummary holds cumulative statistics of one flow.
type FlowSummary struct {
	Flow         string
	Runs         int64
	Failures     int64
	Skips        int64
	RowsAppended int64
	ParseErrors  int64
	LastState    executor.State
	LastRun      time.Time
}

// NewFlowStats creates a tracker. Entries not seen within window are dropped by Prune.
func NewFlowStats(window time.Duration) *FlowStats {
	return &FlowStats{
		flows:  make(map[string]*FlowSummary),
		window: window,
	}
}

// Record adds one outcome.
func (s *FlowStats) Record(o *executor.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum, ok := s.flows[o.Flow]
	if !ok {
		sum = &FlowSummary{Flow: o.Flow}
		s.flows[o.Flow] = sum
	}

	sum.Runs++
	switch o.State {
	case executor.StateFailed:
		sum.Failures++
	case executor.StateSkipped:
		sum.Skips++
	}
	sum.RowsAppended += int64(o.RowsAppended)
	sum.ParseErrors += int64(len(o.ParseErrors))
	sum.LastState = o.State
	sum.LastRun = time.Now()
}

// Get returns a copy of the summary of flow.
func (s *FlowStats) Get(flow string) (FlowSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.flows[flow]
	if !ok {
		return FlowSummary{}, false
	}
	return *sum, true
}

// TopByRows returns up to n summaries ordered by rows appended, descending.
func (s *FlowStats) TopByRows(n int) []FlowSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || len(s.flows) == 0 {
		return []FlowSummary{}
	}

	out := make([]FlowSummary, 0, len(s.flows))
	for _, sum := range s.flows {
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RowsAppended != out[j].RowsAppended {
			return out[i].RowsAppended > out[j].RowsAppended
		}
		return out[i].Flow < out[j].Flow
	})

	if n > len(out) {
		n = len(out)
	}
	return out[:n]
}

// Prune removes flows whose last run is older than the window.
func (s *FlowStats) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := time.Now().Add(-s.window)
	for name, sum := range s.flows {
		if sum.LastRun.Before(threshold) {
			delete(s.flows, name)
		}
	}
}
