// Package graph validates the declared tables and flows of a pipeline and
// orders the flows for execution.
//
// Tables are the nodes and flows the edges. A flow depends on every flow
// writing the table it reads, so a flow is planned after all producers of
// its input. Ordering uses Kahn's algorithm with ties broken by declaration
// order, which keeps plans deterministic across runs.
package graph

import (
	"fmt"
	"strings"

	flowerr "github.com/arkilian/flowgraph/internal/errors"
	"github.com/arkilian/flowgraph/internal/flow"
)

// Plan is a validated, immutable execution order. Safe for concurrent use.
type Plan struct {
	order  []*flow.Flow
	stages [][]*flow.Flow
	tables []string

	index      map[string]int      // flow name -> declaration index
	stageOf    map[string]int      // flow name -> stage
	producers  map[string][]string // flow name -> direct upstream flows
	dependents map[string][]string // flow name -> direct downstream flows
	writers    map[string][]string // table -> flows writing it
}

// Build validates tables and flows and returns the execution plan. No
// partial plan is returned on error.
func Build(tables []string, flows []*flow.Flow) (*Plan, error) {
	declared := make(map[string]bool, len(tables))
	for _, t := range tables {
		declared[t] = true
	}

	p := &Plan{
		tables:     append([]string(nil), tables...),
		index:      make(map[string]int, len(flows)),
		stageOf:    make(map[string]int, len(flows)),
		producers:  make(map[string][]string, len(flows)),
		dependents: make(map[string][]string, len(flows)),
		writers:    make(map[string][]string),
	}

	for i, f := range flows {
		if _, dup := p.index[f.Name]; dup {
			return nil, flowerr.NewGraphError(flowerr.CodeDuplicateFlow, fmt.Sprintf("flow %q declared twice", f.Name))
		}
		if !declared[f.Target] {
			return nil, flowerr.NewGraphError(flowerr.CodeDanglingFlow,
				fmt.Sprintf("flow %q targets undeclared table %q", f.Name, f.Target))
		}
		if up := f.Reads(); up != "" && !declared[up] {
			return nil, flowerr.NewGraphError(flowerr.CodeDanglingFlow,
				fmt.Sprintf("flow %q reads undeclared table %q", f.Name, up))
		}
		p.index[f.Name] = i
		p.writers[f.Target] = append(p.writers[f.Target], f.Name)
	}

	inDegree := make(map[string]int, len(flows))
	for _, f := range flows {
		up := f.Reads()
		if up == "" {
			continue
		}
		for _, producer := range p.writers[up] {
			p.producers[f.Name] = append(p.producers[f.Name], producer)
			p.dependents[producer] = append(p.dependents[producer], f.Name)
			inDegree[f.Name]++
		}
	}

	// ready holds declaration indexes of flows with no unmet dependencies.
	var ready []int
	for i, f := range flows {
		if inDegree[f.Name] == 0 {
			ready = append(ready, i)
		}
	}

	for len(ready) > 0 {
		next := popMin(&ready)
		f := flows[next]
		p.order = append(p.order, f)

		stage := 0
		for _, producer := range p.producers[f.Name] {
			if s := p.stageOf[producer] + 1; s > stage {
				stage = s
			}
		}
		p.stageOf[f.Name] = stage
		for len(p.stages) <= stage {
			p.stages = append(p.stages, nil)
		}
		p.stages[stage] = append(p.stages[stage], f)

		for _, dep := range p.dependents[f.Name] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, p.index[dep])
			}
		}
	}

	if len(p.order) < len(flows) {
		var remaining []*flow.Flow
		for _, f := range flows {
			if inDegree[f.Name] > 0 {
				remaining = append(remaining, f)
			}
		}
		cycle := findCycle(remaining)
		return nil, flowerr.NewGraphError(flowerr.CodeCyclicGraph,
			fmt.Sprintf("cycle detected: %s", strings.Join(cycle, " -> "))).
			WithDetails(map[string]interface{}{"tables": cycle})
	}

	// Stages keep declaration order within each group.
	for _, stage := range p.stages {
		sortByIndex(stage, p.index)
	}

	return p, nil
}

func popMin(ready *[]int) int {
	r := *ready
	lo := 0
	for i := range r {
		if r[i] < r[lo] {
			lo = i
		}
	}
	v := r[lo]
	r[lo] = r[len(r)-1]
	*ready = r[:len(r)-1]
	return v
}

func sortByIndex(flows []*flow.Flow, index map[string]int) {
	for i := 1; i < len(flows); i++ {
		for j := i; j > 0 && index[flows[j].Name] < index[flows[j-1].Name]; j-- {
			flows[j], flows[j-1] = flows[j-1], flows[j]
		}
	}
}

// findCycle returns the tables of one cycle among flows that Kahn's
// algorithm could not order, first table repeated at the end.
func findCycle(flows []*flow.Flow) []string {
	edges := make(map[string][]string)
	var starts []string
	for _, f := range flows {
		up := f.Reads()
		if up == "" {
			continue
		}
		if _, seen := edges[up]; !seen {
			starts = append(starts, up)
		}
		edges[up] = append(edges[up], f.Target)
	}

	const (
		unvisited = iota
		onStack
		done
	)
	state := make(map[string]int)
	var stack []string
	var cycle []string

	var visit func(table string) bool
	visit = func(table string) bool {
		state[table] = onStack
		stack = append(stack, table)
		for _, next := range edges[table] {
			switch state[next] {
			case onStack:
				for i, t := range stack {
					if t == next {
						cycle = append(append([]string(nil), stack[i:]...), next)
						return true
					}
				}
			case unvisited:
				if visit(next) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[table] = done
		return false
	}

	for _, s := range starts {
		if state[s] == unvisited && visit(s) {
			return cycle
		}
	}
	return nil
}

// Order returns every flow in execution order.
func (p *Plan) Order() []*flow.Flow {
	return append([]*flow.Flow(nil), p.order...)
}

// Stages groups flows whose dependencies all lie in earlier stages. Flows
// within a stage may run in parallel.
func (p *Plan) Stages() [][]*flow.Flow {
	out := make([][]*flow.Flow, len(p.stages))
	for i, s := range p.stages {
		out[i] = append([]*flow.Flow(nil), s...)
	}
	return out
}

// Tables returns the declared tables in declaration order.
func (p *Plan) Tables() []string {
	return append([]string(nil), p.tables...)
}

// Upstream returns the flows directly producing the input of name.
func (p *Plan) Upstream(name string) []string {
	return append([]string(nil), p.producers[name]...)
}

// Writers returns the flows targeting table, in declaration order.
func (p *Plan) Writers(table string) []string {
	return append([]string(nil), p.writers[table]...)
}

// Downstream returns every flow that transitively depends on name, in
// execution order.
func (p *Plan) Downstream(name string) []string {
	seen := map[string]bool{}
	queue := append([]string(nil), p.dependents[name]...)
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if seen[n] {
			continue
		}
		seen[n] = true
		queue = append(queue, p.dependents[n]...)
	}

	var out []string
	for _, f := range p.order {
		if seen[f.Name] {
			out = append(out, f.Name)
		}
	}
	return out
}

// Position returns the index of name in Order, or -1.
func (p *Plan) Position(name string) int {
	for i, f := range p.order {
		if f.Name == name {
			return i
		}
	}
	return -1
}
