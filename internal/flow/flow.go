// Package flow defines flows, the edges of a dataflow graph, and the
// registry they are declared against.
package flow

import (
	"context"
	"fmt"
	"path"
	"sync"

	flowerr "github.com/arkilian/flowgraph/internal/errors"
	"github.com/arkilian/flowgraph/pkg/types"
)

// Kind distinguishes flows reading external units from flows reading a table.
type Kind int

const (
	// SourceFlow reads units from object storage.
	SourceFlow Kind = iota
	// DerivedFlow reads newly appended rows of an upstream table.
	DerivedFlow
)

func (k Kind) String() string {
	switch k {
	case SourceFlow:
		return "source"
	case DerivedFlow:
		return "derived"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Format is the encoding of source units.
type Format string

// FormatJSON accepts NDJSON, JSON arrays, log envelopes and single objects.
const FormatJSON Format = "json"

// TransformFunc turns an input batch into rows for the target table.
// It must not retain or mutate its input.
type TransformFunc func(ctx context.Context, in types.Batch) (types.Batch, error)

// Identity returns its input unchanged.
func Identity(_ context.Context, in types.Batch) (types.Batch, error) {
	return in, nil
}

// SourceDescriptor locates the units a Source-Flow reads.
type SourceDescriptor struct {
	// Prefix is the object storage prefix to list
	Prefix string
	// Pattern is a path.Match glob applied to each unit's base name; empty matches all
	Pattern string
	// Format is the unit encoding
	Format Format
}

// Matches reports whether unit belongs to the descriptor.
func (d SourceDescriptor) Matches(unit string) bool {
	if d.Pattern == "" {
		return true
	}
	ok, err := path.Match(d.Pattern, path.Base(unit))
	return err == nil && ok
}

// Flow is a named edge writing into Target. Immutable once registered.
type Flow struct {
	Name      string
	Target    string
	Kind      Kind
	Transform TransformFunc

	// Upstream is the table a DerivedFlow reads
	Upstream string

	// Source is the unit location of a SourceFlow
	Source SourceDescriptor
}

// Reads returns the table a flow reads, or "" for a SourceFlow.
func (f *Flow) Reads() string {
	if f.Kind == DerivedFlow {
		return f.Upstream
	}
	return ""
}

// TableChecker reports whether a table is declared.
type TableChecker interface {
	Has(name string) bool
}

// Registry holds registered flows in declaration order.
type Registry struct {
	mu     sync.RWMutex
	tables TableChecker
	flows  map[string]*Flow
	order  []string
}

// NewRegistry creates a registry validating table references against tables.
func NewRegistry(tables TableChecker) *Registry {
	return &Registry{
		tables: tables,
		flows:  make(map[string]*Flow),
	}
}

// Register adds f. Nothing executes at registration.
func (r *Registry) Register(f Flow) (*Flow, error) {
	if f.Name == "" {
		return nil, flowerr.NewGraphError(flowerr.CodeInvalidFlow, "flow name cannot be empty")
	}
	if f.Transform == nil {
		f.Transform = Identity
	}
	switch f.Kind {
	case SourceFlow:
		if f.Source.Format == "" {
			f.Source.Format = FormatJSON
		}
		if f.Source.Format != FormatJSON {
			return nil, flowerr.NewGraphError(flowerr.CodeInvalidFlow,
				fmt.Sprintf("flow %q: unsupported source format %q", f.Name, f.Source.Format))
		}
		if _, err := path.Match(f.Source.Pattern, ""); err != nil {
			return nil, flowerr.NewGraphError(flowerr.CodeInvalidFlow,
				fmt.Sprintf("flow %q: bad pattern %q: %v", f.Name, f.Source.Pattern, err))
		}
	case DerivedFlow:
		if f.Upstream == "" {
			return nil, flowerr.NewGraphError(flowerr.CodeInvalidFlow,
				fmt.Sprintf("flow %q: derived flow needs an upstream table", f.Name))
		}
	default:
		return nil, flowerr.NewGraphError(flowerr.CodeInvalidFlow,
			fmt.Sprintf("flow %q: unknown kind %v", f.Name, f.Kind))
	}

	if !r.tables.Has(f.Target) {
		return nil, flowerr.NewGraphError(flowerr.CodeUnknownTable,
			fmt.Sprintf("flow %q targets undeclared table %q", f.Name, f.Target))
	}
	if f.Kind == DerivedFlow && !r.tables.Has(f.Upstream) {
		return nil, flowerr.NewGraphError(flowerr.CodeUnknownTable,
			fmt.Sprintf("flow %q reads undeclared table %q", f.Name, f.Upstream))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.flows[f.Name]; exists {
		return nil, flowerr.NewGraphError(flowerr.CodeDuplicateFlow, fmt.Sprintf("flow %q already registered", f.Name))
	}

	stored := f
	r.flows[f.Name] = &stored
	r.order = append(r.order, f.Name)
	return &stored, nil
}

// Get returns the named flow.
func (r *Registry) Get(name string) (*Flow, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.flows[name]
	return f, ok
}

// Flows returns all flows in declaration order.
func (r *Registry) Flows() []*Flow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Flow, len(r.order))
	for i, name := range r.order {
		out[i] = r.flows[name]
	}
	return out
}
