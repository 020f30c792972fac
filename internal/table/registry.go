// Package table holds the declared tables of a dataflow graph and their
// append-only row logs.
package table

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	flowerr "github.com/arkilian/flowgraph/internal/errors"
	"github.com/arkilian/flowgraph/pkg/types"
)

// Table is a declared table: a schema plus an append-only row log.
type Table struct {
	name      string
	schema    types.Schema
	validator *SchemaValidator

	// writeMu serializes appends; readers never take it.
	writeMu sync.Mutex
	log     atomic.Pointer[types.Batch]
}

func newTable(name string, schema types.Schema) *Table {
	t := &Table{
		name:      name,
		schema:    schema,
		validator: NewSchemaValidator(schema),
	}
	empty := types.Batch{}
	t.log.Store(&empty)
	return t
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Schema returns the declared schema.
func (t *Table) Schema() types.Schema { return t.schema }

// Watermark returns the current row count.
func (t *Table) Watermark() int64 {
	return int64(len(*t.log.Load()))
}

// Snapshot returns the rows published so far. The returned slice must not be modified.
func (t *Table) Snapshot() types.Batch {
	return *t.log.Load()
}

// RowsSince returns rows in [from, to). to < 0 means the current watermark.
func (t *Table) RowsSince(from, to int64) types.Batch {
	rows := *t.log.Load()
	n := int64(len(rows))
	if to < 0 || to > n {
		to = n
	}
	if from < 0 {
		from = 0
	}
	if from >= to {
		return nil
	}
	return rows[from:to:to]
}

// AppendResult describes a successful append.
type AppendResult struct {
	Table    string
	FirstSeq int64
	Count    int
}

// Registry manages declared tables. It exclusively owns table contents.
type Registry struct {
	mu     sync.RWMutex
	tables map[string]*Table
	order  []string
	store  Store
}

// NewRegistry creates a registry persisting through store. A nil store keeps
// rows in memory only and drops checkpoints.
func NewRegistry(store Store) *Registry {
	if store == nil {
		store = NewEphemeralStore(nil)
	}
	return &Registry{
		tables: make(map[string]*Table),
		store:  store,
	}
}

// DeclareTable adds a table. Fails if the name is taken or the schema is invalid.
func (r *Registry) DeclareTable(name string, schema types.Schema) (*Table, error) {
	if name == "" {
		return nil, flowerr.NewSchemaError(flowerr.CodeInvalidSchema, "table name cannot be empty")
	}
	if err := schema.Validate(); err != nil {
		return nil, flowerr.Wrap(flowerr.ErrCategorySchema, flowerr.CodeInvalidSchema,
			fmt.Sprintf("table %q", name), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tables[name]; exists {
		return nil, flowerr.NewGraphError(flowerr.CodeDuplicateTable, fmt.Sprintf("table %q already declared", name))
	}

	t := newTable(name, schema)
	r.tables[name] = t
	r.order = append(r.order, name)
	return t, nil
}

// GetTable returns the named table.
func (r *Registry) GetTable(name string) (*Table, error) {
	r.mu.RLock()
	t, ok := r.tables[name]
	r.mu.RUnlock()
	if !ok {
		return nil, flowerr.NewGraphError(flowerr.CodeUnknownTable, fmt.Sprintf("table %q is not declared", name))
	}
	return t, nil
}

// Has reports whether the table is declared.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tables[name]
	return ok
}

// Tables returns all tables in declaration order.
func (r *Registry) Tables() []*Table {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Table, len(r.order))
	for i, name := range r.order {
		out[i] = r.tables[name]
	}
	return out
}

// Watermarks returns the current row count of every table.
func (r *Registry) Watermarks() map[string]int64 {
	tables := r.Tables()
	out := make(map[string]int64, len(tables))
	for _, t := range tables {
		out[t.name] = t.Watermark()
	}
	return out
}

// AppendRows validates batch against the table's schema and appends it.
// When cp is non-nil it is committed with the rows. Readers observe the new
// rows only after AppendRows returns; on error the table is unchanged.
func (r *Registry) AppendRows(ctx context.Context, name string, batch types.Batch, cp *types.Checkpoint) (AppendResult, error) {
	t, err := r.GetTable(name)
	if err != nil {
		return AppendResult{}, err
	}

	if err := t.validator.Validate(batch); err != nil {
		return AppendResult{}, flowerr.Wrap(flowerr.ErrCategorySchema, flowerr.CodeSchemaViolation,
			fmt.Sprintf("append to %q rejected", name), err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	current := *t.log.Load()
	firstSeq := int64(len(current))

	if err := r.store.AppendRows(ctx, name, firstSeq, batch, cp); err != nil {
		return AppendResult{}, flowerr.NewStorageError(flowerr.CodePersistFailed,
			fmt.Sprintf("persist append to %q", name), err)
	}

	if len(batch) > 0 {
		// Rows beyond a reader's snapshot length are never read by it, so
		// appending into spare capacity is safe.
		next := current
		for _, row := range batch {
			next = append(next, row.Clone())
		}
		t.log.Store(&next)
	}

	return AppendResult{Table: name, FirstSeq: firstSeq, Count: len(batch)}, nil
}

// Load restores every declared table's row log from the store.
func (r *Registry) Load(ctx context.Context) error {
	for _, t := range r.Tables() {
		rows, err := r.store.LoadRows(ctx, t.name)
		if err != nil {
			return fmt.Errorf("table: load %q: %w", t.name, err)
		}
		loaded := make(types.Batch, 0, len(rows))
		for i, row := range rows {
			coerced, err := types.CoerceRow(t.schema, row)
			if err != nil {
				return flowerr.Wrap(flowerr.ErrCategorySchema, flowerr.CodeSchemaViolation,
					fmt.Sprintf("persisted row %d of %q does not match its schema", i, t.name), err)
			}
			loaded = append(loaded, coerced)
		}

		t.writeMu.Lock()
		t.log.Store(&loaded)
		t.writeMu.Unlock()
	}
	return nil
}

// Truncate clears the row logs of names, durably and in memory, and resets
// the checkpoints of resetFlows in the same store commit.
func (r *Registry) Truncate(ctx context.Context, names []string, resetFlows []string) error {
	targets := make([]*Table, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		t, err := r.GetTable(name)
		if err != nil {
			return err
		}
		if !seen[name] {
			seen[name] = true
			targets = append(targets, t)
		}
	}

	for _, t := range targets {
		t.writeMu.Lock()
		defer t.writeMu.Unlock()
	}

	if err := r.store.TruncateAndReset(ctx, names, resetFlows); err != nil {
		return flowerr.NewStorageError(flowerr.CodePersistFailed, fmt.Sprintf("truncate %v", names), err)
	}
	for _, t := range targets {
		empty := types.Batch{}
		t.log.Store(&empty)
	}
	return nil
}
