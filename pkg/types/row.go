// Package types provides the core value types shared by the dataflow runtime.
package types

import (
	"strings"
	"time"
)

// Row is a single materialized record. Nested STRUCT values are map[string]any.
// Canonical value types: STRING string, INT/BIGINT int64, DOUBLE float64,
// BOOLEAN bool.
type Row map[string]any

// Get returns the value at a dotted path such as "message.status".
func (r Row) Get(path string) (any, bool) {
	var cur any = map[string]any(r)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// String returns the string at path, or "" when absent or not a string.
func (r Row) String(path string) string {
	v, _ := r.Get(path)
	s, _ := v.(string)
	return s
}

// Int returns the integer at path, or 0 when absent or not integral.
func (r Row) Int(path string) int64 {
	v, _ := r.Get(path)
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

// Clone returns a deep copy of the row.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	return Row(cloneMap(r))
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := asMap(v); ok {
			out[k] = cloneMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Row:
		return map[string]any(m), true
	}
	return nil, false
}

// Batch is an ordered sequence of rows conforming to one table's schema.
// It is the unit of transfer between reader, flow, and table append.
type Batch []Row

// Len returns the number of rows in the batch.
func (b Batch) Len() int { return len(b) }

// Checkpoint is the durable read-progress marker of one flow. Source-Flows
// track the last consumed input unit; Derived-Flows track Position, the
// upstream row count already consumed.
type Checkpoint struct {
	// Flow is the name of the flow owning this checkpoint
	Flow string `json:"flow"`

	// LastUnit is the identifier of the last fully-processed input unit
	LastUnit string `json:"last_unit"`

	// UnitHash is the content fingerprint of LastUnit
	UnitHash string `json:"unit_hash"`

	// UnitsConsumed counts all units consumed since the last reset
	UnitsConsumed int64 `json:"units_consumed"`

	// Position is the upstream watermark a Derived-Flow has consumed up to
	Position int64 `json:"position"`

	// UpdatedAt is when the checkpoint was last advanced
	UpdatedAt time.Time `json:"updated_at"`
}

// Covers reports whether unit was already consumed according to the checkpoint.
// Units are consumed in lexical order, so every unit at or before LastUnit is covered.
func (c *Checkpoint) Covers(unit string) bool {
	if c == nil || c.LastUnit == "" {
		return false
	}
	return unit <= c.LastUnit
}

// ConsumedUpTo returns the upstream position of a Derived-Flow checkpoint.
// A nil checkpoint has consumed nothing.
func (c *Checkpoint) ConsumedUpTo() int64 {
	if c == nil {
		return 0
	}
	return c.Position
}
