// Package source reads the input units of Source-Flows incrementally: only
// units not yet covered by the flow's checkpoint are returned, in lexical order.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spaolacci/murmur3"

	flowerr "github.com/arkilian/flowgraph/internal/errors"
	"github.com/arkilian/flowgraph/internal/flow"
	"github.com/arkilian/flowgraph/internal/storage"
	"github.com/arkilian/flowgraph/pkg/types"
)

// DefaultConcurrency is the number of units fetched in parallel.
const DefaultConcurrency = 4

// Unit is one successfully parsed input unit.
type Unit struct {
	ID   string
	Hash string
	Rows types.Batch
}

// Result is the outcome of one incremental read.
type Result struct {
	// Units holds the parsed units in lexical order
	Units []Unit

	// ParseErrors reports malformed units that were skipped
	ParseErrors []error

	// LastUnit and LastHash identify the last unit of the pass, parsed or not
	LastUnit string
	LastHash string

	// Consumed counts every unit of the pass, including skipped ones
	Consumed int
}

// Rows concatenates the rows of all parsed units in unit order.
func (r *Result) Rows() types.Batch {
	var n int
	for _, u := range r.Units {
		n += len(u.Rows)
	}
	out := make(types.Batch, 0, n)
	for _, u := range r.Units {
		out = append(out, u.Rows...)
	}
	return out
}

// Empty reports whether the pass found no new units.
func (r *Result) Empty() bool {
	return r.Consumed == 0
}

// Advance returns the checkpoint after this pass, or nil when nothing was consumed.
func (r *Result) Advance(flowName string, prev *types.Checkpoint) *types.Checkpoint {
	if r.Empty() {
		return nil
	}
	cp := &types.Checkpoint{
		Flow:          flowName,
		LastUnit:      r.LastUnit,
		UnitHash:      r.LastHash,
		UnitsConsumed: int64(r.Consumed),
	}
	if prev != nil {
		cp.UnitsConsumed += prev.UnitsConsumed
	}
	return cp
}

// Reader lists and fetches units from object storage.
type Reader struct {
	storage storage.ObjectStorage
	fetcher *storage.BatchFetcher
}

// NewReader creates a reader over store fetching up to concurrency units at once.
func NewReader(store storage.ObjectStorage, concurrency int) *Reader {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	return &Reader{
		storage: store,
		fetcher: storage.NewBatchFetcher(store, concurrency),
	}
}

// Pending returns the units matching desc that cp does not cover, in the
// lexical order ListObjects guarantees.
func (r *Reader) Pending(ctx context.Context, desc flow.SourceDescriptor, cp *types.Checkpoint) ([]string, error) {
	prefix := desc.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	objects, err := r.storage.ListObjects(ctx, prefix)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, flowerr.NewSourceError(flowerr.CodeListFailed,
			fmt.Sprintf("list units under %q", desc.Prefix), err)
	}

	var pending []string
	for _, obj := range objects {
		if !desc.Matches(obj) || cp.Covers(obj) {
			continue
		}
		pending = append(pending, obj)
	}
	return pending, nil
}

// Read fetches and parses every pending unit. A malformed unit is skipped and
// reported in Result.ParseErrors, unless no unit of the pass parsed, in which
// case Read fails with NO_VALID_UNITS. Any fetch failure fails the whole read.
func (r *Reader) Read(ctx context.Context, desc flow.SourceDescriptor, schema types.Schema, cp *types.Checkpoint) (*Result, error) {
	pending, err := r.Pending(ctx, desc, cp)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	if len(pending) == 0 {
		return res, nil
	}

	fetched, err := r.fetcher.Fetch(ctx, pending)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, flowerr.NewSourceError(flowerr.CodeFetchFailed, "fetch units", err)
	}

	for _, f := range fetched {
		if f.Err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(f.Err, context.Canceled) || errors.Is(f.Err, context.DeadlineExceeded) {
				return nil, f.Err
			}
			return nil, flowerr.NewSourceError(flowerr.CodeFetchFailed,
				fmt.Sprintf("fetch unit %q", f.ObjectPath), f.Err)
		}

		hash := Fingerprint(f.Data)
		res.LastUnit = f.ObjectPath
		res.LastHash = hash
		res.Consumed++

		rows, err := ParseJSON(f.Data, schema)
		if err != nil {
			res.ParseErrors = append(res.ParseErrors, flowerr.NewParseError(f.ObjectPath, err))
			continue
		}
		res.Units = append(res.Units, Unit{ID: f.ObjectPath, Hash: hash, Rows: rows})
	}

	if len(res.Units) == 0 && len(res.ParseErrors) > 0 {
		return nil, flowerr.Wrap(flowerr.ErrCategorySource, flowerr.CodeNoValidUnits,
			fmt.Sprintf("all %d unit(s) of the pass are malformed", len(res.ParseErrors)), res.ParseErrors[0])
	}
	return res, nil
}

// Fingerprint returns the murmur3-128 hex digest of a unit's content.
func Fingerprint(data []byte) string {
	h1, h2 := murmur3.Sum128(data)
	return fmt.Sprintf("%016x%016x", h1, h2)
}
