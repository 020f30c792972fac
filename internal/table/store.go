package table

import (
	"context"

	"github.com/arkilian/flowgraph/internal/checkpoint"
	"github.com/arkilian/flowgraph/pkg/types"
)

// Store persists table row logs. AppendRows must commit the rows and the
// optional checkpoint atomically: either both become durable or neither does.
type Store interface {
	// AppendRows persists rows as sequence numbers firstSeq, firstSeq+1, ...
	// together with cp when cp is non-nil.
	AppendRows(ctx context.Context, table string, firstSeq int64, rows types.Batch, cp *types.Checkpoint) error

	// LoadRows returns the persisted row log of table in sequence order.
	// Values may be in decoded JSON form; the registry coerces them.
	LoadRows(ctx context.Context, table string) (types.Batch, error)

	// TruncateAndReset removes every persisted row of tables and the
	// checkpoints of flows, atomically.
	TruncateAndReset(ctx context.Context, tables, flows []string) error
}

// EphemeralStore keeps no rows of its own; table contents live only in the
// registry's memory. Checkpoints are forwarded to a checkpoint.Store once the
// in-memory append is about to be published.
type EphemeralStore struct {
	checkpoints checkpoint.Store
}

// NewEphemeralStore creates a store that forwards checkpoints to cps.
func NewEphemeralStore(cps checkpoint.Store) *EphemeralStore {
	return &EphemeralStore{checkpoints: cps}
}

// AppendRows records cp, if any.
func (e *EphemeralStore) AppendRows(ctx context.Context, table string, firstSeq int64, rows types.Batch, cp *types.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cp == nil || e.checkpoints == nil {
		return nil
	}
	return e.checkpoints.Put(ctx, *cp)
}

// LoadRows returns no rows.
func (e *EphemeralStore) LoadRows(ctx context.Context, table string) (types.Batch, error) {
	return nil, ctx.Err()
}

// TruncateAndReset resets the checkpoints of flows.
func (e *EphemeralStore) TruncateAndReset(ctx context.Context, tables, flows []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.checkpoints == nil {
		return nil
	}
	for _, f := range flows {
		if err := e.checkpoints.Reset(ctx, f); err != nil {
			return err
		}
	}
	return nil
}
