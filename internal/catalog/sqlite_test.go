package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/flowgraph/internal/checkpoint"
	"github.com/arkilian/flowgraph/internal/table"
	"github.com/arkilian/flowgraph/pkg/types"
)

var (
	_ checkpoint.Store = (*SQLiteCatalog)(nil)
	_ table.Store      = (*SQLiteCatalog)(nil)
)

func openTestCatalog(t *testing.T) (*SQLiteCatalog, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	c, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, path
}

func TestCatalog_CheckpointLifecycle(t *testing.T) {
	ctx := context.Background()
	c, _ := openTestCatalog(t)

	cp, err := c.Get(ctx, "ingest")
	require.NoError(t, err)
	assert.Nil(t, cp)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, c.Put(ctx, types.Checkpoint{
		Flow: "ingest", LastUnit: "logs/web_logs_1.json", UnitHash: "abc", UnitsConsumed: 1, UpdatedAt: now,
	}))
	require.NoError(t, c.Put(ctx, types.Checkpoint{
		Flow: "ingest", LastUnit: "logs/web_logs_2.json", UnitHash: "def", UnitsConsumed: 2, UpdatedAt: now,
	}))
	require.NoError(t, c.Put(ctx, types.Checkpoint{Flow: "audit", LastUnit: "a", UpdatedAt: now}))

	cp, err = c.Get(ctx, "ingest")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "logs/web_logs_2.json", cp.LastUnit)
	assert.Equal(t, "def", cp.UnitHash)
	assert.Equal(t, int64(2), cp.UnitsConsumed)
	assert.True(t, now.Equal(cp.UpdatedAt))

	all, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "audit", all[0].Flow)
	assert.Equal(t, "ingest", all[1].Flow)

	require.NoError(t, c.Reset(ctx, "ingest"))
	cp, err = c.Get(ctx, "ingest")
	require.NoError(t, err)
	assert.Nil(t, cp)
}

func TestCatalog_AppendRowsWithCheckpointIsAtomic(t *testing.T) {
	ctx := context.Background()
	c, _ := openTestCatalog(t)

	rows := types.Batch{
		{"id": "a", "message": map[string]any{"status": int64(200)}},
		{"id": "b", "message": map[string]any{"status": int64(500)}},
	}
	cp := &types.Checkpoint{Flow: "ingest", LastUnit: "u1", UnitsConsumed: 1}
	require.NoError(t, c.AppendRows(ctx, "raw", 0, rows, cp))

	// Reusing a sequence number fails the whole transaction.
	err := c.AppendRows(ctx, "raw", 1, types.Batch{{"id": "c"}},
		&types.Checkpoint{Flow: "ingest", LastUnit: "u2", UnitsConsumed: 2})
	require.Error(t, err)

	n, err := c.RowCount(ctx, "raw")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := c.Get(ctx, "ingest")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.LastUnit)
}

func TestCatalog_LoadRowsRoundTrip(t *testing.T) {
	ctx := context.Background()
	c, _ := openTestCatalog(t)

	schema := types.MustParseSchema("id STRING, ts BIGINT, score DOUBLE, message STRUCT<status:INT>")
	rows := types.Batch{
		{"id": "a", "ts": int64(1700000000000), "score": 2.0, "message": map[string]any{"status": int64(404)}},
		{"id": "b", "ts": int64(1700000005000), "score": 0.5, "message": map[string]any{"status": int64(200)}},
	}
	require.NoError(t, c.AppendRows(ctx, "raw", 0, rows[:1], nil))
	require.NoError(t, c.AppendRows(ctx, "raw", 1, rows[1:], nil))
	require.NoError(t, c.AppendRows(ctx, "other", 0, types.Batch{{"id": "z"}}, nil))

	loaded, err := c.LoadRows(ctx, "raw")
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	for i := range loaded {
		coerced, err := types.CoerceRow(schema, loaded[i])
		require.NoError(t, err)
		assert.Equal(t, rows[i], coerced)
	}
}

func TestCatalog_TruncateAndReset(t *testing.T) {
	ctx := context.Background()
	c, _ := openTestCatalog(t)

	require.NoError(t, c.AppendRows(ctx, "raw", 0, types.Batch{{"id": "a"}},
		&types.Checkpoint{Flow: "ingest", LastUnit: "u1", UnitsConsumed: 1}))
	require.NoError(t, c.AppendRows(ctx, "aug", 0, types.Batch{{"id": "a"}},
		&types.Checkpoint{Flow: "augment", Position: 1}))
	require.NoError(t, c.TruncateAndReset(ctx, []string{"raw"}, []string{"ingest", "augment"}))

	n, _ := c.RowCount(ctx, "raw")
	assert.Equal(t, int64(0), n)
	n, _ = c.RowCount(ctx, "aug")
	assert.Equal(t, int64(1), n)

	cp, err := c.Get(ctx, "ingest")
	require.NoError(t, err)
	assert.Nil(t, cp)
	cp, err = c.Get(ctx, "augment")
	require.NoError(t, err)
	assert.Nil(t, cp)

	// Sequence numbers restart after truncation.
	require.NoError(t, c.AppendRows(ctx, "raw", 0, types.Batch{{"id": "b"}}, nil))
}

func TestCatalog_DerivedPosition(t *testing.T) {
	ctx := context.Background()
	c, _ := openTestCatalog(t)

	require.NoError(t, c.AppendRows(ctx, "aug", 0, types.Batch{{"id": "a"}, {"id": "b"}},
		&types.Checkpoint{Flow: "augment", Position: 2}))

	cp, err := c.Get(ctx, "augment")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, int64(2), cp.ConsumedUpTo())
	assert.Empty(t, cp.LastUnit)
}

func TestCatalog_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), FileName)

	c, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, c.AppendRows(ctx, "raw", 0, types.Batch{{"id": "a"}},
		&types.Checkpoint{Flow: "ingest", LastUnit: "u1"}))
	require.NoError(t, c.Close())

	c, err = Open(path)
	require.NoError(t, err)
	defer c.Close()

	cp, err := c.Get(ctx, "ingest")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "u1", cp.LastUnit)

	n, err := c.RowCount(ctx, "raw")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCatalog_Cycles(t *testing.T) {
	ctx := context.Background()
	c, _ := openTestCatalog(t)

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"c1", "c2", "c3"} {
		start := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, c.RecordCycle(ctx, CycleRecord{
			ID: id, StartedAt: start, FinishedAt: start.Add(time.Second),
			RowsAppended: int64(10 * i), FailedFlows: i % 2,
		}))
	}

	latest, err := c.ListCycles(ctx, 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "c3", latest[0].ID)
	assert.Equal(t, "c2", latest[1].ID)
	assert.Equal(t, int64(20), latest[0].RowsAppended)
	assert.Equal(t, 1, latest[1].FailedFlows)

	all, err := c.ListCycles(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestCatalog_RegisterSchema(t *testing.T) {
	ctx := context.Background()
	c, _ := openTestCatalog(t)

	v1 := types.MustParseSchema("id STRING")
	prev, err := c.RegisterSchema(ctx, "raw", v1)
	require.NoError(t, err)
	assert.Equal(t, "", prev)

	prev, err = c.RegisterSchema(ctx, "raw", v1)
	require.NoError(t, err)
	assert.Equal(t, "id STRING", prev)

	v2 := v1.Extend(types.Field{Name: "is_error", Type: types.TypeBoolean, Nullable: true})
	prev, err = c.RegisterSchema(ctx, "raw", v2)
	require.NoError(t, err)
	assert.Equal(t, "id STRING", prev)

	prev, err = c.RegisterSchema(ctx, "raw", v2)
	require.NoError(t, err)
	assert.Equal(t, "id STRING, is_error BOOLEAN", prev)
}

func TestCatalog_WithTableRegistry(t *testing.T) {
	ctx := context.Background()
	c, path := openTestCatalog(t)

	schema := types.MustParseSchema("id STRING NOT NULL, status INT NOT NULL")
	reg := table.NewRegistry(c)
	_, err := reg.DeclareTable("raw", schema)
	require.NoError(t, err)

	_, err = reg.AppendRows(ctx, "raw", types.Batch{{"id": "a", "status": int64(200)}},
		&types.Checkpoint{Flow: "ingest", LastUnit: "u1"})
	require.NoError(t, err)
	_, err = reg.AppendRows(ctx, "raw", types.Batch{{"id": "b", "status": int64(500)}}, nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	restored := table.NewRegistry(reopened)
	_, err = restored.DeclareTable("raw", schema)
	require.NoError(t, err)
	require.NoError(t, restored.Load(ctx))

	tbl, err := restored.GetTable("raw")
	require.NoError(t, err)
	assert.Equal(t, int64(2), tbl.Watermark())
	assert.Equal(t, int64(500), tbl.Snapshot()[1].Int("status"))

	// Appends continue after the restored sequence.
	res, err := restored.AppendRows(ctx, "raw", types.Batch{{"id": "c", "status": int64(201)}}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.FirstSeq)
}
