package app

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/flowgraph/internal/config"
	"github.com/arkilian/flowgraph/internal/traffic"
)

func testConfig(t *testing.T, dataDir string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = dataDir
	cfg.Input.Files = 2
	cfg.Input.RecordsPerFile = 10
	cfg.Schedule.ShutdownTimeout = 2 * time.Second
	return cfg
}

func TestApp_RunOnceAndRestart(t *testing.T) {
	ctx := context.Background()
	dataDir := filepath.Join(t.TempDir(), "fg")

	var out bytes.Buffer
	a, err := New(testConfig(t, dataDir), &out)
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))

	report, err := a.RunOnce(ctx, a.RunOptions())
	require.NoError(t, err)
	assert.False(t, report.Failed())
	assert.Equal(t, int64(20), report.RowsAppended[traffic.RawTable])
	assert.Equal(t, int64(20), report.RowsAppended[traffic.AugmentedTable])
	assert.Contains(t, out.String(), traffic.IngestFlow)
	assert.Same(t, report, a.LastReport())

	sum, ok := a.Stats().Get(traffic.AugmentFlow)
	require.True(t, ok)
	assert.Equal(t, int64(20), sum.RowsAppended)

	require.NoError(t, a.Stop(ctx))

	// restart: state comes back from the catalog, sample is not regenerated
	a, err = New(testConfig(t, dataDir), nil)
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))
	defer a.Stop(ctx)

	raw, err := a.Pipeline().Tables.GetTable(traffic.RawTable)
	require.NoError(t, err)
	assert.Equal(t, int64(20), raw.Watermark())

	report, err = a.RunOnce(ctx, a.RunOptions())
	require.NoError(t, err)
	assert.Equal(t, int64(0), report.TotalRows())
}

func TestApp_InvalidConfig(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.Storage.Type = "ftp"
	_, err := New(cfg, nil)
	assert.Error(t, err)
}

func TestApp_StartTwice(t *testing.T) {
	ctx := context.Background()
	a, err := New(testConfig(t, t.TempDir()), nil)
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))
	defer a.Stop(ctx)
	assert.Error(t, a.Start(ctx))
}

func TestApp_StopClosesCatalog(t *testing.T) {
	ctx := context.Background()
	a, err := New(testConfig(t, t.TempDir()), nil)
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))
	_, err = a.RunOnce(ctx, a.RunOptions())
	require.NoError(t, err)

	require.NoError(t, a.Stop(ctx))
	_, err = a.catalog.ListCycles(ctx, 1)
	assert.Error(t, err, "catalog must be closed by Stop")
	assert.True(t, a.life.Stopping())

	// a stopped app can be stopped again
	assert.NoError(t, a.Stop(ctx))
}

func TestApp_WatchModeRunsOnNewFiles(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig(t, t.TempDir())
	cfg.Mode = config.ModeWatch
	cfg.Schedule.Debounce = 20 * time.Millisecond

	a, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx))

	_, err = a.RunOnce(ctx, a.RunOptions())
	require.NoError(t, err)
	require.NoError(t, a.StartTriggers(ctx, a.RunOptions()))

	gen := traffic.NewGenerator(5, nil)
	_, err = gen.Write(ctx, a.storage, cfg.Input.Prefix, 7, 1, 3)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		r := a.LastReport()
		return r != nil && r.RowsAppended[traffic.RawTable] == 3
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, a.Stop(context.Background()))
}
