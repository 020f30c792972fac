package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_DefaultCycle(t *testing.T) {
	dataDir := t.TempDir()
	var out, errOut bytes.Buffer

	code := run([]string{"-data-dir", dataDir}, &out, &errOut)
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out.String(), "ingest_raw_traffic_logs")
	assert.Contains(t, out.String(), "+500 rows")
	assert.FileExists(t, filepath.Join(dataDir, "pipeline.db"))

	// second run finds nothing new
	out.Reset()
	code = run([]string{"-data-dir", dataDir}, &out, &errOut)
	assert.Equal(t, exitOK, code)
	assert.NotContains(t, out.String(), "+500 rows")
}

func TestRun_MalformedInputExitsOne(t *testing.T) {
	dataDir := t.TempDir()
	var out bytes.Buffer
	require.Equal(t, exitOK, run([]string{"-data-dir", dataDir}, &out, &out))

	bad := filepath.Join(dataDir, "storage", "web_traffic_logs", "web_logs_9.json")
	require.NoError(t, os.WriteFile(bad, []byte("{broken"), 0644))

	assert.Equal(t, exitFailed, run([]string{"-data-dir", dataDir}, &out, &out))
}

func TestRun_DryRun(t *testing.T) {
	var out bytes.Buffer
	code := run([]string{"-data-dir", t.TempDir(), "-dry-run"}, &out, &out)
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out.String(), "PENDING UNITS")
}

func TestRun_ConfigErrors(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, exitConfig, run([]string{"-data-dir", t.TempDir(), "-refresh", "nope"}, &out, &out))
	assert.Equal(t, exitConfig, run([]string{"-data-dir", t.TempDir(), "-storage", "ftp"}, &out, &out))
	assert.Equal(t, exitConfig, run([]string{"-data-dir", t.TempDir(), "-schedule", "bad", "-watch"}, &out, &out))
	assert.Equal(t, exitConfig, run([]string{"-no-such-flag"}, &out, &out))
	assert.Equal(t, exitConfig, run([]string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}, &out, &out))
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, exitOK, run([]string{"-version"}, &out, &out))
	assert.Contains(t, out.String(), "flowgraph version dev")
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b "))
	assert.Nil(t, splitList(""))
}
