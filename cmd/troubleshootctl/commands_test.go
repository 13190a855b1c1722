package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pumpDocument = `{
  "version": 1,
  "issue": {"name": "Pump Problems", "category": "pump", "root_ref": "q1"},
  "nodes": [
    {"ref": "q1", "node_type": "question", "text": "Is the pump running?"},
    {"ref": "c1", "node_type": "conclusion", "text": "Prime the pump."},
    {"ref": "c2", "node_type": "conclusion", "text": "Check the breaker."}
  ],
  "connections": [
    {"from_ref": "q1", "to_ref": "c1", "label": "Yes", "order_index": 0},
    {"from_ref": "q1", "to_ref": "c2", "label": "No", "order_index": 1}
  ]
}`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	cleanup()
	cleanup = func() {}
	return out.String(), err
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STORAGE_BACKEND", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(dir, "ctl.db"))
	t.Setenv("CIRCUIT_BREAKER_ENABLED", "false")

	docPath := filepath.Join(dir, "pump.json")
	require.NoError(t, os.WriteFile(docPath, []byte(pumpDocument), 0o600))

	out, err := execute(t, "import", docPath)
	require.NoError(t, err)
	assert.Contains(t, out, `"nodes_count": 3`)

	_, err = execute(t, "import", "--mode", "reject", docPath)
	assert.Error(t, err)

	out, err = execute(t, "issues")
	require.NoError(t, err)
	assert.Contains(t, out, "pump")
	assert.Contains(t, out, "Pump Problems")

	out, err = execute(t, "validate", "pump")
	require.NoError(t, err)
	assert.Contains(t, out, `"ok": true`)

	exportPath := filepath.Join(dir, "export.json")
	_, err = execute(t, "export", "pump", "--out", exportPath)
	require.NoError(t, err)
	raw, err := os.ReadFile(exportPath)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Prime the pump.")

	out, err = execute(t, "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "abandoned 0 sessions")
}
