package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, BackendSQLite, cfg.Storage.Backend)
	assert.Equal(t, "start", cfg.Graph.StartSemanticID)
	assert.Equal(t, 5*time.Minute, cfg.Cache.IssueList.TTL)
	assert.Equal(t, 50, cfg.Cache.FlattenedTree.MaxEntries)
	assert.Equal(t, []string{"defaults", "environment"}, cfg.LoadedFrom)
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := writeFile(t, dir, "config.yaml", `
environment: staging
server:
  port: 9000
storage:
  backend: dynamodb
  dynamodb:
    table_name: from-file
cache:
  editor_graph:
    ttl: 30s
    max_entries: 5
`)
	t.Setenv("TABLE_NAME", "from-env")

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, Staging, cfg.Environment)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, BackendDynamoDB, cfg.Storage.Backend)
	assert.Equal(t, "from-env", cfg.Storage.DynamoDB.TableName)
	assert.Equal(t, 30*time.Second, cfg.Cache.EditorGraph.TTL)
	assert.Equal(t, 10*time.Minute, cfg.Cache.FlattenedTree.TTL, "unset keys keep defaults")
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	writeFile(t, dir, ".env", "SQLITE_PATH=/tmp/from-dotenv.db\n")
	t.Setenv("SQLITE_PATH", "")
	os.Unsetenv("SQLITE_PATH")

	cfg, err := Load("")

	require.NoError(t, err)
	assert.Equal(t, "/tmp/from-dotenv.db", cfg.Storage.SQLite.Path)
	assert.Contains(t, cfg.LoadedFrom, ".env")
}

func TestLoad_InvalidEnvironmentValue(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("SERVER_PORT", "eighty")

	_, err := Load("")

	assert.ErrorContains(t, err, "SERVER_PORT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"bad backend", func(c *Config) { c.Storage.Backend = "postgres" }, false},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, false},
		{"eventbridge without bus", func(c *Config) { c.Events.EventBridgeEnabled = true }, false},
		{"tracing without endpoint", func(c *Config) { c.Observability.Tracing.Enabled = true }, false},
		{"empty root suffix", func(c *Config) { c.Graph.RootSuffix = "" }, false},
		{"zero cache ttl", func(c *Config) { c.Cache.IssueList.TTL = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := writeFile(t, dir, "config.yaml", "server:\n  port: 8081\n")
	initial, err := Load(path)
	require.NoError(t, err)

	w, err := NewWatcher(path, initial, zap.NewNop())
	require.NoError(t, err)
	defer w.Stop()

	changed := make(chan *Config, 1)
	w.OnChange(func(c *Config) { changed <- c })

	writeFile(t, dir, "config.yaml", "server:\n  port: 8082\n")

	select {
	case cfg := <-changed:
		assert.Equal(t, 8082, cfg.Server.Port)
		assert.Equal(t, 8082, w.Current().Server.Port)
	case <-time.After(5 * time.Second):
		t.Fatal("configuration was not reloaded")
	}
}

func TestWatcher_InvalidReloadKeepsPreviousAndNotifiesEveryCallback(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := writeFile(t, dir, "config.yaml", "server:\n  port: 8081\n")
	initial, err := Load(path)
	require.NoError(t, err)

	w, err := NewWatcher(path, initial, zap.NewNop())
	require.NoError(t, err)
	defer w.Stop()

	first := make(chan int, 4)
	second := make(chan int, 4)
	w.OnChange(func(c *Config) { first <- c.Server.Port })
	w.OnChange(func(c *Config) { second <- c.Server.Port })

	writeFile(t, dir, "config.yaml", "server:\n  port: 0\n")
	select {
	case port := <-first:
		t.Fatalf("invalid configuration was applied with port %d", port)
	case <-time.After(2 * debounceDelay):
	}
	assert.Equal(t, 8081, w.Current().Server.Port)

	writeFile(t, dir, "config.yaml", "server:\n  port: 8083\n")
	for _, ch := range []chan int{first, second} {
		select {
		case port := <-ch:
			assert.Equal(t, 8083, port)
		case <-time.After(5 * time.Second):
			t.Fatal("callback was not notified")
		}
	}
}
