package di

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/config"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/infrastructure/cache"
	"github.com/Galaxyz7/equipment-troubleshooting-rust-react-sub001/internal/infrastructure/persistence/resilience"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Observability.LogLevel = "error"
	cfg.Storage.SQLite.Path = filepath.Join(t.TempDir(), "di.db")
	return cfg
}

func TestInitializeContainer_SQLite(t *testing.T) {
	ctx := context.Background()
	container, cleanup, err := InitializeContainer(ctx, testConfig(t))
	require.NoError(t, err)
	t.Cleanup(cleanup)

	_, ok := container.GraphRepo.(*resilience.GraphRepository)
	assert.True(t, ok, "breaker should wrap the graph repository")

	start, err := container.Store.EnsureStartNode(ctx, container.Config.Graph.StartText)
	require.NoError(t, err)
	assert.Equal(t, "root", start.Category)

	handler := container.Router.Setup()
	for _, path := range []string{"/health", "/ready", "/api/v1/admin/issues"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "troubleshooting_view_cache")
}

func TestInitializeContainer_UnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "postgres"

	_, _, err := InitializeContainer(context.Background(), cfg)
	assert.Error(t, err)
}

func TestCacheConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Cache.FlattenedTree.MaxEntries = 7

	got := CacheConfig(cfg)
	assert.Equal(t, 7, got.Kinds[cache.ViewFlattenedTree].MaxEntries)
	assert.Equal(t, cfg.Cache.IssueList.TTL, got.Kinds[cache.ViewIssueList].TTL)
	assert.Equal(t, cfg.Cache.JanitorInterval, got.JanitorInterval)
}
