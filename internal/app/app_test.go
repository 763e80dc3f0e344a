package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/raine/listing-pipeline/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		GeminiAPIKey:     "test-key",
		GeminiModel:      "gemini-2.5-flash",
		ObjectStore:      config.ObjectStoreNone,
		CacheDBPath:      filepath.Join(t.TempDir(), "cache.db"),
		BlobTTL:          30 * time.Minute,
		LLMCacheTTL:      24 * time.Hour,
		ImageConcurrency: 2,
		ScrapeMaxURLs:    3,
		WatermarkText:    "shop",
	}
}

func TestNew_Defaults(t *testing.T) {
	a, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Orchestrator)
	assert.NotNil(t, a.sqlite)
	assert.NotNil(t, a.memory, "blob references need a pruned in-memory cache")
	assert.False(t, a.Publisher.Configured())

	opts := a.PhotoOptions()
	assert.Equal(t, "shop", opts.WatermarkText)
	assert.Equal(t, 1200, opts.Width)
}

func TestNew_SearchAndPublishConfigured(t *testing.T) {
	cfg := testConfig(t)
	cfg.SearchAPIKey = "search-key"
	cfg.SearchEngineID = "engine"
	cfg.PublishEndpoint = "https://market.test/api/listings"
	cfg.PublishToken = "token"

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.True(t, a.Publisher.Configured())
}

func TestNew_BadCachePath(t *testing.T) {
	cfg := testConfig(t)
	cfg.CacheDBPath = filepath.Join(t.TempDir(), "missing", "dir", "cache.db")

	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNew_RedisUnreachable(t *testing.T) {
	cfg := testConfig(t)
	cfg.RedisAddr = "127.0.0.1:1"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := New(ctx, cfg)
	assert.ErrorContains(t, err, "redis")
}

func TestClose_Idempotent(t *testing.T) {
	a, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}

func TestRunBackground_PrunerStopsOnCancel(t *testing.T) {
	a, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	a.RunBackground(gctx, g)
	cancel()
	assert.NoError(t, g.Wait())
}

func TestMetricsMux(t *testing.T) {
	a, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer a.Close()

	srv := httptest.NewServer(metricsMux(a.Registry))
	defer srv.Close()

	res, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)

	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(body), "go_goroutines")

	res404, err := http.Get(srv.URL + "/other")
	require.NoError(t, err)
	res404.Body.Close()
	assert.Equal(t, http.StatusNotFound, res404.StatusCode)
}
