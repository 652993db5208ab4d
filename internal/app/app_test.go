package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/listinglens-backend/internal/capabilities"
	"github.com/yungbote/listinglens-backend/internal/platform/logger"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PIPELINE_BUDGET", "")
	t.Setenv("SEARCH_DELAY_MIN", "5s")
	t.Setenv("SEARCH_DELAY_MAX", "1s")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg := LoadConfig(logger.NewNop())
	require.Equal(t, 3*time.Minute, cfg.Pipeline.Budget)
	require.Equal(t, "sqlite", cfg.DB.Driver)
	require.Equal(t, 5*time.Second, cfg.SearchDelayMin)
	require.Equal(t, 5*time.Second, cfg.SearchDelayMax)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	require.Equal(t, cfg.CORSOrigins, cfg.Socket.AllowedOrigins)
	require.False(t, cfg.StrictSummaries)
	require.Equal(t, cfg.SessionTTL, cfg.Redis.TTL)
	require.Equal(t, "listinglens", cfg.Otel.ServiceName)
}

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := LoadConfig(logger.NewNop())
	cfg.DB.Driver = "sqlite"
	cfg.DB.SQLitePath = filepath.Join(t.TempDir(), "app.db")
	cfg.OpenAI.APIKey = ""
	cfg.Otel.Enabled = false
	cfg.Redis.Addr = ""
	return cfg
}

func TestBuildServesWithRedisCache(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Redis.Addr = mr.Addr()

	a, err := Build(logger.NewNop(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
		a.Close()
	})
	require.NotNil(t, a.redis)

	ts := httptest.NewServer(a.Server.Engine)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	require.Equal(t, "ok", health["status"])
	deps := health["dependencies"].(map[string]any)
	require.Equal(t, "ok", deps["database"])
	require.Equal(t, "ok", deps["redis"])

	resp, err = http.Post(ts.URL+"/api/analyze", "application/json", strings.NewReader(`{"amazon_url":"not a link"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestBuildFailsOnUnreachableRedis(t *testing.T) {
	cfg := testConfig(t)
	cfg.Redis.Addr = "127.0.0.1:1"
	_, err := Build(logger.NewNop(), cfg)
	require.ErrorContains(t, err, "init redis")
}

func TestSummarizerFallsBackWithoutKey(t *testing.T) {
	s := wireSummarizer(logger.NewNop(), testConfig(t).OpenAI)
	require.IsType(t, capabilities.StaticSummarizer{}, s)
}

func TestRunStopsOnCancel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := testConfig(t)
	cfg.Port = "0"
	a, err := Build(logger.NewNop(), cfg)
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
