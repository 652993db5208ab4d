package http

import (
	"bytes"
	"context"
	"encoding/json"
	nethttp "net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/listinglens-backend/internal/capabilities"
	"github.com/yungbote/listinglens-backend/internal/capabilities/capabilitiestest"
	"github.com/yungbote/listinglens-backend/internal/data/repos"
	"github.com/yungbote/listinglens-backend/internal/data/repos/testutil"
	"github.com/yungbote/listinglens-backend/internal/data/sessionstore"
	"github.com/yungbote/listinglens-backend/internal/domain/analysis"
	httpH "github.com/yungbote/listinglens-backend/internal/http/handlers"
	"github.com/yungbote/listinglens-backend/internal/jobs/orchestrator"
	"github.com/yungbote/listinglens-backend/internal/jobs/steps"
	"github.com/yungbote/listinglens-backend/internal/jobs/worker"
	"github.com/yungbote/listinglens-backend/internal/observability"
	"github.com/yungbote/listinglens-backend/internal/platform/logger"
	"github.com/yungbote/listinglens-backend/internal/realtime"
	"github.com/yungbote/listinglens-backend/internal/services"
)

const testASIN = "B0FB7FQWJL"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.NewNop()
	set := repos.New(testutil.DB(t), log)

	store, err := sessionstore.New(log, sessionstore.NewMemoryCache(time.Hour), set.Sessions, time.Hour)
	require.NoError(t, err)
	metrics := observability.NewMetrics()
	mux := realtime.NewMultiplexer(log, set.Events, realtime.Config{Linger: time.Minute, Metrics: metrics})
	pool := worker.NewPool(log, 2)

	engine, err := orchestrator.NewEngine(orchestrator.Deps{
		Log:     log,
		Store:   store,
		Channel: mux,
		Pool:    pool,
		Collection: steps.CollectionDeps{
			Scraper: &capabilitiestest.Scraper{Results: map[string]capabilities.ScrapeResult{
				testASIN: capabilities.ScrapeOK(capabilitiestest.Product(testASIN, "Stainless Steel Water Bottle")),
			}},
			Searcher: &capabilitiestest.Searcher{},
			Products: set.Products,
		},
		Summaries: steps.SummaryDeps{Summarizer: &capabilitiestest.Summarizer{}},
		Metrics:   metrics,
	}, orchestrator.Config{})
	require.NoError(t, err)

	svc := services.NewAnalysisService(log, store, set.Events, engine)
	router := NewRouter(RouterConfig{
		Log:             log,
		Metrics:         metrics,
		AnalysisHandler: httpH.NewAnalysisHandler(log, svc),
		RealtimeHandler: httpH.NewRealtimeHandler(log, mux, svc, httpH.RealtimeConfig{}),
		HealthHandler:   httpH.NewHealthHandler(nil),
	})
	ts := httptest.NewServer(router)
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
		mux.Close()
		_ = pool.Stop(ctx)
	})
	return ts
}

func postJSON(t *testing.T, url string, body any) (*nethttp.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := nethttp.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := nethttp.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func submitAndWait(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp, body := postJSON(t, ts.URL+"/api/analyze", map[string]string{"amazon_url": testASIN})
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)
	require.Equal(t, "started", body["status"])
	id, _ := body["session_id"].(string)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		_, st := getJSON(t, ts.URL+"/api/analysis/"+id+"/status")
		return st["status"] == string(analysis.StatusCompleted)
	}, 5*time.Second, 10*time.Millisecond)
	return id
}

func TestAnalyzeRejectsForeignMarketplace(t *testing.T) {
	ts := newTestServer(t)
	resp, body := postJSON(t, ts.URL+"/api/analyze", map[string]string{"amazon_url": "https://www.ebay.com/itm/1"})
	require.Equal(t, nethttp.StatusBadRequest, resp.StatusCode)
	envelope := body["error"].(map[string]any)
	require.Equal(t, "invalid_locator", envelope["code"])

	resp, body = postJSON(t, ts.URL+"/api/analyze", map[string]string{})
	require.Equal(t, nethttp.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "invalid_request", body["error"].(map[string]any)["code"])
}

func TestUnknownSessionIs404(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/status", "/result", "/events"} {
		code, body := getJSON(t, ts.URL+"/api/analysis/nope"+path)
		require.Equal(t, nethttp.StatusNotFound, code, path)
		require.Equal(t, "session_not_found", body["error"].(map[string]any)["code"])
	}
}

func TestSubmitRunsPipelineToCompletion(t *testing.T) {
	ts := newTestServer(t)
	id := submitAndWait(t, ts)

	code, body := getJSON(t, ts.URL+"/api/analysis/"+id+"/result")
	require.Equal(t, nethttp.StatusOK, code)
	result := body["result"].(map[string]any)
	require.NotEmpty(t, result["product_analysis"])
	require.NotEmpty(t, result["optimization_strategy"])
	require.Empty(t, result["competitors"])

	_, again := getJSON(t, ts.URL+"/api/analysis/"+id+"/result")
	require.Equal(t, body, again)

	// The completion event is published after the terminal status is stored.
	require.Eventually(t, func() bool {
		code, events := getJSON(t, ts.URL+"/api/analysis/"+id+"/events")
		list, _ := events["events"].([]any)
		if code != nethttp.StatusOK || len(list) == 0 {
			return false
		}
		last, _ := list[len(list)-1].(map[string]any)
		return last["type"] == string(analysis.EventAnalysisComplete)
	}, 5*time.Second, 10*time.Millisecond)

	code, sessions := getJSON(t, ts.URL+"/api/sessions")
	require.Equal(t, nethttp.StatusOK, code)
	require.EqualValues(t, 1, sessions["total"])
}

func TestWebSocketReplaysFinishedRunAndAnswersPing(t *testing.T) {
	ts := newTestServer(t)
	id := submitAndWait(t, ts)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/" + id
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var ack realtime.Message
	require.NoError(t, conn.ReadJSON(&ack))
	require.Equal(t, realtime.MessageConnection, ack.Type)
	require.Equal(t, id, ack.SessionID)

	var prev realtime.Message
	for {
		var msg realtime.Message
		require.NoError(t, conn.ReadJSON(&msg))
		require.NotNil(t, msg.Data)
		if prev.Data != nil {
			require.Greater(t, msg.Seq, prev.Seq)
			require.GreaterOrEqual(t, msg.Data.FractionComplete, prev.Data.FractionComplete)
		}
		prev = msg
		if msg.Type == realtime.MessageAnalysisComplete {
			break
		}
	}
	require.Equal(t, 1.0, prev.Data.FractionComplete)
	require.NotEmpty(t, prev.Data.Result)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	var pong realtime.Message
	require.NoError(t, conn.ReadJSON(&pong))
	require.Equal(t, realtime.MessagePong, pong.Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	require.NoError(t, conn.ReadJSON(&pong))
	require.Equal(t, realtime.MessagePong, pong.Type)
}

func TestWebSocketUnknownSessionRejected(t *testing.T) {
	ts := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/missing"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, nethttp.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)
	code, body := getJSON(t, ts.URL+"/health")
	require.Equal(t, nethttp.StatusOK, code)
	require.Equal(t, "ok", body["status"])

	resp, err := nethttp.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, nethttp.StatusOK, resp.StatusCode)
}
