package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/listinglens-backend/internal/capabilities"
	"github.com/yungbote/listinglens-backend/internal/platform/logger"
)

func fakeOpenAI(t *testing.T, status int, content string, hits *atomic.Int32) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/v1/chat/completions" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   req["model"],
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/v1"
}

func TestSummarizeAddsHeading(t *testing.T) {
	var hits atomic.Int32
	base := fakeOpenAI(t, http.StatusOK, "Strong pricing, weak images.", &hits)
	s, err := NewSummarizer(logger.NewNop(), Config{APIKey: "sk-test", BaseURL: base})
	require.NoError(t, err)

	res := s.Summarize(context.Background(), capabilities.PromptProductAnalysis, "Title: bottle")
	require.Nil(t, res.Failure)
	assert.Equal(t, "## Product Analysis\n\nStrong pricing, weak images.", res.Text)
	assert.Equal(t, int32(1), hits.Load())
}

func TestSummarizeKeywordsIsRaw(t *testing.T) {
	var hits atomic.Int32
	base := fakeOpenAI(t, http.StatusOK, "steel bottle\ninsulated bottle", &hits)
	s, err := NewSummarizer(logger.NewNop(), Config{APIKey: "sk-test", BaseURL: base})
	require.NoError(t, err)

	res := s.Summarize(context.Background(), capabilities.PromptKeywords, "Title: bottle")
	require.Nil(t, res.Failure)
	assert.Equal(t, "steel bottle\ninsulated bottle", res.Text)
}

func TestSummarizeReturnsTypedFailureWithoutRetry(t *testing.T) {
	var hits atomic.Int32
	base := fakeOpenAI(t, http.StatusBadRequest, "", &hits)
	s, err := NewSummarizer(logger.NewNop(), Config{APIKey: "sk-test", BaseURL: base})
	require.NoError(t, err)

	res := s.Summarize(context.Background(), capabilities.PromptCompetitorAnalysis, "main", "competitors")
	require.NotNil(t, res.Failure)
	assert.Equal(t, capabilities.PromptCompetitorAnalysis, res.Failure.Kind)
	assert.Equal(t, int32(1), hits.Load())
}

func TestSummarizeRejectsMissingInputs(t *testing.T) {
	var hits atomic.Int32
	base := fakeOpenAI(t, http.StatusOK, "x", &hits)
	s, err := NewSummarizer(logger.NewNop(), Config{APIKey: "sk-test", BaseURL: base})
	require.NoError(t, err)

	res := s.Summarize(context.Background(), capabilities.PromptProductAnalysis)
	require.NotNil(t, res.Failure)
	assert.Equal(t, int32(0), hits.Load())
}

func TestNewSummarizerNeedsKey(t *testing.T) {
	_, err := NewSummarizer(logger.NewNop(), Config{})
	require.Error(t, err)
}

func TestCatalogRendersOptionalSecondInput(t *testing.T) {
	c, err := LoadCatalog()
	require.NoError(t, err)

	_, user, heading, err := c.Render(capabilities.PromptCompetitorAnalysis, []string{"main only"})
	require.NoError(t, err)
	assert.Equal(t, "Competitor Analysis", heading)
	assert.Contains(t, user, "main only")
	assert.Contains(t, user, "(none found)")

	_, err = parseCatalog([]byte("prompts:\n  product_analysis:\n    user: hi\n"))
	require.Error(t, err)
}
