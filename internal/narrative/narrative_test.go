package narrative_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/riskarena/internal/narrative"
	"github.com/signalnine/riskarena/internal/pricing"
	"github.com/signalnine/riskarena/internal/submission"
)

func fakeModel(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			w.Write([]byte(`{"error": {"message": "rate limited", "type": "rate_limit"}}`))
			return
		}
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "cmpl-1",
			"object": "chat.completion",
			"model":  req["model"],
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": " Looks solid. "},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 1000, "completion_tokens": 500, "total_tokens": 1500},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func testSubmission() *submission.Submission {
	return &submission.Submission{
		AgentID:  "auditor",
		Findings: []submission.Finding{{Contract: "ReentrancyVault", VulnerabilityType: "reentrancy", Severity: 0.9, LineNumber: 15}},
		Fixes:    []submission.FixProposal{{LineNumber: 15, OriginalCode: "a", FixedCode: "b", Explanation: "c"}},
	}
}

func newAnalyzer(t *testing.T, baseURL string) *narrative.OpenAIAnalyzer {
	t.Helper()
	t.Setenv("RISKARENA_TEST_KEY", "sk-test")
	a, err := narrative.New(narrative.Options{
		Provider:  "openai",
		Model:     "gpt-4o-mini",
		BaseURL:   baseURL,
		APIKeyEnv: "RISKARENA_TEST_KEY",
		MaxTokens: 256,
		Pricing:   pricing.Default(),
	})
	require.NoError(t, err)
	return a
}

func TestAnalyzeFindingsAndFixes(t *testing.T) {
	srv, calls := fakeModel(t, http.StatusOK)
	a := newAnalyzer(t, srv.URL+"/v1")

	n := a.Analyze(context.Background(), testSubmission())
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "Looks solid.", n.Findings)
	assert.Equal(t, "Looks solid.", n.Fixes)
	assert.Equal(t, 2000, n.InputTokens)
	assert.Equal(t, 1000, n.OutputTokens)
	assert.InDelta(t, 0.0009, n.CostUSD, 1e-9)
	assert.Empty(t, n.Error)
}

func TestAnalyzeSkipsEmptySections(t *testing.T) {
	srv, calls := fakeModel(t, http.StatusOK)
	a := newAnalyzer(t, srv.URL+"/v1")

	n := a.Analyze(context.Background(), &submission.Submission{AgentID: "a"})
	assert.Equal(t, int32(0), calls.Load())
	assert.Empty(t, n.Findings)
	assert.Zero(t, n.CostUSD)
}

func TestAnalyzeFailureIsAnnotation(t *testing.T) {
	srv, _ := fakeModel(t, http.StatusTooManyRequests)
	a := newAnalyzer(t, srv.URL+"/v1")

	n := a.Analyze(context.Background(), testSubmission())
	require.NotNil(t, n)
	assert.Contains(t, n.Error, "findings analysis")
	assert.Contains(t, n.Error, "fix validation")
}

func TestNewRequiresKey(t *testing.T) {
	t.Setenv("RISKARENA_EMPTY_KEY", "")
	_, err := narrative.New(narrative.Options{APIKeyEnv: "RISKARENA_EMPTY_KEY"})
	assert.Error(t, err)
}
