package ai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/eray/backend/internal/model/llm"
)

func float32Ptr(v float32) *float32 { return &v }

func newSSEServer(t *testing.T, capture *map[string]any, lines ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		if capture != nil {
			require.NoError(t, sonic.Unmarshal(body, capture))
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, line := range lines {
			fmt.Fprintf(w, "%s\n\n", line)
		}
	}))
}

func collectAll(t *testing.T, provider Provider, spec llm.ModelSpec, temp *float32) (string, error) {
	t.Helper()
	stream, err := provider.Stream(context.Background(), spec, []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "hi"},
	}, temp)
	if err != nil {
		return "", err
	}
	return Collect(context.Background(), stream, nil)
}

func TestOpenAIProviderStreamsDeltas(t *testing.T) {
	var captured map[string]any
	server := newSSEServer(t, &captured,
		": OPENROUTER PROCESSING",
		`data: {"choices":[{"delta":{"role":"assistant","content":""}}]}`,
		`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		`data: [DONE]`,
		`data: {"choices":[{"delta":{"content":"ignored"}}]}`,
	)
	defer server.Close()

	provider := NewOpenAIProvider("deepseek", server.URL+"/", "secret", server.Client())
	spec := llm.ModelSpec{Key: "deepseek-chat", ModelID: "deepseek-chat", SupportsTemperature: true, Temperature: float32Ptr(1.3)}

	text, err := collectAll(t, provider, spec, nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)

	assert.Equal(t, "deepseek-chat", captured["model"])
	assert.Equal(t, true, captured["stream"])
	assert.InDelta(t, 1.3, captured["temperature"], 0.0001)
	messages, ok := captured["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, messages, 2)
}

func TestOpenAIProviderOmitsUnsupportedTemperature(t *testing.T) {
	var captured map[string]any
	server := newSSEServer(t, &captured, `data: [DONE]`)
	defer server.Close()

	provider := NewOpenAIProvider("openrouter", server.URL, "secret", server.Client())
	spec := llm.ModelSpec{Key: "openrouter-r1", ModelID: "deepseek/deepseek-r1:free"}

	_, err := collectAll(t, provider, spec, float32Ptr(0.2))
	require.NoError(t, err)
	_, present := captured["temperature"]
	assert.False(t, present)
}

func TestOpenAIProviderSurfacesErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer server.Close()

	provider := NewOpenAIProvider("deepseek", server.URL, "secret", server.Client())
	_, err := provider.Stream(context.Background(), llm.ModelSpec{ModelID: "deepseek-chat"}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "invalid api key")
}

func TestOpenAIProviderMidStreamError(t *testing.T) {
	server := newSSEServer(t, nil,
		`data: {"choices":[{"delta":{"content":"partial"}}]}`,
		`data: {"error":{"message":"upstream overloaded"}}`,
	)
	defer server.Close()

	provider := NewOpenAIProvider("openrouter", server.URL, "secret", server.Client())
	text, err := collectAll(t, provider, llm.ModelSpec{ModelID: "x"}, nil)

	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Equal(t, "partial", streamErr.Partial)
	assert.Equal(t, "partial", text)
	assert.Contains(t, err.Error(), "upstream overloaded")
}

func TestOpenAIProviderMalformedChunk(t *testing.T) {
	server := newSSEServer(t, nil, `data: {not json`)
	defer server.Close()

	provider := NewOpenAIProvider("deepseek", server.URL, "secret", server.Client())
	_, err := collectAll(t, provider, llm.ModelSpec{ModelID: "x"}, nil)

	var streamErr *StreamError
	require.ErrorAs(t, err, &streamErr)
	assert.Contains(t, err.Error(), "malformed chunk")
}
