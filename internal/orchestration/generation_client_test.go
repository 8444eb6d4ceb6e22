package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RahulC-DG/VoiceCreation/internal/models"
)

func anthropicServer(t *testing.T, status int, body string, requests *[]map[string]any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		if requests != nil {
			var req map[string]any
			_ = json.NewDecoder(r.Body).Decode(&req)
			*requests = append(*requests, req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestNewGenerator_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     GeneratorConfig
		wantErr string
	}{
		{name: "missing key", cfg: GeneratorConfig{Provider: ProviderAnthropic}, wantErr: "no API key"},
		{name: "unknown provider", cfg: GeneratorConfig{Provider: "mystery", APIKey: "k"}, wantErr: "unknown generation provider"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGenerator(tt.cfg, zerolog.Nop())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	gen, err := NewGenerator(GeneratorConfig{Provider: "OpenAI", APIKey: "k"}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, gen.Provider())
}

func TestBreakerGenerator_Anthropic(t *testing.T) {
	var requests []map[string]any
	server := anthropicServer(t, http.StatusOK, `{
		"id": "msg_01",
		"type": "message",
		"role": "assistant",
		"model": "claude-sonnet-4-5",
		"content": [
			{"type": "text", "text": "{\"files\": ["},
			{"type": "text", "text": "{\"path\": \"index.html\", \"content\": \"<html></html>\"}]}"}
		],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 10, "output_tokens": 20}
	}`, &requests)

	gen, err := NewGenerator(GeneratorConfig{
		Provider:  ProviderAnthropic,
		APIKey:    "test-key",
		Model:     "claude-sonnet-4-5",
		MaxTokens: 4096,
		BaseURL:   server.URL,
	}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, gen.Provider())

	text, err := gen.Generate(context.Background(), "you write code", "build a todo app")
	require.NoError(t, err)
	assert.Equal(t, `{"files": [{"path": "index.html", "content": "<html></html>"}]}`, text)

	require.Len(t, requests, 1)
	assert.Equal(t, "claude-sonnet-4-5", requests[0]["model"])
	assert.EqualValues(t, 4096, requests[0]["max_tokens"])
}

func TestBreakerGenerator_OpenAI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "build a todo app", req.Messages[1].Content)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"files\": []}"}, "finish_reason": "stop"}]
		}`))
	}))
	defer server.Close()

	gen, err := NewGenerator(GeneratorConfig{
		Provider: ProviderOpenAI,
		APIKey:   "test-key",
		Model:    "gpt-4o",
		BaseURL:  server.URL + "/v1",
	}, zerolog.Nop())
	require.NoError(t, err)

	text, err := gen.Generate(context.Background(), "you write code", "build a todo app")
	require.NoError(t, err)
	assert.Equal(t, `{"files": []}`, text)
}

func TestBreakerGenerator_FailureIsModelCallFailed(t *testing.T) {
	server := anthropicServer(t, http.StatusUnauthorized,
		`{"type": "error", "error": {"type": "authentication_error", "message": "invalid x-api-key"}}`, nil)

	gen, err := NewGenerator(GeneratorConfig{Provider: ProviderAnthropic, APIKey: "test-key", BaseURL: server.URL}, zerolog.Nop())
	require.NoError(t, err)

	_, err = gen.Generate(context.Background(), "", "prompt")
	require.Error(t, err)

	var callErr *models.ModelCallFailedError
	require.True(t, errors.As(err, &callErr))
	assert.Equal(t, ProviderAnthropic, callErr.Provider)
	assert.Equal(t, models.ErrCodeModelCallFailed, models.ErrorCode(err))
}

func TestBreakerGenerator_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"type": "error", "error": {"type": "api_error", "message": "boom"}}`))
	}))
	defer server.Close()

	gen, err := NewGenerator(GeneratorConfig{Provider: ProviderAnthropic, APIKey: "test-key", BaseURL: server.URL}, zerolog.Nop())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := gen.Generate(context.Background(), "", "prompt")
		require.Error(t, err)
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestBreakerGenerator_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	gen, err := NewGenerator(GeneratorConfig{
		Provider: ProviderAnthropic,
		APIKey:   "test-key",
		BaseURL:  server.URL,
		Timeout:  50 * time.Millisecond,
	}, zerolog.Nop())
	require.NoError(t, err)

	started := time.Now()
	_, err = gen.Generate(context.Background(), "", "prompt")
	require.Error(t, err)
	assert.Less(t, time.Since(started), 2*time.Second)
	assert.Equal(t, models.ErrCodeModelCallFailed, models.ErrorCode(err))
}
