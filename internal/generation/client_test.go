package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatRequest struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	MaxTokens   int     `json:"max_tokens"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func TestGenerate_ReturnsAnswer(t *testing.T) {
	var got chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "resp-1",
			"object": "chat.completion",
			"model": "test-model",
			"choices": [{
				"index": 0,
				"message": {"role": "assistant", "content": "The answer."},
				"finish_reason": "stop"
			}]
		}`)
	}))
	t.Cleanup(server.Close)

	client, err := NewClient("test-model", server.URL)
	require.NoError(t, err)

	answer, err := client.Generate(context.Background(), "the prompt")
	require.NoError(t, err)
	assert.Equal(t, "The answer.", answer)

	assert.Equal(t, "test-model", got.Model)
	assert.InDelta(t, 0.3, got.Temperature, 1e-9)
	assert.InDelta(t, 0.9, got.TopP, 1e-9)
	assert.Equal(t, 1024, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "the prompt", got.Messages[0].Content)
}

func TestGenerate_ServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "bad request"}}`, http.StatusBadRequest)
	}))
	t.Cleanup(server.Close)

	client, err := NewClient("test-model", server.URL)
	require.NoError(t, err)

	answer, err := client.Generate(context.Background(), "the prompt")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationService)
	assert.Empty(t, answer)
}

func TestGenerateStream_DeliversDeltasAndDone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, delta := range []string{"Hello ", "world."} {
			chunk := map[string]any{
				"id":     "resp-1",
				"object": "chat.completion.chunk",
				"model":  "test-model",
				"choices": []map[string]any{
					{"index": 0, "delta": map[string]string{"content": delta}},
				},
			}
			payload, err := json.Marshal(chunk)
			require.NoError(t, err)
			fmt.Fprintf(w, "data: %s\n\n", payload)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(server.Close)

	client, err := NewClient("test-model", server.URL)
	require.NoError(t, err)

	out := make(chan Fragment, 8)
	answer, err := client.GenerateStream(context.Background(), "the prompt", out)
	require.NoError(t, err)
	assert.Equal(t, "Hello world.", answer)

	var fragments []Fragment
	for frag := range out {
		fragments = append(fragments, frag)
	}
	require.Len(t, fragments, 3)
	assert.Equal(t, "Hello ", fragments[0].Text)
	assert.Equal(t, "world.", fragments[1].Text)
	assert.True(t, fragments[2].Done)
}

func TestModel(t *testing.T) {
	client, err := NewClient("", "http://localhost:11434/v1")
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, client.Model())
}
