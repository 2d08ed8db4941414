package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenLimitKey(t *testing.T) {
	cases := map[string]string{
		"gpt-4o":      "max_tokens",
		"gpt-4o-mini": "max_tokens",
		"o1-preview":  "max_completion_tokens",
		"o3-mini":     "max_completion_tokens",
		"gpt-5":       "max_completion_tokens",
		"GPT-5-turbo": "max_completion_tokens",
	}
	for model, want := range cases {
		assert.Equal(t, want, tokenLimitKey(model), model)
	}
}

func TestOpenAIDriver_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model":"gpt-4o","choices":[{"message":{"content":"hi there"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`))
	}))
	defer srv.Close()

	d, err := NewOpenAIDriver(srv.URL, "secret", "gpt-4o", time.Second, nil)
	require.NoError(t, err)

	resp, err := d.Chat(context.Background(), LlmChatRequest{Messages: []LlmMessage{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 5, resp.TotalTokens)
}

func TestOpenAIDriver_StreamChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		lines := []string{
			`data: {"choices":[{"delta":{"content":"Hello "},"finish_reason":null}]}`,
			`data: {"choices":[{"delta":{"content":"world"},"finish_reason":null}]}`,
			`data: {"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`,
			`data: [DONE]`,
		}
		for _, l := range lines {
			w.Write([]byte(l + "\n"))
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	defer srv.Close()

	d, err := NewOpenAIDriver(srv.URL, "secret", "gpt-4o", time.Second, nil)
	require.NoError(t, err)

	var chunks []string
	var doneCount int
	sink := FuncSink{
		Chunk: func(chunk string, done bool) {
			if chunk != "" {
				chunks = append(chunks, chunk)
			}
			if done {
				doneCount++
			}
		},
	}
	err = d.StreamChat(context.Background(), LlmChatRequest{Messages: []LlmMessage{{Role: RoleUser, Content: "hi"}}}, sink)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello ", "world"}, chunks)
	assert.Equal(t, 1, doneCount)
}

func TestOpenAIDriver_MissingConfig(t *testing.T) {
	_, err := NewOpenAIDriver("", "key", "gpt-4o", time.Second, nil)
	require.Error(t, err)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)

	_, err = NewOpenAIDriver("http://x", "", "gpt-4o", time.Second, nil)
	require.Error(t, err)
}

func TestOpenAIDriver_ExtraHeadersInjected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "proj_123", r.Header.Get("X-Gateway-Project"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	d, err := NewOpenAIDriver(srv.URL, "secret", "gpt-4o", time.Second, map[string]string{"X-Gateway-Project": "proj_123"})
	require.NoError(t, err)

	resp, err := d.Chat(context.Background(), LlmChatRequest{Messages: []LlmMessage{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
}

func TestOpenAIDriver_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	d, err := NewOpenAIDriver(srv.URL, "secret", "gpt-4o", time.Second, nil)
	require.NoError(t, err)

	_, err = d.Chat(context.Background(), LlmChatRequest{Messages: []LlmMessage{{Role: RoleUser, Content: "hi"}}})
	require.Error(t, err)
	var transportErr *TransportError
	assert.ErrorAs(t, err, &transportErr)
	assert.Equal(t, http.StatusInternalServerError, transportErr.StatusCode)
}
