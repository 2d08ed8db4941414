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

func TestGeminiDriver_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, ":generateContent")
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"bonjour"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":2,"candidatesTokenCount":3,"totalTokenCount":5}}`))
	}))
	defer srv.Close()

	d, err := NewGeminiDriver(srv.URL, "secret", "gemini-1.5-flash", time.Second)
	require.NoError(t, err)

	resp, err := d.Chat(context.Background(), LlmChatRequest{Messages: []LlmMessage{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "bonjour", resp.Content)
	assert.Equal(t, "STOP", resp.FinishReason)
	assert.Equal(t, 5, resp.TotalTokens)
}

func TestGeminiDriver_StreamChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, ":streamGenerateContent")
		flusher, _ := w.(http.Flusher)
		lines := []string{
			`[`,
			`{"candidates":[{"content":{"parts":[{"text":"Hello "}]}}]}`,
			`,`,
			`{"candidates":[{"content":{"parts":[{"text":"world"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":1,"candidatesTokenCount":2,"totalTokenCount":3}}`,
			`]`,
		}
		for _, l := range lines {
			w.Write([]byte(l + "\n"))
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	defer srv.Close()

	d, err := NewGeminiDriver(srv.URL, "secret", "gemini-1.5-flash", time.Second)
	require.NoError(t, err)

	var chunks []string
	var done bool
	sink := FuncSink{
		Chunk: func(c string, d bool) {
			if c != "" {
				chunks = append(chunks, c)
			}
			if d {
				done = true
			}
		},
	}
	err = d.StreamChat(context.Background(), LlmChatRequest{Messages: []LlmMessage{{Role: RoleUser, Content: "hi"}}}, sink)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello ", "world"}, chunks)
	assert.True(t, done)
}

func TestGeminiDriver_StreamChat_TerminalChunkFiresOnMalformedTrailingLine(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		lines := []string{
			`[`,
			`{"candidates":[{"content":{"parts":[{"text":"Hello"}]}}]}`,
			`,`,
			`not valid json`,
			`]`,
		}
		for _, l := range lines {
			w.Write([]byte(l + "\n"))
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	defer srv.Close()

	d, err := NewGeminiDriver(srv.URL, "secret", "gemini-1.5-flash", time.Second)
	require.NoError(t, err)

	var doneCount int
	sink := FuncSink{
		Chunk: func(_ string, d bool) {
			if d {
				doneCount++
			}
		},
	}
	err = d.StreamChat(context.Background(), LlmChatRequest{Messages: []LlmMessage{{Role: RoleUser, Content: "hi"}}}, sink)
	require.NoError(t, err)
	assert.Equal(t, 1, doneCount, "exactly one terminal chunk must fire even when the finishReason line is malformed")
}

func TestGeminiDriver_BuildBody_SystemInstruction(t *testing.T) {
	d, err := NewGeminiDriver("", "secret", "gemini-1.5-flash", time.Second)
	require.NoError(t, err)

	body := d.buildBody(LlmChatRequest{Messages: []LlmMessage{
		{Role: RoleSystem, Content: "one"},
		{Role: RoleSystem, Content: "two"},
		{Role: RoleAssistant, Content: "prior reply"},
		{Role: RoleUser, Content: "question"},
	}})
	require.NotNil(t, body.SystemInstruction)
	assert.Equal(t, "one\ntwo", body.SystemInstruction.Parts[0].Text)
	require.Len(t, body.Contents, 2)
	assert.Equal(t, "model", body.Contents[0].Role)
	assert.Equal(t, "user", body.Contents[1].Role)
}
