// Package llm defines the provider-agnostic chat contract (C1) used by
// every backend driver, plus the Backend Registry (C3) that selects among
// them. Wire-level encoding for each concrete backend lives in this
// package's openai.go, gemini.go, and ollama.go.
package llm

import "context"

// Role values recognized on LlmMessage.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// LlmMessage is one turn in a conversation sent to a backend.
type LlmMessage struct {
	Role    string
	Content string
}

// LlmChatRequest is a provider-agnostic chat request.
type LlmChatRequest struct {
	Messages    []LlmMessage
	Model       string
	Temperature float64
	MaxTokens   int
	Stream      bool
}

// LlmChatResponse is a provider-agnostic chat response. Token counts are
// optional; zero means unknown.
type LlmChatResponse struct {
	Content          string
	Model            string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// StreamSink receives streamed chunks from a backend driver. Exactly one
// call with done=true terminates a successful stream; on failure the
// driver calls OnError at least once before returning.
type StreamSink interface {
	OnChunk(chunk string, done bool)
	OnError(err error)
}

// FuncSink adapts two plain functions to the StreamSink interface, mirroring
// the teacher's preference for small functional adapters over bespoke
// interface implementations at every call site.
type FuncSink struct {
	Chunk func(chunk string, done bool)
	Err   func(err error)
}

func (f FuncSink) OnChunk(chunk string, done bool) {
	if f.Chunk != nil {
		f.Chunk(chunk, done)
	}
}

func (f FuncSink) OnError(err error) {
	if f.Err != nil {
		f.Err(err)
	}
}

// Driver is a single provider-specific chat backend (C1).
type Driver interface {
	Name() string
	Chat(ctx context.Context, req LlmChatRequest) (LlmChatResponse, error)
	StreamChat(ctx context.Context, req LlmChatRequest, sink StreamSink) error
	CheckAvailability(ctx context.Context) bool
}
