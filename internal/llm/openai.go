package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"ragchat/internal/observability"
)

// OpenAIDriver talks to an OpenAI-compatible chat completions endpoint:
// POST {apiURL}/chat/completions with Bearer auth, SSE streaming framed as
// "data: {...}" lines terminated by the literal "data: [DONE]".
type OpenAIDriver struct {
	apiURL  string
	apiKey  string
	model   string
	timeout time.Duration
	client  *http.Client
}

// NewOpenAIDriver constructs a driver. apiURL should not include the
// "/chat/completions" suffix; it is appended on each call. extraHeaders is
// injected into every outbound request without overriding Content-Type or
// Authorization, for OpenAI-compatible gateways that require an additional
// identifying header; pass nil when none is needed.
func NewOpenAIDriver(apiURL, apiKey, model string, timeout time.Duration, extraHeaders map[string]string) (*OpenAIDriver, error) {
	if strings.TrimSpace(apiURL) == "" {
		return nil, &ConfigError{Backend: "openai", Msg: "apiUrl is required"}
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, &ConfigError{Backend: "openai", Msg: "apiKey is required"}
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client := observability.NewHTTPClient(nil)
	if len(extraHeaders) > 0 {
		client = observability.WithHeaders(client, extraHeaders)
	}
	return &OpenAIDriver{
		apiURL:  strings.TrimRight(apiURL, "/"),
		apiKey:  apiKey,
		model:   model,
		timeout: timeout,
		client:  client,
	}, nil
}

func (d *OpenAIDriver) Name() string { return "openai" }

// tokenLimitKey selects the request field used to cap output tokens.
// Reasoning models (o1/o3/o4/gpt-5*) reject max_tokens and require
// max_completion_tokens instead.
func tokenLimitKey(model string) string {
	m := strings.ToLower(model)
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(m, prefix) {
			return "max_completion_tokens"
		}
	}
	return "max_tokens"
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (d *OpenAIDriver) buildBody(req LlmChatRequest, stream bool) ([]byte, error) {
	model := req.Model
	if model == "" {
		model = d.model
	}
	msgs := make([]openAIMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openAIMessage{Role: m.Role, Content: m.Content})
	}
	body := map[string]any{
		"model":       model,
		"messages":    msgs,
		"stream":      stream,
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		body[tokenLimitKey(model)] = req.MaxTokens
	}
	return json.Marshal(body)
}

func (d *OpenAIDriver) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.apiURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: openai: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+d.apiKey)
	return httpReq, nil
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (d *OpenAIDriver) Chat(ctx context.Context, req LlmChatRequest) (LlmChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	ctx, span := StartRequestSpan(ctx, "llm.chat", req.Model, 0, len(req.Messages))
	defer span.End()
	LogRedactedPrompt(ctx, toLogMessages(req.Messages))

	body, err := d.buildBody(req, false)
	if err != nil {
		return LlmChatResponse{}, fmt.Errorf("llm: openai: marshal request: %w", err)
	}
	httpReq, err := d.newRequest(ctx, body)
	if err != nil {
		return LlmChatResponse{}, err
	}
	resp, err := d.client.Do(httpReq)
	if err != nil {
		return LlmChatResponse{}, &TransportError{Backend: "openai", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return LlmChatResponse{}, &TransportError{Backend: "openai", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return LlmChatResponse{}, &TransportError{Backend: "openai", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var parsed openAIChatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return LlmChatResponse{}, &ProtocolError{Backend: "openai", Err: err}
	}
	if len(parsed.Choices) == 0 {
		return LlmChatResponse{}, &ProtocolError{Backend: "openai", Err: fmt.Errorf("no choices in response")}
	}
	out := LlmChatResponse{
		Content:          parsed.Choices[0].Message.Content,
		Model:            parsed.Model,
		FinishReason:     parsed.Choices[0].FinishReason,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		TotalTokens:      parsed.Usage.TotalTokens,
	}
	LogRedactedResponse(ctx, parsed)
	RecordTokenAttributes(span, out.PromptTokens, out.CompletionTokens, out.TotalTokens)
	RecordTokenMetrics(out.Model, out.PromptTokens, out.CompletionTokens)
	return out, nil
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Model string `json:"model"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// StreamChat parses Server-Sent Events: lines starting with "data: " carry
// a JSON payload; the literal "data: [DONE]" terminates the stream.
func (d *OpenAIDriver) StreamChat(ctx context.Context, req LlmChatRequest, sink StreamSink) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	ctx, span := StartRequestSpan(ctx, "llm.stream_chat", req.Model, 0, len(req.Messages))
	defer span.End()
	LogRedactedPrompt(ctx, toLogMessages(req.Messages))

	body, err := d.buildBody(req, true)
	if err != nil {
		err = fmt.Errorf("llm: openai: marshal request: %w", err)
		sink.OnError(err)
		return err
	}
	httpReq, err := d.newRequest(ctx, body)
	if err != nil {
		sink.OnError(err)
		return err
	}
	resp, err := d.client.Do(httpReq)
	if err != nil {
		terr := &TransportError{Backend: "openai", Err: err}
		sink.OnError(terr)
		return terr
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		terr := &TransportError{Backend: "openai", StatusCode: resp.StatusCode, Body: string(respBody)}
		sink.OnError(terr)
		return terr
	}

	var model string
	var promptTokens, completionTokens, totalTokens int
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			sink.OnError(ctx.Err())
			return ctx.Err()
		default:
		}
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			sink.OnChunk("", true)
			RecordTokenAttributes(span, promptTokens, completionTokens, totalTokens)
			RecordTokenMetrics(model, promptTokens, completionTokens)
			return nil
		}
		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			log.Debug().Err(err).Str("backend", "openai").Msg("llm_stream_skip_malformed_line")
			continue
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if chunk.Usage != nil {
			promptTokens, completionTokens, totalTokens = chunk.Usage.PromptTokens, chunk.Usage.CompletionTokens, chunk.Usage.TotalTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		done := chunk.Choices[0].FinishReason != nil
		if delta != "" || done {
			sink.OnChunk(delta, done)
		}
		if done {
			RecordTokenAttributes(span, promptTokens, completionTokens, totalTokens)
			RecordTokenMetrics(model, promptTokens, completionTokens)
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		terr := &TransportError{Backend: "openai", Err: err}
		sink.OnError(terr)
		return terr
	}
	// Upstream closed the connection without [DONE] or a terminal finish_reason.
	sink.OnChunk("", true)
	return nil
}

// CheckAvailability performs a one-shot models-list probe.
func (d *OpenAIDriver) CheckAvailability(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, d.apiURL+"/models", nil)
	if err != nil {
		return false
	}
	httpReq.Header.Set("Authorization", "Bearer "+d.apiKey)
	resp, err := d.client.Do(httpReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func toLogMessages(msgs []LlmMessage) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = Message{Role: m.Role, Content: m.Content}
	}
	return out
}

// Message is the wire shape used only for redacted prompt/response logging.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
