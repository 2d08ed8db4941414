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

// OllamaDriver talks to a local Ollama daemon: POST {apiURL}/api/chat with
// no auth, NDJSON streaming.
type OllamaDriver struct {
	apiURL  string
	model   string
	timeout time.Duration
	client  *http.Client
}

// NewOllamaDriver constructs a driver. model may be empty; a request-level
// model always takes precedence.
func NewOllamaDriver(apiURL, model string, timeout time.Duration) (*OllamaDriver, error) {
	if strings.TrimSpace(apiURL) == "" {
		return nil, &ConfigError{Backend: "ollama", Msg: "apiUrl is required"}
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OllamaDriver{
		apiURL:  strings.TrimRight(apiURL, "/"),
		model:   model,
		timeout: timeout,
		client:  observability.NewHTTPClient(nil),
	}, nil
}

func (d *OllamaDriver) Name() string { return "ollama" }

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

func (d *OllamaDriver) modelName(req LlmChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return d.model
}

func (d *OllamaDriver) buildBody(req LlmChatRequest, stream bool) ollamaRequest {
	msgs := make([]ollamaMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, ollamaMessage{Role: m.Role, Content: m.Content})
	}
	return ollamaRequest{
		Model:    d.modelName(req),
		Messages: msgs,
		Stream:   stream,
		Options:  ollamaOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens},
	}
}

type ollamaResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done            bool `json:"done"`
	PromptEvalCount int  `json:"prompt_eval_count"`
	EvalCount       int  `json:"eval_count"`
}

func (d *OllamaDriver) Chat(ctx context.Context, req LlmChatRequest) (LlmChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	ctx, span := StartRequestSpan(ctx, "llm.chat", req.Model, 0, len(req.Messages))
	defer span.End()

	body, err := json.Marshal(d.buildBody(req, false))
	if err != nil {
		return LlmChatResponse{}, fmt.Errorf("llm: ollama: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.apiURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return LlmChatResponse{}, fmt.Errorf("llm: ollama: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return LlmChatResponse{}, &TransportError{Backend: "ollama", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return LlmChatResponse{}, &TransportError{Backend: "ollama", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return LlmChatResponse{}, &TransportError{Backend: "ollama", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var parsed ollamaResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return LlmChatResponse{}, &ProtocolError{Backend: "ollama", Err: err}
	}
	finish := "stop"
	if !parsed.Done {
		finish = "length"
	}
	out := LlmChatResponse{
		Content:          parsed.Message.Content,
		Model:            d.modelName(req),
		FinishReason:     finish,
		PromptTokens:     parsed.PromptEvalCount,
		CompletionTokens: parsed.EvalCount,
		TotalTokens:      parsed.PromptEvalCount + parsed.EvalCount,
	}
	RecordTokenAttributes(span, out.PromptTokens, out.CompletionTokens, out.TotalTokens)
	RecordTokenMetrics(out.Model, out.PromptTokens, out.CompletionTokens)
	return out, nil
}

// StreamChat reads newline-delimited JSON objects, each carrying
// message.content and a boolean done.
func (d *OllamaDriver) StreamChat(ctx context.Context, req LlmChatRequest, sink StreamSink) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	ctx, span := StartRequestSpan(ctx, "llm.stream_chat", req.Model, 0, len(req.Messages))
	defer span.End()

	body, err := json.Marshal(d.buildBody(req, true))
	if err != nil {
		err = fmt.Errorf("llm: ollama: marshal request: %w", err)
		sink.OnError(err)
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.apiURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		err = fmt.Errorf("llm: ollama: build request: %w", err)
		sink.OnError(err)
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		terr := &TransportError{Backend: "ollama", Err: err}
		sink.OnError(terr)
		return terr
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		terr := &TransportError{Backend: "ollama", StatusCode: resp.StatusCode, Body: string(respBody)}
		sink.OnError(terr)
		return terr
	}

	model := d.modelName(req)
	var promptTokens, completionTokens int
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			sink.OnError(ctx.Err())
			return ctx.Err()
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var chunk ollamaResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			log.Debug().Err(err).Str("backend", "ollama").Msg("llm_stream_skip_malformed_line")
			continue
		}
		if chunk.Done {
			promptTokens, completionTokens = chunk.PromptEvalCount, chunk.EvalCount
		}
		sink.OnChunk(chunk.Message.Content, chunk.Done)
		if chunk.Done {
			RecordTokenAttributes(span, promptTokens, completionTokens, promptTokens+completionTokens)
			RecordTokenMetrics(model, promptTokens, completionTokens)
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		terr := &TransportError{Backend: "ollama", Err: err}
		sink.OnError(terr)
		return terr
	}
	sink.OnChunk("", true)
	return nil
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// CheckAvailability calls GET /api/tags; if a model is configured, the
// probe additionally requires that model name to appear in the tags list.
func (d *OllamaDriver) CheckAvailability(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, d.apiURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := d.client.Do(httpReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}
	if d.model == "" {
		return true
	}
	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}
	for _, m := range tags.Models {
		if m.Name == d.model {
			return true
		}
	}
	return false
}
