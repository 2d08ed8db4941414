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

// GeminiDriver talks to the Google Generative Language API. The API key is
// a query parameter and the action (generateContent /
// streamGenerateContent) is part of the path, after the model name.
type GeminiDriver struct {
	apiURL  string // defaults to the public Gemini endpoint when empty
	apiKey  string
	model   string
	timeout time.Duration
	client  *http.Client
}

const defaultGeminiAPIURL = "https://generativelanguage.googleapis.com/v1beta"

// NewGeminiDriver constructs a driver. apiURL may be empty to use the
// public Google endpoint (useful for pointing at a compatible proxy).
func NewGeminiDriver(apiURL, apiKey, model string, timeout time.Duration) (*GeminiDriver, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, &ConfigError{Backend: "gemini", Msg: "apiKey is required"}
	}
	if strings.TrimSpace(model) == "" {
		return nil, &ConfigError{Backend: "gemini", Msg: "model is required"}
	}
	if apiURL == "" {
		apiURL = defaultGeminiAPIURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &GeminiDriver{
		apiURL:  strings.TrimRight(apiURL, "/"),
		apiKey:  apiKey,
		model:   model,
		timeout: timeout,
		client:  observability.NewHTTPClient(nil),
	}, nil
}

func (d *GeminiDriver) Name() string { return "gemini" }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	GenerationConfig  struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig"`
}

// buildBody converts provider-agnostic messages to Gemini's wire shape.
// The assistant role is wire-named "model"; system messages are
// newline-joined into systemInstruction rather than appearing in contents.
func (d *GeminiDriver) buildBody(req LlmChatRequest) geminiRequest {
	var sys []string
	var contents []geminiContent
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			sys = append(sys, m.Content)
		case RoleAssistant:
			contents = append(contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}
	body := geminiRequest{Contents: contents}
	if len(sys) > 0 {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: strings.Join(sys, "\n")}}}
	}
	body.GenerationConfig.Temperature = req.Temperature
	if req.MaxTokens > 0 {
		body.GenerationConfig.MaxOutputTokens = req.MaxTokens
	}
	return body
}

func (d *GeminiDriver) modelName(req LlmChatRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return d.model
}

func (d *GeminiDriver) endpoint(model, action string) string {
	return fmt.Sprintf("%s/models/%s:%s?key=%s", d.apiURL, model, action, d.apiKey)
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

func (d *GeminiDriver) Chat(ctx context.Context, req LlmChatRequest) (LlmChatResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	ctx, span := StartRequestSpan(ctx, "llm.chat", req.Model, 0, len(req.Messages))
	defer span.End()

	model := d.modelName(req)
	body, err := json.Marshal(d.buildBody(req))
	if err != nil {
		return LlmChatResponse{}, fmt.Errorf("llm: gemini: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint(model, "generateContent"), bytes.NewReader(body))
	if err != nil {
		return LlmChatResponse{}, fmt.Errorf("llm: gemini: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return LlmChatResponse{}, &TransportError{Backend: "gemini", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return LlmChatResponse{}, &TransportError{Backend: "gemini", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return LlmChatResponse{}, &TransportError{Backend: "gemini", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return LlmChatResponse{}, &ProtocolError{Backend: "gemini", Err: err}
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return LlmChatResponse{}, &ProtocolError{Backend: "gemini", Err: fmt.Errorf("no candidates in response")}
	}
	out := LlmChatResponse{
		Content:          parsed.Candidates[0].Content.Parts[0].Text,
		Model:            model,
		FinishReason:     parsed.Candidates[0].FinishReason,
		PromptTokens:     parsed.UsageMetadata.PromptTokenCount,
		CompletionTokens: parsed.UsageMetadata.CandidatesTokenCount,
		TotalTokens:      parsed.UsageMetadata.TotalTokenCount,
	}
	RecordTokenAttributes(span, out.PromptTokens, out.CompletionTokens, out.TotalTokens)
	RecordTokenMetrics(out.Model, out.PromptTokens, out.CompletionTokens)
	return out, nil
}

// StreamChat reads Gemini's streamed JSON array response line by line.
// Lines equal to "[", "]", "," or starting with "," are structural
// separators and are skipped/stripped; the remainder is one JSON object.
func (d *GeminiDriver) StreamChat(ctx context.Context, req LlmChatRequest, sink StreamSink) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	ctx, span := StartRequestSpan(ctx, "llm.stream_chat", req.Model, 0, len(req.Messages))
	defer span.End()

	model := d.modelName(req)
	body, err := json.Marshal(d.buildBody(req))
	if err != nil {
		err = fmt.Errorf("llm: gemini: marshal request: %w", err)
		sink.OnError(err)
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint(model, "streamGenerateContent"), bytes.NewReader(body))
	if err != nil {
		err = fmt.Errorf("llm: gemini: build request: %w", err)
		sink.OnError(err)
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		terr := &TransportError{Backend: "gemini", Err: err}
		sink.OnError(terr)
		return terr
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		terr := &TransportError{Backend: "gemini", StatusCode: resp.StatusCode, Body: string(respBody)}
		sink.OnError(terr)
		return terr
	}

	var promptTokens, completionTokens, totalTokens int
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	doneSent := false
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			sink.OnError(ctx.Err())
			return ctx.Err()
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line == "[" || line == "]" || line == "," {
			continue
		}
		line = strings.TrimPrefix(line, ",")
		line = strings.TrimSuffix(line, ",")
		if line == "" {
			continue
		}
		var chunk geminiResponse
		if err := json.Unmarshal([]byte(line), &chunk); err != nil {
			log.Debug().Err(err).Str("backend", "gemini").Msg("llm_stream_skip_malformed_line")
			continue
		}
		if chunk.UsageMetadata.TotalTokenCount > 0 {
			promptTokens, completionTokens, totalTokens = chunk.UsageMetadata.PromptTokenCount, chunk.UsageMetadata.CandidatesTokenCount, chunk.UsageMetadata.TotalTokenCount
		}
		if len(chunk.Candidates) == 0 {
			continue
		}
		text := ""
		if len(chunk.Candidates[0].Content.Parts) > 0 {
			text = chunk.Candidates[0].Content.Parts[0].Text
		}
		done := chunk.Candidates[0].FinishReason != ""
		if text != "" || done {
			if done {
				doneSent = true
			}
			sink.OnChunk(text, done)
		}
	}
	if err := scanner.Err(); err != nil {
		terr := &TransportError{Backend: "gemini", Err: err}
		sink.OnError(terr)
		return terr
	}
	RecordTokenAttributes(span, promptTokens, completionTokens, totalTokens)
	RecordTokenMetrics(model, promptTokens, completionTokens)
	if !doneSent {
		sink.OnChunk("", true)
	}
	return nil
}

// CheckAvailability performs a minimal generateContent probe with a short
// prompt, treating any non-5xx response as reachable.
func (d *GeminiDriver) CheckAvailability(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	body, _ := json.Marshal(d.buildBody(LlmChatRequest{Messages: []LlmMessage{{Role: RoleUser, Content: "ping"}}, MaxTokens: 1}))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint(d.model, "generateContent"), bytes.NewReader(body))
	if err != nil {
		return false
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(httpReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}
