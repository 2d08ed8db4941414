package rag

import (
	"context"
	"strconv"
	"strings"

	"ragchat/internal/adapters"
	"ragchat/internal/llm"
)

// ChatBackend is the subset of llm.Driver / llm.Registry the façade
// depends on. Both satisfy it.
type ChatBackend interface {
	Chat(ctx context.Context, req llm.LlmChatRequest) (llm.LlmChatResponse, error)
	StreamChat(ctx context.Context, req llm.LlmChatRequest, sink llm.StreamSink) error
}

// Locale carries the caller's language preference, propagated into every
// generated prompt as {{languageInstruction}}.
type Locale struct {
	Code        string // e.g. "en", "ja"
	DisplayName string // e.g. "Japanese"; used only when Code is non-English
}

// Option configures a Facade at construction time, following the
// teacher's functional-options pattern for service construction.
type Option func(*Facade)

// WithTemplates overrides the default prompt templates.
func WithTemplates(t Templates) Option {
	return func(f *Facade) { f.templates = t }
}

// WithSystemPrompt sets the base system prompt substituted into
// {{systemPrompt}} for the answer/FAQ/summary templates.
func WithSystemPrompt(p string) Option {
	return func(f *Facade) { f.systemPrompt = p }
}

// WithTemperature sets the sampling temperature used for every request.
func WithTemperature(t float64) Option {
	return func(f *Facade) { f.temperature = t }
}

// WithMaxTokens bounds generated output length.
func WithMaxTokens(n int) Option {
	return func(f *Facade) { f.maxTokens = n }
}

// WithMaxContextChars caps the context block built for answer generation.
func WithMaxContextChars(n int) Option {
	return func(f *Facade) { f.maxContextChars = n }
}

// WithMaxRelevantDocs caps how many relevant indexes the evaluator may
// return.
func WithMaxRelevantDocs(n int) Option {
	return func(f *Facade) { f.maxRelevantDocs = n }
}

// Facade implements C2: provider-agnostic RAG primitives atop a
// ChatBackend.
type Facade struct {
	backend         ChatBackend
	templates       Templates
	systemPrompt    string
	temperature     float64
	maxTokens       int
	maxContextChars int
	maxRelevantDocs int
}

// NewFacade builds a Facade over backend with sane defaults, overridden
// by opts.
func NewFacade(backend ChatBackend, opts ...Option) *Facade {
	f := &Facade{
		backend:         backend,
		temperature:     0.7,
		maxTokens:       1024,
		maxContextChars: 8000,
		maxRelevantDocs: 5,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Facade) chatRequest(messages []llm.LlmMessage, stream bool) llm.LlmChatRequest {
	return llm.LlmChatRequest{
		Messages:    messages,
		Temperature: f.temperature,
		MaxTokens:   f.maxTokens,
		Stream:      stream,
	}
}

// DetectIntent classifies userMessage with a single-shot non-streaming
// call, parsing the result with the resilient extractor in extract.go.
func (f *Facade) DetectIntent(ctx context.Context, userMessage string) (IntentDetectionResult, error) {
	prompt := render(f.templates.intent(), substitutions{userMessage: userMessage})
	resp, err := f.backend.Chat(ctx, f.chatRequest([]llm.LlmMessage{{Role: llm.RoleUser, Content: prompt}}, false))
	if err != nil {
		return IntentDetectionResult{}, err
	}
	return parseIntent(resp.Content, userMessage), nil
}

// EvaluateResults formats each hit as "[i] Title:.../Description:..." and
// asks the backend which are relevant, capping the result at
// maxRelevantDocs and mapping indexes back to doc_id.
func (f *Facade) EvaluateResults(ctx context.Context, userMessage, query string, hits []adapters.Document) (RelevanceEvaluationResult, error) {
	if len(hits) == 0 {
		return RelevanceEvaluationResult{}, nil
	}
	docIDs := make([]string, len(hits))
	for i, h := range hits {
		docIDs[i] = h[adapters.FieldDocID]
	}

	prompt := render(f.templates.evaluation(), substitutions{
		userMessage:     userMessage,
		query:           query,
		searchResults:   formatHitsForEvaluation(hits),
		maxRelevantDocs: f.maxRelevantDocs,
	})
	resp, err := f.backend.Chat(ctx, f.chatRequest([]llm.LlmMessage{{Role: llm.RoleUser, Content: prompt}}, false))
	if err != nil {
		return RelevanceEvaluationResult{}, err
	}
	return parseEvaluation(resp.Content, docIDs, f.maxRelevantDocs), nil
}

func formatHitsForEvaluation(hits []adapters.Document) string {
	var b strings.Builder
	for i, h := range hits {
		b.WriteString("[")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString("] Title: ")
		b.WriteString(h[adapters.FieldTitle])
		b.WriteString(" / Description: ")
		b.WriteString(h[adapters.FieldContentDescription])
		b.WriteString("\n")
	}
	return b.String()
}

// buildContext concatenates each document as "[i] title / URL / content"
// (falling back to content_description when content is empty) and
// truncates to maxContextChars, appending "..." when truncated.
func buildContext(documents []adapters.Document, maxContextChars int) string {
	var b strings.Builder
	for i, d := range documents {
		content := d[adapters.FieldContent]
		if strings.TrimSpace(content) == "" {
			content = d[adapters.FieldContentDescription]
		}
		b.WriteString("[")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString("] ")
		b.WriteString(d[adapters.FieldTitle])
		b.WriteString(" / ")
		b.WriteString(d[adapters.FieldURL])
		b.WriteString(" / ")
		b.WriteString(content)
		b.WriteString("\n")
	}
	out := b.String()
	runes := []rune(out)
	if maxContextChars > 0 && len(runes) > maxContextChars {
		out = string(runes[:maxContextChars]) + "..."
	}
	return out
}

func (f *Facade) messagesFor(systemPrompt string, history []llm.LlmMessage, userMessage string) []llm.LlmMessage {
	out := make([]llm.LlmMessage, 0, len(history)+2)
	out = append(out, llm.LlmMessage{Role: llm.RoleSystem, Content: systemPrompt})
	out = append(out, history...)
	out = append(out, llm.LlmMessage{Role: llm.RoleUser, Content: userMessage})
	return out
}

// GenerateAnswer produces a grounded answer non-streaming.
func (f *Facade) GenerateAnswer(ctx context.Context, userMessage string, documents []adapters.Document, history []llm.LlmMessage, locale Locale) (llm.LlmChatResponse, error) {
	sys := f.renderAnswerSystem(f.templates.answer(), documents, locale)
	return f.backend.Chat(ctx, f.chatRequest(f.messagesFor(sys, history, userMessage), false))
}

// StreamGenerateAnswer is the streaming counterpart of GenerateAnswer.
func (f *Facade) StreamGenerateAnswer(ctx context.Context, userMessage string, documents []adapters.Document, history []llm.LlmMessage, locale Locale, sink llm.StreamSink) error {
	sys := f.renderAnswerSystem(f.templates.answer(), documents, locale)
	return f.backend.StreamChat(ctx, f.chatRequest(f.messagesFor(sys, history, userMessage), true), sink)
}

// GenerateFaqAnswerResponse is GenerateAnswer's FAQ-prompt variant.
func (f *Facade) GenerateFaqAnswerResponse(ctx context.Context, userMessage string, documents []adapters.Document, history []llm.LlmMessage, locale Locale, sink llm.StreamSink) error {
	sys := f.renderAnswerSystem(f.templates.faq(), documents, locale)
	return f.backend.StreamChat(ctx, f.chatRequest(f.messagesFor(sys, history, userMessage), true), sink)
}

func (f *Facade) renderAnswerSystem(tmpl string, documents []adapters.Document, locale Locale) string {
	return render(tmpl, substitutions{
		systemPrompt:        f.systemPrompt,
		context:             buildContext(documents, f.maxContextChars),
		languageInstruction: languageInstruction(locale.Code, locale.DisplayName),
	})
}

// GenerateSummaryResponse feeds full document content instead of a
// context block; the summary system prompt forbids outside knowledge.
func (f *Facade) GenerateSummaryResponse(ctx context.Context, documentURL, documentContent string, history []llm.LlmMessage, locale Locale, sink llm.StreamSink) error {
	sys := render(f.templates.summary(), substitutions{
		systemPrompt:        f.systemPrompt,
		documentURL:         documentURL,
		documentContent:     documentContent,
		languageInstruction: languageInstruction(locale.Code, locale.DisplayName),
	})
	userMessage := "Summarize " + documentURL
	return f.backend.StreamChat(ctx, f.chatRequest(f.messagesFor(sys, history, userMessage), true), sink)
}

// GenerateUnclearIntentResponse generates a clarification question; no
// document context is used.
func (f *Facade) GenerateUnclearIntentResponse(ctx context.Context, userMessage string, locale Locale, sink llm.StreamSink) error {
	sys := render(f.templates.unclear(), substitutions{
		systemPrompt:        f.systemPrompt,
		languageInstruction: languageInstruction(locale.Code, locale.DisplayName),
		userMessage:         userMessage,
	})
	return f.backend.StreamChat(ctx, f.chatRequest(f.messagesFor(sys, nil, userMessage), true), sink)
}

// GenerateNoResultsResponse generates an apology/guess-not-found response
// when the search/evaluation phase yielded no relevant hits.
func (f *Facade) GenerateNoResultsResponse(ctx context.Context, userMessage string, locale Locale, sink llm.StreamSink) error {
	sys := render(f.templates.noResults(), substitutions{
		systemPrompt:        f.systemPrompt,
		languageInstruction: languageInstruction(locale.Code, locale.DisplayName),
		userMessage:         userMessage,
	})
	return f.backend.StreamChat(ctx, f.chatRequest(f.messagesFor(sys, nil, userMessage), true), sink)
}

// GenerateDocumentNotFoundResponse generates a response for a SUMMARY
// request whose URL matched nothing in the index.
func (f *Facade) GenerateDocumentNotFoundResponse(ctx context.Context, documentURL string, locale Locale, sink llm.StreamSink) error {
	sys := render(f.templates.documentNotFound(), substitutions{
		systemPrompt:        f.systemPrompt,
		documentURL:         documentURL,
		languageInstruction: languageInstruction(locale.Code, locale.DisplayName),
	})
	return f.backend.StreamChat(ctx, f.chatRequest(f.messagesFor(sys, nil, "Summarize "+documentURL), true), sink)
}

// GenerateDirectAnswer answers without document context, used when no
// retrieval step applies.
func (f *Facade) GenerateDirectAnswer(ctx context.Context, userMessage string, locale Locale, sink llm.StreamSink) error {
	sys := render(f.templates.directAnswer(), substitutions{
		systemPrompt:        f.systemPrompt,
		languageInstruction: languageInstruction(locale.Code, locale.DisplayName),
		userMessage:         userMessage,
	})
	return f.backend.StreamChat(ctx, f.chatRequest(f.messagesFor(sys, nil, userMessage), true), sink)
}
