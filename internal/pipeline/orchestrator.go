package pipeline

import (
	"context"
	"fmt"

	"ragchat/internal/adapters"
	"ragchat/internal/llm"
	"ragchat/internal/rag"
	"ragchat/internal/session"
)

// Option configures an Orchestrator at construction time.
type Option func(*Orchestrator)

// WithHistoryMaxMessages bounds how much prior conversation is fed back
// to the LLM and retained in the session (ragChatHistoryMaxMessages).
func WithHistoryMaxMessages(n int) Option {
	return func(o *Orchestrator) { o.historyMaxMessages = n }
}

// WithMaxSearchDocs bounds how many hits are requested per search call
// (ragChatContextMaxDocuments).
func WithMaxSearchDocs(n int) Option {
	return func(o *Orchestrator) { o.maxSearchDocs = n }
}

// WithContentFields sets the field list requested on full-content
// fetches (ragChatContentFields).
func WithContentFields(fields []string) Option {
	return func(o *Orchestrator) { o.contentFields = fields }
}

// WithRenderer overrides the Markdown renderer collaborator. Passing nil
// falls back to HTML-escaping, per spec §6.
func WithRenderer(r adapters.Renderer) Option {
	return func(o *Orchestrator) { o.renderer = r }
}

// Orchestrator drives the state machine in spec §4.5.
type Orchestrator struct {
	facade   *rag.Facade
	search   adapters.SearchAdapter
	sessions *session.Store
	renderer adapters.Renderer

	historyMaxMessages int
	maxSearchDocs      int
	contentFields      []string
}

// NewOrchestrator builds an Orchestrator over its collaborators.
func NewOrchestrator(facade *rag.Facade, search adapters.SearchAdapter, sessions *session.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		facade:             facade,
		search:             search,
		sessions:           sessions,
		historyMaxMessages: 20,
		maxSearchDocs:      10,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one full pipeline turn for userMessage against sessionID
// (creating a session when sessionID is empty or unknown), delivering
// phase events and token chunks to cb. On success it returns the updated
// session with the new turn appended. On failure cb.OnError is called
// exactly once and the error is returned; the session is left unmutated.
func (o *Orchestrator) Run(ctx context.Context, sessionID, userID, userMessage string, locale rag.Locale, cb PhaseCallback) (session.ChatSession, error) {
	sess := o.sessions.GetOrCreate(sessionID, userID)
	history := toLlmHistory(sess.Messages)

	intent, err := runPhase(ctx, PhaseIntent, "", cb, func() (rag.IntentDetectionResult, error) {
		return o.facade.DetectIntent(ctx, userMessage)
	})
	if err != nil {
		return session.ChatSession{}, err
	}

	switch intent.Intent {
	case rag.IntentUnclear:
		return o.answerNoRetrieval(ctx, sess.ID, userMessage, history, locale, cb, o.facade.GenerateUnclearIntentResponse)

	case rag.IntentSummary:
		return o.runSummary(ctx, sess.ID, userMessage, intent.DocumentURL, history, locale, cb)

	default: // SEARCH or FAQ
		return o.runSearchOrFaq(ctx, sess.ID, userMessage, intent, history, locale, cb)
	}
}

func (o *Orchestrator) runSummary(ctx context.Context, sessionID, userMessage, documentURL string, history []llm.LlmMessage, locale rag.Locale, cb PhaseCallback) (session.ChatSession, error) {
	hits, err := runPhase(ctx, PhaseSearch, "", cb, func() ([]adapters.Document, error) {
		return o.search.Search(ctx, adapters.ExactURLQuery(documentURL), 1, o.contentFields)
	})
	if err != nil {
		return session.ChatSession{}, err
	}

	if len(hits) == 0 {
		return o.answerNoRetrieval(ctx, sessionID, userMessage, history, locale, cb, func(ctx context.Context, _ string, locale rag.Locale, sink llm.StreamSink) error {
			return o.facade.GenerateDocumentNotFoundResponse(ctx, documentURL, locale, sink)
		})
	}

	docIDs := docIDsOf(hits)
	full, err := runPhase(ctx, PhaseFetch, "", cb, func() ([]adapters.Document, error) {
		return o.search.FetchByIds(ctx, docIDs, o.contentFields)
	})
	if err != nil {
		return session.ChatSession{}, err
	}

	content := concatContent(full)
	return o.answerStreaming(ctx, sessionID, userMessage, history, full, func(sink llm.StreamSink) error {
		return o.facade.GenerateSummaryResponse(ctx, documentURL, content, history, locale, sink)
	}, cb)
}

func (o *Orchestrator) runSearchOrFaq(ctx context.Context, sessionID, userMessage string, intent rag.IntentDetectionResult, history []llm.LlmMessage, locale rag.Locale, cb PhaseCallback) (session.ChatSession, error) {
	query := intent.Query
	if query == "" {
		query = userMessage
	}

	hits, err := runPhase(ctx, PhaseSearch, "", cb, func() ([]adapters.Document, error) {
		return o.search.Search(ctx, query, o.maxSearchDocs, o.contentFields)
	})
	if err != nil {
		return session.ChatSession{}, err
	}
	if len(hits) == 0 {
		return o.answerNoRetrieval(ctx, sessionID, userMessage, history, locale, cb, o.facade.GenerateNoResultsResponse)
	}

	evalResult, err := runPhase(ctx, PhaseEvaluate, "", cb, func() (rag.RelevanceEvaluationResult, error) {
		return o.facade.EvaluateResults(ctx, userMessage, query, hits)
	})
	if err != nil {
		return session.ChatSession{}, err
	}
	if !evalResult.HasRelevantResults {
		return o.answerNoRetrieval(ctx, sessionID, userMessage, history, locale, cb, o.facade.GenerateNoResultsResponse)
	}

	full, err := runPhase(ctx, PhaseFetch, "", cb, func() ([]adapters.Document, error) {
		return o.search.FetchByIds(ctx, evalResult.RelevantDocIds, o.contentFields)
	})
	if err != nil {
		return session.ChatSession{}, err
	}

	isFaq := intent.Intent == rag.IntentFAQ
	return o.answerStreaming(ctx, sessionID, userMessage, history, full, func(sink llm.StreamSink) error {
		if isFaq {
			return o.facade.GenerateFaqAnswerResponse(ctx, userMessage, full, history, locale, sink)
		}
		return o.facade.StreamGenerateAnswer(ctx, userMessage, full, history, locale, sink)
	}, cb)
}

// answerNoRetrieval handles every answer-producing branch that carries no
// document context (UNCLEAR, no-results, document-not-found).
func (o *Orchestrator) answerNoRetrieval(ctx context.Context, sessionID, userMessage string, history []llm.LlmMessage, locale rag.Locale, cb PhaseCallback, generate func(context.Context, string, rag.Locale, llm.StreamSink) error) (session.ChatSession, error) {
	return o.answerStreaming(ctx, sessionID, userMessage, history, nil, func(sink llm.StreamSink) error {
		return generate(ctx, userMessage, locale, sink)
	}, cb)
}

// answerStreaming drives the "answer" phase: tees the backend's streamed
// tokens to both cb and an accumulator, renders the accumulated Markdown
// to HTML on completion, and appends the turn to the session — only on
// success, per spec §4.5 and §7.
func (o *Orchestrator) answerStreaming(ctx context.Context, sessionID, userMessage string, history []llm.LlmMessage, sourceDocs []adapters.Document, generate func(llm.StreamSink) error, cb PhaseCallback) (session.ChatSession, error) {
	cb.OnPhaseStart(PhaseAnswer, phaseLabels[PhaseAnswer], "")

	var accumulated string
	sink := llm.FuncSink{
		Chunk: func(chunk string, done bool) {
			accumulated += chunk
			cb.OnChunk(chunk, done)
		},
	}

	if err := generate(sink); err != nil {
		msg := err.Error()
		cb.OnError(PhaseAnswer, msg)
		return session.ChatSession{}, fmt.Errorf("pipeline: answer phase: %w", err)
	}
	cb.OnPhaseComplete(PhaseAnswer)

	htmlContent := o.render(accumulated)
	sources := toSources(sourceDocs)

	updated := o.sessions.AppendTurn(
		sessionID,
		session.ChatMessage{Role: session.RoleUser, Content: userMessage},
		session.ChatMessage{Role: session.RoleAssistant, Content: accumulated, HTMLContent: htmlContent, Sources: sources},
		o.historyMaxMessages,
	)
	return updated, nil
}

func (o *Orchestrator) render(markdown string) string {
	if o.renderer == nil {
		return adapters.EscapeFallback(markdown)
	}
	html, err := o.renderer.Render(markdown)
	if err != nil {
		return adapters.EscapeFallback(markdown)
	}
	return html
}

// runPhase wraps a single phase's work with the OnPhaseStart/OnPhaseComplete
// envelope and the single-OnError-then-return failure contract of §7/§8.
func runPhase[T any](ctx context.Context, tag, detail string, cb PhaseCallback, work func() (T, error)) (T, error) {
	cb.OnPhaseStart(tag, phaseLabels[tag], detail)
	result, err := work()
	if err != nil {
		cb.OnError(tag, err.Error())
		var zero T
		return zero, fmt.Errorf("pipeline: %s phase: %w", tag, err)
	}
	cb.OnPhaseComplete(tag)
	return result, nil
}

func toLlmHistory(msgs []session.ChatMessage) []llm.LlmMessage {
	out := make([]llm.LlmMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, llm.LlmMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func docIDsOf(docs []adapters.Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d[adapters.FieldDocID]
	}
	return out
}

func concatContent(docs []adapters.Document) string {
	var out string
	for _, d := range docs {
		content := d[adapters.FieldContent]
		if content == "" {
			content = d[adapters.FieldContentDescription]
		}
		out += content + "\n\n"
	}
	return out
}

func toSources(docs []adapters.Document) []session.ChatSource {
	if len(docs) == 0 {
		return nil
	}
	out := make([]session.ChatSource, len(docs))
	for i, d := range docs {
		out[i] = session.ChatSource{Index: i + 1, Doc: d}
	}
	return out
}
