package rag

import (
	"strconv"
	"strings"
)

// Placeholders recognized by every prompt template. Substitution is pure
// text replacement — no compile-time template engine — so a missing or
// malformed template can never fail to render; it just contains literal
// text it shouldn't.
const (
	phUserMessage         = "{{userMessage}}"
	phQuery               = "{{query}}"
	phSearchResults       = "{{searchResults}}"
	phDocumentURL         = "{{documentUrl}}"
	phMaxRelevantDocs     = "{{maxRelevantDocs}}"
	phSystemPrompt        = "{{systemPrompt}}"
	phContext             = "{{context}}"
	phDocumentContent     = "{{documentContent}}"
	phLanguageInstruction = "{{languageInstruction}}"
)

// Default templates. Configuration is optional: every primitive below
// falls back to these when no override is supplied via Options.
const (
	defaultIntentPrompt = `You classify a user's chat message into exactly one intent.

Respond with JSON only, no prose, no code fences:
{"intent":"search|faq|summary|unclear","query":"...","url":"...","reasoning":"..."}

- "search": the user wants to find information. Put a lexical search
  expression in "query" (e.g. +term1 +term2, or "phrase", or term1 OR term2).
- "faq": the user asks a short factual question answerable from the index.
  Put the same kind of lexical expression in "query".
- "summary": the user asks to summarize a specific document by URL. Put
  the URL in "url".
- "unclear": none of the above applies, or the message is a greeting or
  too vague to act on.

User message: {{userMessage}}`

	defaultEvaluationPrompt = `Given the user's question and a list of candidate search results,
decide which results (if any) are actually relevant.

User question: {{userMessage}}
Search query used: {{query}}

Candidate results:
{{searchResults}}

Respond with JSON only, no prose, no code fences:
{"has_relevant":true|false,"relevant_indexes":[1,3]}

Include at most {{maxRelevantDocs}} indexes, ordered by relevance.`

	defaultAnswerSystemPrompt = `{{systemPrompt}}

Answer the user's question using only the information in the context
below. Cite sources by their bracketed number, e.g. [1]. If the context
does not contain the answer, say so plainly instead of guessing.
{{languageInstruction}}

Context:
{{context}}`

	defaultFaqSystemPrompt = `{{systemPrompt}}

Answer the user's question concisely, in one or two sentences, using only
the information in the context below. Cite the source bracketed number.
{{languageInstruction}}

Context:
{{context}}`

	defaultSummaryPrompt = `{{systemPrompt}}

Summarize the following document faithfully. Do not use any outside
knowledge; rely only on the document content below.
{{languageInstruction}}

Document: {{documentUrl}}

Content:
{{documentContent}}`

	defaultUnclearPrompt = `{{systemPrompt}}

The user's message was unclear or too vague to act on. Ask a brief,
friendly clarifying question about what they'd like to know.
{{languageInstruction}}

User message: {{userMessage}}`

	defaultNoResultsPrompt = `{{systemPrompt}}

No relevant documents were found for the user's question. Say so plainly
and, if useful, suggest how they might rephrase the question.
{{languageInstruction}}

User message: {{userMessage}}`

	defaultDocumentNotFoundPrompt = `{{systemPrompt}}

The document at {{documentUrl}} could not be found. Let the user know it
could not be located and ask them to double check the URL.
{{languageInstruction}}`

	defaultDirectAnswerPrompt = `{{systemPrompt}}

Answer the user's message directly and helpfully, without document
context.
{{languageInstruction}}

User message: {{userMessage}}`
)

// Templates holds the (possibly overridden) prompt text for every RAG
// primitive. A zero-value Templates is valid: every accessor falls back
// to the built-in default for an empty field.
type Templates struct {
	Intent           string
	Evaluation       string
	Answer           string
	Faq              string
	Summary          string
	Unclear          string
	NoResults        string
	DocumentNotFound string
	DirectAnswer     string
}

func (t Templates) intent() string {
	return orDefault(t.Intent, defaultIntentPrompt)
}

func (t Templates) evaluation() string {
	return orDefault(t.Evaluation, defaultEvaluationPrompt)
}

func (t Templates) answer() string {
	return orDefault(t.Answer, defaultAnswerSystemPrompt)
}

func (t Templates) faq() string {
	return orDefault(t.Faq, defaultFaqSystemPrompt)
}

func (t Templates) summary() string {
	return orDefault(t.Summary, defaultSummaryPrompt)
}

func (t Templates) unclear() string {
	return orDefault(t.Unclear, defaultUnclearPrompt)
}

func (t Templates) noResults() string {
	return orDefault(t.NoResults, defaultNoResultsPrompt)
}

func (t Templates) documentNotFound() string {
	return orDefault(t.DocumentNotFound, defaultDocumentNotFoundPrompt)
}

func (t Templates) directAnswer() string {
	return orDefault(t.DirectAnswer, defaultDirectAnswerPrompt)
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// languageInstruction returns "" for English locales, otherwise the
// fixed imperative sentence naming the display language.
func languageInstruction(locale, displayLanguage string) string {
	if locale == "" || strings.EqualFold(locale, "en") || strings.HasPrefix(strings.ToLower(locale), "en-") {
		return ""
	}
	if displayLanguage == "" {
		return ""
	}
	return "IMPORTANT: You MUST respond in " + displayLanguage + "."
}

// substitutions is the full set of placeholder values for one render.
// Fields left as their zero value substitute as "".
type substitutions struct {
	userMessage         string
	query               string
	searchResults       string
	documentURL         string
	maxRelevantDocs     int
	systemPrompt        string
	context             string
	documentContent     string
	languageInstruction string
}

// render performs pure text substitution of every recognized placeholder
// in tmpl. Placeholders not present in tmpl are simply ignored.
func render(tmpl string, s substitutions) string {
	replacer := strings.NewReplacer(
		phUserMessage, s.userMessage,
		phQuery, s.query,
		phSearchResults, s.searchResults,
		phDocumentURL, s.documentURL,
		phMaxRelevantDocs, strconv.Itoa(s.maxRelevantDocs),
		phSystemPrompt, s.systemPrompt,
		phContext, s.context,
		phDocumentContent, s.documentContent,
		phLanguageInstruction, s.languageInstruction,
	)
	return replacer.Replace(tmpl)
}
