// Package rag implements the LLM Façade (C2): provider-agnostic RAG
// primitives built atop a llm.Driver (or llm.Registry) — intent
// classification, relevance evaluation, and the answer-generation
// variants — each with an injectable prompt template and resilient JSON
// parsing of the backend's output.
package rag

// Intent values recognized on IntentDetectionResult.
const (
	IntentSearch  = "SEARCH"
	IntentFAQ     = "FAQ"
	IntentSummary = "SUMMARY"
	IntentUnclear = "UNCLEAR"
)

// IntentDetectionResult classifies a user message. Each variant carries
// exactly the fields its intent requires: Query is set for SEARCH/FAQ,
// DocumentURL for SUMMARY. An unrecognized intent value collapses to
// UNCLEAR; classifier output that cannot be parsed at all falls back to
// SEARCH with the original message as Query.
type IntentDetectionResult struct {
	Intent      string
	Query       string
	DocumentURL string
	Reasoning   string
}

// RelevanceEvaluationResult is the evaluator's judgement over a set of
// search hits. RelevantIndexes is 1-based, unique, and each entry is <=
// the number of inputs; RelevantDocIds is derived from those indexes.
// If HasRelevantResults is false both lists are empty.
type RelevanceEvaluationResult struct {
	HasRelevantResults bool
	RelevantIndexes    []int
	RelevantDocIds     []string
}
