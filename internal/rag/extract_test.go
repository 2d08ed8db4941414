package rag

import (
	"testing"

	"ragchat/internal/adapters"

	"github.com/stretchr/testify/assert"
)

func TestParseIntent_WellFormedJSON(t *testing.T) {
	got := parseIntent(`{"intent":"search","query":"+Fess +Docker","reasoning":"wants install help"}`, "How to install Fess on Docker")
	assert.Equal(t, IntentSearch, got.Intent)
	assert.Equal(t, "+Fess +Docker", got.Query)
}

func TestParseIntent_CodeFenced(t *testing.T) {
	raw := "```json\n{\"intent\":\"summary\",\"url\":\"https://x/y\"}\n```"
	got := parseIntent(raw, "summarize please")
	assert.Equal(t, IntentSummary, got.Intent)
	assert.Equal(t, "https://x/y", got.DocumentURL)
}

func TestParseIntent_RegexFallback(t *testing.T) {
	raw := `not quite json but "intent": "faq" and "query": "refund policy" somewhere`
	got := parseIntent(raw, "what's your refund policy")
	assert.Equal(t, IntentFAQ, got.Intent)
	assert.Equal(t, "refund policy", got.Query)
}

func TestParseIntent_MalformedFallsBackToSearch(t *testing.T) {
	got := parseIntent("I cannot classify this", "How to install Fess")
	assert.Equal(t, IntentSearch, got.Intent)
	assert.Equal(t, "How to install Fess", got.Query)
	assert.NotEmpty(t, got.Reasoning)
}

func TestParseIntent_SearchWithoutQueryFallsBackToMessage(t *testing.T) {
	got := parseIntent(`{"intent":"search"}`, "original message")
	assert.Equal(t, IntentSearch, got.Intent)
	assert.Equal(t, "original message", got.Query)
}

func TestIntentRoundTrip(t *testing.T) {
	cases := []IntentDetectionResult{
		{Intent: IntentSearch, Query: "+a +b", Reasoning: "r"},
		{Intent: IntentFAQ, Query: "refunds"},
		{Intent: IntentSummary, DocumentURL: "https://x/y"},
		{Intent: IntentUnclear},
	}
	for _, c := range cases {
		rendered := renderIntent(c)
		got := parseIntent(rendered, "fallback message")
		assert.Equal(t, c, got, rendered)
	}
}

func TestParseEvaluation_CodeFenced(t *testing.T) {
	raw := "```json\n{\"has_relevant\":true,\"relevant_indexes\":[1,3]}\n```"
	got := parseEvaluation(raw, []string{"a", "b", "c"}, 5)
	assert.True(t, got.HasRelevantResults)
	assert.Equal(t, []int{1, 3}, got.RelevantIndexes)
	assert.Equal(t, []string{"a", "c"}, got.RelevantDocIds)
}

func TestParseEvaluation_CapsAtMaxRelevantDocs(t *testing.T) {
	raw := `{"has_relevant":true,"relevant_indexes":[1,2,3,4]}`
	got := parseEvaluation(raw, []string{"a", "b", "c", "d"}, 2)
	assert.Equal(t, []int{1, 2}, got.RelevantIndexes)
}

func TestParseEvaluation_DropsOutOfRangeIndexes(t *testing.T) {
	raw := `{"has_relevant":true,"relevant_indexes":[0,1,99]}`
	got := parseEvaluation(raw, []string{"a", "b"}, 5)
	assert.Equal(t, []int{1}, got.RelevantIndexes)
	assert.Equal(t, []string{"a"}, got.RelevantDocIds)
}

func TestParseEvaluation_AllIndexesOutOfRangeFallsBackToAllRelevant(t *testing.T) {
	raw := `{"has_relevant":true,"relevant_indexes":[0,99]}`
	got := parseEvaluation(raw, []string{"a", "b", "c"}, 5)
	assert.True(t, got.HasRelevantResults)
	assert.Equal(t, []int{1, 2, 3}, got.RelevantIndexes)
	assert.Equal(t, []string{"a", "b", "c"}, got.RelevantDocIds)
}

func TestParseEvaluation_NotRelevantReturnsEmpty(t *testing.T) {
	got := parseEvaluation(`{"has_relevant":false}`, []string{"a", "b"}, 5)
	assert.False(t, got.HasRelevantResults)
	assert.Empty(t, got.RelevantIndexes)
	assert.Empty(t, got.RelevantDocIds)
}

func TestParseEvaluation_MalformedFallsBackToAllRelevant(t *testing.T) {
	got := parseEvaluation("garbage", []string{"a", "b", "c"}, 5)
	assert.True(t, got.HasRelevantResults)
	assert.Equal(t, []int{1, 2, 3}, got.RelevantIndexes)
	assert.Equal(t, []string{"a", "b", "c"}, got.RelevantDocIds)
}

func TestLanguageInstruction(t *testing.T) {
	assert.Empty(t, languageInstruction("en", ""))
	assert.Empty(t, languageInstruction("", "Japanese"))
	assert.Equal(t, "IMPORTANT: You MUST respond in Japanese.", languageInstruction("ja", "Japanese"))
}

func TestBuildContext_TruncatesWithEllipsis(t *testing.T) {
	docs := []adapters.Document{
		{adapters.FieldTitle: "T", adapters.FieldURL: "u", adapters.FieldContent: "0123456789"},
	}
	out := buildContext(docs, 5)
	assert.True(t, len(out) > 5)
	assert.Contains(t, out, "...")
}

func TestBuildContext_FallsBackToDescription(t *testing.T) {
	docs := []adapters.Document{
		{adapters.FieldTitle: "T", adapters.FieldURL: "u", adapters.FieldContentDescription: "desc"},
	}
	out := buildContext(docs, 1000)
	assert.Contains(t, out, "desc")
}
