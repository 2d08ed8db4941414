package rag

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

var codeFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// stripCodeFence removes a surrounding ```json ... ``` or ``` ... ```
// fence, if present, returning the inner text unchanged otherwise.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

type intentJSON struct {
	Intent    string `json:"intent"`
	Query     string `json:"query"`
	URL       string `json:"url"`
	Reasoning string `json:"reasoning"`
}

var (
	intentFieldRe = regexp.MustCompile(`(?i)"intent"\s*:\s*"([a-z]+)"`)
	queryFieldRe  = regexp.MustCompile(`(?i)"query"\s*:\s*"([^"]*)"`)
	urlFieldRe    = regexp.MustCompile(`(?i)"url"\s*:\s*"([^"]*)"`)
)

// parseIntent extracts an IntentDetectionResult from raw classifier
// output: strip code fences, attempt a structured parse, fall back to
// field-specific regex, and finally fall back to SEARCH with the original
// message as Query (an unrecognized intent value that did parse becomes
// UNCLEAR). Never returns an error; that is the
// point — classification failures are recovered here and never escape
// the façade (spec §7).
func parseIntent(raw, originalMessage string) IntentDetectionResult {
	body := stripCodeFence(raw)

	var parsed intentJSON
	if err := json.Unmarshal([]byte(body), &parsed); err == nil && parsed.Intent != "" {
		return normalizeIntent(parsed, originalMessage)
	}

	var fallback intentJSON
	if m := intentFieldRe.FindStringSubmatch(body); m != nil {
		fallback.Intent = m[1]
	}
	if m := queryFieldRe.FindStringSubmatch(body); m != nil {
		fallback.Query = m[1]
	}
	if m := urlFieldRe.FindStringSubmatch(body); m != nil {
		fallback.URL = m[1]
	}
	if fallback.Intent != "" {
		return normalizeIntent(fallback, originalMessage)
	}

	return IntentDetectionResult{
		Intent:    IntentSearch,
		Query:     originalMessage,
		Reasoning: "classifier output could not be parsed; falling back to SEARCH with the original message",
	}
}

func normalizeIntent(parsed intentJSON, originalMessage string) IntentDetectionResult {
	switch strings.ToLower(strings.TrimSpace(parsed.Intent)) {
	case "search":
		query := parsed.Query
		if strings.TrimSpace(query) == "" {
			query = originalMessage
		}
		return IntentDetectionResult{Intent: IntentSearch, Query: query, Reasoning: parsed.Reasoning}
	case "faq":
		query := parsed.Query
		if strings.TrimSpace(query) == "" {
			query = originalMessage
		}
		return IntentDetectionResult{Intent: IntentFAQ, Query: query, Reasoning: parsed.Reasoning}
	case "summary":
		return IntentDetectionResult{Intent: IntentSummary, DocumentURL: parsed.URL, Reasoning: parsed.Reasoning}
	default:
		return IntentDetectionResult{Intent: IntentUnclear, Reasoning: parsed.Reasoning}
	}
}

// renderIntent is the inverse of parseIntent for the well-formed cases,
// used to check the round-trip property in §8 (parseIntent(renderIntent(x))
// == x for every valid IntentDetectionResult).
func renderIntent(r IntentDetectionResult) string {
	obj := map[string]string{"intent": strings.ToLower(r.Intent)}
	if r.Query != "" {
		obj["query"] = r.Query
	}
	if r.DocumentURL != "" {
		obj["url"] = r.DocumentURL
	}
	if r.Reasoning != "" {
		obj["reasoning"] = r.Reasoning
	}
	b, _ := json.Marshal(obj)
	return string(b)
}

type evaluationJSON struct {
	HasRelevant     bool  `json:"has_relevant"`
	RelevantIndexes []int `json:"relevant_indexes"`
}

var (
	hasRelevantFieldRe = regexp.MustCompile(`(?i)"has_relevant"\s*:\s*(true|false)`)
	indexesFieldRe     = regexp.MustCompile(`(?i)"relevant_indexes"\s*:\s*\[([^\]]*)\]`)
	indexNumberRe      = regexp.MustCompile(`-?\d+`)
)

// parseEvaluation extracts a RelevanceEvaluationResult from raw evaluator
// output against the candidate hits' docIDs, capping the index list at
// maxRelevantDocs. On any parse failure, or when no listed index survives
// range and duplicate filtering, it returns an all-relevant fallback over
// every input doc id.
func parseEvaluation(raw string, docIDs []string, maxRelevantDocs int) RelevanceEvaluationResult {
	body := stripCodeFence(raw)

	var parsed evaluationJSON
	ok := false
	if err := json.Unmarshal([]byte(body), &parsed); err == nil {
		ok = true
	} else if m := hasRelevantFieldRe.FindStringSubmatch(body); m != nil {
		parsed.HasRelevant = m[1] == "true"
		if im := indexesFieldRe.FindStringSubmatch(body); im != nil {
			for _, n := range indexNumberRe.FindAllString(im[1], -1) {
				if v, convErr := strconv.Atoi(n); convErr == nil {
					parsed.RelevantIndexes = append(parsed.RelevantIndexes, v)
				}
			}
		}
		ok = true
	}

	if !ok {
		return allRelevant(docIDs)
	}
	if !parsed.HasRelevant {
		return RelevanceEvaluationResult{}
	}

	indexes := make([]int, 0, len(parsed.RelevantIndexes))
	seen := make(map[int]bool, len(parsed.RelevantIndexes))
	for _, idx := range parsed.RelevantIndexes {
		if idx < 1 || idx > len(docIDs) || seen[idx] {
			continue
		}
		seen[idx] = true
		indexes = append(indexes, idx)
		if len(indexes) >= maxRelevantDocs {
			break
		}
	}
	if len(indexes) == 0 {
		return allRelevant(docIDs)
	}

	docIds := make([]string, 0, len(indexes))
	for _, idx := range indexes {
		docIds = append(docIds, docIDs[idx-1])
	}
	return RelevanceEvaluationResult{HasRelevantResults: true, RelevantIndexes: indexes, RelevantDocIds: docIds}
}

func allRelevant(docIDs []string) RelevanceEvaluationResult {
	if len(docIDs) == 0 {
		return RelevanceEvaluationResult{}
	}
	indexes := make([]int, len(docIDs))
	ids := make([]string, len(docIDs))
	copy(ids, docIDs)
	for i := range docIDs {
		indexes[i] = i + 1
	}
	return RelevanceEvaluationResult{HasRelevantResults: true, RelevantIndexes: indexes, RelevantDocIds: ids}
}
