// Package adapters holds thin interfaces to the external collaborators
// spec.md §6 names but places out of scope: the search engine, the
// document-fetch path, and the Markdown renderer. Concrete
// implementations of the search collaborator belong to whatever system
// owns the lexical index; this package only defines the contract the
// Pipeline Orchestrator (C5) depends on and a couple of query-builder
// helpers for the dialect described in §6.
package adapters

import (
	"context"
	"fmt"
	"strings"
)

// Document is a string-keyed attribute bag produced by the search
// collaborator. Recognized keys: doc_id, title, url, content,
// content_description.
type Document map[string]string

// Recognized Document attribute keys.
const (
	FieldDocID              = "doc_id"
	FieldTitle              = "title"
	FieldURL                = "url"
	FieldContent            = "content"
	FieldContentDescription = "content_description"
)

// SearchAdapter is the lexical document index collaborator.
type SearchAdapter interface {
	// Search runs query against the index, returning up to maxDocs hits.
	// fields, when non-empty, limits which Document attributes are
	// populated.
	Search(ctx context.Context, query string, maxDocs int, fields []string) ([]Document, error)

	// FetchByIds returns full Document content for exactly the given ids,
	// called only for the evaluation-approved subset.
	FetchByIds(ctx context.Context, docIDs []string, fields []string) ([]Document, error)
}

// CollaboratorError wraps a search or render failure, per spec §7.
type CollaboratorError struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("adapters: %s: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// TitleBoostedQuery builds `title:"X"^2` for boosting a phrase against
// the title field.
func TitleBoostedQuery(phrase string) string {
	return fmt.Sprintf(`title:"%s"^2`, phrase)
}

// ExactURLQuery builds the exact-URL query form used for SUMMARY intent:
// `url:"<url>"`.
func ExactURLQuery(url string) string {
	return fmt.Sprintf(`url:"%s"`, url)
}

// RequireAll joins terms with the required-term operator (+term1 +term2),
// matching the boolean dialect's "+" prefix for mandatory clauses.
func RequireAll(terms ...string) string {
	parts := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		parts = append(parts, "+"+t)
	}
	return strings.Join(parts, " ")
}

// AnyOf joins terms with the OR operator.
func AnyOf(terms ...string) string {
	return strings.Join(terms, " OR ")
}

// Phrase quotes a term for exact phrase matching.
func Phrase(term string) string {
	return fmt.Sprintf("%q", term)
}
