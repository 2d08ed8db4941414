package adapters

import (
	"bytes"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

// Renderer is the Markdown-renderer collaborator: render(markdown) ->
// safeHtml. Implementations must sanitize their output.
type Renderer interface {
	Render(markdown string) (string, error)
}

// GoldmarkRenderer renders Markdown with goldmark and sanitizes the
// result with bluemonday's UGC policy. This is the default concrete
// implementation of the Renderer collaborator.
type GoldmarkRenderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// NewGoldmarkRenderer constructs a Renderer with goldmark defaults and
// bluemonday's UGCPolicy.
func NewGoldmarkRenderer() *GoldmarkRenderer {
	return &GoldmarkRenderer{
		md:     goldmark.New(),
		policy: bluemonday.UGCPolicy(),
	}
}

func (r *GoldmarkRenderer) Render(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &buf); err != nil {
		return "", &CollaboratorError{Collaborator: "render", Err: err}
	}
	return r.policy.Sanitize(buf.String()), nil
}

// EscapeFallback HTML-escapes raw Markdown. Used by the orchestrator when
// no Renderer is configured, per spec §6.
func EscapeFallback(markdown string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&#39;",
	)
	return replacer.Replace(markdown)
}
