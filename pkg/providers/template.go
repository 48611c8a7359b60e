package providers

import (
	"context"
	"fmt"
	"strings"
)

// TemplateComposer drafts replies without any model call. It is the
// fallback when no API key is configured, and keeps the engine fully
// usable offline: the draft restates the query and cites every evidence
// item in rank order.
type TemplateComposer struct{}

func NewTemplateComposer() *TemplateComposer { return &TemplateComposer{} }

func (TemplateComposer) Draft(_ context.Context, req DraftRequest) (string, error) {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("About %q:", strings.TrimSpace(req.Query)))

	if len(req.Evidence) == 0 {
		b.WriteString(" I don't have supporting material on hand, so here is my best direct answer from what we've discussed.")
		if req.ContextSummary != "" {
			b.WriteString(" ")
			b.WriteString(firstSentence(req.ContextSummary))
		}
		return b.String(), nil
	}

	for i, item := range req.Evidence {
		b.WriteString("\n")
		excerpt := strings.TrimSpace(item.Excerpt)
		if excerpt == "" {
			excerpt = item.Title
		}
		b.WriteString(fmt.Sprintf("- %s [%d]", clip(excerpt, 200), i+1))
	}
	return b.String(), nil
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".。\n"); i >= 0 {
		return s[:i+1]
	}
	return s
}

func clip(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}
