package providers

import (
	"context"
	"strings"
	"testing"

	"github.com/yukioka/tsuzuki/pkg/evidence"
)

func TestTemplateComposer_CitesEveryItemInOrder(t *testing.T) {
	c := NewTemplateComposer()
	draft, err := c.Draft(context.Background(), DraftRequest{
		Query: "how do goroutines work",
		Evidence: []evidence.Item{
			{Title: "Effective Go", Excerpt: "Goroutines are multiplexed onto OS threads."},
			{Title: "Spec", Excerpt: "A go statement starts a new goroutine."},
		},
	})
	if err != nil {
		t.Fatalf("draft: %v", err)
	}
	first := strings.Index(draft, "[1]")
	second := strings.Index(draft, "[2]")
	if first < 0 || second < 0 {
		t.Fatalf("expected markers for both items: %q", draft)
	}
	if first > second {
		t.Fatalf("markers out of rank order: %q", draft)
	}
	if !strings.Contains(draft, "multiplexed") {
		t.Fatalf("excerpt missing from draft: %q", draft)
	}
}

func TestTemplateComposer_NoEvidence(t *testing.T) {
	c := NewTemplateComposer()
	draft, err := c.Draft(context.Background(), DraftRequest{
		Query:          "what did we decide",
		ContextSummary: "We chose sqlite for storage. Other notes follow.",
	})
	if err != nil {
		t.Fatalf("draft: %v", err)
	}
	if strings.Contains(draft, "[1]") {
		t.Fatalf("no evidence means no markers: %q", draft)
	}
	if !strings.Contains(draft, "We chose sqlite for storage.") {
		t.Fatalf("expected first sentence of summary: %q", draft)
	}
}

func TestBuildDraftPrompt_SectionsPresent(t *testing.T) {
	p := buildDraftPrompt(DraftRequest{
		Query:          "q",
		ContextSummary: "summary",
		RecentTurns:    []string{"user: hi", "assistant: hello"},
		Evidence:       []evidence.Item{{Title: "T", Excerpt: "E"}},
	})
	for _, want := range []string{"Conversation summary:", "Recent exchanges:", "Evidence:", "[1] T: E", "User message:\nq"} {
		if !strings.Contains(p, want) {
			t.Fatalf("prompt missing %q:\n%s", want, p)
		}
	}
}
