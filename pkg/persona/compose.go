package persona

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/yukioka/tsuzuki/pkg/evidence"
)

// Citation pairs a body marker with the evidence item it references.
type Citation struct {
	Marker int           `json:"marker"`
	Item   evidence.Item `json:"item"`
}

var markerRegex = regexp.MustCompile(`\[(\d+)\]`)

// Compose renders the final reply. The shape is deterministic for a given
// (draft, collection, profile):
//
//	[tone opener] body [caveat] [encouragement]
//	References:
//	[1] title - url
//
// Markers in the draft reference collection items one-based. They are
// renumbered by first appearance; markers pointing outside the collection
// are dropped. The references list carries exactly the cited items, so
// markers and entries stay in bijection.
func Compose(draft string, col evidence.Collection, profile *Profile) (string, []Citation) {
	if profile == nil {
		profile = DefaultProfile()
	}
	body := strings.TrimSpace(draft)

	// A draft that ignored available evidence still gets grounded: cite
	// the top items explicitly.
	if len(col.Items) > 0 && !markerRegex.MatchString(body) {
		refs := make([]string, 0, len(col.Items))
		for i := range col.Items {
			refs = append(refs, fmt.Sprintf("[%d]", i+1))
		}
		intro := profile.Patterns.EvidenceIntro
		if intro == "" {
			intro = "Supporting sources:"
		}
		body = body + "\n\n" + intro + " " + strings.Join(refs, " ")
	}

	body, citations := renumberCitations(body, col.Items)

	var b strings.Builder
	if opener := toneOpener(profile); opener != "" {
		b.WriteString(opener)
		b.WriteString(" ")
	}
	b.WriteString(body)

	if col.PartialFailure {
		b.WriteString("\n\n")
		b.WriteString(partialCaveat(col.FailedKinds))
	}

	if encouragement := encouragementLine(profile); encouragement != "" {
		b.WriteString("\n\n")
		b.WriteString(encouragement)
	}

	if len(citations) > 0 {
		b.WriteString("\n\nReferences:\n")
		for _, c := range citations {
			line := fmt.Sprintf("[%d] %s", c.Marker, c.Item.Title)
			if c.Item.URL != "" {
				line += " - " + c.Item.URL
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	return strings.TrimRight(b.String(), "\n"), citations
}

// renumberCitations rewrites draft markers into first-reference order and
// returns the cited items in that order.
func renumberCitations(body string, items []evidence.Item) (string, []Citation) {
	assigned := map[int]int{}
	citations := []Citation{}

	out := markerRegex.ReplaceAllStringFunc(body, func(m string) string {
		raw := strings.Trim(m, "[]")
		idx, err := strconv.Atoi(raw)
		if err != nil || idx < 1 || idx > len(items) {
			return ""
		}
		if n, ok := assigned[idx]; ok {
			return fmt.Sprintf("[%d]", n)
		}
		n := len(assigned) + 1
		assigned[idx] = n
		citations = append(citations, Citation{Marker: n, Item: items[idx-1]})
		return fmt.Sprintf("[%d]", n)
	})

	return out, citations
}

// toneOpener maps trait weights and tone to a fixed opener. Selection is
// template-based; weights never leave the process.
func toneOpener(p *Profile) string {
	if p.Tone == ToneCalmFormal {
		return ""
	}
	if p.Traits["caring"] >= 0.8 && p.Patterns.Understanding != "" {
		return p.Patterns.Understanding
	}
	return ""
}

func encouragementLine(p *Profile) string {
	if p.EncouragementFrequency == "high" && p.Traits["encouraging"] >= 0.5 {
		return p.Patterns.Encouragement
	}
	return ""
}

func partialCaveat(failed []evidence.SourceKind) string {
	if len(failed) == 0 {
		return "Heads up: some of my usual sources didn't answer in time, so this may be incomplete."
	}
	names := make([]string, 0, len(failed))
	for _, k := range failed {
		names = append(names, string(k))
	}
	return fmt.Sprintf("Heads up: I couldn't reach my %s source(s) just now, so this may be incomplete.", strings.Join(names, " and "))
}
