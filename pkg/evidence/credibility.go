package evidence

import (
	"net/url"
	"strings"
)

// Kind priors. Reference material outranks local memory outranks the open
// web, before per-domain adjustment.
var kindPriors = map[SourceKind]float64{
	KindReference: 0.9,
	KindLocal:     0.75,
	KindWeb:       0.6,
}

const (
	credibilityHigh   = 1.0
	credibilityMedium = 0.7
	credibilityLow    = 0.4
)

// domainCredibility weights well-known domains for web results.
var domainCredibility = map[string]float64{
	"docs.python.org":         credibilityHigh,
	"developer.mozilla.org":   credibilityHigh,
	"go.dev":                  credibilityHigh,
	"pkg.go.dev":              credibilityHigh,
	"arxiv.org":               credibilityHigh,
	"www.rfc-editor.org":      credibilityHigh,
	"en.wikipedia.org":        credibilityMedium,
	"stackoverflow.com":       credibilityMedium,
	"github.com":              credibilityMedium,
	"qiita.com":               credibilityMedium,
	"zenn.dev":                credibilityMedium,
	"medium.com":              credibilityLow,
	"www.reddit.com":          credibilityLow,
}

// reliabilityFor combines the kind prior with the domain weight. Non-web
// kinds keep their prior untouched.
func reliabilityFor(kind SourceKind, rawURL string) float64 {
	prior, ok := kindPriors[kind]
	if !ok {
		prior = 0.5
	}
	if kind != KindWeb || rawURL == "" {
		return prior
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return prior * credibilityLow
	}
	host := strings.ToLower(u.Hostname())
	if w, ok := domainCredibility[host]; ok {
		return prior * w
	}
	// Unknown domains sit between medium and low.
	return prior * 0.55
}
