package evidence

import "context"

type SourceKind string

const (
	KindReference SourceKind = "reference"
	KindLocal     SourceKind = "local"
	KindWeb       SourceKind = "web"
)

// Item is one piece of supporting evidence, normalized across sources.
type Item struct {
	ID            string     `json:"id"`
	Kind          SourceKind `json:"kind"`
	SourceID      string     `json:"source_id"`
	Title         string     `json:"title"`
	URL           string     `json:"url"`
	Excerpt       string     `json:"excerpt"`
	Reliability   float64    `json:"reliability"`
	RetrievedAtMS int64      `json:"retrieved_at_ms"`
}

// Collection is the ranked, de-duplicated result of one gather call.
// PartialFailure is set when any source failed or timed out while at least
// the rest answered.
type Collection struct {
	Items          []Item       `json:"items"`
	PartialFailure bool         `json:"partial_failure"`
	FailedKinds    []SourceKind `json:"failed_kinds,omitempty"`
}

// Source is a single evidence backend. Search honors ctx cancellation; the
// aggregator applies the per-source timeout.
type Source interface {
	Kind() SourceKind
	ID() string
	Search(ctx context.Context, query string, limit int) ([]Item, error)
}
