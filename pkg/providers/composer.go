// Package providers holds the draft-composition backends. A Composer turns
// a query plus gathered evidence into a draft reply; the persona filter
// owns the final rendering.
package providers

import (
	"context"

	"github.com/yukioka/tsuzuki/pkg/evidence"
)

// DraftRequest carries everything a composer may use. Evidence items are
// cited in the draft with one-based [n] markers.
type DraftRequest struct {
	Query          string
	ContextSummary string
	RecentTurns    []string
	Evidence       []evidence.Item
}

type Composer interface {
	Draft(ctx context.Context, req DraftRequest) (string, error)
}
