package evidence

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yukioka/tsuzuki/pkg/logger"
)

const dedupThreshold = 0.8

// Aggregator fans a query out to every registered source, ranks the union,
// and de-duplicates near-identical excerpts. One slow or failing source
// never blocks the rest; it only sets PartialFailure.
type Aggregator struct {
	sources       []Source
	sourceTimeout time.Duration
	maxItems      int
	cache         *Cache
	// scope keys cached results; session-bound aggregators must not share
	// entries with other sessions.
	scope string
	log   *zap.Logger
}

type AggregatorOptions struct {
	SourceTimeout time.Duration
	MaxItems      int
	Cache         *Cache
}

func NewAggregator(sources []Source, opts AggregatorOptions) *Aggregator {
	if opts.SourceTimeout <= 0 {
		opts.SourceTimeout = 8 * time.Second
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = 8
	}
	kept := make([]Source, 0, len(sources))
	for _, src := range sources {
		if src != nil {
			kept = append(kept, src)
		}
	}
	return &Aggregator{
		sources:       kept,
		sourceTimeout: opts.SourceTimeout,
		maxItems:      opts.MaxItems,
		cache:         opts.Cache,
		log:           logger.Named("evidence"),
	}
}

// ForSession returns a copy whose local sources are bound to the given
// session. Other sources are shared.
func (a *Aggregator) ForSession(sessionID string) *Aggregator {
	sources := make([]Source, len(a.sources))
	for i, src := range a.sources {
		if local, ok := src.(*LocalSource); ok {
			sources[i] = local.WithSession(sessionID)
			continue
		}
		sources[i] = src
	}
	return &Aggregator{
		sources:       sources,
		sourceTimeout: a.sourceTimeout,
		maxItems:      a.maxItems,
		cache:         a.cache,
		scope:         sessionID,
		log:           a.log,
	}
}

// Gather queries the sources matching kinds (all sources when kinds is
// empty). The returned collection is ranked and de-duplicated. An empty
// collection with PartialFailure set means every source failed.
func (a *Aggregator) Gather(ctx context.Context, query string, kinds []SourceKind) Collection {
	selected := a.selectSources(kinds)
	if len(selected) == 0 {
		return Collection{}
	}

	cacheKey := CacheKey(a.scope+"\x00"+query, kinds)
	if cached, ok := a.cache.Get(ctx, cacheKey); ok {
		return cached
	}

	var mu sync.Mutex
	items := []Item{}
	failed := []SourceKind{}

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range selected {
		src := src
		g.Go(func() error {
			srcCtx, cancel := context.WithTimeout(gctx, a.sourceTimeout)
			defer cancel()

			found, err := src.Search(srcCtx, query, a.maxItems)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				a.log.Warn("evidence source failed",
					zap.String("source", src.ID()),
					zap.Error(err))
				failed = append(failed, src.Kind())
				// Errors are recorded, never propagated: returning one
				// would cancel the sibling searches.
				return nil
			}
			items = append(items, found...)
			return nil
		})
	}
	_ = g.Wait()

	col := Collection{
		Items:          rank(items, a.maxItems),
		PartialFailure: len(failed) > 0,
		FailedKinds:    dedupKinds(failed),
	}
	if !col.PartialFailure {
		a.cache.Put(ctx, cacheKey, col)
	}
	return col
}

func (a *Aggregator) selectSources(kinds []SourceKind) []Source {
	if len(kinds) == 0 {
		return a.sources
	}
	want := map[SourceKind]bool{}
	for _, k := range kinds {
		want[k] = true
	}
	out := []Source{}
	for _, src := range a.sources {
		if want[src.Kind()] {
			out = append(out, src)
		}
	}
	return out
}

// rank orders by reliability, then recency, then source id, and drops
// near-duplicate excerpts keeping the higher-ranked item.
func rank(items []Item, limit int) []Item {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Reliability != items[j].Reliability {
			return items[i].Reliability > items[j].Reliability
		}
		if items[i].RetrievedAtMS != items[j].RetrievedAtMS {
			return items[i].RetrievedAtMS > items[j].RetrievedAtMS
		}
		return items[i].SourceID < items[j].SourceID
	})

	kept := make([]Item, 0, limit)
	for _, candidate := range items {
		dup := false
		for _, existing := range kept {
			if excerptSimilarity(candidate.Excerpt, existing.Excerpt) >= dedupThreshold {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		kept = append(kept, candidate)
		if len(kept) >= limit {
			break
		}
	}
	return kept
}

// excerptSimilarity is token Jaccard over lowercased excerpts.
func excerptSimilarity(a, b string) float64 {
	ta := tokenSet(a)
	tb := tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	inter := 0
	for tok := range ta {
		if tb[tok] {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		tok = strings.Trim(tok, ".,;:!?()[]\"'")
		if len(tok) >= 2 {
			out[tok] = true
		}
	}
	return out
}

func dedupKinds(kinds []SourceKind) []SourceKind {
	if len(kinds) == 0 {
		return nil
	}
	seen := map[SourceKind]bool{}
	out := []SourceKind{}
	for _, k := range kinds {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}
