package evidence

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/yukioka/tsuzuki/pkg/bus"
	"github.com/yukioka/tsuzuki/pkg/memory"
)

type fakeSource struct {
	kind  SourceKind
	id    string
	items []Item
	err   error
	delay time.Duration
}

func (f *fakeSource) Kind() SourceKind { return f.kind }
func (f *fakeSource) ID() string       { return f.id }

func (f *fakeSource) Search(ctx context.Context, query string, limit int) ([]Item, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.items, nil
}

func item(kind SourceKind, sourceID, excerpt string, reliability float64) Item {
	return Item{
		ID:          "evd-" + sourceID + "-" + excerpt[:min(8, len(excerpt))],
		Kind:        kind,
		SourceID:    sourceID,
		Title:       excerpt,
		Excerpt:     excerpt,
		Reliability: reliability,
	}
}

func TestGather_RanksByReliability(t *testing.T) {
	agg := NewAggregator([]Source{
		&fakeSource{kind: KindWeb, id: "web:test", items: []Item{
			item(KindWeb, "web:test", "a web result about generics", 0.6),
		}},
		&fakeSource{kind: KindReference, id: "reference:docs", items: []Item{
			item(KindReference, "reference:docs", "the language reference on generics", 0.9),
		}},
		&fakeSource{kind: KindLocal, id: "local:memory", items: []Item{
			item(KindLocal, "local:memory", "you asked about generics last week", 0.75),
		}},
	}, AggregatorOptions{})

	col := agg.Gather(context.Background(), "generics", nil)
	if col.PartialFailure {
		t.Fatal("unexpected partial failure")
	}
	if len(col.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(col.Items))
	}
	wantOrder := []SourceKind{KindReference, KindLocal, KindWeb}
	for i, want := range wantOrder {
		if col.Items[i].Kind != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, col.Items[i].Kind)
		}
	}
}

func TestGather_TieBreakBySourceID(t *testing.T) {
	now := time.Now().UnixMilli()
	a := item(KindWeb, "web:alpha", "completely different first excerpt", 0.6)
	b := item(KindWeb, "web:beta", "unrelated second excerpt entirely", 0.6)
	a.RetrievedAtMS = now
	b.RetrievedAtMS = now

	agg := NewAggregator([]Source{
		&fakeSource{kind: KindWeb, id: "web:beta", items: []Item{b}},
		&fakeSource{kind: KindWeb, id: "web:alpha", items: []Item{a}},
	}, AggregatorOptions{})

	col := agg.Gather(context.Background(), "q", nil)
	if len(col.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(col.Items))
	}
	if col.Items[0].SourceID != "web:alpha" {
		t.Fatalf("tie should break to web:alpha, got %s", col.Items[0].SourceID)
	}
}

func TestGather_PartialFailureFlagged(t *testing.T) {
	agg := NewAggregator([]Source{
		&fakeSource{kind: KindWeb, id: "web:down", err: fmt.Errorf("service unavailable")},
		&fakeSource{kind: KindReference, id: "reference:docs", items: []Item{
			item(KindReference, "reference:docs", "a reference hit", 0.9),
		}},
	}, AggregatorOptions{})

	col := agg.Gather(context.Background(), "q", nil)
	if !col.PartialFailure {
		t.Fatal("expected partial failure")
	}
	if len(col.Items) != 1 {
		t.Fatalf("healthy source results must survive, got %d items", len(col.Items))
	}
	if len(col.FailedKinds) != 1 || col.FailedKinds[0] != KindWeb {
		t.Fatalf("expected failed kind web, got %v", col.FailedKinds)
	}
}

func TestGather_SlowSourceTimesOutWithoutBlocking(t *testing.T) {
	agg := NewAggregator([]Source{
		&fakeSource{kind: KindWeb, id: "web:slow", delay: 2 * time.Second, items: []Item{
			item(KindWeb, "web:slow", "too late", 0.6),
		}},
		&fakeSource{kind: KindLocal, id: "local:memory", items: []Item{
			item(KindLocal, "local:memory", "fast local hit", 0.75),
		}},
	}, AggregatorOptions{SourceTimeout: 50 * time.Millisecond})

	start := time.Now()
	col := agg.Gather(context.Background(), "q", nil)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("gather blocked on slow source for %v", elapsed)
	}
	if !col.PartialFailure {
		t.Fatal("timed-out source should flag partial failure")
	}
	if len(col.Items) != 1 || col.Items[0].Kind != KindLocal {
		t.Fatalf("expected only the fast local item, got %+v", col.Items)
	}
}

func TestGather_AllSourcesFailedGivesEmptyFlaggedCollection(t *testing.T) {
	agg := NewAggregator([]Source{
		&fakeSource{kind: KindWeb, id: "web:down", err: fmt.Errorf("boom")},
		&fakeSource{kind: KindReference, id: "reference:down", err: fmt.Errorf("boom")},
	}, AggregatorOptions{})

	col := agg.Gather(context.Background(), "q", nil)
	if !col.PartialFailure {
		t.Fatal("expected partial failure")
	}
	if len(col.Items) != 0 {
		t.Fatalf("expected empty items, got %d", len(col.Items))
	}
}

func TestGather_KindFilter(t *testing.T) {
	agg := NewAggregator([]Source{
		&fakeSource{kind: KindWeb, id: "web:test", items: []Item{
			item(KindWeb, "web:test", "web only answer", 0.6),
		}},
		&fakeSource{kind: KindLocal, id: "local:memory", items: []Item{
			item(KindLocal, "local:memory", "local only answer", 0.75),
		}},
	}, AggregatorOptions{})

	col := agg.Gather(context.Background(), "q", []SourceKind{KindLocal})
	if len(col.Items) != 1 || col.Items[0].Kind != KindLocal {
		t.Fatalf("kind filter ignored, got %+v", col.Items)
	}
}

func TestRank_DropsNearDuplicateExcerpts(t *testing.T) {
	high := item(KindReference, "reference:docs", "the quick brown fox jumps over the lazy dog", 0.9)
	dup := item(KindWeb, "web:test", "the quick brown fox jumps over the lazy dog today", 0.6)
	distinct := item(KindWeb, "web:test", "an entirely different statement about cats", 0.6)

	out := rank([]Item{high, dup, distinct}, 10)
	if len(out) != 2 {
		t.Fatalf("expected duplicate dropped, got %d items", len(out))
	}
	if out[0].SourceID != "reference:docs" {
		t.Fatal("higher ranked item should win the duplicate")
	}
}

func TestExcerptSimilarity(t *testing.T) {
	if sim := excerptSimilarity("alpha beta gamma", "alpha beta gamma"); sim != 1.0 {
		t.Fatalf("identical excerpts should score 1.0, got %f", sim)
	}
	if sim := excerptSimilarity("alpha beta", "delta epsilon"); sim != 0 {
		t.Fatalf("disjoint excerpts should score 0, got %f", sim)
	}
}

func TestCacheKey_OrderIndependent(t *testing.T) {
	k1 := CacheKey("Query", []SourceKind{KindWeb, KindLocal})
	k2 := CacheKey("query ", []SourceKind{KindLocal, KindWeb})
	if k1 != k2 {
		t.Fatalf("cache key should normalize: %s vs %s", k1, k2)
	}
	if k1 == CacheKey("other", []SourceKind{KindWeb}) {
		t.Fatal("different queries should not collide")
	}
}

func TestForSession_BindsLocalSource(t *testing.T) {
	store, err := memory.NewSQLiteStore(filepath.Join(t.TempDir(), "memory.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	syncer := memory.NewSynchronizer(store, memory.Config{}, bus.NewEventBus())

	if _, err := syncer.WriteTurn(context.Background(), memory.Turn{
		SessionID: "s1", Platform: "web",
		UserText:  "I prefer concise explanations with examples",
		ReplyText: "Noted.",
	}); err != nil {
		t.Fatalf("write turn: %v", err)
	}

	agg := NewAggregator([]Source{NewLocalSource(syncer)}, AggregatorOptions{})

	if col := agg.Gather(context.Background(), "concise", []SourceKind{KindLocal}); len(col.Items) != 0 {
		t.Fatalf("unbound local source must return nothing, got %d items", len(col.Items))
	}

	col := agg.ForSession("s1").Gather(context.Background(), "concise", []SourceKind{KindLocal})
	if len(col.Items) == 0 {
		t.Fatal("expected the promoted preference as local evidence")
	}
	if col.Items[0].Kind != KindLocal {
		t.Fatalf("expected a local item, got %+v", col.Items[0])
	}
}

func TestReliabilityFor_DomainWeights(t *testing.T) {
	high := reliabilityFor(KindWeb, "https://docs.python.org/3/library/json.html")
	medium := reliabilityFor(KindWeb, "https://stackoverflow.com/questions/1")
	low := reliabilityFor(KindWeb, "https://medium.com/@someone/post")

	if !(high > medium && medium > low) {
		t.Fatalf("expected high > medium > low, got %f %f %f", high, medium, low)
	}
	if ref := reliabilityFor(KindReference, ""); ref <= high {
		t.Fatalf("reference prior should beat any web result, got %f vs %f", ref, high)
	}
}
