package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yukioka/tsuzuki/pkg/bus"
	"github.com/yukioka/tsuzuki/pkg/evidence"
	"github.com/yukioka/tsuzuki/pkg/memory"
	"github.com/yukioka/tsuzuki/pkg/persona"
	"github.com/yukioka/tsuzuki/pkg/providers"
	"github.com/yukioka/tsuzuki/pkg/task"
)

type stubSource struct {
	kind  evidence.SourceKind
	id    string
	items []evidence.Item
	err   error
}

func (s stubSource) Kind() evidence.SourceKind { return s.kind }
func (s stubSource) ID() string                { return s.id }
func (s stubSource) Search(context.Context, string, int) ([]evidence.Item, error) {
	return s.items, s.err
}

type failingComposer struct{}

func (failingComposer) Draft(context.Context, providers.DraftRequest) (string, error) {
	return "", errors.New("model connection refused")
}

type testEnv struct {
	engine    *Engine
	memStore  *memory.SQLiteStore
	taskStore *task.SQLiteStore
	tasks     *task.Manager
	syncer    *memory.Synchronizer
}

func newTestEnv(t *testing.T, dir string, sources []evidence.Source, composer providers.Composer) *testEnv {
	t.Helper()

	memStore, err := memory.NewSQLiteStore(filepath.Join(dir, "memory.db"))
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	taskStore, err := task.NewSQLiteStore(filepath.Join(dir, "tasks.db"))
	if err != nil {
		t.Fatalf("open task store: %v", err)
	}
	t.Cleanup(func() {
		_ = memStore.Close()
		_ = taskStore.Close()
	})

	if composer == nil {
		composer = providers.NewTemplateComposer()
	}
	syncer := memory.NewSynchronizer(memStore, memory.Config{}, bus.NewEventBus())
	mgr := task.NewManager(taskStore)
	agg := evidence.NewAggregator(sources, evidence.AggregatorOptions{
		SourceTimeout: 200 * time.Millisecond,
	})
	eng := New(syncer, mgr, agg, composer, persona.NewHolder(persona.DefaultProfile()), bus.NewEventBus(), Options{})

	return &testEnv{engine: eng, memStore: memStore, taskStore: taskStore, tasks: mgr, syncer: syncer}
}

func webItem(id, excerpt string) evidence.Item {
	return evidence.Item{
		ID:          "evd-" + id,
		Kind:        evidence.KindWeb,
		SourceID:    "web:test",
		Title:       "Result " + id,
		URL:         "https://example.com/" + id,
		Excerpt:     excerpt,
		Reliability: 0.6,
	}
}

func TestHandle_EvidenceRequestGetsCitations(t *testing.T) {
	env := newTestEnv(t, t.TempDir(), []evidence.Source{
		stubSource{kind: evidence.KindWeb, id: "web:test", items: []evidence.Item{
			webItem("a", "Goroutines are lightweight threads managed by the runtime."),
		}},
	}, nil)

	reply, err := env.engine.Handle(context.Background(), Request{
		SessionID: "s1", Platform: "web",
		Message: "what is a goroutine, can you check a source?",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(reply.Citations) == 0 {
		t.Fatalf("expected at least one citation: %+v", reply)
	}
	if !strings.Contains(reply.Text, "References:") {
		t.Fatalf("expected references section: %q", reply.Text)
	}
	if reply.Citations[0].Item.ID != "evd-a" {
		t.Fatalf("citation should reference returned evidence, got %+v", reply.Citations[0])
	}
}

func TestHandle_ResumeAfterRestartReturnsNextStep(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(t, dir, nil, nil)

	reply, err := env.engine.Handle(context.Background(), Request{
		SessionID: "s1", Platform: "web",
		Message: "draft the outline, then write the summary section",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if reply.TaskStatus != string(task.StatusActive) {
		t.Fatalf("expected active task after first step, got %q", reply.TaskStatus)
	}

	// Fresh stores over the same files stand in for a process restart.
	env2 := newTestEnv(t, dir, nil, nil)
	resumed, err := env2.engine.Handle(context.Background(), Request{
		SessionID: "s1", Platform: "obsidian", Message: "continue",
	})
	if err != nil {
		t.Fatalf("resume handle: %v", err)
	}
	if !strings.Contains(resumed.Text, "write the summary section") {
		t.Fatalf("expected the second step descriptor, got %q", resumed.Text)
	}
	if strings.Contains(resumed.Text, "draft the outline,") {
		t.Fatalf("first step must not repeat: %q", resumed.Text)
	}
	if resumed.TaskStatus != string(task.StatusCompleted) {
		t.Fatalf("resuming the last step should complete the task, got %q", resumed.TaskStatus)
	}
}

func TestHandle_SmallTalkLeavesTaskUntouched(t *testing.T) {
	env := newTestEnv(t, t.TempDir(), nil, nil)
	ctx := context.Background()

	if _, err := env.engine.Handle(ctx, Request{
		SessionID: "s1", Platform: "web",
		Message: "draft the outline, then write the summary section",
	}); err != nil {
		t.Fatalf("create task: %v", err)
	}

	for _, msg := range []string{"good morning", "lovely weather today"} {
		if _, err := env.engine.Handle(ctx, Request{
			SessionID: "s1", Platform: "web", Message: msg,
		}); err != nil {
			t.Fatalf("small talk %q: %v", msg, err)
		}
	}

	active, ok, err := env.tasks.Active(ctx, "s1")
	if err != nil || !ok {
		t.Fatalf("task must survive unrelated chatter: ok=%v err=%v", ok, err)
	}
	if active.CurrentStep != 1 {
		t.Fatalf("chatter advanced the plan to step %d", active.CurrentStep)
	}

	resumed, err := env.engine.Handle(ctx, Request{
		SessionID: "s1", Platform: "web", Message: "continue",
	})
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	if !strings.Contains(resumed.Text, "write the summary section") {
		t.Fatalf("second step must still be pending, got %q", resumed.Text)
	}
}

func TestHandle_NothingToContinue(t *testing.T) {
	env := newTestEnv(t, t.TempDir(), nil, nil)

	reply, err := env.engine.Handle(context.Background(), Request{
		SessionID: "s1", Platform: "web", Message: "continue",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !strings.Contains(reply.Text, "What would you like") {
		t.Fatalf("expected the nothing-to-continue message: %q", reply.Text)
	}
	if _, ok, _ := env.tasks.Active(context.Background(), "s1"); ok {
		t.Fatal("no task may be created by a bare continuation")
	}
}

func TestHandle_PartialFailureKeepsHealthyCitations(t *testing.T) {
	env := newTestEnv(t, t.TempDir(), []evidence.Source{
		stubSource{kind: evidence.KindWeb, id: "web:test", err: errors.New("network unreachable")},
		stubSource{kind: evidence.KindReference, id: "reference:docs", items: []evidence.Item{
			{ID: "evd-r1", Kind: evidence.KindReference, SourceID: "reference:docs",
				Title: "Spec §9", URL: "https://go.dev/ref/spec", Excerpt: "A go statement starts a goroutine.", Reliability: 0.9},
			{ID: "evd-r2", Kind: evidence.KindReference, SourceID: "reference:docs",
				Title: "Effective Go", URL: "https://go.dev/doc/effective_go", Excerpt: "Channels orchestrate; mutexes serialize.", Reliability: 0.9},
		}},
	}, nil)

	reply, err := env.engine.Handle(context.Background(), Request{
		SessionID: "s1", Platform: "web",
		Message: "how do goroutines start, can you check a source?",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(reply.Citations) != 2 {
		t.Fatalf("expected the 2 reference citations, got %d", len(reply.Citations))
	}
	if !strings.Contains(reply.Text, "may be incomplete") {
		t.Fatalf("expected partial-failure caveat: %q", reply.Text)
	}
}

func TestHandle_ConcurrentSameSessionWritesAreOrdered(t *testing.T) {
	env := newTestEnv(t, t.TempDir(), nil, nil)
	const n = 8

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.engine.Handle(context.Background(), Request{
				SessionID: "s1", Platform: "web", Message: "tell me something",
			})
			if err != nil {
				t.Errorf("handle: %v", err)
			}
		}()
	}
	wg.Wait()

	turns, err := env.memStore.ListRecentTurns(context.Background(), "s1", n*2, false)
	if err != nil {
		t.Fatalf("list turns: %v", err)
	}
	if len(turns) != n {
		t.Fatalf("expected %d turns, got %d", n, len(turns))
	}
	for i := 1; i < len(turns); i++ {
		if turns[i].Counter <= turns[i-1].Counter {
			t.Fatalf("counters must strictly increase: %d then %d", turns[i-1].Counter, turns[i].Counter)
		}
	}
}

func TestHandle_SecondMultiStepRequestRejected(t *testing.T) {
	env := newTestEnv(t, t.TempDir(), nil, nil)
	ctx := context.Background()

	if _, err := env.engine.Handle(ctx, Request{
		SessionID: "s1", Platform: "web",
		Message: "collect the references, then assemble the bibliography",
	}); err != nil {
		t.Fatalf("first multi-step: %v", err)
	}

	reply, err := env.engine.Handle(ctx, Request{
		SessionID: "s1", Platform: "web",
		Message: "plan the trip, then book the hotel",
	})
	if err != nil {
		t.Fatalf("second multi-step: %v", err)
	}
	if !strings.Contains(reply.Text, "middle of") {
		t.Fatalf("expected the busy reply: %q", reply.Text)
	}

	active, ok, err := env.tasks.Active(ctx, "s1")
	if err != nil || !ok {
		t.Fatalf("first task must stay active: ok=%v err=%v", ok, err)
	}
	if !strings.Contains(active.Title, "collect the references") {
		t.Fatalf("active task overwritten: %q", active.Title)
	}
}

func TestHandle_CompositionFailureFailsTaskGently(t *testing.T) {
	env := newTestEnv(t, t.TempDir(), nil, failingComposer{})
	ctx := context.Background()

	reply, err := env.engine.Handle(ctx, Request{
		SessionID: "s1", Platform: "web",
		Message: "fetch the data, then chart it",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if reply.TaskStatus != string(task.StatusFailed) {
		t.Fatalf("expected failed task status, got %q", reply.TaskStatus)
	}
	if !strings.Contains(reply.Text, "I'm sorry") || strings.Contains(reply.Text, "connection refused") {
		t.Fatalf("raw error must not leak: %q", reply.Text)
	}

	// The failed task stays resumable.
	resumed, _, rerr := env.tasks.Resume(ctx, "s1")
	if rerr != nil {
		t.Fatalf("resume after failure: %v", rerr)
	}
	if resumed.Status != task.StatusActive {
		t.Fatalf("resume should reactivate, got %q", resumed.Status)
	}
}

// flakyTasks forces checkpoint failures while delegating everything else
// to the real manager.
type flakyTasks struct {
	*task.Manager
	completeErr   error
	completeCalls int
}

func (f *flakyTasks) CompleteStep(ctx context.Context, taskID string) (task.Task, error) {
	f.completeCalls++
	if f.completeErr != nil {
		return task.Task{}, f.completeErr
	}
	return f.Manager.CompleteStep(ctx, taskID)
}

func TestHandle_CheckpointFailureRetriesThenFailsTask(t *testing.T) {
	env := newTestEnv(t, t.TempDir(), nil, nil)
	ctx := context.Background()

	flaky := &flakyTasks{Manager: env.tasks, completeErr: errors.New("disk I/O error")}
	eng := New(env.syncer, flaky, nil, providers.NewTemplateComposer(),
		persona.NewHolder(persona.DefaultProfile()), bus.NewEventBus(), Options{})

	reply, err := eng.Handle(ctx, Request{
		SessionID: "s1", Platform: "web",
		Message: "collect the sources, then write the review",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if flaky.completeCalls != 2 {
		t.Fatalf("checkpoint should be retried once before giving up, got %d attempts", flaky.completeCalls)
	}
	if reply.TaskStatus != string(task.StatusFailed) {
		t.Fatalf("persistent checkpoint failure must fail the task, got %q", reply.TaskStatus)
	}
	if !strings.Contains(reply.Text, "I'm sorry") || strings.Contains(reply.Text, "disk I/O") {
		t.Fatalf("raw error must not leak: %q", reply.Text)
	}

	// The failed task stays resumable through the real manager.
	resumed, _, rerr := env.tasks.Resume(ctx, "s1")
	if rerr != nil {
		t.Fatalf("resume after checkpoint failure: %v", rerr)
	}
	if resumed.Status != task.StatusActive {
		t.Fatalf("resume should reactivate, got %q", resumed.Status)
	}
}

func TestHandle_SetAsideSuspendsActiveTask(t *testing.T) {
	env := newTestEnv(t, t.TempDir(), nil, nil)
	ctx := context.Background()

	if _, err := env.engine.Handle(ctx, Request{
		SessionID: "s1", Platform: "web",
		Message: "draft the outline, then write the summary section",
	}); err != nil {
		t.Fatalf("create task: %v", err)
	}

	reply, err := env.engine.Handle(ctx, Request{
		SessionID: "s1", Platform: "web", Message: "set it aside",
	})
	if err != nil {
		t.Fatalf("set aside: %v", err)
	}
	if reply.TaskStatus != string(task.StatusSuspended) {
		t.Fatalf("expected suspended status, got %q", reply.TaskStatus)
	}
	if !strings.Contains(reply.Text, "1 step left") {
		t.Fatalf("expected the remaining-step count, got %q", reply.Text)
	}
	if _, ok, _ := env.tasks.Active(ctx, "s1"); ok {
		t.Fatal("task must leave the active slot")
	}

	resumed, err := env.engine.Handle(ctx, Request{
		SessionID: "s1", Platform: "web", Message: "continue",
	})
	if err != nil {
		t.Fatalf("resume after set-aside: %v", err)
	}
	if !strings.Contains(resumed.Text, "write the summary section") {
		t.Fatalf("set-aside task must resume at its next step, got %q", resumed.Text)
	}
}

func TestHandle_SetAsideWithNothingInFlight(t *testing.T) {
	env := newTestEnv(t, t.TempDir(), nil, nil)

	reply, err := env.engine.Handle(context.Background(), Request{
		SessionID: "s1", Platform: "web", Message: "set it aside",
	})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !strings.Contains(reply.Text, "no task in progress") {
		t.Fatalf("expected the nothing-to-set-aside message: %q", reply.Text)
	}
	if reply.TaskStatus != "" {
		t.Fatalf("no task status expected, got %q", reply.TaskStatus)
	}
}

func TestHandle_RejectsUnknownPlatform(t *testing.T) {
	env := newTestEnv(t, t.TempDir(), nil, nil)
	env.engine.platforms = map[string]struct{}{"web": {}}

	_, err := env.engine.Handle(context.Background(), Request{
		SessionID: "s1", Platform: "carrier-pigeon", Message: "hello",
	})
	if !errors.Is(err, ErrPlatformNotAllowed) {
		t.Fatalf("expected ErrPlatformNotAllowed, got %v", err)
	}
}

func TestHandle_RejectsEmptyMessage(t *testing.T) {
	env := newTestEnv(t, t.TempDir(), nil, nil)
	if _, err := env.engine.Handle(context.Background(), Request{SessionID: "s1", Platform: "web"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestClassifier_ContinuationIsExactMatch(t *testing.T) {
	c := NewClassifier(nil)

	for _, msg := range []string{"continue", "  Continue ", "RESUME", "続き", "続けて"} {
		if got := c.Classify(msg); got != IntentContinue {
			t.Fatalf("%q should classify as continue, got %v", msg, got)
		}
	}
	if got := c.Classify("please continue the story about the fox"); got == IntentContinue {
		t.Fatal("continuation requires an exact phrase match, not a substring")
	}
}

func TestClassifier_CustomTriggers(t *testing.T) {
	c := NewClassifier([]string{"pick it up"})
	if got := c.Classify("pick it up"); got != IntentContinue {
		t.Fatalf("custom trigger not recognized, got %v", got)
	}
	if got := c.Classify("continue"); got == IntentContinue {
		t.Fatal("configured vocabulary replaces the defaults")
	}
}

func TestClassifier_Intents(t *testing.T) {
	c := NewClassifier(nil)
	cases := []struct {
		message string
		want    Intent
	}{
		{"what is a mutex, can you check a source?", IntentEvidence},
		{"Rustのドキュメントを調べて", IntentReference},
		{"調べてほしい", IntentEvidence},
		{"analyze my sleep notes", IntentAnalyze},
		{"let's set it aside for now", IntentSetAside},
		{"その作業は中断してください", IntentSetAside},
		{"draft the outline, then write the intro", IntentMultiStep},
		{"1. fetch the feed 2. summarize it", IntentMultiStep},
		{"good morning", IntentGeneral},
	}
	for _, tc := range cases {
		if got := c.Classify(tc.message); got != tc.want {
			t.Fatalf("%q: want %v, got %v", tc.message, tc.want, got)
		}
	}
}

func TestSplitSteps(t *testing.T) {
	steps := SplitSteps("1. fetch the feed 2. summarize it 3. file a note")
	if len(steps) != 3 {
		t.Fatalf("expected 3 enumerated steps, got %v", steps)
	}
	steps = SplitSteps("まず資料を集めて、次に要約して")
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps from 次に chaining, got %v", steps)
	}
	if got := SplitSteps("just one thing"); len(got) != 1 {
		t.Fatalf("single action must stay single, got %v", got)
	}
}
