package task

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "tasks.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewManager(store)
}

func TestCreate_SecondActiveTaskRejected(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Create(ctx, "s1", "first", []string{"a", "b"}); err != nil {
		t.Fatalf("create first: %v", err)
	}
	_, err := m.Create(ctx, "s1", "second", []string{"x"})
	if !errors.Is(err, ErrStateConflict) {
		t.Fatalf("expected ErrStateConflict, got %v", err)
	}

	// Other sessions are unaffected.
	if _, err := m.Create(ctx, "s2", "other", []string{"x"}); err != nil {
		t.Fatalf("create in other session: %v", err)
	}
}

func TestCreate_ConcurrentAtMostOneWins(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Create(ctx, "s1", fmt.Sprintf("task %d", i), []string{"step"})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	wins, conflicts := 0, 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrStateConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly 1 winner, got %d (conflicts %d)", wins, conflicts)
	}
}

func TestCompleteStep_AdvancesAndCompletes(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	created, err := m.Create(ctx, "s1", "two step", []string{"first", "second"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	after, err := m.CompleteStep(ctx, created.ID)
	if err != nil {
		t.Fatalf("complete step: %v", err)
	}
	if after.NextStep() != "second" {
		t.Fatalf("expected next step %q, got %q", "second", after.NextStep())
	}
	if after.Status != StatusActive {
		t.Fatalf("task should still be active, got %s", after.Status)
	}

	final, err := m.CompleteStep(ctx, created.ID)
	if err != nil {
		t.Fatalf("complete last step: %v", err)
	}
	if final.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}
}

func TestCheckpoint_StaleSequenceRejected(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	created, err := m.Create(ctx, "s1", "t", []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.store.Checkpoint(ctx, created.ID, created.Steps, 1, 5); err != nil {
		t.Fatalf("checkpoint seq 5: %v", err)
	}

	err = m.store.Checkpoint(ctx, created.ID, created.Steps, 0, 3)
	if !errors.Is(err, ErrStaleCheckpoint) {
		t.Fatalf("expected ErrStaleCheckpoint, got %v", err)
	}

	got, err := m.store.GetTask(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.CurrentStep != 1 || got.CheckpointSeq != 5 {
		t.Fatalf("stale checkpoint mutated state: step=%d seq=%d", got.CurrentStep, got.CheckpointSeq)
	}
}

func TestResume_AfterSuspendReturnsNextStep(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	created, err := m.Create(ctx, "s1", "interrupted", []string{"step one", "step two", "step three"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.CompleteStep(ctx, created.ID); err != nil {
		t.Fatalf("complete step one: %v", err)
	}
	if err := m.Suspend(ctx, created.ID); err != nil {
		t.Fatalf("suspend: %v", err)
	}

	resumed, next, err := m.Resume(ctx, "s1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if next != "step two" {
		t.Fatalf("expected to resume at step two, got %q", next)
	}
	if resumed.Status != StatusActive {
		t.Fatalf("resumed task should be active, got %s", resumed.Status)
	}
}

func TestResume_Idempotent(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	created, err := m.Create(ctx, "s1", "t", []string{"a", "b"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.CompleteStep(ctx, created.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := m.Suspend(ctx, created.ID); err != nil {
		t.Fatalf("suspend: %v", err)
	}

	first, firstNext, err := m.Resume(ctx, "s1")
	if err != nil {
		t.Fatalf("first resume: %v", err)
	}
	second, secondNext, err := m.Resume(ctx, "s1")
	if err != nil {
		t.Fatalf("second resume: %v", err)
	}
	if first.ID != second.ID || firstNext != secondNext {
		t.Fatalf("resume not idempotent: %q/%q vs %q/%q", first.ID, firstNext, second.ID, secondNext)
	}
	if second.CurrentStep != first.CurrentStep {
		t.Fatalf("second resume moved the step pointer: %d vs %d", second.CurrentStep, first.CurrentStep)
	}
}

func TestResume_NothingToContinue(t *testing.T) {
	m := newTestManager(t)

	_, _, err := m.Resume(context.Background(), "empty-session")
	if !errors.Is(err, ErrNoResumableTask) {
		t.Fatalf("expected ErrNoResumableTask, got %v", err)
	}
}

func TestResume_FailedTaskReplaysFailingStep(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	created, err := m.Create(ctx, "s1", "flaky", []string{"fetch", "process"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := m.CompleteStep(ctx, created.ID); err != nil {
		t.Fatalf("complete fetch: %v", err)
	}
	if err := m.Fail(ctx, created.ID, fmt.Errorf("connection refused")); err != nil {
		t.Fatalf("fail: %v", err)
	}

	failed, err := m.store.GetTask(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if failed.RecoveryHint == "" {
		t.Fatal("failed task should carry a recovery hint")
	}

	resumed, next, err := m.Resume(ctx, "s1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if next != "process" {
		t.Fatalf("expected to replay the failing step, got %q", next)
	}
	if resumed.LastError != "" {
		t.Fatalf("resume should clear last error, got %q", resumed.LastError)
	}
}

func TestClassifyFailure(t *testing.T) {
	cases := []struct {
		err  error
		want FailureClass
	}{
		{fmt.Errorf("dial tcp: connection refused"), FailureNetwork},
		{fmt.Errorf("context deadline exceeded"), FailureTimeout},
		{fmt.Errorf("invalid step input"), FailureValidation},
		{context.Canceled, FailureInterruption},
		{fmt.Errorf("something odd"), FailureUnknown},
	}
	for _, tc := range cases {
		if got := ClassifyFailure(tc.err); got != tc.want {
			t.Errorf("ClassifyFailure(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}
