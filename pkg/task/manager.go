package task

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/yukioka/tsuzuki/pkg/logger"
)

// Manager owns the task lifecycle. State transitions flow through here so
// every path records why a task left the active state.
type Manager struct {
	store *SQLiteStore
	log   *zap.Logger
}

func NewManager(store *SQLiteStore) *Manager {
	return &Manager{store: store, log: logger.Named("task")}
}

// Create starts a new active task. ErrStateConflict if the session already
// has one; the existing task is never overwritten.
func (m *Manager) Create(ctx context.Context, sessionID, title string, stepDescriptions []string) (Task, error) {
	steps := make([]Step, 0, len(stepDescriptions))
	for _, d := range stepDescriptions {
		steps = append(steps, Step{Description: d})
	}
	t, err := m.store.CreateTask(ctx, Task{
		SessionID: sessionID,
		Title:     title,
		Status:    StatusActive,
		Steps:     steps,
	})
	if err != nil {
		return Task{}, err
	}
	m.log.Info("task created",
		zap.String("task", t.ID),
		zap.String("session", sessionID),
		zap.Int("steps", len(steps)))
	return t, nil
}

// Active returns the session's active task, if any.
func (m *Manager) Active(ctx context.Context, sessionID string) (Task, bool, error) {
	return m.store.GetActiveTask(ctx, sessionID)
}

// CompleteStep marks the current step done and advances. Finishing the last
// step completes the task. The checkpoint is atomic and monotonic; replays
// of an older checkpoint return ErrStaleCheckpoint.
func (m *Manager) CompleteStep(ctx context.Context, taskID string) (Task, error) {
	t, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	if t.CurrentStep >= len(t.Steps) {
		return t, nil
	}

	t.Steps[t.CurrentStep].Done = true
	t.CurrentStep++
	if err := m.store.Checkpoint(ctx, t.ID, t.Steps, t.CurrentStep, t.CheckpointSeq+1); err != nil {
		return Task{}, err
	}
	t.CheckpointSeq++

	if t.CurrentStep >= len(t.Steps) {
		if err := m.store.SetStatus(ctx, t.ID, StatusCompleted, "", ""); err != nil {
			return Task{}, err
		}
		t.Status = StatusCompleted
		m.log.Info("task completed", zap.String("task", t.ID))
	}
	return t, nil
}

// Suspend parks the active task so the session can do other work.
func (m *Manager) Suspend(ctx context.Context, taskID string) error {
	if err := m.store.SetStatus(ctx, taskID, StatusSuspended, "", ""); err != nil {
		return err
	}
	m.log.Info("task suspended", zap.String("task", taskID))
	return nil
}

// Fail records the failure with a classified recovery hint. The task stays
// resumable.
func (m *Manager) Fail(ctx context.Context, taskID string, cause error) error {
	class := ClassifyFailure(cause)
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := m.store.SetStatus(ctx, taskID, StatusFailed, msg, RecoveryHint(class)); err != nil {
		return err
	}
	m.log.Warn("task failed",
		zap.String("task", taskID),
		zap.String("class", string(class)),
		zap.Error(cause))
	return nil
}

// Resume reactivates the session's most recent resumable task and returns
// it with its next-step descriptor. An already active task resumes in
// place. A failed task gets its failing step reset so it replays.
// ErrNoResumableTask when the session has nothing to continue.
func (m *Manager) Resume(ctx context.Context, sessionID string) (Task, string, error) {
	if active, ok, err := m.store.GetActiveTask(ctx, sessionID); err != nil {
		return Task{}, "", err
	} else if ok {
		return active, active.NextStep(), nil
	}

	t, ok, err := m.store.LatestResumable(ctx, sessionID)
	if err != nil {
		return Task{}, "", err
	}
	if !ok {
		return Task{}, "", ErrNoResumableTask
	}

	if t.Status == StatusFailed {
		if err := m.store.ResetStep(ctx, t.ID, t.CurrentStep); err != nil {
			return Task{}, "", fmt.Errorf("reset failed step: %w", err)
		}
	}
	if err := m.store.SetStatus(ctx, t.ID, StatusActive, "", ""); err != nil {
		return Task{}, "", err
	}
	t.Status = StatusActive
	t.LastError = ""

	m.log.Info("task resumed",
		zap.String("task", t.ID),
		zap.String("session", sessionID),
		zap.Int("next_step", t.CurrentStep))
	return t, t.NextStep(), nil
}
