package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore persists task state in its own database file, separate from
// session memory.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create tasks db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			title TEXT NOT NULL,
			status TEXT NOT NULL,
			steps_json TEXT NOT NULL DEFAULT '[]',
			current_step INTEGER NOT NULL DEFAULT 0,
			checkpoint_seq INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			recovery_hint TEXT NOT NULL DEFAULT '',
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
		// The single-active-task invariant lives in the schema, not in
		// application checks.
		`CREATE UNIQUE INDEX IF NOT EXISTS tasks_active_unique ON tasks(session_id) WHERE status = 'active';`,
		`CREATE INDEX IF NOT EXISTS tasks_session_idx ON tasks(session_id, updated_at_ms DESC);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init tasks schema: %w", err)
		}
	}
	return nil
}

func nowMS() int64 { return time.Now().UnixMilli() }

func encodeSteps(steps []Step) string {
	if len(steps) == 0 {
		return "[]"
	}
	b, err := json.Marshal(steps)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeSteps(raw string) []Step {
	if raw == "" {
		return nil
	}
	out := []Step{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *SQLiteStore) CreateTask(ctx context.Context, t Task) (Task, error) {
	if t.ID == "" {
		t.ID = "tsk-" + uuid.NewString()
	}
	if t.Status == "" {
		t.Status = StatusActive
	}
	now := nowMS()
	if t.CreatedAtMS == 0 {
		t.CreatedAtMS = now
	}
	t.UpdatedAtMS = now

	_, err := s.db.ExecContext(ctx, `
INSERT INTO tasks(id, session_id, title, status, steps_json, current_step, checkpoint_seq, last_error, recovery_hint, created_at_ms, updated_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.SessionID, t.Title, string(t.Status), encodeSteps(t.Steps),
		t.CurrentStep, t.CheckpointSeq, t.LastError, t.RecoveryHint, t.CreatedAtMS, t.UpdatedAtMS)
	if err != nil {
		if isUniqueViolation(err) {
			return Task{}, ErrStateConflict
		}
		return Task{}, fmt.Errorf("create task: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (Task, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, session_id, title, status, steps_json, current_step, checkpoint_seq, last_error, recovery_hint, created_at_ms, updated_at_ms
FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, ErrTaskNotFound
		}
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) GetActiveTask(ctx context.Context, sessionID string) (Task, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, session_id, title, status, steps_json, current_step, checkpoint_seq, last_error, recovery_hint, created_at_ms, updated_at_ms
FROM tasks WHERE session_id = ? AND status = ?`, sessionID, StatusActive)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, false, nil
		}
		return Task{}, false, fmt.Errorf("get active task: %w", err)
	}
	return t, true, nil
}

// LatestResumable returns the most recently touched suspended or failed
// task for the session.
func (s *SQLiteStore) LatestResumable(ctx context.Context, sessionID string) (Task, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, session_id, title, status, steps_json, current_step, checkpoint_seq, last_error, recovery_hint, created_at_ms, updated_at_ms
FROM tasks
WHERE session_id = ? AND status IN (?, ?)
ORDER BY updated_at_ms DESC
LIMIT 1`, sessionID, StatusSuspended, StatusFailed)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, false, nil
		}
		return Task{}, false, fmt.Errorf("latest resumable: %w", err)
	}
	return t, true, nil
}

// Checkpoint writes the step state in one transaction, guarded so the
// sequence only moves forward. A partially applied checkpoint is never
// visible.
func (s *SQLiteStore) Checkpoint(ctx context.Context, id string, steps []Step, currentStep int, seq int64) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE tasks
SET steps_json = ?, current_step = ?, checkpoint_seq = ?, updated_at_ms = ?
WHERE id = ? AND checkpoint_seq < ?`,
		encodeSteps(steps), currentStep, seq, nowMS(), id, seq)
	if err != nil {
		return fmt.Errorf("checkpoint task: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		if _, gerr := s.GetTask(ctx, id); gerr != nil {
			return gerr
		}
		return ErrStaleCheckpoint
	}
	return nil
}

func (s *SQLiteStore) SetStatus(ctx context.Context, id string, status Status, lastError, recoveryHint string) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE tasks
SET status = ?, last_error = ?, recovery_hint = ?, updated_at_ms = ?
WHERE id = ?`, string(status), lastError, recoveryHint, nowMS(), id)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrStateConflict
		}
		return fmt.Errorf("set task status: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// ResetStep clears the done flag on the given step so a failed resume
// replays it.
func (s *SQLiteStore) ResetStep(ctx context.Context, id string, stepIndex int) error {
	t, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if stepIndex < 0 || stepIndex >= len(t.Steps) {
		return nil
	}
	t.Steps[stepIndex].Done = false
	_, err = s.db.ExecContext(ctx, `
UPDATE tasks SET steps_json = ?, updated_at_ms = ? WHERE id = ?`,
		encodeSteps(t.Steps), nowMS(), id)
	if err != nil {
		return fmt.Errorf("reset step: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (Task, error) {
	var t Task
	var status, stepsRaw string
	if err := row.Scan(&t.ID, &t.SessionID, &t.Title, &status, &stepsRaw, &t.CurrentStep, &t.CheckpointSeq, &t.LastError, &t.RecoveryHint, &t.CreatedAtMS, &t.UpdatedAtMS); err != nil {
		return Task{}, err
	}
	t.Status = Status(status)
	t.Steps = decodeSteps(stepsRaw)
	return t, nil
}
