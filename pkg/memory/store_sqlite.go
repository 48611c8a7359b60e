package memory

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

// SQLiteStore is the canonical persistent session storage.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates/opens the session database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create memory db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process service. One shared connection avoids writer lock
	// contention with SQLite under concurrent goroutines.
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
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL DEFAULT '',
			platform TEXT NOT NULL DEFAULT '',
			write_counter INTEGER NOT NULL DEFAULT 0,
			summary TEXT NOT NULL DEFAULT '',
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			platform TEXT NOT NULL DEFAULT '',
			counter INTEGER NOT NULL,
			user_text TEXT NOT NULL,
			reply_text TEXT NOT NULL DEFAULT '',
			evidence_json TEXT NOT NULL DEFAULT '[]',
			created_at_ms INTEGER NOT NULL,
			archived INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS turns_session_counter_idx ON turns(session_id, counter);`,
		`CREATE INDEX IF NOT EXISTS turns_session_active_idx ON turns(session_id, archived, counter DESC);`,
		`CREATE TABLE IF NOT EXISTS memory_records (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			record_key TEXT NOT NULL,
			content TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 0,
			source_turn_id TEXT NOT NULL DEFAULT '',
			created_at_ms INTEGER NOT NULL,
			last_seen_at_ms INTEGER NOT NULL,
			expires_at_ms INTEGER NOT NULL DEFAULT 0,
			superseded_at_ms INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS memory_records_active_idx ON memory_records(session_id, kind, record_key) WHERE superseded_at_ms = 0;`,
		`CREATE INDEX IF NOT EXISTS memory_records_scope_idx ON memory_records(session_id, superseded_at_ms, expires_at_ms, last_seen_at_ms DESC);`,
		`CREATE TABLE IF NOT EXISTS write_retries (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			status TEXT NOT NULL,
			payload_json TEXT NOT NULL DEFAULT '{}',
			attempts INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			run_after_ms INTEGER NOT NULL,
			lease_until_ms INTEGER NOT NULL DEFAULT 0,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS write_retries_claim_idx ON write_retries(status, run_after_ms, lease_until_ms, created_at_ms);`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS memory_records_fts USING fts5(record_id UNINDEXED, content, tokenize='unicode61 remove_diacritics 2');`,
		`CREATE TRIGGER IF NOT EXISTS memory_records_ai AFTER INSERT ON memory_records BEGIN
			INSERT INTO memory_records_fts(record_id, content) VALUES (new.id, new.content);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS memory_records_au AFTER UPDATE OF content ON memory_records BEGIN
			INSERT INTO memory_records_fts(memory_records_fts, rowid, record_id, content) VALUES('delete', old.rowid, old.id, old.content);
			INSERT INTO memory_records_fts(record_id, content) VALUES(new.id, new.content);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS memory_records_ad AFTER DELETE ON memory_records BEGIN
			INSERT INTO memory_records_fts(memory_records_fts, rowid, record_id, content) VALUES('delete', old.rowid, old.id, old.content);
		END;`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init sqlite schema failed on %q: %w", trimSQL(stmt), err)
		}
	}
	return nil
}

func trimSQL(sql string) string {
	line := strings.TrimSpace(sql)
	if len(line) > 96 {
		return line[:96] + "..."
	}
	return line
}

func nowMS() int64 { return time.Now().UnixMilli() }

func encodeMap(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func decodeMap(raw string) map[string]string {
	if raw == "" {
		return map[string]string{}
	}
	out := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]string{}
	}
	return out
}

func encodeStrings(ss []string) string {
	if len(ss) == 0 {
		return "[]"
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeStrings(raw string) []string {
	if raw == "" {
		return nil
	}
	out := []string{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func (s *SQLiteStore) EnsureSession(ctx context.Context, sessionID, userID, platform string) error {
	now := nowMS()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions(id, user_id, platform, write_counter, summary, created_at_ms, updated_at_ms)
VALUES(?, ?, ?, 0, '', ?, ?)
ON CONFLICT(id) DO UPDATE SET
	user_id = CASE WHEN sessions.user_id = '' THEN excluded.user_id ELSE sessions.user_id END,
	platform = CASE WHEN excluded.platform <> '' THEN excluded.platform ELSE sessions.platform END,
	updated_at_ms = excluded.updated_at_ms`,
		sessionID, userID, platform, now, now)
	if err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, user_id, platform, write_counter, summary, created_at_ms, updated_at_ms
FROM sessions WHERE id = ?`, sessionID)
	var out Session
	if err := row.Scan(&out.ID, &out.UserID, &out.Platform, &out.WriteCounter, &out.Summary, &out.CreatedAtMS, &out.UpdatedAtMS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return out, nil
}

// AppendTurn assigns the logical write counter and persists the turn in one
// transaction. The returned turn carries the assigned counter.
func (s *SQLiteStore) AppendTurn(ctx context.Context, turn Turn) (Turn, error) {
	if strings.TrimSpace(turn.SessionID) == "" {
		return Turn{}, fmt.Errorf("append turn: empty session id")
	}
	if turn.ID == "" {
		turn.ID = "trn-" + uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Turn{}, fmt.Errorf("append turn begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := nowMS()
	if _, err := tx.ExecContext(ctx, `
INSERT INTO sessions(id, user_id, platform, write_counter, summary, created_at_ms, updated_at_ms)
VALUES(?, '', ?, 0, '', ?, ?)
ON CONFLICT(id) DO UPDATE SET
	platform = CASE WHEN excluded.platform <> '' THEN excluded.platform ELSE sessions.platform END,
	updated_at_ms = excluded.updated_at_ms`, turn.SessionID, turn.Platform, now, now); err != nil {
		return Turn{}, fmt.Errorf("append turn ensure session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
UPDATE sessions SET write_counter = write_counter + 1, updated_at_ms = ? WHERE id = ?`, now, turn.SessionID); err != nil {
		return Turn{}, fmt.Errorf("append turn bump counter: %w", err)
	}

	row := tx.QueryRowContext(ctx, `SELECT write_counter FROM sessions WHERE id = ?`, turn.SessionID)
	if err := row.Scan(&turn.Counter); err != nil {
		return Turn{}, fmt.Errorf("append turn read counter: %w", err)
	}

	archived := 0
	if turn.Archived {
		archived = 1
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO turns(id, session_id, platform, counter, user_text, reply_text, evidence_json, created_at_ms, archived)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		turn.ID, turn.SessionID, turn.Platform, turn.Counter, turn.UserText, turn.ReplyText,
		encodeStrings(turn.EvidenceIDs), turn.CreatedAt.UnixMilli(), archived); err != nil {
		return Turn{}, fmt.Errorf("append turn insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Turn{}, fmt.Errorf("append turn commit: %w", err)
	}
	return turn, nil
}

// ListRecentTurns returns up to limit turns ordered by counter ascending.
func (s *SQLiteStore) ListRecentTurns(ctx context.Context, sessionID string, limit int, includeArchived bool) ([]Turn, error) {
	if limit <= 0 {
		limit = 1
	}
	archivedFilter := 0
	if includeArchived {
		archivedFilter = 1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, session_id, platform, counter, user_text, reply_text, evidence_json, created_at_ms, archived
FROM turns
WHERE session_id = ?
AND (? = 1 OR archived = 0)
ORDER BY counter DESC
LIMIT ?`, sessionID, archivedFilter, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent turns: %w", err)
	}
	defer rows.Close()

	out := make([]Turn, 0, limit)
	for rows.Next() {
		var t Turn
		var createdMS int64
		var evidenceRaw string
		var archived int
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Platform, &t.Counter, &t.UserText, &t.ReplyText, &evidenceRaw, &createdMS, &archived); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.EvidenceIDs = decodeStrings(evidenceRaw)
		t.CreatedAt = time.UnixMilli(createdMS)
		t.Archived = archived != 0
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *SQLiteStore) CountActiveTurns(ctx context.Context, sessionID string) (int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns WHERE session_id = ? AND archived = 0`, sessionID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count active turns: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) ArchiveTurnsBefore(ctx context.Context, sessionID string, keepLatest int) (int, error) {
	if keepLatest < 0 {
		keepLatest = 0
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE turns
SET archived = 1
WHERE session_id = ?
AND archived = 0
AND id NOT IN (
	SELECT id FROM turns
	WHERE session_id = ? AND archived = 0
	ORDER BY counter DESC
	LIMIT ?
)`, sessionID, sessionID, keepLatest)
	if err != nil {
		return 0, fmt.Errorf("archive turns before: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) GetSessionSummary(ctx context.Context, sessionID string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT summary FROM sessions WHERE id = ?`, sessionID)
	var summary string
	if err := row.Scan(&summary); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("get session summary: %w", err)
	}
	return summary, nil
}

func (s *SQLiteStore) SetSessionSummary(ctx context.Context, sessionID, summary string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET summary = ?, updated_at_ms = ? WHERE id = ?`, summary, nowMS(), sessionID)
	if err != nil {
		return fmt.Errorf("set session summary: %w", err)
	}
	return nil
}

// UpsertRecord supersedes any active record with the same (session, kind,
// key) and inserts the new row. Old rows are kept for history.
func (s *SQLiteStore) UpsertRecord(ctx context.Context, rec MemoryRecord) (MemoryRecord, error) {
	if rec.ID == "" {
		rec.ID = "mem-" + uuid.NewString()
	}
	now := nowMS()
	if rec.CreatedAtMS == 0 {
		rec.CreatedAtMS = now
	}
	if rec.LastSeenAtMS == 0 {
		rec.LastSeenAtMS = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return MemoryRecord{}, fmt.Errorf("upsert record begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
UPDATE memory_records
SET superseded_at_ms = ?
WHERE session_id = ? AND kind = ? AND record_key = ? AND superseded_at_ms = 0`,
		now, rec.SessionID, string(rec.Kind), rec.Key); err != nil {
		return MemoryRecord{}, fmt.Errorf("supersede record: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO memory_records(id, session_id, kind, record_key, content, confidence, source_turn_id, created_at_ms, last_seen_at_ms, expires_at_ms, superseded_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		rec.ID, rec.SessionID, string(rec.Kind), rec.Key, rec.Content, rec.Confidence,
		rec.SourceTurnID, rec.CreatedAtMS, rec.LastSeenAtMS, rec.ExpiresAtMS); err != nil {
		return MemoryRecord{}, fmt.Errorf("insert record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return MemoryRecord{}, fmt.Errorf("upsert record commit: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) ListActiveRecords(ctx context.Context, sessionID string, limit int) ([]MemoryRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	now := nowMS()
	rows, err := s.db.QueryContext(ctx, `
SELECT id, session_id, kind, record_key, content, confidence, source_turn_id, created_at_ms, last_seen_at_ms, expires_at_ms, superseded_at_ms
FROM memory_records
WHERE session_id = ?
AND superseded_at_ms = 0
AND (expires_at_ms = 0 OR expires_at_ms > ?)
ORDER BY last_seen_at_ms DESC
LIMIT ?`, sessionID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list active records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func (s *SQLiteStore) SearchRecordsFTS(ctx context.Context, sessionID, query string, limit int) ([]MemoryRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query = buildFTSQuery(query)
	if query == "" {
		return nil, nil
	}
	now := nowMS()
	rows, err := s.db.QueryContext(ctx, `
SELECT m.id, m.session_id, m.kind, m.record_key, m.content, m.confidence, m.source_turn_id, m.created_at_ms, m.last_seen_at_ms, m.expires_at_ms, m.superseded_at_ms
FROM memory_records_fts f
JOIN memory_records m ON m.id = f.record_id
WHERE f.content MATCH ?
AND m.session_id = ?
AND m.superseded_at_ms = 0
AND (m.expires_at_ms = 0 OR m.expires_at_ms > ?)
ORDER BY bm25(memory_records_fts), m.last_seen_at_ms DESC
LIMIT ?`, query, sessionID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("search records fts: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]MemoryRecord, error) {
	out := []MemoryRecord{}
	for rows.Next() {
		var r MemoryRecord
		var kind string
		if err := rows.Scan(&r.ID, &r.SessionID, &kind, &r.Key, &r.Content, &r.Confidence, &r.SourceTurnID, &r.CreatedAtMS, &r.LastSeenAtMS, &r.ExpiresAtMS, &r.SupersededAtMS); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.Kind = RecordKind(kind)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

// buildFTSQuery quotes each token so user input cannot inject FTS syntax.
func buildFTSQuery(query string) string {
	tokens := strings.Fields(strings.TrimSpace(query))
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.ReplaceAll(tok, `"`, "")
		if tok == "" {
			continue
		}
		quoted = append(quoted, `"`+tok+`"`)
	}
	return strings.Join(quoted, " ")
}

func (s *SQLiteStore) PurgeExpiredRecords(ctx context.Context, atMS int64) (int, error) {
	if atMS == 0 {
		atMS = nowMS()
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE memory_records
SET superseded_at_ms = ?
WHERE superseded_at_ms = 0 AND expires_at_ms > 0 AND expires_at_ms <= ?`, atMS, atMS)
	if err != nil {
		return 0, fmt.Errorf("purge expired records: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) EnqueueRetry(ctx context.Context, job RetryJob) error {
	now := nowMS()
	if job.ID == "" {
		job.ID = "rty-" + uuid.NewString()
	}
	if job.Status == "" {
		job.Status = RetryPending
	}
	if job.RunAfterMS == 0 {
		job.RunAfterMS = now
	}
	if job.CreatedAtMS == 0 {
		job.CreatedAtMS = now
	}
	if job.UpdatedAtMS == 0 {
		job.UpdatedAtMS = now
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO write_retries(id, session_id, status, payload_json, attempts, error, run_after_ms, lease_until_ms, created_at_ms, updated_at_ms)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	status = excluded.status,
	payload_json = excluded.payload_json,
	attempts = excluded.attempts,
	error = excluded.error,
	run_after_ms = excluded.run_after_ms,
	lease_until_ms = excluded.lease_until_ms,
	updated_at_ms = excluded.updated_at_ms`,
		job.ID, job.SessionID, job.Status, encodeMap(job.Payload), job.Attempts,
		job.Error, job.RunAfterMS, job.LeaseUntilMS, job.CreatedAtMS, job.UpdatedAtMS)
	if err != nil {
		return fmt.Errorf("enqueue retry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ClaimNextRetry(ctx context.Context, atMS, leaseForMS int64) (RetryJob, bool, error) {
	if leaseForMS <= 0 {
		leaseForMS = 60_000
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return RetryJob{}, false, fmt.Errorf("claim retry begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
SELECT id, session_id, status, payload_json, attempts, error, run_after_ms, lease_until_ms, created_at_ms, updated_at_ms
FROM write_retries
WHERE run_after_ms <= ?
AND (status = ? OR (status = ? AND lease_until_ms <= ?))
ORDER BY created_at_ms ASC
LIMIT 1`, atMS, RetryPending, RetryRunning, atMS)

	var job RetryJob
	var payloadRaw string
	if err := row.Scan(&job.ID, &job.SessionID, &job.Status, &payloadRaw, &job.Attempts, &job.Error, &job.RunAfterMS, &job.LeaseUntilMS, &job.CreatedAtMS, &job.UpdatedAtMS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RetryJob{}, false, nil
		}
		return RetryJob{}, false, fmt.Errorf("claim retry select: %w", err)
	}

	leaseUntil := atMS + leaseForMS
	res, err := tx.ExecContext(ctx, `
UPDATE write_retries
SET status = ?, lease_until_ms = ?, attempts = attempts + 1, updated_at_ms = ?, error = ''
WHERE id = ? AND (status = ? OR (status = ? AND lease_until_ms <= ?))`,
		RetryRunning, leaseUntil, atMS, job.ID, RetryPending, RetryRunning, atMS)
	if err != nil {
		return RetryJob{}, false, fmt.Errorf("claim retry update: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return RetryJob{}, false, nil
	}

	if err := tx.Commit(); err != nil {
		return RetryJob{}, false, fmt.Errorf("claim retry commit: %w", err)
	}

	job.Status = RetryRunning
	job.LeaseUntilMS = leaseUntil
	job.Attempts++
	job.UpdatedAtMS = atMS
	job.Payload = decodeMap(payloadRaw)
	return job, true, nil
}

func (s *SQLiteStore) CompleteRetry(ctx context.Context, id string) error {
	now := nowMS()
	_, err := s.db.ExecContext(ctx, `
UPDATE write_retries
SET status = ?, updated_at_ms = ?, lease_until_ms = 0
WHERE id = ?`, RetryCompleted, now, id)
	if err != nil {
		return fmt.Errorf("complete retry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FailRetry(ctx context.Context, id, errMsg string) error {
	now := nowMS()
	_, err := s.db.ExecContext(ctx, `
UPDATE write_retries
SET status = ?, error = ?, updated_at_ms = ?, lease_until_ms = 0
WHERE id = ?`, RetryFailed, errMsg, now, id)
	if err != nil {
		return fmt.Errorf("fail retry: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RequeueExpiredRetries(ctx context.Context, atMS int64) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE write_retries
SET status = ?, updated_at_ms = ?, error = ''
WHERE status = ? AND lease_until_ms > 0 AND lease_until_ms <= ?`, RetryPending, atMS, RetryRunning, atMS)
	if err != nil {
		return fmt.Errorf("requeue expired retries: %w", err)
	}
	return nil
}
