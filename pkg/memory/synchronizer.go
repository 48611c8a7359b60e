package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yukioka/tsuzuki/pkg/bus"
	"github.com/yukioka/tsuzuki/pkg/logger"
)

// Config tunes the synchronizer. Zero values fall back to defaults.
type Config struct {
	ContextTurns       int
	ContextRecords     int
	RetentionTurns     int
	WorkerPollMS       int
	WorkerLeaseSeconds int
	RecordTTLDays      int
}

func (c Config) withDefaults() Config {
	if c.ContextTurns <= 0 {
		c.ContextTurns = 24
	}
	if c.ContextRecords <= 0 {
		c.ContextRecords = 16
	}
	if c.RetentionTurns <= 0 {
		c.RetentionTurns = 48
	}
	if c.WorkerPollMS <= 0 {
		c.WorkerPollMS = 700
	}
	if c.WorkerLeaseSeconds <= 0 {
		c.WorkerLeaseSeconds = 60
	}
	if c.RecordTTLDays <= 0 {
		c.RecordTTLDays = 180
	}
	return c
}

// Synchronizer presents one conversational state to every platform. Reads
// merge recent turns and promoted records; writes assign the session's
// logical counter and survive transient store failures via a durable retry
// queue.
type Synchronizer struct {
	store *SQLiteStore
	cfg   Config
	bus   *bus.EventBus
	log   *zap.Logger

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewSynchronizer(store *SQLiteStore, cfg Config, eventBus *bus.EventBus) *Synchronizer {
	return &Synchronizer{
		store:  store,
		cfg:    cfg.withDefaults(),
		bus:    eventBus,
		log:    logger.Named("memory"),
		stopCh: make(chan struct{}),
	}
}

// Start launches the background write-retry worker.
func (s *Synchronizer) Start() {
	s.wg.Add(1)
	go s.workerLoop()
}

func (s *Synchronizer) Close() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

// EnsureSession registers a session with its originating platform before
// the first turn is written. Idempotent; later writes keep the row fresh.
func (s *Synchronizer) EnsureSession(ctx context.Context, sessionID, userID, platform string) error {
	return s.store.EnsureSession(ctx, sessionID, userID, platform)
}

// Session returns the stored session state, ErrSessionNotFound when the id
// is unknown.
func (s *Synchronizer) Session(ctx context.Context, sessionID string) (Session, error) {
	return s.store.GetSession(ctx, sessionID)
}

// ReadContext returns the merged context for a session. A store failure
// degrades to an empty, structurally valid context with Degraded set; the
// caller keeps serving.
func (s *Synchronizer) ReadContext(ctx context.Context, sessionID string) SessionContext {
	out := SessionContext{SessionID: sessionID}

	turns, err := s.store.ListRecentTurns(ctx, sessionID, s.cfg.ContextTurns, false)
	if err != nil {
		s.log.Warn("read context degraded", zap.String("session", sessionID), zap.Error(err))
		out.Degraded = true
		return out
	}
	out.Turns = turns

	records, err := s.store.ListActiveRecords(ctx, sessionID, s.cfg.ContextRecords)
	if err != nil {
		s.log.Warn("read records degraded", zap.String("session", sessionID), zap.Error(err))
		out.Degraded = true
		return out
	}
	out.Records = records

	if summary, err := s.store.GetSessionSummary(ctx, sessionID); err == nil {
		out.Summary = summary
	}
	return out
}

// WriteTurn persists the turn and, best effort, promotes durable records
// and applies retention. A failed append is retried once synchronously;
// if that fails too the turn is queued for background replay and the
// error is returned wrapped in ErrStoreUnavailable.
func (s *Synchronizer) WriteTurn(ctx context.Context, turn Turn) (Turn, error) {
	written, err := s.store.AppendTurn(ctx, turn)
	if err != nil {
		written, err = s.store.AppendTurn(ctx, turn)
	}
	if err != nil {
		s.log.Error("write turn failed, queueing retry", zap.String("session", turn.SessionID), zap.Error(err))
		if qerr := s.enqueueRetry(ctx, turn); qerr != nil {
			s.log.Error("queue write retry failed", zap.String("session", turn.SessionID), zap.Error(qerr))
		}
		if s.bus != nil {
			s.bus.Publish(bus.Event{Kind: bus.EventTurnWriteFailed, SessionID: turn.SessionID, At: time.Now()})
		}
		return Turn{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := s.Promote(ctx, written); err != nil {
		s.log.Warn("promote turn failed", zap.String("turn", written.ID), zap.Error(err))
	}
	if err := s.compactIfNeeded(ctx, written.SessionID); err != nil {
		s.log.Warn("retention pass failed", zap.String("session", written.SessionID), zap.Error(err))
	}

	if s.bus != nil {
		s.bus.Publish(bus.Event{
			Kind:      bus.EventTurnWritten,
			SessionID: written.SessionID,
			Platform:  written.Platform,
			TurnID:    written.ID,
			Counter:   written.Counter,
			At:        time.Now(),
		})
	}
	return written, nil
}

// Promote distills a turn into durable records when it carries preference,
// identity, or fact signals. Same-key records supersede older ones.
func (s *Synchronizer) Promote(ctx context.Context, turn Turn) error {
	candidates := extractRecords(turn)
	ttl := time.Duration(s.cfg.RecordTTLDays) * 24 * time.Hour
	for _, rec := range candidates {
		if rec.Kind == RecordFact || rec.Kind == RecordTaskNote {
			rec.ExpiresAtMS = nowMS() + ttl.Milliseconds()
		}
		if _, err := s.store.UpsertRecord(ctx, rec); err != nil {
			return fmt.Errorf("promote record %s: %w", rec.Key, err)
		}
	}
	return nil
}

// SearchRecords backs the memory-search endpoint: FTS over active records,
// most relevant first.
func (s *Synchronizer) SearchRecords(ctx context.Context, sessionID, query string, limit int) ([]MemoryRecord, error) {
	if limit <= 0 {
		limit = s.cfg.ContextRecords
	}
	records, err := s.store.SearchRecordsFTS(ctx, sessionID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search records: %w", err)
	}
	return records, nil
}

// RunMaintenance is invoked on the cron schedule: requeue expired retry
// leases and drop expired records.
func (s *Synchronizer) RunMaintenance(ctx context.Context) {
	now := nowMS()
	if err := s.store.RequeueExpiredRetries(ctx, now); err != nil {
		s.log.Warn("requeue expired retries failed", zap.Error(err))
	}
	if n, err := s.store.PurgeExpiredRecords(ctx, now); err != nil {
		s.log.Warn("purge expired records failed", zap.Error(err))
	} else if n > 0 {
		s.log.Info("purged expired records", zap.Int("count", n))
	}
}

// compactIfNeeded summarizes the oldest turn span into one episode record
// and archives those turns once the session exceeds the retention window.
func (s *Synchronizer) compactIfNeeded(ctx context.Context, sessionID string) error {
	count, err := s.store.CountActiveTurns(ctx, sessionID)
	if err != nil {
		return err
	}
	if count <= s.cfg.RetentionTurns {
		return nil
	}

	keep := s.cfg.ContextTurns
	turns, err := s.store.ListRecentTurns(ctx, sessionID, count, false)
	if err != nil {
		return err
	}
	if len(turns) <= keep {
		return nil
	}
	span := turns[:len(turns)-keep]

	existing, _ := s.store.GetSessionSummary(ctx, sessionID)
	summary := summarizeTurnSpan(existing, span)
	if err := s.store.SetSessionSummary(ctx, sessionID, summary); err != nil {
		return err
	}

	episode := MemoryRecord{
		SessionID:    sessionID,
		Kind:         RecordEpisode,
		Key:          fmt.Sprintf("episode/%d-%d", span[0].Counter, span[len(span)-1].Counter),
		Content:      summary,
		Confidence:   0.6,
		SourceTurnID: span[len(span)-1].ID,
	}
	if _, err := s.store.UpsertRecord(ctx, episode); err != nil {
		return err
	}

	archived, err := s.store.ArchiveTurnsBefore(ctx, sessionID, keep)
	if err != nil {
		return err
	}
	s.log.Info("archived turn span",
		zap.String("session", sessionID),
		zap.Int("archived", archived),
		zap.Int("kept", keep))
	return nil
}

// summarizeTurnSpan folds an archived span into the rolling session
// summary. Deterministic; no model call on the retention path.
func summarizeTurnSpan(existing string, span []Turn) string {
	parts := []string{}
	if strings.TrimSpace(existing) != "" {
		parts = append(parts, strings.TrimSpace(existing))
	}
	if len(span) > 0 {
		parts = append(parts, fmt.Sprintf("Archived turns %d-%d (%d total).",
			span[0].Counter, span[len(span)-1].Counter, len(span)))
	}

	bullets := 0
	for _, t := range span {
		line := strings.TrimSpace(t.UserText)
		if line == "" {
			continue
		}
		if r := []rune(line); len(r) > 160 {
			line = string(r[:160]) + "..."
		}
		parts = append(parts, "- User topic: "+line)
		bullets++
		if bullets >= 6 {
			break
		}
	}
	return strings.Join(parts, "\n")
}

func (s *Synchronizer) enqueueRetry(ctx context.Context, turn Turn) error {
	payload, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("encode retry payload: %w", err)
	}
	return s.store.EnqueueRetry(ctx, RetryJob{
		SessionID: turn.SessionID,
		Payload:   map[string]string{"turn_json": string(payload)},
	})
}

func (s *Synchronizer) workerLoop() {
	defer s.wg.Done()
	poll := time.Duration(s.cfg.WorkerPollMS) * time.Millisecond
	lease := int64(s.cfg.WorkerLeaseSeconds) * 1000

	for {
		select {
		case <-s.stopCh:
			return
		case <-time.After(poll):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		s.drainRetries(ctx, lease)
		cancel()
	}
}

func (s *Synchronizer) drainRetries(ctx context.Context, leaseMS int64) {
	const maxBatch = 32
	for i := 0; i < maxBatch; i++ {
		job, ok, err := s.store.ClaimNextRetry(ctx, nowMS(), leaseMS)
		if err != nil {
			s.log.Warn("claim retry failed", zap.Error(err))
			return
		}
		if !ok {
			return
		}
		s.runRetry(ctx, job)
	}
}

func (s *Synchronizer) runRetry(ctx context.Context, job RetryJob) {
	raw := job.Payload["turn_json"]
	var turn Turn
	if err := json.Unmarshal([]byte(raw), &turn); err != nil {
		_ = s.store.FailRetry(ctx, job.ID, fmt.Sprintf("decode payload: %v", err))
		return
	}
	// Counter is reassigned on replay; the failed attempt never committed one.
	turn.Counter = 0

	written, err := s.store.AppendTurn(ctx, turn)
	if err != nil {
		_ = s.store.FailRetry(ctx, job.ID, err.Error())
		s.log.Warn("write retry failed", zap.String("session", turn.SessionID), zap.Int("attempts", job.Attempts), zap.Error(err))
		return
	}
	_ = s.store.CompleteRetry(ctx, job.ID)
	s.log.Info("write retry succeeded", zap.String("session", written.SessionID), zap.String("turn", written.ID))
	if s.bus != nil {
		s.bus.Publish(bus.Event{
			Kind:      bus.EventTurnWritten,
			SessionID: written.SessionID,
			TurnID:    written.ID,
			Counter:   written.Counter,
			At:        time.Now(),
		})
	}
}
