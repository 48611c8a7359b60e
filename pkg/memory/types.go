package memory

import "time"

// Session is one continuity scope. All platforms sharing a session id see
// the same conversational state.
type Session struct {
	ID           string
	UserID       string
	Platform     string
	WriteCounter int64
	Summary      string
	CreatedAtMS  int64
	UpdatedAtMS  int64
}

// Turn is one user message plus the agent reply. Counter is the session's
// logical write counter, assigned by the store inside the append
// transaction. Ordering decisions always use Counter, never wall clock.
type Turn struct {
	ID          string
	SessionID   string
	Platform    string
	Counter     int64
	UserText    string
	ReplyText   string
	EvidenceIDs []string
	CreatedAt   time.Time
	Archived    bool
}

type RecordKind string

const (
	RecordPreference RecordKind = "preference"
	RecordIdentity   RecordKind = "identity"
	RecordFact       RecordKind = "fact"
	RecordTaskNote   RecordKind = "task_note"
	RecordEpisode    RecordKind = "episode"
)

// MemoryRecord is a durable semantic memory distilled from turns. Records
// sharing a key supersede each other; old rows keep their supersession
// timestamp instead of being mutated.
type MemoryRecord struct {
	ID             string
	SessionID      string
	Kind           RecordKind
	Key            string
	Content        string
	Confidence     float64
	SourceTurnID   string
	CreatedAtMS    int64
	LastSeenAtMS   int64
	ExpiresAtMS    int64
	SupersededAtMS int64
}

// SessionContext is the merged view handed to the controller before each
// reply. Degraded marks a context served while the store was unreachable:
// structurally valid, possibly empty.
type SessionContext struct {
	SessionID string
	Turns     []Turn
	Records   []MemoryRecord
	Summary   string
	Degraded  bool
}

type RetryStatus string

const (
	RetryPending   RetryStatus = "pending"
	RetryRunning   RetryStatus = "running"
	RetryCompleted RetryStatus = "completed"
	RetryFailed    RetryStatus = "failed"
)

// RetryJob is a durable record of a turn write that failed on the request
// path and is owed at least one background attempt.
type RetryJob struct {
	ID           string
	SessionID    string
	Status       RetryStatus
	Payload      map[string]string
	Attempts     int
	Error        string
	RunAfterMS   int64
	LeaseUntilMS int64
	CreatedAtMS  int64
	UpdatedAtMS  int64
}
