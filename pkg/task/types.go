package task

type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Step is one unit of a multi-step task plan.
type Step struct {
	Description string `json:"description"`
	Done        bool   `json:"done"`
}

// Task is a resumable multi-step plan scoped to one session. CurrentStep
// indexes the next step to run; CheckpointSeq only ever increases.
type Task struct {
	ID            string
	SessionID     string
	Title         string
	Status        Status
	Steps         []Step
	CurrentStep   int
	CheckpointSeq int64
	LastError     string
	RecoveryHint  string
	CreatedAtMS   int64
	UpdatedAtMS   int64
}

// NextStep returns the descriptor of the step a resume would run, or ""
// when the plan is exhausted.
func (t Task) NextStep() string {
	if t.CurrentStep < 0 || t.CurrentStep >= len(t.Steps) {
		return ""
	}
	return t.Steps[t.CurrentStep].Description
}

// Remaining counts steps not yet done.
func (t Task) Remaining() int {
	n := 0
	for _, s := range t.Steps {
		if !s.Done {
			n++
		}
	}
	return n
}
