// Package engine is the continuation controller: it classifies each
// inbound message, routes continuation requests to the task manager, and
// drives the read-context, gather-evidence, draft, persona-filter,
// write-turn pipeline for everything else.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yukioka/tsuzuki/pkg/bus"
	"github.com/yukioka/tsuzuki/pkg/evidence"
	"github.com/yukioka/tsuzuki/pkg/logger"
	"github.com/yukioka/tsuzuki/pkg/memory"
	"github.com/yukioka/tsuzuki/pkg/persona"
	"github.com/yukioka/tsuzuki/pkg/providers"
	"github.com/yukioka/tsuzuki/pkg/task"
)

type Request struct {
	SessionID string `json:"session_id"`
	Platform  string `json:"platform"`
	Message   string `json:"message"`
}

type Reply struct {
	Text       string             `json:"reply"`
	Citations  []persona.Citation `json:"citations,omitempty"`
	TaskStatus string             `json:"task_status,omitempty"`
}

// Tasks is the slice of the task manager the controller drives.
// *task.Manager satisfies it; tests substitute failing implementations.
type Tasks interface {
	Create(ctx context.Context, sessionID, title string, stepDescriptions []string) (task.Task, error)
	Active(ctx context.Context, sessionID string) (task.Task, bool, error)
	CompleteStep(ctx context.Context, taskID string) (task.Task, error)
	Suspend(ctx context.Context, taskID string) error
	Fail(ctx context.Context, taskID string, cause error) error
	Resume(ctx context.Context, sessionID string) (task.Task, string, error)
}

type Options struct {
	// TriggerPhrases is the continuation vocabulary. Empty falls back to
	// the built-in defaults.
	TriggerPhrases []string
	// Platforms restricts which callers are served. Empty allows any.
	Platforms []string
}

type Engine struct {
	memory     *memory.Synchronizer
	tasks      Tasks
	aggregator *evidence.Aggregator
	composer   providers.Composer
	profiles   *persona.Holder
	bus        *bus.EventBus
	classifier *Classifier
	locks      *sessionLocks
	platforms  map[string]struct{}
	triggers   []string
	log        *zap.Logger
}

func New(
	mem *memory.Synchronizer,
	tasks Tasks,
	aggregator *evidence.Aggregator,
	composer providers.Composer,
	profiles *persona.Holder,
	eventBus *bus.EventBus,
	opts Options,
) *Engine {
	platforms := map[string]struct{}{}
	for _, p := range opts.Platforms {
		platforms[strings.ToLower(strings.TrimSpace(p))] = struct{}{}
	}
	return &Engine{
		memory:     mem,
		tasks:      tasks,
		aggregator: aggregator,
		composer:   composer,
		profiles:   profiles,
		bus:        eventBus,
		classifier: NewClassifier(opts.TriggerPhrases),
		locks:      newSessionLocks(),
		platforms:  platforms,
		triggers:   opts.TriggerPhrases,
		log:        logger.Named("engine"),
	}
}

// Handle processes one inbound message end to end. Work for the same
// session id is serialized; failures during the pipeline surface as
// persona-voiced replies, never raw errors.
func (e *Engine) Handle(ctx context.Context, req Request) (Reply, error) {
	if strings.TrimSpace(req.SessionID) == "" || strings.TrimSpace(req.Message) == "" {
		return Reply{}, ErrInvalidRequest
	}
	if len(e.platforms) > 0 {
		if _, ok := e.platforms[strings.ToLower(req.Platform)]; !ok {
			return Reply{}, fmt.Errorf("%w: %q", ErrPlatformNotAllowed, req.Platform)
		}
	}

	unlock := e.locks.lock(req.SessionID)
	defer unlock()

	profile := e.profiles.Current()
	intent := e.classifier.Classify(req.Message)
	e.log.Debug("message classified",
		zap.String("session", req.SessionID),
		zap.String("platform", req.Platform),
		zap.Stringer("intent", intent))

	switch intent {
	case IntentContinue:
		return e.handleContinuation(ctx, req, profile)
	case IntentSetAside:
		return e.handleSetAside(ctx, req, profile)
	}
	return e.handleMessage(ctx, req, intent, profile)
}

func (e *Engine) handleContinuation(ctx context.Context, req Request, profile *persona.Profile) (Reply, error) {
	t, nextStep, err := e.tasks.Resume(ctx, req.SessionID)
	switch {
	case errors.Is(err, task.ErrNoResumableTask):
		// A normal negative response, not an error state.
		text := persona.NothingToContinue(profile)
		e.writeTurn(ctx, req, text, nil)
		return Reply{Text: text}, nil
	case err != nil:
		e.log.Error("resume failed", zap.String("session", req.SessionID), zap.Error(err))
		text := persona.GentleError(profile,
			"I couldn't get to your saved task",
			"the task store didn't respond", e.triggerPhrase())
		return Reply{Text: text}, nil
	}

	text := persona.TaskResumed(profile, t.Title, nextStep)
	status := t.Status
	if nextStep != "" {
		// The continuation turn carries the announced step out; completing
		// it is the checkpoint.
		updated, cerr := e.checkpoint(ctx, req.SessionID, t.ID)
		if cerr != nil {
			return e.failedReply(ctx, req, profile, t, true,
				"I couldn't record our progress", cerr)
		}
		status = updated.Status
	}
	e.writeTurn(ctx, req, text, nil)
	return Reply{Text: text, TaskStatus: string(status)}, nil
}

// handleSetAside parks the active task so the session can do other work
// without losing its progress.
func (e *Engine) handleSetAside(ctx context.Context, req Request, profile *persona.Profile) (Reply, error) {
	t, ok, err := e.tasks.Active(ctx, req.SessionID)
	if err != nil {
		e.log.Error("active task lookup failed", zap.String("session", req.SessionID), zap.Error(err))
		text := persona.GentleError(profile,
			"I couldn't get to your saved task",
			"the task store didn't respond", e.triggerPhrase())
		return Reply{Text: text}, nil
	}
	if !ok {
		text := persona.NothingToSetAside(profile)
		e.writeTurn(ctx, req, text, nil)
		return Reply{Text: text}, nil
	}

	serr := e.tasks.Suspend(ctx, t.ID)
	if serr != nil {
		serr = e.tasks.Suspend(ctx, t.ID)
	}
	if serr != nil {
		return e.failedReply(ctx, req, profile, t, true,
			"I couldn't set the task aside", serr)
	}

	text := persona.TaskSetAside(profile, t.Title, t.Remaining(), e.triggerPhrase())
	e.writeTurn(ctx, req, text, nil)
	return Reply{Text: text, TaskStatus: string(task.StatusSuspended)}, nil
}

func (e *Engine) handleMessage(ctx context.Context, req Request, intent Intent, profile *persona.Profile) (Reply, error) {
	sctx := e.memory.ReadContext(ctx, req.SessionID)

	activeTask, haveTask, err := e.tasks.Active(ctx, req.SessionID)
	if err != nil {
		e.log.Warn("active task lookup failed", zap.String("session", req.SessionID), zap.Error(err))
	}

	// Only the turn that created the task advances it here; unrelated
	// chatter while a task is active must not complete steps that never
	// ran. Continuation turns advance via handleContinuation.
	advanceTask := false
	if intent == IntentMultiStep {
		if haveTask {
			// A second multi-step request never overwrites the task in
			// flight; the user decides what happens to it first.
			text := persona.BusyWithTask(profile, activeTask.Title)
			e.writeTurn(ctx, req, text, nil)
			return Reply{Text: text, TaskStatus: string(activeTask.Status)}, nil
		}
		steps := SplitSteps(req.Message)
		t, cerr := e.tasks.Create(ctx, req.SessionID, taskTitle(steps), steps)
		if errors.Is(cerr, task.ErrStateConflict) {
			// Lost a race with another writer for this session's slot.
			text := persona.BusyWithTask(profile, "your current task")
			e.writeTurn(ctx, req, text, nil)
			return Reply{Text: text, TaskStatus: string(task.StatusActive)}, nil
		}
		if cerr != nil {
			return e.failedReply(ctx, req, profile, task.Task{}, false,
				"I couldn't start tracking that work", cerr)
		}
		activeTask, advanceTask = t, true
	}

	var col evidence.Collection
	if kinds := kindsFor(intent); kinds != nil && e.aggregator != nil {
		col = e.aggregator.ForSession(req.SessionID).Gather(ctx, req.Message, kinds)
	}

	draft, err := e.composer.Draft(ctx, providers.DraftRequest{
		Query:          req.Message,
		ContextSummary: sctx.Summary,
		RecentTurns:    formatTurns(sctx.Turns),
		Evidence:       col.Items,
	})
	if err != nil {
		return e.failedReply(ctx, req, profile, activeTask, advanceTask,
			"I couldn't put an answer together", fmt.Errorf("%w: %v", ErrCompositionFailure, err))
	}

	text, citations := persona.Compose(draft, col, profile)

	reply := Reply{Text: text, Citations: citations}
	if advanceTask {
		updated, cerr := e.checkpoint(ctx, req.SessionID, activeTask.ID)
		if cerr != nil {
			return e.failedReply(ctx, req, profile, activeTask, true,
				"I couldn't record the step we just finished", cerr)
		}
		reply.TaskStatus = string(updated.Status)
	}

	ids := make([]string, 0, len(citations))
	for _, c := range citations {
		ids = append(ids, c.Item.ID)
	}
	if _, werr := e.memory.WriteTurn(ctx, memory.Turn{
		SessionID:   req.SessionID,
		Platform:    req.Platform,
		UserText:    req.Message,
		ReplyText:   text,
		EvidenceIDs: ids,
	}); werr != nil {
		// The write is already queued for background replay; the user
		// still hears about the hiccup instead of a silent gap.
		return e.failedReply(ctx, req, profile, activeTask, advanceTask,
			"I couldn't save our exchange just now", werr)
	}
	return reply, nil
}

// checkpoint advances the task one step, retrying the write once before
// giving up.
func (e *Engine) checkpoint(ctx context.Context, sessionID, taskID string) (task.Task, error) {
	updated, err := e.tasks.CompleteStep(ctx, taskID)
	if err != nil {
		updated, err = e.tasks.CompleteStep(ctx, taskID)
	}
	if err != nil {
		return task.Task{}, err
	}
	e.bus.Publish(bus.Event{
		Kind:      bus.EventTaskCheckpointed,
		SessionID: sessionID,
		TaskID:    updated.ID,
		At:        time.Now(),
	})
	return updated, nil
}

// failedReply marks the task failed (when the failing turn was driving
// one), records the cause for later resume, and returns the persona's
// gentle-error message.
func (e *Engine) failedReply(ctx context.Context, req Request, profile *persona.Profile, t task.Task, failTask bool, problem string, cause error) (Reply, error) {
	e.log.Error("request pipeline failed",
		zap.String("session", req.SessionID),
		zap.String("problem", problem),
		zap.Error(cause))

	status := ""
	if failTask {
		if ferr := e.tasks.Fail(ctx, t.ID, cause); ferr != nil {
			e.log.Error("fail transition failed", zap.String("task", t.ID), zap.Error(ferr))
		}
		status = string(task.StatusFailed)
	}

	text := persona.GentleError(profile, problem, causeSummary(cause), e.triggerPhrase())
	e.writeTurn(ctx, req, text, nil)
	return Reply{Text: text, TaskStatus: status}, nil
}

func (e *Engine) writeTurn(ctx context.Context, req Request, replyText string, evidenceIDs []string) {
	if _, err := e.memory.WriteTurn(ctx, memory.Turn{
		SessionID:   req.SessionID,
		Platform:    req.Platform,
		UserText:    req.Message,
		ReplyText:   replyText,
		EvidenceIDs: evidenceIDs,
	}); err != nil {
		e.log.Warn("turn write queued for retry", zap.String("session", req.SessionID), zap.Error(err))
	}
}

func (e *Engine) triggerPhrase() string {
	if len(e.triggers) > 0 {
		return e.triggers[0]
	}
	return "continue"
}

func kindsFor(intent Intent) []evidence.SourceKind {
	switch intent {
	case IntentEvidence:
		return []evidence.SourceKind{evidence.KindReference, evidence.KindLocal, evidence.KindWeb}
	case IntentReference:
		return []evidence.SourceKind{evidence.KindReference, evidence.KindLocal}
	case IntentAnalyze:
		return []evidence.SourceKind{evidence.KindLocal}
	default:
		return nil
	}
}

func formatTurns(turns []memory.Turn) []string {
	out := make([]string, 0, len(turns))
	for _, t := range turns {
		out = append(out, fmt.Sprintf("user: %s\nassistant: %s", t.UserText, t.ReplyText))
	}
	return out
}

func taskTitle(steps []string) string {
	if len(steps) == 0 {
		return "multi-step task"
	}
	title := steps[0]
	r := []rune(title)
	if len(r) > 60 {
		title = string(r[:60]) + "…"
	}
	return title
}

func causeSummary(err error) string {
	switch task.ClassifyFailure(err) {
	case task.FailureNetwork:
		return "a network problem on my side"
	case task.FailureTimeout:
		return "something took too long to respond"
	case task.FailureValidation:
		return "the request didn't look the way I expected"
	case task.FailureInterruption:
		return "the work was interrupted"
	default:
		return "something unexpected on my side"
	}
}
