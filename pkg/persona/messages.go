package persona

import (
	"fmt"
	"strings"
)

// GentleError renders a failure in the persona's voice: what went wrong,
// the likely cause, and how to pick the work back up.
func GentleError(profile *Profile, problem, cause, triggerPhrase string) string {
	if profile == nil {
		profile = DefaultProfile()
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("I'm sorry, I ran into a problem: %s.", problem))
	if cause != "" {
		b.WriteString(fmt.Sprintf(" It looks like %s.", cause))
	}
	b.WriteString(" Your progress is saved.")
	if triggerPhrase != "" {
		b.WriteString(fmt.Sprintf(" Just say %q when you'd like me to pick it back up.", triggerPhrase))
	}
	if profile.Traits["supportive"] >= 0.7 {
		b.WriteString(" We'll get there.")
	}
	return b.String()
}

// NothingToContinue is the reply to a continuation request with no
// resumable work. Gentle, and asks for direction rather than guessing.
func NothingToContinue(profile *Profile) string {
	if profile == nil {
		profile = DefaultProfile()
	}
	msg := "I don't have anything saved to continue right now."
	if profile.Traits["patient"] >= 0.7 {
		msg += " No rush at all."
	}
	return msg + " What would you like to work on?"
}

// BusyWithTask is the reply to a second multi-step request while one task
// is active. The existing task is never overwritten.
func BusyWithTask(profile *Profile, activeTitle string) string {
	if profile == nil {
		profile = DefaultProfile()
	}
	return fmt.Sprintf(
		"We're still in the middle of %q. I'd rather finish or pause that one before starting something new. Say %q to keep going, or tell me to set it aside.",
		activeTitle, "continue")
}

// NothingToSetAside answers a set-aside request when no task is in flight.
func NothingToSetAside(profile *Profile) string {
	if profile == nil {
		profile = DefaultProfile()
	}
	return "There's no task in progress to set aside. What would you like to work on?"
}

// TaskSetAside confirms a suspension and names the way back.
func TaskSetAside(profile *Profile, title string, remaining int, triggerPhrase string) string {
	if profile == nil {
		profile = DefaultProfile()
	}
	stepWord := "steps"
	if remaining == 1 {
		stepWord = "step"
	}
	msg := fmt.Sprintf("All right, I've set %q aside with %d %s left.", title, remaining, stepWord)
	if triggerPhrase != "" {
		msg += fmt.Sprintf(" Say %q whenever you want to pick it back up.", triggerPhrase)
	}
	if profile.Traits["patient"] >= 0.7 {
		msg += " Take your time."
	}
	return msg
}

// TaskResumed introduces the next step after a successful resume.
func TaskResumed(profile *Profile, title, nextStep string) string {
	if profile == nil {
		profile = DefaultProfile()
	}
	intro := profile.Patterns.TaskContinuation
	if intro == "" {
		intro = "Resuming."
	}
	if nextStep == "" {
		return fmt.Sprintf("%s %q has no steps left; shall I wrap it up?", intro, title)
	}
	return fmt.Sprintf("%s Next up for %q: %s", intro, title, nextStep)
}
