package engine

import (
	"regexp"
	"strings"
)

// Intent is the closed set of request shapes the controller handles.
// Every value has an explicit branch in Handle; there is no open-ended
// string table behind this.
type Intent int

const (
	IntentGeneral Intent = iota
	IntentContinue
	IntentSetAside
	IntentEvidence
	IntentReference
	IntentAnalyze
	IntentMultiStep
)

func (i Intent) String() string {
	switch i {
	case IntentContinue:
		return "continue"
	case IntentSetAside:
		return "set_aside"
	case IntentEvidence:
		return "evidence"
	case IntentReference:
		return "reference"
	case IntentAnalyze:
		return "analyze"
	case IntentMultiStep:
		return "multi_step"
	default:
		return "general"
	}
}

var evidenceKeywords = []string{
	"check a source", "look up", "look it up", "search for", "find a source",
	"調べて", "検索して", "ソースを",
}

var referenceKeywords = []string{
	"docs", "documentation", "reference manual", "official guide",
	"ドキュメント", "公式",
}

var analyzeKeywords = []string{
	"analyze", "analyse", "break down", "分析",
}

var setAsideKeywords = []string{
	"set it aside", "set this aside", "set that aside", "put it on hold",
	"pause that", "pause this", "pause the task",
	"中断して", "保留して", "あとにして",
}

// Classifier maps a raw message to an Intent. Continuation is an exact
// literal match against the configured trigger vocabulary after trim and
// casefold; the rest are keyword heuristics.
type Classifier struct {
	triggers map[string]struct{}
}

func NewClassifier(triggerPhrases []string) *Classifier {
	c := &Classifier{triggers: map[string]struct{}{}}
	for _, p := range triggerPhrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			c.triggers[p] = struct{}{}
		}
	}
	if len(c.triggers) == 0 {
		for _, p := range []string{"continue", "resume", "続き", "続けて", "継続"} {
			c.triggers[p] = struct{}{}
		}
	}
	return c
}

func (c *Classifier) Classify(message string) Intent {
	normalized := strings.ToLower(strings.TrimSpace(message))
	if _, ok := c.triggers[normalized]; ok {
		return IntentContinue
	}
	if containsAny(normalized, setAsideKeywords) {
		return IntentSetAside
	}
	if len(SplitSteps(message)) >= 2 {
		return IntentMultiStep
	}
	if containsAny(normalized, referenceKeywords) {
		return IntentReference
	}
	if containsAny(normalized, evidenceKeywords) {
		return IntentEvidence
	}
	if containsAny(normalized, analyzeKeywords) {
		return IntentAnalyze
	}
	return IntentGeneral
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

var (
	enumStepRegex  = regexp.MustCompile(`(?m)(?:^|\s)\d+[.)]\s*`)
	thenSplitRegex = regexp.MustCompile(`(?i)(?:,\s*then\s+|\s+then\s+|、?次に、?|それから、?)`)
)

// SplitSteps breaks a message into dependent actions. Two or more parts
// mark the request as multi-step. Recognizes numbered enumerations and
// "then"-style chaining.
func SplitSteps(message string) []string {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil
	}

	if parts := splitClean(enumStepRegex, message); len(parts) >= 2 {
		return parts
	}
	if parts := splitClean(thenSplitRegex, message); len(parts) >= 2 {
		return parts
	}
	return []string{message}
}

func splitClean(re *regexp.Regexp, s string) []string {
	out := []string{}
	for _, p := range re.Split(s, -1) {
		p = strings.Trim(strings.TrimSpace(p), ".。,、")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
