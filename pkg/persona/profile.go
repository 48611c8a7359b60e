// Package persona renders every outward reply in one voice, regardless of
// which platform the request came from.
package persona

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
)

type PolitenessLevel string

const (
	PolitenessHigh   PolitenessLevel = "high"
	PolitenessMedium PolitenessLevel = "medium"
	PolitenessLow    PolitenessLevel = "low"
)

type ToneStyle string

const (
	ToneWarmCasual   ToneStyle = "warm_casual"
	ToneCalmFormal   ToneStyle = "calm_formal"
	TonePlainNeutral ToneStyle = "plain_neutral"
)

// ResponsePatterns are the persona's fixed phrasings for structural reply
// parts. Empty fields suppress that part.
type ResponsePatterns struct {
	Greeting         string `json:"greeting"`
	Understanding    string `json:"understanding"`
	EvidenceIntro    string `json:"evidence_intro"`
	TaskContinuation string `json:"task_continuation"`
	Encouragement    string `json:"encouragement"`
}

// Profile is the persona definition. Trait weights select templates and
// strategies; they are never sent to a model. Traits carry no platform
// information by construction: nothing platform-shaped exists here.
type Profile struct {
	Name                   string             `json:"name"`
	Traits                 map[string]float64 `json:"traits"`
	Politeness             PolitenessLevel    `json:"politeness"`
	Tone                   ToneStyle          `json:"tone"`
	Patterns               ResponsePatterns   `json:"patterns"`
	EvidencePreference     float64            `json:"evidence_preference"`
	ExplanationDepth       string             `json:"explanation_depth"`
	EncouragementFrequency string             `json:"encouragement_frequency"`
}

// DefaultProfile is the shipped gentle-supportive persona.
func DefaultProfile() *Profile {
	return &Profile{
		Name: "Tsuzuki",
		Traits: map[string]float64{
			"caring":      0.9,
			"gentle":      0.9,
			"calm":        0.8,
			"logical":     0.7,
			"persuasive":  0.4,
			"supportive":  0.9,
			"patient":     0.8,
			"encouraging": 0.7,
		},
		Politeness: PolitenessHigh,
		Tone:       ToneWarmCasual,
		Patterns: ResponsePatterns{
			Greeting:         "Hi, good to see you again.",
			Understanding:    "I see what you're after.",
			EvidenceIntro:    "Here's what I found to back this up:",
			TaskContinuation: "Picking up where we left off.",
			Encouragement:    "You're making steady progress.",
		},
		EvidencePreference:     0.8,
		ExplanationDepth:       "medium",
		EncouragementFrequency: "medium",
	}
}

// LoadProfile reads a profile file, falling back to the default when the
// file does not exist.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultProfile(), nil
		}
		return nil, fmt.Errorf("read profile: %w", err)
	}
	p := DefaultProfile()
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	return p, nil
}

func SaveProfile(path string, p *Profile) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write profile: %w", err)
	}
	return nil
}

// Holder is the process-wide profile. Swap is atomic: requests that
// already read the old profile finish with it, new requests see the new
// one.
type Holder struct {
	current atomic.Pointer[Profile]
}

func NewHolder(p *Profile) *Holder {
	h := &Holder{}
	if p == nil {
		p = DefaultProfile()
	}
	h.current.Store(p)
	return h
}

func (h *Holder) Current() *Profile {
	return h.current.Load()
}

func (h *Holder) Swap(p *Profile) {
	if p == nil {
		return
	}
	h.current.Store(p)
}
