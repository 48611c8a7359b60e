package memory

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	prefRegex     = regexp.MustCompile(`(?i)\b(i prefer|i like|i love|i dislike|i hate|call me|please always|please never)\b(.{0,160})`)
	identityRegex = regexp.MustCompile(`(?i)\b(my name is|i am a|i'm a|i work as|i live in|my timezone is)\b(.{0,120})`)
	taskNoteRegex = regexp.MustCompile(`(?i)\b(need to|have to|todo|remind me|deadline|by tomorrow|by next week)\b(.{0,160})`)
	factRegex     = regexp.MustCompile(`(?i)\b(my (dog|cat|wife|husband|partner|kid|son|daughter|team|project|company)\b.{0,140})`)
)

// extractRecords applies the promotion heuristics to one turn. Empty slice
// means nothing durable was said.
func extractRecords(turn Turn) []MemoryRecord {
	text := strings.TrimSpace(turn.UserText)
	if len([]rune(text)) < 6 {
		return nil
	}

	out := []MemoryRecord{}
	add := func(kind RecordKind, content string, confidence float64) {
		content = strings.TrimSpace(content)
		if content == "" {
			return
		}
		if r := []rune(content); len(r) > 240 {
			content = string(r[:240])
		}
		out = append(out, MemoryRecord{
			SessionID:    turn.SessionID,
			Kind:         kind,
			Key:          recordKey(kind, content),
			Content:      content,
			Confidence:   confidence,
			SourceTurnID: turn.ID,
		})
	}

	if m := prefRegex.FindString(text); m != "" {
		add(RecordPreference, m, 0.8)
	}
	if m := identityRegex.FindString(text); m != "" {
		add(RecordIdentity, m, 0.85)
	}
	if m := taskNoteRegex.FindString(text); m != "" {
		add(RecordTaskNote, m, 0.7)
	}
	if m := factRegex.FindString(text); m != "" {
		add(RecordFact, m, 0.6)
	}
	return out
}

// recordKey is stable for near-identical content so repeated statements
// supersede instead of piling up.
func recordKey(kind RecordKind, content string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(content), " "))
	sum := sha1.Sum([]byte(normalized))
	return string(kind) + "/" + hex.EncodeToString(sum[:])[:8]
}
