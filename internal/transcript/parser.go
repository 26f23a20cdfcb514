package transcript

import (
	"encoding/json"
	"strings"
)

// askUserToolNames is the closed, case-insensitive set of tool names that
// mark an assistant turn as waiting on the human.
var askUserToolNames = map[string]bool{
	"ask_user":      true,
	"askuser":       true,
	"ask_human":     true,
	"request_input": true,
	"prompt_user":   true,
}

// Status is the inferred conversation state of a TERM session.
type Status string

const (
	StatusIdle            Status = "idle"
	StatusWorking         Status = "working"
	StatusWaitingForInput Status = "waiting_for_input"
)

// Turn is one role/text pair extracted from the transcript.
type Turn struct {
	Role string // "human" or "assistant"
	Text string
}

// ExtractText flattens a content tree — a bare string, an array of content
// blocks, or a single nested block — into a list of plain-text strings.
// Non-text blocks are skipped.
func ExtractText(content json.RawMessage) []string {
	if len(content) == 0 {
		return nil
	}

	// Bare string content.
	var s string
	if err := json.Unmarshal(content, &s); err == nil {
		if s == "" {
			return nil
		}
		return []string{s}
	}

	// Array of content blocks.
	var blocks []contentBlock
	if err := json.Unmarshal(content, &blocks); err == nil {
		var out []string
		for _, b := range blocks {
			if b.Type == "" || b.Type == "text" {
				if b.Text != "" {
					out = append(out, b.Text)
				}
			}
		}
		return out
	}

	// Single nested block.
	var block contentBlock
	if err := json.Unmarshal(content, &block); err == nil {
		if block.Text != "" {
			return []string{block.Text}
		}
	}

	return nil
}

// AssistantText concatenates ExtractText over every assistant entry, in
// order.
func AssistantText(entries []Entry) []string {
	var out []string
	for _, e := range entries {
		if e.Type != TypeAssistant || e.Message == nil {
			continue
		}
		out = append(out, ExtractText(e.Message.Content)...)
	}
	return out
}

// CountAssistant counts assistant-typed entries.
func CountAssistant(entries []Entry) int { return countType(entries, TypeAssistant) }

// CountSystem counts system-typed entries.
func CountSystem(entries []Entry) int { return countType(entries, TypeSystem) }

// CountFileHistorySnapshot counts file-history-snapshot entries.
func CountFileHistorySnapshot(entries []Entry) int {
	return countType(entries, TypeFileHistorySnapshot)
}

func countType(entries []Entry, t EntryType) int {
	n := 0
	for _, e := range entries {
		if e.Type == t {
			n++
		}
	}
	return n
}

func lastUserIndex(entries []Entry) int {
	for i := len(entries) - 1; i >= 0; i-- {
		if isUserLike(entries[i].Type) {
			return i
		}
	}
	return -1
}

// HasAssistantAfterLatestUser reports whether an assistant entry follows
// the last human/user entry — or, if there is no user entry at all,
// whether any assistant entry exists.
func HasAssistantAfterLatestUser(entries []Entry) bool {
	lastUser := lastUserIndex(entries)
	for i := lastUser + 1; i < len(entries); i++ {
		if entries[i].Type == TypeAssistant {
			return true
		}
	}
	return false
}

// entryAsksUser reports whether an assistant entry's content contains a
// tool-use block naming a recognized ask-user tool.
func entryAsksUser(e Entry) bool {
	if e.Type != TypeAssistant || e.Message == nil {
		return false
	}
	var blocks []contentBlock
	if err := json.Unmarshal(e.Message.Content, &blocks); err != nil {
		return false
	}
	for _, b := range blocks {
		if b.Type != "tool_use" && b.Type != "tool-use" {
			continue
		}
		if askUserToolNames[strings.ToLower(b.Name)] {
			return true
		}
	}
	return false
}

// InferStatus infers the conversation state of a TERM session from its
// transcript entries.
func InferStatus(entries []Entry) Status {
	if len(entries) == 0 {
		return StatusIdle
	}

	lastUser := lastUserIndex(entries)

	for i := len(entries) - 1; i > lastUser; i-- {
		if entries[i].Type == TypeAssistant && entryAsksUser(entries[i]) {
			return StatusWaitingForInput
		}
	}

	last := entries[len(entries)-1]
	if isUserLike(last.Type) {
		return StatusWorking
	}
	if !HasAssistantAfterLatestUser(entries) {
		return StatusWorking
	}

	return StatusIdle
}

// ExtractTurns returns the ordered sequence of human/assistant turns, with
// empty texts dropped.
func ExtractTurns(entries []Entry) []Turn {
	var turns []Turn
	for _, e := range entries {
		var role string
		switch {
		case isUserLike(e.Type):
			role = "human"
		case e.Type == TypeAssistant:
			role = "assistant"
		default:
			continue
		}
		if e.Message == nil {
			continue
		}
		texts := ExtractText(e.Message.Content)
		text := strings.Join(texts, "")
		if text == "" {
			continue
		}
		turns = append(turns, Turn{Role: role, Text: text})
	}
	return turns
}
