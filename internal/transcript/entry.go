// Package transcript reads and interprets the append-only JSONL transcript
// a TERM-kind agent writes as it runs, and infers conversation state from
// it without ever parsing model output semantically.
package transcript

import "encoding/json"

// EntryType is the loose, open set of record kinds a transcript line can
// carry. Unknown values are preserved but never specially interpreted.
type EntryType string

const (
	TypeHuman               EntryType = "human"
	TypeUser                EntryType = "user"
	TypeAssistant           EntryType = "assistant"
	TypeSystem              EntryType = "system"
	TypeFileHistorySnapshot EntryType = "file-history-snapshot"
)

// Entry is one loosely-typed transcript line.
type Entry struct {
	Type      EntryType       `json:"type"`
	Timestamp string          `json:"timestamp,omitempty"`
	Message   *Message        `json:"message,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

// Message carries the content tree of an Entry. Content may arrive as a
// bare string, an array of content blocks, or (rarely) a single nested
// object — Content is kept as json.RawMessage so extractText can handle
// all three shapes uniformly.
type Message struct {
	Content json.RawMessage `json:"content"`
}

// contentBlock is one element of a content array, or the decoded form of a
// single nested content object.
type contentBlock struct {
	Type string          `json:"type"`
	Text string          `json:"text"`
	Name string          `json:"name,omitempty"` // tool name, for tool_use blocks
	Input json.RawMessage `json:"input,omitempty"`
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	type alias Entry
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*e = Entry(a)
	e.Raw = append(json.RawMessage(nil), data...)
	return nil
}

func isUserLike(t EntryType) bool {
	return t == TypeHuman || t == TypeUser
}
