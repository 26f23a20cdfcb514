package registry

import "time"

// Kind selects which backend owns a session.
type Kind string

const (
	KindTERM Kind = "TERM"
	KindRPC  Kind = "RPC"
)

// Mode selects a TERM launch flavor. RPC sessions always use ModeRPC.
type Mode string

const (
	ModeA   Mode = "A"
	ModeB   Mode = "B"
	ModeC   Mode = "C"
	ModeRPC Mode = "RPC"
)

// Status is the coarse lifecycle state of a session record.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// TurnOutcome records the result of the most recently completed turn.
type TurnOutcome string

const (
	TurnCompleted   TurnOutcome = "completed"
	TurnFailed      TurnOutcome = "failed"
	TurnInterrupted TurnOutcome = "interrupted"
)

// SessionRecord is the persisted unit of the registry. Field names use
// camelCase JSON tags to match the on-disk schema and the wire formats the
// Gateway exposes.
type SessionRecord struct {
	Handle      string `json:"handle"`
	InternalID  string `json:"internalId"`
	Kind        Kind   `json:"kind"`
	Mode        Mode   `json:"mode"`
	WorkspacePath string `json:"workspacePath"`
	Description string `json:"description,omitempty"`
	Status      Status `json:"status"`

	// RPC only.
	DaemonPID      *int    `json:"daemonPid,omitempty"`
	DaemonPort     *int    `json:"daemonPort,omitempty"`
	Model          *string `json:"model,omitempty"`
	TurnInProgress *bool   `json:"turnInProgress,omitempty"`
	LastTurnCompletedAt *time.Time `json:"lastTurnCompletedAt,omitempty"`

	// TERM only.
	TermBaselineCompletionCount *int `json:"termBaselineCompletionCount,omitempty"`

	LastTurnOutcome       *TurnOutcome `json:"lastTurnOutcome,omitempty"`
	LastTurnError         *string      `json:"lastTurnError,omitempty"`
	LastAssistantMessages []string     `json:"lastAssistantMessages,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	LastUsed  time.Time `json:"lastUsed"`
}

// Clone returns a deep-enough copy safe to hand to a backend as an
// immutable snapshot.
func (r SessionRecord) Clone() SessionRecord {
	c := r
	if r.DaemonPID != nil {
		v := *r.DaemonPID
		c.DaemonPID = &v
	}
	if r.DaemonPort != nil {
		v := *r.DaemonPort
		c.DaemonPort = &v
	}
	if r.Model != nil {
		v := *r.Model
		c.Model = &v
	}
	if r.TurnInProgress != nil {
		v := *r.TurnInProgress
		c.TurnInProgress = &v
	}
	if r.LastTurnCompletedAt != nil {
		v := *r.LastTurnCompletedAt
		c.LastTurnCompletedAt = &v
	}
	if r.TermBaselineCompletionCount != nil {
		v := *r.TermBaselineCompletionCount
		c.TermBaselineCompletionCount = &v
	}
	if r.LastTurnOutcome != nil {
		v := *r.LastTurnOutcome
		c.LastTurnOutcome = &v
	}
	if r.LastTurnError != nil {
		v := *r.LastTurnError
		c.LastTurnError = &v
	}
	if r.LastAssistantMessages != nil {
		c.LastAssistantMessages = append([]string(nil), r.LastAssistantMessages...)
	}
	return c
}

// Patch is a set of optional field updates merged into a SessionRecord
// under the registry lock. A nil field leaves the record unchanged.
type Patch struct {
	InternalID                  *string
	Status                      *Status
	DaemonPID                   *int
	DaemonPort                  *int
	Model                       *string
	TurnInProgress              *bool
	LastTurnCompletedAt         *time.Time
	TermBaselineCompletionCount *int
	LastTurnOutcome             *TurnOutcome
	LastTurnError               *string
	LastAssistantMessages       []string
	ClearLastTurnError          bool
}

// Apply merges p into r, touching only the fields p sets, and always
// advances LastUsed.
func (p Patch) Apply(r *SessionRecord) {
	if p.InternalID != nil {
		r.InternalID = *p.InternalID
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.DaemonPID != nil {
		r.DaemonPID = p.DaemonPID
	}
	if p.DaemonPort != nil {
		r.DaemonPort = p.DaemonPort
	}
	if p.Model != nil {
		r.Model = p.Model
	}
	if p.TurnInProgress != nil {
		r.TurnInProgress = p.TurnInProgress
	}
	if p.LastTurnCompletedAt != nil {
		r.LastTurnCompletedAt = p.LastTurnCompletedAt
	}
	if p.TermBaselineCompletionCount != nil {
		r.TermBaselineCompletionCount = p.TermBaselineCompletionCount
	}
	if p.LastTurnOutcome != nil {
		r.LastTurnOutcome = p.LastTurnOutcome
	}
	if p.ClearLastTurnError {
		r.LastTurnError = nil
	} else if p.LastTurnError != nil {
		r.LastTurnError = p.LastTurnError
	}
	if p.LastAssistantMessages != nil {
		r.LastAssistantMessages = p.LastAssistantMessages
	}
	now := time.Now().UTC()
	if r.LastUsed.Before(now) {
		r.LastUsed = now
	}
}
