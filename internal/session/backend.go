// Package session holds the Session Manager and the backend polymorphism
// seam every kind of agent session is dispatched through.
package session

import (
	"context"
	"time"

	"github.com/devsessions/devsessions/internal/registry"
)

// Liveness is the result of a backend's Exists check.
type Liveness int

const (
	LivenessAlive Liveness = iota
	LivenessDead
	LivenessUnknown
)

// DeadSessionPolicy controls what ListSessions does with a record whose
// backend reports it dead.
type DeadSessionPolicy int

const (
	PolicyPrune DeadSessionPolicy = iota
	PolicyDeactivate
)

// CreateOptions carries the inputs to Backend.Create.
type CreateOptions struct {
	Handle        string
	WorkspacePath string
	Description   string
	Mode          registry.Mode
	Model         string
}

// CreateResult is what a backend hands back after successfully creating a
// session; the Session Manager turns it into a full SessionRecord.
type CreateResult struct {
	InternalID string
	DaemonPID  *int
	DaemonPort *int
	Model      *string
}

// SendResult is returned by Backend.Send.
type SendResult struct {
	Patch         registry.Patch
	AssistantText []string
}

// StatusResult is returned by Backend.Status. ErrorToThrow, if non-nil, is
// surfaced to the caller after Patch has been persisted.
type StatusResult struct {
	Status       transcriptStatus
	Patch        registry.Patch
	ErrorToThrow error
}

// transcriptStatus avoids importing internal/transcript just for its
// Status string type; both TERM and RPC backends report one of the same
// three values.
type transcriptStatus string

const (
	StatusIdle            transcriptStatus = "idle"
	StatusWorking         transcriptStatus = "working"
	StatusWaitingForInput transcriptStatus = "waiting_for_input"
)

// WaitOptions carries the deadline/poll parameters for Backend.Wait.
type WaitOptions struct {
	Timeout      time.Duration
	PollInterval time.Duration
}

// WaitResult is returned by Backend.Wait.
type WaitResult struct {
	Completed    bool
	TimedOut     bool
	ElapsedMs    int64
	Patch        registry.Patch
	ErrorToThrow error
}

// Backend is the uniform capability set every session kind implements.
// term.Driver and rpcbackend.Backend are its two implementations, selected
// by SessionRecord.Kind.
type Backend interface {
	Create(ctx context.Context, opts CreateOptions) (CreateResult, error)
	Send(ctx context.Context, rec registry.SessionRecord, text string) (SendResult, error)
	Status(ctx context.Context, rec registry.SessionRecord) (StatusResult, error)
	Wait(ctx context.Context, rec registry.SessionRecord, opts WaitOptions) (WaitResult, error)
	Exists(ctx context.Context, rec registry.SessionRecord) (Liveness, error)
	GetLogs(ctx context.Context, rec registry.SessionRecord) ([]LogTurn, error)
	GetLastMessages(ctx context.Context, rec registry.SessionRecord, n int) ([]string, error)
	Kill(ctx context.Context, rec registry.SessionRecord) error
	AfterKill(ctx context.Context, remainingActive []registry.SessionRecord) error

	// PreSendFields computes a patch applied to the record before Send is
	// invoked. Both current backends return an empty patch; TERM records its
	// completion-count baseline in Send's own patch instead.
	PreSendFields(rec registry.SessionRecord) registry.Patch

	// OnSendError computes a patch applied when Send returns an error.
	OnSendError(rec registry.SessionRecord, sendErr error) registry.Patch

	DeadSessionPolicy() DeadSessionPolicy
}

// LogTurn is one role/text pair returned by GetLogs.
type LogTurn struct {
	Role string
	Text string
}
