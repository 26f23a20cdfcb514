// Package rpcbackend implements the RPC session.Backend: every operation
// opens its own WebSocket connection to the shared agent daemon (managed by
// internal/rpcdaemon), does its work, and closes it. The connection-per-
// operation shape avoids one thread's notifications leaking into another's
// wait, at the cost of re-subscribing (thread/resume) on every call.
package rpcbackend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devsessions/devsessions/internal/debug"
	"github.com/devsessions/devsessions/internal/registry"
	"github.com/devsessions/devsessions/internal/rpcclient"
	"github.com/devsessions/devsessions/internal/rpcdaemon"
	"github.com/devsessions/devsessions/internal/session"
)

const (
	fastCaptureWindow = 3 * time.Second
	clientIdentity    = "devsessions"
)

// Backend drives RPC-kind sessions over the shared daemon.
type Backend struct {
	daemon *rpcdaemon.Manager
}

// New returns an RPC Backend backed by daemon.
func New(daemon *rpcdaemon.Manager) *Backend {
	return &Backend{daemon: daemon}
}

var _ session.Backend = (*Backend)(nil)

// conn is one connection-per-operation: dial, handshake, do work, close.
type conn struct {
	client *rpcclient.Client
}

func (b *Backend) open(ctx context.Context) (*conn, error) {
	d, err := b.daemon.EnsureServer(ctx)
	if err != nil {
		return nil, err
	}
	client, err := rpcclient.Dial(ctx, d.URL)
	if err != nil {
		return nil, err
	}
	if _, err := client.Call(ctx, "initialize", map[string]string{"clientName": clientIdentity}); err != nil {
		client.Close()
		return nil, err
	}
	if err := client.Notify("initialized", nil); err != nil {
		client.Close()
		return nil, err
	}
	return &conn{client: client}, nil
}

func (c *conn) close() { c.client.Close() }

// withRetry runs op once; on a transport-family failure it resets the
// daemon and retries exactly once.
func (b *Backend) withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	err := op(ctx)
	if err == nil || !isTransportFailure(err) {
		return err
	}
	debug.Logf("rpcbackend: transport failure, resetting daemon: %v\n", err)
	if resetErr := b.daemon.ResetServer(); resetErr != nil {
		debug.Logf("rpcbackend: resetServer failed: %v\n", resetErr)
	}
	return op(ctx)
}

func (c *conn) threadStart(ctx context.Context) (string, error) {
	raw, err := c.client.Call(ctx, "thread/start", nil)
	if err != nil {
		return "", err
	}
	var result threadStartResult
	if err := unmarshalResult(raw, &result); err != nil {
		return "", err
	}
	return result.Thread.ID, nil
}

func (c *conn) threadResume(ctx context.Context, threadID, cwd, model string) (runtimeStatus, error) {
	params := map[string]interface{}{
		"threadId":              threadID,
		"cwd":                   cwd,
		"model":                 model,
		"approvalPolicy":        "never",
		"sandbox":               "danger-full-access",
		"persistExtendedHistory": true,
	}
	raw, err := c.client.Call(ctx, "thread/resume", params)
	if err != nil {
		return "", err
	}
	var result threadResumeResult
	if err := unmarshalResult(raw, &result); err != nil {
		return "", err
	}
	return parseRuntimeStatus(result.Thread.Status), nil
}

func (c *conn) threadRead(ctx context.Context, threadID string, includeTurns bool) (threadReadResult, error) {
	raw, err := c.client.Call(ctx, "thread/read", map[string]interface{}{"threadId": threadID, "includeTurns": includeTurns})
	if err != nil {
		if isIncludeTurnsUnavailable(err) {
			return threadReadResult{}, nil
		}
		return threadReadResult{}, err
	}
	var result threadReadResult
	if err := unmarshalResult(raw, &result); err != nil {
		return threadReadResult{}, err
	}
	return result, nil
}

func (c *conn) turnStart(ctx context.Context, threadID, text string) (string, error) {
	params := map[string]interface{}{
		"threadId": threadID,
		"input":    []map[string]string{{"type": "text", "text": text}},
	}
	raw, err := c.client.Call(ctx, "turn/start", params)
	if err != nil {
		return "", err
	}
	var result turnStartResult
	if err := unmarshalResult(raw, &result); err != nil {
		return "", err
	}
	return result.Turn.ID, nil
}

func (c *conn) threadArchive(ctx context.Context, threadID string) error {
	_, err := c.client.Call(ctx, "thread/archive", map[string]string{"threadId": threadID})
	if err != nil && !isThreadNotLoaded(err) {
		return err
	}
	return nil
}

// Create opens a connection, starts a new thread, and returns its id. The
// daemon's pid/port are reported so the record can later target the exact
// daemon instance it was created against.
func (b *Backend) Create(ctx context.Context, opts session.CreateOptions) (session.CreateResult, error) {
	d, err := b.daemon.EnsureServer(ctx)
	if err != nil {
		return session.CreateResult{}, err
	}

	var threadID string
	err = b.withRetry(ctx, func(ctx context.Context) error {
		c, err := b.open(ctx)
		if err != nil {
			return err
		}
		defer c.close()
		threadID, err = c.threadStart(ctx)
		return err
	})
	if err != nil {
		return session.CreateResult{}, err
	}

	pid := d.PID
	port := d.Port
	model := opts.Model
	return session.CreateResult{InternalID: threadID, DaemonPID: &pid, DaemonPort: &port, Model: &model}, nil
}

// Send implements the fire-and-forget sendMessage flow: resume (or start)
// the thread, start a turn, and best-effort fast-capture its completion
// within a short window before giving up to waitForThread.
func (b *Backend) Send(ctx context.Context, rec registry.SessionRecord, text string) (session.SendResult, error) {
	var (
		threadID      = rec.InternalID
		newThreadID   string
		turnID        string
		assistantText []string
	)

	model := ""
	if rec.Model != nil {
		model = *rec.Model
	}

	err := b.withRetry(ctx, func(ctx context.Context) error {
		c, err := b.open(ctx)
		if err != nil {
			return err
		}
		defer c.close()

		if threadID != "" {
			if _, resumeErr := c.threadResume(ctx, threadID, rec.WorkspacePath, model); resumeErr != nil {
				if isResumeNotFound(resumeErr) {
					threadID = ""
				} else {
					return resumeErr
				}
			}
		}

		if threadID == "" {
			id, startErr := c.threadStart(ctx)
			if startErr != nil {
				return startErr
			}
			threadID = id
			newThreadID = id
		}

		id, err := c.turnStart(ctx, threadID, text)
		if err != nil {
			return err
		}
		turnID = id

		captureCtx, cancel := context.WithTimeout(ctx, fastCaptureWindow)
		defer cancel()
		result, waitErr := c.client.WaitForTurnCompletion(captureCtx, threadID, turnID)
		if waitErr == nil && result.Status == "completed" {
			assistantText = []string{result.Text}
		}
		return nil
	})
	if err != nil {
		return session.SendResult{}, err
	}

	patch := registry.Patch{}
	if newThreadID != "" {
		patch.InternalID = &newThreadID
	}
	if len(assistantText) > 0 {
		completed := registry.TurnCompleted
		now := time.Now().UTC()
		inProgress := false
		patch.LastTurnOutcome = &completed
		patch.LastTurnCompletedAt = &now
		patch.TurnInProgress = &inProgress
		patch.LastAssistantMessages = assistantText
		patch.ClearLastTurnError = true
	} else {
		inProgress := true
		patch.TurnInProgress = &inProgress
	}

	return session.SendResult{Patch: patch, AssistantText: assistantText}, nil
}

// Status derives runtime status via a single thread/resume call.
func (b *Backend) Status(ctx context.Context, rec registry.SessionRecord) (session.StatusResult, error) {
	model := ""
	if rec.Model != nil {
		model = *rec.Model
	}

	var status runtimeStatus
	err := b.withRetry(ctx, func(ctx context.Context) error {
		c, err := b.open(ctx)
		if err != nil {
			return err
		}
		defer c.close()
		status, err = c.threadResume(ctx, rec.InternalID, rec.WorkspacePath, model)
		return err
	})
	if err != nil {
		return session.StatusResult{}, err
	}

	result := session.StatusResult{}
	switch status {
	case runtimeActive:
		result.Status = session.StatusWorking
	case runtimeSystemErr:
		result.Status = session.StatusIdle
		result.ErrorToThrow = errors.New("Codex thread is in systemError state")
	case runtimeUnknown:
		result.Status = session.StatusIdle
		result.ErrorToThrow = errors.New("unable to determine Codex thread status")
	default: // idle, notLoaded
		result.Status = session.StatusIdle
		if rec.TurnInProgress != nil && *rec.TurnInProgress {
			inProgress := false
			result.Patch.TurnInProgress = &inProgress
		}
	}
	return result, nil
}

// Wait implements waitForThread without a known expectedTurnId: it loops,
// reconnecting each cycle, tracking elapsed time against the deadline.
func (b *Backend) Wait(ctx context.Context, rec registry.SessionRecord, opts session.WaitOptions) (session.WaitResult, error) {
	model := ""
	if rec.Model != nil {
		model = *rec.Model
	}

	deadline := time.Now().Add(opts.Timeout)
	start := time.Now()
	sawActiveTurn := false
	var lastAssistantText []string

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return session.WaitResult{TimedOut: true, ElapsedMs: time.Since(start).Milliseconds()}, nil
		}

		var (
			status     runtimeStatus
			completion rpcclient.TurnCompletion
			haveResult bool
			cycleErr   error
		)

		err := b.withRetry(ctx, func(ctx context.Context) error {
			c, err := b.open(ctx)
			if err != nil {
				return err
			}
			defer c.close()

			status, err = c.threadResume(ctx, rec.InternalID, rec.WorkspacePath, model)
			if err != nil {
				return err
			}

			if status == runtimeActive {
				sawActiveTurn = true
				waitCtx, cancel := context.WithTimeout(ctx, remaining)
				defer cancel()
				result, waitErr := c.client.WaitForTurnCompletion(waitCtx, rec.InternalID, "")
				if waitErr != nil {
					cycleErr = waitErr
					return nil
				}
				completion = result
				haveResult = true
			}
			return nil
		})
		if err != nil {
			return session.WaitResult{}, err
		}

		switch status {
		case runtimeSystemErr:
			return session.WaitResult{ErrorToThrow: errors.New("Codex thread is in systemError state")}, nil
		case runtimeUnknown:
			return session.WaitResult{ErrorToThrow: errors.New("unable to determine Codex thread status")}, nil
		case runtimeActive:
			if cycleErr != nil {
				return session.WaitResult{TimedOut: true, ElapsedMs: time.Since(start).Milliseconds()}, nil
			}
			if !haveResult {
				continue
			}
			if completion.Text != "" {
				lastAssistantText = []string{completion.Text}
			}
			switch completion.Status {
			case "completed":
				continue // a logical task may span multiple turns
			case "failed":
				return session.WaitResult{
					ElapsedMs:    time.Since(start).Milliseconds(),
					ErrorToThrow: fmt.Errorf("Codex turn failed: %s", completion.ErrorMessage),
					Patch:        assistantPatch(lastAssistantText),
				}, nil
			default: // interrupted, or any other non-completed, non-failed status
				return session.WaitResult{
					ElapsedMs: time.Since(start).Milliseconds(),
					Patch:     assistantPatch(lastAssistantText),
				}, nil
			}
		default: // idle, notLoaded
			elapsed := time.Since(start).Milliseconds()
			if !sawActiveTurn {
				return session.WaitResult{Completed: true, ElapsedMs: 0, Patch: assistantPatch(lastAssistantText)}, nil
			}
			return session.WaitResult{Completed: true, ElapsedMs: elapsed, Patch: assistantPatch(lastAssistantText)}, nil
		}
	}
}

func assistantPatch(text []string) registry.Patch {
	if len(text) == 0 {
		return registry.Patch{}
	}
	inProgress := false
	return registry.Patch{LastAssistantMessages: text, TurnInProgress: &inProgress}
}

// Exists checks liveness: without a captured thread id this is just daemon
// liveness on the recorded pid; with one, a single thread/read round trip
// distinguishes alive from dead.
func (b *Backend) Exists(ctx context.Context, rec registry.SessionRecord) (session.Liveness, error) {
	if rec.InternalID == "" {
		pid := 0
		if rec.DaemonPID != nil {
			pid = *rec.DaemonPID
		}
		if b.daemon.IsServerRunning(pid) {
			return session.LivenessAlive, nil
		}
		return session.LivenessDead, nil
	}

	var liveness session.Liveness
	err := b.withRetry(ctx, func(ctx context.Context) error {
		c, err := b.open(ctx)
		if err != nil {
			return err
		}
		defer c.close()
		_, readErr := c.threadRead(ctx, rec.InternalID, false)
		if readErr == nil {
			liveness = session.LivenessAlive
			return nil
		}
		if isThreadNotLoaded(readErr) {
			liveness = session.LivenessDead
			return nil
		}
		return readErr
	})
	if err != nil {
		return session.LivenessUnknown, nil
	}
	return liveness, nil
}

// GetLastMessages flattens agentMessage items across turns in order and
// returns the last n.
func (b *Backend) GetLastMessages(ctx context.Context, rec registry.SessionRecord, n int) ([]string, error) {
	var messages []string
	err := b.withRetry(ctx, func(ctx context.Context) error {
		c, err := b.open(ctx)
		if err != nil {
			return err
		}
		defer c.close()
		result, err := c.threadRead(ctx, rec.InternalID, true)
		if err != nil {
			return err
		}
		for _, turn := range result.Thread.Turns {
			for _, item := range turn.Items {
				if text, ok := item.assistantText(); ok {
					messages = append(messages, text)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(messages) > n {
		messages = messages[len(messages)-n:]
	}
	return messages, nil
}

// GetLogs returns the full user/assistant turn history in order.
func (b *Backend) GetLogs(ctx context.Context, rec registry.SessionRecord) ([]session.LogTurn, error) {
	var turns []session.LogTurn
	err := b.withRetry(ctx, func(ctx context.Context) error {
		c, err := b.open(ctx)
		if err != nil {
			return err
		}
		defer c.close()
		result, err := c.threadRead(ctx, rec.InternalID, true)
		if err != nil {
			return err
		}
		for _, turn := range result.Thread.Turns {
			for _, item := range turn.Items {
				if text, ok := item.assistantText(); ok {
					turns = append(turns, session.LogTurn{Role: "assistant", Text: text})
				} else if text, ok := item.userText(); ok {
					turns = append(turns, session.LogTurn{Role: "human", Text: text})
				}
			}
		}
		return nil
	})
	return turns, err
}

// Kill drops in-memory state and, when we know the thread and daemon
// target, archives the thread; not-found/transport errors are swallowed.
func (b *Backend) Kill(ctx context.Context, rec registry.SessionRecord) error {
	if rec.InternalID == "" || rec.DaemonPort == nil {
		return nil
	}
	d, ok := b.daemon.GetServer()
	if !ok || d.Port != *rec.DaemonPort {
		return nil
	}

	c, err := b.open(ctx)
	if err != nil {
		return nil
	}
	defer c.close()

	if err := c.threadArchive(ctx, rec.InternalID); err != nil && !isTransportFailure(err) {
		return err
	}
	return nil
}

// AfterKill stops the shared daemon once no RPC sessions remain active.
func (b *Backend) AfterKill(ctx context.Context, remainingActive []registry.SessionRecord) error {
	for _, r := range remainingActive {
		if r.Kind == registry.KindRPC {
			return nil
		}
	}
	return b.daemon.StopServer()
}

// PreSendFields is a no-op for RPC: there is no pre-send snapshot to take.
func (b *Backend) PreSendFields(rec registry.SessionRecord) registry.Patch {
	return registry.Patch{}
}

// OnSendError marks the turn failed, records the error message and clears
// turnInProgress.
func (b *Backend) OnSendError(rec registry.SessionRecord, sendErr error) registry.Patch {
	failed := registry.TurnFailed
	msg := sendErr.Error()
	inProgress := false
	return registry.Patch{LastTurnOutcome: &failed, LastTurnError: &msg, TurnInProgress: &inProgress}
}

// DeadSessionPolicy keeps RPC session metadata around so a dead thread can
// be re-attached later instead of being pruned outright.
func (b *Backend) DeadSessionPolicy() session.DeadSessionPolicy {
	return session.PolicyDeactivate
}
