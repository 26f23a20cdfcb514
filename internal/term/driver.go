// Package term is the TERM backend: it drives an agent CLI inside a
// terminal multiplexer and infers turn completion by tailing an append-only
// JSONL transcript instead of talking to the agent directly.
package term

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"

	"github.com/devsessions/devsessions/internal/debug"
	"github.com/devsessions/devsessions/internal/registry"
	"github.com/devsessions/devsessions/internal/session"
	"github.com/devsessions/devsessions/internal/transcript"
)

// LivenessProbeEvery is the tunable named in the spec's open question:
// multiplexer-session liveness is checked on every Nth poll of Wait, not
// every poll, to avoid spawning a tmux subprocess per tick.
const LivenessProbeEvery = 10

const (
	sendLiteralPause = 75 * time.Millisecond
	sendFirstPause   = 150 * time.Millisecond
)

// Config holds the tunables a Driver needs beyond the hardcoded algorithm
// in §4.D.
type Config struct {
	AgentExecutable      string            // binary execed inside the pane
	ModeFlags            map[registry.Mode][]string
	ContainerWrapper     string            // required PATH binary for mode C
	ContainerStartupWait time.Duration     // fixed delay before the bypass Enter in mode C
	TranscriptPollDelay  time.Duration     // interval while waiting for the transcript to appear
	TranscriptDeadline   time.Duration     // DEV_SESSIONS_TRANSCRIPT_TIMEOUT_MS
}

// DefaultConfig returns reasonable defaults, honoring
// DEV_SESSIONS_TRANSCRIPT_TIMEOUT_MS when set.
func DefaultConfig() Config {
	deadline := 10 * time.Second
	if ms := os.Getenv("DEV_SESSIONS_TRANSCRIPT_TIMEOUT_MS"); ms != "" {
		var v int
		if _, err := fmt.Sscanf(ms, "%d", &v); err == nil && v > 0 {
			deadline = time.Duration(v) * time.Millisecond
		}
	}
	return Config{
		AgentExecutable:      "claude",
		ModeFlags:            map[registry.Mode][]string{},
		ContainerWrapper:     "devsessions-container-wrapper",
		ContainerStartupWait: 2 * time.Second,
		TranscriptPollDelay:  200 * time.Millisecond,
		TranscriptDeadline:   deadline,
	}
}

// Driver implements session.Backend for TERM-kind sessions.
type Driver struct {
	cfg  Config
	tmux tmux
}

// New returns a TERM Driver.
func New(cfg Config) *Driver {
	return &Driver{cfg: cfg}
}

var _ session.Backend = (*Driver)(nil)

// Create spawns a new detached multiplexer session whose pane changes into
// workspacePath and execs the agent binary with the chosen internal id.
func (d *Driver) Create(ctx context.Context, opts session.CreateOptions) (session.CreateResult, error) {
	internalID := uuid.NewString()
	multiplexerName := multiplexerSessionName(opts.Handle)

	if opts.Mode == registry.ModeC {
		if _, err := exec.LookPath(d.cfg.ContainerWrapper); err != nil {
			return session.CreateResult{}, fmt.Errorf("term: mode C requires %q on PATH: %w", d.cfg.ContainerWrapper, err)
		}
	}

	shellCmd := d.buildLaunchCommand(opts, internalID)
	if err := d.tmux.newSession(ctx, multiplexerName, shellCmd); err != nil {
		return session.CreateResult{}, err
	}

	if opts.Mode == registry.ModeC {
		time.Sleep(d.cfg.ContainerStartupWait)
		if err := d.tmux.sendEnter(ctx, multiplexerName); err != nil {
			debug.Logf("term: bypass Enter for mode C failed: %v\n", err)
		}
	} else {
		d.waitForTranscript(ctx, opts.WorkspacePath, internalID)
	}

	return session.CreateResult{InternalID: internalID}, nil
}

func (d *Driver) buildLaunchCommand(opts session.CreateOptions, internalID string) string {
	flags := d.cfg.ModeFlags[opts.Mode]
	cmd := fmt.Sprintf("cd %q && exec %s --session-id %s", opts.WorkspacePath, d.cfg.AgentExecutable, internalID)
	for _, f := range flags {
		cmd += " " + f
	}
	return cmd
}

func (d *Driver) waitForTranscript(ctx context.Context, workspacePath, internalID string) {
	path, err := transcript.PathFor(workspacePath, internalID)
	if err != nil {
		debug.Logf("term: cannot compute transcript path: %v\n", err)
		return
	}

	deadline := time.Now().Add(d.cfg.TranscriptDeadline)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.cfg.TranscriptPollDelay):
		}
	}
	debug.Logf("term: transcript %s did not appear within %s\n", path, d.cfg.TranscriptDeadline)
}

func multiplexerSessionName(handle string) string {
	return "ds-" + handle
}

// Send verifies the agent process is running, then delivers text as a
// literal (non-interpreted) send-keys payload followed by two Enter
// keypresses, with the exact pauses the spec calls for.
func (d *Driver) Send(ctx context.Context, rec registry.SessionRecord, text string) (session.SendResult, error) {
	multiplexerName := multiplexerSessionName(rec.Handle)

	running, err := agentIsRunning(ctx, d.tmux, multiplexerName)
	if err != nil {
		return session.SendResult{}, fmt.Errorf("term: checking agent process: %w", err)
	}
	if !running {
		return session.SendResult{}, errors.New("term: agent process is not running in session")
	}

	if err := d.tmux.sendKeysLiteral(ctx, multiplexerName, text); err != nil {
		return session.SendResult{}, err
	}

	time.Sleep(sendLiteralPause)
	if err := d.tmux.sendEnter(ctx, multiplexerName); err != nil {
		return session.SendResult{}, err
	}
	time.Sleep(sendFirstPause)
	if err := d.tmux.sendEnter(ctx, multiplexerName); err != nil {
		return session.SendResult{}, err
	}

	path, err := transcript.PathFor(rec.WorkspacePath, rec.InternalID)
	if err != nil {
		return session.SendResult{}, err
	}
	entries, err := transcript.ReadFile(path)
	if err != nil {
		return session.SendResult{}, err
	}
	baseline := transcript.CountSystem(entries)

	return session.SendResult{
		Patch: registry.Patch{TermBaselineCompletionCount: &baseline},
	}, nil
}

// Status delegates to transcript.InferStatus over the current transcript.
func (d *Driver) Status(ctx context.Context, rec registry.SessionRecord) (session.StatusResult, error) {
	path, err := transcript.PathFor(rec.WorkspacePath, rec.InternalID)
	if err != nil {
		return session.StatusResult{}, err
	}
	entries, err := transcript.ReadFile(path)
	if err != nil {
		return session.StatusResult{}, err
	}

	switch transcript.InferStatus(entries) {
	case transcript.StatusWorking:
		return session.StatusResult{Status: session.StatusWorking}, nil
	case transcript.StatusWaitingForInput:
		return session.StatusResult{Status: session.StatusWaitingForInput}, nil
	default:
		return session.StatusResult{Status: session.StatusIdle}, nil
	}
}

// Wait polls the transcript for a completion signal: countSystem(entries)
// exceeding the baseline captured at send time. Every LivenessProbeEvery
// polls it also checks the multiplexer session is still alive.
func (d *Driver) Wait(ctx context.Context, rec registry.SessionRecord, opts session.WaitOptions) (session.WaitResult, error) {
	multiplexerName := multiplexerSessionName(rec.Handle)
	path, err := transcript.PathFor(rec.WorkspacePath, rec.InternalID)
	if err != nil {
		return session.WaitResult{}, err
	}

	baseline := 0
	if rec.TermBaselineCompletionCount != nil {
		baseline = *rec.TermBaselineCompletionCount
	}

	start := time.Now()
	deadline := start.Add(opts.Timeout)
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}

	var lastMtime time.Time
	var entries []transcript.Entry
	poll := 0

	for {
		poll++

		if poll%LivenessProbeEvery == 0 {
			if !d.tmux.hasSession(ctx, multiplexerName) {
				inactive := registry.StatusInactive
				return session.WaitResult{
					Completed: false,
					TimedOut:  false,
					Patch:     registry.Patch{Status: &inactive},
					ErrorToThrow: errors.New("session died during wait"),
				}, nil
			}
		}

		if info, err := os.Stat(path); err == nil && info.ModTime().After(lastMtime) {
			lastMtime = info.ModTime()
			entries, err = transcript.ReadFile(path)
			if err != nil {
				return session.WaitResult{}, err
			}
			if transcript.CountSystem(entries) > baseline {
				return session.WaitResult{Completed: true, ElapsedMs: time.Since(start).Milliseconds()}, nil
			}
		}

		if time.Now().After(deadline) {
			return session.WaitResult{Completed: false, TimedOut: true}, nil
		}

		select {
		case <-ctx.Done():
			return session.WaitResult{Completed: false, TimedOut: false, ErrorToThrow: ctx.Err()}, nil
		case <-time.After(pollInterval):
		}
	}
}

// Exists reports whether the multiplexer session is still alive.
func (d *Driver) Exists(ctx context.Context, rec registry.SessionRecord) (session.Liveness, error) {
	if d.tmux.hasSession(ctx, multiplexerSessionName(rec.Handle)) {
		return session.LivenessAlive, nil
	}
	return session.LivenessDead, nil
}

// GetLastMessages returns the last n assistant text blocks.
func (d *Driver) GetLastMessages(ctx context.Context, rec registry.SessionRecord, n int) ([]string, error) {
	path, err := transcript.PathFor(rec.WorkspacePath, rec.InternalID)
	if err != nil {
		return nil, err
	}
	entries, err := transcript.ReadFile(path)
	if err != nil {
		return nil, err
	}
	all := transcript.AssistantText(entries)
	if n < 1 {
		n = 1
	}
	if len(all) <= n {
		return all, nil
	}
	return all[len(all)-n:], nil
}

// GetLogs returns the full human/assistant turn sequence.
func (d *Driver) GetLogs(ctx context.Context, rec registry.SessionRecord) ([]session.LogTurn, error) {
	path, err := transcript.PathFor(rec.WorkspacePath, rec.InternalID)
	if err != nil {
		return nil, err
	}
	entries, err := transcript.ReadFile(path)
	if err != nil {
		return nil, err
	}
	turns := transcript.ExtractTurns(entries)
	out := make([]session.LogTurn, len(turns))
	for i, t := range turns {
		out[i] = session.LogTurn{Role: t.Role, Text: t.Text}
	}
	return out, nil
}

// Kill tears down the multiplexer session, swallowing "no such
// session/server" errors.
func (d *Driver) Kill(ctx context.Context, rec registry.SessionRecord) error {
	return d.tmux.killSession(ctx, multiplexerSessionName(rec.Handle))
}

// AfterKill is a no-op for TERM sessions; there is no shared daemon to
// tear down.
func (d *Driver) AfterKill(ctx context.Context, remainingActive []registry.SessionRecord) error {
	return nil
}

// PreSendFields is a no-op: the completion-count baseline is captured
// inside Send itself, after verifying the agent is alive.
func (d *Driver) PreSendFields(rec registry.SessionRecord) registry.Patch {
	return registry.Patch{}
}

// OnSendError records the failed turn outcome.
func (d *Driver) OnSendError(rec registry.SessionRecord, sendErr error) registry.Patch {
	outcome := registry.TurnFailed
	msg := sendErr.Error()
	return registry.Patch{LastTurnOutcome: &outcome, LastTurnError: &msg}
}

// DeadSessionPolicy is prune: a dead TERM session has no recoverable state
// beyond its transcript file, so the record is simply removed.
func (d *Driver) DeadSessionPolicy() session.DeadSessionPolicy {
	return session.PolicyPrune
}
