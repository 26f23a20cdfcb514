package term

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os/exec"
	"strings"
)

// tmux wraps the small slice of tmux commands the TERM driver needs. The
// command shapes mirror the teacher's TmuxBackend (internal/coop/backend.go):
// has-session, display-message, kill-session, new-session, send-keys -l,
// each shelled out via exec.CommandContext.
type tmux struct{}

func (tmux) hasSession(ctx context.Context, session string) bool {
	cmd := exec.CommandContext(ctx, "tmux", "has-session", "-t", session)
	return cmd.Run() == nil
}

func (tmux) newSession(ctx context.Context, session, shellCommand string) error {
	cmd := exec.CommandContext(ctx, "tmux", "new-session", "-d", "-s", session, shellCommand)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("tmux new-session: %s", stderr.String())
	}
	return nil
}

func (tmux) killSession(ctx context.Context, session string) error {
	cmd := exec.CommandContext(ctx, "tmux", "kill-session", "-t", session)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := stderr.String()
		if isNoSuchSession(msg) {
			return nil
		}
		return fmt.Errorf("tmux kill-session: %s", msg)
	}
	return nil
}

func isNoSuchSession(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "no such session") || strings.Contains(lower, "no server running") ||
		strings.Contains(lower, "can't find session") || strings.Contains(lower, "no current session")
}

func (tmux) paneDead(ctx context.Context, session string) (bool, error) {
	cmd := exec.CommandContext(ctx, "tmux", "display-message", "-t", session, "-p", "#{pane_dead}")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return true, fmt.Errorf("tmux display-message: %s", stderr.String())
	}
	return strings.TrimSpace(stdout.String()) == "1", nil
}

func (tmux) panePID(ctx context.Context, session string) (int, error) {
	cmd := exec.CommandContext(ctx, "tmux", "display-message", "-t", session, "-p", "#{pane_pid}")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("tmux display-message: %s", stderr.String())
	}
	var pid int
	fmt.Sscanf(strings.TrimSpace(stdout.String()), "%d", &pid)
	return pid, nil
}

// sendKeysLiteral delivers text into the pane without the shell or tmux
// interpreting any control characters in it. The message is base64-encoded
// and handed to a decode-and-send-keys shell command rather than passed as
// a raw argv element, so embedded newlines, quotes, or escape sequences in
// the agent's input never reach tmux's own key-sequence parser.
func (tmux) sendKeysLiteral(ctx context.Context, session, text string) error {
	encoded := base64.StdEncoding.EncodeToString([]byte(text))
	shellCmd := fmt.Sprintf(`tmux send-keys -t %s -l -- "$(printf '%%s' %s | base64 -d)"`, session, encoded)
	cmd := exec.CommandContext(ctx, "sh", "-c", shellCmd)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("tmux send-keys: %s", stderr.String())
	}
	return nil
}

func (tmux) sendEnter(ctx context.Context, session string) error {
	cmd := exec.CommandContext(ctx, "tmux", "send-keys", "-t", session, "Enter")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("tmux send-keys Enter: %s", stderr.String())
	}
	return nil
}
