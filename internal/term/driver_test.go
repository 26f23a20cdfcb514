package term

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/devsessions/devsessions/internal/registry"
	"github.com/devsessions/devsessions/internal/session"
)

func TestMultiplexerSessionName(t *testing.T) {
	assert.Equal(t, "ds-bright-otter", multiplexerSessionName("bright-otter"))
}

func TestBuildLaunchCommand(t *testing.T) {
	d := New(DefaultConfig())
	cmd := d.buildLaunchCommand(session.CreateOptions{
		WorkspacePath: "/tmp/proj",
		Mode:          registry.ModeA,
	}, "abc-123")

	assert.Contains(t, cmd, `cd "/tmp/proj"`)
	assert.Contains(t, cmd, "exec claude --session-id abc-123")
}

func TestBuildLaunchCommandAppendsModeFlags(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModeFlags[registry.ModeB] = []string{"--headless"}
	d := New(cfg)

	cmd := d.buildLaunchCommand(session.CreateOptions{
		WorkspacePath: "/tmp/proj",
		Mode:          registry.ModeB,
	}, "abc-123")

	assert.Contains(t, cmd, "--headless")
}

func TestIsRejectedExecutable(t *testing.T) {
	assert.True(t, isRejectedExecutable("bash"))
	assert.True(t, isRejectedExecutable("ZSH"))
	assert.True(t, isRejectedExecutable("tmux"))
	assert.False(t, isRejectedExecutable("claude"))
}

func TestIsNoSuchSession(t *testing.T) {
	assert.True(t, isNoSuchSession("can't find session: ds-x"))
	assert.True(t, isNoSuchSession("no server running on /tmp/tmux-1000/default"))
	assert.False(t, isNoSuchSession("some other tmux error"))
}

func TestDeadSessionPolicyIsPrune(t *testing.T) {
	d := New(DefaultConfig())
	assert.Equal(t, session.PolicyPrune, d.DeadSessionPolicy())
}

func TestOnSendErrorSetsFailedOutcome(t *testing.T) {
	d := New(DefaultConfig())
	patch := d.OnSendError(registry.SessionRecord{}, assertError{})

	if assert.NotNil(t, patch.LastTurnOutcome) {
		assert.Equal(t, registry.TurnFailed, *patch.LastTurnOutcome)
	}
	if assert.NotNil(t, patch.LastTurnError) {
		assert.Equal(t, "boom", *patch.LastTurnError)
	}
}

type assertError struct{}

func (assertError) Error() string { return "boom" }
