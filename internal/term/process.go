package term

import (
	"context"
	"strings"

	ps "github.com/mitchellh/go-ps"
)

// rejectedExecutables is the closed set of process-name patterns that
// indicate a pane is still sitting at a shell/login prompt or inside the
// multiplexer itself rather than running the agent.
var rejectedExecutables = []string{
	"bash", "zsh", "sh", "dash", "fish", "login", "tmux", "screen",
}

func isRejectedExecutable(name string) bool {
	lower := strings.ToLower(name)
	for _, pattern := range rejectedExecutables {
		if lower == pattern {
			return true
		}
	}
	return false
}

// agentIsRunning verifies the agent process is running inside the pane by
// inspecting the pane's process tree via go-ps: it reports true for the
// first process (the pane process, then its descendants breadth-first) whose
// executable name does not match a shell/login/multiplexer pattern.
//
// buildLaunchCommand execs the agent in place of the pane's login shell
// (`exec %s --session-id %s`), so panePID itself usually *becomes* the agent
// process rather than spawning it as a child — that case is checked first.
// The descendant BFS stays as a fallback for agent CLIs that fork instead of
// exec, or wrap themselves in a supervisor process.
func agentIsRunning(ctx context.Context, t tmux, session string) (bool, error) {
	panePID, err := t.panePID(ctx, session)
	if err != nil || panePID <= 0 {
		return false, err
	}

	if p, err := ps.FindProcess(panePID); err == nil && p != nil {
		if !isRejectedExecutable(p.Executable()) {
			return true, nil
		}
	}

	procs, err := ps.Processes()
	if err != nil {
		return false, err
	}

	byPPID := map[int][]ps.Process{}
	for _, p := range procs {
		byPPID[p.PPid()] = append(byPPID[p.PPid()], p)
	}

	// BFS the pane's descendants looking for at least one process, leaf or
	// not, that is not a shell/login/multiplexer process.
	queue := byPPID[panePID]
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]

		if !isRejectedExecutable(p.Executable()) {
			return true, nil
		}
		queue = append(queue, byPPID[p.Pid()]...)
	}

	return false, nil
}
