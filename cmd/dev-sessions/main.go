// Command dev-sessions is the CLI surface for creating, driving, and
// inspecting long-lived coding-agent sessions. It dispatches to a local
// Session Manager directly, or to a Gateway Client when IS_SANDBOX=1 puts
// it inside a container that cannot reach the host's tmux sessions or RPC
// daemon.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}
