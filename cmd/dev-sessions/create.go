package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/devsessions/devsessions/internal/registry"
	"github.com/devsessions/devsessions/internal/session"
)

var (
	createCLI         string
	createMode        string
	createDescription string
)

var createCmd = &cobra.Command{
	Use:   "create <path>",
	Short: "Create a new session rooted at a workspace path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDriver()
		if err != nil {
			return err
		}

		kind := registry.KindTERM
		mode := registry.ModeA
		switch createCLI {
		case "codex":
			kind = registry.KindRPC
			mode = registry.ModeRPC
		case "":
		default:
			return fmt.Errorf("unknown --cli %q", createCLI)
		}
		if kind == registry.KindTERM {
			requestedMode := createMode
			if requestedMode == "" && localCfg != nil {
				requestedMode = localCfg.DefaultMode
			}
			switch registry.Mode(requestedMode) {
			case registry.ModeA, registry.ModeB, registry.ModeC:
				mode = registry.Mode(requestedMode)
			case "":
			default:
				return fmt.Errorf("unknown --mode %q", requestedMode)
			}
		}

		rec, err := d.Create(rootCtx, session.CreateSessionOptions{
			Kind:          kind,
			Mode:          mode,
			WorkspacePath: args[0],
			Description:   createDescription,
		})
		if err != nil {
			return err
		}
		fmt.Println(rec.Handle)
		return nil
	},
}

func init() {
	createCmd.Flags().StringVar(&createCLI, "cli", "", "agent CLI to run: \"codex\" selects the RPC backend, empty selects TERM; other values are rejected")
	createCmd.Flags().StringVar(&createMode, "mode", "", "TERM launch mode: A, B, or C")
	createCmd.Flags().StringVar(&createDescription, "description", "", "free-form note stored on the session record")
	rootCmd.AddCommand(createCmd)
}
