package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	waitTimeoutSeconds  int
	waitIntervalSeconds int
)

var waitCmd = &cobra.Command{
	Use:   "wait <handle>",
	Short: "Block until a session's turn completes or the timeout elapses",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDriver()
		if err != nil {
			return err
		}
		interval := time.Duration(waitIntervalSeconds) * time.Second
		if !cmd.Flags().Changed("interval") && localCfg != nil && localCfg.PollIntervalMs > 0 {
			interval = time.Duration(localCfg.PollIntervalMs) * time.Millisecond
		}
		completed, timedOut, elapsedMs, err := d.Wait(
			rootCtx, args[0],
			time.Duration(waitTimeoutSeconds)*time.Second,
			interval,
		)
		if err != nil {
			return err
		}

		fmt.Printf("completed=%v timedOut=%v elapsedMs=%d\n", completed, timedOut, elapsedMs)
		if timedOut {
			// Server state is authoritative: a wait timeout is not a
			// session failure, just this invocation giving up early.
			os.Exit(exitTimedOut)
		}
		return nil
	},
}

func init() {
	waitCmd.Flags().IntVar(&waitTimeoutSeconds, "timeout", 30, "seconds to wait before giving up")
	waitCmd.Flags().IntVar(&waitIntervalSeconds, "interval", 2, "poll interval in seconds")
	rootCmd.AddCommand(waitCmd)
}
