package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var sendFile string

var sendCmd = &cobra.Command{
	Use:   "send <handle> [message]",
	Short: "Send a message to an active session",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		handle := args[0]
		hasMessage := len(args) == 2
		hasFile := sendFile != ""
		if hasMessage == hasFile {
			return fmt.Errorf("provide exactly one of a message argument or --file")
		}

		text := ""
		if hasMessage {
			text = args[1]
		} else {
			data, err := os.ReadFile(sendFile) // #nosec G304 - caller-supplied local path
			if err != nil {
				return fmt.Errorf("reading --file %q: %w", sendFile, err)
			}
			text = string(data)
		}

		d, err := newDriver()
		if err != nil {
			return err
		}
		return d.Send(rootCtx, handle, text)
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendFile, "file", "", "read the message body from this file instead of an argument")
	rootCmd.AddCommand(sendCmd)
}
