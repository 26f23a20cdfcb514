package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var lastMessageCount int

var lastMessageCmd = &cobra.Command{
	Use:   "last-message <handle>",
	Short: "Print the most recent assistant message blocks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDriver()
		if err != nil {
			return err
		}
		blocks, err := d.LastMessages(rootCtx, args[0], lastMessageCount)
		if err != nil {
			return err
		}
		for _, b := range blocks {
			fmt.Println(b)
		}
		return nil
	},
}

func init() {
	lastMessageCmd.Flags().IntVar(&lastMessageCount, "count", 1, "number of recent assistant messages to print")
	rootCmd.AddCommand(lastMessageCmd)
}
