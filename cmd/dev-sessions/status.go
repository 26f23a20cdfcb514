package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <handle>",
	Short: "Print a session's current transcript status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDriver()
		if err != nil {
			return err
		}
		status, err := d.Status(rootCtx, args[0])
		if err != nil {
			return err
		}
		fmt.Println(status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
