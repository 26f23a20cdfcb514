package main

import "github.com/spf13/cobra"

var killCmd = &cobra.Command{
	Use:   "kill <handle>",
	Short: "Tear down a session and remove it from the registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDriver()
		if err != nil {
			return err
		}
		return d.Kill(rootCtx, args[0])
	},
}

func init() {
	rootCmd.AddCommand(killCmd)
}
