package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listJSON bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List active sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := newDriver()
		if err != nil {
			return err
		}
		sessions, err := d.List(rootCtx)
		if err != nil {
			return err
		}

		if listJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(sessions)
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(tw, "HANDLE\tKIND\tMODE\tSTATUS\tWORKSPACE")
		for _, s := range sessions {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.Handle, s.Kind, s.Mode, s.Status, s.WorkspacePath)
		}
		return tw.Flush()
	},
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "print sessions as a JSON array")
	rootCmd.AddCommand(listCmd)
}
