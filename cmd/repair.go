package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const repairLongDesc string = `Derive notes for commits that have none, for example after a rewrite
that ran without the hooks installed. Predecessors are found through
cherry-pick trailers and patch ids. Existing notes are never modified.

Examples:
  git-attrib repair
  git-attrib repair origin/main..HEAD`

func newRepairCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repair [<range>]",
		Short: "Derive missing notes from predecessor commits",
		Long:  repairLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			ws, err := openWorkspace()
			if err != nil {
				return err
			}
			defer ws.Close()

			revRange := "HEAD"
			if len(args) == 1 {
				revRange = args[0]
			}
			res, err := ws.Propagator().Repair(c.Context(), revRange)
			fmt.Fprintf(c.OutOrStdout(), "%d attached, %d partial, %d without predecessors, %d failed\n",
				res.Attached, res.Partial, res.Skipped, res.Failed)
			return err
		},
	}
	return cmd
}
