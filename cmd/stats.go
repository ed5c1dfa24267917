package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jensroland/git-attrib/internal/format"
)

func newStatsCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "stats [<range>]",
		Short: "Agent lines by agent, model and session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			ws, err := openWorkspace()
			if err != nil {
				return err
			}
			defer ws.Close()

			idx, err := ws.SyncedIndex(c.Context())
			if err != nil {
				return err
			}
			revRange := ""
			if len(args) == 1 {
				revRange = args[0]
			}
			st, err := idx.Stats(c.Context(), revRange)
			if err != nil {
				return fmt.Errorf("stats %s: %w", revRange, err)
			}

			out := c.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(st)
			}
			return format.Stats(out, format.PaletteFor(out), st, format.Width(out))
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	return cmd
}
