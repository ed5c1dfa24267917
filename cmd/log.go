package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jensroland/git-attrib/internal/format"
	"github.com/jensroland/git-attrib/internal/index"
	"github.com/jensroland/git-attrib/internal/record"
)

func newLogCmd() *cobra.Command {
	var (
		jsonOutput  bool
		showPrompts bool
	)
	cmd := &cobra.Command{
		Use:   "log [<range>]",
		Short: "List attributed commits in a range (default HEAD)",
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
			recs, err := idx.Enumerate(c.Context(), revRange)
			if err != nil {
				return fmt.Errorf("enumerate %s: %w", revRange, err)
			}

			out := c.OutOrStdout()
			if jsonOutput {
				if recs == nil {
					recs = []index.CommitRecord{}
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(recs)
			}
			if len(recs) == 0 {
				fmt.Fprintln(out, "No attributed commits.")
				return nil
			}
			var prompt func(record.Session) string
			if showPrompts {
				prompt = func(s record.Session) string {
					if s.PromptRef == "" {
						return ""
					}
					data, err := ws.Objects.Get(s.PromptRef)
					if err != nil {
						return ""
					}
					return string(data)
				}
			}
			return format.Log(out, format.PaletteFor(out), recs, prompt, format.Width(out))
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	cmd.Flags().BoolVarP(&showPrompts, "prompts", "p", false, "Show the prompt of each session")
	return cmd
}
