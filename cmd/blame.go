package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jensroland/git-attrib/internal/blame"
	"github.com/jensroland/git-attrib/internal/errs"
	"github.com/jensroland/git-attrib/internal/format"
)

const blameLongDesc string = `Show who wrote each line of a file: the agent and model for lines an
agent session produced, the git author for everything else.

A "~" before the agent marks a claim that was carried across a rewrite
by content similarity rather than an exact line match.

Examples:
  git-attrib blame main.go
  git-attrib blame -L 10,40 main.go
  git-attrib blame -r v1.2.0 --json main.go`

func newBlameCmd() *cobra.Command {
	var (
		rev        string
		lineRange  string
		jsonOutput bool
	)
	cmd := &cobra.Command{
		Use:   "blame [flags] <file>",
		Short: "Per-line attribution for a file",
		Long:  blameLongDesc,
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			var opts blame.Options
			if lineRange != "" {
				from, to, err := parseLineRange(lineRange)
				if err != nil {
					return err
				}
				opts = blame.Options{From: from, To: to}
			}

			ws, err := openWorkspace()
			if err != nil {
				return err
			}
			defer ws.Close()

			cwd, _ := os.Getwd()
			path := relativePath(args[0], ws.Paths.Root, cwd)
			engine := blame.New(ws.Repo, ws.Notes, ws.Log)
			lines, err := engine.Collect(c.Context(), path, rev, opts)
			out := c.OutOrStdout()
			if errors.Is(err, errs.ErrNoAttribution) {
				if jsonOutput {
					fmt.Fprintln(out, "[]")
				}
				fmt.Fprintln(c.ErrOrStderr(), errs.ErrNoAttribution)
				return nil
			}
			if err != nil {
				return fmt.Errorf("blame %s: %w", path, err)
			}

			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if lines == nil {
					lines = []blame.Line{}
				}
				return enc.Encode(lines)
			}
			if len(lines) == 0 {
				return nil
			}
			p := format.PaletteFor(out)
			width := format.NumberWidth(lines[len(lines)-1].Number)
			for _, l := range lines {
				if err := format.BlameLine(out, p, l, width); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&rev, "rev", "r", "", "Blame the file at this revision instead of the working tree")
	cmd.Flags().StringVarP(&lineRange, "lines", "L", "", "Line or range: 42, 10,20 or 10:20")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
	return cmd
}

// parseLineRange parses a line spec like "42", "10:20", or "10,20".
func parseLineRange(spec string) (int, int, error) {
	first, second, found := strings.Cut(spec, ",")
	if !found {
		first, second, found = strings.Cut(spec, ":")
	}
	start, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil || start < 1 {
		return 0, 0, fmt.Errorf("invalid line range %q", spec)
	}
	if !found {
		return start, start, nil
	}
	end, err := strconv.Atoi(strings.TrimSpace(second))
	if err != nil || end < start {
		return 0, 0, fmt.Errorf("invalid line range %q", spec)
	}
	return start, end, nil
}
