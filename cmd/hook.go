package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jensroland/git-attrib/internal/hook"
	"github.com/jensroland/git-attrib/internal/project"
	"github.com/jensroland/git-attrib/internal/workspace"
)

const hookLongDesc string = `Run a hook handler. Installed git hooks and agent integrations call this;
it is not meant to be run by hand.

Git hooks:    post-commit, prepare-commit-msg, post-merge, post-rewrite, pre-push
Agents:       session-open, session-close, span
Claude Code:  prompt-submit, post-tool-use, stop
Stash:        stash-save <sha>, stash-pop <sha> (run by git-attrib stash)

Payloads are read from stdin as JSON. Handlers never fail: errors go to
the attribution log.`

func newHookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:                "hook <name> [args...]",
		Short:              "Run a hook handler",
		Long:               hookLongDesc,
		Args:               cobra.MinimumNArgs(1),
		DisableFlagParsing: true,
		RunE: func(c *cobra.Command, args []string) error {
			name := args[0]
			if !hook.Known(name) {
				return fmt.Errorf("unknown hook %q", name)
			}
			root, err := project.FindRoot()
			if err != nil {
				return nil
			}
			if !project.IsInitialized(project.NewPaths(root)) {
				return nil
			}
			ws := workspace.Open(root)
			defer ws.Close()
			return hook.New(ws, c.InOrStdin(), c.OutOrStdout()).Run(c.Context(), name, args[1:])
		},
	}
	return cmd
}
