package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/jensroland/git-attrib/internal/git"
	"github.com/jensroland/git-attrib/internal/hook"
	"github.com/jensroland/git-attrib/internal/project"
	"github.com/jensroland/git-attrib/internal/workspace"
)

// stashAlias is the git alias enable installs for the stash wrapper. Git
// does not let aliases shadow built-in commands, so it has its own name.
const stashAlias = "attrib-stash"

const stashLongDesc string = `Run git stash and carry agent attribution with the stashed edits.

git runs no hook when it stashes, so edits an agent made and then stashed
would otherwise lose their attribution. Arguments are passed to git stash
unchanged. After push or save the ledger entries of the stashed files are
parked with the stash commit; after pop, apply or branch they are restored.

enable installs the alias 'git attrib-stash' for this command.`

func newStashCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:                "stash [<git stash args>...]",
		Short:              "git stash that keeps agent attribution",
		Long:               stashLongDesc,
		DisableFlagParsing: true,
		RunE: func(c *cobra.Command, args []string) error {
			root, err := project.FindRoot()
			if err != nil {
				return err
			}
			ctx := c.Context()
			repo := git.New(root)

			sub, ref := stashTarget(args)
			var restoring string
			if ref != "" {
				restoring, _ = repo.ResolveCommit(ctx, ref)
			}
			before, _ := repo.RevParse(ctx, "refs/stash")

			stashArgs := append([]string{"stash"}, args...)
			if err := repo.Attached(ctx, c.InOrStdin(), c.OutOrStdout(), c.ErrOrStderr(), stashArgs...); err != nil {
				return err
			}
			if !project.IsInitialized(project.NewPaths(root)) {
				return nil
			}

			ws := workspace.Open(root)
			defer ws.Close()
			h := hook.New(ws, c.InOrStdin(), c.OutOrStdout())
			switch {
			case sub == "push" || sub == "save":
				after, _ := repo.RevParse(ctx, "refs/stash")
				if after != "" && after != before {
					return h.Run(ctx, "stash-save", []string{after})
				}
			case restoring != "":
				return h.Run(ctx, "stash-pop", []string{restoring})
			}
			return nil
		},
	}
	return cmd
}

// stashTarget returns the git stash subcommand args run, and for the
// subcommands that bring a stash back, the stash they bring back.
func stashTarget(args []string) (sub, ref string) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return "push", ""
	}
	sub = args[0]
	var operands []string
	for _, a := range args[1:] {
		if !strings.HasPrefix(a, "-") {
			operands = append(operands, a)
		}
	}
	switch sub {
	case "pop", "apply":
		ref = "stash@{0}"
		if len(operands) > 0 {
			ref = operands[0]
		}
	case "branch":
		ref = "stash@{0}"
		if len(operands) > 1 {
			ref = operands[1]
		}
	default:
		return sub, ""
	}
	if isDigits(ref) {
		ref = "stash@{" + ref + "}"
	}
	return sub, ref
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
