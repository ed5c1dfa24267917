package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jensroland/git-attrib/internal/workspace"
)

const gcLongDesc string = `Remove attribution data nothing refers to any more.

Objects are kept while a note on an existing commit or a registered
session references them, and for cas.prune_grace after they were written.
Run it after git gc so notes on pruned commits no longer count.`

func newGCCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Prune unreferenced objects and stale ledger entries",
		Long:  gcLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			ws, err := openWorkspace()
			if err != nil {
				return err
			}
			defer ws.Close()

			res, err := collect(c.Context(), ws)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "%d objects removed, %d ledger entries swept\n", res.objects, res.swept)
			return nil
		},
	}
	return cmd
}

type gcResult struct {
	objects int
	swept   int
}

func collect(ctx context.Context, ws *workspace.Workspace) (gcResult, error) {
	var res gcResult
	swept, err := ws.Ledger.Sweep()
	if err != nil {
		return res, fmt.Errorf("sweep ledger: %w", err)
	}
	res.swept = swept

	live, err := ws.Notes.Live(ctx)
	if err != nil {
		return res, fmt.Errorf("mark live objects: %w", err)
	}
	prompts, err := ws.Ledger.PromptRefs()
	if err != nil {
		return res, fmt.Errorf("list session prompts: %w", err)
	}
	for ref := range prompts {
		live[ref] = true
	}

	removed, err := ws.Objects.Prune(func(hash string) bool { return live[hash] }, ws.Config.CAS.PruneGrace)
	res.objects = removed
	if err != nil {
		return res, fmt.Errorf("prune objects: %w", err)
	}
	ws.Log.WithField("removed", removed).WithField("swept", swept).Info("gc finished")
	return res, nil
}
