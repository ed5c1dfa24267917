// Package cmd is the git-attrib command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jensroland/git-attrib/internal/project"
	"github.com/jensroland/git-attrib/internal/workspace"
)

const rootLongDesc string = `git-attrib records which lines of a repository were written by AI agents.

Attribution is stored in git notes under refs/notes/attrib and follows
commits through amend, rebase, cherry-pick, squash and stash.

Usage:
  git-attrib enable                   install the git hooks in this repo
  git-attrib blame [-L a,b] <file>    per-line attribution
  git-attrib log [<range>]            attributed commits
  git-attrib stats [<range>]          aggregate by agent, model and session
  git-attrib repair [<range>]         derive missing notes from predecessors
  git-attrib stash [<args>]           git stash that keeps attribution
  git-attrib gc                       prune unreferenced objects`

const rootShortDesc string = "Per-line AI attribution for git"

// errNotEnabled is returned by commands that need an enabled repository.
var errNotEnabled = errors.New("attribution is not enabled in this repo; run 'git-attrib enable' first")

// NewRootCmd builds the command tree.
func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "git-attrib",
		Short:         rootShortDesc,
		Long:          rootLongDesc,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		newHookCmd(),
		newBlameCmd(),
		newLogCmd(),
		newStatsCmd(),
		newRepairCmd(),
		newGCCmd(),
		newStashCmd(),
		newEnableCmd(),
		newDisableCmd(),
	)
	return cmd
}

// Execute runs the command line and returns the process exit code.
func Execute(version string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd(version).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

// openWorkspace opens the enabled repository containing the working
// directory. Callers Close it.
func openWorkspace() (*workspace.Workspace, error) {
	root, err := project.FindRoot()
	if err != nil {
		return nil, err
	}
	if !project.IsInitialized(project.NewPaths(root)) {
		return nil, errNotEnabled
	}
	return workspace.Open(root), nil
}

// relativePath maps a command line path to a path relative to the
// repository root. Relative paths are taken from cwd.
func relativePath(filePath, root, cwd string) string {
	if !filepath.IsAbs(filePath) {
		filePath = filepath.Join(cwd, filePath)
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	if resolved, err := filepath.EvalSymlinks(filepath.Dir(filePath)); err == nil {
		filePath = filepath.Join(resolved, filepath.Base(filePath))
	}
	rel, err := filepath.Rel(root, filePath)
	if err != nil {
		return filepath.ToSlash(filePath)
	}
	return filepath.ToSlash(rel)
}
