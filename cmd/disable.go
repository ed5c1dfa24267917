package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jensroland/git-attrib/internal/config"
	"github.com/jensroland/git-attrib/internal/git"
	"github.com/jensroland/git-attrib/internal/hook"
	"github.com/jensroland/git-attrib/internal/project"
)

const disableLongDesc string = `Remove attribution tracking from the current repository.

Removes the git-attrib lines from the git hooks and deletes the local
cache: objects, ledger, index and logs. Notes stay in place unless
--purge is given, so attribution already shared with others is not lost.`

func newDisableCmd() *cobra.Command {
	var purge bool
	cmd := &cobra.Command{
		Use:   "disable",
		Short: "Remove attribution hooks and local state from this repo",
		Long:  disableLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			root, err := project.FindRoot()
			if err != nil {
				return err
			}
			paths := project.NewPaths(root)
			cmdDisable(c.Context(), c.OutOrStdout(), paths, hooksDir(c.Context(), paths), purge)
			return nil
		},
	}
	cmd.Flags().BoolVar(&purge, "purge", false, "Also delete the attribution notes ref")
	return cmd
}

func cmdDisable(ctx context.Context, out io.Writer, paths project.Paths, hooksDir string, purge bool) {
	var removed []string

	if purge {
		cfg, _ := config.Load(paths.CacheDir)
		repo := git.New(paths.Root)
		if _, err := repo.RevParse(ctx, cfg.Notes.Ref); err == nil {
			if _, err := repo.Run(ctx, "update-ref", "-d", cfg.Notes.Ref); err == nil {
				removed = append(removed, cfg.Notes.Ref)
			}
		}
	}

	for _, dir := range []string{filepath.Dir(paths.LedgerDir), paths.CacheDir} {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			_ = os.RemoveAll(dir)
			removed = append(removed, relativePath(dir, paths.Root, paths.Root)+"/")
		}
	}

	for _, name := range hook.GitHooks {
		cleanGitHook(hooksDir, name, &removed)
	}
	removeStashAlias(ctx, paths, &removed)

	if len(removed) == 0 {
		fmt.Fprintln(out, "git-attrib is not enabled in this repo.")
		return
	}
	for _, item := range removed {
		fmt.Fprintf(out, "  Removed %s\n", item)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Attribution tracking removed from this repo.")
	fmt.Fprintln(out, "Run 'git-attrib enable' to re-initialize.")
}

// removeStashAlias drops the stash alias if it still runs git-attrib.
func removeStashAlias(ctx context.Context, paths project.Paths, removed *[]string) {
	repo := git.New(paths.Root)
	key := "alias." + stashAlias
	value, err := repo.Run(ctx, "config", "--local", "--get", key)
	if err != nil || !strings.HasSuffix(value, " stash") {
		return
	}
	if _, err := repo.Run(ctx, "config", "--local", "--unset", key); err == nil {
		*removed = append(*removed, key)
	}
}

// cleanGitHook removes the git-attrib section from a git hook file, and the
// file itself when nothing else is left in it.
func cleanGitHook(hooksDir, hookName string, removed *[]string) {
	hookFile := filepath.Join(hooksDir, hookName)
	data, err := os.ReadFile(hookFile)
	if err != nil {
		return
	}
	content := string(data)
	if !strings.Contains(content, hookMarker) {
		return
	}

	lines := strings.Split(content, "\n")
	var cleaned []string
	skip := false
	for _, line := range lines {
		if strings.TrimSpace(line) == hookMarker {
			skip = true
			// Remove preceding blank line
			if len(cleaned) > 0 && strings.TrimSpace(cleaned[len(cleaned)-1]) == "" {
				cleaned = cleaned[:len(cleaned)-1]
			}
			continue
		}
		if skip {
			skip = false
			if strings.Contains(line, " hook "+hookName) {
				continue
			}
		}
		cleaned = append(cleaned, line)
	}

	remaining := strings.TrimSpace(strings.Join(cleaned, "\n"))
	if remaining == "" || remaining == "#!/bin/sh" || remaining == "#!/usr/bin/env bash" {
		_ = os.Remove(hookFile)
		*removed = append(*removed, fmt.Sprintf("hooks/%s (deleted)", hookName))
	} else {
		_ = os.WriteFile(hookFile, []byte(strings.Join(cleaned, "\n")), 0o755)
		*removed = append(*removed, fmt.Sprintf("hooks/%s (cleaned)", hookName))
	}
}
