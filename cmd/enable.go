package cmd

import (
	"context"
	"encoding/json"
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

// hookMarker precedes the line git-attrib adds to a git hook script.
const hookMarker = "# git-attrib"

const enableLongDesc string = `Enable attribution tracking in the current repository.

Creates the attribution cache in the git dir, writes a default config.toml
and installs the git hooks that attach notes to new commits and carry them
through rewrites. Existing hook scripts are appended to, not replaced.
Git runs no hook on stash, so enable also adds the alias 'git attrib-stash'
for the stash wrapper.

With --global, also registers the Claude Code hooks in ~/.claude/settings.json
so edits made by Claude Code are recorded without further setup.`

func newEnableCmd() *cobra.Command {
	var global bool
	cmd := &cobra.Command{
		Use:   "enable",
		Short: "Install attribution hooks in this repo",
		Long:  enableLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			binary, err := os.Executable()
			if err != nil {
				return fmt.Errorf("could not determine binary path: %w", err)
			}
			out := c.OutOrStdout()
			if global {
				home, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				settings := filepath.Join(home, ".claude", "settings.json")
				if err := configureClaude(settings, binary); err != nil {
					return err
				}
				fmt.Fprintf(out, "  ✓ Claude Code hooks configured in %s\n", settings)
			}

			root, err := project.FindRoot()
			if err != nil {
				return err
			}
			return enableRepo(c.Context(), out, project.NewPaths(root), binary)
		},
	}
	cmd.Flags().BoolVar(&global, "global", false, "Also configure Claude Code hooks globally")
	return cmd
}

func enableRepo(ctx context.Context, out io.Writer, paths project.Paths, binary string) error {
	fmt.Fprintf(out, "Enabling attribution in %s\n", paths.Root)

	for _, dir := range []string{paths.CacheDir, paths.ObjectsDir, paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	written, err := config.WriteDefault(paths.CacheDir)
	if err != nil {
		return err
	}
	if written {
		fmt.Fprintf(out, "  ✓ Wrote %s\n", config.Path(paths.CacheDir))
	}
	cfg, _ := config.Load(paths.CacheDir)

	dir := hooksDir(ctx, paths)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, name := range hook.GitHooks {
		status, err := installGitHook(dir, name, binary)
		if err != nil {
			return fmt.Errorf("install %s hook: %w", name, err)
		}
		fmt.Fprintf(out, "  ✓ %s hook %s\n", name, status)
	}

	if err := installStashAlias(ctx, paths, binary); err != nil {
		return fmt.Errorf("install stash alias: %w", err)
	}
	fmt.Fprintf(out, "  ✓ git %s alias installed; use it in place of git stash\n", stashAlias)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Ready! Attribution is recorded for new commits.")
	fmt.Fprintf(out, "  Share it with: git push origin %s\n", cfg.Notes.Ref)
	return nil
}

// hooksDir honours core.hooksPath.
func hooksDir(ctx context.Context, paths project.Paths) string {
	dir, err := git.New(paths.Root).Run(ctx, "rev-parse", "--git-path", "hooks")
	if err != nil || dir == "" {
		return filepath.Join(paths.CommonDir, "hooks")
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(paths.Root, dir)
	}
	return dir
}

func stashAliasValue(binary string) string {
	return fmt.Sprintf("!%q stash", binary)
}

func installStashAlias(ctx context.Context, paths project.Paths, binary string) error {
	_, err := git.New(paths.Root).Run(ctx, "config", "--local", "alias."+stashAlias, stashAliasValue(binary))
	return err
}

func hookLine(binary, name string) string {
	return fmt.Sprintf("%q hook %s \"$@\" || true", binary, name)
}

// installGitHook adds the git-attrib line to a hook script, creating the
// script when there is none.
func installGitHook(dir, name, binary string) (string, error) {
	path := filepath.Join(dir, name)
	block := hookMarker + "\n" + hookLine(binary, name) + "\n"

	data, err := os.ReadFile(path)
	switch {
	case err == nil && strings.Contains(string(data), hookMarker):
		return "already installed", nil
	case err == nil:
		content := string(data)
		if !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		if err := os.WriteFile(path, []byte(content+"\n"+block), 0o755); err != nil {
			return "", err
		}
		return "appended to existing script", nil
	case os.IsNotExist(err):
		if err := os.WriteFile(path, []byte("#!/bin/sh\n"+block), 0o755); err != nil {
			return "", err
		}
		return "installed", nil
	default:
		return "", err
	}
}

// configureClaude registers the Claude Code hooks in a settings file,
// replacing earlier git-attrib entries and keeping everything else.
func configureClaude(settingsFile, binary string) error {
	if err := os.MkdirAll(filepath.Dir(settingsFile), 0o755); err != nil {
		return err
	}

	var settings map[string]interface{}
	if data, err := os.ReadFile(settingsFile); err == nil {
		if err := json.Unmarshal(data, &settings); err != nil {
			return fmt.Errorf("parse %s: %w", settingsFile, err)
		}
	}
	if settings == nil {
		settings = map[string]interface{}{}
	}
	hooks, _ := settings["hooks"].(map[string]interface{})
	if hooks == nil {
		hooks = map[string]interface{}{}
	}

	command := func(name string) []interface{} {
		return []interface{}{map[string]interface{}{"type": "command", "command": binary + " hook " + name}}
	}
	exclude := filepath.Base(binary) + " hook "

	postTool := filterHookEntries(hooks, "PostToolUse", exclude)
	hooks["PostToolUse"] = append(postTool, map[string]interface{}{
		"matcher": "Edit|Write|MultiEdit",
		"hooks":   command("post-tool-use"),
	})
	userPrompt := filterHookEntries(hooks, "UserPromptSubmit", exclude)
	hooks["UserPromptSubmit"] = append(userPrompt, map[string]interface{}{
		"hooks": command("prompt-submit"),
	})
	stop := filterHookEntries(hooks, "Stop", exclude)
	hooks["Stop"] = append(stop, map[string]interface{}{
		"hooks": command("stop"),
	})
	settings["hooks"] = hooks

	b, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(settingsFile, append(b, '\n'), 0o644)
}

func filterHookEntries(hooks map[string]interface{}, key, exclude string) []interface{} {
	existing, _ := hooks[key].([]interface{})
	var filtered []interface{}
	for _, entry := range existing {
		e, ok := entry.(map[string]interface{})
		if !ok {
			filtered = append(filtered, entry)
			continue
		}
		hooksList, _ := e["hooks"].([]interface{})
		hasExcluded := false
		for _, h := range hooksList {
			hm, ok := h.(map[string]interface{})
			if ok {
				cmd, _ := hm["command"].(string)
				if strings.Contains(cmd, exclude) {
					hasExcluded = true
					break
				}
			}
		}
		if !hasExcluded {
			filtered = append(filtered, entry)
		}
	}
	return filtered
}
