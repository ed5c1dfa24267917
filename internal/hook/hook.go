// Package hook implements the handlers git and coding agents invoke.
//
// Handlers run inside someone else's process: a failing handler logs and
// reports success, so an attribution problem can never fail a commit, a
// rebase or an agent tool call.
package hook

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/jensroland/git-attrib/internal/debug"
	"github.com/jensroland/git-attrib/internal/workspace"
)

// GitHooks are the git hooks installed by enable.
var GitHooks = []string{"post-commit", "prepare-commit-msg", "post-merge", "post-rewrite", "pre-push"}

// Handler runs hooks against one workspace.
type Handler struct {
	ws     *workspace.Workspace
	log    *logrus.Entry
	stdin  io.Reader
	stdout io.Writer
}

// New returns a Handler reading payloads from stdin and writing replies to
// stdout.
func New(ws *workspace.Workspace, stdin io.Reader, stdout io.Writer) *Handler {
	return &Handler{ws: ws, log: debug.Component(ws.Log, "hook"), stdin: stdin, stdout: stdout}
}

// Known reports whether name is a hook this package handles.
func Known(name string) bool {
	_, ok := handlers[name]
	return ok
}

var handlers = map[string]func(h *Handler, ctx context.Context, args []string) error{
	// agent side
	"session-open":  (*Handler).SessionOpen,
	"session-close": (*Handler).SessionClose,
	"span":          (*Handler).Span,
	"prompt-submit": (*Handler).PromptSubmit,
	"post-tool-use": (*Handler).PostToolUse,
	"stop":          (*Handler).Stop,
	// git side
	"post-commit":        (*Handler).PostCommit,
	"prepare-commit-msg": (*Handler).PrepareCommitMsg,
	"post-merge":         (*Handler).PostMerge,
	"post-rewrite":       (*Handler).PostRewrite,
	"pre-push":           (*Handler).PrePush,
	"stash-save":         (*Handler).StashSave,
	"stash-pop":          (*Handler).StashPop,
}

// Run dispatches the hook called name. Only an unknown name is an error;
// handler failures are logged.
func (h *Handler) Run(ctx context.Context, name string, args []string) error {
	fn, ok := handlers[name]
	if !ok {
		return fmt.Errorf("unknown hook %q", name)
	}
	if err := fn(h, ctx, args); err != nil {
		h.log.WithError(err).WithFields(logrus.Fields{"hook": name, "args": args}).Error("hook failed")
	}
	return nil
}

// rebasing reports whether git is in the middle of a rebase, when commits
// are created one by one and attributed afterwards by post-rewrite.
func (h *Handler) rebasing() bool {
	for _, dir := range []string{"rebase-merge", "rebase-apply"} {
		if info, err := os.Stat(filepath.Join(h.ws.Paths.GitDir, dir)); err == nil && info.IsDir() {
			return true
		}
	}
	return false
}
