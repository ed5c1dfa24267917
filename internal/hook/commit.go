package hook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jensroland/git-attrib/internal/errs"
	"github.com/jensroland/git-attrib/internal/propagate"
	"github.com/jensroland/git-attrib/internal/record"
	"github.com/jensroland/git-attrib/internal/snapshot"
)

// PostCommit attributes the commit git just made. Amends, cherry-picks and
// commits prepared by a squash merge or a reset carry the attribution of
// the commits they were built from.
func (h *Handler) PostCommit(ctx context.Context, args []string) error {
	if h.rebasing() {
		h.log.Debug("rebase in progress, leaving commit to post-rewrite")
		return nil
	}
	head := h.ws.Repo.Head(ctx)
	if head == "" {
		return nil
	}
	parents, err := h.ws.Repo.Parents(ctx, head)
	if err != nil {
		return err
	}

	opts := snapshot.Options{Origin: record.OriginCommit, UseLedger: true, Budget: h.ws.Config.Propagation.Budget}
	if hint, ok := h.takeHints(firstParent(parents)); ok {
		opts.Origin = hint.Origin
		opts.Predecessors = hint.Predecessors
	}

	if entries, err := h.ws.Repo.Reflog(ctx, "HEAD", 2); err == nil && len(entries) > 0 && entries[0].Commit == head {
		subject := entries[0].Subject
		switch {
		case strings.HasPrefix(subject, "commit (amend)") && len(entries) > 1:
			opts.Origin = record.OriginAmend
			opts.Predecessors = []string{entries[1].Commit}
		case strings.HasPrefix(subject, "cherry-pick"):
			opts.Origin = record.OriginCherryPick
			preds, err := h.ws.Propagator().Discover(ctx, head)
			if err != nil {
				h.log.WithError(err).Debug("cherry-pick discovery failed")
			}
			if len(preds) > 0 {
				opts.Predecessors = preds[:1]
			}
		case strings.HasPrefix(subject, "commit (merge)"):
			opts.Origin = record.OriginMerge
		}
	}
	return h.attribute(ctx, head, opts)
}

// attribute encodes commit, attaches its note and retires the ledger
// entries it consumed.
func (h *Handler) attribute(ctx context.Context, commit string, opts snapshot.Options) error {
	enc := h.ws.Encoder()
	defer enc.Close()

	res, err := enc.Encode(ctx, commit, opts)
	if err != nil {
		return err
	}
	if err := h.ws.Notes.Attach(ctx, commit, res.Set); err != nil {
		if errors.Is(err, errs.ErrConflict) {
			h.log.WithField("commit", commit).Warn("commit already carries a different note, keeping it")
			return nil
		}
		return err
	}
	h.log.WithFields(logrus.Fields{
		"commit":       commit,
		"origin":       opts.Origin,
		"predecessors": len(opts.Predecessors),
		"spans":        res.Set.SpanCount(),
		"partial":      res.Set.Partial,
	}).Info("commit attributed")
	return h.ws.Ledger.Discard(res.Consumed)
}

// PrepareCommitMsg notes where the commit being prepared comes from when
// only the state before the commit can tell: the commits listed by a squash
// merge, or the commits a reset dropped.
func (h *Handler) PrepareCommitMsg(ctx context.Context, args []string) error {
	head := h.ws.Repo.Head(ctx)

	if preds := h.squashedCommits(ctx); len(preds) > 0 {
		return h.saveHints(hints{Parent: head, Origin: record.OriginSquash, Predecessors: preds, Created: time.Now().UTC()})
	}

	entries, err := h.ws.Repo.Reflog(ctx, "HEAD", 1)
	if err != nil || len(entries) == 0 || !strings.HasPrefix(entries[0].Subject, "reset:") {
		return nil
	}
	orig, err := h.ws.Repo.ResolveCommit(ctx, "ORIG_HEAD")
	if err != nil || orig == head {
		return nil
	}
	rng := orig
	if head != "" {
		rng = head + ".." + orig
	}
	dropped, err := h.ws.Repo.RevList(ctx, "--reverse", rng)
	if err != nil || len(dropped) == 0 {
		return err
	}
	return h.saveHints(hints{Parent: head, Origin: record.OriginReset, Predecessors: dropped, Created: time.Now().UTC()})
}

// squashedCommits reads the "commit <sha>" lines git merge --squash writes
// into SQUASH_MSG, oldest first.
func (h *Handler) squashedCommits(ctx context.Context) []string {
	msg, err := readFile(h.ws.Paths.GitDir, "SQUASH_MSG")
	if err != nil {
		return nil
	}
	var preds []string
	for _, line := range strings.Split(msg, "\n") {
		sha, ok := strings.CutPrefix(strings.TrimSpace(line), "commit ")
		if !ok {
			continue
		}
		if c, err := h.ws.Repo.ResolveCommit(ctx, strings.TrimSpace(sha)); err == nil {
			preds = append(preds, c)
		}
	}
	// SQUASH_MSG lists newest first.
	for i, j := 0, len(preds)-1; i < j; i, j = i+1, j-1 {
		preds[i], preds[j] = preds[j], preds[i]
	}
	return preds
}

// PostMerge attributes a merge commit created without conflicts. Fast
// forwards and squash merges create no commit of their own here.
func (h *Handler) PostMerge(ctx context.Context, args []string) error {
	if len(args) > 0 && args[0] == "1" {
		return nil
	}
	head := h.ws.Repo.Head(ctx)
	if head == "" || h.ws.Notes.Exists(ctx, head) {
		return nil
	}
	parents, err := h.ws.Repo.Parents(ctx, head)
	if err != nil || len(parents) < 2 {
		return err
	}
	return h.attribute(ctx, head, snapshot.Options{
		Origin:    record.OriginMerge,
		UseLedger: true,
		Budget:    h.ws.Config.Propagation.Budget,
	})
}

// PostRewrite propagates attribution to the commits a rebase rewrote.
// Amends are attributed by post-commit.
func (h *Handler) PostRewrite(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("post-rewrite: missing command")
	}
	if args[0] == "amend" {
		return nil
	}
	mappings, err := propagate.ParseRewriteList(h.stdin)
	if err != nil {
		return err
	}
	res, err := h.ws.Propagator().Propagate(ctx, propagate.Rewrite{Op: record.OriginRebase, Mappings: mappings})
	h.log.WithFields(logrus.Fields{
		"commits":   len(mappings),
		"attached":  res.Attached,
		"unchanged": res.Unchanged,
		"replaced":  res.Replaced,
		"partial":   res.Partial,
		"skipped":   res.Skipped,
		"failed":    res.Failed,
	}).Info("rewrite propagated")
	return err
}

// PrePush sends the notes ref to the remote being pushed to, when enabled.
func (h *Handler) PrePush(ctx context.Context, args []string) error {
	if !h.ws.Config.Notes.Push || len(args) == 0 {
		return nil
	}
	if h.ws.Notes.Tip(ctx) == "" {
		return nil
	}
	ref := h.ws.Notes.Ref()
	if _, err := h.ws.Repo.Run(ctx, "push", "--no-verify", "--quiet", args[0], ref+":"+ref); err != nil {
		return fmt.Errorf("pushing %s to %s: %w", ref, args[0], err)
	}
	return nil
}

// StashSave parks the ledger entries of the files a stash took away. The
// argument is the stash commit, refs/stash by default.
func (h *Handler) StashSave(ctx context.Context, args []string) error {
	rev := "refs/stash"
	if len(args) > 0 {
		rev = args[0]
	}
	stash, err := h.ws.Repo.ResolveCommit(ctx, rev)
	if err != nil {
		return err
	}
	changes, err := h.ws.Repo.ChangedFiles(ctx, stash+"^1", stash)
	if err != nil {
		return err
	}
	var files []string
	for _, ch := range changes {
		files = append(files, ch.Path())
		if ch.OldPath != "" && ch.OldPath != ch.Path() {
			files = append(files, ch.OldPath)
		}
	}
	n, err := h.ws.Ledger.Stash(stash, files)
	if err != nil {
		return err
	}
	h.log.WithFields(logrus.Fields{"stash": stash, "entries": n}).Info("ledger stashed")
	return nil
}

// StashPop returns the entries parked for a stash commit.
func (h *Handler) StashPop(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("stash-pop: missing stash commit")
	}
	n, err := h.ws.Ledger.Unstash(args[0])
	if err != nil {
		return err
	}
	h.log.WithFields(logrus.Fields{"stash": args[0], "entries": n}).Info("ledger unstashed")
	return nil
}

func firstParent(parents []string) string {
	if len(parents) == 0 {
		return ""
	}
	return parents[0]
}
