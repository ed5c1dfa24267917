package propagate

import (
	"context"
	"regexp"
	"strings"
)

var cherryPickTrailer = regexp.MustCompile(`\(cherry picked from commit ([0-9a-f]{7,64})\)`)

// Discover finds the commits commit was derived from when git did not say:
// first the "(cherry picked from commit X)" trailer, then an identical patch
// id among the most recent annotated commits.
func (e *Engine) Discover(ctx context.Context, commit string) ([]string, error) {
	if preds := e.fromTrailer(ctx, commit); len(preds) > 0 {
		return preds, nil
	}
	return e.fromPatchID(ctx, commit)
}

func (e *Engine) fromTrailer(ctx context.Context, commit string) []string {
	msg, err := e.repo.CommitMessage(ctx, commit)
	if err != nil {
		return nil
	}
	var preds []string
	for _, m := range cherryPickTrailer.FindAllStringSubmatch(msg, -1) {
		sha, err := e.repo.ResolveCommit(ctx, m[1])
		if err != nil || sha == commit || !e.notes.Exists(ctx, sha) {
			continue
		}
		preds = append(preds, sha)
	}
	return preds
}

func (e *Engine) patchID(ctx context.Context, commit string) (string, error) {
	if e.patches != nil {
		if id, ok := e.patches.PatchID(ctx, commit); ok {
			return id, nil
		}
	}
	id, err := e.repo.PatchID(ctx, commit)
	if err != nil {
		return "", err
	}
	if e.patches != nil {
		if err := e.patches.StorePatchID(ctx, commit, id); err != nil {
			e.log.WithError(err).Debug("caching patch id")
		}
	}
	return id, nil
}

func (e *Engine) fromPatchID(ctx context.Context, commit string) ([]string, error) {
	want, err := e.patchID(ctx, commit)
	if err != nil || want == "" {
		return nil, err
	}
	candidates, err := e.recentNoted(ctx, commit)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		id, err := e.patchID(ctx, c)
		if err != nil {
			continue
		}
		if id == want {
			return []string{c}, nil
		}
	}
	return nil, nil
}

// recentNoted returns up to MaxCandidates annotated commits, newest first.
func (e *Engine) recentNoted(ctx context.Context, exclude string) ([]string, error) {
	listed, err := e.notes.List(ctx)
	if err != nil {
		return nil, err
	}
	var stdin strings.Builder
	for c := range listed {
		if c != exclude {
			stdin.WriteString(c)
			stdin.WriteByte('\n')
		}
	}
	if stdin.Len() == 0 {
		return nil, nil
	}
	// Objects that are not commits (or were pruned) make rev-list fail, so
	// ignore missing ones.
	out, err := e.repo.Exec(ctx, nil, []byte(stdin.String()),
		"rev-list", "--no-walk=sorted", "--ignore-missing", "--stdin")
	if err != nil {
		return nil, err
	}
	commits := strings.Fields(string(out))
	if len(commits) > e.opts.MaxCandidates {
		commits = commits[:e.opts.MaxCandidates]
	}
	return commits, nil
}
