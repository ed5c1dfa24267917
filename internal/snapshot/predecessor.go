package snapshot

import (
	"context"
	"fmt"
	"sync"

	"github.com/jensroland/git-attrib/internal/git"
	"github.com/jensroland/git-attrib/internal/linemap"
	"github.com/jensroland/git-attrib/internal/record"
)

// predecessor is a commit whose attribution is being carried forward,
// with its per-file line claims computed lazily.
type predecessor struct {
	commit  string
	set     record.RecordSet
	parents []string
	changes []git.FileChange

	mu    sync.Mutex
	files map[string]*predFile
}

type predFile struct {
	lines   []string
	changed []bool // lines the predecessor itself introduced
	claims  []record.Claim
}

func (e *Encoder) predecessor(ctx context.Context, commit string) (*predecessor, error) {
	e.mu.Lock()
	p, ok := e.sets[commit]
	e.mu.Unlock()
	if ok {
		return p, nil
	}

	rs, _, err := e.notes.Read(ctx, commit)
	if err != nil {
		return nil, err
	}
	parents, err := e.repo.Parents(ctx, commit)
	if err != nil {
		return nil, err
	}
	changes, err := e.changedFiles(ctx, commit, parents)
	if err != nil {
		return nil, err
	}
	p = &predecessor{
		commit:  commit,
		set:     rs,
		parents: parents,
		changes: changes,
		files:   make(map[string]*predFile),
	}

	e.mu.Lock()
	e.sets[commit] = p
	e.mu.Unlock()
	return p, nil
}

// counterpart finds the predecessor's change to the file ch touches,
// following a rename in either commit.
func (p *predecessor) counterpart(ch git.FileChange) (git.FileChange, bool) {
	for _, pc := range p.changes {
		if pc.NewPath == ch.NewPath {
			return pc, true
		}
	}
	for _, pc := range p.changes {
		if ch.OldPath != "" && pc.NewPath == ch.OldPath {
			return pc, true
		}
		if pc.OldPath != "" && pc.OldPath == ch.NewPath {
			return pc, true
		}
	}
	return git.FileChange{}, false
}

func (e *Encoder) predFile(ctx context.Context, p *predecessor, pc git.FileChange) (*predFile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pf, ok := p.files[pc.NewPath]; ok {
		return pf, nil
	}

	data, err := e.blob(pc.NewBlob)
	if err != nil {
		return nil, err
	}
	lines := linemap.Split(string(data))
	changed, err := e.changedMask(ctx, p.parents, pc, len(lines))
	if err != nil {
		return nil, err
	}
	var claims []record.Claim
	if fr := p.set.Lookup(pc.NewPath, pc.NewBlob); fr != nil {
		claims = record.Claims(fr.Spans, len(lines))
	} else {
		claims = make([]record.Claim, len(lines))
	}
	pf := &predFile{lines: lines, changed: changed, claims: claims}
	p.files[pc.NewPath] = pf
	return pf, nil
}

// inherit maps the predecessor's version of the file onto lines. owned[i]
// is true when line i corresponds to a line the predecessor introduced, in
// which case claims[i] is that line's claim (possibly human).
func (e *Encoder) inherit(ctx context.Context, p *predecessor, ch git.FileChange, lines []string, b budget) ([]bool, []record.Claim, error) {
	pc, ok := p.counterpart(ch)
	if !ok {
		return nil, nil, fmt.Errorf("%s does not touch %s", p.commit, ch.NewPath)
	}
	pf, err := e.predFile(ctx, p, pc)
	if err != nil {
		return nil, nil, err
	}

	owned := make([]bool, len(lines))
	claims := make([]record.Claim, len(lines))
	m := e.differ.Within(b.deadline).Map(pf.lines, lines)
	for i, j := range m.NewToOld {
		if j >= 0 && pf.changed[j] {
			owned[i] = true
			claims[i] = pf.claims[j]
		}
	}
	return owned, claims, nil
}
