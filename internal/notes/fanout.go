package notes

import (
	"context"

	"github.com/jensroland/git-attrib/internal/git"
)

// placeNote returns a tree equal to entries with the note for name set to
// blob, writing only the trees along its path. Notes are fanned out by the
// first two hex digits, so the root tree stays at most 256 entries and an
// attach rewrites two small trees however many notes exist. A deeper fanout
// git itself created is followed; a flat entry for the same object is
// dropped so the note is never stored twice.
func (s *Store) placeNote(ctx context.Context, entries []git.TreeEntry, name, blob string, fanout bool) (string, error) {
	dir := name[:2]
	var (
		out []git.TreeEntry
		sub *git.TreeEntry
	)
	for _, e := range entries {
		switch {
		case e.Name == name:
			continue
		case e.Name == dir && e.Type == "tree":
			e := e
			sub = &e
			continue
		}
		out = append(out, e)
	}

	if sub == nil && !fanout {
		out = append(out, git.TreeEntry{Mode: "100644", Type: "blob", OID: blob, Name: name})
		return s.repo.MakeTree(ctx, out)
	}
	var children []git.TreeEntry
	if sub != nil {
		var err error
		if children, err = s.repo.ListTree(ctx, sub.OID); err != nil {
			return "", err
		}
	}
	oid, err := s.placeNote(ctx, children, name[2:], blob, false)
	if err != nil {
		return "", err
	}
	out = append(out, git.TreeEntry{Mode: "040000", Type: "tree", OID: oid, Name: dir})
	return s.repo.MakeTree(ctx, out)
}
