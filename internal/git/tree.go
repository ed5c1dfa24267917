package git

import (
	"bytes"
	"context"
	"fmt"
	"strings"
)

// TreeEntry is one entry of a tree object.
type TreeEntry struct {
	Mode string
	Type string
	OID  string
	Name string
}

// ListTree returns the entries of a tree, or of a commit's root tree.
func (r *Repo) ListTree(ctx context.Context, treeish string) ([]TreeEntry, error) {
	out, err := r.Exec(ctx, nil, nil, "ls-tree", "-z", "--full-tree", treeish)
	if err != nil {
		return nil, err
	}
	var entries []TreeEntry
	for _, rec := range bytes.Split(out, []byte{0}) {
		if len(rec) == 0 {
			continue
		}
		meta, name, ok := strings.Cut(string(rec), "\t")
		fields := strings.Fields(meta)
		if !ok || len(fields) != 3 {
			return nil, fmt.Errorf("unexpected ls-tree record %q", rec)
		}
		entries = append(entries, TreeEntry{Mode: fields[0], Type: fields[1], OID: fields[2], Name: name})
	}
	return entries, nil
}

// MakeTree writes a tree object from entries in any order.
func (r *Repo) MakeTree(ctx context.Context, entries []TreeEntry) (string, error) {
	var in bytes.Buffer
	for _, e := range entries {
		fmt.Fprintf(&in, "%s %s %s\t%s\x00", e.Mode, e.Type, e.OID, e.Name)
	}
	out, err := r.Exec(ctx, nil, in.Bytes(), "mktree", "-z")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
