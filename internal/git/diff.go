package git

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// FileChange is one entry of a raw tree diff.
type FileChange struct {
	Status  byte // A, C, D, M, R, T
	Score   int  // similarity for R and C
	OldMode string
	NewMode string
	OldBlob string
	NewBlob string
	OldPath string
	NewPath string
}

// Path is the path the change leaves behind (the old path for deletions).
func (c FileChange) Path() string {
	if c.NewPath != "" {
		return c.NewPath
	}
	return c.OldPath
}

// Regular reports whether both sides are ordinary files or absent, that is
// not a submodule or symlink.
func (c FileChange) Regular() bool {
	ok := func(mode string) bool {
		return mode == "000000" || mode == "100644" || mode == "100755"
	}
	return ok(c.OldMode) && ok(c.NewMode)
}

// ChangedFiles lists files that differ between parent and commit with rename
// detection. An empty parent diffs commit against the empty tree.
func (r *Repo) ChangedFiles(ctx context.Context, parent, commit string) ([]FileChange, error) {
	args := []string{"diff-tree", "-r", "-z", "--raw", "--no-abbrev", "-M", "--no-commit-id"}
	if parent == "" {
		args = append(args, "--root", commit)
	} else {
		args = append(args, parent, commit)
	}
	out, err := r.Exec(ctx, nil, nil, args...)
	if err != nil {
		return nil, err
	}
	return parseRawDiff(out)
}

// parseRawDiff parses `diff-tree -z --raw` output:
//
//	:<old mode> <new mode> <old sha> <new sha> <status>NUL<path>NUL[<new path>NUL]
func parseRawDiff(out []byte) ([]FileChange, error) {
	fields := bytes.Split(out, []byte{0})
	var changes []FileChange
	for i := 0; i < len(fields); i++ {
		head := string(fields[i])
		if head == "" {
			continue
		}
		if !strings.HasPrefix(head, ":") {
			return nil, fmt.Errorf("unexpected raw diff record %q", head)
		}
		meta := strings.Fields(head[1:])
		if len(meta) != 5 || len(meta[4]) == 0 {
			return nil, fmt.Errorf("malformed raw diff record %q", head)
		}
		c := FileChange{
			OldMode: meta[0],
			NewMode: meta[1],
			OldBlob: meta[2],
			NewBlob: meta[3],
			Status:  meta[4][0],
		}
		if len(meta[4]) > 1 {
			c.Score, _ = strconv.Atoi(meta[4][1:])
		}
		if i+1 >= len(fields) {
			return nil, fmt.Errorf("raw diff record %q without path", head)
		}
		i++
		path := string(fields[i])
		switch c.Status {
		case 'R', 'C':
			if i+1 >= len(fields) {
				return nil, fmt.Errorf("raw diff rename %q without target", path)
			}
			i++
			c.OldPath, c.NewPath = path, string(fields[i])
		case 'A':
			c.NewPath = path
		case 'D':
			c.OldPath = path
		default:
			c.OldPath, c.NewPath = path, path
		}
		if c.OldBlob == NullOID {
			c.OldBlob = ""
		}
		if c.NewBlob == NullOID {
			c.NewBlob = ""
		}
		changes = append(changes, c)
	}
	return changes, nil
}

// Hunk is one region of a zero-context diff. A zero count means the
// region is empty on that side.
type Hunk struct {
	OldStart, OldLines int
	NewStart, NewLines int
}

var hunkHeader = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// DiffBlobs returns the hunks between two blobs with git's own line diff,
// the one git blame uses to decide which commit introduced a line.
func (r *Repo) DiffBlobs(ctx context.Context, oldBlob, newBlob string) ([]Hunk, error) {
	if oldBlob == newBlob {
		return nil, nil
	}
	out, err := r.Exec(ctx, nil, nil, "diff", "--no-color", "--no-ext-diff", "--no-textconv", "-U0", oldBlob, newBlob)
	if err != nil {
		return nil, err
	}
	return parseHunks(out)
}

func parseHunks(out []byte) ([]Hunk, error) {
	var hunks []Hunk
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "@@ ") {
			continue
		}
		m := hunkHeader.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("malformed hunk header %q", line)
		}
		count := func(s string) int {
			if s == "" {
				return 1
			}
			n, _ := strconv.Atoi(s)
			return n
		}
		h := Hunk{NewLines: count(m[4]), OldLines: count(m[2])}
		h.OldStart, _ = strconv.Atoi(m[1])
		h.NewStart, _ = strconv.Atoi(m[3])
		hunks = append(hunks, h)
	}
	return hunks, sc.Err()
}

// PatchID returns the stable patch id of commit against its first parent,
// or "" for a commit that changes nothing.
func (r *Repo) PatchID(ctx context.Context, commit string) (string, error) {
	diff, err := r.Exec(ctx, nil, nil, "diff-tree", "-p", "--no-color", "--root", "--no-commit-id", "-M", commit)
	if err != nil {
		return "", err
	}
	if len(bytes.TrimSpace(diff)) == 0 {
		return "", nil
	}
	out, err := r.Exec(ctx, nil, diff, "patch-id", "--stable")
	if err != nil {
		return "", err
	}
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return "", nil
	}
	return fields[0], nil
}
