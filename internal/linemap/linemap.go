// Package linemap computes line correspondences between two versions of a
// file. It is the diff primitive behind commit-time encoding, history-rewrite
// propagation and ledger replay.
package linemap

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/jensroland/git-attrib/internal/lineset"
)

// DefaultTimeout bounds a single diff. When it expires diffmatchpatch returns
// a valid but coarser diff, so more lines read as changed.
const DefaultTimeout = time.Second

// Split splits file content into lines the way git counts them: a trailing
// newline does not start an extra line.
func Split(content string) []string {
	if content == "" {
		return nil
	}
	content = strings.TrimSuffix(content, "\n")
	return strings.Split(content, "\n")
}

// Mapping pairs lines of an old and a new version. Indices are 0-based;
// -1 marks a line with no counterpart (inserted in new, deleted from old).
type Mapping struct {
	NewToOld []int
	OldToNew []int
}

// Changed returns the 1-based new lines that have no old counterpart.
func (m Mapping) Changed() lineset.LineSet {
	var rs []lineset.Range
	for i, o := range m.NewToOld {
		if o < 0 {
			rs = append(rs, lineset.Range{Start: i + 1, End: i + 1})
		}
	}
	return lineset.FromRanges(rs...)
}

// Retained reports whether new line i (0-based) was carried over unchanged.
func (m Mapping) Retained(i int) bool {
	return i >= 0 && i < len(m.NewToOld) && m.NewToOld[i] >= 0
}

// Identical reports whether every line maps onto itself.
func (m Mapping) Identical() bool {
	if len(m.NewToOld) != len(m.OldToNew) {
		return false
	}
	for i, o := range m.NewToOld {
		if o != i {
			return false
		}
	}
	return true
}

// Differ computes Mappings with a bounded diff time.
type Differ struct {
	timeout time.Duration
}

// NewDiffer returns a Differ. A non-positive timeout selects DefaultTimeout.
func NewDiffer(timeout time.Duration) *Differ {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Differ{timeout: timeout}
}

// minTimeout keeps a clamped diff bounded; diffmatchpatch treats zero as
// no limit at all.
const minTimeout = time.Millisecond

// Within returns a Differ whose timeout does not run past deadline. A zero
// deadline returns d unchanged.
func (d *Differ) Within(deadline time.Time) *Differ {
	if deadline.IsZero() {
		return d
	}
	left := time.Until(deadline)
	if left >= d.timeout {
		return d
	}
	if left < minTimeout {
		left = minTimeout
	}
	return &Differ{timeout: left}
}

// Map computes the line correspondence between oldLines and newLines.
func (d *Differ) Map(oldLines, newLines []string) Mapping {
	m := Mapping{
		NewToOld: fill(len(newLines)),
		OldToNew: fill(len(oldLines)),
	}
	if len(oldLines) == 0 || len(newLines) == 0 {
		return m
	}
	if equalLines(oldLines, newLines) {
		for i := range newLines {
			m.NewToOld[i] = i
			m.OldToNew[i] = i
		}
		return m
	}

	ra, rb, ok := encode(oldLines, newLines)
	if !ok {
		// More distinct lines than runes: treat everything as rewritten.
		return m
	}

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = d.timeout
	diffs := dmp.DiffMainRunes(ra, rb, false)

	oi, ni := 0, 0
	for _, df := range diffs {
		n := utf8.RuneCountInString(df.Text)
		switch df.Type {
		case diffmatchpatch.DiffEqual:
			for k := 0; k < n; k++ {
				m.NewToOld[ni] = oi
				m.OldToNew[oi] = ni
				oi++
				ni++
			}
		case diffmatchpatch.DiffDelete:
			oi += n
		case diffmatchpatch.DiffInsert:
			ni += n
		}
	}
	return m
}

// Map computes a Mapping with the default timeout.
func Map(oldLines, newLines []string) Mapping {
	return NewDiffer(DefaultTimeout).Map(oldLines, newLines)
}

// Carry transforms per-line values of the old version into per-line values
// of the new version. Retained lines keep their value, new lines get fresh.
func Carry[T any](m Mapping, old []T, fresh T) []T {
	out := make([]T, len(m.NewToOld))
	for i, o := range m.NewToOld {
		if o >= 0 && o < len(old) {
			out[i] = old[o]
		} else {
			out[i] = fresh
		}
	}
	return out
}

// encode assigns one rune per distinct line so the character differ works
// on whole lines. Surrogate code points are skipped because they do not
// survive the differ's string conversions.
func encode(a, b []string) ([]rune, []rune, bool) {
	codes := make(map[string]rune, len(a))
	next := rune(1)
	enc := func(lines []string) ([]rune, bool) {
		out := make([]rune, len(lines))
		for i, l := range lines {
			r, ok := codes[l]
			if !ok {
				if next >= 0xD800 && next <= 0xDFFF {
					next = 0xE000
				}
				if next > utf8.MaxRune {
					return nil, false
				}
				r = next
				codes[l] = r
				next++
			}
			out[i] = r
		}
		return out, true
	}
	ra, ok := enc(a)
	if !ok {
		return nil, nil, false
	}
	rb, ok := enc(b)
	if !ok {
		return nil, nil, false
	}
	return ra, rb, true
}

func fill(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = -1
	}
	return out
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
