package ledger

import (
	"sort"

	"github.com/jensroland/git-attrib/internal/record"
)

// Resolve turns entries for one file into per-line claims over lines, the
// content being committed. Later entries win where they overlap.
//
// A recorded line is matched at its recorded position when the content hash
// still agrees (record.ConfidenceExact). Otherwise it is relocated to the
// single line elsewhere carrying the same hash (record.ConfidenceRelocated).
// Lines whose content changed since they were recorded stay human.
func Resolve(entries []Entry, lines []string) []record.Claim {
	claims := make([]record.Claim, len(lines))
	if len(entries) == 0 || len(lines) == 0 {
		return claims
	}

	hashes := make([]string, len(lines))
	where := make(map[string][]int, len(lines))
	for i, line := range lines {
		h := record.LineHash(line)
		hashes[i] = h
		where[h] = append(where[h], i)
	}

	ordered := append([]Entry(nil), entries...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Ts.Before(ordered[j].Ts) })

	for _, e := range ordered {
		for k, n := range e.Lines.Lines() {
			if k >= len(e.Hashes) {
				break
			}
			want := e.Hashes[k]
			if i := n - 1; i < len(lines) && hashes[i] == want {
				claims[i] = record.Claim{Session: e.Session, Confidence: record.ConfidenceExact}
				continue
			}
			if at := where[want]; len(at) == 1 {
				claims[at[0]] = record.Claim{Session: e.Session, Confidence: record.ConfidenceRelocated}
			}
		}
	}
	return claims
}
