package snapshot

import "github.com/jensroland/git-attrib/internal/record"

// realign moves AI claims that sit just outside a run of changed lines
// onto the equal-content line git placed inside the run instead.
//
// An insertion next to repeated lines (a closing brace, a blank line) can
// be placed at several offsets that all produce the same file. The ledger
// records where the agent typed; git's diff may report the block shifted by
// a few lines. Shifting a block of changed lines [s,e] down by d is only
// possible when lines[s+k] == lines[e+1+k] for k < d, so each stranded
// claim below the run has an equal twin at the top of it, and likewise
// upwards.
func realign(lines []string, changed []bool, claims []record.Claim) {
	n := len(lines)
	move := func(from, to int) {
		if claims[from].IsAI() && !claims[to].IsAI() {
			claims[to] = claims[from]
			claims[from] = record.Claim{}
		}
	}
	for s := 0; s < n; {
		if !changed[s] {
			s++
			continue
		}
		e := s
		for e+1 < n && changed[e+1] {
			e++
		}
		size := e - s + 1

		// Block typed lower than git placed it.
		for d := 1; d <= size && e+d < n; d++ {
			if changed[e+d] || lines[s+d-1] != lines[e+d] {
				break
			}
			move(e+d, s+d-1)
		}
		// Block typed higher than git placed it.
		for d := 1; d <= size && s-d >= 0; d++ {
			if changed[s-d] || lines[s-d] != lines[e-d+1] {
				break
			}
			move(s-d, e-d+1)
		}
		s = e + 1
	}
}
