package format

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jensroland/git-attrib/internal/index"
	"github.com/jensroland/git-attrib/internal/record"
)

// Log writes the attributed commits of a range, newest first. When prompt
// is non-nil, each session's prompt it returns is shown boxed.
func Log(w io.Writer, p Palette, recs []index.CommitRecord, prompt func(record.Session) string, width int) error {
	for i, rec := range recs {
		if i > 0 {
			fmt.Fprintln(w)
		}
		var tags []string
		if rec.Origin != "" {
			tags = append(tags, string(rec.Origin))
		}
		if rec.Partial {
			tags = append(tags, p.Red+"partial"+p.Reset)
		}
		fmt.Fprintf(w, "%scommit %s%s", p.Yellow, rec.Commit, p.Reset)
		if len(tags) > 0 {
			fmt.Fprintf(w, " (%s)", strings.Join(tags, ", "))
		}
		fmt.Fprintln(w)

		if len(rec.Predecessors) > 0 {
			short := make([]string, len(rec.Predecessors))
			for j, c := range rec.Predecessors {
				short[j] = Short(c)
			}
			fmt.Fprintf(w, "%sfrom %s%s\n", p.Dim, strings.Join(short, " "), p.Reset)
		}
		if rec.Lines == 0 {
			fmt.Fprintf(w, "    %sno agent lines%s\n", p.Dim, p.Reset)
			continue
		}
		for _, s := range rec.Sessions {
			fmt.Fprintf(w, "    %s%s%s %s%s%s\n", p.Magenta, Agent(s.Agent, s.Model), p.Reset, p.Dim, s.ID, p.Reset)
			if prompt == nil {
				continue
			}
			if text := prompt(s); text != "" {
				for _, line := range PromptBox(p, text, "prompt", "    ", width-4) {
					fmt.Fprintln(w, line)
				}
			}
		}
		for _, f := range rec.Files {
			fmt.Fprintf(w, "    %s %s+%d%s\n", f.Path, p.Green, f.Lines, p.Reset)
		}
	}
	return nil
}

// Stats writes the aggregate of a range with proportional bars.
func Stats(w io.Writer, p Palette, st index.Stats, width int) error {
	fmt.Fprintf(w, "%s%d%s commits, %s%d%s attributed, %s%d%s agent lines\n",
		p.Bold, st.Commits, p.Reset,
		p.Bold, st.Annotated, p.Reset,
		p.Bold, st.Lines, p.Reset)
	if st.Lines == 0 {
		return nil
	}

	barWidth := width - 40
	if barWidth < 10 {
		barWidth = 10
	}
	section := func(title string, counts map[string]int) {
		fmt.Fprintf(w, "\n%s%s%s\n", p.Cyan, title, p.Reset)
		for _, kv := range sorted(counts) {
			n := kv.n * barWidth / st.Lines
			if n == 0 && kv.n > 0 {
				n = 1
			}
			fmt.Fprintf(w, "  %s %6d %s%s%s\n",
				padOrTrunc(kv.k, 20), kv.n, p.Magenta, strings.Repeat("█", n), p.Reset)
		}
	}
	section("By agent", st.Agents)
	section("By model", st.Models)

	fmt.Fprintf(w, "\n%sTop sessions%s\n", p.Cyan, p.Reset)
	for i, s := range st.Sessions {
		if i == 10 {
			fmt.Fprintf(w, "  %s... %d more%s\n", p.Dim, len(st.Sessions)-i, p.Reset)
			break
		}
		fmt.Fprintf(w, "  %s %s %6d\n", padOrTrunc(s.ID, 36), padOrTrunc(Agent(s.Agent, s.Model), 20), s.Lines)
	}
	return nil
}

type count struct {
	k string
	n int
}

// sorted orders counts by descending value, then key.
func sorted(m map[string]int) []count {
	out := make([]count, 0, len(m))
	for k, n := range m {
		out = append(out, count{k, n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].n != out[j].n {
			return out[i].n > out[j].n
		}
		return out[i].k < out[j].k
	})
	return out
}
