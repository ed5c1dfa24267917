// Package lineset implements sets of 1-based line numbers in the compact
// notation "5,7-8,12". The notation is the span encoding of schema v1
// attribution notes and of ledger entries.
package lineset

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Range is an inclusive run of line numbers.
type Range struct {
	Start, End int
}

// Len returns the number of lines in the range.
func (r Range) Len() int { return r.End - r.Start + 1 }

// LineSet is a set of line numbers stored as sorted, disjoint,
// non-adjacent ranges. The zero value is the empty set.
type LineSet struct {
	ranges []Range
}

// New creates a LineSet from individual line numbers. Non-positive numbers
// are ignored.
func New(lines ...int) LineSet {
	var rs []Range
	for _, n := range lines {
		if n > 0 {
			rs = append(rs, Range{n, n})
		}
	}
	return LineSet{ranges: normalize(rs)}
}

// FromRange creates a LineSet covering [start, end].
func FromRange(start, end int) LineSet {
	if start <= 0 || end < start {
		return LineSet{}
	}
	return LineSet{ranges: []Range{{start, end}}}
}

// FromRanges creates a LineSet from possibly overlapping ranges.
func FromRanges(rs ...Range) LineSet {
	var valid []Range
	for _, r := range rs {
		if r.Start > 0 && r.End >= r.Start {
			valid = append(valid, r)
		}
	}
	return LineSet{ranges: normalize(valid)}
}

// FromString parses compact notation like "5", "5-7", or "5,7-8,12".
func FromString(s string) (LineSet, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return LineSet{}, nil
	}

	var rs []Range
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if idx := strings.Index(part, "-"); idx >= 0 {
			start, err := strconv.Atoi(strings.TrimSpace(part[:idx]))
			if err != nil {
				return LineSet{}, fmt.Errorf("invalid range start %q: %w", part[:idx], err)
			}
			end, err := strconv.Atoi(strings.TrimSpace(part[idx+1:]))
			if err != nil {
				return LineSet{}, fmt.Errorf("invalid range end %q: %w", part[idx+1:], err)
			}
			if end < start || start <= 0 {
				return LineSet{}, fmt.Errorf("invalid range %d-%d", start, end)
			}
			rs = append(rs, Range{start, end})
		} else {
			n, err := strconv.Atoi(part)
			if err != nil {
				return LineSet{}, fmt.Errorf("invalid line number %q: %w", part, err)
			}
			if n <= 0 {
				return LineSet{}, fmt.Errorf("invalid line number %d", n)
			}
			rs = append(rs, Range{n, n})
		}
	}

	return LineSet{ranges: normalize(rs)}, nil
}

// String returns the compact notation: "5,7-8,12".
func (ls LineSet) String() string {
	parts := make([]string, 0, len(ls.ranges))
	for _, r := range ls.ranges {
		if r.Start == r.End {
			parts = append(parts, strconv.Itoa(r.Start))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", r.Start, r.End))
		}
	}
	return strings.Join(parts, ",")
}

// IsEmpty returns true if the set contains no lines.
func (ls LineSet) IsEmpty() bool {
	return len(ls.ranges) == 0
}

// Ranges returns the set's ranges in ascending order.
func (ls LineSet) Ranges() []Range {
	return ls.ranges
}

// Lines expands the set into sorted line numbers.
func (ls LineSet) Lines() []int {
	if len(ls.ranges) == 0 {
		return nil
	}
	out := make([]int, 0, ls.Len())
	for _, r := range ls.ranges {
		for n := r.Start; n <= r.End; n++ {
			out = append(out, n)
		}
	}
	return out
}

// Len returns the number of lines in the set.
func (ls LineSet) Len() int {
	n := 0
	for _, r := range ls.ranges {
		n += r.Len()
	}
	return n
}

// Min returns the smallest line number, or 0 if empty.
func (ls LineSet) Min() int {
	if len(ls.ranges) == 0 {
		return 0
	}
	return ls.ranges[0].Start
}

// Max returns the largest line number, or 0 if empty.
func (ls LineSet) Max() int {
	if len(ls.ranges) == 0 {
		return 0
	}
	return ls.ranges[len(ls.ranges)-1].End
}

// Contains returns true if the given line number is in the set.
func (ls LineSet) Contains(line int) bool {
	i := sort.Search(len(ls.ranges), func(i int) bool { return ls.ranges[i].End >= line })
	return i < len(ls.ranges) && ls.ranges[i].Start <= line
}

// Overlaps returns true if any line in [start, end] is in the set.
func (ls LineSet) Overlaps(start, end int) bool {
	i := sort.Search(len(ls.ranges), func(i int) bool { return ls.ranges[i].End >= start })
	return i < len(ls.ranges) && ls.ranges[i].Start <= end
}

// Union returns the lines in either set.
func (ls LineSet) Union(other LineSet) LineSet {
	rs := make([]Range, 0, len(ls.ranges)+len(other.ranges))
	rs = append(rs, ls.ranges...)
	rs = append(rs, other.ranges...)
	return LineSet{ranges: normalize(rs)}
}

// Subtract returns the lines of ls that are not in other.
func (ls LineSet) Subtract(other LineSet) LineSet {
	var out []Range
	j := 0
	for _, r := range ls.ranges {
		start := r.Start
		for j < len(other.ranges) && other.ranges[j].End < start {
			j++
		}
		k := j
		for k < len(other.ranges) && other.ranges[k].Start <= r.End {
			o := other.ranges[k]
			if o.Start > start {
				out = append(out, Range{start, o.Start - 1})
			}
			if o.End+1 > start {
				start = o.End + 1
			}
			k++
		}
		if start <= r.End {
			out = append(out, Range{start, r.End})
		}
	}
	return LineSet{ranges: out}
}

// MarshalJSON serializes as a JSON string in compact notation.
func (ls LineSet) MarshalJSON() ([]byte, error) {
	s := ls.String()
	if s == "" {
		return []byte("null"), nil
	}
	return json.Marshal(s)
}

// UnmarshalJSON handles both the string format ("5,7-8,12") and the older
// two-element array format ([5,12]).
func (ls *LineSet) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == "" {
		ls.ranges = nil
		return nil
	}

	if s[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		parsed, err := FromString(str)
		if err != nil {
			return err
		}
		*ls = parsed
		return nil
	}

	if s[0] == '[' {
		var raw [2]*int
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		switch {
		case raw[0] != nil && raw[1] != nil:
			*ls = FromRange(*raw[0], *raw[1])
		case raw[0] != nil:
			*ls = New(*raw[0])
		default:
			ls.ranges = nil
		}
		return nil
	}

	return fmt.Errorf("unexpected JSON for LineSet: %s", s)
}

// normalize sorts ranges and merges overlapping or adjacent ones.
func normalize(rs []Range) []Range {
	if len(rs) == 0 {
		return nil
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].Start < rs[j].Start })
	out := []Range{rs[0]}
	for _, r := range rs[1:] {
		last := &out[len(out)-1]
		if r.Start <= last.End+1 {
			if r.End > last.End {
				last.End = r.End
			}
			continue
		}
		out = append(out, r)
	}
	return out
}
