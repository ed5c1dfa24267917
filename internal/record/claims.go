package record

import "sort"

// Claim is the attribution of a single line. The zero value means human.
type Claim struct {
	Session    string
	Confidence float64
}

// IsAI reports whether the line is attributed to a session.
func (c Claim) IsAI() bool { return c.Session != "" }

// Claims expands spans into per-line claims for a blob of n lines. Later
// spans win where spans overlap; spans beyond n are clipped.
func Claims(spans []Span, n int) []Claim {
	out := make([]Claim, n)
	for _, s := range spans {
		start, end := s.Start, s.End
		if start < 1 {
			start = 1
		}
		if end > n {
			end = n
		}
		for l := start; l <= end; l++ {
			out[l-1] = Claim{Session: s.Session, Confidence: s.Confidence}
		}
	}
	return out
}

// SpansFromClaims coalesces consecutive equal AI claims into spans.
func SpansFromClaims(claims []Claim) []Span {
	var out []Span
	for i := 0; i < len(claims); i++ {
		c := claims[i]
		if !c.IsAI() {
			continue
		}
		j := i
		for j+1 < len(claims) && claims[j+1] == c {
			j++
		}
		out = append(out, Span{Start: i + 1, End: j + 1, Session: c.Session, Confidence: c.Confidence})
		i = j
	}
	return out
}

// NormalizeSpans resolves overlaps (later spans win), sorts and coalesces.
func NormalizeSpans(spans []Span) []Span {
	if len(spans) == 0 {
		return nil
	}
	maxEnd := 0
	sorted := true
	for i, s := range spans {
		if s.End > maxEnd {
			maxEnd = s.End
		}
		if s.Start < 1 || s.End < s.Start || s.Session == "" {
			sorted = false
		}
		if i > 0 && (s.Start <= spans[i-1].End) {
			sorted = false
		}
	}
	if sorted {
		// Fast path: already disjoint and ordered; only coalesce.
		return coalesce(spans)
	}
	return SpansFromClaims(Claims(spans, maxEnd))
}

func coalesce(spans []Span) []Span {
	out := make([]Span, 0, len(spans))
	for _, s := range spans {
		if n := len(out); n > 0 {
			last := &out[n-1]
			if last.End+1 == s.Start && last.Session == s.Session && last.Confidence == s.Confidence {
				last.End = s.End
				continue
			}
		}
		out = append(out, s)
	}
	return out
}

// SessionIDs returns the distinct sessions referenced by spans, sorted.
func SessionIDs(spans []Span) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, s := range spans {
		if !seen[s.Session] {
			seen[s.Session] = true
			ids = append(ids, s.Session)
		}
	}
	sort.Strings(ids)
	return ids
}
