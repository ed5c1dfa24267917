// Package record defines the attribution data model: sessions, spans and
// the per-commit record set, plus their versioned wire encoding.
package record

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"sort"
	"time"
)

// Origin says which operation produced a record set.
type Origin string

const (
	OriginCommit     Origin = "commit"
	OriginMerge      Origin = "merge"
	OriginAmend      Origin = "amend"
	OriginRebase     Origin = "rebase"
	OriginCherryPick Origin = "cherry-pick"
	OriginSquash     Origin = "squash"
	OriginReset      Origin = "reset"
	OriginStash      Origin = "stash"
	OriginRepair     Origin = "repair"
)

// Confidence levels assigned at encode time.
const (
	ConfidenceExact     = 1.0
	ConfidenceRelocated = 0.8
)

// Session is one agent invocation episode.
type Session struct {
	ID        string     `json:"id"`
	Agent     string     `json:"agent"`
	Model     string     `json:"model"`
	PromptRef string     `json:"prompt_ref,omitempty"` // CAS hash of prompt/plan text
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Closed reports whether the session has ended. Closed sessions are immutable.
func (s Session) Closed() bool { return s.EndedAt != nil }

// Span attributes lines Start..End (1-based, inclusive) of one blob to a session.
type Span struct {
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Session    string  `json:"session"`
	Confidence float64 `json:"confidence"`
}

// FileRecord holds the spans a commit introduced in one file. Spans refer
// to Blob, the content-addressed version of the file at Path.
type FileRecord struct {
	Path  string `json:"path"`
	Blob  string `json:"blob"`
	Spans []Span `json:"spans"`
}

// AttributionSpan is the flattened (blob, range, session, confidence) tuple.
type AttributionSpan struct {
	Blob       string
	Start      int
	End        int
	Session    string
	Confidence float64
}

// RecordSet is everything one commit introduced, relative to its parents.
// It deliberately carries no commit id or timestamps so that recomputing it
// from the same inputs yields identical bytes.
type RecordSet struct {
	Version      int               `json:"v"`
	Origin       Origin            `json:"origin"`
	Predecessors []string          `json:"predecessors,omitempty"`
	Partial      bool              `json:"partial,omitempty"`
	Files        []FileRecord      `json:"files"`
	Sessions     map[string]string `json:"sessions,omitempty"` // session id -> CAS hash of descriptor
}

// File returns the record for path, or nil.
func (rs *RecordSet) File(path string) *FileRecord {
	for i := range rs.Files {
		if rs.Files[i].Path == path {
			return &rs.Files[i]
		}
	}
	return nil
}

// FileByBlob returns the record anchored to blob, or nil.
func (rs *RecordSet) FileByBlob(blob string) *FileRecord {
	if blob == "" {
		return nil
	}
	for i := range rs.Files {
		if rs.Files[i].Blob == blob {
			return &rs.Files[i]
		}
	}
	return nil
}

// Lookup finds the record for a file, preferring the blob identity and
// falling back to the path.
func (rs *RecordSet) Lookup(path, blob string) *FileRecord {
	if fr := rs.FileByBlob(blob); fr != nil {
		return fr
	}
	return rs.File(path)
}

// Spans flattens the set into AttributionSpans.
func (rs RecordSet) Spans() []AttributionSpan {
	var out []AttributionSpan
	for _, f := range rs.Files {
		for _, s := range f.Spans {
			out = append(out, AttributionSpan{
				Blob: f.Blob, Start: s.Start, End: s.End,
				Session: s.Session, Confidence: s.Confidence,
			})
		}
	}
	return out
}

// SpanCount returns the total number of spans.
func (rs RecordSet) SpanCount() int {
	n := 0
	for _, f := range rs.Files {
		n += len(f.Spans)
	}
	return n
}

// Index maps each file path to its span count.
func (rs RecordSet) Index() map[string]int {
	idx := make(map[string]int, len(rs.Files))
	for _, f := range rs.Files {
		idx[f.Path] = len(f.Spans)
	}
	return idx
}

// IsEmpty reports whether the set attributes no lines at all.
func (rs RecordSet) IsEmpty() bool {
	return rs.SpanCount() == 0
}

// Canonicalize sorts files, normalises spans, drops empty files and
// unreferenced sessions. Encode calls it, so equal content encodes equally.
func (rs *RecordSet) Canonicalize() {
	files := rs.Files[:0]
	used := make(map[string]bool)
	for _, f := range rs.Files {
		f.Spans = NormalizeSpans(f.Spans)
		if len(f.Spans) == 0 {
			continue
		}
		for _, s := range f.Spans {
			used[s.Session] = true
		}
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	rs.Files = files

	for id := range rs.Sessions {
		if !used[id] {
			delete(rs.Sessions, id)
		}
	}
	if len(rs.Sessions) == 0 {
		rs.Sessions = nil
	}
}

// ClaimAt returns the claim covering line (1-based), if any.
func (fr FileRecord) ClaimAt(line int) (Claim, bool) {
	i := sort.Search(len(fr.Spans), func(i int) bool { return fr.Spans[i].End >= line })
	if i < len(fr.Spans) && fr.Spans[i].Start <= line {
		s := fr.Spans[i]
		return Claim{Session: s.Session, Confidence: s.Confidence}, true
	}
	return Claim{}, false
}

// LineHash anchors a single line's content. The ledger stores it so that
// attribution can be matched to committed content.
func LineHash(line string) string {
	h := sha256.Sum256([]byte(line))
	return hex.EncodeToString(h[:8])
}

// RelativizePath converts an absolute path to a project-relative path.
// Always uses forward slashes for portability.
func RelativizePath(absPath, projectDir string) string {
	if absPath == "" {
		return ""
	}
	if !filepath.IsAbs(absPath) {
		return filepath.ToSlash(filepath.Clean(absPath))
	}
	rel, err := filepath.Rel(projectDir, absPath)
	if err != nil {
		return filepath.ToSlash(absPath)
	}
	return filepath.ToSlash(rel)
}
