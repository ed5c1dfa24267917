package record

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jensroland/git-attrib/internal/errs"
	"github.com/jensroland/git-attrib/internal/lineset"
)

// Version is the record set encoding written by this build.
const Version = 2

// Encode canonicalizes rs and serializes it. The output is deterministic.
func Encode(rs RecordSet) ([]byte, error) {
	rs.Files = append([]FileRecord(nil), rs.Files...)
	if rs.Sessions != nil {
		sessions := make(map[string]string, len(rs.Sessions))
		for k, v := range rs.Sessions {
			sessions[k] = v
		}
		rs.Sessions = sessions
	}
	rs.Version = Version
	rs.Canonicalize()
	if rs.Files == nil {
		rs.Files = []FileRecord{}
	}
	return json.Marshal(rs)
}

// Decode parses any supported encoding version into the current model.
// Unknown versions are reported as Corrupt rather than guessed at.
func Decode(data []byte) (RecordSet, error) {
	const op = "record.Decode"
	var head struct {
		V int `json:"v"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return RecordSet{}, errs.Corrupt(op, err)
	}
	switch head.V {
	case 1:
		return decodeV1(data)
	case 2:
		var rs RecordSet
		if err := json.Unmarshal(data, &rs); err != nil {
			return RecordSet{}, errs.Corrupt(op, err)
		}
		if err := validate(rs); err != nil {
			return RecordSet{}, errs.Corrupt(op, err)
		}
		return rs, nil
	default:
		return RecordSet{}, errs.Corrupt(op, fmt.Errorf("unsupported record set version %d", head.V))
	}
}

func validate(rs RecordSet) error {
	for _, f := range rs.Files {
		if f.Path == "" {
			return fmt.Errorf("file record without path")
		}
		for _, s := range f.Spans {
			if s.Start < 1 || s.End < s.Start {
				return fmt.Errorf("%s: invalid span %d-%d", f.Path, s.Start, s.End)
			}
			if s.Session == "" {
				return fmt.Errorf("%s: span %d-%d without session", f.Path, s.Start, s.End)
			}
		}
	}
	return nil
}

// v1 stored one line set per session and no confidence.
type v1Set struct {
	Files []struct {
		Path  string                     `json:"path"`
		Blob  string                     `json:"blob"`
		Lines map[string]lineset.LineSet `json:"lines"`
	} `json:"files"`
	Sessions map[string]string `json:"sessions"`
}

func decodeV1(data []byte) (RecordSet, error) {
	var old v1Set
	if err := json.Unmarshal(data, &old); err != nil {
		return RecordSet{}, errs.Corrupt("record.Decode", err)
	}
	rs := RecordSet{Version: Version, Origin: OriginCommit, Sessions: old.Sessions}
	for _, f := range old.Files {
		ids := make([]string, 0, len(f.Lines))
		for id := range f.Lines {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		var spans []Span
		for _, id := range ids {
			for _, r := range f.Lines[id].Ranges() {
				spans = append(spans, Span{Start: r.Start, End: r.End, Session: id, Confidence: ConfidenceExact})
			}
		}
		rs.Files = append(rs.Files, FileRecord{Path: f.Path, Blob: f.Blob, Spans: NormalizeSpans(spans)})
	}
	return rs, nil
}

// EncodeSession serializes a session descriptor for the CAS.
func EncodeSession(s Session) ([]byte, error) {
	s.StartedAt = s.StartedAt.UTC()
	if s.EndedAt != nil {
		t := s.EndedAt.UTC()
		s.EndedAt = &t
	}
	return json.Marshal(s)
}

// DecodeSession parses a session descriptor.
func DecodeSession(data []byte) (Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return Session{}, errs.Corrupt("record.DecodeSession", err)
	}
	if s.ID == "" {
		return Session{}, errs.Corrupt("record.DecodeSession", fmt.Errorf("session without id"))
	}
	return s, nil
}
