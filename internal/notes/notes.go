// Package notes persists record sets as git notes. The note body is a small
// pointer into the CAS, optionally carrying the record set inline; the notes
// ref is only ever moved with a compare-and-swap update-ref.
package notes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jensroland/git-attrib/internal/cas"
	"github.com/jensroland/git-attrib/internal/debug"
	"github.com/jensroland/git-attrib/internal/errs"
	"github.com/jensroland/git-attrib/internal/git"
	"github.com/jensroland/git-attrib/internal/record"
)

// DefaultRef is where attribution notes live.
const DefaultRef = "refs/notes/attrib"

// NoteVersion is the note body schema written by this build.
const NoteVersion = 2

// Note is the body stored in the notes tree for one commit.
type Note struct {
	Version int               `json:"v"`
	Set     string            `json:"set"`
	Index   map[string]int    `json:"index,omitempty"`
	Inline  *record.RecordSet `json:"inline,omitempty"`
}

// Options configures a Store.
type Options struct {
	Ref            string
	InlineMaxSpans int
	WriteRetries   int
}

// Store reads and writes attribution notes.
type Store struct {
	repo    *git.Repo
	objects *cas.Store
	opts    Options
	log     logrus.FieldLogger
}

// New returns a Store.
func New(repo *git.Repo, objects *cas.Store, opts Options, log logrus.FieldLogger) *Store {
	if opts.Ref == "" {
		opts.Ref = DefaultRef
	}
	if opts.WriteRetries < 1 {
		opts.WriteRetries = 1
	}
	return &Store{repo: repo, objects: objects, opts: opts, log: debug.Component(log, "notes")}
}

// Ref returns the notes ref.
func (s *Store) Ref() string { return s.opts.Ref }

// Objects returns the CAS the notes point into.
func (s *Store) Objects() *cas.Store { return s.objects }

// Tip returns the commit the notes ref points at, or "".
func (s *Store) Tip(ctx context.Context) string {
	sha, err := s.repo.RevParse(ctx, s.opts.Ref)
	if err != nil {
		return ""
	}
	return sha
}

// Body builds the note body for rs and stores rs in the CAS. The body is
// deterministic: equal record sets give byte-identical notes.
func (s *Store) Body(rs record.RecordSet) ([]byte, error) {
	data, err := record.Encode(rs)
	if err != nil {
		return nil, err
	}
	hash, err := s.objects.Put(data)
	if err != nil {
		return nil, err
	}
	canonical, err := record.Decode(data)
	if err != nil {
		return nil, err
	}
	note := Note{Version: NoteVersion, Set: hash, Index: canonical.Index()}
	if canonical.SpanCount() <= s.opts.InlineMaxSpans {
		note.Inline = &canonical
	}
	return json.Marshal(note)
}

// Attach writes the note for commit. An identical existing note is a no-op;
// a different one is an errs.Conflict and is left untouched.
func (s *Store) Attach(ctx context.Context, commit string, rs record.RecordSet) error {
	return s.write(ctx, commit, rs, false)
}

// Replace writes the note for commit, overwriting any existing note.
func (s *Store) Replace(ctx context.Context, commit string, rs record.RecordSet) error {
	return s.write(ctx, commit, rs, true)
}

func (s *Store) write(ctx context.Context, commit string, rs record.RecordSet, replace bool) error {
	body, err := s.Body(rs)
	if err != nil {
		return fmt.Errorf("encode note for %s: %w", commit, err)
	}

	var lastErr error
	for attempt := 0; attempt < s.opts.WriteRetries; attempt++ {
		tip := s.Tip(ctx)
		existing, _ := s.noteBlob(ctx, commit)
		if existing != "" {
			old, err := s.repo.ReadBlob(ctx, existing)
			if err == nil && bytes.Equal(old, body) {
				return nil
			}
			if !replace {
				return errs.Conflict("notes.Attach", fmt.Errorf("commit %s already has a different note", commit))
			}
		}

		lastErr = s.commitNote(ctx, tip, commit, body)
		if lastErr == nil {
			s.log.WithFields(logrus.Fields{"commit": commit, "spans": rs.SpanCount(), "replace": replace}).Debug("note written")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.WithError(lastErr).WithField("attempt", attempt+1).Debug("notes ref moved, retrying")
	}
	return fmt.Errorf("writing note for %s: %w", commit, lastErr)
}

// commitNote builds a new notes commit on top of tip and moves the ref only
// if it still points at tip.
func (s *Store) commitNote(ctx context.Context, tip, commit string, body []byte) error {
	blob, err := s.repo.WriteBlob(ctx, body)
	if err != nil {
		return fmt.Errorf("hash-object: %w", err)
	}

	var root []git.TreeEntry
	if tip != "" {
		if root, err = s.repo.ListTree(ctx, tip); err != nil {
			return fmt.Errorf("ls-tree: %w", err)
		}
	}
	tree, err := s.placeNote(ctx, root, commit, blob, true)
	if err != nil {
		return fmt.Errorf("mktree: %w", err)
	}

	args := []string{"commit-tree", tree, "-m", "Notes added by 'git attrib'"}
	if tip != "" {
		args = append(args, "-p", tip)
	}
	commitOut, err := s.repo.Exec(ctx, s.identity(ctx), nil, args...)
	if err != nil {
		return fmt.Errorf("commit-tree: %w", err)
	}
	newTip := strings.TrimSpace(string(commitOut))

	old := tip
	if old == "" {
		old = git.NullOID
	}
	if _, err := s.repo.Run(ctx, "update-ref", "-m", "attrib: note "+commit, s.opts.Ref, newTip, old); err != nil {
		return fmt.Errorf("update-ref: %w", err)
	}
	return nil
}

// identity supplies a committer for notes commits in repositories without
// a configured user, which would otherwise make commit-tree fail.
func (s *Store) identity(ctx context.Context) []string {
	if s.repo.Author(ctx) != "unknown" {
		return nil
	}
	return []string{
		"GIT_AUTHOR_NAME=git-attrib", "GIT_AUTHOR_EMAIL=git-attrib@localhost",
		"GIT_COMMITTER_NAME=git-attrib", "GIT_COMMITTER_EMAIL=git-attrib@localhost",
	}
}

// noteBlob returns the blob holding commit's note, or "" with errs.NotFound.
func (s *Store) noteBlob(ctx context.Context, commit string) (string, error) {
	out, err := s.repo.Run(ctx, "notes", "--ref", s.opts.Ref, "list", commit)
	if err != nil || strings.TrimSpace(out) == "" {
		return "", errs.NotFound("notes.Read", fmt.Errorf("no note for %s", commit))
	}
	return strings.TrimSpace(out), nil
}

// Exists reports whether commit carries a note.
func (s *Store) Exists(ctx context.Context, commit string) bool {
	blob, _ := s.noteBlob(ctx, commit)
	return blob != ""
}

// Read returns the record set attached to commit. A missing note is
// errs.NotFound; a note that cannot be decoded is errs.Corrupt.
func (s *Store) Read(ctx context.Context, commit string) (record.RecordSet, Note, error) {
	blob, err := s.noteBlob(ctx, commit)
	if err != nil {
		return record.RecordSet{}, Note{}, err
	}
	body, err := s.repo.ReadBlob(ctx, blob)
	if err != nil {
		return record.RecordSet{}, Note{}, err
	}
	return s.Decode(body)
}

// Decode parses a note body and loads its record set.
func (s *Store) Decode(body []byte) (record.RecordSet, Note, error) {
	const op = "notes.Decode"
	note, err := ParseNote(body)
	if err != nil {
		return record.RecordSet{}, Note{}, err
	}
	if note.Version == 1 {
		rs, err := record.Decode(body)
		return rs, note, err
	}
	if note.Inline != nil {
		rs := *note.Inline
		rs.Version = record.Version
		return rs, note, nil
	}
	data, err := s.objects.Get(note.Set)
	if err != nil {
		return record.RecordSet{}, note, errs.Corrupt(op, fmt.Errorf("record set %s: %w", note.Set, err))
	}
	rs, err := record.Decode(data)
	return rs, note, err
}

// ParseNote parses a note body without resolving the record set. Legacy
// v1 notes are bare record sets; they come back with Version 1 and no Set.
func ParseNote(body []byte) (Note, error) {
	const op = "notes.ParseNote"
	var note Note
	if err := json.Unmarshal(body, &note); err != nil {
		return Note{}, errs.Corrupt(op, err)
	}
	switch note.Version {
	case 1:
		return Note{Version: 1}, nil
	case NoteVersion:
		if note.Set == "" && note.Inline == nil {
			return Note{}, errs.Corrupt(op, errors.New("note without record set"))
		}
		return note, nil
	default:
		return Note{}, errs.Corrupt(op, fmt.Errorf("unsupported note version %d", note.Version))
	}
}

// List returns every annotated commit mapped to its note blob.
func (s *Store) List(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	if s.Tip(ctx) == "" {
		return out, nil
	}
	text, err := s.repo.Run(ctx, "notes", "--ref", s.opts.Ref, "list")
	if err != nil {
		return nil, err
	}
	for _, line := range strings.Split(text, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 {
			out[fields[1]] = fields[0]
		}
	}
	return out, nil
}
