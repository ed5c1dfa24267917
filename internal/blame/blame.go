// Package blame reconstructs per-line attribution for a file at a revision.
// git blame finds the commit that introduced each line; that commit's note
// says whether an agent session wrote it.
package blame

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jensroland/git-attrib/internal/debug"
	"github.com/jensroland/git-attrib/internal/errs"
	"github.com/jensroland/git-attrib/internal/git"
	"github.com/jensroland/git-attrib/internal/notes"
	"github.com/jensroland/git-attrib/internal/record"
)

// Attribution is the agent provenance of one line.
type Attribution struct {
	Commit     string  `json:"commit"`
	Session    string  `json:"session"`
	Agent      string  `json:"agent,omitempty"`
	Model      string  `json:"model,omitempty"`
	PromptRef  string  `json:"prompt_ref,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Line is one blamed line.
type Line struct {
	Number      int          `json:"line"`
	Text        string       `json:"text"`
	Commit      string       `json:"commit"`
	Author      string       `json:"author"`
	AuthorTime  time.Time    `json:"author_time"`
	Summary     string       `json:"summary"`
	OrigLine    int          `json:"orig_line"`
	OrigPath    string       `json:"orig_path"`
	Attribution *Attribution `json:"attribution,omitempty"`
}

// Options restricts the line range; zero values mean the whole file. A
// stream can be resumed by starting a new one at From = last line + 1.
type Options struct {
	From, To int
}

// maxCachedSets bounds the record sets held per stream.
const maxCachedSets = 512

// Engine builds blame streams.
type Engine struct {
	repo  *git.Repo
	notes *notes.Store
	log   *logrus.Entry
}

// New returns a blame Engine.
func New(repo *git.Repo, store *notes.Store, log logrus.FieldLogger) *Engine {
	return &Engine{repo: repo, notes: store, log: debug.Component(log, "blame")}
}

// Blame starts a lazy blame of path at rev. An empty rev blames the
// working tree.
func (e *Engine) Blame(ctx context.Context, path, rev string, opts Options) (*Stream, error) {
	br, err := e.repo.Blame(ctx, rev, path, git.BlameOptions{Start: opts.From, End: opts.To})
	if err != nil {
		return nil, err
	}
	return &Stream{
		ctx:      ctx,
		engine:   e,
		reader:   br,
		sets:     make(map[string]*record.RecordSet),
		sessions: make(map[string]*record.Session),
	}, nil
}

// Collect blames the whole requested range. It returns errs.ErrNoAttribution
// when no commit behind the lines carries a note, which differs from a
// result where every line is human-written.
func (e *Engine) Collect(ctx context.Context, path, rev string, opts Options) ([]Line, error) {
	if e.notes.Tip(ctx) == "" {
		return nil, errs.ErrNoAttribution
	}
	s, err := e.Blame(ctx, path, rev, opts)
	if err != nil {
		return nil, err
	}
	defer s.Close()

	var lines []Line
	for {
		l, ok := s.Next()
		if !ok {
			break
		}
		lines = append(lines, l)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	if !s.HasData() {
		return lines, errs.ErrNoAttribution
	}
	return lines, nil
}

// Stream yields blamed lines as git produces them.
type Stream struct {
	ctx      context.Context
	engine   *Engine
	reader   *git.BlameReader
	sets     map[string]*record.RecordSet // nil value: commit has no usable note
	sessions map[string]*record.Session
	hasData  bool
	err      error
	done     bool
}

// Next returns the next line. It returns false at the end or on error;
// check Err afterwards.
func (s *Stream) Next() (Line, bool) {
	if s.done {
		return Line{}, false
	}
	bl, err := s.reader.Next()
	if err != nil {
		s.done = true
		if !errors.Is(err, io.EOF) {
			s.err = err
		}
		return Line{}, false
	}

	l := Line{
		Number:     bl.FinalLine,
		Text:       bl.Text,
		Commit:     bl.Commit,
		Author:     bl.Author,
		AuthorTime: bl.AuthorTime,
		Summary:    bl.Summary,
		OrigLine:   bl.OrigLine,
		OrigPath:   bl.OrigPath,
	}
	if !bl.IsUncommitted() {
		l.Attribution = s.attribution(bl)
	}
	return l, true
}

// Err returns the error that ended the stream, if any.
func (s *Stream) Err() error { return s.err }

// HasData reports whether any line so far came from an annotated commit.
func (s *Stream) HasData() bool { return s.hasData }

// Close stops the underlying git process.
func (s *Stream) Close() error {
	s.done = true
	return s.reader.Close()
}

func (s *Stream) attribution(bl git.BlameLine) *Attribution {
	rs := s.recordSet(bl.Commit)
	if rs == nil {
		return nil
	}
	s.hasData = true

	fr := rs.File(bl.OrigPath)
	if fr == nil {
		return nil
	}
	claim, ok := fr.ClaimAt(bl.OrigLine)
	if !ok || !claim.IsAI() {
		return nil
	}
	a := &Attribution{Commit: bl.Commit, Session: claim.Session, Confidence: claim.Confidence}
	if sess := s.session(rs.Sessions[claim.Session]); sess != nil {
		a.Agent = sess.Agent
		a.Model = sess.Model
		a.PromptRef = sess.PromptRef
	}
	return a
}

func (s *Stream) recordSet(commit string) *record.RecordSet {
	if rs, ok := s.sets[commit]; ok {
		return rs
	}
	if len(s.sets) >= maxCachedSets {
		s.sets = make(map[string]*record.RecordSet)
	}
	rs, _, err := s.engine.notes.Read(s.ctx, commit)
	if err != nil {
		if !errors.Is(err, errs.ErrNotFound) {
			s.engine.log.WithError(err).WithField("commit", commit).Warn("ignoring unreadable note")
		}
		s.sets[commit] = nil
		return nil
	}
	s.sets[commit] = &rs
	return &rs
}

func (s *Stream) session(hash string) *record.Session {
	if hash == "" {
		return nil
	}
	if sess, ok := s.sessions[hash]; ok {
		return sess
	}
	var sess *record.Session
	if data, err := s.engine.notes.Objects().Get(hash); err == nil {
		if decoded, err := record.DecodeSession(data); err == nil {
			sess = &decoded
		}
	}
	s.sessions[hash] = sess
	return sess
}
