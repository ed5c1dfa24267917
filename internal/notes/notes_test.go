package notes

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jensroland/git-attrib/internal/cas"
	"github.com/jensroland/git-attrib/internal/debug"
	"github.com/jensroland/git-attrib/internal/errs"
	"github.com/jensroland/git-attrib/internal/git"
	"github.com/jensroland/git-attrib/internal/gittest"
	"github.com/jensroland/git-attrib/internal/record"
)

func newStore(t *testing.T, tr *gittest.Repo, inline int) *Store {
	t.Helper()
	objects := cas.Open(filepath.Join(tr.GitDir(), "attrib", "objects"), true)
	return New(git.New(tr.Dir), objects, Options{Ref: DefaultRef, InlineMaxSpans: inline, WriteRetries: 10}, debug.Discard())
}

func sampleSet(session string) record.RecordSet {
	return record.RecordSet{
		Origin: record.OriginCommit,
		Files: []record.FileRecord{{
			Path:  "a.txt",
			Blob:  "blob",
			Spans: []record.Span{{Start: 2, End: 4, Session: session, Confidence: 1}},
		}},
		Sessions: map[string]string{session: cas.Hash([]byte(session))},
	}
}

func TestAttachAndRead(t *testing.T) {
	for _, inline := range []int{0, 64} {
		tr := gittest.New(t)
		tr.Write("a.txt", "one\n")
		c := tr.Commit("first")
		s := newStore(t, tr, inline)
		ctx := context.Background()

		require.NoError(t, s.Attach(ctx, c, sampleSet("s1")))
		assert.True(t, s.Exists(ctx, c))

		rs, note, err := s.Read(ctx, c)
		require.NoError(t, err)
		assert.Equal(t, NoteVersion, note.Version)
		assert.Equal(t, inline > 0, note.Inline != nil)
		assert.Equal(t, map[string]int{"a.txt": 1}, note.Index)
		assert.Equal(t, sampleSet("s1").Files, rs.Files)
		assert.True(t, s.Objects().Has(note.Set))

		// Plain git sees the same note.
		shown := tr.Git("notes", "--ref", DefaultRef, "show", c)
		assert.Contains(t, shown, note.Set)
	}
}

func TestAttachDoesNotTouchWorkTree(t *testing.T) {
	tr := gittest.New(t)
	tr.Write("a.txt", "one\n")
	c := tr.Commit("first")
	tr.Write("b.txt", "staged\n")
	tr.Git("add", "b.txt")
	before := tr.Git("status", "--porcelain")

	s := newStore(t, tr, 64)
	require.NoError(t, s.Attach(context.Background(), c, sampleSet("s1")))

	assert.Equal(t, before, tr.Git("status", "--porcelain"))
	assert.Equal(t, c, tr.Head())
}

func TestAttachIdempotentAndConflict(t *testing.T) {
	tr := gittest.New(t)
	tr.Write("a.txt", "one\n")
	c := tr.Commit("first")
	s := newStore(t, tr, 64)
	ctx := context.Background()

	require.NoError(t, s.Attach(ctx, c, sampleSet("s1")))
	tip := s.Tip(ctx)
	require.NotEmpty(t, tip)

	require.NoError(t, s.Attach(ctx, c, sampleSet("s1")))
	assert.Equal(t, tip, s.Tip(ctx), "identical attach must not move the ref")

	err := s.Attach(ctx, c, sampleSet("s2"))
	assert.True(t, errors.Is(err, errs.ErrConflict))
	rs, _, err := s.Read(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, "s1", rs.Files[0].Spans[0].Session)

	require.NoError(t, s.Replace(ctx, c, sampleSet("s2")))
	rs, _, err = s.Read(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, "s2", rs.Files[0].Spans[0].Session)

	listed, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestReadMissingAndCorrupt(t *testing.T) {
	tr := gittest.New(t)
	tr.Write("a.txt", "one\n")
	c := tr.Commit("first")
	s := newStore(t, tr, 64)
	ctx := context.Background()

	_, _, err := s.Read(ctx, c)
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	tr.Git("notes", "--ref", DefaultRef, "add", "-m", "this is not json", c)
	_, _, err = s.Read(ctx, c)
	assert.True(t, errors.Is(err, errs.ErrCorrupt))

	tr.Git("notes", "--ref", DefaultRef, "add", "-f", "-m", `{"v":7,"set":"x"}`, c)
	_, _, err = s.Read(ctx, c)
	assert.True(t, errors.Is(err, errs.ErrCorrupt))

	missing := strings.Repeat("ab", 32)
	tr.Git("notes", "--ref", DefaultRef, "add", "-f", "-m", `{"v":2,"set":"`+missing+`"}`, c)
	_, _, err = s.Read(ctx, c)
	assert.True(t, errors.Is(err, errs.ErrCorrupt))
}

func TestReadLegacyNote(t *testing.T) {
	tr := gittest.New(t)
	tr.Write("a.txt", "one\ntwo\n")
	c := tr.Commit("first")
	s := newStore(t, tr, 64)

	tr.Git("notes", "--ref", DefaultRef, "add", "-m",
		`{"v":1,"files":[{"path":"a.txt","blob":"b","lines":{"s1":"1-2"}}]}`, c)
	rs, note, err := s.Read(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, 1, note.Version)
	require.Len(t, rs.Files, 1)
	assert.Equal(t, []record.Span{{Start: 1, End: 2, Session: "s1", Confidence: 1}}, rs.Files[0].Spans)
}

func TestConcurrentAttach(t *testing.T) {
	tr := gittest.New(t)
	var commits []string
	for i := 0; i < 4; i++ {
		tr.Write("a.txt", strings.Repeat("x\n", i+1))
		commits = append(commits, tr.Commit("c"))
	}
	s := newStore(t, tr, 64)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i, c := range commits {
		wg.Add(1)
		go func(i int, c string) {
			defer wg.Done()
			assert.NoError(t, s.Attach(ctx, c, sampleSet("s"+strings.Repeat("x", i))))
		}(i, c)
	}
	wg.Wait()

	listed, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, listed, len(commits))
}

func TestLiveAndGarbageSafety(t *testing.T) {
	tr := gittest.New(t)
	tr.Write("a.txt", "one\n")
	kept := tr.Commit("kept")
	tr.Write("a.txt", "two\n")
	dropped := tr.Commit("dropped")

	s := newStore(t, tr, 0)
	ctx := context.Background()

	sess := record.Session{ID: "s1", Agent: "agent", Model: "m", StartedAt: time.Unix(0, 0).UTC()}
	prompt, err := s.Objects().Put([]byte("the prompt"))
	require.NoError(t, err)
	sess.PromptRef = prompt
	desc, err := record.EncodeSession(sess)
	require.NoError(t, err)
	descHash, err := s.Objects().Put(desc)
	require.NoError(t, err)

	keptSet := sampleSet("s1")
	keptSet.Sessions = map[string]string{"s1": descHash}
	require.NoError(t, s.Attach(ctx, kept, keptSet))
	require.NoError(t, s.Attach(ctx, dropped, sampleSet("s2")))
	_, droppedNote, err := s.Read(ctx, dropped)
	require.NoError(t, err)

	tr.Git("reset", "-q", "--hard", kept)
	tr.Git("update-ref", "-d", "ORIG_HEAD")
	tr.Git("reflog", "expire", "--expire=now", "--all")
	tr.Git("gc", "-q", "--prune=now")
	require.False(t, git.New(tr.Dir).CommitExists(ctx, dropped))

	live, err := s.Live(ctx)
	require.NoError(t, err)
	_, keptNote, err := s.Read(ctx, kept)
	require.NoError(t, err)
	assert.True(t, live[keptNote.Set])
	assert.True(t, live[descHash])
	assert.True(t, live[prompt])
	assert.False(t, live[droppedNote.Set])

	removed, err := s.Objects().Prune(func(h string) bool { return live[h] }, 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, removed, 1)

	rs, _, err := s.Read(ctx, kept)
	require.NoError(t, err)
	assert.Equal(t, "s1", rs.Files[0].Spans[0].Session)
	assert.False(t, s.Objects().Has(droppedNote.Set))
}

func TestNotesFanOut(t *testing.T) {
	tr := gittest.New(t)
	var commits []string
	for i := 0; i < 20; i++ {
		commits = append(commits, tr.Commit("c"))
	}
	s := newStore(t, tr, 64)
	ctx := context.Background()
	repo := git.New(tr.Dir)

	// A note git wrote flat is moved into the fanout on replace.
	tr.Git("notes", "--ref", DefaultRef, "add", "-m", "plain", commits[0])
	for _, c := range commits[1:] {
		require.NoError(t, s.Attach(ctx, c, sampleSet("s1")))
	}
	require.NoError(t, s.Replace(ctx, commits[0], sampleSet("s2")))

	root, err := repo.ListTree(ctx, s.Tip(ctx))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(root), 256)
	for _, e := range root {
		assert.Equal(t, "tree", e.Type, e.Name)
		assert.Len(t, e.Name, 2)
	}

	listed, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, listed, len(commits))
	rs, _, err := s.Read(ctx, commits[0])
	require.NoError(t, err)
	assert.Equal(t, "s2", rs.Files[0].Spans[0].Session)
	assert.Contains(t, tr.Git("notes", "--ref", DefaultRef, "show", commits[5]), `"v":2`)

	// Git's own deeper fanout is followed rather than duplicated.
	sub := root[0]
	children, err := repo.ListTree(ctx, sub.OID)
	require.NoError(t, err)
	require.NotEmpty(t, children)
	note := children[0]
	nested, err := repo.MakeTree(ctx, []git.TreeEntry{{Mode: "100644", Type: "blob", OID: note.OID, Name: note.Name[2:]}})
	require.NoError(t, err)
	deeper, err := repo.MakeTree(ctx, []git.TreeEntry{{Mode: "040000", Type: "tree", OID: nested, Name: note.Name[:2]}})
	require.NoError(t, err)
	placed, err := s.placeNote(ctx, []git.TreeEntry{{Mode: "040000", Type: "tree", OID: deeper, Name: sub.Name}}, sub.Name+note.Name, note.OID, true)
	require.NoError(t, err)
	paths := tr.Git("ls-tree", "-r", "--name-only", placed)
	assert.Equal(t, sub.Name+"/"+note.Name[:2]+"/"+note.Name[2:], paths)
}
