package index

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jensroland/git-attrib/internal/cas"
	"github.com/jensroland/git-attrib/internal/debug"
	"github.com/jensroland/git-attrib/internal/git"
	"github.com/jensroland/git-attrib/internal/gittest"
	"github.com/jensroland/git-attrib/internal/notes"
	"github.com/jensroland/git-attrib/internal/record"
)

type env struct {
	tr      *gittest.Repo
	objects *cas.Store
	notes   *notes.Store
	idx     *Index
	dbPath  string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	tr := gittest.New(t)
	repo := git.New(tr.Dir)
	objects := cas.Open(filepath.Join(tr.GitDir(), "attrib", "objects"), true)
	store := notes.New(repo, objects, notes.Options{InlineMaxSpans: 64}, debug.Discard())
	dbPath := filepath.Join(tr.GitDir(), "attrib", "index.db")
	idx, err := Open(dbPath, repo, store, debug.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return &env{tr: tr, objects: objects, notes: store, idx: idx, dbPath: dbPath}
}

// session stores a descriptor in the CAS and returns its id and hash.
func (e *env) session(t *testing.T, id, agent, model string) (string, string) {
	t.Helper()
	data, err := record.EncodeSession(record.Session{ID: id, Agent: agent, Model: model, StartedAt: time.Now()})
	require.NoError(t, err)
	hash, err := e.objects.Put(data)
	require.NoError(t, err)
	return id, hash
}

func (e *env) attach(t *testing.T, commit string, files map[string][]record.Span, sessions map[string]string) {
	t.Helper()
	rs := record.RecordSet{Origin: record.OriginCommit, Sessions: sessions}
	for path, spans := range files {
		rs.Files = append(rs.Files, record.FileRecord{Path: path, Blob: "b-" + path, Spans: spans})
	}
	require.NoError(t, e.notes.Attach(context.Background(), commit, rs))
}

func span(start, end int, session string) record.Span {
	return record.Span{Start: start, End: end, Session: session, Confidence: record.ConfidenceExact}
}

func TestSyncEnumerateAndStats(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s1, h1 := e.session(t, "s1", "claude", "opus")
	s2, h2 := e.session(t, "s2", "codex", "gpt")

	e.tr.Write("a.txt", "a\n")
	c1 := e.tr.Commit("one")
	e.attach(t, c1, map[string][]record.Span{"a.txt": {span(1, 10, s1)}}, map[string]string{s1: h1})

	e.tr.Write("b.txt", "b\n")
	c2 := e.tr.Commit("two")
	e.attach(t, c2, map[string][]record.Span{
		"a.txt": {span(1, 2, s1)},
		"b.txt": {span(1, 5, s2)},
	}, map[string]string{s1: h1, s2: h2})

	e.tr.Write("c.txt", "c\n")
	e.tr.Commit("human")

	n, err := e.idx.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	recs, err := e.idx.Enumerate(ctx, "")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, c2, recs[0].Commit)
	assert.Equal(t, 7, recs[0].Lines)
	assert.Equal(t, []FileSummary{{Path: "a.txt", Lines: 2}, {Path: "b.txt", Lines: 5}}, recs[0].Files)
	require.Len(t, recs[0].Sessions, 2)
	assert.Equal(t, "claude", recs[0].Sessions[0].Agent)
	assert.Equal(t, "gpt", recs[0].Sessions[1].Model)
	assert.Equal(t, record.OriginCommit, recs[1].Origin)

	st, err := e.idx.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, st.Commits)
	assert.Equal(t, 2, st.Annotated)
	assert.Equal(t, 17, st.Lines)
	assert.Equal(t, map[string]int{"claude": 12, "codex": 5}, st.Agents)
	assert.Equal(t, map[string]int{"opus": 12, "gpt": 5}, st.Models)
	require.Len(t, st.Sessions, 2)
	assert.Equal(t, SessionStat{ID: "s1", Agent: "claude", Model: "opus", Lines: 12}, st.Sessions[0])

	ranged, err := e.idx.Stats(ctx, c1+"..HEAD")
	require.NoError(t, err)
	assert.Equal(t, 2, ranged.Commits)
	assert.Equal(t, 7, ranged.Lines)
}

func TestSyncIsIncremental(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s1, h1 := e.session(t, "s1", "claude", "opus")

	e.tr.Write("a.txt", "a\n")
	c1 := e.tr.Commit("one")
	e.attach(t, c1, map[string][]record.Span{"a.txt": {span(1, 3, s1)}}, map[string]string{s1: h1})

	n, err := e.idx.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = e.idx.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "unchanged tip must not re-ingest")

	e.tr.Write("b.txt", "b\n")
	c2 := e.tr.Commit("two")
	e.attach(t, c2, map[string][]record.Span{"b.txt": {span(1, 1, s1)}}, map[string]string{s1: h1})
	n, err = e.idx.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Replacing a note re-ingests only that commit.
	rs := record.RecordSet{Origin: record.OriginRepair, Files: []record.FileRecord{{Path: "a.txt", Blob: "x", Spans: []record.Span{span(1, 1, s1)}}}, Sessions: map[string]string{s1: h1}}
	require.NoError(t, e.notes.Replace(ctx, c1, rs))
	n, err = e.idx.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	recs, err := e.idx.Enumerate(ctx, "")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, record.OriginRepair, recs[1].Origin)
	assert.Equal(t, 1, recs[1].Lines)

	// Removed notes disappear.
	e.tr.Git("notes", "--ref", notes.DefaultRef, "remove", c2)
	_, err = e.idx.Sync(ctx)
	require.NoError(t, err)
	recs, err = e.idx.Enumerate(ctx, "")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, c1, recs[0].Commit)
}

func TestUndecodableNotesAreSkipped(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.tr.Write("a.txt", "a\n")
	c := e.tr.Commit("one")
	e.tr.Git("notes", "--ref", notes.DefaultRef, "add", "-m", "not json", c)

	n, err := e.idx.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	recs, err := e.idx.Enumerate(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, recs)

	st, err := e.idx.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 0, st.Annotated)
}

func TestUnknownSessionDescriptor(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.tr.Write("a.txt", "a\n")
	c := e.tr.Commit("one")
	e.attach(t, c, map[string][]record.Span{"a.txt": {span(1, 4, "ghost")}}, map[string]string{"ghost": cas.Hash([]byte("missing"))})

	_, err := e.idx.Sync(ctx)
	require.NoError(t, err)
	st, err := e.idx.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{unknown: 4}, st.Agents)
}

func TestRebuildAndReopen(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	s1, h1 := e.session(t, "s1", "claude", "opus")
	e.tr.Write("a.txt", "a\n")
	c := e.tr.Commit("one")
	e.attach(t, c, map[string][]record.Span{"a.txt": {span(1, 3, s1)}}, map[string]string{s1: h1})
	require.NoError(t, e.idx.StorePatchID(ctx, c, "pid"))

	_, err := e.idx.Sync(ctx)
	require.NoError(t, err)
	n, err := e.idx.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	id, ok := e.idx.PatchID(ctx, c)
	assert.True(t, ok, "patch ids survive rebuilds")
	assert.Equal(t, "pid", id)

	require.NoError(t, e.idx.Close())
	again, err := Open(e.dbPath, git.New(e.tr.Dir), e.notes, debug.Discard())
	require.NoError(t, err)
	defer again.Close()
	n, err = again.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "state persists across opens")
}

func TestPatchIDCache(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, ok := e.idx.PatchID(ctx, "abc")
	assert.False(t, ok)
	require.NoError(t, e.idx.StorePatchID(ctx, "abc", "one"))
	require.NoError(t, e.idx.StorePatchID(ctx, "abc", "two"))
	id, ok := e.idx.PatchID(ctx, "abc")
	assert.True(t, ok)
	assert.Equal(t, "two", id)
}
