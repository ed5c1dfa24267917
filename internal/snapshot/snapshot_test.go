package snapshot

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
	"github.com/jensroland/git-attrib/internal/ledger"
	"github.com/jensroland/git-attrib/internal/notes"
	"github.com/jensroland/git-attrib/internal/record"
)

type env struct {
	tr     *gittest.Repo
	notes  *notes.Store
	ledger *ledger.Ledger
	enc    *Encoder
}

func newEnv(t *testing.T) *env {
	t.Helper()
	tr := gittest.New(t)
	repo := git.New(tr.Dir)
	objects := cas.Open(filepath.Join(tr.GitDir(), "attrib", "objects"), true)
	store := notes.New(repo, objects, notes.Options{InlineMaxSpans: 64, WriteRetries: 3}, debug.Discard())
	led := ledger.Open(filepath.Join(tr.GitDir(), "attrib", "ledger"), tr.Dir, objects, ledger.Options{MaxAge: time.Hour})
	enc := NewEncoder(repo, store, led, nil, debug.Discard())
	t.Cleanup(func() { enc.Close() })
	return &env{tr: tr, notes: store, ledger: led, enc: enc}
}

func (e *env) session(t *testing.T) string {
	t.Helper()
	s, err := e.ledger.OpenSession("claude", "opus", "write the thing")
	require.NoError(t, err)
	return s.ID
}

func (e *env) commitAndAttach(t *testing.T, msg string, opts Options) (string, record.RecordSet) {
	t.Helper()
	c := e.tr.Commit(msg)
	opts.UseLedger = true
	res, err := e.enc.Encode(context.Background(), c, opts)
	require.NoError(t, err)
	require.NoError(t, e.notes.Attach(context.Background(), c, res.Set))
	require.NoError(t, e.ledger.Discard(res.Consumed))
	return c, res.Set
}

func TestEncodeFromLedger(t *testing.T) {
	e := newEnv(t)
	e.tr.Write("base.txt", "base\n")
	e.tr.Commit("base")

	sid := e.session(t)
	e.tr.Write("a.go", gittest.Lines("package a", "", "func A() {}", "func B() {}", "// end"))
	_, err := e.ledger.Record("a.go", 3, 4, sid)
	require.NoError(t, err)

	c := e.tr.Commit("add a")
	res, err := e.enc.Encode(context.Background(), c, Options{UseLedger: true})
	require.NoError(t, err)

	rs := res.Set
	require.Len(t, rs.Files, 1)
	assert.Equal(t, "a.go", rs.Files[0].Path)
	assert.Equal(t, git.New(e.tr.Dir).BlobAt(context.Background(), c, "a.go"), rs.Files[0].Blob)
	assert.Equal(t, []record.Span{{Start: 3, End: 4, Session: sid, Confidence: 1}}, rs.Files[0].Spans)
	assert.Contains(t, rs.Sessions, sid)
	assert.Equal(t, record.OriginCommit, rs.Origin)
	assert.Len(t, res.Consumed, 1)
	assert.False(t, rs.Partial)
}

func TestOnlyChangedLinesAreAttributed(t *testing.T) {
	e := newEnv(t)
	e.tr.Write("a.txt", gittest.Lines("1", "2", "3", "4", "5"))
	e.tr.Commit("base")

	sid := e.session(t)
	e.tr.Write("a.txt", gittest.Lines("1", "2", "three", "4", "5"))
	_, err := e.ledger.Record("a.txt", 1, 5, sid)
	require.NoError(t, err)

	_, rs := e.commitAndAttach(t, "edit", Options{})
	require.Len(t, rs.Files, 1)
	assert.Equal(t, []record.Span{{Start: 3, End: 3, Session: sid, Confidence: 1}}, rs.Files[0].Spans)
}

func TestHumanEditAfterAgentWins(t *testing.T) {
	e := newEnv(t)
	e.tr.Write("a.txt", "seed\n")
	e.tr.Commit("base")

	sid := e.session(t)
	e.tr.Write("a.txt", gittest.Lines("seed", "ai one", "ai two"))
	_, err := e.ledger.Record("a.txt", 2, 3, sid)
	require.NoError(t, err)
	e.tr.Write("a.txt", gittest.Lines("seed", "ai one", "human rewrite"))

	_, rs := e.commitAndAttach(t, "mixed", Options{})
	require.Len(t, rs.Files, 1)
	assert.Equal(t, []record.Span{{Start: 2, End: 2, Session: sid, Confidence: 1}}, rs.Files[0].Spans)
}

func TestRelocatedLinesGetLowerConfidence(t *testing.T) {
	e := newEnv(t)
	e.tr.Write("a.txt", "seed\n")
	e.tr.Commit("base")

	sid := e.session(t)
	e.tr.Write("a.txt", gittest.Lines("seed", "generated"))
	_, err := e.ledger.Record("a.txt", 2, 2, sid)
	require.NoError(t, err)
	e.tr.Write("a.txt", gittest.Lines("human header", "seed", "generated"))

	_, rs := e.commitAndAttach(t, "shifted", Options{})
	require.Len(t, rs.Files, 1)
	assert.Equal(t, []record.Span{{Start: 3, End: 3, Session: sid, Confidence: record.ConfidenceRelocated}}, rs.Files[0].Spans)
}

func TestUncommittedFilesKeepLedgerEntries(t *testing.T) {
	e := newEnv(t)
	e.tr.Write("a.txt", "seed\n")
	e.tr.Write("b.txt", "seed\n")
	e.tr.Commit("base")

	sid := e.session(t)
	e.tr.Write("a.txt", "seed\nai\n")
	e.tr.Write("b.txt", "seed\nai\n")
	_, err := e.ledger.Record("a.txt", 2, 2, sid)
	require.NoError(t, err)
	_, err = e.ledger.Record("b.txt", 2, 2, sid)
	require.NoError(t, err)

	e.tr.Git("add", "a.txt")
	e.tr.Git("commit", "-q", "-m", "only a")
	res, err := e.enc.Encode(context.Background(), e.tr.Head(), Options{UseLedger: true})
	require.NoError(t, err)
	require.NoError(t, e.ledger.Discard(res.Consumed))

	files, err := e.ledger.Files()
	require.NoError(t, err)
	assert.Equal(t, []string{"b.txt"}, files)
}

func TestDeletedAndBinaryFilesSkipped(t *testing.T) {
	e := newEnv(t)
	e.tr.Write("gone.txt", "x\n")
	e.tr.Commit("base")

	sid := e.session(t)
	e.tr.Git("rm", "-q", "gone.txt")
	e.tr.Write("bin.dat", "a\x00b\nc\n")
	_, err := e.ledger.Record("bin.dat", 1, 1, sid)
	require.NoError(t, err)

	_, rs := e.commitAndAttach(t, "delete", Options{})
	assert.Empty(t, rs.Files)
	assert.True(t, e.notes.Exists(context.Background(), e.tr.Head()), "an empty set is still attached")
}

func TestEncodeIsIdempotent(t *testing.T) {
	e := newEnv(t)
	e.tr.Write("a.txt", "seed\n")
	e.tr.Commit("base")
	sid := e.session(t)
	e.tr.Write("a.txt", gittest.Lines("seed", "x", "y"))
	_, err := e.ledger.Record("a.txt", 2, 3, sid)
	require.NoError(t, err)
	c := e.tr.Commit("c")

	ctx := context.Background()
	first, err := e.enc.Encode(ctx, c, Options{UseLedger: true})
	require.NoError(t, err)
	second, err := e.enc.Encode(ctx, c, Options{UseLedger: true})
	require.NoError(t, err)

	a, err := record.Encode(first.Set)
	require.NoError(t, err)
	b, err := record.Encode(second.Set)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestAmendCarriesPredecessor(t *testing.T) {
	e := newEnv(t)
	e.tr.Write("a.txt", "seed\n")
	e.tr.Commit("base")

	sid := e.session(t)
	e.tr.Write("a.txt", gittest.Lines("seed", "ai 1", "ai 2"))
	_, err := e.ledger.Record("a.txt", 2, 3, sid)
	require.NoError(t, err)
	orig, origSet := e.commitAndAttach(t, "orig", Options{})
	require.Len(t, origSet.Files, 1)

	e.tr.Write("a.txt", gittest.Lines("seed", "ai 1", "ai 2", "human tail"))
	e.tr.Git("commit", "-q", "-a", "--amend", "-m", "amended")
	amended := e.tr.Head()

	res, err := e.enc.Encode(context.Background(), amended, Options{Origin: record.OriginAmend, Predecessors: []string{orig}, UseLedger: true})
	require.NoError(t, err)
	rs := res.Set
	require.Len(t, rs.Files, 1)
	assert.Equal(t, []record.Span{{Start: 2, End: 3, Session: sid, Confidence: 1}}, rs.Files[0].Spans)
	assert.Equal(t, origSet.Sessions[sid], rs.Sessions[sid])
	assert.Equal(t, []string{orig}, rs.Predecessors)
}

func TestMergeCommitIntroducesNothingFromParents(t *testing.T) {
	e := newEnv(t)
	e.tr.Write("a.txt", "seed\n")
	e.tr.Commit("base")

	e.tr.Git("checkout", "-q", "-b", "topic")
	sid := e.session(t)
	e.tr.Write("a.txt", gittest.Lines("seed", "topic ai"))
	_, err := e.ledger.Record("a.txt", 2, 2, sid)
	require.NoError(t, err)
	e.commitAndAttach(t, "topic", Options{})

	e.tr.Git("checkout", "-q", "main")
	e.tr.Write("b.txt", "main change\n")
	e.tr.Commit("main")
	e.tr.Git("merge", "-q", "--no-ff", "-m", "merge topic", "topic")

	res, err := e.enc.Encode(context.Background(), e.tr.Head(), Options{Origin: record.OriginMerge, UseLedger: true})
	require.NoError(t, err)
	assert.Empty(t, res.Set.Files)
}

func TestExpiredBudgetIsPartial(t *testing.T) {
	e := newEnv(t)
	e.tr.Write("a.txt", "seed\n")
	e.tr.Commit("base")

	sid := e.session(t)
	e.tr.Write("a.txt", "seed\nai\n")
	_, err := e.ledger.Record("a.txt", 2, 2, sid)
	require.NoError(t, err)
	c := e.tr.Commit("c")

	res, err := e.enc.Encode(context.Background(), c, Options{UseLedger: true, Budget: time.Nanosecond})
	require.NoError(t, err)
	assert.True(t, res.Set.Partial)
	assert.Empty(t, res.Set.Files)
}

func TestBudgetBoundsGitAndDiffWork(t *testing.T) {
	open := newBudget(0)
	assert.False(t, open.expired())
	ctx, cancel := open.bound(context.Background())
	_, ok := ctx.Deadline()
	cancel()
	assert.False(t, ok)

	spent := newBudget(time.Nanosecond)
	time.Sleep(time.Millisecond)
	assert.True(t, spent.expired())
	ctx, cancel = spent.bound(context.Background())
	defer cancel()
	<-ctx.Done()
	assert.True(t, spent.exhausted(context.Background(), ctx.Err()))

	caller, stop := context.WithCancel(context.Background())
	stop()
	assert.False(t, spent.exhausted(caller, caller.Err()), "caller cancellation is not the budget")
	assert.False(t, spent.exhausted(context.Background(), nil))
}

func TestChangedLinesFollowGitDiff(t *testing.T) {
	e := newEnv(t)
	base := []string{"head", "\t}", "", "tail"}
	e.tr.Write("a.go", gittest.Lines(base...))
	e.tr.Commit("base")

	sid := e.session(t)
	// Typed below the existing brace; git may report the block one step up.
	e.tr.Write("a.go", gittest.Lines("head", "\t}", "", "\t}", "", "tail"))
	_, err := e.ledger.Record("a.go", 4, 5, sid)
	require.NoError(t, err)
	c, rs := e.commitAndAttach(t, "agent", Options{})

	ctx := context.Background()
	repo := git.New(e.tr.Dir)
	hunks, err := repo.DiffBlobs(ctx, repo.BlobAt(ctx, c+"^", "a.go"), repo.BlobAt(ctx, c, "a.go"))
	require.NoError(t, err)
	require.Len(t, hunks, 1)
	h := hunks[0]

	require.Len(t, rs.Files, 1)
	require.Len(t, rs.Files[0].Spans, 1)
	span := rs.Files[0].Spans[0]
	assert.Equal(t, h.NewStart, span.Start)
	assert.Equal(t, h.NewStart+h.NewLines-1, span.End)
	assert.Equal(t, sid, span.Session)
}
