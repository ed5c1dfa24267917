// Package snapshot encodes the attribution of one commit: which of the
// lines the commit introduced were written by which agent session.
//
// Claims come from two sources. Predecessors are commits this one was
// derived from (amend, squash, reset, cherry-pick, rebase); a changed line
// that maps onto a line a predecessor itself introduced inherits that
// predecessor's claim, AI or human. The working-tree ledger then adds the
// AI edits recorded since the last commit.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jensroland/git-attrib/internal/debug"
	"github.com/jensroland/git-attrib/internal/errs"
	"github.com/jensroland/git-attrib/internal/git"
	"github.com/jensroland/git-attrib/internal/ledger"
	"github.com/jensroland/git-attrib/internal/linemap"
	"github.com/jensroland/git-attrib/internal/notes"
	"github.com/jensroland/git-attrib/internal/record"
)

// Options selects the claim sources for one commit.
type Options struct {
	Origin       record.Origin
	Predecessors []string
	// UseLedger consumes working-tree ledger entries for the committed
	// files. Propagation leaves it off.
	UseLedger bool
	// Budget bounds the time spent on this commit. Zero means unbounded.
	Budget time.Duration
}

// Result is an encoded commit.
type Result struct {
	Set record.RecordSet
	// Consumed are the ledger entries the set was built from. The caller
	// discards them once the note is attached.
	Consumed []ledger.Entry
}

// Encoder computes record sets. It is safe for concurrent use.
type Encoder struct {
	repo   *git.Repo
	notes  *notes.Store
	ledger *ledger.Ledger
	differ *linemap.Differ
	log    *logrus.Entry

	catOnce sync.Once
	cat     *git.Catter
	catErr  error

	mu      sync.Mutex
	sets    map[string]*predecessor
	changes map[string][]git.FileChange
}

// NewEncoder returns an Encoder. led may be nil when no ledger is in play.
func NewEncoder(repo *git.Repo, store *notes.Store, led *ledger.Ledger, differ *linemap.Differ, log logrus.FieldLogger) *Encoder {
	if differ == nil {
		differ = linemap.NewDiffer(0)
	}
	return &Encoder{
		repo:    repo,
		notes:   store,
		ledger:  led,
		differ:  differ,
		log:     debug.Component(log, "snapshot"),
		sets:    make(map[string]*predecessor),
		changes: make(map[string][]git.FileChange),
	}
}

// Close releases the batch object reader.
func (e *Encoder) Close() error {
	if e.cat != nil {
		return e.cat.Close()
	}
	return nil
}

func (e *Encoder) blob(oid string) ([]byte, error) {
	e.catOnce.Do(func() {
		e.cat, e.catErr = e.repo.Catter(context.Background())
	})
	if e.catErr != nil {
		return nil, e.catErr
	}
	return e.cat.Blob(oid)
}

// Encode computes the record set for commit. When the budget runs out part
// way the set is returned with Partial set and the remaining files
// unattributed.
func (e *Encoder) Encode(ctx context.Context, commit string, opts Options) (Result, error) {
	b := newBudget(opts.Budget)
	origin := opts.Origin
	if origin == "" {
		origin = record.OriginCommit
	}
	rs := record.RecordSet{
		Version:      record.Version,
		Origin:       origin,
		Predecessors: opts.Predecessors,
		Sessions:     map[string]string{},
	}

	parents, err := e.repo.Parents(ctx, commit)
	if err != nil {
		return Result{}, fmt.Errorf("parents of %s: %w", commit, err)
	}
	changes, err := e.changedFiles(ctx, commit, parents)
	if err != nil {
		return Result{}, err
	}

	var preds []*predecessor
	for _, p := range opts.Predecessors {
		if p == commit {
			continue
		}
		pred, err := e.predecessor(ctx, p)
		if err != nil {
			e.log.WithError(err).WithField("predecessor", p).Debug("predecessor unusable")
			continue
		}
		preds = append(preds, pred)
	}

	var entries map[string][]ledger.Entry
	if opts.UseLedger && e.ledger != nil {
		entries, err = e.ledgerEntries(changes)
		if err != nil {
			e.log.WithError(err).Warn("ledger unavailable, committing without it")
		}
	}

	var consumed []ledger.Entry
	for _, ch := range changes {
		if b.expired() {
			rs.Partial = true
			break
		}
		fr, sessions, err := e.encodeFile(ctx, parents, ch, preds, entries, b)
		if errors.Is(err, errBudget) {
			rs.Partial = true
			break
		}
		consumed = append(consumed, entries[ch.NewPath]...)
		if ch.OldPath != "" && ch.OldPath != ch.NewPath {
			consumed = append(consumed, entries[ch.OldPath]...)
		}
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			e.log.WithError(err).WithField("file", ch.Path()).Warn("file left unattributed")
			continue
		}
		if fr == nil {
			continue
		}
		rs.Files = append(rs.Files, *fr)
		for id, hash := range sessions {
			if hash != "" {
				rs.Sessions[id] = hash
			} else if _, ok := rs.Sessions[id]; !ok {
				rs.Sessions[id] = ""
			}
		}
	}
	if rs.Partial {
		e.log.WithError(errs.BudgetExceeded("snapshot.Encode", fmt.Errorf("%s after %s", commit, opts.Budget))).
			WithField("commit", commit).Warn("attribution is partial")
	}

	e.resolveSessions(rs.Sessions)
	rs.Canonicalize()
	return Result{Set: rs, Consumed: consumed}, nil
}

// changedFiles lists the regular, surviving files commit changed against
// its first parent.
func (e *Encoder) changedFiles(ctx context.Context, commit string, parents []string) ([]git.FileChange, error) {
	e.mu.Lock()
	cached, ok := e.changes[commit]
	e.mu.Unlock()
	if ok {
		return cached, nil
	}

	first := ""
	if len(parents) > 0 {
		first = parents[0]
	}
	all, err := e.repo.ChangedFiles(ctx, first, commit)
	if err != nil {
		return nil, fmt.Errorf("diff %s: %w", commit, err)
	}
	var out []git.FileChange
	for _, c := range all {
		if c.NewBlob == "" || !c.Regular() {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NewPath < out[j].NewPath })

	e.mu.Lock()
	e.changes[commit] = out
	e.mu.Unlock()
	return out, nil
}

// changedMask marks the n lines of ch's new blob that commit introduced:
// lines git's diff against the first parent's version reports as added,
// and for merges added against every parent's version. It uses git's diff
// rather than linemap so the lines agree with what git blame assigns to
// the commit.
func (e *Encoder) changedMask(ctx context.Context, parents []string, ch git.FileChange, n int) ([]bool, error) {
	mask := make([]bool, n)
	for i := range mask {
		mask[i] = true
	}
	apply := func(oldBlob string) error {
		if oldBlob == "" {
			return nil
		}
		hunks, err := e.repo.DiffBlobs(ctx, oldBlob, ch.NewBlob)
		if err != nil {
			return err
		}
		added := make([]bool, n)
		for _, h := range hunks {
			for l := h.NewStart; l < h.NewStart+h.NewLines; l++ {
				if l >= 1 && l <= n {
					added[l-1] = true
				}
			}
		}
		for i := range mask {
			mask[i] = mask[i] && added[i]
		}
		return nil
	}

	if err := apply(ch.OldBlob); err != nil {
		return nil, err
	}
	for _, p := range parentsAfterFirst(parents) {
		blob := e.repo.BlobAt(ctx, p, ch.NewPath)
		if blob == "" && ch.OldPath != "" {
			blob = e.repo.BlobAt(ctx, p, ch.OldPath)
		}
		if err := apply(blob); err != nil {
			return nil, err
		}
	}
	return mask, nil
}

func parentsAfterFirst(parents []string) []string {
	if len(parents) < 2 {
		return nil
	}
	return parents[1:]
}

var errBudget = errors.New("budget exhausted")

// budget is the time left for one commit.
type budget struct {
	deadline time.Time // zero: unbounded
}

func newBudget(d time.Duration) budget {
	if d <= 0 {
		return budget{}
	}
	return budget{deadline: time.Now().Add(d)}
}

func (b budget) expired() bool {
	return !b.deadline.IsZero() && time.Now().After(b.deadline)
}

// bound limits ctx to the budget.
func (b budget) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.deadline.IsZero() {
		return context.WithCancel(ctx)
	}
	return context.WithDeadline(ctx, b.deadline)
}

// exhausted reports whether err came from the budget running out rather
// than from the caller's context.
func (b budget) exhausted(ctx context.Context, err error) bool {
	return err != nil && ctx.Err() == nil && b.expired()
}

func (e *Encoder) encodeFile(ctx context.Context, parents []string, ch git.FileChange, preds []*predecessor, entries map[string][]ledger.Entry, b budget) (*record.FileRecord, map[string]string, error) {
	data, err := e.blob(ch.NewBlob)
	if err != nil {
		return nil, nil, err
	}
	if git.IsBinary(data) {
		return nil, nil, nil
	}
	lines := linemap.Split(string(data))
	if len(lines) == 0 {
		return nil, nil, nil
	}

	bctx, cancel := b.bound(ctx)
	defer cancel()
	changed, err := e.changedMask(bctx, parents, ch, len(lines))
	if b.exhausted(ctx, err) {
		return nil, nil, errBudget
	}
	if err != nil {
		return nil, nil, err
	}

	claims := make([]record.Claim, len(lines))
	sessions := make(map[string]string)
	for _, p := range preds {
		if b.expired() {
			return nil, nil, errBudget
		}
		owned, pclaims, err := e.inherit(bctx, p, ch, lines, b)
		if b.exhausted(ctx, err) {
			return nil, nil, errBudget
		}
		if err != nil {
			e.log.WithError(err).WithFields(logrus.Fields{"predecessor": p.commit, "file": ch.NewPath}).Debug("cannot map predecessor")
			continue
		}
		for i := range lines {
			if changed[i] && owned[i] {
				claims[i] = pclaims[i]
				if c := pclaims[i]; c.IsAI() {
					sessions[c.Session] = p.set.Sessions[c.Session]
				}
			}
		}
	}

	fileEntries := entries[ch.NewPath]
	if ch.OldPath != "" && ch.OldPath != ch.NewPath {
		fileEntries = append(append([]ledger.Entry(nil), entries[ch.OldPath]...), fileEntries...)
	}
	if len(fileEntries) > 0 {
		for i, c := range ledger.Resolve(fileEntries, lines) {
			if changed[i] && c.IsAI() {
				claims[i] = c
				if _, ok := sessions[c.Session]; !ok {
					sessions[c.Session] = ""
				}
			}
		}
	}

	realign(lines, changed, claims)
	for i := range claims {
		if !changed[i] {
			claims[i] = record.Claim{}
		}
	}
	spans := record.SpansFromClaims(claims)
	if len(spans) == 0 {
		return nil, nil, nil
	}
	used := make(map[string]string)
	for _, id := range record.SessionIDs(spans) {
		used[id] = sessions[id]
	}
	return &record.FileRecord{Path: ch.NewPath, Blob: ch.NewBlob, Spans: spans}, used, nil
}

func (e *Encoder) ledgerEntries(changes []git.FileChange) (map[string][]ledger.Entry, error) {
	var files []string
	for _, ch := range changes {
		files = append(files, ch.NewPath)
		if ch.OldPath != "" && ch.OldPath != ch.NewPath {
			files = append(files, ch.OldPath)
		}
	}
	if len(files) == 0 {
		return nil, nil
	}
	list, err := e.ledger.Entries(files...)
	if err != nil {
		return nil, err
	}
	byFile := make(map[string][]ledger.Entry)
	for _, en := range list {
		byFile[en.File] = append(byFile[en.File], en)
	}
	return byFile, nil
}

// resolveSessions fills in descriptor hashes for sessions first seen in the
// ledger. Sessions that were never registered are dropped from the map; their
// spans still carry the id.
func (e *Encoder) resolveSessions(sessions map[string]string) {
	for id, hash := range sessions {
		if hash != "" {
			continue
		}
		if e.ledger != nil {
			h, err := e.ledger.Descriptor(id)
			if err == nil {
				sessions[id] = h
				continue
			}
			if !errors.Is(err, errs.ErrNotFound) {
				e.log.WithError(err).WithField("session", id).Warn("storing session descriptor")
			}
		}
		delete(sessions, id)
	}
}
