// Package propagate carries attribution across history rewrites. For every
// commit a rewrite produced it re-derives the record set from the commits
// it replaced, without ever modifying their notes.
package propagate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jensroland/git-attrib/internal/debug"
	"github.com/jensroland/git-attrib/internal/errs"
	"github.com/jensroland/git-attrib/internal/git"
	"github.com/jensroland/git-attrib/internal/linemap"
	"github.com/jensroland/git-attrib/internal/notes"
	"github.com/jensroland/git-attrib/internal/record"
	"github.com/jensroland/git-attrib/internal/snapshot"
)

// PatchIDCache remembers patch ids across runs.
type PatchIDCache interface {
	PatchID(ctx context.Context, commit string) (string, bool)
	StorePatchID(ctx context.Context, commit, patchID string) error
}

// Options tunes the engine.
type Options struct {
	Budget        time.Duration // per new commit
	Workers       int
	MaxCandidates int
	DiffTimeout   time.Duration
}

// Result counts what a propagation did.
type Result struct {
	Attached  int // new notes written
	Unchanged int // an identical note was already present
	Replaced  int // a stale note was recomputed and overwritten
	Partial   int // notes written with Partial set
	Skipped   int // commits with nothing to derive from
	Failed    int
}

func (r *Result) add(o Result) {
	r.Attached += o.Attached
	r.Unchanged += o.Unchanged
	r.Replaced += o.Replaced
	r.Partial += o.Partial
	r.Skipped += o.Skipped
	r.Failed += o.Failed
}

// Engine runs propagations.
type Engine struct {
	repo    *git.Repo
	notes   *notes.Store
	patches PatchIDCache
	opts    Options
	logger  logrus.FieldLogger
	log     *logrus.Entry
}

// New returns an Engine. patches may be nil.
func New(repo *git.Repo, store *notes.Store, patches PatchIDCache, opts Options, log logrus.FieldLogger) *Engine {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxCandidates < 1 {
		opts.MaxCandidates = 200
	}
	return &Engine{
		repo:    repo,
		notes:   store,
		patches: patches,
		opts:    opts,
		logger:  log,
		log:     debug.Component(log, "propagate"),
	}
}

func (e *Engine) encoder() *snapshot.Encoder {
	return snapshot.NewEncoder(e.repo, e.notes, nil, linemap.NewDiffer(e.opts.DiffTimeout), e.logger)
}

// Propagate derives and attaches notes for every new commit of rw. Record
// sets are computed concurrently and attached in order. A failure on one
// commit never stops the others.
func (e *Engine) Propagate(ctx context.Context, rw Rewrite) (Result, error) {
	var res Result
	if len(rw.Mappings) == 0 {
		return res, nil
	}

	enc := e.encoder()
	defer enc.Close()

	sets := make([]*record.RecordSet, len(rw.Mappings))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i, m := range rw.Mappings {
		i, m := i, m
		g.Go(func() error {
			r, err := enc.Encode(gctx, m.New, snapshot.Options{
				Origin:       OriginFor(rw.Op, m),
				Predecessors: m.Old,
				Budget:       e.opts.Budget,
			})
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				e.log.WithError(err).WithField("commit", m.New).Warn("cannot derive attribution")
				return nil
			}
			sets[i] = &r.Set
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	for i, m := range rw.Mappings {
		if sets[i] == nil {
			res.Failed++
			continue
		}
		res.add(e.attach(ctx, m, rw.Op, *sets[i]))
	}
	e.log.WithFields(logrus.Fields{
		"op": rw.Op, "commits": len(rw.Mappings), "attached": res.Attached,
		"replaced": res.Replaced, "partial": res.Partial, "failed": res.Failed,
	}).Info("propagated attribution")
	return res, nil
}

// attach writes one derived note. On a conflict the set is recomputed from
// the current notes; an identical note is success, a different one is
// replaced.
func (e *Engine) attach(ctx context.Context, m Mapping, op record.Origin, rs record.RecordSet) Result {
	var res Result
	if rs.Partial {
		res.Partial++
	}
	if e.notes.Exists(ctx, m.New) {
		err := e.notes.Attach(ctx, m.New, rs)
		if err == nil {
			res.Unchanged++
			return res
		}
		if !errors.Is(err, errs.ErrConflict) {
			e.log.WithError(err).WithField("commit", m.New).Warn("attach failed")
			res.Failed++
			return res
		}

		enc := e.encoder()
		fresh, rerr := enc.Encode(ctx, m.New, snapshot.Options{Origin: OriginFor(op, m), Predecessors: m.Old, Budget: e.opts.Budget})
		enc.Close()
		if rerr != nil {
			e.log.WithError(rerr).WithField("commit", m.New).Warn("recompute failed")
			res.Failed++
			return res
		}
		if err := e.notes.Attach(ctx, m.New, fresh.Set); err == nil {
			res.Unchanged++
			return res
		}
		if err := e.notes.Replace(ctx, m.New, fresh.Set); err != nil {
			e.log.WithError(err).WithField("commit", m.New).Warn("replace failed")
			res.Failed++
			return res
		}
		e.log.WithField("commit", m.New).Info("replaced stale note")
		res.Replaced++
		return res
	}

	if err := e.notes.Attach(ctx, m.New, rs); err != nil {
		e.log.WithError(err).WithField("commit", m.New).Warn("attach failed")
		res.Failed++
		return res
	}
	res.Attached++
	return res
}

// Repair derives notes for commits in revRange that have none, using
// predecessor discovery. Commits with no discoverable predecessor are left
// unattributed.
func (e *Engine) Repair(ctx context.Context, revRange string) (Result, error) {
	var res Result
	commits, err := e.repo.RevList(ctx, "--reverse", revRange)
	if err != nil {
		return res, fmt.Errorf("listing %s: %w", revRange, err)
	}
	var rw Rewrite
	rw.Op = record.OriginRepair
	for _, c := range commits {
		if e.notes.Exists(ctx, c) {
			continue
		}
		preds, err := e.Discover(ctx, c)
		if err != nil {
			e.log.WithError(err).WithField("commit", c).Debug("discovery failed")
		}
		if len(preds) == 0 {
			res.Skipped++
			continue
		}
		rw.Mappings = append(rw.Mappings, Mapping{New: c, Old: preds})
	}
	// Discovered predecessors are alternatives, not a squash.
	for i := range rw.Mappings {
		if len(rw.Mappings[i].Old) > 1 {
			rw.Mappings[i].Old = rw.Mappings[i].Old[:1]
		}
	}
	pr, err := e.Propagate(ctx, rw)
	res.add(pr)
	return res, err
}
