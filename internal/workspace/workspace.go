// Package workspace wires the attribution components for one repository
// from its paths and configuration. Hooks and commands both start here.
package workspace

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jensroland/git-attrib/internal/cas"
	"github.com/jensroland/git-attrib/internal/config"
	"github.com/jensroland/git-attrib/internal/debug"
	"github.com/jensroland/git-attrib/internal/git"
	"github.com/jensroland/git-attrib/internal/index"
	"github.com/jensroland/git-attrib/internal/ledger"
	"github.com/jensroland/git-attrib/internal/linemap"
	"github.com/jensroland/git-attrib/internal/notes"
	"github.com/jensroland/git-attrib/internal/project"
	"github.com/jensroland/git-attrib/internal/propagate"
	"github.com/jensroland/git-attrib/internal/snapshot"
)

// Workspace holds the components of one attribution-enabled repository.
type Workspace struct {
	Paths   project.Paths
	Config  config.Config
	Log     *logrus.Logger
	Repo    *git.Repo
	Objects *cas.Store
	Ledger  *ledger.Ledger
	Notes   *notes.Store

	idx *index.Index
}

// Open wires the components for the repository at root. A broken config
// file is logged and the defaults are used.
func Open(root string) *Workspace {
	paths := project.NewPaths(root)
	cfg, cfgErr := config.Load(paths.CacheDir)
	log := debug.New(paths.LogDir, debug.DefaultLogName, cfg.Log.Level)
	if cfgErr != nil {
		log.WithError(cfgErr).Warn("using default configuration")
	}
	return New(paths, cfg, log)
}

// New wires the components from explicit paths and configuration.
func New(paths project.Paths, cfg config.Config, log *logrus.Logger) *Workspace {
	repo := git.New(paths.Root)
	objects := cas.Open(paths.ObjectsDir, cfg.CAS.Compress)
	return &Workspace{
		Paths:   paths,
		Config:  cfg,
		Log:     log,
		Repo:    repo,
		Objects: objects,
		Ledger: ledger.Open(paths.LedgerDir, paths.Root, objects, ledger.Options{
			MaxAge:      cfg.Ledger.MaxAge,
			LockTimeout: cfg.Ledger.LockTimeout,
		}),
		Notes: notes.New(repo, objects, notes.Options{
			Ref:            cfg.Notes.Ref,
			InlineMaxSpans: cfg.Notes.InlineMaxSpans,
			WriteRetries:   cfg.Notes.WriteRetries,
		}, log),
	}
}

// Encoder returns a snapshot encoder backed by the ledger. Callers Close it.
func (w *Workspace) Encoder() *snapshot.Encoder {
	return snapshot.NewEncoder(w.Repo, w.Notes, w.Ledger, linemap.NewDiffer(w.Config.Diff.Timeout), w.Log)
}

// Index opens the sqlite index on first use.
func (w *Workspace) Index() (*index.Index, error) {
	if w.idx != nil {
		return w.idx, nil
	}
	idx, err := index.Open(w.Paths.IndexDB, w.Repo, w.Notes, w.Log)
	if err != nil {
		return nil, fmt.Errorf("open index %s: %w", w.Paths.IndexDB, err)
	}
	w.idx = idx
	return idx, nil
}

// SyncedIndex opens the index and brings it up to date with the notes ref.
func (w *Workspace) SyncedIndex(ctx context.Context) (*index.Index, error) {
	idx, err := w.Index()
	if err != nil {
		return nil, err
	}
	if _, err := idx.Sync(ctx); err != nil {
		return nil, fmt.Errorf("sync index: %w", err)
	}
	return idx, nil
}

// Propagator returns the rewrite engine. The patch-id cache is used when
// the index can be opened.
func (w *Workspace) Propagator() *propagate.Engine {
	var patches propagate.PatchIDCache
	if idx, err := w.Index(); err == nil {
		patches = idx
	} else {
		w.Log.WithError(err).Warn("propagating without patch-id cache")
	}
	return propagate.New(w.Repo, w.Notes, patches, propagate.Options{
		Budget:        w.Config.Propagation.Budget,
		Workers:       w.Config.Propagation.Workers,
		MaxCandidates: w.Config.Similarity.MaxCandidates,
		DiffTimeout:   w.Config.Diff.Timeout,
	}, w.Log)
}

// Close releases the index if it was opened.
func (w *Workspace) Close() error {
	if w.idx == nil {
		return nil
	}
	err := w.idx.Close()
	w.idx = nil
	return err
}
