// Package index keeps a sqlite digest of the attribution notes for queries
// that span many commits (log, stats) and caches patch-ids for propagation.
// The notes ref is the source of truth; the database can be deleted at any
// time and is rebuilt from it.
package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/jensroland/git-attrib/internal/debug"
	"github.com/jensroland/git-attrib/internal/git"
	"github.com/jensroland/git-attrib/internal/notes"
	"github.com/jensroland/git-attrib/internal/record"
)

// schemaVersion is bumped whenever the tables below change shape; a
// mismatch drops and rebuilds the database.
const schemaVersion = "2"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS notes (
		commit_sha TEXT PRIMARY KEY,
		blob TEXT NOT NULL,
		origin TEXT,
		partial INTEGER NOT NULL DEFAULT 0,
		predecessors TEXT,
		corrupt INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS spans (
		commit_sha TEXT NOT NULL,
		path TEXT NOT NULL,
		file_blob TEXT NOT NULL,
		start_line INTEGER NOT NULL,
		end_line INTEGER NOT NULL,
		session TEXT NOT NULL,
		confidence REAL NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		descriptor TEXT,
		agent TEXT,
		model TEXT,
		prompt_ref TEXT,
		started_at TEXT,
		ended_at TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS patch_ids (
		commit_sha TEXT PRIMARY KEY,
		patch_id TEXT NOT NULL
	)`,
	"CREATE INDEX IF NOT EXISTS idx_spans_commit ON spans(commit_sha)",
	"CREATE INDEX IF NOT EXISTS idx_spans_session ON spans(session)",
	"CREATE INDEX IF NOT EXISTS idx_patch_ids_id ON patch_ids(patch_id)",
}

// Index is an open attribution database.
type Index struct {
	db    *sql.DB
	repo  *git.Repo
	notes *notes.Store
	log   logrus.FieldLogger
}

// Open opens (creating if needed) the database at path.
func Open(path string, repo *git.Repo, store *notes.Store, log logrus.FieldLogger) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}
	x := &Index{db: db, repo: repo, notes: store, log: debug.Component(log, "index")}
	if err := x.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return x, nil
}

// Close closes the database.
func (x *Index) Close() error { return x.db.Close() }

func (x *Index) migrate() error {
	ctx := context.Background()
	if _, err := x.db.Exec(schema[0]); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	v, err := x.meta(ctx, "schema_version")
	if err != nil {
		return err
	}
	if v == schemaVersion {
		return nil
	}
	if v != "" {
		x.log.WithField("from", v).Info("schema changed, rebuilding index")
		for _, table := range []string{"notes", "spans", "sessions", "patch_ids"} {
			if _, err := x.db.Exec("DROP TABLE IF EXISTS " + table); err != nil {
				return fmt.Errorf("drop %s: %w", table, err)
			}
		}
	}
	for _, stmt := range schema[1:] {
		if _, err := x.db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return x.reset(ctx)
}

// reset drops every derived row; patch-ids survive because they depend only
// on commit content.
func (x *Index) reset(ctx context.Context) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, stmt := range []string{
		"DELETE FROM notes",
		"DELETE FROM spans",
		"DELETE FROM sessions",
		"DELETE FROM meta",
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("reset index: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO meta(key, value) VALUES('schema_version', ?)", schemaVersion); err != nil {
		return err
	}
	return tx.Commit()
}

// Rebuild discards everything derived from notes and ingests them again.
func (x *Index) Rebuild(ctx context.Context) (int, error) {
	if err := x.reset(ctx); err != nil {
		return 0, err
	}
	return x.Sync(ctx)
}

func (x *Index) meta(ctx context.Context, key string) (string, error) {
	var v string
	err := x.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return v, err
}

// Sync brings the database up to date with the notes ref. It returns the
// number of notes (re)ingested; when the ref tip has not moved it does no
// work at all. Notes that cannot be decoded are remembered and skipped.
func (x *Index) Sync(ctx context.Context) (int, error) {
	tip := x.notes.Tip(ctx)
	seen, err := x.meta(ctx, "notes_tip")
	if err != nil {
		return 0, err
	}
	if tip == seen {
		return 0, nil
	}

	current, err := x.notes.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list notes: %w", err)
	}
	indexed, err := x.indexedBlobs(ctx)
	if err != nil {
		return 0, err
	}

	var cat *git.Catter
	if len(current) > 0 {
		if cat, err = x.repo.Catter(ctx); err != nil {
			return 0, err
		}
		defer cat.Close()
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	for commit := range indexed {
		if _, ok := current[commit]; !ok {
			if err := deleteCommit(ctx, tx, commit); err != nil {
				return 0, err
			}
		}
	}

	count := 0
	for commit, blob := range current {
		if indexed[commit] == blob {
			continue
		}
		if err := deleteCommit(ctx, tx, commit); err != nil {
			return 0, err
		}
		if err := x.ingest(ctx, tx, cat, commit, blob); err != nil {
			return 0, err
		}
		count++
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO meta(key, value) VALUES('notes_tip', ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value", tip); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	x.log.WithFields(logrus.Fields{"tip": tip, "ingested": count}).Debug("index synced")
	return count, nil
}

func (x *Index) indexedBlobs(ctx context.Context) (map[string]string, error) {
	rows, err := x.db.QueryContext(ctx, "SELECT commit_sha, blob FROM notes")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var commit, blob string
		if err := rows.Scan(&commit, &blob); err != nil {
			return nil, err
		}
		out[commit] = blob
	}
	return out, rows.Err()
}

func deleteCommit(ctx context.Context, tx *sql.Tx, commit string) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM notes WHERE commit_sha = ?", commit); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, "DELETE FROM spans WHERE commit_sha = ?", commit)
	return err
}

func (x *Index) ingest(ctx context.Context, tx *sql.Tx, cat *git.Catter, commit, blob string) error {
	body, err := cat.Blob(blob)
	var rs record.RecordSet
	if err == nil {
		rs, _, err = x.notes.Decode(body)
	}
	if err != nil {
		x.log.WithError(err).WithField("commit", commit).Warn("skipping undecodable note")
		_, err := tx.ExecContext(ctx, "INSERT INTO notes(commit_sha, blob, corrupt) VALUES(?, ?, 1)", commit, blob)
		return err
	}

	preds, _ := json.Marshal(rs.Predecessors)
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO notes(commit_sha, blob, origin, partial, predecessors) VALUES(?, ?, ?, ?, ?)",
		commit, blob, string(rs.Origin), rs.Partial, string(preds)); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO spans (commit_sha, path, file_blob, start_line, end_line, session, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, f := range rs.Files {
		for _, sp := range f.Spans {
			if _, err := stmt.ExecContext(ctx, commit, f.Path, f.Blob, sp.Start, sp.End, sp.Session, sp.Confidence); err != nil {
				return err
			}
		}
	}

	for id, hash := range rs.Sessions {
		if err := x.ingestSession(ctx, tx, id, hash); err != nil {
			return err
		}
	}
	return nil
}

// ingestSession stores a session descriptor once; descriptors are immutable
// after the session closes, so the first copy seen is kept.
func (x *Index) ingestSession(ctx context.Context, tx *sql.Tx, id, hash string) error {
	var s record.Session
	if data, err := x.notes.Objects().Get(hash); err == nil {
		if decoded, err := record.DecodeSession(data); err == nil {
			s = decoded
		}
	}
	var started, ended sql.NullString
	if !s.StartedAt.IsZero() {
		started = sql.NullString{String: s.StartedAt.UTC().Format(timeLayout), Valid: true}
	}
	if s.EndedAt != nil {
		ended = sql.NullString{String: s.EndedAt.UTC().Format(timeLayout), Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, descriptor, agent, model, prompt_ref, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			descriptor = excluded.descriptor, agent = excluded.agent, model = excluded.model,
			prompt_ref = excluded.prompt_ref, started_at = excluded.started_at, ended_at = excluded.ended_at
		WHERE sessions.agent IS NULL OR sessions.agent = ''
	`, id, hash, s.Agent, s.Model, s.PromptRef, started, ended)
	return err
}

// PatchID returns the cached patch-id of commit.
func (x *Index) PatchID(ctx context.Context, commit string) (string, bool) {
	var id string
	err := x.db.QueryRowContext(ctx, "SELECT patch_id FROM patch_ids WHERE commit_sha = ?", commit).Scan(&id)
	if err != nil {
		return "", false
	}
	return id, true
}

// StorePatchID caches the patch-id of commit.
func (x *Index) StorePatchID(ctx context.Context, commit, id string) error {
	_, err := x.db.ExecContext(ctx,
		"INSERT INTO patch_ids(commit_sha, patch_id) VALUES(?, ?) ON CONFLICT(commit_sha) DO UPDATE SET patch_id = excluded.patch_id",
		commit, id)
	return err
}
