package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"time"

	"github.com/jensroland/git-attrib/internal/record"
)

const timeLayout = time.RFC3339Nano

// unknown labels sessions whose descriptor could not be loaded.
const unknown = "unknown"

// CommitRecord summarizes the attribution note of one commit.
type CommitRecord struct {
	Commit       string           `json:"commit"`
	Origin       record.Origin    `json:"origin,omitempty"`
	Partial      bool             `json:"partial,omitempty"`
	Predecessors []string         `json:"predecessors,omitempty"`
	Files        []FileSummary    `json:"files"`
	Lines        int              `json:"lines"`
	Sessions     []record.Session `json:"sessions"`
}

// FileSummary counts the attributed lines of one path in a commit.
type FileSummary struct {
	Path  string `json:"path"`
	Lines int    `json:"lines"`
}

// SessionStat is the number of lines one session introduced in a range.
type SessionStat struct {
	ID    string `json:"id"`
	Agent string `json:"agent"`
	Model string `json:"model"`
	Lines int    `json:"lines"`
}

// Stats aggregates attributed lines over a range of commits.
type Stats struct {
	Commits   int            `json:"commits"`
	Annotated int            `json:"annotated"`
	Lines     int            `json:"lines"`
	Agents    map[string]int `json:"agents"`
	Models    map[string]int `json:"models"`
	Sessions  []SessionStat  `json:"sessions"`
}

type noteRow struct {
	origin       string
	partial      bool
	predecessors string
	corrupt      bool
}

// rangeCommits lists commits in revRange (HEAD when empty), newest first.
func (x *Index) rangeCommits(ctx context.Context, revRange string) ([]string, error) {
	if revRange == "" {
		revRange = "HEAD"
	}
	return x.repo.RevList(ctx, revRange)
}

func (x *Index) noteRows(ctx context.Context) (map[string]noteRow, error) {
	rows, err := x.db.QueryContext(ctx, "SELECT commit_sha, COALESCE(origin, ''), partial, COALESCE(predecessors, ''), corrupt FROM notes")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]noteRow)
	for rows.Next() {
		var commit string
		var r noteRow
		if err := rows.Scan(&commit, &r.origin, &r.partial, &r.predecessors, &r.corrupt); err != nil {
			return nil, err
		}
		out[commit] = r
	}
	return out, rows.Err()
}

// Enumerate returns the annotated commits reachable in revRange, newest
// first. Callers should Sync first.
func (x *Index) Enumerate(ctx context.Context, revRange string) ([]CommitRecord, error) {
	commits, err := x.rangeCommits(ctx, revRange)
	if err != nil {
		return nil, err
	}
	noted, err := x.noteRows(ctx)
	if err != nil {
		return nil, err
	}

	var out []CommitRecord
	for _, c := range commits {
		row, ok := noted[c]
		if !ok || row.corrupt {
			continue
		}
		rec := CommitRecord{Commit: c, Origin: record.Origin(row.origin), Partial: row.partial}
		if row.predecessors != "" {
			_ = json.Unmarshal([]byte(row.predecessors), &rec.Predecessors)
		}
		if err := x.fillCommit(ctx, &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (x *Index) fillCommit(ctx context.Context, rec *CommitRecord) error {
	rows, err := x.db.QueryContext(ctx, `
		SELECT path, SUM(end_line - start_line + 1)
		FROM spans WHERE commit_sha = ?
		GROUP BY path ORDER BY path
	`, rec.Commit)
	if err != nil {
		return err
	}
	for rows.Next() {
		var f FileSummary
		if err := rows.Scan(&f.Path, &f.Lines); err != nil {
			rows.Close()
			return err
		}
		rec.Files = append(rec.Files, f)
		rec.Lines += f.Lines
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = x.db.QueryContext(ctx, `
		SELECT DISTINCT s.session, COALESCE(se.agent, ''), COALESCE(se.model, ''),
			COALESCE(se.prompt_ref, ''), se.started_at, se.ended_at
		FROM spans s LEFT JOIN sessions se ON se.id = s.session
		WHERE s.commit_sha = ?
		ORDER BY s.session
	`, rec.Commit)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var s record.Session
		var started, ended sql.NullString
		if err := rows.Scan(&s.ID, &s.Agent, &s.Model, &s.PromptRef, &started, &ended); err != nil {
			return err
		}
		if started.Valid {
			s.StartedAt, _ = time.Parse(timeLayout, started.String)
		}
		if ended.Valid {
			if t, err := time.Parse(timeLayout, ended.String); err == nil {
				s.EndedAt = &t
			}
		}
		rec.Sessions = append(rec.Sessions, s)
	}
	return rows.Err()
}

// Stats aggregates attributed lines per agent, model and session over the
// commits in revRange. Callers should Sync first.
func (x *Index) Stats(ctx context.Context, revRange string) (Stats, error) {
	st := Stats{Agents: map[string]int{}, Models: map[string]int{}}
	commits, err := x.rangeCommits(ctx, revRange)
	if err != nil {
		return st, err
	}
	noted, err := x.noteRows(ctx)
	if err != nil {
		return st, err
	}

	stmt, err := x.db.PrepareContext(ctx, `
		SELECT s.session, COALESCE(se.agent, ''), COALESCE(se.model, ''),
			SUM(s.end_line - s.start_line + 1)
		FROM spans s LEFT JOIN sessions se ON se.id = s.session
		WHERE s.commit_sha = ?
		GROUP BY s.session
	`)
	if err != nil {
		return st, err
	}
	defer stmt.Close()

	bySession := map[string]*SessionStat{}
	st.Commits = len(commits)
	for _, c := range commits {
		if row, ok := noted[c]; !ok || row.corrupt {
			continue
		}
		st.Annotated++
		rows, err := stmt.QueryContext(ctx, c)
		if err != nil {
			return st, err
		}
		for rows.Next() {
			var ss SessionStat
			if err := rows.Scan(&ss.ID, &ss.Agent, &ss.Model, &ss.Lines); err != nil {
				rows.Close()
				return st, err
			}
			if ss.Agent == "" {
				ss.Agent = unknown
			}
			if ss.Model == "" {
				ss.Model = unknown
			}
			st.Lines += ss.Lines
			st.Agents[ss.Agent] += ss.Lines
			st.Models[ss.Model] += ss.Lines
			if cur, ok := bySession[ss.ID]; ok {
				cur.Lines += ss.Lines
			} else {
				cp := ss
				bySession[ss.ID] = &cp
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return st, err
		}
	}

	for _, ss := range bySession {
		st.Sessions = append(st.Sessions, *ss)
	}
	sort.Slice(st.Sessions, func(i, j int) bool {
		if st.Sessions[i].Lines != st.Sessions[j].Lines {
			return st.Sessions[i].Lines > st.Sessions[j].Lines
		}
		return st.Sessions[i].ID < st.Sessions[j].ID
	})
	return st, nil
}
