// Package ledger keeps the working-tree annotation ledger: AI-authored line
// ranges recorded by agent hooks between commits, plus the session registry.
//
// The ledger is a JSON-lines file under <git-dir>/attrib/ledger. Appends and
// rewrites happen under an exclusive file lock, so concurrent agent hooks and
// git hooks never interleave partial entries.
package ledger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jensroland/git-attrib/internal/cas"
	"github.com/jensroland/git-attrib/internal/linemap"
	"github.com/jensroland/git-attrib/internal/lineset"
	"github.com/jensroland/git-attrib/internal/record"
)

const fileName = "ledger.jsonl"

// Entry says that Session wrote Lines of File at Ts. Hashes holds one
// record.LineHash per line of Lines, in ascending line order, captured from
// the working tree when the entry was recorded.
type Entry struct {
	Ts      time.Time       `json:"ts"`
	File    string          `json:"file"`
	Lines   lineset.LineSet `json:"lines"`
	Hashes  []string        `json:"hashes"`
	Session string          `json:"session"`
}

func (e Entry) key() string {
	return e.Ts.UTC().Format(time.RFC3339Nano) + "\x00" + e.File + "\x00" + e.Lines.String() + "\x00" + e.Session
}

// Options tunes a Ledger.
type Options struct {
	MaxAge      time.Duration
	LockTimeout time.Duration
}

// Ledger is the per-worktree annotation ledger.
type Ledger struct {
	dir   string
	root  string
	store *cas.Store
	opts  Options
	now   func() time.Time
}

// Open returns the ledger stored in dir for the working tree at root.
// store receives prompts and session descriptors.
func Open(dir, root string, store *cas.Store, opts Options) *Ledger {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 2 * time.Second
	}
	return &Ledger{dir: dir, root: root, store: store, opts: opts, now: time.Now}
}

func (l *Ledger) path() string { return filepath.Join(l.dir, fileName) }

// Record appends an entry attributing lines start..end of file to session.
// The working-tree file is read to capture the content of each line.
func (l *Ledger) Record(file string, start, end int, session string) (Entry, error) {
	if session == "" {
		return Entry{}, fmt.Errorf("record %s: empty session id", file)
	}
	rel := record.RelativizePath(file, l.root)
	content, err := os.ReadFile(filepath.Join(l.root, filepath.FromSlash(rel)))
	if err != nil {
		return Entry{}, fmt.Errorf("record %s: %w", rel, err)
	}
	lines := linemap.Split(string(content))
	if end > len(lines) {
		end = len(lines)
	}
	if start < 1 || start > end {
		return Entry{}, fmt.Errorf("record %s: range %d-%d outside file of %d lines", rel, start, end, len(lines))
	}

	e := Entry{
		Ts:      l.now().UTC(),
		File:    rel,
		Lines:   lineset.FromRange(start, end),
		Session: session,
	}
	for i := start; i <= end; i++ {
		e.Hashes = append(e.Hashes, record.LineHash(lines[i-1]))
	}
	return e, l.append([]Entry{e})
}

// Restore re-appends entries, for example after a stash pop.
func (l *Ledger) Restore(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return l.append(entries)
}

func (l *Ledger) append(entries []Entry) error {
	lock, err := acquire(l.dir, l.opts.LockTimeout)
	if err != nil {
		return err
	}
	defer lock.release()

	var buf bytes.Buffer
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	f, err := os.OpenFile(l.path(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Entries returns the live entries for the given files (all files when
// files is empty), oldest first.
func (l *Ledger) Entries(files ...string) ([]Entry, error) {
	lock, err := acquire(l.dir, l.opts.LockTimeout)
	if err != nil {
		return nil, err
	}
	defer lock.release()

	all, err := l.read()
	if err != nil {
		return nil, err
	}
	want := fileFilter(files)
	var out []Entry
	for _, e := range all {
		if want(e.File) && !l.stale(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Files returns the distinct files with live entries.
func (l *Ledger) Files() ([]string, error) {
	entries, err := l.Entries()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var files []string
	for _, e := range entries {
		if !seen[e.File] {
			seen[e.File] = true
			files = append(files, e.File)
		}
	}
	sort.Strings(files)
	return files, nil
}

// SnapshotAndClear atomically takes and removes the entries of one file.
func (l *Ledger) SnapshotAndClear(file string) ([]Entry, error) {
	return l.Drain([]string{file})
}

// Drain atomically takes and removes the entries of files. Entries of other
// files are kept. Stale entries are dropped and not returned.
func (l *Ledger) Drain(files []string) ([]Entry, error) {
	if len(files) == 0 {
		return nil, nil
	}
	want := fileFilter(files)
	var taken []Entry
	_, err := l.rewrite(func(e Entry) bool {
		if want(e.File) {
			taken = append(taken, e)
			return false
		}
		return true
	})
	return taken, err
}

// Discard removes exactly the given entries, leaving any entry recorded
// since they were read.
func (l *Ledger) Discard(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	drop := make(map[string]bool, len(entries))
	for _, e := range entries {
		drop[e.key()] = true
	}
	_, err := l.rewrite(func(e Entry) bool { return !drop[e.key()] })
	return err
}

// Sweep drops stale entries and returns how many were removed.
func (l *Ledger) Sweep() (int, error) {
	removed, err := l.rewrite(func(Entry) bool { return true })
	if err != nil {
		return 0, err
	}
	n, err := l.sweepSessions()
	return removed + n, err
}

// rewrite keeps the live entries for which keep returns true and reports
// how many stale entries it dropped.
func (l *Ledger) rewrite(keep func(Entry) bool) (int, error) {
	lock, err := acquire(l.dir, l.opts.LockTimeout)
	if err != nil {
		return 0, err
	}
	defer lock.release()

	all, err := l.read()
	if err != nil {
		return 0, err
	}
	swept := 0
	var kept []Entry
	for _, e := range all {
		if l.stale(e) {
			swept++
			continue
		}
		if keep(e) {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(all) {
		return swept, nil
	}

	var buf bytes.Buffer
	for _, e := range kept {
		data, err := json.Marshal(e)
		if err != nil {
			return swept, err
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	tmp := l.path() + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return swept, err
	}
	return swept, os.Rename(tmp, l.path())
}

// read parses the ledger, skipping lines that do not decode (a torn write
// from a crashed process must not poison the rest).
func (l *Ledger) read() ([]Entry, error) {
	f, err := os.Open(l.path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil || e.File == "" || e.Session == "" {
			continue
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}

func (l *Ledger) stale(e Entry) bool {
	return l.opts.MaxAge > 0 && l.now().Sub(e.Ts) > l.opts.MaxAge
}

func fileFilter(files []string) func(string) bool {
	if len(files) == 0 {
		return func(string) bool { return true }
	}
	set := make(map[string]bool, len(files))
	for _, f := range files {
		set[f] = true
	}
	return func(f string) bool { return set[f] }
}
