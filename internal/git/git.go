// Package git wraps the git plumbing commands the attribution engine needs.
// Everything shells out to the git binary; nothing here touches the user's
// index or working tree.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// NullOID is the all-zero object id git uses for "no object".
const NullOID = "0000000000000000000000000000000000000000"

// Repo runs git commands inside one repository.
type Repo struct {
	Dir string
	// Env is appended to the process environment of every command.
	Env []string
}

// New returns a Repo rooted at dir.
func New(dir string) *Repo {
	return &Repo{Dir: dir}
}

// Error is returned when a git command exits unsuccessfully.
type Error struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
	}
	return fmt.Sprintf("git %s: %s", strings.Join(e.Args, " "), msg)
}

func (e *Error) Unwrap() error { return e.Err }

// ExitCode returns the exit status of a failed git command, or -1.
func ExitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func (r *Repo) command(ctx context.Context, env []string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.Dir
	if len(r.Env) > 0 || len(env) > 0 {
		cmd.Env = append(append(os.Environ(), r.Env...), env...)
	}
	return cmd
}

// Run executes git with args and returns stdout with the trailing newline
// trimmed.
func (r *Repo) Run(ctx context.Context, args ...string) (string, error) {
	out, err := r.Exec(ctx, nil, nil, args...)
	return strings.TrimRight(string(out), "\n"), err
}

// Exec executes git with extra environment and optional stdin, returning
// raw stdout.
func (r *Repo) Exec(ctx context.Context, env []string, stdin []byte, args ...string) ([]byte, error) {
	cmd := r.command(ctx, env, args...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return out, &Error{Args: args, Stderr: stderr.String(), Err: err}
	}
	return out, nil
}

// Attached runs a porcelain command whose output belongs to the user,
// wired to the given streams.
func (r *Repo) Attached(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args ...string) error {
	cmd := r.command(ctx, nil, args...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = stdin, stdout, stderr
	if err := cmd.Run(); err != nil {
		return &Error{Args: args, Err: err}
	}
	return nil
}

// RevParse resolves rev to a full object id.
func (r *Repo) RevParse(ctx context.Context, rev string) (string, error) {
	return r.Run(ctx, "rev-parse", "--verify", "--quiet", rev)
}

// ResolveCommit resolves rev to a commit id.
func (r *Repo) ResolveCommit(ctx context.Context, rev string) (string, error) {
	return r.RevParse(ctx, rev+"^{commit}")
}

// Head returns the HEAD commit, or "" on an unborn branch.
func (r *Repo) Head(ctx context.Context) string {
	sha, err := r.ResolveCommit(ctx, "HEAD")
	if err != nil {
		return ""
	}
	return sha
}

// CommitExists reports whether oid names a commit in the object database.
func (r *Repo) CommitExists(ctx context.Context, oid string) bool {
	if oid == "" {
		return false
	}
	_, err := r.Run(ctx, "cat-file", "-e", oid+"^{commit}")
	return err == nil
}

// Parents returns the parents of commit, first parent first.
func (r *Repo) Parents(ctx context.Context, commit string) ([]string, error) {
	out, err := r.Run(ctx, "rev-list", "--parents", "-n", "1", commit)
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return nil, fmt.Errorf("rev-list %s: no output", commit)
	}
	return fields[1:], nil
}

// RevList lists commits selected by args (for example a range), newest first.
func (r *Repo) RevList(ctx context.Context, args ...string) ([]string, error) {
	out, err := r.Run(ctx, append([]string{"rev-list"}, args...)...)
	if err != nil {
		return nil, err
	}
	return strings.Fields(out), nil
}

// CommitMessage returns the raw message of commit.
func (r *Repo) CommitMessage(ctx context.Context, commit string) (string, error) {
	return r.Run(ctx, "log", "-1", "--format=%B", commit)
}

// BlobAt returns the blob id of path in commit, or "" when absent.
func (r *Repo) BlobAt(ctx context.Context, commit, path string) string {
	sha, err := r.RevParse(ctx, commit+":"+path)
	if err != nil {
		return ""
	}
	return sha
}

// ReadBlob returns the content of a blob.
func (r *Repo) ReadBlob(ctx context.Context, blob string) ([]byte, error) {
	return r.Exec(ctx, nil, nil, "cat-file", "blob", blob)
}

// WriteBlob stores data as a blob in the object database.
func (r *Repo) WriteBlob(ctx context.Context, data []byte) (string, error) {
	out, err := r.Exec(ctx, nil, data, "hash-object", "-w", "--stdin")
	return strings.TrimSpace(string(out)), err
}

// ReflogEntry is one reflog line.
type ReflogEntry struct {
	Commit  string
	Subject string
}

// Reflog returns the newest n entries of ref's reflog.
func (r *Repo) Reflog(ctx context.Context, ref string, n int) ([]ReflogEntry, error) {
	out, err := r.Run(ctx, "reflog", "show", "--format=%H%x00%gs", "-n", fmt.Sprint(n), ref, "--")
	if err != nil {
		return nil, err
	}
	var entries []ReflogEntry
	for _, line := range strings.Split(out, "\n") {
		sha, subject, ok := strings.Cut(line, "\x00")
		if !ok {
			continue
		}
		entries = append(entries, ReflogEntry{Commit: sha, Subject: subject})
	}
	return entries, nil
}

// Author returns the git user.name config value.
func (r *Repo) Author(ctx context.Context) string {
	name, err := r.Run(ctx, "config", "user.name")
	if err != nil || strings.TrimSpace(name) == "" {
		return "unknown"
	}
	return strings.TrimSpace(name)
}

// IsBinary applies git's heuristic: a NUL byte in the first 8000 bytes.
func IsBinary(content []byte) bool {
	if len(content) > 8000 {
		content = content[:8000]
	}
	return bytes.IndexByte(content, 0) >= 0
}
