package git

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// BlameLine is one line of `git blame --porcelain` output.
type BlameLine struct {
	Commit     string // 40-char commit SHA (0000... for uncommitted)
	OrigLine   int    // 1-based line number in the originating commit
	FinalLine  int    // 1-based line number in the blamed revision
	OrigPath   string // path of the file in the originating commit
	Text       string
	Author     string
	AuthorMail string
	AuthorTime time.Time
	Summary    string
	Boundary   bool
}

// IsUncommitted returns true if the line is not yet committed.
func (l BlameLine) IsUncommitted() bool {
	return strings.TrimLeft(l.Commit, "0") == ""
}

type commitInfo struct {
	author     string
	authorMail string
	authorTime time.Time
	summary    string
	boundary   bool
	filename   string
}

// BlameParser incrementally parses porcelain blame output.
//
// Porcelain format:
//
//	<40-byte SHA> <orig-line> <final-line> [<num-lines>]
//	header lines (only the first time a commit is seen)
//	filename <path> (first time a commit is seen, or every group of a
//	commit that touched several paths)
//	\t<actual line content>
type BlameParser struct {
	sc      *bufio.Scanner
	commits map[string]*commitInfo
}

// NewBlameParser parses porcelain output from r.
func NewBlameParser(r io.Reader) *BlameParser {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &BlameParser{sc: sc, commits: make(map[string]*commitInfo)}
}

// Next returns the next line, or io.EOF when the output is exhausted.
func (p *BlameParser) Next() (BlameLine, error) {
	var (
		cur    BlameLine
		info   *commitInfo
		inLine bool
	)
	for p.sc.Scan() {
		line := p.sc.Text()
		if !inLine {
			if line == "" {
				continue
			}
			fields := strings.Fields(line)
			if len(fields) < 3 || len(fields[0]) < 40 {
				return BlameLine{}, fmt.Errorf("blame: unexpected header %q", line)
			}
			cur.Commit = fields[0]
			cur.OrigLine, _ = strconv.Atoi(fields[1])
			cur.FinalLine, _ = strconv.Atoi(fields[2])
			info = p.commits[cur.Commit]
			if info == nil {
				info = &commitInfo{}
				p.commits[cur.Commit] = info
			}
			inLine = true
			continue
		}

		if text, ok := strings.CutPrefix(line, "\t"); ok {
			cur.Text = text
			if cur.OrigPath == "" {
				cur.OrigPath = info.filename
			}
			cur.Author = info.author
			cur.AuthorMail = info.authorMail
			cur.AuthorTime = info.authorTime
			cur.Summary = info.summary
			cur.Boundary = info.boundary
			return cur, nil
		}

		key, value, _ := strings.Cut(line, " ")
		switch key {
		case "author":
			info.author = value
		case "author-mail":
			info.authorMail = strings.Trim(value, "<>")
		case "author-time":
			if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
				info.authorTime = time.Unix(secs, 0).UTC()
			}
		case "summary":
			info.summary = value
		case "boundary":
			info.boundary = true
		case "filename":
			info.filename = value
			cur.OrigPath = value
		}
	}
	if err := p.sc.Err(); err != nil {
		return BlameLine{}, err
	}
	if inLine {
		return BlameLine{}, io.ErrUnexpectedEOF
	}
	return BlameLine{}, io.EOF
}

// BlameReader streams blame output from a running git process.
type BlameReader struct {
	*BlameParser
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr bytes.Buffer
	cancel context.CancelFunc
	done   bool
}

// BlameOptions narrows a blame run.
type BlameOptions struct {
	Start, End int // 1-based inclusive line range; zero means whole file
}

// Blame starts `git blame --porcelain` for path at rev and returns a reader
// that yields lines as git produces them. An empty rev blames the working
// tree file.
func (r *Repo) Blame(ctx context.Context, rev, path string, opts BlameOptions) (*BlameReader, error) {
	args := []string{"blame", "--porcelain"}
	if opts.Start > 0 {
		if opts.End > 0 {
			args = append(args, "-L", fmt.Sprintf("%d,%d", opts.Start, opts.End))
		} else {
			args = append(args, "-L", fmt.Sprintf("%d,", opts.Start))
		}
	}
	if rev != "" {
		args = append(args, rev)
	}
	args = append(args, "--", path)

	ctx, cancel := context.WithCancel(ctx)
	br := &BlameReader{cancel: cancel}
	br.cmd = r.command(ctx, nil, args...)
	br.cmd.Stderr = &br.stderr
	stdout, err := br.cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	br.stdout = stdout
	if err := br.cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("starting git blame: %w", err)
	}
	br.BlameParser = NewBlameParser(stdout)
	return br, nil
}

// Next returns the next blamed line, or io.EOF once git has finished
// successfully. A failing git process surfaces as an *Error.
func (b *BlameReader) Next() (BlameLine, error) {
	line, err := b.BlameParser.Next()
	if errors.Is(err, io.EOF) {
		if werr := b.wait(); werr != nil {
			return BlameLine{}, werr
		}
	}
	return line, err
}

func (b *BlameReader) wait() error {
	if b.done {
		return nil
	}
	b.done = true
	err := b.cmd.Wait()
	b.cancel()
	if err != nil {
		return &Error{Args: b.cmd.Args[1:], Stderr: b.stderr.String(), Err: err}
	}
	return nil
}

// Close stops git if it is still running.
func (b *BlameReader) Close() error {
	if b.done {
		return nil
	}
	b.cancel()
	_ = b.wait()
	return nil
}
