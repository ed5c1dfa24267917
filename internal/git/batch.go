package git

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/jensroland/git-attrib/internal/errs"
)

// Catter reads objects through one long-running `git cat-file --batch`
// process. It is safe for concurrent use; requests are serialized.
type Catter struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	closed bool
}

// Catter starts a batch object reader. Close it when done.
func (r *Repo) Catter(ctx context.Context) (*Catter, error) {
	cmd := r.command(ctx, nil, "cat-file", "--batch")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting cat-file: %w", err)
	}
	return &Catter{cmd: cmd, stdin: stdin, stdout: bufio.NewReaderSize(stdout, 64*1024)}, nil
}

// Object returns the type and content of the object named by rev.
// A missing object yields errs.NotFound.
func (c *Catter) Object(rev string) (string, []byte, error) {
	if strings.ContainsAny(rev, "\n") {
		return "", nil, fmt.Errorf("invalid object name %q", rev)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", nil, fmt.Errorf("cat-file: reader closed")
	}

	if _, err := io.WriteString(c.stdin, rev+"\n"); err != nil {
		return "", nil, err
	}
	header, err := c.stdout.ReadString('\n')
	if err != nil {
		return "", nil, err
	}
	header = strings.TrimSuffix(header, "\n")
	if strings.HasSuffix(header, " missing") || strings.HasSuffix(header, " ambiguous") {
		return "", nil, errs.NotFound("git.cat-file", fmt.Errorf("object %s", rev))
	}

	fields := strings.Fields(header)
	if len(fields) != 3 {
		return "", nil, fmt.Errorf("cat-file: unexpected header %q", header)
	}
	size, err := strconv.Atoi(fields[2])
	if err != nil {
		return "", nil, fmt.Errorf("cat-file: bad size in %q", header)
	}
	data := make([]byte, size+1) // content plus trailing LF
	if _, err := io.ReadFull(c.stdout, data); err != nil {
		return "", nil, err
	}
	return fields[1], data[:size], nil
}

// Blob returns the content of a blob.
func (c *Catter) Blob(oid string) ([]byte, error) {
	typ, data, err := c.Object(oid)
	if err != nil {
		return nil, err
	}
	if typ != "blob" {
		return nil, fmt.Errorf("object %s is a %s, not a blob", oid, typ)
	}
	return data, nil
}

// Close stops the batch process.
func (c *Catter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.stdin.Close()
	return c.cmd.Wait()
}
