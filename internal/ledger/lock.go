package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const lockName = "ledger.lock"

// fileLock is an exclusive advisory lock on the ledger directory. It is held
// only for the duration of a single append or rewrite.
type fileLock struct {
	file *os.File
}

func acquire(dir string, timeout time.Duration) (*fileLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, lockName), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening ledger lock: %w", err)
	}

	deadline := time.Now().Add(timeout)
	wait := 2 * time.Millisecond
	for {
		ok, err := tryLock(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("locking ledger: %w", err)
		}
		if ok {
			return &fileLock{file: f}, nil
		}
		if time.Now().After(deadline) {
			f.Close()
			return nil, fmt.Errorf("ledger is locked by another process (waited %s)", timeout)
		}
		time.Sleep(wait)
		if wait < 50*time.Millisecond {
			wait *= 2
		}
	}
}

func (l *fileLock) release() {
	if l == nil || l.file == nil {
		return
	}
	_ = unlock(l.file)
	_ = l.file.Close()
}
