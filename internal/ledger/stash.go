package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jensroland/git-attrib/internal/errs"
)

func (l *Ledger) stashPath(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\.`) {
		return "", errs.NotFound("ledger.Stash", fmt.Errorf("invalid stash key %q", key))
	}
	return filepath.Join(l.dir, "stash", key+".json"), nil
}

// Stash moves the entries of files out of the ledger and parks them under
// key (a stash commit id) until Unstash. It returns how many were parked.
func (l *Ledger) Stash(key string, files []string) (int, error) {
	path, err := l.stashPath(key)
	if err != nil {
		return 0, err
	}
	taken, err := l.Drain(files)
	if err != nil || len(taken) == 0 {
		return 0, err
	}
	var parked []Entry
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &parked)
	}
	parked = append(parked, taken...)
	data, err := json.Marshal(parked)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp, path); err != nil {
		// Put them back rather than lose them.
		_ = l.Restore(taken)
		return 0, err
	}
	return len(taken), nil
}

// Unstash returns the entries parked under key to the ledger. A key with
// nothing parked is not an error.
func (l *Ledger) Unstash(key string) (int, error) {
	path, err := l.stashPath(key)
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var parked []Entry
	if err := json.Unmarshal(data, &parked); err != nil {
		return 0, errs.Corrupt("ledger.Unstash", err)
	}
	if err := l.Restore(parked); err != nil {
		return 0, err
	}
	return len(parked), os.Remove(path)
}
