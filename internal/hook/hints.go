package hook

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/jensroland/git-attrib/internal/record"
)

// hintsMaxAge bounds how long a prepared commit may take to happen.
const hintsMaxAge = 24 * time.Hour

// hints carry what prepare-commit-msg learned to the post-commit hook of
// the same commit. Parent identifies that commit: it is the HEAD the commit
// was prepared on.
type hints struct {
	Parent       string        `json:"parent"`
	Origin       record.Origin `json:"origin"`
	Predecessors []string      `json:"predecessors"`
	Created      time.Time     `json:"created"`
}

func (h *Handler) saveHints(hn hints) error {
	path := h.ws.Paths.HintsFile
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(hn)
	if err != nil {
		return err
	}
	h.log.WithField("origin", hn.Origin).WithField("predecessors", len(hn.Predecessors)).Debug("commit hints saved")
	return os.WriteFile(path, data, 0o644)
}

// takeHints consumes the hints file. They apply only to a commit made on
// top of the HEAD they were prepared on.
func (h *Handler) takeHints(parent string) (hints, bool) {
	path := h.ws.Paths.HintsFile
	data, err := os.ReadFile(path)
	if err != nil {
		return hints{}, false
	}
	_ = os.Remove(path)

	var hn hints
	if err := json.Unmarshal(data, &hn); err != nil {
		return hints{}, false
	}
	if hn.Parent != parent || time.Since(hn.Created) > hintsMaxAge || len(hn.Predecessors) == 0 {
		return hints{}, false
	}
	return hn, true
}

func readFile(dir, name string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	return string(data), err
}
