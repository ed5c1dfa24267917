package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/jensroland/git-attrib/internal/errs"
	"github.com/jensroland/git-attrib/internal/record"
)

func (l *Ledger) sessionsDir() string { return filepath.Join(l.dir, "sessions") }

func (l *Ledger) sessionPath(id string) string {
	return filepath.Join(l.sessionsDir(), id+".json")
}

// OpenSession registers a new agent session. A non-empty prompt is stored
// in the CAS and referenced from the session.
func (l *Ledger) OpenSession(agent, model, prompt string) (record.Session, error) {
	s := record.Session{
		ID:        uuid.NewString(),
		Agent:     agent,
		Model:     model,
		StartedAt: l.now().UTC(),
	}
	if prompt != "" {
		ref, err := l.store.Put([]byte(prompt))
		if err != nil {
			return record.Session{}, fmt.Errorf("storing prompt: %w", err)
		}
		s.PromptRef = ref
	}
	return s, l.writeSession(s)
}

// CloseSession marks a session ended. Closing a closed session is a no-op.
func (l *Ledger) CloseSession(id string) (record.Session, error) {
	s, err := l.Session(id)
	if err != nil {
		return record.Session{}, err
	}
	if s.Closed() {
		return s, nil
	}
	now := l.now().UTC()
	s.EndedAt = &now
	return s, l.writeSession(s)
}

// Session loads a registered session.
func (l *Ledger) Session(id string) (record.Session, error) {
	if id == "" || strings.ContainsAny(id, `/\.`) {
		return record.Session{}, errs.NotFound("ledger.Session", fmt.Errorf("invalid session id %q", id))
	}
	data, err := os.ReadFile(l.sessionPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return record.Session{}, errs.NotFound("ledger.Session", fmt.Errorf("session %s", id))
		}
		return record.Session{}, err
	}
	return record.DecodeSession(data)
}

// Descriptor stores the canonical session descriptor in the CAS and
// returns its hash.
func (l *Ledger) Descriptor(id string) (string, error) {
	s, err := l.Session(id)
	if err != nil {
		return "", err
	}
	data, err := record.EncodeSession(s)
	if err != nil {
		return "", err
	}
	return l.store.Put(data)
}

func (l *Ledger) writeSession(s record.Session) error {
	if err := os.MkdirAll(l.sessionsDir(), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	tmp := l.sessionPath(s.ID) + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, l.sessionPath(s.ID))
}

// sweepSessions removes closed sessions that ended more than MaxAge ago.
// Their descriptors stay in the CAS for any commit that references them.
func (l *Ledger) sweepSessions() (int, error) {
	if l.opts.MaxAge <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(l.sessionsDir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	removed := 0
	for _, e := range entries {
		id, ok := strings.CutSuffix(e.Name(), ".json")
		if !ok {
			continue
		}
		s, err := l.Session(id)
		if err != nil || !s.Closed() || l.now().Sub(*s.EndedAt) <= l.opts.MaxAge {
			continue
		}
		if err := os.Remove(l.sessionPath(id)); err == nil {
			removed++
		}
	}
	return removed, nil
}

// PromptRefs returns the CAS prompts referenced by registered sessions.
// They stay live until the session is swept.
func (l *Ledger) PromptRefs() (map[string]bool, error) {
	refs := make(map[string]bool)
	entries, err := os.ReadDir(l.sessionsDir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return refs, nil
		}
		return nil, err
	}
	for _, e := range entries {
		id, ok := strings.CutSuffix(e.Name(), ".json")
		if !ok {
			continue
		}
		if s, err := l.Session(id); err == nil && s.PromptRef != "" {
			refs[s.PromptRef] = true
		}
	}
	return refs, nil
}
