package notes

import (
	"context"

	"github.com/jensroland/git-attrib/internal/record"
)

// Live returns every CAS object reachable from a note whose commit still
// exists: record sets, session descriptors and the prompts they reference.
// Notes on commits git has pruned do not keep anything alive.
func (s *Store) Live(ctx context.Context) (map[string]bool, error) {
	listed, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	live := make(map[string]bool)
	if len(listed) == 0 {
		return live, nil
	}

	cat, err := s.repo.Catter(ctx)
	if err != nil {
		return nil, err
	}
	defer cat.Close()

	for commit, blob := range listed {
		if typ, _, err := cat.Object(commit); err != nil || typ != "commit" {
			continue
		}
		body, err := cat.Blob(blob)
		if err != nil {
			continue
		}
		note, err := ParseNote(body)
		if err != nil {
			s.log.WithError(err).WithField("commit", commit).Warn("skipping undecodable note")
			continue
		}
		if note.Set != "" {
			live[note.Set] = true
		}
		rs, _, err := s.Decode(body)
		if err != nil {
			continue
		}
		for _, hash := range rs.Sessions {
			live[hash] = true
			data, err := s.objects.Get(hash)
			if err != nil {
				continue
			}
			if sess, err := record.DecodeSession(data); err == nil && sess.PromptRef != "" {
				live[sess.PromptRef] = true
			}
		}
	}
	return live, nil
}
