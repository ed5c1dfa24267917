package hook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

type sessionOpenRequest struct {
	Agent  string `json:"agent"`
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type sessionCloseRequest struct {
	SessionID string `json:"session_id"`
}

type spanRequest struct {
	File      string `json:"file"`
	Start     int    `json:"start"`
	End       int    `json:"end"`
	SessionID string `json:"session_id"`
}

// readPayload decodes the JSON object on stdin into v. An empty payload
// leaves v untouched and reports false.
func (h *Handler) readPayload(v any) (bool, error) {
	raw, err := io.ReadAll(h.stdin)
	if err != nil {
		return false, fmt.Errorf("read stdin: %w", err)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("parse payload: %w", err)
	}
	return true, nil
}

// SessionOpen registers a session and prints its id.
func (h *Handler) SessionOpen(ctx context.Context, args []string) error {
	var req sessionOpenRequest
	if _, err := h.readPayload(&req); err != nil {
		return err
	}
	if req.Agent == "" {
		return fmt.Errorf("session-open: agent is required")
	}
	s, err := h.ws.Ledger.OpenSession(req.Agent, req.Model, req.Prompt)
	if err != nil {
		return err
	}
	h.log.WithFields(logrus.Fields{"session": s.ID, "agent": s.Agent, "model": s.Model}).Info("session opened")
	_, err = fmt.Fprintln(h.stdout, s.ID)
	return err
}

// SessionClose marks a session finished.
func (h *Handler) SessionClose(ctx context.Context, args []string) error {
	var req sessionCloseRequest
	if _, err := h.readPayload(&req); err != nil {
		return err
	}
	if req.SessionID == "" && len(args) > 0 {
		req.SessionID = args[0]
	}
	if _, err := h.ws.Ledger.CloseSession(req.SessionID); err != nil {
		return err
	}
	h.log.WithField("session", req.SessionID).Info("session closed")
	return nil
}

// Span records that a session wrote a line range of a working-tree file.
func (h *Handler) Span(ctx context.Context, args []string) error {
	var req spanRequest
	ok, err := h.readPayload(&req)
	if err != nil || !ok {
		return err
	}
	if _, err := h.ws.Ledger.Session(req.SessionID); err != nil {
		return fmt.Errorf("span for unknown session %q: %w", req.SessionID, err)
	}
	e, err := h.ws.Ledger.Record(req.File, req.Start, req.End, req.SessionID)
	if err != nil {
		return err
	}
	h.log.WithFields(logrus.Fields{"file": e.File, "lines": e.Lines.String(), "session": e.Session}).Debug("span recorded")
	return nil
}
