package hook

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jensroland/git-attrib/internal/linemap"
	"github.com/jensroland/git-attrib/internal/record"
	"github.com/jensroland/git-attrib/internal/transcript"
)

// Adapters for Claude Code's UserPromptSubmit, PostToolUse and Stop hooks.
// Each prompt becomes one session; tool edits become spans of it.

const claudeAgent = "claude-code"

var agentKeyRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// agentState maps an agent's own session to the attribution session of
// its current prompt.
type agentState struct {
	Session string `json:"session"`
}

func agentKey(data map[string]interface{}) string {
	if id := getString(data, "session_id"); agentKeyRe.MatchString(id) {
		return id
	}
	return "default"
}

func (h *Handler) statePath(key string) string {
	return filepath.Join(h.ws.Paths.AgentsDir, key+".json")
}

func (h *Handler) loadState(key string) (agentState, bool) {
	var st agentState
	data, err := os.ReadFile(h.statePath(key))
	if err != nil {
		return st, false
	}
	if err := json.Unmarshal(data, &st); err != nil || st.Session == "" {
		return agentState{}, false
	}
	return st, true
}

func (h *Handler) saveState(key string, st agentState) error {
	if err := os.MkdirAll(h.ws.Paths.AgentsDir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return os.WriteFile(h.statePath(key), data, 0o644)
}

func (h *Handler) closeState(key string) {
	st, ok := h.loadState(key)
	if !ok {
		return
	}
	if _, err := h.ws.Ledger.CloseSession(st.Session); err != nil {
		h.log.WithError(err).WithField("session", st.Session).Debug("closing previous session")
	}
}

func (h *Handler) readMap() (map[string]interface{}, error) {
	var data map[string]interface{}
	ok, err := h.readPayload(&data)
	if err != nil || !ok {
		return nil, err
	}
	return data, nil
}

// agentModel is the model named by the payload, else the one the
// transcript last answered with, else ATTRIB_AGENT_MODEL.
func agentModel(data map[string]interface{}) string {
	if m := getString(data, "model"); m != "" {
		return m
	}
	if m := transcript.Model(getString(data, "transcript_path")); m != "" {
		return m
	}
	return os.Getenv("ATTRIB_AGENT_MODEL")
}

// PromptSubmit opens a session for a new prompt, closing the session of the
// previous prompt in the same agent conversation.
func (h *Handler) PromptSubmit(ctx context.Context, args []string) error {
	data, err := h.readMap()
	if err != nil || data == nil {
		return err
	}
	key := agentKey(data)
	h.closeState(key)

	s, err := h.ws.Ledger.OpenSession(claudeAgent, agentModel(data), transcript.CleanPrompt(getString(data, "prompt")))
	if err != nil {
		return err
	}
	h.log.WithFields(logrus.Fields{"session": s.ID, "agent_session": key}).Info("prompt session opened")
	return h.saveState(key, agentState{Session: s.ID})
}

// PostToolUse records the lines an edit tool wrote.
func (h *Handler) PostToolUse(ctx context.Context, args []string) error {
	data, err := h.readMap()
	if err != nil || data == nil {
		return err
	}
	key := agentKey(data)
	st, ok := h.loadState(key)
	if !ok {
		// Edits without a prompt hook still belong to the agent.
		s, err := h.ws.Ledger.OpenSession(claudeAgent, agentModel(data), "")
		if err != nil {
			return err
		}
		st = agentState{Session: s.ID}
		if err := h.saveState(key, st); err != nil {
			return err
		}
	}

	edits := extractEdits(data, h.ws.Paths.Root)
	recorded := 0
	for _, ed := range edits {
		start, end, ok := h.lineRange(ed)
		if !ok {
			h.log.WithField("file", ed.File).Debug("edit without a locatable range")
			continue
		}
		if _, err := h.ws.Ledger.Record(ed.File, start, end, st.Session); err != nil {
			h.log.WithError(err).WithField("file", ed.File).Warn("recording edit")
			continue
		}
		recorded++
	}
	h.log.WithFields(logrus.Fields{
		"tool":     getString(data, "tool_name"),
		"edits":    len(edits),
		"recorded": recorded,
	}).Debug("tool use processed")
	return nil
}

// Stop closes the session of the agent's last prompt.
func (h *Handler) Stop(ctx context.Context, args []string) error {
	data, err := h.readMap()
	if err != nil {
		return err
	}
	key := agentKey(data)
	h.closeState(key)
	if err := os.Remove(h.statePath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// editInfo is one edit extracted from a tool payload.
type editInfo struct {
	File string
	// Text is the new text the tool wrote, used to find the edit in the file.
	Text string
	// Start and End come from the tool's structured patch when it has one.
	Start, End int
}

// lineRange finds the lines an edit covers in the current working-tree file:
// the written text when it can be found, else the tool's patch range.
func (h *Handler) lineRange(ed editInfo) (int, int, bool) {
	content, err := os.ReadFile(filepath.Join(h.ws.Paths.Root, filepath.FromSlash(ed.File)))
	if err != nil {
		return 0, 0, false
	}
	if start, end, ok := locate(string(content), ed.Text); ok {
		return start, end, true
	}
	if ed.Start > 0 && ed.End >= ed.Start {
		return ed.Start, ed.End, true
	}
	return 0, 0, false
}

// locate returns the 1-based line range of the first occurrence of needle.
func locate(content, needle string) (int, int, bool) {
	if strings.TrimSpace(needle) == "" {
		return 0, 0, false
	}
	i := strings.Index(content, needle)
	if i < 0 {
		return 0, 0, false
	}
	start := strings.Count(content[:i], "\n") + 1
	end := start + strings.Count(strings.TrimSuffix(needle, "\n"), "\n")
	return start, end, true
}

// extractEdits extracts file edits from a Claude Code tool payload.
func extractEdits(data map[string]interface{}, projectDir string) []editInfo {
	toolInput := getMap(data, "tool_input")
	toolResponse := getMap(data, "tool_response")

	filePath := getString(toolInput, "file_path")
	if filePath == "" {
		filePath = getString(toolInput, "path")
	}
	if filePath == "" {
		return nil
	}
	filePath = record.RelativizePath(filePath, projectDir)

	switch getString(data, "tool_name") {
	case "Edit":
		ed := editInfo{File: filePath, Text: getString(toolInput, "new_string")}
		ed.Start, ed.End = patchRange(getArray(toolResponse, "structuredPatch"), 0)
		return []editInfo{ed}

	case "Write":
		content := getString(toolInput, "content")
		if content == "" {
			content = getString(toolInput, "file_text")
		}
		n := len(linemap.Split(content))
		if n == 0 {
			return nil
		}
		return []editInfo{{File: filePath, Start: 1, End: n}}

	case "MultiEdit":
		subEdits := getArray(toolInput, "edits")
		if subEdits == nil {
			subEdits = getArray(toolInput, "changes")
		}
		patches := getArray(toolResponse, "structuredPatch")
		var edits []editInfo
		for i, raw := range subEdits {
			edit, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			file := filePath
			if p := getString(edit, "file_path"); p != "" {
				file = record.RelativizePath(p, projectDir)
			}
			ed := editInfo{File: file, Text: getString(edit, "new_string")}
			ed.Start, ed.End = patchRange(patches, i)
			edits = append(edits, ed)
		}
		return edits

	default:
		return nil
	}
}

// patchRange reads the new-side range of the i-th structuredPatch hunk.
func patchRange(patches []interface{}, i int) (int, int) {
	if i >= len(patches) {
		return 0, 0
	}
	p, ok := patches[i].(map[string]interface{})
	if !ok {
		return 0, 0
	}
	start, ok := getInt(p, "newStart")
	if !ok {
		return 0, 0
	}
	n, ok := getInt(p, "newLines")
	if !ok {
		n = 1
	}
	return start, start + max(n-1, 0)
}

// Helpers for safe access into decoded JSON.

func getString(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func getMap(m map[string]interface{}, key string) map[string]interface{} {
	sub, _ := m[key].(map[string]interface{})
	return sub
}

func getArray(m map[string]interface{}, key string) []interface{} {
	arr, _ := m[key].([]interface{})
	return arr
}

func getInt(m map[string]interface{}, key string) (int, bool) {
	switch n := m[key].(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}
