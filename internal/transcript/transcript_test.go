package transcript

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// makeEntry builds a JSONL line for a transcript entry.
func makeEntry(t *testing.T, role, model, text string) string {
	t.Helper()
	entry := map[string]interface{}{
		"message": map[string]interface{}{
			"role":  role,
			"model": model,
			"content": []interface{}{
				map[string]interface{}{"type": "text", "text": text},
			},
		},
	}
	data, err := json.Marshal(entry)
	if err != nil {
		t.Fatalf("marshal entry: %v", err)
	}
	return string(data)
}

func writeTranscript(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestModel_LatestAssistant(t *testing.T) {
	path := writeTranscript(t,
		makeEntry(t, "user", "", "hello"),
		makeEntry(t, "assistant", "claude-sonnet-4", "hi"),
		makeEntry(t, "user", "", "switch models"),
		makeEntry(t, "assistant", "claude-opus-4", "done"),
		makeEntry(t, "assistant", syntheticModel, "interrupted"),
		`{not json`,
		"",
	)
	if got := Model(path); got != "claude-opus-4" {
		t.Errorf("Model() = %q, want claude-opus-4", got)
	}
}

func TestModel_TypeFallback(t *testing.T) {
	path := writeTranscript(t, `{"type":"assistant","message":{"model":"claude-haiku"}}`)
	if got := Model(path); got != "claude-haiku" {
		t.Errorf("Model() = %q, want claude-haiku", got)
	}
}

func TestModel_Missing(t *testing.T) {
	if got := Model(""); got != "" {
		t.Errorf("Model(\"\") = %q", got)
	}
	if got := Model(filepath.Join(t.TempDir(), "nope.jsonl")); got != "" {
		t.Errorf("Model(missing) = %q", got)
	}
	path := writeTranscript(t, makeEntry(t, "user", "", "only a prompt"))
	if got := Model(path); got != "" {
		t.Errorf("Model(no assistant) = %q", got)
	}
}

func TestCleanPrompt(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", "fix the bug", "fix the bug"},
		{"ide tag", "<ide_opened_file>The user opened foo.go</ide_opened_file>\nfix the bug", "fix the bug"},
		{"system reminder", "add tests<system-reminder>\nbe brief\n</system-reminder>", "add tests"},
		{"only metadata", "<ide_selection>x</ide_selection>", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanPrompt(tt.raw); got != tt.want {
				t.Errorf("CleanPrompt() = %q, want %q", got, tt.want)
			}
		})
	}
}
