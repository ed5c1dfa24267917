package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFilterHookEntries(t *testing.T) {
	tests := []struct {
		name    string
		hooks   map[string]interface{}
		key     string
		exclude string
		expect  int // expected number of entries in result
	}{
		{
			"empty hooks",
			map[string]interface{}{},
			"PostToolUse",
			"git-attrib hook ",
			0,
		},
		{
			"hooks with matching command excluded",
			map[string]interface{}{
				"PostToolUse": []interface{}{
					map[string]interface{}{
						"matcher": "Edit|Write",
						"hooks": []interface{}{
							map[string]interface{}{
								"type":    "command",
								"command": "/usr/local/bin/git-attrib hook post-tool-use",
							},
						},
					},
				},
			},
			"PostToolUse",
			"git-attrib hook ",
			0,
		},
		{
			"hooks without matching command preserved",
			map[string]interface{}{
				"PostToolUse": []interface{}{
					map[string]interface{}{
						"matcher": "Edit|Write",
						"hooks": []interface{}{
							map[string]interface{}{
								"type":    "command",
								"command": "/usr/local/bin/other-tool hook post-tool-use",
							},
						},
					},
				},
			},
			"PostToolUse",
			"git-attrib hook ",
			1,
		},
		{
			"non-map entries preserved",
			map[string]interface{}{
				"PostToolUse": []interface{}{
					"some-string-entry",
					42,
				},
			},
			"PostToolUse",
			"git-attrib hook ",
			2,
		},
		{
			"mixed entries only matching removed",
			map[string]interface{}{
				"PostToolUse": []interface{}{
					map[string]interface{}{
						"matcher": "Edit|Write",
						"hooks": []interface{}{
							map[string]interface{}{
								"type":    "command",
								"command": "/usr/local/bin/git-attrib hook post-tool-use",
							},
						},
					},
					map[string]interface{}{
						"matcher": "Edit",
						"hooks": []interface{}{
							map[string]interface{}{
								"type":    "command",
								"command": "/usr/local/bin/other-tool hook post-tool-use",
							},
						},
					},
					"some-string-entry",
				},
			},
			"PostToolUse",
			"git-attrib hook ",
			2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := filterHookEntries(tt.hooks, tt.key, tt.exclude)
			if len(got) != tt.expect {
				t.Errorf("filterHookEntries() returned %d entries, want %d; entries: %v", len(got), tt.expect, got)
			}
		})
	}
}

func TestInstallGitHook(t *testing.T) {
	dir := t.TempDir()

	status, err := installGitHook(dir, "post-commit", "/opt/bin/git-attrib")
	if err != nil {
		t.Fatal(err)
	}
	if status != "installed" {
		t.Errorf("status = %q, want installed", status)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "post-commit"))
	want := "#!/bin/sh\n# git-attrib\n\"/opt/bin/git-attrib\" hook post-commit \"$@\" || true\n"
	if string(data) != want {
		t.Errorf("hook script = %q, want %q", data, want)
	}
	info, _ := os.Stat(filepath.Join(dir, "post-commit"))
	if info.Mode().Perm()&0o100 == 0 {
		t.Error("hook script should be executable")
	}

	status, err = installGitHook(dir, "post-commit", "/opt/bin/git-attrib")
	if err != nil {
		t.Fatal(err)
	}
	if status != "already installed" {
		t.Errorf("second install status = %q", status)
	}

	existing := filepath.Join(dir, "pre-push")
	if err := os.WriteFile(existing, []byte("#!/bin/sh\nmake lint"), 0o755); err != nil {
		t.Fatal(err)
	}
	status, err = installGitHook(dir, "pre-push", "/opt/bin/git-attrib")
	if err != nil {
		t.Fatal(err)
	}
	if status != "appended to existing script" {
		t.Errorf("status = %q", status)
	}
	data, _ = os.ReadFile(existing)
	if !strings.HasPrefix(string(data), "#!/bin/sh\nmake lint\n\n# git-attrib\n") {
		t.Errorf("existing script not preserved: %q", data)
	}
}

func TestConfigureClaude(t *testing.T) {
	settingsFile := filepath.Join(t.TempDir(), ".claude", "settings.json")
	seed := `{"model":"opus","hooks":{"PostToolUse":[{"matcher":"Bash","hooks":[{"type":"command","command":"audit"}]}]}}`
	if err := os.MkdirAll(filepath.Dir(settingsFile), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(settingsFile, []byte(seed), 0o644); err != nil {
		t.Fatal(err)
	}

	// Configuring twice must not duplicate entries.
	for i := 0; i < 2; i++ {
		if err := configureClaude(settingsFile, "/opt/bin/git-attrib"); err != nil {
			t.Fatal(err)
		}
	}

	data, err := os.ReadFile(settingsFile)
	if err != nil {
		t.Fatal(err)
	}
	var settings map[string]interface{}
	if err := json.Unmarshal(data, &settings); err != nil {
		t.Fatal(err)
	}
	if settings["model"] != "opus" {
		t.Error("unrelated settings should be kept")
	}
	hooks := settings["hooks"].(map[string]interface{})
	for key, want := range map[string]int{"PostToolUse": 2, "UserPromptSubmit": 1, "Stop": 1} {
		got, _ := hooks[key].([]interface{})
		if len(got) != want {
			t.Errorf("%s has %d entries, want %d", key, len(got), want)
		}
	}
	if !strings.Contains(string(data), "/opt/bin/git-attrib hook prompt-submit") {
		t.Errorf("prompt-submit hook missing:\n%s", data)
	}
}
