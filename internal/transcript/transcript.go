// Package transcript reads Claude Code conversation transcripts.
package transcript

import (
	"bufio"
	"encoding/json"
	"os"
	"regexp"
	"strings"
)

type transcriptEntry struct {
	Message struct {
		Role  string `json:"role"`
		Model string `json:"model"`
	} `json:"message"`
	Type string `json:"type"`
}

// syntheticModel marks messages Claude Code generates itself.
const syntheticModel = "<synthetic>"

var ideTagRe = regexp.MustCompile(`(?s)<ide_\w+>.*?</ide_\w+>\s*`)
var sysReminderRe = regexp.MustCompile(`(?s)<system-reminder>.*?</system-reminder>\s*`)

// CleanPrompt strips IDE metadata and system reminders from a prompt.
func CleanPrompt(raw string) string {
	cleaned := ideTagRe.ReplaceAllString(raw, "")
	cleaned = sysReminderRe.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}

// Model returns the model of the latest assistant message in the
// transcript at path, or "" when there is none.
func Model(path string) string {
	if path == "" {
		return ""
	}
	entries, err := readEntries(path)
	if err != nil {
		return ""
	}
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if role(e) != "assistant" {
			continue
		}
		if m := e.Message.Model; m != "" && m != syntheticModel {
			return m
		}
	}
	return ""
}

func role(e transcriptEntry) string {
	if e.Message.Role != "" {
		return e.Message.Role
	}
	return e.Type
}

func readEntries(path string) ([]transcriptEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []transcriptEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 4*1024*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry transcriptEntry
		if json.Unmarshal([]byte(line), &entry) == nil {
			entries = append(entries, entry)
		}
	}
	return entries, scanner.Err()
}
