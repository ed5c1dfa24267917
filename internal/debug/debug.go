// Package debug provides the file-backed logger used by every component.
//
// Hooks run inside git and agent processes whose stdout/stderr belong to
// someone else, so logs go to <cache>/logs/<name> and never to the terminal.
package debug

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// DefaultLogName is the log file shared by hooks and commands.
const DefaultLogName = "attrib.log"

// New returns a logger appending JSON lines to logDir/logName. When the log
// file cannot be opened the logger discards output rather than failing.
func New(logDir, logName, level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	logger.SetOutput(io.Discard)
	if logDir == "" {
		return logger
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return logger
	}
	f, err := os.OpenFile(filepath.Join(logDir, logName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return logger
	}
	logger.SetOutput(f)
	return logger
}

// Discard returns a logger that drops everything. Used by tests and by
// callers that have no repository yet.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// Component scopes a logger to one engine component.
func Component(logger logrus.FieldLogger, name string) *logrus.Entry {
	if logger == nil {
		logger = Discard()
	}
	return logger.WithField("component", name)
}
