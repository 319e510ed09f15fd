// Package runlog writes the operator-facing daily log: plain text lines
// appended to a single file that is never truncated or rotated.
package runlog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

const rule = "--------------------------------------------------------------------------------------------------------------------------"

// Log appends lines to the run log file. The file is reopened in append mode
// for every line so no handle is held across the run.
type Log struct {
	fs     afero.Fs
	path   string
	logger *slog.Logger
}

// New returns a Log writing to path on fs. Every line is mirrored to logger.
func New(fs afero.Fs, path string, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{fs: fs, path: path, logger: logger}
}

// Path returns the log file location.
func (l *Log) Path() string {
	return l.path
}

// Ensure creates the log file (and its directory) if it does not exist yet.
func (l *Log) Ensure() error {
	if err := l.fs.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("runlog: create directory: %w", err)
	}
	f, err := l.fs.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("runlog: open %s: %w", l.path, err)
	}
	return f.Close()
}

func (l *Log) Info(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.logger.Info(msg)
	l.write(msg)
}

func (l *Log) Warning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.logger.Warn(msg)
	l.write(">> WARNING: " + msg)
}

func (l *Log) Error(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.logger.Error(msg)
	l.write(">> ERROR: " + msg)
}

// Banner writes a "--- TITLE ---" section marker, followed by extra
// (for instance a timestamp) when given.
func (l *Log) Banner(title string, extra ...string) {
	line := "--- " + title + " ---"
	if len(extra) > 0 {
		line += " " + strings.Join(extra, " ")
	}
	l.logger.Info(title)
	l.write(line)
}

// Rule writes a horizontal separator line.
func (l *Log) Rule() {
	l.write(rule)
}

// Blank writes an empty line.
func (l *Log) Blank() {
	l.write("")
}

func (l *Log) write(line string) {
	f, err := l.fs.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		l.logger.Error("runlog: open failed", "path", l.path, "err", err)
		return
	}
	defer f.Close()

	if _, err := f.Write([]byte(line + "\n")); err != nil {
		l.logger.Error("runlog: write failed", "path", l.path, "err", err)
	}
}
