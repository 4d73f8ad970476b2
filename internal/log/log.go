// Package log provides categorized structured logging for the application.
// Output goes to a log file, never stdout: the serve process shares its
// terminal with nothing, but agent subprocesses reserve stdout for the
// line-delimited event protocol and the watch TUI owns the terminal.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Category identifies the subsystem a log line belongs to.
type Category string

// Log categories, one per major subsystem.
const (
	CatOrch    Category = "orchestrator"
	CatAgent   Category = "agent"
	CatServer  Category = "server"
	CatHistory Category = "history"
	CatConfig  Category = "config"
	CatTUI     Category = "tui"
)

var (
	mu      sync.RWMutex
	logger  = slog.New(slog.NewTextHandler(io.Discard, nil))
	logFile *os.File
)

// Init opens the log file at path and installs a debug-level slog logger.
// Parent directories are created as needed. Calling Init again closes the
// previous file.
func Init(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) // #nosec G304 -- path comes from config
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
	}
	logFile = f
	logger = slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return nil
}

// DefaultPath returns ~/.cc-discussion/cc-discussion.log, or a file in the
// working directory if the home directory cannot be determined.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "cc-discussion.log"
	}
	return filepath.Join(home, ".cc-discussion", "cc-discussion.log")
}

// Close flushes and closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func get() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Debug logs a debug-level message under the given category.
func Debug(cat Category, msg string, kv ...any) {
	get().Debug(msg, append([]any{"cat", string(cat)}, kv...)...)
}

// Info logs an info-level message under the given category.
func Info(cat Category, msg string, kv ...any) {
	get().Info(msg, append([]any{"cat", string(cat)}, kv...)...)
}

// Warn logs a warn-level message under the given category.
func Warn(cat Category, msg string, kv ...any) {
	get().Warn(msg, append([]any{"cat", string(cat)}, kv...)...)
}

// Error logs an error-level message under the given category.
func Error(cat Category, msg string, kv ...any) {
	get().Error(msg, append([]any{"cat", string(cat)}, kv...)...)
}
