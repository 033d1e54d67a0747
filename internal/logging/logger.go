// Package logging provides categorized file-based logging for the context
// engine. Each category writes to its own file under <dir>/logs/. Without
// debug mode the package is a silent no-op.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot       Category = "boot"       // Engine initialization
	CategoryStore      Category = "store"      // ContextStore operations
	CategoryIndex      Category = "index"      // TF-IDF search index
	CategoryGraph      Category = "graph"      // Relationship graph
	CategorySweeper    Category = "sweeper"    // Expiration sweeping
	CategoryBudget     Category = "budget"     // Context budget allocation
	CategoryCheckpoint Category = "checkpoint" // Snapshot persistence
)

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Options controls logging behavior. The zero value disables all output.
type Options struct {
	Debug      bool            // Master switch; false disables all file logging
	Level      string          // "debug", "info", "warn", "error" (default "info")
	Categories map[string]bool // Per-category enable; empty means all enabled
}

// Logger wraps a standard logger bound to one category file.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	opts      Options
	logLevel  int
)

// Initialize sets up the logging directory. Should be called once at startup.
// With Debug false this is a silent no-op and all log calls are dropped.
func Initialize(dir string, o Options) error {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	opts = o
	logLevel = parseLevel(o.Level)

	if !opts.Debug {
		return nil
	}
	if dir == "" {
		return fmt.Errorf("logging directory required")
	}

	logsDir = filepath.Join(dir, "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := getLocked(CategoryBoot)
	boot.Info("=== context engine logging initialized ===")
	boot.Info("logs directory: %s", logsDir)
	boot.Info("level: %s", o.Level)
	return nil
}

// Shutdown closes all open log files.
func Shutdown() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for _, l := range loggers {
		if l.file != nil {
			_ = l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

func parseLevel(s string) int {
	switch s {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func categoryEnabled(cat Category) bool {
	if !opts.Debug {
		return false
	}
	if len(opts.Categories) == 0 {
		return true
	}
	return opts.Categories[string(cat)]
}

// Get returns the logger for a category, creating it on first use.
func Get(cat Category) *Logger {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	return getLocked(cat)
}

func getLocked(cat Category) *Logger {
	if l, ok := loggers[cat]; ok {
		return l
	}

	l := &Logger{category: cat}
	if categoryEnabled(cat) && logsDir != "" {
		path := filepath.Join(logsDir, string(cat)+".log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err == nil {
			l.file = f
			l.logger = log.New(f, "", log.LstdFlags|log.Lmicroseconds)
		}
	}
	loggers[cat] = l
	return l
}

func (l *Logger) write(level int, prefix, format string, args ...interface{}) {
	if l.logger == nil || level < logLevel {
		return
	}
	l.logger.Printf(prefix+format, args...)
}

// Debug logs a debug-level message.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.write(LevelDebug, "[DEBUG] ", format, args...)
}

// Info logs an info-level message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.write(LevelInfo, "[INFO] ", format, args...)
}

// Warn logs a warning-level message.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.write(LevelWarn, "[WARN] ", format, args...)
}

// Error logs an error-level message.
func (l *Logger) Error(format string, args ...interface{}) {
	l.write(LevelError, "[ERROR] ", format, args...)
}

// =============================================================================
// CATEGORY HELPERS
// =============================================================================

// Store logs an info message to the store category.
func Store(format string, args ...interface{}) { Get(CategoryStore).Info(format, args...) }

// StoreDebug logs a debug message to the store category.
func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }

// Index logs an info message to the index category.
func Index(format string, args ...interface{}) { Get(CategoryIndex).Info(format, args...) }

// IndexDebug logs a debug message to the index category.
func IndexDebug(format string, args ...interface{}) { Get(CategoryIndex).Debug(format, args...) }

// Graph logs an info message to the graph category.
func Graph(format string, args ...interface{}) { Get(CategoryGraph).Info(format, args...) }

// Sweeper logs an info message to the sweeper category.
func Sweeper(format string, args ...interface{}) { Get(CategorySweeper).Info(format, args...) }

// SweeperDebug logs a debug message to the sweeper category.
func SweeperDebug(format string, args ...interface{}) { Get(CategorySweeper).Debug(format, args...) }

// Budget logs an info message to the budget category.
func Budget(format string, args ...interface{}) { Get(CategoryBudget).Info(format, args...) }

// Checkpoint logs an info message to the checkpoint category.
func Checkpoint(format string, args ...interface{}) { Get(CategoryCheckpoint).Info(format, args...) }

// =============================================================================
// PERFORMANCE TIMER
// =============================================================================

// Timer measures the duration of an operation and logs it on Stop.
type Timer struct {
	category Category
	name     string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(cat Category, name string) *Timer {
	return &Timer{category: cat, name: name, start: time.Now()}
}

// Stop logs the elapsed duration at debug level.
func (t *Timer) Stop() {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s took %s", t.name, elapsed)
}
