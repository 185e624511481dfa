package logger

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ToolName is the fixed name for this tool; log files are prefixed with it.
const ToolName = "repairbench"

// Logger writes structured log lines to a file. A run-level logger also
// echoes progress lines to stdout; per-task loggers are file-only so that
// parallel groups do not interleave their detail output.
type Logger struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	zl     zerolog.Logger
	echo   bool
	closed bool
}

func newLogger(path string, echo bool) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create log file %s: %w", path, err)
	}
	zl := zerolog.New(f).With().Timestamp().Logger()
	return &Logger{path: path, file: f, zl: zl, echo: echo}, nil
}

// NewRunLogger creates the run-wide logger under dir, named with the current
// PID so stale files from dead runs can be identified later.
func NewRunLogger(dir string) (*Logger, error) {
	if strings.TrimSpace(dir) == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%d.log", ToolName, os.Getpid()))
	return newLogger(path, true)
}

// NewTaskLogger creates a dedicated logger for one task, writing into the
// task's output directory.
func NewTaskLogger(taskID, taskOutputDir string) (*Logger, error) {
	l, err := newLogger(filepath.Join(taskOutputDir, "task.log"), false)
	if err != nil {
		return nil, err
	}
	l.zl = l.zl.With().Str("task_id", taskID).Logger()
	return l, nil
}

func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

func (l *Logger) log(level zerolog.Level, msg string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.zl.WithLevel(level).Msg(msg)
}

func (l *Logger) Debug(msg string) { l.log(zerolog.DebugLevel, msg) }
func (l *Logger) Info(msg string)  { l.log(zerolog.InfoLevel, msg) }
func (l *Logger) Warn(msg string)  { l.log(zerolog.WarnLevel, msg) }
func (l *Logger) Error(msg string) { l.log(zerolog.ErrorLevel, msg) }

// Always logs at info level and, for echoing loggers, prints a timestamped
// line to stdout regardless of verbosity.
func (l *Logger) Always(msg string) {
	if l == nil {
		return
	}
	l.log(zerolog.InfoLevel, msg)
	if l.echo {
		fmt.Printf("[%s] %s\n", time.Now().Format("2006-01-02 15:04:05"), msg)
	}
}

// Flush forces buffered log data to disk.
func (l *Logger) Flush() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil && !l.closed {
		_ = l.file.Sync()
	}
}

// Close releases the underlying file. Safe to call more than once.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.file == nil {
		return nil
	}
	l.closed = true
	if err := l.file.Sync(); err != nil {
		_ = l.file.Close()
		return err
	}
	return l.file.Close()
}

// RemoveLogFile closes the logger and deletes its file.
func (l *Logger) RemoveLogFile() error {
	if l == nil {
		return nil
	}
	if err := l.Close(); err != nil {
		return err
	}
	return os.Remove(l.path)
}

// ExtractRecentErrors returns up to limit raw error-level lines from the end
// of the log file, oldest first.
func (l *Logger) ExtractRecentErrors(limit int) []string {
	if l == nil || limit <= 0 {
		return nil
	}
	l.Flush()

	f, err := os.Open(l.path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var entries []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, `"level":"error"`) {
			entries = append(entries, line)
		}
	}
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries
}
