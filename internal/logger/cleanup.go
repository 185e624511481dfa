package logger

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// CleanupStats summarizes one stale-log sweep.
type CleanupStats struct {
	Scanned      int
	Deleted      int
	Kept         int
	Errors       int
	DeletedFiles []string
	KeptFiles    []string
}

// Overridable for tests.
var (
	processRunningCheck = isProcessRunning
	processStartTimeFn  = getProcessStartTime
	removeLogFileFn     = os.Remove
	globLogFiles        = filepath.Glob
	fileStatFn          = os.Lstat
)

// CleanupOldLogs removes log files under dir left behind by runs whose
// process is no longer alive. Files owned by live PIDs are kept, as are
// files whose name does not carry a parseable PID.
func CleanupOldLogs(dir string) (CleanupStats, error) {
	var stats CleanupStats

	if strings.TrimSpace(dir) == "" {
		dir = os.TempDir()
	}

	matches, err := globLogFiles(filepath.Join(dir, ToolName+"-*.log"))
	if err != nil {
		return stats, err
	}

	selfPID := os.Getpid()
	for _, path := range matches {
		pid, ok := pidFromLogName(filepath.Base(path))
		if !ok {
			continue
		}
		stats.Scanned++

		if pid == selfPID || ownerAlive(pid, path) {
			stats.Kept++
			stats.KeptFiles = append(stats.KeptFiles, path)
			continue
		}

		if err := removeLogFileFn(path); err != nil {
			stats.Errors++
			continue
		}
		stats.Deleted++
		stats.DeletedFiles = append(stats.DeletedFiles, path)
	}

	return stats, nil
}

// ownerAlive reports whether the PID that created the log file is still the
// same live process. A live PID whose start time postdates the log file is
// treated as PID reuse, so the file counts as orphaned.
func ownerAlive(pid int, path string) bool {
	if !processRunningCheck(pid) {
		return false
	}
	started := processStartTimeFn(pid)
	if started.IsZero() {
		// Cannot tell; keep the file rather than risk deleting a live log.
		return true
	}
	info, err := fileStatFn(path)
	if err != nil {
		return true
	}
	// Small skew allowance for filesystems with coarse timestamps.
	return !started.After(info.ModTime().Add(2 * time.Second))
}

// pidFromLogName parses "<tool>-<pid>.log" or "<tool>-<pid>-<suffix>.log".
func pidFromLogName(name string) (int, bool) {
	trimmed := strings.TrimPrefix(name, ToolName+"-")
	if trimmed == name {
		return 0, false
	}
	trimmed = strings.TrimSuffix(trimmed, ".log")
	if idx := strings.IndexByte(trimmed, '-'); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	pid, err := strconv.Atoi(trimmed)
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}
