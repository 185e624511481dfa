package logger

import "sync/atomic"

var runLoggerPtr atomic.Pointer[Logger]

// SetRunLogger installs the run-wide logger used by the package-level
// helpers. Passing nil clears it.
func SetRunLogger(l *Logger) {
	runLoggerPtr.Store(l)
}

// CloseRunLogger detaches and closes the run-wide logger, if any.
func CloseRunLogger() error {
	l := runLoggerPtr.Swap(nil)
	if l == nil {
		return nil
	}
	return l.Close()
}

// ActiveRunLogger returns the currently installed run-wide logger, or nil.
func ActiveRunLogger() *Logger {
	return runLoggerPtr.Load()
}

func LogDebug(msg string) {
	if l := ActiveRunLogger(); l != nil {
		l.Debug(msg)
	}
}

func LogInfo(msg string) {
	if l := ActiveRunLogger(); l != nil {
		l.Info(msg)
	}
}

func LogWarn(msg string) {
	if l := ActiveRunLogger(); l != nil {
		l.Warn(msg)
	}
}

func LogError(msg string) {
	if l := ActiveRunLogger(); l != nil {
		l.Error(msg)
	}
}

// Progress writes a run-progress line: logged, and printed to stdout when
// the run logger echoes. Used for the one-line-per-task status stream.
func Progress(msg string) {
	if l := ActiveRunLogger(); l != nil {
		l.Always(msg)
	}
}
