package runner

import "bytes"

const logLineLimit = 2000

// logWriter splits a process output stream into lines, caps their length
// and forwards them to the task logger.
type logWriter struct {
	prefix  string
	maxLen  int
	logFn   func(string)
	buf     bytes.Buffer
	dropped bool
}

func newLogWriter(prefix string, maxLen int, logFn func(string)) *logWriter {
	if maxLen <= 0 {
		maxLen = logLineLimit
	}
	if logFn == nil {
		logFn = func(string) {}
	}
	return &logWriter{prefix: prefix, maxLen: maxLen, logFn: logFn}
}

func (lw *logWriter) Write(p []byte) (int, error) {
	if lw == nil {
		return len(p), nil
	}
	total := len(p)
	for len(p) > 0 {
		if idx := bytes.IndexByte(p, '\n'); idx >= 0 {
			lw.writeLimited(p[:idx])
			lw.logLine(true)
			p = p[idx+1:]
			continue
		}
		lw.writeLimited(p)
		break
	}
	return total, nil
}

func (lw *logWriter) Flush() {
	if lw == nil || lw.buf.Len() == 0 {
		return
	}
	lw.logLine(false)
}

func (lw *logWriter) logLine(force bool) {
	line := lw.buf.String()
	dropped := lw.dropped
	lw.dropped = false
	lw.buf.Reset()
	if line == "" && !force {
		return
	}
	if lw.maxLen > 0 && (dropped || len(line) > lw.maxLen) {
		cutoff := min(len(line), lw.maxLen)
		if lw.maxLen > 3 {
			line = line[:min(cutoff, lw.maxLen-3)] + "..."
		} else {
			line = line[:cutoff]
		}
	}
	lw.logFn(lw.prefix + line)
}

func (lw *logWriter) writeLimited(p []byte) {
	if len(p) == 0 {
		return
	}
	if lw.maxLen <= 0 {
		lw.buf.Write(p)
		return
	}

	remaining := lw.maxLen - lw.buf.Len()
	if remaining <= 0 {
		lw.dropped = true
		return
	}
	if len(p) <= remaining {
		lw.buf.Write(p)
		return
	}
	lw.buf.Write(p[:remaining])
	lw.dropped = true
}

// tailBuffer keeps the last limit bytes written to it; used to attach the
// tail of a failed process's output to its error message.
type tailBuffer struct {
	limit int
	data  []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	if b.limit <= 0 {
		return len(p), nil
	}

	if len(p) >= b.limit {
		b.data = append(b.data[:0], p[len(p)-b.limit:]...)
		return len(p), nil
	}

	total := len(b.data) + len(p)
	if total <= b.limit {
		b.data = append(b.data, p...)
		return len(p), nil
	}

	overflow := total - b.limit
	b.data = append(b.data[overflow:], p...)
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return string(b.data)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
