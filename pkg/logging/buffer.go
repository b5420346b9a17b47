package logging

import (
	"strings"
	"sync"
)

const captureLines = 200

// LogCaptureWriter is a thread-safe writer keeping the most recent lines.
type LogCaptureWriter struct {
	mu    sync.RWMutex
	lines []string
	max   int
}

// NewLogCapture keeps up to max lines.
func NewLogCapture(max int) *LogCaptureWriter {
	if max < 1 {
		max = 1
	}
	return &LogCaptureWriter{max: max}
}

// GlobalLogCapture captures server log lines.
var GlobalLogCapture = NewLogCapture(captureLines)

// GlobalEventCapture captures job events.
var GlobalEventCapture = NewLogCapture(captureLines)

// Write implements io.Writer. Each call is stored as one line.
func (w *LogCaptureWriter) Write(p []byte) (n int, err error) {
	line := strings.TrimRight(string(p), "\n")
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.lines) == w.max {
		copy(w.lines, w.lines[1:])
		w.lines = w.lines[:w.max-1]
	}
	w.lines = append(w.lines, line)
	return len(p), nil
}

// GetLastLine returns the most recent line.
func (w *LogCaptureWriter) GetLastLine() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.lines) == 0 {
		return ""
	}
	return w.lines[len(w.lines)-1]
}

// Lines returns up to n of the most recent lines, oldest first.
func (w *LogCaptureWriter) Lines(n int) []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if n <= 0 || n > len(w.lines) {
		n = len(w.lines)
	}
	out := make([]string, n)
	copy(out, w.lines[len(w.lines)-n:])
	return out
}
