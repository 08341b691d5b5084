package engine

import (
	"fmt"
	"time"
)

// LogCapacity is the number of log lines an instance keeps.
const LogCapacity = 50

// Log levels as rendered in log lines.
const (
	levelInfo  = "INFO "
	levelError = "ERROR"
)

// logRing keeps the most recent log lines. Not safe for concurrent use.
type logRing struct {
	lines []string
	next  int
	full  bool
}

func newLogRing() *logRing {
	return &logRing{lines: make([]string, LogCapacity)}
}

func (r *logRing) add(line string) {
	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
}

// snapshot returns the lines oldest first.
func (r *logRing) snapshot() []string {
	if !r.full {
		return append([]string(nil), r.lines[:r.next]...)
	}
	out := make([]string, 0, len(r.lines))
	out = append(out, r.lines[r.next:]...)
	return append(out, r.lines[:r.next]...)
}

// formatLogLine renders "[INFO ][dd.mm HH:MM:SS][identifier][source] msg".
func formatLogLine(level string, t time.Time, identifier, source, msg string) string {
	return fmt.Sprintf("[%s][%s][%s][%s] %s", level, t.Format("02.01 15:04:05"), identifier, source, msg)
}
