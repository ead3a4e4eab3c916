// Package klog is the paging core's logging sink: every subsystem writes
// through here instead of directly to stderr, so a fixed amount of recent
// log history is always available for a post-mortem dump through Tail.
package klog

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/text/message"

	"circbuf"
)

/// defaultRingBytes is the size of the in-memory tail kept for diagnostics.
/// biscuit's console ring is similarly small: dmesg-style logs are for
/// "what just happened", not a full audit trail.
const defaultRingBytes = 64 * 1024

var (
	mu     sync.Mutex
	out    io.Writer = os.Stderr
	ring             = circbuf.NewRing(defaultRingBytes)
	printr           = message.NewPrinter(message.MatchLanguage("en"))
)

/// SetOutput redirects where log lines are written, in addition to the
/// in-memory ring. Tests use this to capture output.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	out = w
}

/// Printf writes a formatted log line to the configured output and appends
/// it to the in-memory ring.
func Printf(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	line := fmt.Sprintf(format, args...)
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line += "\n"
	}
	io.WriteString(out, line)
	ring.Write([]byte(line))
}

/// Bootf is Printf for bootstrap-time messages, where counts (bytes of RAM,
/// number of frames, swap device size) are rendered with thousands
/// separators for human readability.
func Bootf(format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	line := printr.Sprintf(format, args...)
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line += "\n"
	}
	io.WriteString(out, line)
	ring.Write([]byte(line))
}

/// Tail returns a copy of the buffered log history, oldest line first.
func Tail() []byte {
	mu.Lock()
	defer mu.Unlock()
	return ring.Snapshot()
}
