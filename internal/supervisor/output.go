package supervisor

import (
	"strings"
	"sync"
)

const defaultTailBytes = 4096

// outputWriter forwards process output verbatim to a log callback, optionally
// tees it to a readiness watcher, and keeps the last bytes for error reports.
type outputWriter struct {
	mu      sync.Mutex
	onLog   func(string)
	tee     func(string)
	tail    []byte
	maxTail int
}

func newOutputWriter(onLog func(string), maxTail int) *outputWriter {
	if maxTail <= 0 {
		maxTail = defaultTailBytes
	}
	return &outputWriter{onLog: onLog, maxTail: maxTail}
}

func (w *outputWriter) Write(p []byte) (int, error) {
	chunk := string(p)

	w.mu.Lock()
	w.tail = append(w.tail, p...)
	if over := len(w.tail) - w.maxTail; over > 0 {
		w.tail = w.tail[over:]
	}
	w.mu.Unlock()

	if w.onLog != nil {
		w.onLog(chunk)
	}
	if w.tee != nil {
		w.tee(chunk)
	}
	return len(p), nil
}

// Tail returns the most recent output.
func (w *outputWriter) Tail() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return strings.TrimSpace(strings.ToValidUTF8(string(w.tail), ""))
}

func addressInUse(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "eaddrinuse") || strings.Contains(lower, "address already in use")
}
