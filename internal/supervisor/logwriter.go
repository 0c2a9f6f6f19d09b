package supervisor

import (
	"bytes"
	"strings"
	"sync"

	"visualizer.worker/internal/core/logger"
	"visualizer.worker/internal/core/metrics"
)

// maxPending bounds an unterminated line; longer output is emitted as is.
const maxPending = 64 << 10

// logWriter forwards backend output to the structured logger one line at a time.
// Progress bars redraw with carriage returns, so a '\r' also ends a frame.
type logWriter struct {
	mu       sync.Mutex
	stream   string
	buf      bytes.Buffer
	progress func(step, total int)
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		data := w.buf.Bytes()
		i := bytes.IndexAny(data, "\r\n")
		if i < 0 {
			break
		}
		w.emit(string(data[:i]))
		w.buf.Next(i + 1)
	}
	if w.buf.Len() > maxPending {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
	return len(p), nil
}

func (w *logWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
}

func (w *logWriter) emit(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if step, total, ok := parseProgress(line); ok {
		w.reportProgress(step, total)
		return
	}
	logger.Debug("backend", "stream", w.stream, "line", line)
}

func (w *logWriter) reportProgress(step, total int) {
	if w.progress != nil {
		w.progress(step, total)
		return
	}
	metrics.SetBackendProgress(step, total)
}
