package supervisor

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"visualizer.worker/internal/config"
	"visualizer.worker/internal/core/domain"
)

// healthServer answers 503 until healthyAfter requests were seen.
func healthServer(t *testing.T, healthyAfter int32) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if healthyAfter < 0 || n <= healthyAfter {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"system":{}}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func backendConfig(t *testing.T, srv *httptest.Server) config.BackendConfig {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(u.Port())
	return config.BackendConfig{
		Command:       "sleep",
		Args:          []string{"30"},
		Host:          u.Hostname(),
		Port:          port,
		HealthPath:    "/system_stats",
		ReadyInterval: 10 * time.Millisecond,
		ReadyAttempts: 20,
	}
}

func TestProcessStartAlreadyReady(t *testing.T) {
	srv, _ := healthServer(t, 0)
	cfg := backendConfig(t, srv)
	cfg.Command = "/nonexistent/backend"

	p := NewProcess(cfg)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if p.cmd != nil {
		t.Error("Start() launched a process although the backend was ready")
	}
}

func TestProcessStartWaitsForHealth(t *testing.T) {
	srv, hits := healthServer(t, 3)
	p := NewProcess(backendConfig(t, srv))
	t.Cleanup(func() { p.Stop(context.Background()) })

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if got := atomic.LoadInt32(hits); got != 4 {
		t.Errorf("health queries = %d, want 4", got)
	}
	if !p.IsReady(context.Background()) {
		t.Error("IsReady() = false after Start")
	}

	if err := p.Stop(context.Background()); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if p.cmd != nil {
		t.Error("Stop() kept the process handle")
	}
}

func TestProcessStartNeverHealthy(t *testing.T) {
	srv, hits := healthServer(t, -1)
	cfg := backendConfig(t, srv)
	cfg.ReadyAttempts = 3
	p := NewProcess(cfg)
	t.Cleanup(func() { p.Stop(context.Background()) })

	err := p.Start(context.Background())
	if !errors.Is(err, domain.ErrBackendUnready) {
		t.Fatalf("Start() error = %v, want ErrBackendUnready", err)
	}
	// one probe before launching plus the attempt budget
	if got := atomic.LoadInt32(hits); got != 4 {
		t.Errorf("health queries = %d, want 4", got)
	}
}

func TestProcessStartBackendExits(t *testing.T) {
	srv, _ := healthServer(t, -1)
	cfg := backendConfig(t, srv)
	cfg.Command = "false"
	cfg.Args = nil
	cfg.ReadyAttempts = 500

	start := time.Now()
	err := NewProcess(cfg).Start(context.Background())
	if !errors.Is(err, domain.ErrBackendUnready) {
		t.Fatalf("Start() error = %v, want ErrBackendUnready", err)
	}
	if time.Since(start) > 4*time.Second {
		t.Error("Start() did not notice the exited backend")
	}
}

func TestProcessStartMissingBinary(t *testing.T) {
	srv, _ := healthServer(t, -1)
	cfg := backendConfig(t, srv)
	cfg.Command = "/nonexistent/backend"

	if err := NewProcess(cfg).Start(context.Background()); err == nil {
		t.Fatal("Start() should fail for a missing binary")
	}
}

func TestIsReadyUnreachable(t *testing.T) {
	p := NewProcess(config.BackendConfig{Host: "127.0.0.1", Port: 1, HealthPath: "/health", ReadyAttempts: 1})
	if p.IsReady(context.Background()) {
		t.Error("IsReady() = true for a closed port")
	}
}

func frame(stream byte, payload string) []byte {
	header := make([]byte, 8)
	header[0] = stream
	binary.BigEndian.PutUint32(header[4:], uint32(len(payload)))
	return append(header, payload...)
}

func TestDemultiplexStream(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(frame(1, "model loaded\n"))
	buf.Write(frame(2, "warning: low vram\n"))
	buf.Write(frame(1, ""))

	var got []string
	if err := demultiplexStream(&buf, func(p string) { got = append(got, p) }); err != nil {
		t.Fatalf("demultiplexStream() error = %v", err)
	}
	want := []string{"model loaded\n", "warning: low vram\n"}
	if len(got) != len(want) {
		t.Fatalf("payloads = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("payload[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDemultiplexStreamTruncated(t *testing.T) {
	data := frame(1, "complete")
	data = append(data, frame(1, "cut off")[:10]...)

	var got []string
	err := demultiplexStream(bytes.NewReader(data), func(p string) { got = append(got, p) })
	if err == nil {
		t.Error("expected error for truncated frame")
	}
	if len(got) != 1 || got[0] != "complete" {
		t.Errorf("payloads = %q", got)
	}
}

func TestLogWriterBuffersPartialLines(t *testing.T) {
	w := &logWriter{stream: "stdout"}
	w.Write([]byte("Starting server\nTo see the GUI go to: "))
	if got := w.buf.String(); got != "To see the GUI go to: " {
		t.Errorf("buffered = %q", got)
	}
	w.Write([]byte("http://127.0.0.1:8188\n"))
	if w.buf.Len() != 0 {
		t.Errorf("buffered = %q after newline", w.buf.String())
	}
	w.Write([]byte("tail"))
	w.Flush()
	if w.buf.Len() != 0 {
		t.Error("Flush() kept data")
	}
}

func TestLogWriterReportsCarriageReturnFrames(t *testing.T) {
	type frame struct{ step, total int }
	var got []frame
	w := &logWriter{stream: "stderr", progress: func(step, total int) {
		got = append(got, frame{step, total})
	}}

	w.Write([]byte(" 10%|#         | 2/20 [00:01<00:09,  2.00it/s]\r"))
	if len(got) != 1 || got[0] != (frame{2, 20}) {
		t.Fatalf("after first frame: %v", got)
	}
	w.Write([]byte(" 50%|#####     | 10/20 [00:05<00:05,  2.00it/s]\r"))
	if len(got) != 2 || got[1] != (frame{10, 20}) {
		t.Fatalf("after second frame: %v", got)
	}
	if w.buf.Len() != 0 {
		t.Errorf("buffered = %q", w.buf.String())
	}

	w.Write([]byte("100%|##########| 20/20 [00:10<00:00,  2.00it/s]\r\nPrompt executed in 10.1 seconds\r\n"))
	if len(got) != 3 || got[2] != (frame{20, 20}) {
		t.Errorf("after close: %v", got)
	}
	if w.buf.Len() != 0 {
		t.Errorf("buffered = %q after CRLF", w.buf.String())
	}
}

func TestLogWriterCapsUnterminatedOutput(t *testing.T) {
	w := &logWriter{stream: "stdout"}
	w.Write(bytes.Repeat([]byte("x"), maxPending+1))
	if w.buf.Len() != 0 {
		t.Errorf("buffered %d bytes past the cap", w.buf.Len())
	}
}
