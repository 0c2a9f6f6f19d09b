package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"visualizer.worker/internal/core/domain"
	"visualizer.worker/internal/core/logger"
	"visualizer.worker/internal/core/ports"
	"visualizer.worker/internal/core/tracing"
)

const KindTranscribe = "transcribe"

var validModelSizes = []string{"tiny", "base", "small", "medium", "large-v3", "large"}

type TranscribeConfig struct {
	Device      string
	ComputeType string
	Credential  string
}

// TranscribeHandler runs speech-to-text jobs against the whisper server. The model
// loaded into the server is cached for the lifetime of the process.
type TranscribeHandler struct {
	catalog     ports.AssetCatalog
	assets      ports.AssetStore
	supervisor  ports.Supervisor
	transcriber ports.Transcriber
	http        *http.Client
	cfg         TranscribeConfig

	mu     sync.Mutex
	loaded string
}

func NewTranscribeHandler(
	catalog ports.AssetCatalog,
	assets ports.AssetStore,
	supervisor ports.Supervisor,
	transcriber ports.Transcriber,
	cfg TranscribeConfig,
) *TranscribeHandler {
	return &TranscribeHandler{
		catalog:     catalog,
		assets:      assets,
		supervisor:  supervisor,
		transcriber: transcriber,
		http:        &http.Client{Timeout: 300 * time.Second},
		cfg:         cfg,
	}
}

func (h *TranscribeHandler) Kind() string { return KindTranscribe }

func (h *TranscribeHandler) Handle(ctx context.Context, job domain.Job) (result domain.Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Transcription job panicked", "panic", r, "stack", string(debug.Stack()))
			result = domain.ErrorResult(fmt.Sprintf("internal error: %v", r))
		}
	}()

	in := job.Input
	size, err := normalizeModelSize(in.ModelSize)
	if err != nil {
		return domain.ErrorResult(err.Error())
	}

	audio, err := h.audio(ctx, in)
	if err != nil {
		return domain.ErrorResult(err.Error())
	}

	descriptors, err := h.catalog.Profile("whisper-" + size)
	if err != nil {
		return fail(ctx, "assets", err)
	}
	credential := in.HFToken
	if credential == "" {
		credential = h.cfg.Credential
	}
	if err := h.assets.Ensure(ctx, descriptors, credential); err != nil {
		return fail(ctx, "assets", err)
	}

	if !h.supervisor.IsReady(ctx) {
		// a relaunched server comes back with its default model
		h.forgetModel()
		if err := h.supervisor.Start(ctx); err != nil {
			return fail(ctx, "backend", err)
		}
	}

	if err := h.loadModel(ctx, descriptors[0].LocalPath); err != nil {
		return fail(ctx, "load_model", err)
	}

	task := in.Task
	if task == "" {
		task = "transcribe"
	}
	words := true
	if in.WordTimestamps != nil {
		words = *in.WordTimestamps
	}

	ctx, span := tracing.StartSpan(ctx, "whisper.transcribe", attribute.String("model_size", size), attribute.Int("bytes", len(audio)))
	start := time.Now()
	tr, err := h.transcriber.Transcribe(ctx, domain.TranscriptionRequest{
		Audio:          audio,
		Filename:       "audio.wav",
		Language:       in.Language,
		Task:           task,
		WordTimestamps: words,
	})
	tracing.End(span, err)
	if err != nil {
		return fail(ctx, "transcribe", err)
	}
	elapsed := time.Since(start).Seconds()

	speed := 0.0
	if elapsed > 0 {
		speed = tr.Duration / elapsed
	}
	segments := tr.Segments
	if segments == nil {
		segments = []domain.Segment{}
	}

	logger.InfoContext(ctx, "Transcription finished", "model_size", size, "duration", tr.Duration, "seconds", elapsed)
	return domain.Result{
		"text":               tr.Text,
		"segments":           segments,
		"language":           tr.Language,
		"duration":           tr.Duration,
		"audio_duration":     tr.Duration,
		"transcription_time": elapsed,
		"model_size":         size,
		"device":             h.cfg.Device,
		"compute_type":       h.cfg.ComputeType,
		"processing_speed":   speed,
	}
}

// loadModel switches the server model when a different size is requested.
func (h *TranscribeHandler) loadModel(ctx context.Context, path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.loaded == path {
		return nil
	}
	start := time.Now()
	if err := h.transcriber.LoadModel(ctx, path); err != nil {
		return err
	}
	h.loaded = path
	logger.InfoContext(ctx, "Loaded whisper model", "path", path, "seconds", time.Since(start).Seconds())
	return nil
}

func (h *TranscribeHandler) forgetModel() {
	h.mu.Lock()
	h.loaded = ""
	h.mu.Unlock()
}

func (h *TranscribeHandler) audio(ctx context.Context, in domain.JobInput) ([]byte, error) {
	switch {
	case in.AudioBase64 != "":
		payload := in.AudioBase64
		if strings.HasPrefix(payload, "data:") {
			_, payload, _ = strings.Cut(payload, ",")
		}
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("Failed to decode base64 audio: %v", err)
		}
		return data, nil
	case in.AudioURL != "":
		data, err := h.download(ctx, in.AudioURL)
		if err != nil {
			return nil, fmt.Errorf("Failed to download audio: %v", err)
		}
		return data, nil
	}
	return nil, errors.New("No audio data provided. Use 'audio_base64' or 'audio_url'")
}

func (h *TranscribeHandler) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s for url: %s", resp.Status, url)
	}
	return io.ReadAll(resp.Body)
}

func normalizeModelSize(size string) (string, error) {
	size = strings.ToLower(strings.TrimSpace(size))
	if size == "" {
		size = "base"
	}
	if size == "large" {
		size = "large-v3"
	}
	for _, valid := range validModelSizes {
		if size == valid {
			return size, nil
		}
	}
	quoted := make([]string, len(validModelSizes))
	for i, s := range validModelSizes {
		quoted[i] = "'" + s + "'"
	}
	return "", fmt.Errorf("Invalid model size: %s. Valid sizes: [%s]", size, strings.Join(quoted, ", "))
}
