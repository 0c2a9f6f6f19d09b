package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	KindImage      = "image"
	KindTranscribe = "transcribe"
	KindGenerate   = "generate"

	RuntimeProcess = "process"
	RuntimeDocker  = "docker"
)

type Config struct {
	// Worker
	WorkerKind string

	// Server
	HTTPPort string
	GRPCPort string

	// Queue
	RedisURL     string
	QueueEnabled bool

	// Run ledger, disabled when empty
	DatabaseURL string

	// MQTT event fan-out, disabled when empty
	MQTTBroker string

	// Artifact archive bucket URL (s3://, gs://, file://), disabled when empty
	ArtifactBucket string
	ArtifactPrefix string

	// Logging
	LogLevel  slog.Level
	LogFormat string // "json" or "text"

	// Tracing
	OTLPEndpoint string
	ServiceName  string

	// Features
	EnableMetrics bool
	EnableTracing bool

	Backend BackendConfig
	Assets  AssetsConfig
	Poll    PollConfig

	// Text generation
	LLMModel string

	// Device hints
	Device      string
	ComputeType string
}

type BackendConfig struct {
	Runtime       string // "process" or "docker"
	Command       string
	Args          []string
	Image         string
	ContainerName string
	Host          string
	Port          int
	HealthPath    string
	StrayPattern  string
	Grace         time.Duration
	ReadyInterval time.Duration
	ReadyAttempts int
}

// BaseURL is the loopback address the backend listens on.
func (b BackendConfig) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", b.Host, b.Port)
}

type AssetsConfig struct {
	ModelsDir       string
	VolumeModelsDir string
	CatalogFile     string
	HFToken         string
	Precision       string
}

type PollConfig struct {
	Interval    time.Duration
	MaxAttempts int
}

func Load() (*Config, error) {
	// A missing .env is normal in containers.
	_ = godotenv.Load()

	kind := strings.ToLower(getEnv("WORKER_KIND", KindImage))
	switch kind {
	case KindImage, KindTranscribe, KindGenerate:
	default:
		return nil, fmt.Errorf("unknown WORKER_KIND %q", kind)
	}

	cfg := &Config{
		WorkerKind:     kind,
		HTTPPort:       getEnv("HTTP_PORT", "8080"),
		GRPCPort:       getEnv("GRPC_PORT", "9000"),
		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
		QueueEnabled:   getEnvBool("QUEUE_ENABLED", true),
		DatabaseURL:    getEnv("DB_URL", ""),
		MQTTBroker:     getEnv("MQTT_BROKER", ""),
		ArtifactBucket: getEnv("ARTIFACT_BUCKET", ""),
		ArtifactPrefix: getEnv("ARTIFACT_PREFIX", "visualizer"),
		LogFormat:      getEnv("LOG_FORMAT", "text"),
		OTLPEndpoint:   getEnv("OTLP_ENDPOINT", ""),
		ServiceName:    getEnv("SERVICE_NAME", "visualizer-worker"),
		EnableMetrics:  getEnvBool("ENABLE_METRICS", true),
		EnableTracing:  getEnvBool("ENABLE_TRACING", false),
		LLMModel:       getEnv("LLM_MODEL", getEnv("MODEL_NAME", "moonshotai/Kimi-K2-Instruct")),
		Poll: PollConfig{
			Interval:    getEnvDuration("POLL_INTERVAL", 5*time.Second),
			MaxAttempts: getEnvInt("POLL_MAX_ATTEMPTS", 180),
		},
	}

	cfg.LogLevel = parseLevel(getEnv("LOG_LEVEL", "info"))

	cfg.Device = getEnv("DEVICE", "")
	if cfg.Device == "" {
		cfg.Device = "cpu"
		if os.Getenv("CUDA_VISIBLE_DEVICES") != "" {
			cfg.Device = "cuda"
		}
	}
	cfg.ComputeType = getEnv("COMPUTE_TYPE", "")
	if cfg.ComputeType == "" {
		cfg.ComputeType = "int8"
		if cfg.Device == "cuda" {
			cfg.ComputeType = "float16"
		}
	}

	cfg.Assets = AssetsConfig{
		ModelsDir:       getEnv("MODELS_DIR", "/workspace/ComfyUI/models"),
		VolumeModelsDir: getEnv("VOLUME_MODELS_DIR", "/runpod-volume/models"),
		CatalogFile:     getEnv("ASSET_CATALOG", ""),
		HFToken:         getEnv("HF_TOKEN", getEnv("HUGGINGFACE_TOKEN", "")),
		Precision:       strings.ToLower(getEnv("MODEL_PRECISION", "fp8")),
	}

	cfg.Backend = defaultBackend(kind, cfg.Assets.ModelsDir, cfg.LLMModel)
	cfg.Backend.Runtime = strings.ToLower(getEnv("BACKEND_RUNTIME", RuntimeProcess))
	if cfg.Backend.Runtime != RuntimeProcess && cfg.Backend.Runtime != RuntimeDocker {
		return nil, fmt.Errorf("unknown BACKEND_RUNTIME %q", cfg.Backend.Runtime)
	}
	cfg.Backend.Command = getEnv("BACKEND_COMMAND", cfg.Backend.Command)
	if args, ok := os.LookupEnv("BACKEND_ARGS"); ok {
		cfg.Backend.Args = strings.Fields(args)
	}
	cfg.Backend.Image = getEnv("BACKEND_IMAGE", cfg.Backend.Image)
	cfg.Backend.ContainerName = getEnv("BACKEND_CONTAINER_NAME", cfg.Backend.ContainerName)
	cfg.Backend.Host = getEnv("BACKEND_HOST", cfg.Backend.Host)
	cfg.Backend.Port = getEnvInt("BACKEND_PORT", cfg.Backend.Port)
	cfg.Backend.HealthPath = getEnv("BACKEND_HEALTH_PATH", cfg.Backend.HealthPath)
	cfg.Backend.StrayPattern = getEnv("BACKEND_STRAY_PATTERN", cfg.Backend.StrayPattern)
	cfg.Backend.Grace = getEnvDuration("BACKEND_GRACE", cfg.Backend.Grace)
	cfg.Backend.ReadyInterval = getEnvDuration("BACKEND_READY_INTERVAL", cfg.Backend.ReadyInterval)
	cfg.Backend.ReadyAttempts = getEnvInt("BACKEND_READY_ATTEMPTS", cfg.Backend.ReadyAttempts)

	return cfg, nil
}

// defaultBackend describes how each worker kind launches its inference server.
func defaultBackend(kind, modelsDir, llmModel string) BackendConfig {
	b := BackendConfig{
		Host:          "127.0.0.1",
		HealthPath:    "/health",
		Grace:         2 * time.Second,
		ReadyInterval: time.Second,
		ReadyAttempts: 60,
	}

	switch kind {
	case KindImage:
		b.Port = 8188
		b.Command = "python"
		b.Args = []string{
			"/workspace/ComfyUI/main.py",
			"--listen", b.Host,
			"--port", strconv.Itoa(b.Port),
			"--preview-method", "none",
			"--disable-smart-memory",
		}
		b.Image = "ghcr.io/ai-dock/comfyui:latest"
		b.ContainerName = "comfyui-backend"
		b.HealthPath = "/system_stats"
		b.StrayPattern = "python.*main.py"
	case KindTranscribe:
		b.Port = 8178
		b.Command = "whisper-server"
		b.Args = []string{
			"--host", b.Host,
			"--port", strconv.Itoa(b.Port),
			"-m", filepath.Join(modelsDir, "whisper", "ggml-base.bin"),
		}
		b.Image = "ghcr.io/ggerganov/whisper.cpp:main"
		b.ContainerName = "whisper-backend"
		b.StrayPattern = "whisper-server"
	case KindGenerate:
		b.Port = 8000
		b.Command = "python"
		b.Args = []string{
			"-m", "vllm.entrypoints.openai.api_server",
			"--host", b.Host,
			"--port", strconv.Itoa(b.Port),
			"--model", llmModel,
			"--trust-remote-code",
		}
		b.Image = "vllm/vllm-openai:latest"
		b.ContainerName = "vllm-backend"
		b.StrayPattern = "vllm.entrypoints"
		// Large checkpoints take minutes to load.
		b.ReadyAttempts = 900
	}
	return b
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("5s") or plain seconds ("5").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d >= 0 {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
