package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"visualizer.worker/internal/adapters/handler/grpc"
	http_handler "visualizer.worker/internal/adapters/handler/http"
	"visualizer.worker/internal/adapters/handler/mqtt"
	redis_adapter "visualizer.worker/internal/adapters/queue/redis"
	"visualizer.worker/internal/adapters/repository/pg"
	"visualizer.worker/internal/adapters/storage/blob"
	"visualizer.worker/internal/agent"
	"visualizer.worker/internal/assets"
	"visualizer.worker/internal/backend/comfy"
	"visualizer.worker/internal/backend/llm"
	"visualizer.worker/internal/backend/whisper"
	"visualizer.worker/internal/config"
	"visualizer.worker/internal/core/logger"
	"visualizer.worker/internal/core/ports"
	"visualizer.worker/internal/core/services"
	"visualizer.worker/internal/core/tracing"
	"visualizer.worker/internal/supervisor"
)

var version = "0.1.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Initialize structured logger
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	logger.Info("Starting visualizer worker", "kind", cfg.WorkerKind, "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize tracing
	if cfg.EnableTracing {
		shutdownTracing, err := tracing.Init(cfg.ServiceName, cfg.OTLPEndpoint)
		if err != nil {
			logger.Error("Failed to initialize tracing", "error", err)
		} else {
			logger.Info("Tracing initialized", "endpoint", cfg.OTLPEndpoint)
			defer func() {
				if err := shutdownTracing(context.Background()); err != nil {
					logger.Error("Failed to shutdown tracing", "error", err)
				}
			}()
		}
	}

	// Model storage
	modelsDir, err := assets.LinkVolume(cfg.Assets.VolumeModelsDir, cfg.Assets.ModelsDir)
	if err != nil {
		log.Fatalf("failed to prepare models dir: %v", err)
	}
	catalog := assets.DefaultCatalog(modelsDir)
	if cfg.Assets.CatalogFile != "" {
		catalog, err = assets.LoadCatalogFile(cfg.Assets.CatalogFile, modelsDir)
		if err != nil {
			log.Fatalf("failed to load asset catalog: %v", err)
		}
	}
	logger.Info("Asset catalog loaded", "models_dir", modelsDir, "profiles", catalog.Profiles())
	store := assets.NewStore(nil)

	// Backend runtime
	sup, err := newSupervisor(cfg, modelsDir)
	if err != nil {
		log.Fatalf("failed to init backend supervisor: %v", err)
	}

	var archive *blob.Archive
	if cfg.ArtifactBucket != "" && cfg.WorkerKind == config.KindImage {
		archive, err = blob.Open(ctx, cfg.ArtifactBucket, cfg.ArtifactPrefix)
		if err != nil {
			logger.Warn("Artifact archive unavailable", "bucket", cfg.ArtifactBucket, "error", err)
		} else {
			defer archive.Close()
		}
	}
	handler, diagnostics := newHandler(cfg, catalog, store, sup, archive)

	// Optional adapters
	var (
		queue       *redis_adapter.RedisAdapter
		redisClient *redis.Client
	)
	if cfg.QueueEnabled {
		queue, redisClient, err = connectRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("Redis unavailable, queue consumer disabled", "error", err)
		}
	}

	var (
		runs *pg.Repository
		db   *gorm.DB
	)
	if cfg.DatabaseURL != "" {
		runs, err = pg.NewRepository(cfg.DatabaseURL)
		if err != nil {
			logger.Warn("Run ledger unavailable", "error", err)
		} else {
			db = runs.DB()
		}
	}

	var mqttPublisher *mqtt.Publisher
	if cfg.MQTTBroker != "" {
		mqttPublisher, err = mqtt.NewPublisher(cfg.MQTTBroker, cfg.WorkerKind)
		if err != nil {
			logger.Warn("Failed to init MQTT publisher", "error", err)
		} else {
			defer mqttPublisher.Close()
		}
	}

	var wg sync.WaitGroup
	goRun := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	hub := http_handler.NewHub()
	goRun(func() { hub.Run(ctx) })

	// Job events go through Redis when available so every replica's hub sees them.
	var runnerOpts []services.RunnerOption
	if queue != nil {
		runnerOpts = append(runnerOpts, services.WithEvents(queue))
		goRun(func() { hub.EventConsumer(ctx, queue) })
		if mqttPublisher != nil {
			goRun(func() { mqttPublisher.Consume(ctx, queue) })
		}
	} else {
		runnerOpts = append(runnerOpts, services.WithEvents(hub))
		if mqttPublisher != nil {
			runnerOpts = append(runnerOpts, services.WithEvents(mqttPublisher))
		}
	}
	if runs != nil {
		runnerOpts = append(runnerOpts, services.WithRunLedger(runs))
	}
	runner := services.NewRunner(handler, runnerOpts...)

	// Bring the backend up once; jobs retry Start on their own if this fails.
	goRun(func() {
		if err := sup.Start(ctx); err != nil {
			logger.Warn("Backend failed to start, running degraded", "error", err)
			return
		}
		logger.Info("Backend ready", "url", cfg.Backend.BaseURL())
	})

	monitor := services.NewBackendMonitor(sup)
	goRun(func() { monitor.Start(ctx) })
	goRun(func() { relayAlerts(ctx, monitor, hub, mqttPublisher) })

	// HTTP surface
	healthSvc := services.NewHealthService(sup, redisClient, db, cfg.WorkerKind, version)
	var httpOpts []http_handler.Option
	if !cfg.EnableMetrics {
		httpOpts = append(httpOpts, http_handler.WithoutMetrics())
	}
	if queue != nil {
		httpOpts = append(httpOpts,
			http_handler.WithQueue(queue),
			http_handler.WithDeadLetters(redis_adapter.NewDeadLetterQueue(redisClient)),
		)
	}
	if runs != nil {
		httpOpts = append(httpOpts, http_handler.WithRunService(services.NewRunService(runs)))
	}
	if diagnostics != nil {
		httpOpts = append(httpOpts, http_handler.WithDiagnostics(diagnostics))
	}
	httpServer := http_handler.NewServer(runner, healthSvc, hub, httpOpts...)
	goRun(func() {
		logger.Info("HTTP server starting", "port", cfg.HTTPPort)
		if err := httpServer.Run(ctx, ":"+cfg.HTTPPort); err != nil {
			logger.Error("HTTP server failed", "error", err)
			stop()
		}
	})

	// gRPC health
	grpcServer := grpc.NewServer(sup, cfg.WorkerKind)
	goRun(func() {
		if err := grpcServer.Serve(ctx, ":"+cfg.GRPCPort); err != nil {
			logger.Error("gRPC server failed", "error", err)
			stop()
		}
	})

	// Queue consumer
	if queue != nil {
		consumer := agent.New(queue, runner,
			agent.WithDeadLetterQueue(redis_adapter.NewDeadLetterQueue(redisClient)),
		)
		goRun(func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Error("Queue consumer stopped", "error", err)
			}
		})
	}

	<-ctx.Done()
	logger.Info("Shutting down gracefully...")
	wg.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := sup.Stop(stopCtx); err != nil {
		logger.Error("Failed to stop backend", "error", err)
	}
	if redisClient != nil {
		redisClient.Close()
	}
	logger.Info("Worker stopped")
}

func newSupervisor(cfg *config.Config, modelsDir string) (ports.Supervisor, error) {
	if cfg.Backend.Runtime == config.RuntimeDocker {
		return supervisor.NewDocker(cfg.Backend, modelsDir)
	}
	return supervisor.NewProcess(cfg.Backend), nil
}

// newHandler picks the job handler for the worker kind. Only the image engine
// exposes diagnostics.
func newHandler(cfg *config.Config, catalog *assets.Catalog, store *assets.Store, sup ports.Supervisor, archive *blob.Archive) (ports.JobHandler, http_handler.BackendDiagnostics) {
	baseURL := cfg.Backend.BaseURL()

	switch cfg.WorkerKind {
	case config.KindTranscribe:
		return services.NewTranscribeHandler(catalog, store, sup, whisper.New(baseURL), services.TranscribeConfig{
			Device:      cfg.Device,
			ComputeType: cfg.ComputeType,
			Credential:  cfg.Assets.HFToken,
		}), nil
	case config.KindGenerate:
		return services.NewGenerateHandler(sup, llm.New(baseURL, cfg.LLMModel), cfg.LLMModel), nil
	default:
		engine := comfy.New(baseURL)
		poller := services.NewPoller(engine, cfg.Poll.Interval, cfg.Poll.MaxAttempts)
		imageCfg := services.ImageConfig{
			DefaultPrecision: cfg.Assets.Precision,
			Credential:       cfg.Assets.HFToken,
		}
		if archive != nil {
			imageCfg.Archive = archive
		}
		return services.NewImageOrchestrator(catalog, store, sup, engine, poller, imageCfg), engine
	}
}

func connectRedis(ctx context.Context, url string) (*redis_adapter.RedisAdapter, *redis.Client, error) {
	queue, client, err := redis_adapter.NewRedisAdapter(url)
	if err != nil {
		return nil, nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, err
	}
	return queue, client, nil
}

// relayAlerts forwards backend online/offline transitions to websocket and MQTT subscribers.
func relayAlerts(ctx context.Context, monitor *services.BackendMonitor, hub *http_handler.Hub, publisher *mqtt.Publisher) {
	for {
		select {
		case <-ctx.Done():
			return
		case alert := <-monitor.Alerts():
			logger.Info("Backend status changed", "event", alert.Event)
			hub.Broadcast(http_handler.Message{Type: "backend_alert", Payload: alert})
			if publisher != nil {
				if err := publisher.PublishNotice("backend_"+alert.Event, alert); err != nil {
					logger.Warn("MQTT notice failed", "error", err)
				}
			}
		}
	}
}

