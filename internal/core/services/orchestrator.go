package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"go.opentelemetry.io/otel/attribute"

	"visualizer.worker/internal/core/domain"
	"visualizer.worker/internal/core/logger"
	"visualizer.worker/internal/core/metrics"
	"visualizer.worker/internal/core/ports"
	"visualizer.worker/internal/core/tracing"
)

const KindImage = "image"

type ImageConfig struct {
	DefaultPrecision string
	Credential       string // used when the job brings no hf_token
	// Archive, when set, receives a copy of every successful job's images.
	Archive ports.ArtifactArchive
}

// ImageOrchestrator runs an image-graph job from asset verification to the encoded result.
type ImageOrchestrator struct {
	catalog    ports.AssetCatalog
	assets     ports.AssetStore
	supervisor ports.Supervisor
	submitter  *Submitter
	waiter     ports.CompletionWaiter
	extractor  *Extractor
	cfg        ImageConfig
}

func NewImageOrchestrator(
	catalog ports.AssetCatalog,
	assets ports.AssetStore,
	supervisor ports.Supervisor,
	engine ports.Engine,
	waiter ports.CompletionWaiter,
	cfg ImageConfig,
) *ImageOrchestrator {
	if cfg.DefaultPrecision == "" {
		cfg.DefaultPrecision = "fp8"
	}
	return &ImageOrchestrator{
		catalog:    catalog,
		assets:     assets,
		supervisor: supervisor,
		submitter:  NewSubmitter(engine),
		waiter:     waiter,
		extractor:  NewExtractor(engine),
		cfg:        cfg,
	}
}

func (o *ImageOrchestrator) Kind() string { return KindImage }

// Handle never returns a Go error: every failure, panics included, becomes {"error": msg}.
func (o *ImageOrchestrator) Handle(ctx context.Context, job domain.Job) (result domain.Result) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Image job panicked", "panic", r, "stack", string(debug.Stack()))
			result = domain.ErrorResult(fmt.Sprintf("internal error: %v", r))
		}
	}()

	graph, err := job.Input.Graph()
	if err != nil {
		return fail(ctx, "input", err)
	}
	logger.InfoContext(ctx, "Received image job", "nodes", len(graph))

	precision := job.Input.Precision
	if precision == "" {
		precision = o.cfg.DefaultPrecision
	}
	credential := job.Input.HFToken
	if credential == "" {
		credential = o.cfg.Credential
	}

	if err := o.ensureAssets(ctx, precision, credential); err != nil {
		return fail(ctx, "assets", err)
	}

	if err := o.ensureBackend(ctx); err != nil {
		return fail(ctx, "backend", err)
	}

	trackingID, err := o.submit(ctx, graph)
	if err != nil {
		return fail(ctx, "submit", err)
	}

	rec, err := o.poll(ctx, trackingID)
	if err != nil {
		return fail(ctx, "poll", err)
	}

	images, err := o.extract(ctx, rec)
	if err != nil {
		return fail(ctx, "extract", err)
	}

	o.archive(ctx, job.ID, images)

	logger.InfoContext(ctx, "Image job finished", "prompt_id", trackingID, "images", len(images))
	return domain.Result{
		"images":    images,
		"prompt_id": trackingID,
	}
}

func (o *ImageOrchestrator) ensureAssets(ctx context.Context, precision, credential string) (err error) {
	ctx, span := tracing.StartSpan(ctx, "assets.ensure", attribute.String("precision", precision))
	defer func() { tracing.End(span, err) }()

	descriptors, err := o.catalog.Profile(precision)
	if err != nil {
		return err
	}
	return o.assets.Ensure(ctx, descriptors, credential)
}

func (o *ImageOrchestrator) ensureBackend(ctx context.Context) (err error) {
	ctx, span := tracing.StartSpan(ctx, "backend.ready")
	defer func() { tracing.End(span, err) }()

	if o.supervisor.IsReady(ctx) {
		return nil
	}
	logger.WarnContext(ctx, "Backend not ready, starting it")
	if err := o.supervisor.Start(ctx); err != nil {
		if errors.Is(err, domain.ErrBackendUnready) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrBackendUnready, err)
	}
	return nil
}

func (o *ImageOrchestrator) submit(ctx context.Context, graph domain.Graph) (id string, err error) {
	ctx, span := tracing.StartSpan(ctx, "engine.submit", attribute.Int("nodes", len(graph)))
	defer func() { tracing.End(span, err) }()

	id, err = o.submitter.Submit(ctx, graph)
	if err == nil {
		logger.InfoContext(ctx, "Queued prompt", "prompt_id", id)
	}
	return id, err
}

func (o *ImageOrchestrator) poll(ctx context.Context, trackingID string) (rec *domain.Completion, err error) {
	ctx, span := tracing.StartSpan(ctx, "engine.poll", attribute.String("prompt_id", trackingID))
	defer func() { tracing.End(span, err) }()

	return o.waiter.PollUntilDone(ctx, trackingID)
}

func (o *ImageOrchestrator) extract(ctx context.Context, rec *domain.Completion) (images []domain.EncodedArtifact, err error) {
	ctx, span := tracing.StartSpan(ctx, "engine.extract")
	defer func() { tracing.End(span, err) }()

	return o.extractor.Extract(ctx, rec)
}

// archive copies images to the configured archive. Failures are logged only.
func (o *ImageOrchestrator) archive(ctx context.Context, jobID string, images []domain.EncodedArtifact) {
	if o.cfg.Archive == nil {
		return
	}
	ctx, span := tracing.StartSpan(ctx, "artifacts.archive", attribute.Int("images", len(images)))
	keys, err := o.cfg.Archive.Archive(ctx, jobID, images)
	tracing.End(span, err)
	if err != nil {
		metrics.RecordStageFailure("archive")
		logger.WarnContext(ctx, "Failed to archive images", "archived", len(keys), "error", err)
		return
	}
	logger.InfoContext(ctx, "Archived images", "keys", keys)
}

// fail logs a stage failure and shapes the error envelope.
func fail(ctx context.Context, stage string, err error) domain.Result {
	metrics.RecordStageFailure(stage)
	logger.ErrorContext(ctx, "Job failed", "stage", stage, "error", err)
	return domain.ErrorResult(domain.Message(err))
}
