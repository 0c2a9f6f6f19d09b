package ports

import (
	"context"

	"visualizer.worker/internal/core/domain"
)

type AssetStore interface {
	// Ensure makes every descriptor present on disk or returns *domain.AssetError.
	Ensure(ctx context.Context, assets []domain.AssetDescriptor, credential string) error
}

type Supervisor interface {
	Start(ctx context.Context) error
	IsReady(ctx context.Context) bool
	Stop(ctx context.Context) error
}

// Engine is the capability set of a graph inference backend.
type Engine interface {
	Submit(ctx context.Context, graph domain.Graph) (string, error)
	// Completion returns nil, nil while the tracking id has no history record.
	Completion(ctx context.Context, trackingID string) (*domain.Completion, error)
	Fetch(ctx context.Context, ref domain.ArtifactRef) ([]byte, error)
	Upload(ctx context.Context, name string, data []byte) (string, error)
}

type CompletionWaiter interface {
	PollUntilDone(ctx context.Context, trackingID string) (*domain.Completion, error)
}

type JobHandler interface {
	Kind() string
	Handle(ctx context.Context, job domain.Job) domain.Result
}

type JobQueue interface {
	Dequeue(ctx context.Context) (*domain.Job, error) // Blocking wait
	Complete(ctx context.Context, job *domain.Job, result domain.Result) error
}

type DeadLetterQueue interface {
	Add(ctx context.Context, job *domain.Job, reason string) error
}

type EventPublisher interface {
	PublishJobEvent(ctx context.Context, event domain.JobEvent) error
}

type EventPubSub interface {
	EventPublisher
	SubscribeJobEvents(ctx context.Context) (<-chan domain.JobEvent, error)
}

type RunRepository interface {
	Save(ctx context.Context, run *domain.Run) error
	// GetRun returns domain.ErrNotFound for an unknown id.
	GetRun(ctx context.Context, id string) (*domain.Run, error)
	ListRuns(ctx context.Context, offset, limit int) ([]*domain.Run, error)
	CountRuns(ctx context.Context) (int64, error)
}

// AssetCatalog resolves a deployment profile to its asset descriptors.
type AssetCatalog interface {
	Profile(name string) ([]domain.AssetDescriptor, error)
}

// ArtifactArchive copies finished artifacts to durable storage and returns their keys.
type ArtifactArchive interface {
	Archive(ctx context.Context, jobID string, artifacts []domain.EncodedArtifact) ([]string, error)
}

type Transcriber interface {
	// LoadModel switches the engine to the model file at path.
	LoadModel(ctx context.Context, path string) error
	Transcribe(ctx context.Context, req domain.TranscriptionRequest) (*domain.Transcription, error)
}

type TextGenerator interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (*domain.Generation, error)
}
