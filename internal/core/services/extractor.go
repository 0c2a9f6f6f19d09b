package services

import (
	"context"
	"encoding/base64"

	"visualizer.worker/internal/core/domain"
	"visualizer.worker/internal/core/logger"
	"visualizer.worker/internal/core/ports"
)

type Extractor struct {
	engine ports.Engine
}

func NewExtractor(engine ports.Engine) *Extractor {
	return &Extractor{engine: engine}
}

// Extract fetches every image listed by the output nodes. Artifacts that cannot be
// fetched are skipped; none fetched at all is domain.ErrNoArtifacts.
func (e *Extractor) Extract(ctx context.Context, rec *domain.Completion) ([]domain.EncodedArtifact, error) {
	var artifacts []domain.EncodedArtifact
	for _, nodeID := range rec.NodeIDs() {
		for _, ref := range rec.Outputs[nodeID].Images {
			if ref.Type == "" {
				ref.Type = "output"
			}
			data, err := e.engine.Fetch(ctx, ref)
			if err != nil || len(data) == 0 {
				logger.WarnContext(ctx, "Skipping artifact", "node", nodeID, "filename", ref.Filename, "error", err)
				continue
			}
			artifacts = append(artifacts, domain.EncodedArtifact{
				Type:     "base64",
				Data:     base64.StdEncoding.EncodeToString(data),
				Filename: ref.Filename,
			})
		}
	}

	if len(artifacts) == 0 {
		return nil, domain.ErrNoArtifacts
	}
	return artifacts, nil
}
