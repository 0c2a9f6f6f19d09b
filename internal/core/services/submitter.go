package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"visualizer.worker/internal/core/domain"
	"visualizer.worker/internal/core/logger"
	"visualizer.worker/internal/core/ports"
)

// Nodes whose "image" input names a file in the engine's input folder.
var imageInputNodes = map[string]bool{
	"LoadImage":     true,
	"LoadImageMask": true,
}

// minInlineLen separates base64 payloads from file names.
const minInlineLen = 256

type Submitter struct {
	engine ports.Engine
}

func NewSubmitter(engine ports.Engine) *Submitter {
	return &Submitter{engine: engine}
}

// Submit uploads inline images referenced by the graph, rewrites their nodes to the
// uploaded names and queues the result. The caller's graph is not modified.
func (s *Submitter) Submit(ctx context.Context, graph domain.Graph) (string, error) {
	staged, err := s.stageInlineImages(ctx, graph)
	if err != nil {
		return "", err
	}
	return s.engine.Submit(ctx, staged)
}

func (s *Submitter) stageInlineImages(ctx context.Context, graph domain.Graph) (domain.Graph, error) {
	out := make(domain.Graph, len(graph))
	for id, node := range graph {
		out[id] = node
		if !imageInputNodes[node.ClassType] {
			continue
		}
		value, ok := node.Inputs["image"].(string)
		if !ok {
			continue
		}
		data, ext, inline := decodeInlineImage(value)
		if !inline {
			continue
		}

		name := fmt.Sprintf("inline-%s%s", uuid.NewString(), ext)
		uploaded, err := s.engine.Upload(ctx, name, data)
		if err != nil {
			return nil, fmt.Errorf("upload inline image for node %s: %w", id, err)
		}
		logger.DebugContext(ctx, "Staged inline image", "node", id, "name", uploaded, "bytes", len(data))

		inputs := make(map[string]any, len(node.Inputs))
		for k, v := range node.Inputs {
			inputs[k] = v
		}
		inputs["image"] = uploaded
		node.Inputs = inputs
		out[id] = node
	}
	return out, nil
}

// decodeInlineImage recognises data URLs and bare base64 payloads.
func decodeInlineImage(value string) ([]byte, string, bool) {
	ext := ".png"
	payload := value

	if strings.HasPrefix(value, "data:") {
		header, body, ok := strings.Cut(value, ",")
		if !ok || !strings.HasSuffix(header, ";base64") {
			return nil, "", false
		}
		switch {
		case strings.Contains(header, "image/jpeg"), strings.Contains(header, "image/jpg"):
			ext = ".jpg"
		case strings.Contains(header, "image/webp"):
			ext = ".webp"
		}
		payload = body
	} else if len(value) < minInlineLen {
		return nil, "", false
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", false
	}
	return data, ext, true
}
