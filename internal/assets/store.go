// Package assets makes model files present on local disk before a job runs.
package assets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"visualizer.worker/internal/core/domain"
	"visualizer.worker/internal/core/logger"
)

// ErrPathIsDir reports a descriptor whose local path names a directory.
var ErrPathIsDir = errors.New("local path is a directory")

// Store downloads missing assets and verifies them against their minimum size.
type Store struct {
	client    *http.Client
	userAgent string
}

// NewStore creates a Store. A nil client gets one without an overall timeout,
// since model files take minutes to stream.
func NewStore(client *http.Client) *Store {
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 60 * time.Second,
				IdleConnTimeout:       90 * time.Second,
			},
		}
	}
	return &Store{client: client, userAgent: "visualizer-worker/1.0"}
}

// State reports whether the asset file is present, missing or below its minimum size.
func (s *Store) State(asset domain.AssetDescriptor) domain.AssetState {
	info, err := os.Stat(asset.LocalPath)
	if err != nil {
		return domain.AssetMissing
	}
	if info.IsDir() || info.Size() < asset.MinBytes {
		return domain.AssetCorrupt
	}
	return domain.AssetPresent
}

// Ensure makes every asset present. Missing files are downloaded, then all files are
// re-scanned and those missing or below MinBytes are removed and fetched once more.
// Files that still fail verification are deleted and reported in an *domain.AssetError.
func (s *Store) Ensure(ctx context.Context, assets []domain.AssetDescriptor, credential string) error {
	for _, asset := range assets {
		if info, err := os.Stat(asset.LocalPath); err == nil && info.IsDir() {
			return fmt.Errorf("%s at %s: %w: %w", asset.Name, asset.LocalPath, ErrPathIsDir, domain.ErrAssetUnavailable)
		}
	}

	for _, asset := range assets {
		if _, err := os.Stat(asset.LocalPath); err == nil {
			logger.DebugContext(ctx, "Model present", "name", asset.Name)
			continue
		}
		if err := s.fetch(ctx, asset, credential); err != nil {
			logger.WarnContext(ctx, "Model download failed", "name", asset.Name, "error", err)
		}
	}

	var retry []domain.AssetDescriptor
	for _, asset := range assets {
		switch s.State(asset) {
		case domain.AssetPresent:
			continue
		case domain.AssetCorrupt:
			logger.WarnContext(ctx, "Model below minimum size, removing", "name", asset.Name, "min_bytes", asset.MinBytes)
			_ = os.Remove(asset.LocalPath)
		}
		retry = append(retry, asset)
	}

	var failed []string
	for _, asset := range retry {
		if err := s.fetch(ctx, asset, credential); err != nil {
			logger.WarnContext(ctx, "Model retry failed", "name", asset.Name, "error", err)
		}
		switch s.State(asset) {
		case domain.AssetPresent:
			continue
		case domain.AssetCorrupt:
			_ = os.Remove(asset.LocalPath)
		}
		failed = append(failed, asset.Name)
	}

	if len(failed) > 0 {
		return &domain.AssetError{Failed: failed}
	}
	return nil
}
