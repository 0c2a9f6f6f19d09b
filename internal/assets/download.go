package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"visualizer.worker/internal/core/domain"
	"visualizer.worker/internal/core/logger"
	"visualizer.worker/internal/core/metrics"
)

const partialSuffix = ".download"

var ErrCredentialRequired = errors.New("credential required")

// fetch streams one asset into <path>.download and renames it into place once the
// body was read completely.
func (s *Store) fetch(ctx context.Context, asset domain.AssetDescriptor, credential string) error {
	if asset.RemoteURL == "" {
		return fmt.Errorf("%s: no remote url", asset.Name)
	}
	if asset.RequiresAuth && credential == "" {
		return fmt.Errorf("%s: %w (set HF_TOKEN)", asset.Name, ErrCredentialRequired)
	}

	if err := os.MkdirAll(filepath.Dir(asset.LocalPath), 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}

	tmp := asset.LocalPath + partialSuffix
	_ = os.Remove(tmp)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, asset.RemoteURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	if asset.RequiresAuth {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	logger.InfoContext(ctx, "Downloading model", "name", asset.Name, "url", asset.RemoteURL, "auth", asset.RequiresAuth)

	resp, err := s.client.Do(req)
	if err != nil {
		metrics.RecordAssetDownload(false, 0)
		return fmt.Errorf("download %s: %w", asset.Name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		metrics.RecordAssetDownload(false, 0)
		return fmt.Errorf("download %s: unauthorized, check the Hugging Face token", asset.Name)
	case resp.StatusCode == http.StatusForbidden:
		metrics.RecordAssetDownload(false, 0)
		return fmt.Errorf("download %s: access forbidden, accept the model license on Hugging Face", asset.Name)
	case resp.StatusCode != http.StatusOK:
		metrics.RecordAssetDownload(false, 0)
		return fmt.Errorf("download %s: unexpected status %s", asset.Name, resp.Status)
	}

	out, err := os.Create(tmp)
	if err != nil {
		metrics.RecordAssetDownload(false, 0)
		return fmt.Errorf("create %s: %w", tmp, err)
	}

	written, copyErr := io.Copy(out, resp.Body)
	closeErr := out.Close()
	if copyErr == nil && closeErr == nil && resp.ContentLength > 0 && written != resp.ContentLength {
		copyErr = fmt.Errorf("incomplete body: got %d of %d bytes", written, resp.ContentLength)
	}
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp)
		metrics.RecordAssetDownload(false, 0)
		return fmt.Errorf("download %s: %w", asset.Name, errors.Join(copyErr, closeErr))
	}

	if err := os.Rename(tmp, asset.LocalPath); err != nil {
		_ = os.Remove(tmp)
		metrics.RecordAssetDownload(false, 0)
		return fmt.Errorf("move %s into place: %w", asset.Name, err)
	}

	metrics.RecordAssetDownload(true, written)
	logger.InfoContext(ctx, "Downloaded model", "name", asset.Name, "bytes", written)
	return nil
}
