package assets

import (
	"fmt"
	"os"
	"path/filepath"

	"visualizer.worker/internal/core/logger"
)

// LinkVolume prefers models kept on a network volume. When volumeDir exists it is
// symlinked to localDir and returned; otherwise localDir is created and returned.
// A non-empty real localDir is never replaced.
func LinkVolume(volumeDir, localDir string) (string, error) {
	if volumeDir == "" {
		return localDir, os.MkdirAll(localDir, 0o755)
	}

	info, err := os.Stat(volumeDir)
	if err != nil || !info.IsDir() {
		logger.Info("No model volume, using local models", "dir", localDir)
		return localDir, os.MkdirAll(localDir, 0o755)
	}

	if target, err := os.Readlink(localDir); err == nil {
		if filepath.Clean(target) == filepath.Clean(volumeDir) {
			return localDir, nil
		}
		if err := os.Remove(localDir); err != nil {
			return "", fmt.Errorf("remove stale link %s: %w", localDir, err)
		}
	} else if entries, err := os.ReadDir(localDir); err == nil {
		if len(entries) > 0 {
			logger.Warn("Local models dir is not empty, not linking volume", "local", localDir, "volume", volumeDir)
			return localDir, nil
		}
		if err := os.Remove(localDir); err != nil {
			return "", fmt.Errorf("remove empty %s: %w", localDir, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(localDir), 0o755); err != nil {
		return "", fmt.Errorf("create parent of %s: %w", localDir, err)
	}
	if err := os.Symlink(volumeDir, localDir); err != nil {
		return "", fmt.Errorf("link %s -> %s: %w", localDir, volumeDir, err)
	}
	logger.Info("Linked model volume", "local", localDir, "volume", volumeDir)
	return localDir, nil
}
