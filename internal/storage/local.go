package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// =============================================================================
// LocalSource Implementation
// =============================================================================

// LocalSource reads documents from the local filesystem.
//
// Security: keys are confined to the base directory by resolvePath().
type LocalSource struct {
	basePath string
	logger   *slog.Logger
}

// NewLocalSource creates a LocalSource rooted at cfg.BasePath.
// The directory must exist.
func NewLocalSource(cfg LocalConfig, logger *slog.Logger) (*LocalSource, error) {
	absPath, err := filepath.Abs(cfg.BasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat storage directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage path %s is not a directory", absPath)
	}

	logger.Info("initialized local storage source", "base_path", absPath)

	return &LocalSource{
		basePath: absPath,
		logger:   logger,
	}, nil
}

// Open returns the file at key.
func (s *LocalSource) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	filePath, err := s.resolvePath(key)
	if err != nil {
		return nil, &StorageError{Op: "Open", Key: key, Err: err}
	}

	file, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &StorageError{Op: "Open", Key: key, Err: ErrNotFound}
		}
		if errors.Is(err, fs.ErrPermission) {
			return nil, &StorageError{Op: "Open", Key: key, Err: ErrAccessDenied}
		}
		return nil, &StorageError{Op: "Open", Key: key, Err: fmt.Errorf("failed to open file: %w", err)}
	}

	s.logger.Debug("opened file", "key", key, "path", filePath)
	return file, nil
}

// =============================================================================
// Internal Helpers
// =============================================================================

// resolvePath converts a key to an absolute path inside the base directory.
func (s *LocalSource) resolvePath(key string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}

	cleanKey := filepath.Clean(key)
	if filepath.IsAbs(cleanKey) || strings.Contains(cleanKey, "..") {
		return "", ErrInvalidKey
	}

	absPath := filepath.Join(s.basePath, cleanKey)
	if !strings.HasPrefix(absPath, s.basePath+string(filepath.Separator)) {
		return "", ErrInvalidKey
	}

	return absPath, nil
}
