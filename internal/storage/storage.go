// Package storage provides read-only object sources for configuration
// documents such as the tier catalog.
//
// Implementations:
// - LocalSource: reads files under a base directory
// - R2Source: reads objects from a Cloudflare R2 (S3-compatible) bucket
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Source opens stored documents by key.
type Source interface {
	// Open returns the object at key. The caller must close it.
	// Returns ErrNotFound if the key doesn't exist.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// =============================================================================
// Configuration Types
// =============================================================================

// LocalConfig holds configuration for a filesystem source.
type LocalConfig struct {
	// BasePath is the directory keys are resolved against.
	// Example: "./config" or "/etc/sitegate"
	BasePath string
}

// R2Config holds configuration for Cloudflare R2.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string

	// Region is required by the AWS SDK. R2 accepts "auto".
	Region string

	// Endpoint overrides the account endpoint. Used for S3-compatible
	// gateways and tests.
	Endpoint string
}

// =============================================================================
// Provider Constants
// =============================================================================

const (
	// ProviderLocal identifies the local filesystem source.
	ProviderLocal = "local"

	// ProviderR2 identifies the Cloudflare R2 source.
	ProviderR2 = "r2"
)

// New builds the source named by provider.
func New(provider string, local LocalConfig, r2 R2Config, logger *slog.Logger) (Source, error) {
	switch provider {
	case ProviderLocal:
		return NewLocalSource(local, logger)
	case ProviderR2:
		return NewR2Source(r2, logger)
	default:
		return nil, fmt.Errorf("unknown storage provider %q", provider)
	}
}
