package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// =============================================================================
// R2Source Implementation
// =============================================================================

// R2Source reads objects from Cloudflare R2.
// R2 is S3-compatible, so we use the AWS SDK v2 with a custom endpoint.
type R2Source struct {
	client     *s3.Client
	bucketName string
	logger     *slog.Logger
}

// NewR2Source creates an R2Source.
//
// The endpoint is derived from the account ID unless cfg.Endpoint is set.
func NewR2Source(cfg R2Config, logger *slog.Logger) (*R2Source, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("r2: bucket name is required")
	}

	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		if cfg.AccountID == "" {
			return nil, errors.New("r2: account id or endpoint is required")
		}
		// Format: https://{account_id}.r2.cloudflarestorage.com
		endpoint = fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	}

	creds := credentials.NewStaticCredentialsProvider(
		cfg.AccessKeyID,
		cfg.SecretAccessKey,
		"", // session token not needed for R2
	)

	client := s3.NewFromConfig(aws.Config{
		Region:      region,
		Credentials: creds,
	}, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(strings.TrimSuffix(endpoint, "/"))
		o.UsePathStyle = true
	})

	logger.Info("initialized R2 storage source",
		"bucket", cfg.BucketName,
		"endpoint", endpoint,
	)

	return &R2Source{
		client:     client,
		bucketName: cfg.BucketName,
		logger:     logger,
	}, nil
}

// Open fetches the object at key.
func (s *R2Source) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if key == "" || strings.Contains(key, "..") {
		return nil, &StorageError{Op: "Open", Key: key, Err: ErrInvalidKey}
	}

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, &StorageError{Op: "Open", Key: key, Err: wrapS3Error(err)}
	}

	s.logger.Debug("opened R2 object",
		"key", key,
		"etag", aws.ToString(result.ETag),
		"size", aws.ToInt64(result.ContentLength),
	)
	return result.Body, nil
}

// =============================================================================
// Internal Helpers
// =============================================================================

// wrapS3Error converts S3 SDK errors to storage sentinels.
func wrapS3Error(err error) error {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return ErrNotFound
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return ErrNotFound
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return ErrNotFound
		case "AccessDenied", "Forbidden":
			return ErrAccessDenied
		}
	}

	var httpErr interface{ HTTPStatusCode() int }
	if errors.As(err, &httpErr) {
		switch httpErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return ErrNotFound
		case http.StatusForbidden:
			return ErrAccessDenied
		}
	}

	return fmt.Errorf("R2 operation failed: %w", err)
}
