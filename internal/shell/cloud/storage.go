package cloud

import (
	"bytes"
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// =============================================================================
// Artifact Store (S3)
// =============================================================================

// S3Store implements ArtifactStore on an S3 bucket. Bundles above the
// inline size limit of the compute API are uploaded here and referenced
// by bucket/key.
type S3Store struct {
	api    *s3.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// NewS3Store wraps an SDK client targeting one bucket.
func NewS3Store(api *s3.Client, bucket, prefix string, logger *slog.Logger) *S3Store {
	return &S3Store{api: api, bucket: bucket, prefix: prefix, logger: logger.With("client", "s3")}
}

// Upload stores a bundle and returns the reference the compute API
// consumes.
func (s *S3Store) Upload(ctx context.Context, key string, blob []byte) (CodeRef, error) {
	fullKey := key
	if s.prefix != "" {
		fullKey = s.prefix + "/" + key
	}
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(fullKey),
		Body:   bytes.NewReader(blob),
	})
	if err != nil {
		return CodeRef{}, classify("PutObject", fullKey, err)
	}
	s.logger.Info("artifact uploaded", "bucket", s.bucket, "key", fullKey, "bytes", len(blob))
	return CodeRef{S3Bucket: s.bucket, S3Key: fullKey}, nil
}
