// Package gcs implements the durable blob sink on Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
)

// Sink writes JSONL payloads to a GCS bucket.
type Sink struct {
	client *storage.Client
	bucket string
	logger *zap.Logger
}

// New initializes a GCS client and verifies the bucket exists.
// Authentication is handled via Application Default Credentials.
func New(ctx context.Context, bucket string, logger *zap.Logger) (*Sink, error) {
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}

	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close gcs client after failed bucket check", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("get gcs bucket %q attributes: %w", bucket, err)
	}

	return &Sink{client: client, bucket: bucket, logger: logger}, nil
}

// Put uploads one object. Close finalizes the upload; an error from
// either Write or Close means the object was not durably stored.
func (s *Sink) Put(ctx context.Context, name string, data []byte) error {
	wc := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	wc.ContentType = "application/x-ndjson"

	if _, err := wc.Write(data); err != nil {
		if closeErr := wc.Close(); closeErr != nil {
			s.logger.Warn("close gcs writer after write failure", zap.Error(closeErr))
		}
		return fmt.Errorf("write gcs object %s: %w", name, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("close gcs writer for object %s: %w", name, err)
	}
	return nil
}

// Close releases the underlying client.
func (s *Sink) Close() error {
	return s.client.Close()
}
