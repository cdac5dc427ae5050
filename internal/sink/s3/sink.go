// Package s3 implements the durable blob sink on AWS S3.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Sink writes JSONL payloads to an S3 bucket.
type Sink struct {
	client *s3.Client
	bucket string
}

// New builds a Sink using the default AWS credential chain and verifies
// bucket access so misconfiguration fails at startup, not mid-flush.
func New(ctx context.Context, bucket string) (*Sink, error) {
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return nil, fmt.Errorf("head bucket %q: %w", bucket, err)
	}

	return &Sink{client: client, bucket: bucket}, nil
}

// NewWithClient builds a Sink over an existing client, for tests.
func NewWithClient(client *s3.Client, bucket string) *Sink {
	return &Sink{client: client, bucket: bucket}
}

// Put uploads one object. S3 PutObject is all-or-nothing, which is
// exactly the ack-or-error contract the batch writer needs.
func (s *Sink) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(name),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", name, err)
	}
	return nil
}
