// Package gcs archives raw query responses to Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
)

// Archiver implements monitor.Archiver on a GCS bucket. Authentication uses
// Application Default Credentials.
type Archiver struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates the client and verifies the bucket is reachable, failing fast on
// misconfiguration.
func New(ctx context.Context, bucket string, prefix string) (*Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("bucket %q attrs: %w", bucket, err)
	}
	return &Archiver{client: client, bucket: bucket, prefix: prefix}, nil
}

// PutObject uploads data and returns its gs:// URI.
func (a *Archiver) PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error) {
	object := path
	if a.prefix != "" {
		object = a.prefix + "/" + path
	}

	wc := a.client.Bucket(a.bucket).Object(object).NewWriter(ctx)
	wc.ContentType = contentType
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return "", fmt.Errorf("write object %s: %w", object, err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("finalize object %s: %w", object, err)
	}
	return fmt.Sprintf("gs://%s/%s", a.bucket, object), nil
}

// Close releases the client.
func (a *Archiver) Close() error {
	if err := a.client.Close(); err != nil {
		return fmt.Errorf("close gcs client: %w", err)
	}
	return nil
}
