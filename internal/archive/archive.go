// Package archive stores raw submitted documents in a GCS bucket and
// retrieves gs:// inputs for bulk ingestion. Archival is best-effort: the
// pipeline records a warning and continues when an upload fails.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// ErrObjectNotFound reports a fetch for an object that does not exist.
var ErrObjectNotFound = errors.New("object not found")

// uploadTimeout bounds a single object upload.
const uploadTimeout = 2 * time.Minute

// Store archives documents in one GCS bucket.
type Store struct {
	client *storage.Client
	bucket string
}

// New creates a Store with a fresh storage client. It assumes Application
// Default Credentials are configured.
func New(ctx context.Context, bucket string) (*Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("New: bucket name is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("New: create storage client: %w", err)
	}
	return NewWithClient(client, bucket), nil
}

// NewWithClient creates a Store around an existing client. The caller keeps
// ownership of the client unless Close is used.
func NewWithClient(client *storage.Client, bucket string) *Store {
	return &Store{client: client, bucket: bucket}
}

// Upload writes content under the given object name and returns the gs://
// URI of the stored object.
func (s *Store) Upload(ctx context.Context, name string, content []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	if _, err := io.Copy(w, bytes.NewReader(content)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("Upload: copy to GCS writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("Upload: finalize upload: %w", err)
	}

	return fmt.Sprintf("gs://%s/%s", s.bucket, name), nil
}

// Fetch downloads the object bytes behind a gs:// URI. The URI may point at
// any bucket, not just the archive bucket.
func (s *Store) Fetch(ctx context.Context, uri string) ([]byte, error) {
	bucket, object, err := ParseURI(uri)
	if err != nil {
		return nil, fmt.Errorf("Fetch: %w", err)
	}

	rc, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("Fetch: %s: %w", uri, ErrObjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("Fetch: open %s: %w", uri, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("Fetch: read %s: %w", uri, err)
	}
	return data, nil
}

// Close releases the underlying storage client.
func (s *Store) Close() error {
	return s.client.Close()
}

// ParseURI splits a gs://bucket/object URI.
func ParseURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("ParseURI: invalid GCS URI: %s", uri)
	}
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("ParseURI: invalid GCS URI (no object path): %s", uri)
	}
	return parts[0], parts[1], nil
}

// Filename extracts the base filename from a gs:// URI, e.g.
// "gs://bucket/folder/receipt.pdf" yields "receipt.pdf".
func Filename(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}
