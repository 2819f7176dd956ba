package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/commentingestflow/internal/store"
	"google.golang.org/api/googleapi"
)

// GetEnv is a helper to read an environment variable or return a default value.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

// GetEnvInt reads an integer environment variable.
func GetEnvInt(key string, fallback int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return v, nil
}

// GetEnvDuration reads a duration environment variable such as "90s" or "2h".
func GetEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration: %w", key, err)
	}
	return v, nil
}

// BlobStore is a store.Blobs backed by one GCS bucket.
type BlobStore struct {
	bucket *storage.BucketHandle
	name   string
}

var _ store.Blobs = (*BlobStore)(nil)

// NewBlobStore returns a BlobStore for the named bucket.
func NewBlobStore(client *storage.Client, bucket string) *BlobStore {
	return &BlobStore{bucket: client.Bucket(bucket), name: bucket}
}

// Write replaces the object at key. GCS finalizes an object only when the
// writer closes, so a failed write never leaves a partial object behind.
func (b *BlobStore) Write(ctx context.Context, key, contentType string, data []byte) error {
	writer := b.bucket.Object(key).NewWriter(ctx)
	writer.ContentType = contentType

	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		_ = writer.Close()
		slog.Error("Failed to copy content to GCS object", "object", key, "error", err)
		return fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := writer.Close(); err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			slog.Error("GCS rejected object write", "object", key, "code", gerr.Code, "error", err)
		}
		return fmt.Errorf("failed to finalize GCS write for %s: %w", key, err)
	}
	return nil
}

// Read returns the object's content, or store.ErrNotFound.
func (b *BlobStore) Read(ctx context.Context, key string) ([]byte, error) {
	reader, err := b.bucket.Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("gs://%s/%s: %w", b.name, key, store.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get GCS object reader for gs://%s/%s: %w", b.name, key, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read gs://%s/%s: %w", b.name, key, err)
	}
	return data, nil
}

// URI returns the gs:// URI of key.
func (b *BlobStore) URI(key string) string {
	return fmt.Sprintf("gs://%s/%s", b.name, key)
}
