// Package gcs provides a download store backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/fetchqueue/internal/crawler"
)

// Config captures the parameters required to write to GCS.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	// Prefix is prepended to every object name.
	Prefix string `mapstructure:"prefix"`
}

// BlobStore streams downloads into a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
	prefix string
}

var _ crawler.DownloadStore = (*BlobStore)(nil)

// New creates a GCS-backed store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Create returns a writer for the object at path. The upload is committed
// when the writer is closed; ctx bounds the whole upload.
func (s *BlobStore) Create(ctx context.Context, path string) (io.WriteCloser, error) {
	name, err := s.objectName(path)
	if err != nil {
		return nil, err
	}
	return s.client.Bucket(s.bucket).Object(name).NewWriter(ctx), nil
}

// URI returns the gs:// location of path.
func (s *BlobStore) URI(path string) string {
	name, err := s.objectName(path)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, name)
}

func (s *BlobStore) objectName(path string) (string, error) {
	path = strings.TrimLeft(strings.TrimSpace(path), "/")
	if path == "" {
		return "", errors.New("path is required")
	}
	if s.prefix == "" {
		return path, nil
	}
	return s.prefix + "/" + path, nil
}
