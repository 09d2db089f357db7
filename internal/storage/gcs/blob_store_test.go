package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.ErrorContains(t, err, "client")

	_, err = New(&storage.Client{}, Config{})
	require.ErrorContains(t, err, "bucket")
}

func TestObjectNames(t *testing.T) {
	t.Parallel()

	s := &BlobStore{bucket: "downloads", prefix: "runs"}
	require.Equal(t, "gs://downloads/runs/a/b.html", s.URI("/a/b.html"))
	require.Empty(t, s.URI(""))

	s.prefix = ""
	name, err := s.objectName("x.bin")
	require.NoError(t, err)
	require.Equal(t, "x.bin", name)

	_, err = s.Create(context.Background(), "  ")
	require.Error(t, err)
}
