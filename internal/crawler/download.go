package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// downloadPath resolves where the raw body of req is written.
func (e *Engine) downloadPath(req *Request) (string, error) {
	switch req.Download.Kind {
	case DownloadFile:
		if req.Download.Path == "" {
			return "", errors.New("download path is empty")
		}
		return req.Download.Path, nil
	case DownloadHashed:
		sum, err := e.deps.Hasher.Hash([]byte(req.URI))
		if err != nil {
			return "", fmt.Errorf("hash download path: %w", err)
		}
		return sum, nil
	default:
		return "", errors.New("download not requested")
	}
}

func (e *Engine) openDownload(ctx context.Context, req *Request) (string, io.WriteCloser, error) {
	path, err := e.downloadPath(req)
	if err != nil {
		return "", nil, &DownloadError{Path: path, Err: err}
	}
	if e.deps.Downloads == nil {
		return path, nil, &DownloadError{Path: path, Err: ErrNoDownloadStore}
	}
	w, err := e.deps.Downloads.Create(ctx, path)
	if err != nil {
		return path, nil, &DownloadError{Path: path, Err: err}
	}
	return path, w, nil
}
