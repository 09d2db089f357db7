package crawler

import (
	"context"
	"io"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Transport performs one outbound request. When sink is non-nil the raw body
// is streamed into it and Response.Body is left empty.
type Transport interface {
	Send(ctx context.Context, req *Request, sink io.Writer) (*Response, error)
}

// DocumentParser turns markup into a queryable document.
type DocumentParser interface {
	Parse(ctx context.Context, html string, cfg DocumentConfig) (*goquery.Document, error)
}

// SeenStore reports whether an equivalent request was already seen, marking
// it as seen when it was not.
type SeenStore interface {
	Exists(spec Spec) (bool, error)
}

// CharsetDetector returns a charset label for a body, or "" when unsure.
type CharsetDetector interface {
	Detect(contentType string, sample []byte) string
}

// DownloadStore opens a writer for a download target.
type DownloadStore interface {
	Create(ctx context.Context, path string) (io.WriteCloser, error)
}

// Hasher computes digests used for derived download paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator produces request IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
