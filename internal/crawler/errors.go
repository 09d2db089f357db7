package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineClosed is returned for work that could not be admitted because
	// the engine was closed.
	ErrEngineClosed = errors.New("crawler: engine closed")
	// ErrNoAddress marks a request without URI, URL, HTML or ResolveURI.
	ErrNoAddress = errors.New("crawler: request has no address")
	// ErrNoEnvironment is returned when environment emulation is requested
	// but no environment parser is configured.
	ErrNoEnvironment = errors.New("crawler: no environment document parser configured")
	// ErrNoDownloadStore is returned when a download is requested without a sink.
	ErrNoDownloadStore = errors.New("crawler: no download store configured")
)

// AdmissionError reports a pool or limiter acquisition failure. It is never retried.
type AdmissionError struct {
	Limiter string
	Err     error
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("admission on limiter %q: %v", e.Limiter, e.Err)
}

func (e *AdmissionError) Unwrap() error { return e.Err }

// TransportError reports a failed transport call after the retry budget ran out.
type TransportError struct {
	URI      string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.URI, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// EncodingError reports a charset conversion failure. It is never retried.
type EncodingError struct {
	Charset string
	Err     error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("convert from %s: %v", e.Charset, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// DocumentError reports a document capability failure. The response that
// failed to parse is still delivered alongside it.
type DocumentError struct {
	Kind DocumentKind
	Err  error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("document parse: %v", e.Err)
}

func (e *DocumentError) Unwrap() error { return e.Err }

// ValidationError reports a malformed queue entry. Such entries are dropped.
type ValidationError struct {
	Index  int
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("queue entry %d (%T): %s", e.Index, e.Value, e.Reason)
}

// CloneError reports a request that could not be made clone-safe.
type CloneError struct {
	Field string
	Err   error
}

func (e *CloneError) Error() string {
	return fmt.Sprintf("clone request field %s: %v", e.Field, e.Err)
}

func (e *CloneError) Unwrap() error { return e.Err }

// DownloadError reports a failure writing to the download sink. It is never retried.
type DownloadError struct {
	Path string
	Err  error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download to %s: %v", e.Path, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }
