package crawler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// DefaultLimiter is the limiter key used when a request names none.
const DefaultLimiter = "default"

// EncodingMode selects how a response body is turned into text.
type EncodingMode int

// Encoding modes. EncodingInherit defers to Options.ForceUTF8.
const (
	EncodingInherit EncodingMode = iota
	// EncodingDetect sniffs the source charset and converts the body to UTF-8.
	EncodingDetect
	// EncodingAsGiven materializes the body as text without conversion.
	EncodingAsGiven
	// EncodingRaw leaves the body as bytes; no text and no document.
	EncodingRaw
)

func (m EncodingMode) String() string {
	switch m {
	case EncodingDetect:
		return "detect"
	case EncodingAsGiven:
		return "as-given"
	case EncodingRaw:
		return "raw"
	default:
		return "inherit"
	}
}

// DocumentKind enumerates the document capability variants.
type DocumentKind int

// Document kinds. DocumentInherit defers to Options.Document.
const (
	DocumentInherit DocumentKind = iota
	DocumentDisabled
	DocumentDefault
	DocumentEnvironment
)

// DocumentConfig is handed to the document capability unchanged.
type DocumentConfig struct {
	// NormalizeWhitespace collapses runs of whitespace before parsing.
	NormalizeWhitespace bool
	// Scripts are helper resources evaluated inside an emulated environment.
	Scripts []string
	// Timeout bounds environment emulation; zero means the parser default.
	Timeout time.Duration
}

// DocumentMode is a closed set of variants chosen once during normalization.
type DocumentMode struct {
	Kind   DocumentKind
	Config DocumentConfig
}

// NoDocument disables document parsing.
func NoDocument() DocumentMode { return DocumentMode{Kind: DocumentDisabled} }

// DefaultDocument parses markup with the default parser.
func DefaultDocument(cfg DocumentConfig) DocumentMode {
	return DocumentMode{Kind: DocumentDefault, Config: cfg}
}

// EnvironmentDocument parses markup inside a full environment emulation.
func EnvironmentDocument(cfg DocumentConfig) DocumentMode {
	return DocumentMode{Kind: DocumentEnvironment, Config: cfg}
}

// Enabled reports whether a document should be produced.
func (m DocumentMode) Enabled() bool {
	return m.Kind == DocumentDefault || m.Kind == DocumentEnvironment
}

// DownloadKind enumerates download targets.
type DownloadKind int

// Download kinds. DownloadInherit defers to Options.Download.
const (
	DownloadInherit DownloadKind = iota
	DownloadOff
	DownloadFile
	DownloadHashed
)

// Download describes where a raw response body is persisted.
type Download struct {
	Kind DownloadKind
	// Path is used when Kind is DownloadFile.
	Path string
}

// SaveTo persists the body at path.
func SaveTo(path string) Download { return Download{Kind: DownloadFile, Path: path} }

// SaveHashed persists the body under the md5 hex of the request address.
func SaveHashed() Download { return Download{Kind: DownloadHashed} }

// Enabled reports whether the body should be written to a sink.
func (d Download) Enabled() bool {
	return d.Kind == DownloadFile || d.Kind == DownloadHashed
}

// Spec is the cloneable part of a request. It carries plain data only, so a
// Clone is always safe to hand to a retry or a transport.
type Spec struct {
	// ID identifies the logical request; the engine assigns one when empty.
	ID  string
	URI string
	// URL is an alias for URI; it is copied over during normalization.
	URL     string
	Method  string
	Headers http.Header
	Body    []byte
	Form    url.Values
	// JSONBody holds the encoded JSON payload. A request with a JSON payload
	// produces a structured response whose body is not turned into text.
	JSONBody json.RawMessage

	Priority   *int
	Limiter    string
	Retries    *int
	RetryDelay *time.Duration
	Timeout    time.Duration

	Encoding         EncodingMode
	IncomingEncoding string
	Document         DocumentMode
	Download         Download
	SkipDuplicates   *bool

	// HTML bypasses the transport and is post-processed as the body.
	HTML string

	UserAgent  string
	UserAgents []string
	RotateUA   *bool
	Referer    string
	Proxy      string
	Proxies    []string
	Cookie     string
}

// Clone returns a deep copy of s.
func (s Spec) Clone() Spec {
	out := s
	out.Headers = s.Headers.Clone()
	if s.Body != nil {
		out.Body = append([]byte(nil), s.Body...)
	}
	if s.Form != nil {
		out.Form = url.Values{}
		for k, v := range s.Form {
			out.Form[k] = append([]string(nil), v...)
		}
	}
	if s.JSONBody != nil {
		out.JSONBody = append(json.RawMessage(nil), s.JSONBody...)
	}
	out.Priority = clonePtr(s.Priority)
	out.Retries = clonePtr(s.Retries)
	out.RetryDelay = clonePtr(s.RetryDelay)
	out.SkipDuplicates = clonePtr(s.SkipDuplicates)
	out.RotateUA = clonePtr(s.RotateUA)
	out.Document.Config.Scripts = cloneStrings(s.Document.Config.Scripts)
	out.UserAgents = cloneStrings(s.UserAgents)
	out.Proxies = cloneStrings(s.Proxies)
	return out
}

// Structured reports whether the request carries a JSON payload.
func (s Spec) Structured() bool { return len(s.JSONBody) > 0 }

// Request is what callers submit: the cloneable Spec plus the fields that
// never travel through a clone.
type Request struct {
	Spec
	// JSON is encoded into Spec.JSONBody during normalization.
	JSON any
	// Jar is a shared entity; every attempt sees this exact jar.
	Jar http.CookieJar
	// ResolveURI, when set, supplies the address at execution time.
	ResolveURI func(ctx context.Context) (string, error)
	// Callback is invoked exactly once with the outcome.
	Callback Callback
}

// Callback receives the outcome of a request. resp is never nil; on failure
// it carries at least the attempted request.
type Callback func(resp *Response, err error)

// Response is the outcome handed to a Callback.
type Response struct {
	// Request is the attempt that produced this response.
	Request    *Request
	URL        string
	StatusCode int
	Header     http.Header
	// Body holds the bytes after charset conversion.
	Body []byte
	// Text is the materialized body; empty for raw or structured responses.
	Text string
	// Charset is the source charset when conversion was attempted.
	Charset    string
	Structured bool
	// Document is set when the body looked like markup and parsing was enabled.
	Document *goquery.Document
	// DownloadPath is set when the body was written to a download sink.
	DownloadPath string
}

// Decode unmarshals a structured body into v.
func (r *Response) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Int returns a pointer to v, for optional Spec fields.
func Int(v int) *int { return &v }

// Bool returns a pointer to v, for optional Spec fields.
func Bool(v bool) *bool { return &v }

// Duration returns a pointer to v, for optional Spec fields.
func Duration(v time.Duration) *time.Duration { return &v }

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
