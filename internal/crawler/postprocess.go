package crawler

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	htmlcharset "golang.org/x/net/html/charset"
)

const sniffLen = 1024

var markupPrefix = regexp.MustCompile(`^\s*<`)

// postProcess normalizes the body encoding and, for markup, attaches a
// document. The returned error is an *EncodingError or *DocumentError.
func (e *Engine) postProcess(ctx context.Context, resp *Response) error {
	req := resp.Request
	if resp.Body == nil {
		resp.Body = []byte{}
	}
	resp.Structured = req.Structured()

	switch req.Encoding {
	case EncodingRaw:
		return nil
	case EncodingDetect:
		if err := e.convert(resp); err != nil {
			return err
		}
	}
	if resp.Structured {
		return nil
	}
	resp.Text = string(resp.Body)

	if !req.Document.Enabled() || req.Method == http.MethodHead || !markupPrefix.MatchString(resp.Text) {
		return nil
	}
	parser := e.deps.Parser
	if req.Document.Kind == DocumentEnvironment {
		parser = e.deps.Environment
	}
	if parser == nil {
		return &DocumentError{Kind: req.Document.Kind, Err: ErrNoEnvironment}
	}
	doc, err := parser.Parse(ctx, resp.Text, req.Document.Config)
	if err != nil {
		return &DocumentError{Kind: req.Document.Kind, Err: err}
	}
	resp.Document = doc
	return nil
}

// convert decodes resp.Body into UTF-8 when its charset is anything else.
func (e *Engine) convert(resp *Response) error {
	label := resp.Request.IncomingEncoding
	if label == "" {
		sample := resp.Body
		if len(sample) > sniffLen {
			sample = sample[:sniffLen]
		}
		label = e.deps.Charset.Detect(resp.Header.Get("Content-Type"), sample)
	}
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" {
		label = "utf-8"
	}
	resp.Charset = label
	if passThroughCharset(label) {
		return nil
	}
	enc, name := htmlcharset.Lookup(label)
	if enc == nil {
		return &EncodingError{Charset: label, Err: errors.New("unsupported charset")}
	}
	if name == "utf-8" {
		return nil
	}
	out, err := enc.NewDecoder().Bytes(resp.Body)
	if err != nil {
		return &EncodingError{Charset: label, Err: err}
	}
	resp.Body = out
	return nil
}

func passThroughCharset(label string) bool {
	switch label {
	case "utf-8", "utf8", "ascii", "us-ascii":
		return true
	default:
		return false
	}
}

// markupParser is the fallback default parser.
type markupParser struct{}

func (markupParser) Parse(_ context.Context, html string, _ DocumentConfig) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}
